package lookupinput

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"breachvip/internal/breachvip"
	"breachvip/internal/services"
)

// Format names an input encoding.
type Format string

const (
	FormatAuto  Format = ""
	FormatYAML  Format = "yaml"
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatText  Format = "text"
)

// Stdin is the path that selects standard input.
const Stdin = "-"

type options struct {
	defaultFields []string
	stdin         io.Reader
}

// Option customizes parsing.
type Option func(*options)

// WithDefaultFields sets the fields given to entries that name none.
func WithDefaultFields(fields []string) Option {
	return func(o *options) {
		o.defaultFields = append([]string(nil), fields...)
	}
}

// WithStdin overrides the reader used for the "-" path.
func WithStdin(r io.Reader) Option {
	return func(o *options) {
		o.stdin = r
	}
}

// FormatForPath picks a format from a file extension. Unknown extensions and
// stdin are detected from content.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".json":
		return FormatJSON
	case ".jsonl", ".ndjson":
		return FormatJSONL
	case ".txt", ".lst":
		return FormatText
	default:
		return FormatAuto
	}
}

// LoadFile reads requests from path, or from stdin when path is "-".
func LoadFile(path string, opts ...Option) ([]breachvip.LookupRequest, error) {
	o := buildOptions(opts)
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, services.Wrap(services.ErrValidation, "input", "load", "input path is empty", nil)
	}
	if path == Stdin {
		return Parse(o.stdin, FormatAuto, opts...)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input %s: %w", path, err)
	}
	defer f.Close()
	requests, err := Parse(f, FormatForPath(path), opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return requests, nil
}

// Parse decodes requests from r in the given format. FormatAuto sniffs the
// content.
func Parse(r io.Reader, format Format, opts ...Option) ([]breachvip.LookupRequest, error) {
	o := buildOptions(opts)
	if r == nil {
		return nil, services.Wrap(services.ErrValidation, "input", "parse", "no input reader", nil)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	if format == FormatAuto {
		format = detectFormat(data)
	}

	var entries []entry
	switch format {
	case FormatYAML:
		entries, err = parseYAML(data)
	case FormatJSON:
		entries, err = parseJSON(data)
	case FormatJSONL:
		entries, err = parseJSONLines(data)
	case FormatText:
		entries, err = parseText(data)
	default:
		return nil, services.Wrap(services.ErrValidation, "input", "parse", fmt.Sprintf("unsupported format %q", format), nil)
	}
	if err != nil {
		return nil, err
	}
	return finalize(entries, o.defaultFields), nil
}

func buildOptions(opts []Option) options {
	o := options{stdin: os.Stdin}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

func detectFormat(data []byte) Format {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return FormatText
	}
	switch trimmed[0] {
	case '[':
		return FormatJSON
	case '{':
		if json.Valid(trimmed) {
			return FormatJSON
		}
		return FormatJSONL
	}
	first, _, _ := bytes.Cut(trimmed, []byte("\n"))
	first = bytes.TrimSpace(first)
	if bytes.HasPrefix(first, []byte("---")) || bytes.HasPrefix(first, []byte("- ")) || bytes.HasPrefix(first, []byte("requests:")) || bytes.HasPrefix(first, []byte("defaults:")) {
		return FormatYAML
	}
	return FormatText
}

// entry accepts either a bare term string or a request object.
type entry breachvip.LookupRequest

func (e *entry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*e = entry{Term: node.Value}
		return nil
	}
	var req breachvip.LookupRequest
	if err := node.Decode(&req); err != nil {
		return err
	}
	*e = entry(req)
	return nil
}

func (e *entry) UnmarshalJSON(data []byte) error {
	var term string
	if err := json.Unmarshal(data, &term); err == nil {
		*e = entry{Term: term}
		return nil
	}
	var req breachvip.LookupRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return err
	}
	*e = entry(req)
	return nil
}

type document struct {
	Defaults struct {
		Fields []string `yaml:"fields" json:"fields"`
	} `yaml:"defaults" json:"defaults"`
	Requests []entry `yaml:"requests" json:"requests"`
}

func parseYAML(data []byte) ([]entry, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, services.Wrap(services.ErrValidation, "input", "parse yaml", "", err)
	}
	if len(root.Content) == 0 {
		return nil, nil
	}
	body := root.Content[0]
	switch body.Kind {
	case yaml.SequenceNode:
		var entries []entry
		if err := body.Decode(&entries); err != nil {
			return nil, services.Wrap(services.ErrValidation, "input", "parse yaml", "", err)
		}
		return entries, nil
	case yaml.MappingNode:
		var doc document
		if err := body.Decode(&doc); err != nil {
			return nil, services.Wrap(services.ErrValidation, "input", "parse yaml", "", err)
		}
		return applyDocumentDefaults(doc), nil
	default:
		return nil, services.Wrap(services.ErrValidation, "input", "parse yaml", "expected a list or a requests mapping", nil)
	}
}

func parseJSON(data []byte) ([]entry, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '{' {
		var doc document
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, services.Wrap(services.ErrValidation, "input", "parse json", "", err)
		}
		return applyDocumentDefaults(doc), nil
	}
	var entries []entry
	if err := json.Unmarshal(trimmed, &entries); err != nil {
		return nil, services.Wrap(services.ErrValidation, "input", "parse json", "", err)
	}
	return entries, nil
}

func parseJSONLines(data []byte) ([]entry, error) {
	var entries []entry
	err := eachLine(data, func(line int, text string) error {
		var e entry
		if err := json.Unmarshal([]byte(text), &e); err != nil {
			return services.Wrap(services.ErrValidation, "input", "parse jsonl", fmt.Sprintf("line %d", line), err)
		}
		entries = append(entries, e)
		return nil
	})
	return entries, err
}

func parseText(data []byte) ([]entry, error) {
	var entries []entry
	err := eachLine(data, func(_ int, text string) error {
		entries = append(entries, entry{Term: text})
		return nil
	})
	return entries, err
}

// eachLine calls fn for every non-blank line that is not a # comment.
func eachLine(data []byte, fn func(line int, text string) error) error {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if err := fn(line, text); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return services.Wrap(services.ErrValidation, "input", "scan", fmt.Sprintf("line %d is too long", line+1), err)
		}
		return fmt.Errorf("scan input: %w", err)
	}
	return nil
}

func applyDocumentDefaults(doc document) []entry {
	if len(doc.Defaults.Fields) == 0 {
		return doc.Requests
	}
	for i := range doc.Requests {
		if len(doc.Requests[i].Fields) == 0 {
			doc.Requests[i].Fields = append([]string(nil), doc.Defaults.Fields...)
		}
	}
	return doc.Requests
}

func finalize(entries []entry, defaultFields []string) []breachvip.LookupRequest {
	requests := make([]breachvip.LookupRequest, 0, len(entries))
	for _, e := range entries {
		req := breachvip.LookupRequest(e)
		if len(req.Fields) == 0 && len(defaultFields) > 0 {
			req.Fields = append([]string(nil), defaultFields...)
		}
		requests = append(requests, req)
	}
	return requests
}
