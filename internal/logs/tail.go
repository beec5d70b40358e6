package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const defaultPollInterval = 250 * time.Millisecond

// TailOptions controls which lines Tail returns.
type TailOptions struct {
	// Limit caps the number of returned lines; zero returns none and only
	// reports the end offset.
	Limit int
	// Match keeps only lines for which it returns true. Nil keeps every line.
	Match func(line string) bool
}

// TailResult holds the selected lines and the offset just past them.
type TailResult struct {
	Lines  []string
	Offset int64
}

// ContainsAll returns a matcher that keeps lines containing every non-empty
// needle.
func ContainsAll(needles ...string) func(string) bool {
	var kept []string
	for _, needle := range needles {
		if needle = strings.TrimSpace(needle); needle != "" {
			kept = append(kept, needle)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return func(line string) bool {
		for _, needle := range kept {
			if !strings.Contains(line, needle) {
				return false
			}
		}
		return true
	}
}

// Tail returns the last matching lines of the file at path. A missing file
// yields an empty result.
func Tail(path string, opts TailOptions) (TailResult, error) {
	file, err := openLog(path)
	if err != nil || file == nil {
		return TailResult{}, err
	}
	defer file.Close()

	limit := opts.Limit
	if limit < 0 {
		limit = 0
	}
	ring := make([]string, limit)
	count, next := 0, 0
	offset, err := scanLines(file, 0, func(line string) {
		if limit == 0 || (opts.Match != nil && !opts.Match(line)) {
			return
		}
		ring[next] = line
		next = (next + 1) % limit
		if count < limit {
			count++
		}
	})
	if err != nil {
		return TailResult{}, err
	}

	lines := make([]string, 0, count)
	start := 0
	if count == limit {
		start = next
	}
	for i := 0; i < count; i++ {
		lines = append(lines, ring[(start+i)%max(limit, 1)])
	}
	return TailResult{Lines: lines, Offset: offset}, nil
}

// Follow polls path from offset and hands each batch of new matching lines to
// emit until ctx ends. It returns nil on cancellation. A file that shrinks is
// read again from the start.
func Follow(ctx context.Context, path string, offset int64, poll time.Duration, match func(string) bool, emit func([]string) error) error {
	if poll <= 0 {
		poll = defaultPollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		lines, next, err := readFrom(path, offset, match)
		if err != nil {
			return err
		}
		offset = next
		if len(lines) > 0 {
			if err := emit(lines); err != nil {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func readFrom(path string, offset int64, match func(string) bool) ([]string, int64, error) {
	file, err := openLog(path)
	if err != nil || file == nil {
		return nil, 0, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, offset, fmt.Errorf("stat log file: %w", err)
	}
	if offset < 0 || offset > info.Size() {
		offset = 0
	}

	var lines []string
	next, err := scanLines(file, offset, func(line string) {
		if match == nil || match(line) {
			lines = append(lines, line)
		}
	})
	if err != nil {
		return nil, offset, err
	}
	return lines, next, nil
}

func openLog(path string) (*os.File, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("log path %q is a directory", path)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}

// scanLines feeds complete lines from offset to fn and returns the offset
// after the last complete line. A trailing partial line is left for the next
// read.
func scanLines(file *os.File, offset int64, fn func(string)) (int64, error) {
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset, fmt.Errorf("seek log file: %w", err)
	}
	reader := bufio.NewReaderSize(file, 64*1024)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return offset, nil
			}
			return offset, fmt.Errorf("read log file: %w", err)
		}
		offset += int64(len(line))
		fn(strings.TrimRight(line, "\r\n"))
	}
}
