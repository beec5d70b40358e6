package breachvip

import (
	"encoding/json"
	"time"
)

// LookupRequest describes one search to run against the API.
//
// Optional fields are tri-state: a nil Wildcard or CaseSensitive is left out
// of the payload, as is a nil Categories slice. A non-nil empty Categories
// slice is sent as [].
type LookupRequest struct {
	Term          string   `json:"term" yaml:"term"`
	Fields        []string `json:"fields,omitempty" yaml:"fields,omitempty"`
	Categories    []string `json:"categories,omitempty" yaml:"categories,omitempty"`
	Wildcard      *bool    `json:"wildcard,omitempty" yaml:"wildcard,omitempty"`
	CaseSensitive *bool    `json:"case_sensitive,omitempty" yaml:"case_sensitive,omitempty"`
}

// SearchPayload is the request body posted to /api/search.
type SearchPayload struct {
	Term          string   `json:"term" validate:"required"`
	Fields        []string `json:"fields" validate:"min=1,dive,required"`
	Categories    []string `json:"categories,omitzero"`
	Wildcard      *bool    `json:"wildcard,omitzero"`
	CaseSensitive *bool    `json:"case_sensitive,omitzero"`
}

// RawResponse holds the undecoded result entries of a successful search.
type RawResponse struct {
	Results    []json.RawMessage
	StatusCode int
	// Attempts counts every HTTP request issued, including retries.
	Attempts int
}

// ResultItem is one normalized breach record. FetchedAt is always UTC and is
// encoded as RFC 3339.
type ResultItem struct {
	Source     string    `json:"source"`
	Categories []string  `json:"categories"`
	Subject    string    `json:"subject"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// Bool returns a pointer to v, for populating tri-state request fields.
func Bool(v bool) *bool {
	return &v
}
