package breachvip

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"breachvip/internal/services"
)

func marshalPayload(t *testing.T, req LookupRequest) string {
	t.Helper()
	payload, err := Build(req)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return string(data)
}

func TestBuildOmitsUnsetOptionalFields(t *testing.T) {
	got := marshalPayload(t, LookupRequest{Term: "example.com", Fields: []string{"email"}})
	want := `{"term":"example.com","fields":["email"]}`
	if got != want {
		t.Fatalf("payload = %s, want %s", got, want)
	}
}

func TestBuildKeepsExplicitFalseAndEmpty(t *testing.T) {
	got := marshalPayload(t, LookupRequest{
		Term:          "example.com",
		Fields:        []string{"email"},
		Categories:    []string{},
		Wildcard:      Bool(false),
		CaseSensitive: Bool(true),
	})
	want := `{"term":"example.com","fields":["email"],"categories":[],"wildcard":false,"case_sensitive":true}`
	if got != want {
		t.Fatalf("payload = %s, want %s", got, want)
	}
}

func TestBuildCleansInput(t *testing.T) {
	// "e" + combining acute accent composes to U+00E9 under NFC.
	payload, err := Build(LookupRequest{
		Term:       "  cafe\u0301.com ",
		Fields:     []string{" email", "", "domain", "email"},
		Categories: []string{" stealer ", " "},
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if payload.Term != "caf\u00e9.com" {
		t.Fatalf("unexpected term %q", payload.Term)
	}
	if strings.Join(payload.Fields, ",") != "email,domain" {
		t.Fatalf("unexpected fields %v", payload.Fields)
	}
	if len(payload.Categories) != 1 || payload.Categories[0] != "stealer" {
		t.Fatalf("unexpected categories %v", payload.Categories)
	}
}

func TestBuildDoesNotAliasCallerBools(t *testing.T) {
	wildcard := true
	payload, err := Build(LookupRequest{Term: "a", Fields: []string{"email"}, Wildcard: &wildcard})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	wildcard = false
	if !*payload.Wildcard {
		t.Fatal("payload shares the caller's pointer")
	}
}

func TestBuildValidation(t *testing.T) {
	tests := []struct {
		name    string
		req     LookupRequest
		message string
	}{
		{name: "empty term", req: LookupRequest{Fields: []string{"email"}}, message: "term is a required field"},
		{name: "blank term", req: LookupRequest{Term: " \t", Fields: []string{"email"}}, message: "term is a required field"},
		{name: "no fields", req: LookupRequest{Term: "example.com"}, message: "fields must contain at least 1 item"},
		{name: "blank fields", req: LookupRequest{Term: "example.com", Fields: []string{" ", ""}}, message: "fields must contain at least 1 item"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.req)
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.message) {
				t.Fatalf("error %q does not mention %q", err, tt.message)
			}
			if services.FailureKind(err) != services.KindValidation {
				t.Fatalf("unexpected kind %q", services.FailureKind(err))
			}
		})
	}
}
