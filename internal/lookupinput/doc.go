// Package lookupinput reads batches of lookup requests from files or stdin.
//
// YAML, JSON arrays, JSON lines and plain text (one term per line) are
// accepted. Entries that omit fields inherit the configured default fields.
// Tri-state options survive parsing: an absent wildcard stays nil and an
// explicit empty categories list stays non-nil.
package lookupinput
