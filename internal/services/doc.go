// Package services defines shared utilities consumed by the search pipeline
// and the CLI.
//
// Key responsibilities:
//   - Context helpers that stamp batch run IDs, item positions, and lookup
//     terms for logging and tracing.
//   - Structured error markers plus the Wrap helper, and FailureKind which
//     turns any pipeline failure into a stable kind string for logs and the
//     run journal.
//
// Use these helpers when wiring new pipeline stages so operational behaviour
// (error classification, observability) stays uniform across the client.
package services
