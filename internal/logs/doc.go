// Package logs reads the breachvip log file for the CLI.
//
// Tail returns the last N lines (optionally filtered, for example to one run
// id) and the byte offset reached, and Follow polls from that offset for new
// lines until the context ends. Memory stays bounded by the requested line
// count regardless of file size.
package logs
