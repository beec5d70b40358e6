// Package main hosts the breachvip CLI entrypoint and command graph.
//
// The Cobra-based command tree turns terminal invocations into batch lookups
// against the breach search API, run history queries against the local
// journal, and configuration scaffolding. It centralizes configuration
// resolution, logger setup and client construction so subcommands only deal
// with flags and output.
//
// Keep this package lean: new behavior belongs in internal packages first and
// is surfaced here through commands or flags.
package main
