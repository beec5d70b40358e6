// Package config loads, normalizes, and validates breachvip configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// BREACHVIP_BASE_URL. The Config type centralizes every knob the search
// client and CLI need: API endpoint, pacing, retry policy, and where state
// and logs live.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
