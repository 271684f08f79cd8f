// Package config loads, normalizes, and validates archive pipeline
// configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks for the
// metadata store URI and the handle registry password. The Config type
// centralizes every knob the stages, the workflow manager and the CLI need.
package config
