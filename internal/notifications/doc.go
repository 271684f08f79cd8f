// Package notifications delivers archive events via ntfy.
//
// Halted files and batch summaries are published to the topic configured in
// config.toml; each event kind can be switched off. Without a topic the
// service is a no-op, so workflow code never checks whether notifications are
// enabled.
package notifications
