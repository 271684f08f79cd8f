// Package daemon runs the long-lived watch process.
//
// It takes a flock on the state directory so only one watcher drives a given
// incoming area, serves Prometheus metrics and a JSON status summary when
// enabled, and hands the incoming directory to the workflow watcher until the
// context is canceled.
package daemon
