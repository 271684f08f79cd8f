// Package preflight holds the first stage of every checkin and the
// readiness checks run before a batch.
//
// The stage verifies the input is present, splits versioned "name#a.b"
// inputs into a scratch working copy and identifier, and then applies the
// optional authority, duplicate and quarantine-sibling checks. Rejected
// files are moved to the no-authority or warning archive with the reject
// tag appended.
//
// RunAll checks that the configured archive roots are usable and that the
// station service answers. The CLI and the watch daemon call it before
// processing files.
package preflight
