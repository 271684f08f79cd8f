// Package services defines shared utilities consumed by the pipeline stages
// and the external collaborator clients.
//
// Key responsibilities:
//   - Context helpers that stamp file names, stage names, policies and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that let the pipeline
//     driver classify a stage failure as an infrastructure failure or an
//     invariant violation.
//
// Client packages for the station web service, the handle registry and
// WebHDFS live in subpackages.
package services
