// Package stage defines the contract every pipeline stage satisfies and the
// control signals stages return to the driver.
package stage

import (
	"context"

	"seisarchive/internal/session"
)

// Stage is one unit of pipeline work against a single file.
//
// Expected business conditions (duplicate, unauthorized network, bad
// waveform, missing metadata) are reported through the returned Signal. A
// non-nil error means an infrastructure failure, or an invariant violation
// when it wraps services.ErrInvariant.
type Stage interface {
	Name() string
	Contract() Contract
	Run(ctx context.Context, path string, sess *session.Session) (Signal, error)
}

// Contract declares which session fields a stage needs and produces.
type Contract struct {
	// Requires lists fields that must be present before Run.
	Requires []session.Field
	// Writes lists fields the stage may populate.
	Writes []session.Field
	// RawVersioned marks stages that consume a versioned '#' input directly
	// instead of the scratch working copy.
	RawVersioned bool
}

// HealthChecker is implemented by stages that depend on external services.
type HealthChecker interface {
	HealthCheck(context.Context) Health
}

// Health summarizes the readiness of a pipeline stage.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}

// Rejected records a policy rejection on sess and returns the halt for it.
func Rejected(sess *session.Session, stageName, code, message string) Signal {
	sess.SetRejection(session.Rejection{Stage: stageName, Code: code, Message: message})
	return Halt(code, message)
}
