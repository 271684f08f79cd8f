// Package session holds the per-file state threaded through pipeline stages.
//
// A Session is owned by the goroutine processing one file and is not safe for
// concurrent use. Optional fields are typed and absence is reported through
// ErrMissingField rather than zero values, because stages branch on whether a
// run is a first checkin or a re-checkin purely by field presence.
package session

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"seisarchive/internal/sds"
	"seisarchive/internal/services"
)

var (
	// ErrMissingField reports a read of an unpopulated field.
	ErrMissingField = errors.New("missing context field")
	// ErrIdentifierImmutable reports an attempt to replace a minted identifier.
	ErrIdentifierImmutable = errors.New("identifier already set")
)

// Exit is the tri-state completion signal surfaced to the scheduler.
type Exit int

const (
	ExitContinue Exit = iota
	ExitSoftStop
	ExitHardFail
)

func (e Exit) String() string {
	switch e {
	case ExitContinue:
		return "continue"
	case ExitSoftStop:
		return "soft-stop"
	case ExitHardFail:
		return "hard-fail"
	default:
		return fmt.Sprintf("exit(%d)", int(e))
	}
}

// Field names an optional session field for presence checks.
type Field string

const (
	FieldIdentifier  Field = "identifier"
	FieldWorkingCopy Field = "working_copy"
	FieldCoverage    Field = "coverage"
	FieldTimeRange   Field = "time_range"
	FieldVersion     Field = "version"
	FieldRejection   Field = "rejection"
	FieldNetwork     Field = "network"
)

// WorkingCopy is the scratch copy made for a versioned re-checkin.
type WorkingCopy struct {
	Path          string
	CanonicalName string
}

// Coverage is the spatial coverage of a station in degrees and metres.
type Coverage struct {
	X float64
	Y float64
	Z float64
}

// TimeRange is the time span covered by the file payload.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Version describes the superseded head of a version chain.
type Version struct {
	Number           string
	PreviousFilename string
}

// Rejection records why a stage rejected the file.
type Rejection struct {
	Stage   string
	Code    string
	Message string
}

// Network is the authoritative network a file belongs to.
type Network struct {
	Code        string
	Description string
}

// Session is the mutable state of one file's pipeline run.
type Session struct {
	source      string
	location    string
	placeholder string

	exit       Exit
	gotoTarget string

	identifier  string
	workingCopy *WorkingCopy
	coverage    *Coverage
	timeRange   *TimeRange
	version     *Version
	rejection   *Rejection
	network     *Network
}

// Option configures a Session.
type Option func(*Session)

// WithPlaceholder sets the placeholder identifier that may be replaced once.
func WithPlaceholder(placeholder string) Option {
	return func(s *Session) {
		s.placeholder = placeholder
	}
}

// New creates a session for the file at source.
func New(source string, opts ...Option) *Session {
	s := &Session{source: source, location: source}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func missing(field Field) error {
	return fmt.Errorf("%w: %w: %s", services.ErrInvariant, ErrMissingField, field)
}

// Source returns the path the run started with.
func (s *Session) Source() string { return s.source }

// Versioned reports whether the source name carries an identifier suffix.
func (s *Session) Versioned() bool { return sds.IsVersioned(s.source) }

// Location returns the current on-disk path of the file.
func (s *Session) Location() string { return s.location }

// SetLocation records where a stage moved the file.
func (s *Session) SetLocation(path string) { s.location = path }

// CanonicalName returns the canonical filename, preferring the working copy name.
func (s *Session) CanonicalName() string {
	if s.workingCopy != nil && s.workingCopy.CanonicalName != "" {
		return s.workingCopy.CanonicalName
	}
	name, _, err := sds.SplitVersioned(s.source)
	if err != nil {
		return filepath.Base(s.source)
	}
	return name
}

// Exit returns the completion signal.
func (s *Session) Exit() Exit { return s.exit }

// SetExit records a completion signal.
func (s *Session) SetExit(e Exit) { s.exit = e }

// GotoTarget returns the pending redirect, if any.
func (s *Session) GotoTarget() (string, bool) {
	return s.gotoTarget, s.gotoTarget != ""
}

// SetGoto records a pending redirect.
func (s *Session) SetGoto(stage string) { s.gotoTarget = stage }

// ClearGoto drops the pending redirect.
func (s *Session) ClearGoto() { s.gotoTarget = "" }

// Placeholder returns the configured placeholder identifier.
func (s *Session) Placeholder() string { return s.placeholder }

// Identifier returns the persistent identifier.
func (s *Session) Identifier() (string, error) {
	if s.identifier == "" {
		return "", missing(FieldIdentifier)
	}
	return s.identifier, nil
}

// IdentifierIsPlaceholder reports whether the identifier is still the placeholder.
func (s *Session) IdentifierIsPlaceholder() bool {
	return s.identifier != "" && s.identifier == s.placeholder
}

// SetIdentifier records the identifier. Once a non-placeholder identifier is
// set it can only be set again to the same value.
func (s *Session) SetIdentifier(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty identifier", services.ErrInvariant)
	}
	if s.identifier == "" || s.identifier == id || s.IdentifierIsPlaceholder() {
		s.identifier = id
		return nil
	}
	return fmt.Errorf("%w: %w: have %s, got %s", services.ErrInvariant, ErrIdentifierImmutable, s.identifier, id)
}

// WorkingCopy returns the scratch copy of a versioned input.
func (s *Session) WorkingCopy() (WorkingCopy, error) {
	if s.workingCopy == nil {
		return WorkingCopy{}, missing(FieldWorkingCopy)
	}
	return *s.workingCopy, nil
}

// SetWorkingCopy records the scratch copy of a versioned input.
func (s *Session) SetWorkingCopy(wc WorkingCopy) {
	s.workingCopy = &wc
	s.location = wc.Path
}

// Coverage returns the spatial coverage.
func (s *Session) Coverage() (Coverage, error) {
	if s.coverage == nil {
		return Coverage{}, missing(FieldCoverage)
	}
	return *s.coverage, nil
}

// SetCoverage records the spatial coverage.
func (s *Session) SetCoverage(c Coverage) { s.coverage = &c }

// TimeRange returns the payload time span.
func (s *Session) TimeRange() (TimeRange, error) {
	if s.timeRange == nil {
		return TimeRange{}, missing(FieldTimeRange)
	}
	return *s.timeRange, nil
}

// SetTimeRange records the payload time span.
func (s *Session) SetTimeRange(tr TimeRange) { s.timeRange = &tr }

// Version returns the superseded version head.
func (s *Session) Version() (Version, error) {
	if s.version == nil {
		return Version{}, missing(FieldVersion)
	}
	return *s.version, nil
}

// SetVersion records the superseded version head.
func (s *Session) SetVersion(v Version) { s.version = &v }

// Rejection returns the recorded rejection.
func (s *Session) Rejection() (Rejection, error) {
	if s.rejection == nil {
		return Rejection{}, missing(FieldRejection)
	}
	return *s.rejection, nil
}

// SetRejection records why a stage rejected the file.
func (s *Session) SetRejection(r Rejection) { s.rejection = &r }

// Network returns the authoritative network.
func (s *Session) Network() (Network, error) {
	if s.network == nil {
		return Network{}, missing(FieldNetwork)
	}
	return *s.network, nil
}

// SetNetwork records the authoritative network.
func (s *Session) SetNetwork(n Network) { s.network = &n }

// Has reports whether field is populated.
func (s *Session) Has(field Field) bool {
	switch field {
	case FieldIdentifier:
		return s.identifier != ""
	case FieldWorkingCopy:
		return s.workingCopy != nil
	case FieldCoverage:
		return s.coverage != nil
	case FieldTimeRange:
		return s.timeRange != nil
	case FieldVersion:
		return s.version != nil
	case FieldRejection:
		return s.rejection != nil
	case FieldNetwork:
		return s.network != nil
	default:
		return false
	}
}

// Require returns a missing field error for the first absent field.
func (s *Session) Require(fields ...Field) error {
	for _, field := range fields {
		if !s.Has(field) {
			return missing(field)
		}
	}
	return nil
}
