// Package provenance records where each archived file came from and keeps
// its version chain. A first checkin writes provenance and version 0; every
// versioned re-checkin appends the next version and records the superseded
// head on the session so move2archive can retire the old copy.
package provenance

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"seisarchive/internal/config"
	"seisarchive/internal/logging"
	"seisarchive/internal/metadata"
	"seisarchive/internal/sds"
	"seisarchive/internal/services"
	"seisarchive/internal/session"
	"seisarchive/internal/stage"
)

// Stage table keys.
const (
	Name         = "provenance"
	WithdrawName = "provupdel"
)

// CodeMalformedName reports a canonical name that cannot be parsed.
const CodeMalformedName = "malformed-filename"

// Stage writes provenance and version records.
type Stage struct {
	fields          config.Provenance
	isPartOf        string
	stationEndpoint string
	manager         *metadata.Manager
	now             func() time.Time
	logger          *slog.Logger
}

var _ stage.Stage = (*Stage)(nil)

// Option configures the stage.
type Option func(*Stage)

// WithClock overrides the time source used for record dates.
func WithClock(now func() time.Time) Option {
	return func(s *Stage) {
		s.now = now
	}
}

// New constructs the provenance stage.
func New(cfg *config.Config, manager *metadata.Manager, logger *slog.Logger, opts ...Option) *Stage {
	s := &Stage{
		fields:          cfg.Provenance,
		isPartOf:        cfg.DublinCore.IsPartOf,
		stationEndpoint: cfg.Station.Endpoint,
		manager:         manager,
		now:             time.Now,
		logger:          logging.NewComponentLogger(logger, Name),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Stage) Name() string { return Name }

func (s *Stage) Contract() stage.Contract {
	return stage.Contract{
		Requires: []session.Field{session.FieldIdentifier, session.FieldCoverage},
		Writes:   []session.Field{session.FieldVersion},
	}
}

func (s *Stage) Run(ctx context.Context, _ string, sess *session.Session) (stage.Signal, error) {
	logger := logging.WithContext(ctx, s.logger)
	identifier, err := sess.Identifier()
	if err != nil {
		return stage.Signal{}, err
	}
	coverage, err := sess.Coverage()
	if err != nil {
		return stage.Signal{}, err
	}
	name := sess.CanonicalName()
	parsed, err := sds.Parse(name)
	if err != nil {
		return stage.Halt(CodeMalformedName, err.Error()), nil
	}

	now := s.now().UTC()
	version := s.version(parsed, sess, identifier, coverage, now)

	if sess.Versioned() {
		head, err := s.manager.AppendVersion(ctx, identifier, version)
		if err != nil {
			return stage.Signal{}, s.wrap("append version", identifier, err)
		}
		sess.SetVersion(session.Version{Number: head.Number, PreviousFilename: head.File.Name})
		logger.Info("version chain extended",
			logging.String(logging.FieldFile, name),
			logging.String(logging.FieldIdentifier, identifier),
			logging.String("superseded", head.Number),
		)
		return stage.Continue(), nil
	}

	created, err := s.manager.RecordFirstVersion(ctx, metadata.Provenance{
		Identifier:   identifier,
		FileID:       name,
		IsPartOf:     s.isPartOf,
		GeneratedAt:  now,
		AttributedTo: s.fields.AttributedTo,
		Usage:        metadata.Usage{SoftwareApplication: s.fields.Usage},
	}, version)
	if err != nil {
		return stage.Signal{}, s.wrap("record first version", identifier, err)
	}
	if !created {
		logger.Info("provenance already recorded",
			logging.String(logging.FieldFile, name),
			logging.String(logging.FieldIdentifier, identifier),
		)
		return stage.Continue(), nil
	}
	logger.Info("provenance recorded",
		logging.String(logging.FieldFile, name),
		logging.String(logging.FieldIdentifier, identifier),
		logging.String("version", metadata.FirstVersion),
	)
	return stage.Continue(), nil
}

func (s *Stage) version(name sds.Name, sess *session.Session, identifier string, coverage session.Coverage, now time.Time) metadata.Version {
	organization := s.fields.Organization
	if network, err := sess.Network(); err == nil && network.Description != "" {
		organization = network.Description
	}
	return metadata.Version{
		StartDate:     now,
		Organization:  s.fields.Organization,
		SoftwareAgent: s.fields.SoftwareAgent,
		Spatial:       metadata.Spatial{X: coverage.X, Y: coverage.Y, Z: coverage.Z},
		File: metadata.FileRef{
			Name:     name.String(),
			Position: s.fields.Resolver + identifier,
		},
		GeneratedBy: metadata.Generation{
			PrimarySource: PrimarySource(s.stationEndpoint, name.Network, name.Station),
			Software:      s.fields.SoftwareApp,
			Organization:  organization,
			Periodicity:   s.fields.Periodicity,
		},
	}
}

func (s *Stage) wrap(op, identifier string, err error) error {
	return services.Wrap(services.ErrExternalService, Name, op, identifier, err)
}

// PrimarySource renders the station response query a version was derived from.
func PrimarySource(endpoint, network, station string) string {
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
		if strings.HasSuffix(endpoint, "?") || strings.HasSuffix(endpoint, "&") {
			sep = ""
		}
	}
	q := "level=response&net=" + url.QueryEscape(network) + "&sta=" + url.QueryEscape(station)
	return endpoint + sep + q
}

// WithdrawStage disables the provenance and every version of an identifier.
type WithdrawStage struct {
	manager *metadata.Manager
	logger  *slog.Logger
}

var _ stage.Stage = (*WithdrawStage)(nil)

// NewWithdraw constructs the provupdel stage.
func NewWithdraw(manager *metadata.Manager, logger *slog.Logger) *WithdrawStage {
	return &WithdrawStage{manager: manager, logger: logging.NewComponentLogger(logger, WithdrawName)}
}

func (s *WithdrawStage) Name() string { return WithdrawName }

func (s *WithdrawStage) Contract() stage.Contract {
	return stage.Contract{Requires: []session.Field{session.FieldIdentifier}}
}

func (s *WithdrawStage) Run(ctx context.Context, _ string, sess *session.Session) (stage.Signal, error) {
	identifier, err := sess.Identifier()
	if err != nil {
		return stage.Signal{}, err
	}
	if err := s.manager.WithdrawProvenance(ctx, identifier); err != nil {
		return stage.Signal{}, services.Wrap(services.ErrExternalService, WithdrawName, "withdraw provenance", identifier, err)
	}
	logging.WithContext(ctx, s.logger).Info("provenance withdrawn",
		logging.String(logging.FieldFile, sess.CanonicalName()),
		logging.String(logging.FieldIdentifier, identifier),
	)
	return stage.Continue(), nil
}
