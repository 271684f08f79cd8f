// Package dublincore maintains the Dublin Core record of each archived file.
// The create stage registers or re-enables the record on checkin; the
// withdraw stage disables or removes it on checkout.
package dublincore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"seisarchive/internal/config"
	"seisarchive/internal/logging"
	"seisarchive/internal/metadata"
	"seisarchive/internal/sds"
	"seisarchive/internal/services"
	"seisarchive/internal/services/station"
	"seisarchive/internal/session"
	"seisarchive/internal/stage"
)

// Stage table keys.
const (
	Name         = "dublincore"
	WithdrawName = "dublincoreupdel"
)

// Reason codes.
const (
	CodeExists         = "metadata-exists"
	CodeUnknownStation = "station-unknown"
	CodeMissing        = "metadata-missing"
	CodeMalformedName  = "malformed-filename"
)

var errUnknownStation = errors.New("station not found")

// Option configures a stage.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for record dates.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Stage registers the Dublin Core record of a checked-in file.
type Stage struct {
	fields   config.DublinCore
	manager  *metadata.Manager
	stations station.Lookup
	now      func() time.Time
	logger   *slog.Logger
}

var _ stage.Stage = (*Stage)(nil)

// New constructs the dublincore stage. stations supplies coverage when the
// sanity stage did not record it.
func New(cfg *config.Config, manager *metadata.Manager, stations station.Lookup, logger *slog.Logger, opts ...Option) *Stage {
	o := buildOptions(opts)
	return &Stage{
		fields:   cfg.DublinCore,
		manager:  manager,
		stations: stations,
		now:      o.now,
		logger:   logging.NewComponentLogger(logger, Name),
	}
}

func (s *Stage) Name() string { return Name }

func (s *Stage) Contract() stage.Contract {
	return stage.Contract{Writes: []session.Field{session.FieldIdentifier, session.FieldCoverage}}
}

func (s *Stage) Run(ctx context.Context, _ string, sess *session.Session) (stage.Signal, error) {
	logger := logging.WithContext(ctx, s.logger)
	name := sess.CanonicalName()
	parsed, err := sds.Parse(name)
	if err != nil {
		return stage.Halt(CodeMalformedName, err.Error()), nil
	}
	known, _ := sess.Identifier()
	if sess.IdentifierIsPlaceholder() {
		known = ""
	}

	checkin, err := s.manager.CheckinObject(ctx, known, name, func(ctx context.Context) (metadata.DigitalObject, error) {
		return s.build(ctx, parsed, sess, known)
	})
	switch {
	case errors.Is(err, metadata.ErrObjectExists):
		return stage.Halt(CodeExists, err.Error()), nil
	case errors.Is(err, errUnknownStation):
		return stage.Halt(CodeUnknownStation, err.Error()), nil
	case err != nil:
		return stage.Signal{}, services.Wrap(services.ErrExternalService, Name, "checkin record", name, err)
	}

	obj := checkin.Object
	if checkin.Outcome != metadata.OutcomeCreated {
		sess.SetCoverage(session.Coverage{X: obj.CoverageX, Y: obj.CoverageY, Z: obj.CoverageZ})
	}
	if known != "" && obj.Identifier == s.manager.Placeholder() {
		// A versioned input names its identifier; adopt it for the
		// placeholder record found by filename.
		if err := s.manager.AssignIdentifier(ctx, obj.ID, name, known); err != nil {
			return stage.Signal{}, err
		}
		obj.Identifier = known
	}
	if err := sess.SetIdentifier(obj.Identifier); err != nil {
		return stage.Signal{}, err
	}
	logger.Info("dublin core record ready",
		logging.String(logging.FieldFile, name),
		logging.String(logging.FieldIdentifier, obj.Identifier),
		logging.String("outcome", string(checkin.Outcome)),
	)
	return stage.Continue(), nil
}

// build assembles a new record. Coverage and time range come from the session
// when present and from the station epochs otherwise.
func (s *Stage) build(ctx context.Context, name sds.Name, sess *session.Session, identifier string) (metadata.DigitalObject, error) {
	coverage, covErr := sess.Coverage()
	timeRange, trErr := sess.TimeRange()
	if covErr != nil || trErr != nil {
		epoch, err := s.stationEpoch(ctx, name)
		if err != nil {
			return metadata.DigitalObject{}, err
		}
		if covErr != nil {
			coverage = session.Coverage{X: epoch.Latitude, Y: epoch.Longitude, Z: epoch.Elevation}
			sess.SetCoverage(coverage)
		}
		if trErr != nil {
			timeRange = session.TimeRange{Start: epoch.Start, End: epoch.End}
			s.logger.Warn("time range taken from station epoch",
				logging.String(logging.FieldFile, name.String()),
				logging.String(logging.FieldEventType, "time_range_fallback"),
			)
		}
	}

	now := s.now().UTC()
	return metadata.DigitalObject{
		Identifier:   identifier,
		Title:        s.fields.Title,
		Subject:      s.fields.Subject,
		Creator:      s.fields.Creator,
		Contributor:  s.fields.Contributor,
		Publisher:    s.fields.Publisher,
		Type:         s.fields.Type,
		Format:       s.fields.Format,
		Date:         now,
		CoverageX:    coverage.X,
		CoverageY:    coverage.Y,
		CoverageZ:    coverage.Z,
		CoverageTMin: timeRange.Start.UTC(),
		CoverageTMax: timeRange.End.UTC(),
		Rights:       s.fields.Rights,
		Available:    now,
		DateAccepted: now,
		IsPartOf:     s.fields.IsPartOf,
	}, nil
}

func (s *Stage) stationEpoch(ctx context.Context, name sds.Name) (station.Epoch, error) {
	if s.stations == nil {
		return station.Epoch{}, services.Wrap(services.ErrConfiguration, Name, "station lookup", "no station service configured", nil)
	}
	epochs, err := s.stations.StationEpochs(ctx, name.Network, name.Station)
	if err != nil {
		return station.Epoch{}, services.Wrap(services.ErrExternalService, Name, "station lookup", name.Network+"."+name.Station, err)
	}
	if len(epochs) == 0 {
		return station.Epoch{}, fmt.Errorf("%w: %s.%s", errUnknownStation, name.Network, name.Station)
	}
	return epochs[0], nil
}
