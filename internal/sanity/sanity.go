// Package sanity validates waveform content before it enters the archive:
// the payload must parse, match its filename, sample within the band of its
// channel and fall inside a station epoch.
//
// Failures carry a numeric reason code that is also appended to the name of
// the file moved into the bad archive.
package sanity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"seisarchive/internal/archive"
	"seisarchive/internal/config"
	"seisarchive/internal/logging"
	"seisarchive/internal/sds"
	"seisarchive/internal/services"
	"seisarchive/internal/services/station"
	"seisarchive/internal/session"
	"seisarchive/internal/stage"
	"seisarchive/internal/waveform"
)

// Name is the stage table key.
const Name = "sanitychecks"

// Reason codes. They double as the bad archive filename suffix.
const (
	CodeUnreadable      = "0"
	CodeBroken          = "1"
	CodeNameMismatch    = "2"
	CodeNameUnexpected  = "21"
	CodeRateOutOfBand   = "3"
	CodeRateUnexpected  = "31"
	CodeEpochOutOfRange = "4"
	CodeNoEpochs        = "41"
)

// Stage runs the content checks.
type Stage struct {
	sanity  config.Sanity
	archive config.Archive
	parser  waveform.Parser
	epochs  station.Lookup
	mutator *archive.Mutator
	logger  *slog.Logger
}

var _ stage.Stage = (*Stage)(nil)

// New constructs the sanity stage. epochs may be nil when epoch checks are
// disabled.
func New(cfg *config.Config, parser waveform.Parser, epochs station.Lookup, mutator *archive.Mutator, logger *slog.Logger) *Stage {
	return &Stage{
		sanity:  cfg.Sanity,
		archive: cfg.Archive,
		parser:  parser,
		epochs:  epochs,
		mutator: mutator,
		logger:  logging.NewComponentLogger(logger, Name),
	}
}

func (s *Stage) Name() string { return Name }

func (s *Stage) Contract() stage.Contract {
	return stage.Contract{
		Writes: []session.Field{session.FieldTimeRange, session.FieldCoverage, session.FieldRejection},
	}
}

// failure is a content check that did not pass.
type failure struct {
	code    string
	message string
}

func (s *Stage) Run(ctx context.Context, path string, sess *session.Session) (stage.Signal, error) {
	logger := logging.WithContext(ctx, s.logger)
	name := sess.CanonicalName()

	fail, err := s.check(ctx, path, name, sess)
	if err != nil {
		return stage.Signal{}, err
	}
	if fail == nil {
		logger.Info("sanity checks passed", logging.String(logging.FieldFile, name))
		return stage.Continue(), nil
	}

	sess.SetRejection(session.Rejection{Stage: Name, Code: fail.code, Message: fail.message})
	if s.sanity.BadGoto != "" {
		return stage.Goto(s.sanity.BadGoto, fail.code, fail.message), nil
	}

	dst, err := s.mutator.Reject(path, s.archive.BadDir, name, "-"+fail.code, s.archive.RejectLayout)
	if err != nil {
		return stage.Signal{}, services.Wrap(services.ErrTransient, Name, "move to bad archive", path, err)
	}
	sess.SetLocation(dst)
	if sess.Versioned() {
		if err := s.mutator.Remove(sess.Source()); err != nil {
			return stage.Signal{}, services.Wrap(services.ErrTransient, Name, "remove versioned input", sess.Source(), err)
		}
	}
	return stage.Halt(fail.code, fail.message), nil
}

func (s *Stage) check(ctx context.Context, path, name string, sess *session.Session) (*failure, error) {
	stream, err := s.parser.Parse(path)
	switch {
	case errors.Is(err, waveform.ErrBroken):
		return &failure{CodeBroken, err.Error()}, nil
	case err != nil:
		return &failure{CodeUnreadable, err.Error()}, nil
	case stream == nil || len(stream.Traces) == 0:
		return &failure{CodeBroken, "file holds no traces"}, nil
	}

	parsed, err := sds.Parse(name)
	if err != nil {
		return &failure{CodeNameUnexpected, err.Error()}, nil
	}
	if !slices.Contains(s.sanity.AllowedTypes, parsed.Type) {
		return &failure{CodeNameMismatch, fmt.Sprintf("type code %q not allowed", parsed.Type)}, nil
	}
	for _, tr := range stream.Traces {
		payload := sds.Name{
			Network:  tr.Network,
			Station:  tr.Station,
			Location: tr.Location,
			Channel:  tr.Channel,
			Type:     parsed.Type,
			Year:     strconv.Itoa(tr.Start.UTC().Year()),
			Day:      sds.JulianDay(tr.Start),
		}
		if payload != parsed {
			return &failure{CodeNameMismatch, fmt.Sprintf("payload %s does not match filename %s", payload, name)}, nil
		}
	}

	band, ok := s.sanity.BandRates[parsed.BandCode()]
	if !ok || len(band) != 2 {
		return &failure{CodeRateUnexpected, fmt.Sprintf("no sample rate band configured for band code %q", parsed.BandCode())}, nil
	}
	for _, tr := range stream.Traces {
		if tr.SampleRate < band[0] || tr.SampleRate > band[1] {
			return &failure{CodeRateOutOfBand, fmt.Sprintf("sample rate %g Hz outside [%g, %g] for band %s",
				tr.SampleRate, band[0], band[1], parsed.BandCode())}, nil
		}
	}

	sess.SetTimeRange(session.TimeRange{Start: stream.Start(), End: stream.End()})

	if !s.sanity.CheckEpochs {
		return nil, nil
	}
	if s.epochs == nil {
		return nil, services.Wrap(services.ErrConfiguration, Name, "epochs", "no station service configured", nil)
	}
	epochs, err := s.epochs.ChannelEpochs(ctx, parsed.Network, parsed.Station)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalService, Name, "channel epochs", parsed.Network+"."+parsed.Station, err)
	}
	if len(epochs) == 0 {
		return &failure{CodeNoEpochs, "station service returned no epochs"}, nil
	}
	first := stream.Traces[0]
	for _, ep := range epochs {
		if ep.ID() == first.ID() && ep.Contains(first.Start) {
			sess.SetCoverage(session.Coverage{X: ep.Latitude, Y: ep.Longitude, Z: ep.Elevation})
			return nil, nil
		}
	}
	return &failure{CodeEpochOutOfRange, fmt.Sprintf("%s on %s is outside every station epoch",
		first.ID(), first.Start.UTC().Format("2006.002"))}, nil
}
