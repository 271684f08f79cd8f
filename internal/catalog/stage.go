package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"seisarchive/internal/config"
	"seisarchive/internal/logging"
	"seisarchive/internal/services"
	"seisarchive/internal/session"
	"seisarchive/internal/stage"
)

// Stage table keys.
const (
	CollectName  = "wfccollector"
	WithdrawName = "wfcupdel"
	RemoveName   = "wfcremove"
	RestoreName  = "wfcrestore"
)

// Withdraw modes.
const (
	ModeRemove  = "REMOVE"
	ModeRestore = "RESTORE"
)

// CodeRestored is the stop code of a restore that ends the run.
const CodeRestored = "catalog-restored"

// CollectStage fills the catalog for an archived file.
type CollectStage struct {
	collector *Collector
	logger    *slog.Logger
}

var _ stage.Stage = (*CollectStage)(nil)

// NewCollect constructs the wfccollector stage.
func NewCollect(collector *Collector, logger *slog.Logger) *CollectStage {
	return &CollectStage{collector: collector, logger: logging.NewComponentLogger(logger, CollectName)}
}

func (s *CollectStage) Name() string { return CollectName }

func (s *CollectStage) Contract() stage.Contract { return stage.Contract{} }

// Run never rejects the file. An exhausted collection is logged and the
// pipeline continues; the catalog can be rebuilt later.
func (s *CollectStage) Run(ctx context.Context, path string, sess *session.Session) (stage.Signal, error) {
	logger := logging.WithContext(ctx, s.logger)
	name := sess.CanonicalName()
	n, err := s.collector.Collect(ctx, path, name)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return stage.Signal{}, err
		}
		logging.WarnWithContext(logger, "catalog collection abandoned", "catalog_abandoned",
			logging.String(logging.FieldFile, name),
			logging.Error(err),
			logging.String(logging.FieldImpact, "file archived without catalog streams"),
			logging.String(logging.FieldErrorHint, "re-run wfcrestore for this file once the store is reachable"),
		)
		return stage.Continue(), nil
	}
	logger.Info("catalog streams collected",
		logging.String(logging.FieldFile, name),
		logging.Int("streams", n),
	)
	return stage.Continue(), nil
}

// WithdrawStage removes or rebuilds the catalog streams of a file.
type WithdrawStage struct {
	name      string
	mode      string
	halt      bool
	collector *Collector
	logger    *slog.Logger
}

var _ stage.Stage = (*WithdrawStage)(nil)

// NewWithdraw constructs wfcupdel with the configured mode.
func NewWithdraw(cfg *config.Config, collector *Collector, logger *slog.Logger) *WithdrawStage {
	return newWithdraw(WithdrawName, strings.ToUpper(cfg.Catalog.WithdrawMode), cfg, collector, logger)
}

// NewRemove constructs wfcremove, which always deletes.
func NewRemove(cfg *config.Config, collector *Collector, logger *slog.Logger) *WithdrawStage {
	return newWithdraw(RemoveName, ModeRemove, cfg, collector, logger)
}

// NewRestore constructs wfcrestore, which always recollects.
func NewRestore(cfg *config.Config, collector *Collector, logger *slog.Logger) *WithdrawStage {
	return newWithdraw(RestoreName, ModeRestore, cfg, collector, logger)
}

func newWithdraw(name, mode string, cfg *config.Config, collector *Collector, logger *slog.Logger) *WithdrawStage {
	return &WithdrawStage{
		name:      name,
		mode:      mode,
		halt:      cfg.Catalog.RestoreHalts,
		collector: collector,
		logger:    logging.NewComponentLogger(logger, name),
	}
}

func (s *WithdrawStage) Name() string { return s.name }

func (s *WithdrawStage) Contract() stage.Contract { return stage.Contract{} }

func (s *WithdrawStage) Run(ctx context.Context, path string, sess *session.Session) (stage.Signal, error) {
	logger := logging.WithContext(ctx, s.logger)
	name := sess.CanonicalName()

	switch s.mode {
	case ModeRemove:
		n, err := s.collector.Remove(ctx, name)
		if err != nil {
			return stage.Signal{}, err
		}
		logger.Info("catalog streams removed", logging.String(logging.FieldFile, name), logging.Int("streams", n))
		return stage.Continue(), nil
	case ModeRestore:
		n, err := s.collector.Collect(ctx, path, name)
		if err != nil {
			return stage.Signal{}, err
		}
		logger.Info("catalog streams restored", logging.String(logging.FieldFile, name), logging.Int("streams", n))
		if s.halt {
			return stage.Stop(CodeRestored, fmt.Sprintf("%d streams restored", n)), nil
		}
		return stage.Continue(), nil
	default:
		return stage.Signal{}, services.Wrap(services.ErrConfiguration, s.name, "mode",
			fmt.Sprintf("unsupported catalog withdraw mode %q", s.mode), nil)
	}
}
