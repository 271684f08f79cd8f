// Package pidstage mints and maintains the persistent identifiers of
// archived files through the handle registry.
package pidstage

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"seisarchive/internal/config"
	"seisarchive/internal/logging"
	"seisarchive/internal/metadata"
	"seisarchive/internal/services"
	"seisarchive/internal/services/handle"
	"seisarchive/internal/session"
	"seisarchive/internal/stage"
)

// Stage table keys.
const (
	CreateName   = "pidcreate"
	WithdrawName = "pidupdel"
)

// CodeNotRegistered reports a file without a Dublin Core record.
const CodeNotRegistered = "not-registered"

// CreateStage mints an identifier for records still carrying the
// placeholder, and points existing identifiers back at the archive.
type CreateStage struct {
	cfg      config.Handle
	manager  *metadata.Manager
	registry handle.Registry
	suffix   func() (string, error)
	logger   *slog.Logger
}

var _ stage.Stage = (*CreateStage)(nil)

// NewCreate constructs the pidcreate stage.
func NewCreate(cfg *config.Config, manager *metadata.Manager, registry handle.Registry, logger *slog.Logger) *CreateStage {
	return &CreateStage{
		cfg:      cfg.Handle,
		manager:  manager,
		registry: registry,
		suffix:   timeUUID,
		logger:   logging.NewComponentLogger(logger, CreateName),
	}
}

// timeUUID returns a version 1 UUID so handles sort by minting time.
func timeUUID() (string, error) {
	id, err := uuid.NewUUID()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (s *CreateStage) Name() string { return CreateName }

func (s *CreateStage) Contract() stage.Contract {
	return stage.Contract{Writes: []session.Field{session.FieldIdentifier}}
}

func (s *CreateStage) Run(ctx context.Context, _ string, sess *session.Session) (stage.Signal, error) {
	logger := logging.WithContext(ctx, s.logger)
	name := sess.CanonicalName()
	known, _ := sess.Identifier()

	obj, err := s.manager.PreviousObject(ctx, known, name)
	if err != nil {
		return stage.Signal{}, services.Wrap(services.ErrExternalService, CreateName, "find record", name, err)
	}
	if obj == nil {
		return stage.Rejected(sess, CreateName, CodeNotRegistered, "file has no metadata record; cannot mint an identifier"), nil
	}
	if !obj.Enabled {
		logger.Info("record disabled; identifier left unchanged",
			logging.String(logging.FieldFile, name),
			logging.String(logging.FieldIdentifier, obj.Identifier),
		)
		return stage.Continue(), nil
	}

	if obj.Identifier != s.manager.Placeholder() {
		if err := sess.SetIdentifier(obj.Identifier); err != nil {
			return stage.Signal{}, err
		}
		location := s.location(obj.Identifier)
		if err := s.registry.Modify(ctx, obj.Identifier, location); err != nil {
			logging.WarnWithContext(logger, "identifier location not restored", "pid_modify_failed",
				logging.String(logging.FieldIdentifier, obj.Identifier),
				logging.String("location", location),
				logging.Error(err),
				logging.String(logging.FieldImpact, "identifier may still resolve to the maintenance page"),
			)
			return stage.Continue(), nil
		}
		logger.Info("identifier location restored",
			logging.String(logging.FieldIdentifier, obj.Identifier),
			logging.String("location", location),
		)
		return stage.Continue(), nil
	}

	suffix, err := s.suffix()
	if err != nil {
		return stage.Signal{}, services.Wrap(services.ErrTransient, CreateName, "generate handle", "", err)
	}
	requested := s.cfg.Prefix + "/" + suffix
	location := s.location(requested)
	pid, err := s.registry.Mint(ctx, requested, location)
	if err != nil {
		return stage.Signal{}, services.Wrap(services.ErrExternalService, CreateName, "mint", requested, err)
	}
	if err := s.manager.AssignIdentifier(ctx, obj.ID, name, pid); err != nil {
		return stage.Signal{}, err
	}
	if err := sess.SetIdentifier(pid); err != nil {
		return stage.Signal{}, err
	}
	logger.Info("identifier minted",
		logging.String(logging.FieldFile, name),
		logging.String(logging.FieldIdentifier, pid),
		logging.String("location", location),
		logging.Bool("dry_run", s.cfg.DryRun),
		logging.String(logging.FieldEventType, "pid_minted"),
	)
	return stage.Continue(), nil
}

func (s *CreateStage) location(identifier string) string {
	return strings.TrimSuffix(s.cfg.BaseLocation, "/") + "/" + identifier
}

// WithdrawStage points the identifier of a withdrawn file at the
// maintenance location.
type WithdrawStage struct {
	cfg      config.Handle
	manager  *metadata.Manager
	registry handle.Registry
	logger   *slog.Logger
}

var _ stage.Stage = (*WithdrawStage)(nil)

// NewWithdraw constructs the pidupdel stage.
func NewWithdraw(cfg *config.Config, manager *metadata.Manager, registry handle.Registry, logger *slog.Logger) *WithdrawStage {
	return &WithdrawStage{
		cfg:      cfg.Handle,
		manager:  manager,
		registry: registry,
		logger:   logging.NewComponentLogger(logger, WithdrawName),
	}
}

func (s *WithdrawStage) Name() string { return WithdrawName }

func (s *WithdrawStage) Contract() stage.Contract {
	return stage.Contract{Writes: []session.Field{session.FieldIdentifier}}
}

func (s *WithdrawStage) Run(ctx context.Context, _ string, sess *session.Session) (stage.Signal, error) {
	logger := logging.WithContext(ctx, s.logger)
	name := sess.CanonicalName()
	obj, err := s.manager.Store().FindObjectByFile(ctx, name)
	if err != nil {
		return stage.Signal{}, services.Wrap(services.ErrExternalService, WithdrawName, "find record", name, err)
	}
	if obj == nil {
		return stage.Rejected(sess, WithdrawName, CodeNotRegistered, "file has no metadata record"), nil
	}
	if err := sess.SetIdentifier(obj.Identifier); err != nil {
		return stage.Signal{}, err
	}
	if s.cfg.DryRun {
		logger.Info("dry run; identifier not modified", logging.String(logging.FieldIdentifier, obj.Identifier))
		return stage.Continue(), nil
	}
	if s.cfg.WithdrawMode != "UPDATE" {
		return stage.Signal{}, services.Wrap(services.ErrConfiguration, WithdrawName, "mode", s.cfg.WithdrawMode, nil)
	}
	if err := s.registry.Modify(ctx, obj.Identifier, s.cfg.MaintenanceLocation); err != nil {
		logging.WarnWithContext(logger, "identifier not pointed at maintenance location", "pid_modify_failed",
			logging.String(logging.FieldIdentifier, obj.Identifier),
			logging.Error(err),
			logging.String(logging.FieldImpact, "identifier still resolves to the withdrawn file"),
		)
		return stage.Continue(), nil
	}
	logger.Info("identifier pointed at maintenance location",
		logging.String(logging.FieldIdentifier, obj.Identifier),
		logging.String("location", s.cfg.MaintenanceLocation),
	)
	return stage.Continue(), nil
}
