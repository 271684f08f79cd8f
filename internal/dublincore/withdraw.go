package dublincore

import (
	"context"
	"errors"
	"log/slog"

	"seisarchive/internal/config"
	"seisarchive/internal/logging"
	"seisarchive/internal/metadata"
	"seisarchive/internal/services"
	"seisarchive/internal/session"
	"seisarchive/internal/stage"
)

// Withdraw modes.
const (
	ModeUpdate = "UPDATE"
	ModeDelete = "DELETE"
)

// WithdrawStage disables (UPDATE) or removes (DELETE) the record of a file.
type WithdrawStage struct {
	mode    string
	manager *metadata.Manager
	logger  *slog.Logger
}

var _ stage.Stage = (*WithdrawStage)(nil)

// NewWithdraw constructs the dublincoreupdel stage.
func NewWithdraw(cfg *config.Config, manager *metadata.Manager, logger *slog.Logger) *WithdrawStage {
	return &WithdrawStage{
		mode:    cfg.DublinCore.WithdrawMode,
		manager: manager,
		logger:  logging.NewComponentLogger(logger, WithdrawName),
	}
}

func (s *WithdrawStage) Name() string { return WithdrawName }

func (s *WithdrawStage) Contract() stage.Contract {
	return stage.Contract{Writes: []session.Field{session.FieldIdentifier}}
}

func (s *WithdrawStage) Run(ctx context.Context, _ string, sess *session.Session) (stage.Signal, error) {
	name := sess.CanonicalName()
	obj, err := s.manager.WithdrawObject(ctx, name, s.mode == ModeDelete)
	if errors.Is(err, services.ErrNotFound) {
		return stage.Halt(CodeMissing, err.Error()), nil
	}
	if err != nil {
		return stage.Signal{}, services.Wrap(services.ErrExternalService, WithdrawName, "withdraw record", name, err)
	}
	if !sess.Has(session.FieldIdentifier) {
		if err := sess.SetIdentifier(obj.Identifier); err != nil {
			return stage.Signal{}, err
		}
	}
	logging.WithContext(ctx, s.logger).Info("dublin core record withdrawn",
		logging.String(logging.FieldFile, name),
		logging.String(logging.FieldIdentifier, obj.Identifier),
		logging.String("mode", s.mode),
	)
	return stage.Continue(), nil
}
