package organizer

import (
	"context"
	"log/slog"
	"path/filepath"

	"seisarchive/internal/archive"
	"seisarchive/internal/config"
	"seisarchive/internal/logging"
	"seisarchive/internal/sds"
	"seisarchive/internal/session"
	"seisarchive/internal/stage"
)

// WorkingStage moves a checked-out file into the working archive under its
// versioned name so it can be edited and checked in again.
type WorkingStage struct {
	base
}

var _ stage.Stage = (*WorkingStage)(nil)

// NewCheckoutWorking constructs the checkout2working stage.
func NewCheckoutWorking(cfg *config.Config, mutator *archive.Mutator, logger *slog.Logger) *WorkingStage {
	return &WorkingStage{base: newBase(CheckoutWorkingName, cfg, mutator, logger)}
}

func (s *WorkingStage) Contract() stage.Contract {
	return stage.Contract{Requires: []session.Field{session.FieldIdentifier}}
}

func (s *WorkingStage) Run(ctx context.Context, path string, sess *session.Session) (stage.Signal, error) {
	identifier, err := sess.Identifier()
	if err != nil {
		return stage.Signal{}, err
	}
	name := sess.CanonicalName()
	versioned := sds.VersionedName(name, identifier)

	// The SDS layout is derived from the canonical name; the '#' suffix only
	// lives in the basename.
	dir := s.archive.WorkingDir
	if s.archive.WorkingLayout == config.LayoutSDS {
		resolved, err := sds.Resolve(s.archive.WorkingDir, name)
		if err != nil {
			return stage.Halt(CodeMalformedName, err.Error()), nil
		}
		dir = filepath.Dir(resolved)
	}
	target := filepath.Join(dir, versioned)

	if err := s.mutator.Move(path, target); err != nil {
		return stage.Signal{}, s.fsError("move to working archive", path, err)
	}
	sess.SetLocation(target)
	logging.WithContext(ctx, s.logger).Info("file checked out to working archive",
		logging.String(logging.FieldFile, name),
		logging.String(logging.FieldIdentifier, identifier),
		logging.String("target", target),
		logging.String(logging.FieldEventType, "file_checked_out"),
	)
	return stage.Continue(), nil
}

// PastStage moves a withdrawn file into the past archive and deletes its
// trusted copy.
type PastStage struct {
	base
}

var _ stage.Stage = (*PastStage)(nil)

// NewCheckoutPast constructs the checkout2past stage.
func NewCheckoutPast(cfg *config.Config, mutator *archive.Mutator, logger *slog.Logger) *PastStage {
	return &PastStage{base: newBase(CheckoutPastName, cfg, mutator, logger)}
}

func (s *PastStage) Contract() stage.Contract { return stage.Contract{} }

func (s *PastStage) Run(ctx context.Context, path string, sess *session.Session) (stage.Signal, error) {
	logger := logging.WithContext(ctx, s.logger)
	name := sess.CanonicalName()

	trusted, err := sds.Resolve(s.archive.TrustedDir, name)
	if err != nil {
		return stage.Halt(CodeMalformedName, err.Error()), nil
	}
	target, err := archive.Target(s.archive.PastDir, name, s.archive.PastLayout)
	if err != nil {
		return stage.Halt(CodeMalformedName, err.Error()), nil
	}
	if err := s.mutator.Move(path, target); err != nil {
		return stage.Signal{}, s.fsError("move to past archive", path, err)
	}
	sess.SetLocation(target)

	if trusted != path {
		if err := s.mutator.Remove(trusted); err != nil {
			return stage.Signal{}, s.fsError("remove trusted copy", trusted, err)
		}
	}
	logger.Info("file withdrawn to past archive",
		logging.String(logging.FieldFile, name),
		logging.String("target", target),
		logging.String(logging.FieldEventType, "file_withdrawn"),
	)
	return stage.Continue(), nil
}

// DeleteStage removes the input file. Policies use it as a detour for
// rejected files that should not be kept.
type DeleteStage struct {
	base
}

var _ stage.Stage = (*DeleteStage)(nil)

// NewDeleteInput constructs the delinput stage.
func NewDeleteInput(cfg *config.Config, mutator *archive.Mutator, logger *slog.Logger) *DeleteStage {
	return &DeleteStage{base: newBase(DeleteInputName, cfg, mutator, logger)}
}

func (s *DeleteStage) Contract() stage.Contract { return stage.Contract{RawVersioned: true} }

func (s *DeleteStage) Run(ctx context.Context, path string, sess *session.Session) (stage.Signal, error) {
	if err := s.mutator.Remove(path); err != nil {
		return stage.Signal{}, s.fsError("delete input", path, err)
	}
	if wc, err := sess.WorkingCopy(); err == nil && wc.Path != path {
		if present, _ := archive.Exists(wc.Path); present {
			if err := s.mutator.Remove(wc.Path); err != nil {
				return stage.Signal{}, s.fsError("delete working copy", wc.Path, err)
			}
		}
	}
	sess.SetLocation("")
	logging.WithContext(ctx, s.logger).Info("input deleted",
		logging.String(logging.FieldFile, sess.CanonicalName()),
		logging.String(logging.FieldEventType, "file_deleted"),
	)
	return stage.Continue(), nil
}
