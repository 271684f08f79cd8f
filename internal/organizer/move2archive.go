package organizer

import (
	"context"
	"fmt"
	"log/slog"

	"seisarchive/internal/archive"
	"seisarchive/internal/config"
	"seisarchive/internal/logging"
	"seisarchive/internal/sds"
	"seisarchive/internal/services"
	"seisarchive/internal/session"
	"seisarchive/internal/stage"
)

// MoveStage places a checked-in file into the trusted archive and retires
// the copy it supersedes into the version archive.
type MoveStage struct {
	base
}

var _ stage.Stage = (*MoveStage)(nil)

// NewMove constructs the move2archive stage.
func NewMove(cfg *config.Config, mutator *archive.Mutator, logger *slog.Logger) *MoveStage {
	return &MoveStage{base: newBase(MoveName, cfg, mutator, logger)}
}

func (s *MoveStage) Contract() stage.Contract { return stage.Contract{} }

func (s *MoveStage) Run(ctx context.Context, path string, sess *session.Session) (stage.Signal, error) {
	logger := logging.WithContext(ctx, s.logger)
	name := sess.CanonicalName()

	trusted, err := sds.Resolve(s.archive.TrustedDir, name)
	if err != nil {
		return stage.Halt(CodeMalformedName, err.Error()), nil
	}
	tagged := trusted + s.archive.QuarantineTag
	hasTagged, err := archive.Exists(tagged)
	if err != nil {
		return stage.Signal{}, s.fsError("stat tagged copy", tagged, err)
	}
	version, versionErr := sess.Version()
	hasVersion := versionErr == nil
	if hasTagged && !hasVersion {
		// Retiring needs the superseded number; check before anything moves.
		return stage.Signal{}, services.Wrap(services.ErrInvariant, MoveName, "retire",
			fmt.Sprintf("tagged copy %s present but no version recorded", tagged), nil)
	}

	dst, err := s.mutator.Place(path, s.archive.TrustedDir, name)
	if err != nil {
		return stage.Signal{}, s.fsError("place into trusted archive", path, err)
	}
	sess.SetLocation(dst)
	logger.Info("file placed in trusted archive",
		logging.String(logging.FieldFile, name),
		logging.String("target", dst),
		logging.String(logging.FieldEventType, "file_archived"),
	)

	switch {
	case hasTagged:
		if _, err := s.mutator.Retire(tagged, s.archive.VersionDir, name, version.Number); err != nil {
			return stage.Signal{}, s.fsError("retire tagged copy", tagged, err)
		}
	case hasVersion && version.PreviousFilename != "":
		if err := s.retirePrevious(logger, version); err != nil {
			return stage.Signal{}, err
		}
	default:
		logger.Debug("no tagged copy to retire", logging.String(logging.FieldFile, name))
	}

	if sess.Versioned() {
		if err := s.removeVersionedInputs(sess, path, dst); err != nil {
			return stage.Signal{}, err
		}
	}
	return stage.Continue(), nil
}

// retirePrevious retires the tagged copy of the last known filename when
// the canonical name changed between versions.
func (s *MoveStage) retirePrevious(logger *slog.Logger, version session.Version) error {
	prevTrusted, err := sds.Resolve(s.archive.TrustedDir, version.PreviousFilename)
	if err != nil {
		return services.Wrap(services.ErrInvariant, MoveName, "resolve previous file", version.PreviousFilename, err)
	}
	prevTagged := prevTrusted + s.archive.QuarantineTag
	exists, err := archive.Exists(prevTagged)
	if err != nil {
		return s.fsError("stat previous tagged copy", prevTagged, err)
	}
	if !exists {
		logger.Info("no tagged copy of previous version",
			logging.String("previous_file", version.PreviousFilename),
			logging.String("version", version.Number),
		)
		return nil
	}
	if _, err := s.mutator.Retire(prevTagged, s.archive.VersionDir, version.PreviousFilename, version.Number); err != nil {
		return s.fsError("retire previous tagged copy", prevTagged, err)
	}
	return nil
}

// removeVersionedInputs drops the raw '#' input and, in copy mode, the
// scratch working copy left behind by Place.
func (s *MoveStage) removeVersionedInputs(sess *session.Session, path, dst string) error {
	if err := s.mutator.Remove(sess.Source()); err != nil {
		return s.fsError("remove versioned input", sess.Source(), err)
	}
	if path == dst {
		return nil
	}
	leftover, err := archive.Exists(path)
	if err != nil {
		return s.fsError("stat working copy", path, err)
	}
	if leftover {
		if err := s.mutator.Remove(path); err != nil {
			return s.fsError("remove working copy", path, err)
		}
	}
	return nil
}
