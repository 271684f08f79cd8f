package organizer

import (
	"context"
	"fmt"
	"log/slog"

	"seisarchive/internal/archive"
	"seisarchive/internal/config"
	"seisarchive/internal/logging"
	"seisarchive/internal/sds"
	"seisarchive/internal/session"
	"seisarchive/internal/stage"
)

// TagStage renames the trusted copy of a checked-out file to
// <name><quarantine tag> so nothing else treats it as current.
type TagStage struct {
	base
}

var _ stage.Stage = (*TagStage)(nil)

// NewTag constructs the tagafile stage.
func NewTag(cfg *config.Config, mutator *archive.Mutator, logger *slog.Logger) *TagStage {
	return &TagStage{base: newBase(TagName, cfg, mutator, logger)}
}

func (s *TagStage) Contract() stage.Contract { return stage.Contract{} }

func (s *TagStage) Run(ctx context.Context, path string, sess *session.Session) (stage.Signal, error) {
	logger := logging.WithContext(ctx, s.logger)

	present, err := archive.Exists(path)
	if err != nil {
		return stage.Signal{}, s.fsError("stat input", path, err)
	}
	if !present {
		return stage.Halt(CodeInputMissing, "file no longer exists in the checkout area"), nil
	}

	name := sess.CanonicalName()
	trusted, err := sds.Resolve(s.archive.TrustedDir, name)
	if err != nil {
		return stage.Halt(CodeMalformedName, err.Error()), nil
	}
	exists, err := archive.Exists(trusted)
	if err != nil {
		return stage.Signal{}, s.fsError("stat trusted copy", trusted, err)
	}
	if !exists {
		logger.Info("no trusted copy to tag", logging.String(logging.FieldFile, name))
		return stage.Continue(), nil
	}

	same, err := s.mutator.SameContent(trusted, path)
	if err != nil {
		return stage.Signal{}, s.fsError("compare trusted copy", trusted, err)
	}
	if !same {
		return stage.Rejected(sess, TagName, CodeTrustedMismatch,
			fmt.Sprintf("checked-out file differs from trusted copy %s", trusted)), nil
	}

	tagged, err := s.mutator.Tag(trusted, s.archive.QuarantineTag)
	if err != nil {
		return stage.Signal{}, s.fsError("tag trusted copy", trusted, err)
	}
	logger.Info("trusted copy tagged",
		logging.String(logging.FieldFile, name),
		logging.String("tagged", tagged),
	)
	return stage.Continue(), nil
}
