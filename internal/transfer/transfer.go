// Package transfer copies archived files to the distributed filesystem.
package transfer

import (
	"context"
	"log/slog"

	"seisarchive/internal/config"
	"seisarchive/internal/logging"
	"seisarchive/internal/services"
	"seisarchive/internal/services/webhdfs"
	"seisarchive/internal/session"
	"seisarchive/internal/stage"
)

// Name is the stage table key.
const Name = "copy2hdfs"

// Stage uploads the file under processing to hdfs.dest_path.
type Stage struct {
	uploader webhdfs.Uploader
	dest     string
	logger   *slog.Logger
}

var _ stage.Stage = (*Stage)(nil)

// New constructs the copy2hdfs stage.
func New(cfg *config.Config, uploader webhdfs.Uploader, logger *slog.Logger) *Stage {
	return &Stage{
		uploader: uploader,
		dest:     cfg.HDFS.DestPath,
		logger:   logging.NewComponentLogger(logger, Name),
	}
}

func (s *Stage) Name() string { return Name }

func (s *Stage) Contract() stage.Contract { return stage.Contract{} }

// Run opens an upload session per file; credentials are refreshed on
// Connect.
func (s *Stage) Run(ctx context.Context, path string, sess *session.Session) (stage.Signal, error) {
	logger := logging.WithContext(ctx, s.logger)
	if s.uploader == nil || s.dest == "" {
		return stage.Signal{}, services.Wrap(services.ErrConfiguration, Name, "upload", "hdfs endpoint or dest_path not configured", nil)
	}
	if err := s.uploader.Connect(ctx); err != nil {
		return stage.Signal{}, services.Wrap(services.ErrExternalService, Name, "connect", s.dest, err)
	}
	defer func() {
		if err := s.uploader.Close(); err != nil {
			logger.Debug("hdfs session close failed", logging.Error(err))
		}
	}()

	remote, err := s.uploader.Upload(ctx, path, s.dest)
	if err != nil {
		return stage.Signal{}, services.Wrap(services.ErrExternalService, Name, "upload", path, err)
	}
	logger.Info("file copied to hdfs",
		logging.String(logging.FieldFile, sess.CanonicalName()),
		logging.String("remote_path", remote),
	)
	return stage.Continue(), nil
}
