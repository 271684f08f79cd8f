package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"seisarchive/internal/archive"
	"seisarchive/internal/catalog"
	"seisarchive/internal/config"
	"seisarchive/internal/dublincore"
	"seisarchive/internal/logging"
	"seisarchive/internal/metadata"
	"seisarchive/internal/metadata/backend"
	"seisarchive/internal/organizer"
	"seisarchive/internal/pidstage"
	"seisarchive/internal/pipeline"
	"seisarchive/internal/preflight"
	"seisarchive/internal/provenance"
	"seisarchive/internal/sanity"
	"seisarchive/internal/services/handle"
	"seisarchive/internal/services/station"
	"seisarchive/internal/services/webhdfs"
	"seisarchive/internal/stage"
	"seisarchive/internal/transfer"
	"seisarchive/internal/waveform"
)

// Services are the collaborators stages call out to.
type Services struct {
	Metadata *metadata.Manager
	Stations station.Lookup
	Registry handle.Registry
	// Uploader is nil when no HDFS endpoint is configured; copy2hdfs is then
	// not registered.
	Uploader webhdfs.Uploader
	Parser   waveform.Parser
}

// Close releases the metadata store.
func (s Services) Close() error {
	if s.Metadata == nil {
		return nil
	}
	return s.Metadata.Store().Close()
}

// OpenServices builds the production clients described by cfg.
func OpenServices(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Services, error) {
	manager, err := backend.NewManager(ctx, cfg, logger)
	if err != nil {
		return Services{}, fmt.Errorf("open metadata store: %w", err)
	}
	svc := Services{Metadata: manager, Parser: waveform.NewMiniSEED()}

	stations, err := station.New(cfg.Station.Endpoint, cfg.StationTimeout(),
		station.WithRateLimit(cfg.Station.RequestsPerSecond))
	if err != nil {
		_ = svc.Close()
		return Services{}, fmt.Errorf("station client: %w", err)
	}
	svc.Stations = stations

	registry, err := handle.New(cfg.Handle.Endpoint, seconds(cfg.Handle.TimeoutSeconds),
		handle.WithCredentials(cfg.Handle.Username, cfg.Handle.Password),
		handle.WithDryRun(cfg.Handle.DryRun))
	if err != nil {
		_ = svc.Close()
		return Services{}, fmt.Errorf("handle client: %w", err)
	}
	svc.Registry = registry

	if cfg.HDFS.Endpoint != "" {
		uploader, err := webhdfs.New(cfg.HDFS.Endpoint, cfg.HDFS.User, seconds(cfg.HDFS.TimeoutSeconds),
			webhdfs.WithKerberos(cfg.HDFS.Principal, cfg.HDFS.Keytab),
			webhdfs.WithLogger(logger))
		if err != nil {
			_ = svc.Close()
			return Services{}, fmt.Errorf("webhdfs client: %w", err)
		}
		svc.Uploader = uploader
	}
	return svc, nil
}

// BuildTable registers every stage the process can run.
func BuildTable(cfg *config.Config, svc Services, logger *slog.Logger) (*pipeline.Table, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if svc.Metadata == nil {
		return nil, fmt.Errorf("metadata manager is required")
	}
	if svc.Parser == nil {
		svc.Parser = waveform.NewMiniSEED()
	}
	mutator := archive.NewFromConfig(cfg, logger)
	collector := catalog.NewCollector(cfg, svc.Parser, svc.Metadata.Store(), logger)

	stages := []stage.Stage{
		preflight.New(cfg, mutator, svc.Metadata.Store(), logger),
		sanity.New(cfg, svc.Parser, svc.Stations, mutator, logger),
		organizer.NewTag(cfg, mutator, logger),
		organizer.NewMove(cfg, mutator, logger),
		organizer.NewCheckoutWorking(cfg, mutator, logger),
		organizer.NewCheckoutPast(cfg, mutator, logger),
		organizer.NewDeleteInput(cfg, mutator, logger),
		dublincore.New(cfg, svc.Metadata, svc.Stations, logger),
		dublincore.NewWithdraw(cfg, svc.Metadata, logger),
		provenance.New(cfg, svc.Metadata, logger),
		provenance.NewWithdraw(svc.Metadata, logger),
		pidstage.NewCreate(cfg, svc.Metadata, svc.Registry, logger),
		pidstage.NewWithdraw(cfg, svc.Metadata, svc.Registry, logger),
		catalog.NewCollect(collector, logger),
		catalog.NewWithdraw(cfg, collector, logger),
		catalog.NewRemove(cfg, collector, logger),
		catalog.NewRestore(cfg, collector, logger),
	}
	if svc.Uploader != nil {
		stages = append(stages, transfer.New(cfg, svc.Uploader, logger))
	}
	return pipeline.NewTable(stages...)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
