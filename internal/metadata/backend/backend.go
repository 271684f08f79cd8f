// Package backend opens the metadata store selected in configuration.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"seisarchive/internal/config"
	"seisarchive/internal/metadata"
	"seisarchive/internal/metadata/mongostore"
	"seisarchive/internal/metadata/sqlitestore"
	"seisarchive/internal/services"
)

const (
	SQLite = "sqlite"
	Mongo  = "mongo"
)

// Open returns the configured store. Callers own the returned store and
// must Close it.
func Open(ctx context.Context, cfg *config.Config) (metadata.Store, error) {
	switch cfg.Metadata.Backend {
	case SQLite, "":
		return sqlitestore.Open(ctx, cfg.Metadata.SQLitePath)
	case Mongo:
		return mongostore.Open(ctx, cfg.Metadata.MongoURI, cfg.Metadata.MongoDatabase, cfg.MetadataTimeout())
	default:
		return nil, services.Wrap(services.ErrConfiguration, "metadata", "open",
			fmt.Sprintf("unknown backend %q", cfg.Metadata.Backend), nil)
	}
}

// NewManager opens the configured store and wraps it in a lifecycle manager.
func NewManager(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*metadata.Manager, error) {
	store, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return metadata.NewManager(store, cfg.Handle.Placeholder, cfg.Provenance.Resolver, logger), nil
}
