package testsupport

import (
	"context"
	"testing"

	"seisarchive/internal/config"
	"seisarchive/internal/logging"
	"seisarchive/internal/metadata"
	"seisarchive/internal/metadata/sqlitestore"
)

// MustOpenStore opens the SQLite metadata store at the configured path and
// registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *sqlitestore.Store {
	t.Helper()

	store, err := sqlitestore.Open(context.Background(), cfg.Metadata.SQLitePath)
	if err != nil {
		t.Fatalf("sqlitestore.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// NewManager wraps a fresh store in a metadata manager using the config's
// placeholder and resolver.
func NewManager(t testing.TB, cfg *config.Config) *metadata.Manager {
	t.Helper()
	return metadata.NewManager(MustOpenStore(t, cfg), cfg.Handle.Placeholder, cfg.Provenance.Resolver, logging.NewNop())
}

// SeedNetwork registers an authoritative network.
func SeedNetwork(t testing.TB, store metadata.Store, code, description string) {
	t.Helper()
	if err := store.UpsertNetwork(context.Background(), metadata.Network{Code: code, Description: description}); err != nil {
		t.Fatalf("seed network: %v", err)
	}
}
