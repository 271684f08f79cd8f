package testsupport

import (
	"path/filepath"
	"testing"

	"seisarchive/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Every directory it names exists on return.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths = config.Paths{
		IncomingDir: filepath.Join(base, "incoming"),
		ScratchDir:  filepath.Join(base, "scratch"),
		StateDir:    filepath.Join(base, "state"),
		LogDir:      filepath.Join(base, "logs"),
	}
	cfgVal.Archive.TrustedDir = filepath.Join(base, "archive", "trust")
	cfgVal.Archive.WarningDir = filepath.Join(base, "archive", "warning")
	cfgVal.Archive.BadDir = filepath.Join(base, "archive", "bad")
	cfgVal.Archive.NoAuthDir = filepath.Join(base, "archive", "noauth")
	cfgVal.Archive.VersionDir = filepath.Join(base, "archive", "versions")
	cfgVal.Archive.WorkingDir = filepath.Join(base, "archive", "working")
	cfgVal.Archive.PastDir = filepath.Join(base, "archive", "past")
	cfgVal.Metadata.SQLitePath = filepath.Join(base, "state", "metadata.db")
	cfgVal.Station.Endpoint = "http://127.0.0.1:0/fdsnws/station/1/query"
	cfgVal.Handle.BaseLocation = "https://archive.test/wf"
	cfgVal.Handle.MaintenanceLocation = "https://archive.test/maintenance"
	cfgVal.Catalog.RetryIntervalSeconds = 0
	cfgVal.Catalog.MaxAttempts = 2

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithAuthority enables the network authority check.
func WithAuthority(gotoTarget string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Checks.Authority = true
		b.cfg.Checks.AuthorityGoto = gotoTarget
	}
}

// WithCopyMode makes the archive copy instead of move.
func WithCopyMode() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Archive.MoveNotCopy = false
	}
}

// WithHDFS points the upload stage at endpoint.
func WithHDFS(endpoint string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.HDFS.Endpoint = endpoint
		b.cfg.HDFS.User = "eida"
		b.cfg.HDFS.DestPath = "/archive"
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.IncomingDir)
}
