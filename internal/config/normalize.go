package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeArchive(); err != nil {
		return err
	}
	c.normalizeSanity()
	c.normalizeMetadata()
	c.normalizeHandle()
	c.normalizeModes()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	fields := []struct {
		key   string
		value *string
	}{
		{"paths.incoming_dir", &c.Paths.IncomingDir},
		{"paths.scratch_dir", &c.Paths.ScratchDir},
		{"paths.state_dir", &c.Paths.StateDir},
		{"paths.log_dir", &c.Paths.LogDir},
		{"paths.policy_dir", &c.Paths.PolicyDir},
	}
	for _, field := range fields {
		expanded, err := expandPath(strings.TrimSpace(*field.value))
		if err != nil {
			return fmt.Errorf("%s: %w", field.key, err)
		}
		*field.value = expanded
	}
	return nil
}

func (c *Config) normalizeArchive() error {
	fields := []struct {
		key   string
		value *string
	}{
		{"archive.trusted_dir", &c.Archive.TrustedDir},
		{"archive.warning_dir", &c.Archive.WarningDir},
		{"archive.bad_dir", &c.Archive.BadDir},
		{"archive.no_auth_dir", &c.Archive.NoAuthDir},
		{"archive.version_dir", &c.Archive.VersionDir},
		{"archive.working_dir", &c.Archive.WorkingDir},
		{"archive.past_dir", &c.Archive.PastDir},
	}
	for _, field := range fields {
		expanded, err := expandPath(strings.TrimSpace(*field.value))
		if err != nil {
			return fmt.Errorf("%s: %w", field.key, err)
		}
		*field.value = expanded
	}
	if strings.TrimSpace(c.Archive.QuarantineTag) == "" {
		c.Archive.QuarantineTag = defaultQuarantineTag
	}
	if strings.TrimSpace(c.Archive.RejectTag) == "" {
		c.Archive.RejectTag = defaultRejectTag
	}
	c.Archive.RejectLayout = normalizeLayout(c.Archive.RejectLayout, LayoutFlat)
	c.Archive.ScratchLayout = normalizeLayout(c.Archive.ScratchLayout, LayoutFlat)
	c.Archive.WorkingLayout = normalizeLayout(c.Archive.WorkingLayout, LayoutSDS)
	c.Archive.PastLayout = normalizeLayout(c.Archive.PastLayout, LayoutSDS)
	return nil
}

func normalizeLayout(value Layout, fallback Layout) Layout {
	trimmed := Layout(strings.ToLower(strings.TrimSpace(string(value))))
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

func (c *Config) normalizeSanity() {
	types := make([]string, 0, len(c.Sanity.AllowedTypes))
	for _, t := range c.Sanity.AllowedTypes {
		if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
			types = append(types, t)
		}
	}
	c.Sanity.AllowedTypes = types
	c.Sanity.BadGoto = strings.TrimSpace(c.Sanity.BadGoto)
	c.Checks.AuthorityGoto = strings.TrimSpace(c.Checks.AuthorityGoto)
	c.Station.Endpoint = strings.TrimSpace(c.Station.Endpoint)
	if c.Station.Endpoint == "" {
		c.Station.Endpoint = defaultStationEndpoint
	}
}

func (c *Config) normalizeMetadata() {
	c.Metadata.Backend = strings.ToLower(strings.TrimSpace(c.Metadata.Backend))
	if c.Metadata.Backend == "" {
		c.Metadata.Backend = defaultMetadataBackend
	}
	if c.Metadata.MongoURI == "" {
		if value, ok := os.LookupEnv("SEISARCHIVE_MONGO_URI"); ok {
			c.Metadata.MongoURI = strings.TrimSpace(value)
		}
	}
	if strings.TrimSpace(c.Metadata.MongoDatabase) == "" {
		c.Metadata.MongoDatabase = defaultMongoDatabase
	}
	if strings.TrimSpace(c.Metadata.SQLitePath) == "" && c.Paths.StateDir != "" {
		c.Metadata.SQLitePath = filepath.Join(c.Paths.StateDir, "metadata.db")
	} else if expanded, err := expandPath(c.Metadata.SQLitePath); err == nil {
		c.Metadata.SQLitePath = expanded
	}
}

func (c *Config) normalizeHandle() {
	if c.Handle.Password == "" {
		if value, ok := os.LookupEnv("SEISARCHIVE_HANDLE_PASSWORD"); ok {
			c.Handle.Password = value
		}
	}
	c.Handle.Endpoint = strings.TrimRight(strings.TrimSpace(c.Handle.Endpoint), "/")
	c.Handle.Prefix = strings.Trim(strings.TrimSpace(c.Handle.Prefix), "/")
	if strings.TrimSpace(c.Handle.Placeholder) == "" {
		c.Handle.Placeholder = defaultHandlePlaceholder
	}
	c.Handle.BaseLocation = strings.TrimRight(strings.TrimSpace(c.Handle.BaseLocation), "/")
	c.Handle.MaintenanceLocation = strings.TrimSpace(c.Handle.MaintenanceLocation)
	if strings.TrimSpace(c.Provenance.Resolver) == "" {
		c.Provenance.Resolver = defaultResolver
	}
}

func (c *Config) normalizeModes() {
	c.DublinCore.WithdrawMode = upperOr(c.DublinCore.WithdrawMode, defaultWithdrawMode)
	c.Handle.WithdrawMode = upperOr(c.Handle.WithdrawMode, defaultWithdrawMode)
	c.Catalog.WithdrawMode = upperOr(c.Catalog.WithdrawMode, defaultCatalogWithdrawMode)
	c.Workflow.DefaultPolicy = strings.TrimSpace(c.Workflow.DefaultPolicy)
	if c.Workflow.DefaultPolicy == "" {
		c.Workflow.DefaultPolicy = defaultPolicy
	}
	c.Metrics.Listen = strings.TrimSpace(c.Metrics.Listen)
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = defaultMetricsListen
	}
}

func upperOr(value, fallback string) string {
	value = strings.ToUpper(strings.TrimSpace(value))
	if value == "" {
		return fallback
	}
	return value
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
