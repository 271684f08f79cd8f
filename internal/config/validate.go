package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateArchive(); err != nil {
		return err
	}
	if err := c.validateSanity(); err != nil {
		return err
	}
	if err := c.validateMetadata(); err != nil {
		return err
	}
	if err := c.validateHandle(); err != nil {
		return err
	}
	if err := c.validateModes(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateArchive() error {
	if c.Archive.TrustedDir == "" {
		return errors.New("archive.trusted_dir must be set")
	}
	if c.Paths.StateDir == "" {
		return errors.New("paths.state_dir must be set")
	}
	for key, layout := range map[string]Layout{
		"archive.reject_layout":  c.Archive.RejectLayout,
		"archive.scratch_layout": c.Archive.ScratchLayout,
		"archive.working_layout": c.Archive.WorkingLayout,
		"archive.past_layout":    c.Archive.PastLayout,
	} {
		if layout != LayoutFlat && layout != LayoutSDS {
			return fmt.Errorf("%s: unsupported value %q (want flat or sds)", key, layout)
		}
	}
	if strings.Contains(c.Archive.QuarantineTag, "/") {
		return errors.New("archive.quarantine_tag must not contain path separators")
	}
	return nil
}

func (c *Config) validateSanity() error {
	if len(c.Sanity.AllowedTypes) == 0 {
		return errors.New("sanity.allowed_types must list at least one type code")
	}
	for band, limits := range c.Sanity.BandRates {
		if len(limits) != 2 {
			return fmt.Errorf("sanity.band_rates.%s must be [min, max]", band)
		}
		if limits[0] <= 0 || limits[1] <= 0 {
			return fmt.Errorf("sanity.band_rates.%s must be positive", band)
		}
	}
	if c.Station.TimeoutSeconds <= 0 {
		return errors.New("station.timeout_seconds must be positive")
	}
	if c.Station.RequestsPerSecond < 0 {
		return errors.New("station.requests_per_second must not be negative")
	}
	return nil
}

func (c *Config) validateMetadata() error {
	switch c.Metadata.Backend {
	case "sqlite":
		if c.Metadata.SQLitePath == "" {
			return errors.New("metadata.sqlite_path must be set")
		}
	case "mongo":
		if c.Metadata.MongoURI == "" {
			return errors.New("metadata.mongo_uri is required for the mongo backend. Set SEISARCHIVE_MONGO_URI or edit the config file")
		}
	default:
		return fmt.Errorf("metadata.backend: unsupported value %q (want sqlite or mongo)", c.Metadata.Backend)
	}
	if c.Metadata.TimeoutSeconds <= 0 {
		return errors.New("metadata.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateHandle() error {
	if c.Handle.Prefix == "" {
		return errors.New("handle.prefix must be set")
	}
	if c.Handle.DryRun {
		return nil
	}
	if c.Handle.Endpoint == "" {
		return errors.New("handle.endpoint must be set when dry_run is disabled")
	}
	if c.Handle.Username == "" || c.Handle.Password == "" {
		return errors.New("handle.username and handle.password are required when dry_run is disabled")
	}
	if c.Handle.BaseLocation == "" {
		return errors.New("handle.base_location must be set when dry_run is disabled")
	}
	return nil
}

func (c *Config) validateModes() error {
	switch c.DublinCore.WithdrawMode {
	case "UPDATE", "DELETE":
	default:
		return fmt.Errorf("dublin_core.withdraw_mode: unsupported value %q", c.DublinCore.WithdrawMode)
	}
	if c.Handle.WithdrawMode != "UPDATE" {
		return fmt.Errorf("handle.withdraw_mode: unsupported value %q", c.Handle.WithdrawMode)
	}
	switch c.Catalog.WithdrawMode {
	case "REMOVE", "RESTORE":
	default:
		return fmt.Errorf("catalog.withdraw_mode: unsupported value %q", c.Catalog.WithdrawMode)
	}
	if c.Catalog.RetryIntervalSeconds <= 0 {
		return errors.New("catalog.retry_interval_seconds must be positive")
	}
	if c.Catalog.MaxAttempts < 0 {
		return errors.New("catalog.max_attempts must not be negative")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.Workers <= 0 {
		return errors.New("workflow.workers must be positive")
	}
	if c.Workflow.PollIntervalSeconds <= 0 {
		return errors.New("workflow.poll_interval_seconds must be positive")
	}
	if c.Workflow.SettleSeconds < 0 {
		return errors.New("workflow.settle_seconds must not be negative")
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}
