package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Layout selects how files are laid out below an archive root.
type Layout string

const (
	LayoutFlat Layout = "flat"
	LayoutSDS  Layout = "sds"
)

// Paths contains working directories outside the archive proper.
type Paths struct {
	IncomingDir string `toml:"incoming_dir"`
	ScratchDir  string `toml:"scratch_dir"`
	StateDir    string `toml:"state_dir"`
	LogDir      string `toml:"log_dir"`
	PolicyDir   string `toml:"policy_dir"`
}

// Archive contains the archive roots files are placed into or rejected to.
type Archive struct {
	TrustedDir    string `toml:"trusted_dir"`
	WarningDir    string `toml:"warning_dir"`
	BadDir        string `toml:"bad_dir"`
	NoAuthDir     string `toml:"no_auth_dir"`
	VersionDir    string `toml:"version_dir"`
	WorkingDir    string `toml:"working_dir"`
	PastDir       string `toml:"past_dir"`
	QuarantineTag string `toml:"quarantine_tag"`
	RejectTag     string `toml:"reject_tag"`
	MoveNotCopy   bool   `toml:"move_not_copy"`
	RejectLayout  Layout `toml:"reject_layout"`
	ScratchLayout Layout `toml:"scratch_layout"`
	WorkingLayout Layout `toml:"working_layout"`
	PastLayout    Layout `toml:"past_layout"`
}

// Checks toggles the pre-flight checks.
type Checks struct {
	Authority     bool   `toml:"authority"`
	AuthorityGoto string `toml:"authority_goto"`
	// AuthorityExit halts unauthorized files in place instead of rejecting them.
	AuthorityExit bool `toml:"authority_exit"`
	Duplicates    bool `toml:"duplicates"`
	Tagged        bool `toml:"tagged"`
}

// Sanity contains waveform validation settings.
type Sanity struct {
	AllowedTypes []string             `toml:"allowed_types"`
	BandRates    map[string][]float64 `toml:"band_rates"`
	BadGoto      string               `toml:"bad_goto"`
	CheckEpochs  bool                 `toml:"check_epochs"`
}

// Station contains the FDSN station web service connection.
type Station struct {
	Endpoint          string  `toml:"endpoint"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// Metadata selects and configures the metadata document store.
type Metadata struct {
	Backend        string `toml:"backend"`
	SQLitePath     string `toml:"sqlite_path"`
	MongoURI       string `toml:"mongo_uri"`
	MongoDatabase  string `toml:"mongo_database"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// DublinCore contains the static Dublin Core fields of new records.
type DublinCore struct {
	Title        string `toml:"title"`
	Subject      string `toml:"subject"`
	Creator      string `toml:"creator"`
	Contributor  string `toml:"contributor"`
	Publisher    string `toml:"publisher"`
	Type         string `toml:"type"`
	Format       string `toml:"format"`
	Rights       string `toml:"rights"`
	IsPartOf     string `toml:"is_part_of"`
	WithdrawMode string `toml:"withdraw_mode"`
}

// Provenance contains the static provenance fields of version records.
type Provenance struct {
	Resolver      string `toml:"resolver"`
	AttributedTo  string `toml:"attributed_to"`
	Usage         string `toml:"usage"`
	SoftwareAgent string `toml:"software_agent"`
	SoftwareApp   string `toml:"software_app"`
	Organization  string `toml:"organization"`
	Periodicity   string `toml:"periodicity"`
}

// Handle contains the persistent identifier registry settings.
type Handle struct {
	Endpoint            string `toml:"endpoint"`
	Prefix              string `toml:"prefix"`
	Placeholder         string `toml:"placeholder"`
	BaseLocation        string `toml:"base_location"`
	MaintenanceLocation string `toml:"maintenance_location"`
	Username            string `toml:"username"`
	Password            string `toml:"password"`
	DryRun              bool   `toml:"dry_run"`
	TimeoutSeconds      int    `toml:"timeout_seconds"`
	WithdrawMode        string `toml:"withdraw_mode"`
}

// HDFS contains the WebHDFS upload settings.
type HDFS struct {
	Endpoint       string `toml:"endpoint"`
	User           string `toml:"user"`
	DestPath       string `toml:"dest_path"`
	Principal      string `toml:"principal"`
	Keytab         string `toml:"keytab"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Catalog contains waveform catalog collection settings.
type Catalog struct {
	RetryIntervalSeconds int `toml:"retry_interval_seconds"`
	// MaxAttempts bounds catalog retries; 0 retries until the store answers.
	MaxAttempts  int    `toml:"max_attempts"`
	WithdrawMode string `toml:"withdraw_mode"`
	RestoreHalts bool   `toml:"restore_halts"`
}

// Workflow contains batch and watch mode settings.
type Workflow struct {
	DefaultPolicy       string `toml:"default_policy"`
	Workers             int    `toml:"workers"`
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`
	SettleSeconds       int    `toml:"settle_seconds"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Halts          bool   `toml:"halts"`
	Batches        bool   `toml:"batches"`
}

// Metrics contains the Prometheus listener settings for watch mode.
type Metrics struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for the archive pipeline.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Archive       Archive       `toml:"archive"`
	Checks        Checks        `toml:"checks"`
	Sanity        Sanity        `toml:"sanity"`
	Station       Station       `toml:"station"`
	Metadata      Metadata      `toml:"metadata"`
	DublinCore    DublinCore    `toml:"dublin_core"`
	Provenance    Provenance    `toml:"provenance"`
	Handle        Handle        `toml:"handle"`
	HDFS          HDFS          `toml:"hdfs"`
	Catalog       Catalog       `toml:"catalog"`
	Workflow      Workflow      `toml:"workflow"`
	Notifications Notifications `toml:"notifications"`
	Metrics       Metrics       `toml:"metrics"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("seisarchive.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the working directories and archive roots.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.IncomingDir, c.Paths.ScratchDir, c.Paths.StateDir, c.Paths.LogDir,
		c.Archive.TrustedDir, c.Archive.WarningDir, c.Archive.BadDir, c.Archive.NoAuthDir,
		c.Archive.VersionDir, c.Archive.WorkingDir, c.Archive.PastDir,
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// JournalPath returns the SQLite run journal location.
func (c *Config) JournalPath() string {
	return filepath.Join(c.Paths.StateDir, "journal.db")
}

// LockPath returns the watch daemon lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "seisarchive.lock")
}

// StationTimeout returns the station web service request timeout.
func (c *Config) StationTimeout() time.Duration {
	return time.Duration(c.Station.TimeoutSeconds) * time.Second
}

// MetadataTimeout returns the per-round-trip metadata store timeout.
func (c *Config) MetadataTimeout() time.Duration {
	return time.Duration(c.Metadata.TimeoutSeconds) * time.Second
}

// CatalogRetryInterval returns the fixed delay between catalog attempts.
func (c *Config) CatalogRetryInterval() time.Duration {
	return time.Duration(c.Catalog.RetryIntervalSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the configuration as TOML.
func (c *Config) Encode() (string, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return string(data), nil
}
