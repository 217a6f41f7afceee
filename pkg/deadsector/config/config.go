package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/jamesainslie/deadsector/pkg/deadsector/types"
)

// EnvPrefix is prepended to environment overrides, e.g.
// DEADSECTOR_FILL_PERCENTAGE=50.
const EnvPrefix = "DEADSECTOR"

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	Daily      bool   `mapstructure:"daily"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string            `mapstructure:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Path       string            `mapstructure:"path"`
	Rotation   RotationConfig    `mapstructure:"rotation"`
	Components map[string]string `mapstructure:"components"`
}

// ScanConfig configures the raw device scanner.
type ScanConfig struct {
	BlockSize        string        `mapstructure:"block_size" validate:"required,size"`
	Limit            string        `mapstructure:"limit" validate:"required,size"`
	Direct           bool          `mapstructure:"direct"`
	ProgressInterval time.Duration `mapstructure:"progress_interval" validate:"gte=0"`
}

// FillConfig configures the free-space filler.
type FillConfig struct {
	FileSize             string `mapstructure:"file_size" validate:"required,size"`
	Percentage           int    `mapstructure:"percentage" validate:"gte=1,lte=100"`
	ChunkSize            string `mapstructure:"chunk_size" validate:"required,size"`
	MaxConsecutiveErrors int    `mapstructure:"max_consecutive_errors" validate:"gte=0"`
}

// VerifyConfig configures the integrity checker.
type VerifyConfig struct {
	ChunkSize string `mapstructure:"chunk_size" validate:"required,size"`
}

// QuarantineConfig configures bad-file retention.
type QuarantineConfig struct {
	DirName           string `mapstructure:"dir_name" validate:"required,excludesall=/"`
	MaxRenameAttempts int    `mapstructure:"max_rename_attempts" validate:"gte=1"`
}

// HistoryConfig configures the operation history.
type HistoryConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Path          string `mapstructure:"path"`
	RetentionDays int    `mapstructure:"retention_days" validate:"gte=0"`
}

// RegionsConfig configures the persistent bad-region index.
type RegionsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// SmartConfig configures smartctl invocation.
type SmartConfig struct {
	Binary  string        `mapstructure:"binary" validate:"required"`
	Sudo    bool          `mapstructure:"sudo"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// MetricsConfig configures the node_exporter textfile output.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// Config represents the application configuration.
type Config struct {
	Scan       ScanConfig       `mapstructure:"scan"`
	Fill       FillConfig       `mapstructure:"fill"`
	Verify     VerifyConfig     `mapstructure:"verify"`
	Quarantine QuarantineConfig `mapstructure:"quarantine"`
	History    HistoryConfig    `mapstructure:"history"`
	Regions    RegionsConfig    `mapstructure:"regions"`
	Smart      SmartConfig      `mapstructure:"smart"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// SetDefaults registers every default on v. The CLI calls it on the global
// viper so bound flags and the config file layer over the same values.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("scan.block_size", DefaultBlockSize)
	v.SetDefault("scan.limit", DefaultScanLimit)
	v.SetDefault("scan.direct", false)
	v.SetDefault("scan.progress_interval", DefaultProgressInterval)

	v.SetDefault("fill.file_size", DefaultFillerSize)
	v.SetDefault("fill.percentage", DefaultFillPercent)
	v.SetDefault("fill.chunk_size", DefaultWriteChunk)
	v.SetDefault("fill.max_consecutive_errors", DefaultMaxConsecutiveErrors)

	v.SetDefault("verify.chunk_size", DefaultVerifyChunk)

	v.SetDefault("quarantine.dir_name", DefaultQuarantineDirName)
	v.SetDefault("quarantine.max_rename_attempts", DefaultMaxRenameAttempts)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "")
	v.SetDefault("history.retention_days", DefaultRetentionDays)

	v.SetDefault("regions.enabled", true)
	v.SetDefault("regions.path", "")

	v.SetDefault("smart.binary", DefaultSmartBinary)
	v.SetDefault("smart.sudo", false)
	v.SetDefault("smart.timeout", DefaultSmartTimeout)

	v.SetDefault("metrics.textfile", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.rotation.max_size", "10MB")
	v.SetDefault("logging.rotation.max_age", 30)
	v.SetDefault("logging.rotation.max_backups", 5)
	v.SetDefault("logging.rotation.daily", true)
	v.SetDefault("logging.components", map[string]string{
		"rawscan":    "info",
		"fill":       "info",
		"integrity":  "info",
		"quarantine": "info",
		"smart":      "warn",
	})
}

// Load reads the config file and environment into a validated Config.
// Config file locations, first found wins:
//   - $XDG_CONFIG_HOME/deadsector/config.yaml
//   - $HOME/.config/deadsector/config.yaml
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	v.AddConfigPath(dir)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper decodes and validates the settings held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for _, p := range []*string{&cfg.History.Path, &cfg.Regions.Path, &cfg.Logging.Path, &cfg.Metrics.Textfile} {
		expanded, err := ExpandPath(*p)
		if err != nil {
			return nil, err
		}
		*p = expanded
	}
	if cfg.History.Path == "" {
		cfg.History.Path = DefaultHistoryDir()
	}
	if cfg.Regions.Path == "" {
		cfg.Regions.Path = DefaultRegionsPath()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("size", func(fl validator.FieldLevel) bool {
		_, err := types.ParseSize(fl.Field().String())
		return err == nil
	})
	return v
}

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks field constraints and that sizes parse.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	block, _ := types.ParseSize(c.Scan.BlockSize)
	if block <= 0 {
		return fmt.Errorf("%w: scan.block_size must be greater than zero", ErrInvalidConfig)
	}
	return nil
}

// Sizes holds the byte values of the size-string settings.
type Sizes struct {
	BlockSize   int64
	ScanLimit   int64
	FillerSize  int64
	FillChunk   int64
	VerifyChunk int64
}

// Sizes parses the size strings. Validate has already run, so errors here
// only come from a Config built by hand.
func (c *Config) Sizes() (Sizes, error) {
	var s Sizes
	for _, f := range []struct {
		name string
		in   string
		out  *int64
	}{
		{"scan.block_size", c.Scan.BlockSize, &s.BlockSize},
		{"scan.limit", c.Scan.Limit, &s.ScanLimit},
		{"fill.file_size", c.Fill.FileSize, &s.FillerSize},
		{"fill.chunk_size", c.Fill.ChunkSize, &s.FillChunk},
		{"verify.chunk_size", c.Verify.ChunkSize, &s.VerifyChunk},
	} {
		n, err := types.ParseSize(f.in)
		if err != nil {
			return Sizes{}, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.out = n
	}
	return s, nil
}

// ConfigDir returns $XDG_CONFIG_HOME/deadsector, falling back to
// ~/.config/deadsector.
func ConfigDir() (string, error) {
	if home := os.Getenv("XDG_CONFIG_HOME"); home != "" {
		return filepath.Join(home, "deadsector"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "deadsector"), nil
}

// ConfigFile returns the path of config.yaml inside ConfigDir.
func ConfigFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// EnsureConfigDir creates the config directory if it doesn't exist.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return nil
}

// WriteDefault writes a commented default config file. An existing file
// is left untouched and its path returned.
func WriteDefault() (string, error) {
	if err := EnsureConfigDir(); err != nil {
		return "", err
	}
	path, err := ConfigFile()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to check config file: %w", err)
	}

	content := fmt.Sprintf(`# deadsector configuration

scan:
  # Read unit for raw device scans
  block_size: %s
  # Stop after this many bytes; 0 scans the whole device
  limit: "%s"
  # Bypass the page cache (O_DIRECT)
  direct: false
  progress_interval: %s

fill:
  # Size of each filler file
  file_size: %s
  # Share of free space to occupy, 1-100
  percentage: %d
  chunk_size: %s
  # Stop after this many failed files in a row
  max_consecutive_errors: %d

verify:
  chunk_size: %s

quarantine:
  # Created at the root of the filesystem being isolated
  dir_name: %s
  max_rename_attempts: %d

history:
  enabled: true
  # Empty means %s
  path: ""
  retention_days: %d

regions:
  # Remember failing offsets across raw scans
  enabled: true
  # Empty means %s
  path: ""

smart:
  binary: %s
  # Run smartctl through sudo when not root
  sudo: false
  timeout: %s

metrics:
  # node_exporter textfile collector output, e.g.
  # /var/lib/node_exporter/textfile/deadsector.prom
  textfile: ""

logging:
  # debug, info, warn, error
  level: info
  # Empty means %s
  path: ""
  rotation:
    max_size: 10MB
    max_age: 30
    max_backups: 5
    daily: true
  components:
    rawscan: info
    fill: info
    integrity: info
    quarantine: info
    smart: warn
`,
		DefaultBlockSize, DefaultScanLimit, DefaultProgressInterval,
		DefaultFillerSize, DefaultFillPercent, DefaultWriteChunk, DefaultMaxConsecutiveErrors,
		DefaultVerifyChunk,
		DefaultQuarantineDirName, DefaultMaxRenameAttempts,
		DefaultHistoryDir(), DefaultRetentionDays,
		DefaultRegionsPath(),
		DefaultSmartBinary, DefaultSmartTimeout,
		DefaultLogPath())

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write default config: %w", err)
	}
	return path, nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, path[1:]), nil
}

// DataDir returns $XDG_DATA_HOME/deadsector/ for the region index.
func DataDir() string {
	return filepath.Join(xdg.DataHome, "deadsector")
}

// StateDir returns $XDG_STATE_HOME/deadsector/ for logs and history.
func StateDir() string {
	return filepath.Join(xdg.StateHome, "deadsector")
}

// DefaultHistoryDir returns the default operation history directory.
func DefaultHistoryDir() string {
	return filepath.Join(StateDir(), "history")
}

// DefaultRegionsPath returns the default bad-region index directory.
func DefaultRegionsPath() string {
	return filepath.Join(DataDir(), "regions")
}

// DefaultLogPath returns the default log file path.
func DefaultLogPath() string {
	return filepath.Join(StateDir(), "deadsector.log")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	if err := os.MkdirAll(DataDir(), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	return nil
}

// EnsureStateDir creates the state directory if it doesn't exist.
func EnsureStateDir() error {
	if err := os.MkdirAll(StateDir(), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	return nil
}
