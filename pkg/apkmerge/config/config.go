package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/jamesainslie/apkmerge/pkg/apkmerge/logging"
	"github.com/jamesainslie/apkmerge/pkg/apkmerge/types"
)

// EnvPrefix prefixes environment overrides, e.g. APKMERGE_MERGE_COMPRESS.
const EnvPrefix = "APKMERGE"

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Daily      bool   `mapstructure:"daily"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string            `mapstructure:"level"`
	Path       string            `mapstructure:"path"`
	Rotation   RotationConfig    `mapstructure:"rotation"`
	Components map[string]string `mapstructure:"components"`
}

// MergeConfig holds merge session defaults.
type MergeConfig struct {
	Compress bool `mapstructure:"compress"`
	Atomic   bool `mapstructure:"atomic"`
}

// HistoryConfig configures the merge history store.
type HistoryConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Path          string `mapstructure:"path"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// DeviceConfig configures adb access.
type DeviceConfig struct {
	ADBPath string        `mapstructure:"adb_path"`
	Serial  string        `mapstructure:"serial"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ExtractConfig names the bytecode extraction tools.
type ExtractConfig struct {
	VdexExtractor string `mapstructure:"vdex_extractor"`
	CdexExtractor string `mapstructure:"cdex_extractor"`
}

// Config represents the application configuration.
type Config struct {
	OutputPattern string        `mapstructure:"output_pattern"`
	Format        string        `mapstructure:"format"`
	Merge         MergeConfig   `mapstructure:"merge"`
	History       HistoryConfig `mapstructure:"history"`
	Device        DeviceConfig  `mapstructure:"device"`
	Extract       ExtractConfig `mapstructure:"extract"`
	Logging       LoggingConfig `mapstructure:"logging"`
}

// Load loads configuration from file and environment variables.
// An explicit file is read when given; otherwise the first of these is used:
//   - $XDG_CONFIG_HOME/apkmerge/config.yaml
//   - $HOME/.config/apkmerge/config.yaml
//
// A missing default file is not an error. Environment variables are
// prefixed with APKMERGE_ (e.g. APKMERGE_DEVICE_SERIAL).
func Load(file string) (*Config, error) {
	v := viper.New()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
			v.AddConfigPath(filepath.Join(xdgConfigHome, "apkmerge"))
		}
		v.AddConfigPath(filepath.Join(homeDir, ".config", "apkmerge"))
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.History.Path, err = ExpandPath(cfg.History.Path); err != nil {
		return nil, err
	}
	if cfg.Logging.Path, err = ExpandPath(cfg.Logging.Path); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("output_pattern", DefaultOutputPattern)
	v.SetDefault("format", DefaultFormat)

	v.SetDefault("merge.compress", false)
	v.SetDefault("merge.atomic", false)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", DefaultHistoryPath())
	v.SetDefault("history.retention_days", DefaultRetentionDays)

	v.SetDefault("device.adb_path", DefaultADBPath)
	v.SetDefault("device.serial", "")
	v.SetDefault("device.timeout", DefaultDeviceTimeout)

	v.SetDefault("extract.vdex_extractor", DefaultVdexExtractor)
	v.SetDefault("extract.cdex_extractor", DefaultCdexExtractor)

	v.SetDefault("logging.level", DefaultLogLevel)
	v.SetDefault("logging.path", "") // empty means logging.DefaultLogPath
	v.SetDefault("logging.rotation.max_size", DefaultLogMaxSize)
	v.SetDefault("logging.rotation.max_age", 30)
	v.SetDefault("logging.rotation.max_backups", 5)
	v.SetDefault("logging.rotation.daily", true)
	v.SetDefault("logging.components", map[string]string{
		"merge":   "info",
		"source":  "info",
		"device":  "info",
		"extract": "info",
		"pull":    "info",
	})
}

// LoggingConfig converts the logging section into a logging.Config.
// consoleLevel is empty when nothing should be mirrored to console.
func (c *Config) LoggingConfig(consoleLevel string, console io.Writer) (logging.Config, error) {
	rotation := logging.RotationConfig{
		MaxAge:     c.Logging.Rotation.MaxAge,
		MaxBackups: c.Logging.Rotation.MaxBackups,
		Daily:      c.Logging.Rotation.Daily,
	}
	if c.Logging.Rotation.MaxSize != "" {
		size, err := types.ParseSize(c.Logging.Rotation.MaxSize)
		if err != nil {
			return logging.Config{}, fmt.Errorf("logging.rotation.max_size: %w", err)
		}
		rotation.MaxSize = size
	}

	return logging.Config{
		Level:        c.Logging.Level,
		Path:         c.Logging.Path,
		Rotation:     rotation,
		Components:   c.Logging.Components,
		ConsoleLevel: consoleLevel,
		Console:      console,
	}, nil
}

// ConfigDir returns the configuration directory path.
func ConfigDir() (string, error) {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return filepath.Join(xdgConfigHome, "apkmerge"), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", "apkmerge"), nil
}

// ConfigPath returns the default config file path.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// WriteDefault writes a default config file if none exists and returns
// its path. An existing file is left untouched.
func WriteDefault() (string, error) {
	configPath, err := ConfigPath()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		return configPath, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to check config file: %w", err)
	}

	defaultConfig := fmt.Sprintf(`# apkmerge configuration

# Name of the merged APK when -o is not given (%%s = HHMMSS)
output_pattern: %s

# Report format: plain, json, yaml, pretty
format: %s

merge:
  # Deflate standalone .dex files instead of storing them
  compress: false
  # Build the output under a temporary name and rename it on success
  atomic: false

# Merge history
history:
  enabled: true
  path: %s
  retention_days: %d

# Device access for the pull commands
device:
  adb_path: %s
  # Serial passed to adb -s (empty means the only connected device)
  serial: ""
  timeout: %s

# Bytecode extraction tools
extract:
  vdex_extractor: %s
  cdex_extractor: %s

logging:
  # Log level: debug, info, warn, error
  level: %s
  # Log file path (empty means $XDG_STATE_HOME/apkmerge/apkmerge.log)
  path: ""
  rotation:
    max_size: %s
    max_age: 30       # days
    max_backups: 5
    daily: true
  components:
    merge: info
    source: info
    device: info
    extract: info
    pull: info
`, DefaultOutputPattern, DefaultFormat, DefaultHistoryPath(), DefaultRetentionDays,
		DefaultADBPath, DefaultDeviceTimeout, DefaultVdexExtractor, DefaultCdexExtractor,
		DefaultLogLevel, DefaultLogMaxSize)

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return "", fmt.Errorf("failed to write default config: %w", err)
	}

	return configPath, nil
}

// ExpandPath expands ~ in a path to the user's home directory.
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

// DataDir returns $XDG_DATA_HOME/apkmerge/ for the history database.
func DataDir() string {
	return filepath.Join(xdg.DataHome, "apkmerge")
}

// DefaultHistoryPath returns the default history database directory.
func DefaultHistoryPath() string {
	return filepath.Join(DataDir(), "history")
}
