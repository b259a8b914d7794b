package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/flashwear/internal/bytesize"
	"github.com/marmos91/flashwear/pkg/api"
	"github.com/marmos91/flashwear/pkg/wearlevel"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "FLASHWEAR"

// Config represents the flashwear daemon configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (FLASHWEAR_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout bounds the final snapshot and server drain on exit.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	API     api.APIConfig `mapstructure:"api" yaml:"api"`

	Device      DeviceConfig      `mapstructure:"device" yaml:"device"`
	Policy      PolicyConfig      `mapstructure:"policy" yaml:"policy"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance" yaml:"maintenance"`
	Snapshot    SnapshotConfig    `mapstructure:"snapshot" yaml:"snapshot"`
	Journal     JournalConfig     `mapstructure:"journal" yaml:"journal"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector (host:port).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate is the fraction of root traces kept, 0.0 to 1.0.
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Valid values: cpu, alloc_objects, alloc_space, inuse_objects, inuse_space,
	// goroutines, mutex_count, mutex_duration, block_count, block_duration
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures the Prometheus endpoint.
// When Enabled is false, no metrics are collected.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// DeviceConfig selects the flash device the engine manages.
type DeviceConfig struct {
	// Type is "memory" (simulated NAND) or "file" (block image on disk).
	Type string `mapstructure:"type" validate:"required,oneof=memory file" yaml:"type"`

	// Path of the block image. Required for the file device.
	Path string `mapstructure:"path" validate:"required_if=Type file" yaml:"path,omitempty"`

	BlockCount int `mapstructure:"block_count" validate:"required,gt=0" yaml:"block_count"`

	// BlockSize is the erase block size, e.g. "128Ki".
	BlockSize bytesize.ByteSize `mapstructure:"block_size" validate:"required,gt=0" yaml:"block_size"`

	// Endurance makes the simulated device fail erases past this count.
	// Memory device only; zero is unlimited.
	Endurance uint64 `mapstructure:"endurance" yaml:"endurance,omitempty"`

	// Faults are injected into the simulated device at startup.
	Faults []FaultConfig `mapstructure:"faults" validate:"dive" yaml:"faults,omitempty"`
}

// FaultConfig injects failures on one block of the memory device.
type FaultConfig struct {
	Block uint32 `mapstructure:"block" yaml:"block"`

	// Ops lists the failing operations: erase, program, read, corrupt.
	Ops []string `mapstructure:"ops" validate:"min=1,dive,oneof=erase program read corrupt" yaml:"ops"`
}

// PolicyConfig mirrors wearlevel.Policy with configuration tags.
type PolicyConfig struct {
	MaxEraseCount           uint64        `mapstructure:"max_erase_count" yaml:"max_erase_count"`
	StaticIdleThreshold     time.Duration `mapstructure:"static_idle_threshold" validate:"gte=0" yaml:"static_idle_threshold"`
	RelocateErasesThreshold uint64        `mapstructure:"relocate_erases_threshold" yaml:"relocate_erases_threshold"`
	WriteFrequencyThreshold float64       `mapstructure:"write_frequency_threshold" validate:"gte=0" yaml:"write_frequency_threshold"`
	MaxBadBlockRatio        float64       `mapstructure:"max_bad_block_ratio" validate:"gte=0,lte=1" yaml:"max_bad_block_ratio"`
	RecencyWindow           time.Duration `mapstructure:"recency_window" validate:"gte=0" yaml:"recency_window"`
	FrequencyHalfLife       time.Duration `mapstructure:"frequency_half_life" validate:"gt=0" yaml:"frequency_half_life"`
	AllocateRetries         int           `mapstructure:"allocate_retries" validate:"gte=0" yaml:"allocate_retries"`
}

// ToPolicy converts the configuration to an engine policy.
func (p PolicyConfig) ToPolicy() wearlevel.Policy {
	return wearlevel.Policy{
		MaxEraseCount:           p.MaxEraseCount,
		StaticIdleThreshold:     p.StaticIdleThreshold,
		RelocateErasesThreshold: p.RelocateErasesThreshold,
		WriteFrequencyThreshold: p.WriteFrequencyThreshold,
		MaxBadBlockRatio:        p.MaxBadBlockRatio,
		RecencyWindow:           p.RecencyWindow,
		FrequencyHalfLife:       p.FrequencyHalfLife,
		AllocateRetries:         p.AllocateRetries,
	}
}

// MaintenanceConfig drives the background loops of the daemon.
type MaintenanceConfig struct {
	// Interval between maintenance cycles. Zero disables the loop; cycles
	// can still be triggered through the API.
	Interval time.Duration `mapstructure:"interval" validate:"gte=0" yaml:"interval"`

	// SnapshotInterval between periodic snapshots. Zero snapshots only
	// after maintenance and on shutdown.
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval" validate:"gte=0" yaml:"snapshot_interval"`

	// Timeout bounds a single cycle.
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0" yaml:"timeout"`
}

// SnapshotConfig selects the snapshot store. Only the section matching Type
// is decoded; the others are ignored.
type SnapshotConfig struct {
	Type string `mapstructure:"type" validate:"required,oneof=memory file badger sql s3" yaml:"type"`

	File   map[string]any `mapstructure:"file" yaml:"file,omitempty"`
	Badger map[string]any `mapstructure:"badger" yaml:"badger,omitempty"`
	SQL    map[string]any `mapstructure:"sql" yaml:"sql,omitempty"`
	S3     map[string]any `mapstructure:"s3" yaml:"s3,omitempty"`
}

// JournalConfig configures the bad-block journal.
type JournalConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Dir holds the journal file.
	Dir string `mapstructure:"dir" validate:"required_if=Enabled true" yaml:"dir"`

	InitialSize bytesize.ByteSize `mapstructure:"initial_size" yaml:"initial_size"`

	// SyncOnAppend flushes every record to disk before the append returns.
	SyncOnAppend bool `mapstructure:"sync_on_append" yaml:"sync_on_append"`
}

// Load loads configuration from file, environment, and defaults.
//
// An empty configPath searches the default location. A missing file is not
// an error: the defaults are returned.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		cfg := GetDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration and explains how to create one when the
// file is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  flashwear init\n\n"+
				"Or specify a custom config file:\n"+
				"  flashwear <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  flashwear init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg as YAML. The file is owner-only because it may
// carry the JWT secret.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks the struct tags and the cross-field rules tags cannot
// express.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return err
	}
	if err := cfg.Policy.ToPolicy().Validate(); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	if cfg.Device.Type == "memory" {
		for _, f := range cfg.Device.Faults {
			if int(f.Block) >= cfg.Device.BlockCount {
				return fmt.Errorf("device fault on block %d beyond block_count %d", f.Block, cfg.Device.BlockCount)
			}
		}
	} else if len(cfg.Device.Faults) > 0 {
		return fmt.Errorf("fault injection is only supported by the memory device")
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	// FLASHWEAR_LOGGING_LEVEL=DEBUG overrides logging.level
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// applyEnvOverrides handles the variables AutomaticEnv misses because the
// key is absent from the file.
func applyEnvOverrides(cfg *Config) {
	if secret := os.Getenv(api.EnvJWTSecret); secret != "" {
		cfg.API.JWT.Secret = secret
	}
	if level := os.Getenv(EnvPrefix + "_LOGGING_LEVEL"); level != "" {
		cfg.Logging.Level = strings.ToUpper(level)
	}
}

// readConfigFile reports whether a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook accepts "128Ki", "4MB" or plain numbers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook accepts "30s", "5m" or nanoseconds.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir uses XDG_CONFIG_HOME, then ~/.config, then the working
// directory.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "flashwear")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "flashwear")
}

func stateHome() string {
	if xdgState := os.Getenv("XDG_STATE_HOME"); xdgState != "" {
		return xdgState
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "state")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
