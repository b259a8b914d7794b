package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/flashwear/internal/bytesize"
	"github.com/marmos91/flashwear/pkg/journal"
	"github.com/marmos91/flashwear/pkg/wearlevel"
)

// ApplyDefaults fills zero-valued fields. Explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	applyMetricsDefaults(&cfg.Metrics)
	cfg.API.ApplyDefaults()
	applyDeviceDefaults(&cfg.Device)
	applyPolicyDefaults(&cfg.Policy)
	applyMaintenanceDefaults(&cfg.Maintenance)
	applySnapshotDefaults(&cfg.Snapshot)
	applyJournalDefaults(&cfg.Journal)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = "http://localhost:4040"
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyDeviceDefaults(cfg *DeviceConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	if cfg.BlockCount == 0 {
		cfg.BlockCount = 1024
	}
	if cfg.BlockSize == 0 {
		cfg.BlockSize = 128 * bytesize.KiB
	}
}

// applyPolicyDefaults fills each unset field from wearlevel.DefaultPolicy.
// A zero in the file reads as unset, so an unlimited MaxEraseCount is not
// expressible here.
func applyPolicyDefaults(cfg *PolicyConfig) {
	def := wearlevel.DefaultPolicy()
	if cfg.MaxEraseCount == 0 {
		cfg.MaxEraseCount = def.MaxEraseCount
	}
	if cfg.StaticIdleThreshold == 0 {
		cfg.StaticIdleThreshold = def.StaticIdleThreshold
	}
	if cfg.RelocateErasesThreshold == 0 {
		cfg.RelocateErasesThreshold = def.RelocateErasesThreshold
	}
	if cfg.WriteFrequencyThreshold == 0 {
		cfg.WriteFrequencyThreshold = def.WriteFrequencyThreshold
	}
	if cfg.MaxBadBlockRatio == 0 {
		cfg.MaxBadBlockRatio = def.MaxBadBlockRatio
	}
	if cfg.RecencyWindow == 0 {
		cfg.RecencyWindow = def.RecencyWindow
	}
	if cfg.FrequencyHalfLife == 0 {
		cfg.FrequencyHalfLife = def.FrequencyHalfLife
	}
	if cfg.AllocateRetries == 0 {
		cfg.AllocateRetries = def.AllocateRetries
	}
}

func applyMaintenanceDefaults(cfg *MaintenanceConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.SnapshotInterval == 0 {
		cfg.SnapshotInterval = time.Minute
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
}

func applySnapshotDefaults(cfg *SnapshotConfig) {
	if cfg.Type == "" {
		cfg.Type = "file"
	}
	if cfg.Type == "file" && cfg.File == nil {
		cfg.File = map[string]any{"path": filepath.Join(defaultDataDir(), "snapshot.fwsn")}
	}
	if cfg.Type == "badger" && cfg.Badger == nil {
		cfg.Badger = map[string]any{"path": filepath.Join(defaultDataDir(), "snapshots")}
	}
}

func applyJournalDefaults(cfg *JournalConfig) {
	if cfg.Dir == "" {
		cfg.Dir = defaultDataDir()
	}
	if cfg.InitialSize == 0 {
		cfg.InitialSize = bytesize.ByteSize(journal.DefaultInitialSize)
	}
}

// defaultDataDir is $XDG_STATE_HOME/flashwear, falling back to
// ~/.local/state/flashwear.
func defaultDataDir() string {
	return filepath.Join(stateHome(), "flashwear")
}

// GetDefaultConfig returns a Config with all default values applied.
// The journal is on by default.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Journal: JournalConfig{Enabled: true},
	}
	ApplyDefaults(cfg)
	return cfg
}
