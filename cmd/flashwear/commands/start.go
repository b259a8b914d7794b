package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/flashwear/internal/logger"
	"github.com/marmos91/flashwear/internal/telemetry"
	"github.com/marmos91/flashwear/pkg/api"
	"github.com/marmos91/flashwear/pkg/config"
	"github.com/marmos91/flashwear/pkg/metrics"
	"github.com/marmos91/flashwear/pkg/runtime"

	// Import prometheus metrics to register init() functions
	_ "github.com/marmos91/flashwear/pkg/metrics/prometheus"
)

var pidFile string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the flashwear daemon",
	Long: `Start the flashwear daemon in the foreground.

The daemon restores the block table from the last snapshot and the bad-block
journal, runs maintenance and snapshots on the configured intervals, and
serves the REST API and Prometheus metrics. SIGINT or SIGTERM triggers a
graceful shutdown that writes a final snapshot.

Examples:
  # Start with the default config
  flashwear start

  # Start with custom config file
  flashwear start --config /etc/flashwear/config.yaml

  # Start with environment variable overrides
  FLASHWEAR_LOGGING_LEVEL=DEBUG flashwear start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Write the process id to this file")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "flashwear",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "flashwear",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.Err(err))
		}
	}()

	logger.Info("flashwear starting", "version", Version, "commit", Commit)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint)
	}

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		return err
	}

	if pidFile != "" {
		if err := os.WriteFile(pidFile, fmt.Appendf(nil, "%d", os.Getpid()), 0644); err != nil {
			_ = rt.Close(context.Background())
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	// Every background service reports here; the first failure stops the
	// daemon.
	serviceErr := make(chan error, 3)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := rt.Run(ctx); err != nil {
			serviceErr <- fmt.Errorf("runtime: %w", err)
		}
	}()

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Port)
		go func() {
			if err := metricsServer.Start(ctx); err != nil {
				serviceErr <- err
			}
		}()
	} else {
		logger.Info("Metrics collection disabled")
	}

	var apiServer *api.Server
	if cfg.API.IsEnabled() {
		apiServer, err = api.NewServer(cfg.API, rt)
		if err != nil {
			_ = rt.Close(context.Background())
			return fmt.Errorf("failed to create API server: %w", err)
		}
		go func() {
			if err := apiServer.Start(ctx); err != nil {
				serviceErr <- err
			}
		}()
	} else {
		logger.Info("API server disabled")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("Daemon is running. Press Ctrl+C to stop.")

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown", "signal", sig.String())
	case runErr = <-serviceErr:
		logger.Error("Service failed, shutting down", logger.Err(runErr))
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	// Let an in-flight maintenance cycle unwind before the final snapshot.
	select {
	case <-runDone:
	case <-shutdownCtx.Done():
	}

	var errs []error
	if apiServer != nil {
		errs = append(errs, apiServer.Stop(shutdownCtx))
	}
	if metricsServer != nil {
		errs = append(errs, metricsServer.Stop(shutdownCtx))
	}
	errs = append(errs, rt.Close(shutdownCtx))

	if err := errors.Join(append(errs, runErr)...); err != nil {
		logger.Error("Shutdown finished with errors", logger.Err(err))
		return err
	}
	logger.Info("Daemon stopped gracefully")
	return nil
}

// openRuntime builds the device, journal and snapshot store from cfg and
// restores the engine. Resources opened before a failure are released.
func openRuntime(ctx context.Context, cfg *config.Config) (*runtime.Runtime, error) {
	dev, err := config.CreateDevice(cfg.Device)
	if err != nil {
		return nil, err
	}

	j, err := config.CreateJournal(cfg.Journal)
	if err != nil {
		closeIfCloser(dev)
		return nil, err
	}

	store, err := config.CreateSnapshotStore(ctx, cfg.Snapshot)
	if err != nil {
		_ = j.Close()
		closeIfCloser(dev)
		return nil, err
	}

	rt, err := runtime.Open(ctx, runtime.Options{
		Policy:              cfg.Policy.ToPolicy(),
		Device:              dev,
		DeviceKind:          cfg.Device.Type,
		BlockCount:          cfg.Device.BlockCount,
		BlockSize:           cfg.Device.BlockSize.Int(),
		Store:               store,
		StoreType:           cfg.Snapshot.Type,
		Journal:             j,
		MaintenanceInterval: cfg.Maintenance.Interval,
		SnapshotInterval:    cfg.Maintenance.SnapshotInterval,
		MaintenanceTimeout:  cfg.Maintenance.Timeout,
		Metrics:             metrics.NewEngineMetrics(),
		StoreMetrics:        metrics.NewStoreMetrics(),
	})
	if err != nil {
		_ = store.Close()
		_ = j.Close()
		closeIfCloser(dev)
		return nil, fmt.Errorf("failed to open runtime: %w", err)
	}
	return rt, nil
}

func closeIfCloser(v any) {
	if c, ok := v.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}
