package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/victron-monitor/config"
	"github.com/mjasion/balena-home/victron-monitor/display"
	"github.com/mjasion/balena-home/victron-monitor/forward"
	"github.com/mjasion/balena-home/victron-monitor/liveapi"
	"github.com/mjasion/balena-home/victron-monitor/metrics"
	"github.com/mjasion/balena-home/victron-monitor/pkg/buffer"
	pkgmetrics "github.com/mjasion/balena-home/victron-monitor/pkg/metrics"
	"github.com/mjasion/balena-home/victron-monitor/pkg/profiling"
	"github.com/mjasion/balena-home/victron-monitor/pkg/telemetry"
	"github.com/mjasion/balena-home/victron-monitor/scanner"
	"github.com/mjasion/balena-home/victron-monitor/victron"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("c", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting Victron BLE monitoring service")
	cfg.PrintConfig(logger)

	// Initialize Pyroscope profiling
	profiler, err := profiling.Start(&cfg.Profiling, logger)
	if err != nil {
		logger.Error("failed to initialize profiler", zap.Error(err))
		os.Exit(1)
	}
	defer func() {
		if err := profiler.Stop(); err != nil {
			logger.Error("failed to shutdown profiler", zap.Error(err))
		}
	}()

	// Initialize OpenTelemetry providers before the monitor so its decode
	// counter binds to the configured meter provider
	ctx := context.Background()
	otelProviders, err := telemetry.InitProviders(ctx, &cfg.OpenTelemetry, logger)
	if err != nil {
		logger.Error("failed to initialize OpenTelemetry providers", zap.Error(err))
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := otelProviders.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown OpenTelemetry providers", zap.Error(err))
		}
	}()

	tracer := otel.Tracer("main")
	ctx, mainSpan := tracer.Start(ctx, "main.run")
	defer mainSpan.End()

	// Key registry and device table
	keys := victron.NewKeyRegistry()
	if err := cfg.RegisterKeys(keys); err != nil {
		logger.Error("failed to register device keys", zap.Error(err))
		os.Exit(1)
	}
	table := victron.NewDeviceTable()
	logger.Info("device keys registered", zap.Int("key_count", keys.Len()))

	// Ring buffer feeding the uploader; every decoded snapshot lands here
	var ringBuffer *buffer.RingBuffer[victron.Snapshot]
	var sink func(victron.Snapshot)
	if cfg.Prometheus.Enabled {
		ringBuffer = buffer.New[victron.Snapshot](cfg.Prometheus.BufferSize, logger)
		sink = ringBuffer.Add
		logger.Info("ring buffer created", zap.Int("capacity", cfg.Prometheus.BufferSize))
	}

	monitor := victron.NewMonitor(victron.MonitorConfig{
		Layout: cfg.Layout(),
		Sink:   sink,
	}, keys, table, logger)

	// Create cancelable context for graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	// Convert config devices to scanner format
	scannerDevices := make([]scanner.DeviceConfig, len(cfg.Devices))
	for i, d := range cfg.Devices {
		scannerDevices[i] = scanner.DeviceConfig{
			Name:       d.Name,
			MACAddress: d.MACAddress,
		}
	}

	// Start BLE scanner
	bleScanner := scanner.New(scannerDevices, monitor, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := bleScanner.Start(ctx); err != nil {
			logger.Error("BLE scanner failed", zap.Error(err))
			cancel()
		}
	}()

	// Start Prometheus pusher
	var pusher *pkgmetrics.Pusher[victron.Snapshot]
	if cfg.Prometheus.Enabled {
		builders := metrics.NewBuilders(cfg.DeviceNames())
		pusher = pkgmetrics.New(pkgmetrics.Config{
			URL:          cfg.Prometheus.URL,
			Username:     cfg.Prometheus.Username,
			Password:     cfg.Prometheus.Password,
			PushInterval: cfg.PushInterval(),
			BatchSize:    cfg.Prometheus.BatchSize,
		}, ringBuffer, builders.Combined(), logger)
		logger.Info("prometheus pusher initialized", zap.String("url", cfg.Prometheus.URL))

		wg.Add(1)
		go func() {
			defer wg.Done()
			pusher.Start(ctx)
		}()
	} else {
		logger.Info("prometheus upload disabled")
	}

	// Start live API
	if cfg.LiveAPI.Enabled {
		apiCfg := liveapi.Config{
			Port:      cfg.LiveAPI.Port,
			Freshness: time.Duration(cfg.LiveAPI.FreshnessSeconds) * time.Second,
		}
		if pusher != nil {
			apiCfg.Uploader = pusher
			apiCfg.PushInterval = cfg.PushInterval()
		}
		api := liveapi.New(apiCfg, monitor, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := api.Start(ctx); err != nil {
				logger.Error("live API failed", zap.Error(err))
				cancel()
			}
		}()
	}

	// Start status display
	if cfg.Display.Enabled {
		reporter := display.NewReporter(table, cfg.Display.Schedule,
			time.Duration(cfg.Display.FreshnessSeconds)*time.Second, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := reporter.Start(ctx); err != nil {
				logger.Error("status display failed", zap.Error(err))
			}
		}()
	}

	// Start NATS forwarder
	if cfg.Forward.Enabled {
		nc, err := forward.Connect(cfg.Forward.NATSURL, logger)
		if err != nil {
			logger.Error("NATS forwarder disabled", zap.Error(err))
		} else {
			defer nc.Drain()

			forwarder := forward.New(forward.Config{
				SubjectPrefix: cfg.Forward.SubjectPrefix,
				Interval:      time.Duration(cfg.Forward.IntervalSeconds) * time.Second,
				Freshness:     time.Duration(cfg.Forward.FreshnessSeconds) * time.Second,
			}, nc, table, logger)

			wg.Add(1)
			go func() {
				defer wg.Done()
				forwarder.Start(ctx)
			}()
		}
	}

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("context cancelled")
	}

	cancel()

	logger.Info("stopping BLE scanner")
	if err := bleScanner.Stop(); err != nil {
		logger.Error("failed to stop BLE scanner", zap.Error(err))
	}

	// Final push of remaining data
	if pusher != nil {
		logger.Info("performing final metrics push")
		finalCtx, finalCancel := context.WithTimeout(context.Background(), 10*time.Second)
		delivered := pusher.Flush(finalCtx)
		finalCancel()
		logger.Info("final metrics push finished", zap.Int("snapshot_count", delivered))
	}

	logger.Info("waiting for goroutines to finish")
	wg.Wait()

	diag := monitor.Diagnostics()
	logger.Info("Victron BLE monitoring service stopped",
		zap.Uint64("decoded", diag.Decoded),
		zap.Uint64("dropped", diag.Dropped),
	)
}
