// Package main implements canmon, a monitor for the 370Z CAN bus. It
// captures frames live from a serial or TCP adapter, replays recorded
// captures with their original timing, and exports captures to CSV, with
// optional SQLite persistence and NATS/WebSocket fan-out of the decoded
// stream.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/TihanPelser/370Z-CAN-Logger/catalog"
	"github.com/TihanPelser/370Z-CAN-Logger/decode"
	"github.com/TihanPelser/370Z-CAN-Logger/export"
	"github.com/TihanPelser/370Z-CAN-Logger/frame"
	"github.com/TihanPelser/370Z-CAN-Logger/input/serial"
	"github.com/TihanPelser/370Z-CAN-Logger/metric"
	"github.com/TihanPelser/370Z-CAN-Logger/monitor"
	"github.com/TihanPelser/370Z-CAN-Logger/output/natspub"
	"github.com/TihanPelser/370Z-CAN-Logger/output/wsfeed"
	"github.com/TihanPelser/370Z-CAN-Logger/replay"
	"github.com/TihanPelser/370Z-CAN-Logger/storage"
	"github.com/TihanPelser/370Z-CAN-Logger/storage/sqlite"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "canmon"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("canmon failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := parseFlags()

	if cfg.ShowHelp {
		printDetailedHelp()
		return nil
	}
	if cfg.ShowVersion {
		fmt.Printf("%s %s (build %s)\n", appName, Version, BuildTime)
		return nil
	}

	if err := validateFlags(cfg); err != nil {
		return err
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	decoder := decode.New(loadCatalog(cfg, logger))

	switch cfg.Mode {
	case "export":
		return runExport(cfg, decoder, logger)
	case "replay":
		return runReplay(cfg, decoder, logger)
	default:
		return runLive(cfg, decoder, logger)
	}
}

func loadCatalog(cfg *CLIConfig, logger *slog.Logger) *catalog.Catalog {
	if cfg.CatalogPath == "" {
		return catalog.Empty()
	}
	return catalog.Load(cfg.CatalogPath, logger)
}

// runtimeEnv bundles the pieces shared by live and replay runs.
type runtimeEnv struct {
	registry *metric.Registry
	sinks    []monitor.Sink
	store    storage.Store
	cleanup  []func()
}

func (e *runtimeEnv) close() {
	for i := len(e.cleanup) - 1; i >= 0; i-- {
		e.cleanup[i]()
	}
}

// setupRuntime wires the configured outputs: console printer, NATS
// publisher, websocket feed, metrics server, and SQLite store.
func setupRuntime(cfg *CLIConfig, logger *slog.Logger) (*runtimeEnv, error) {
	env := &runtimeEnv{}

	if cfg.MetricsPort > 0 {
		env.registry = metric.NewRegistry()
		server := metric.NewServer(cfg.MetricsPort, env.registry)
		go func() {
			if err := server.Start(); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		env.cleanup = append(env.cleanup, func() { _ = server.Stop() })
		logger.Info("metrics server listening", "port", cfg.MetricsPort)
	}

	if cfg.Print {
		printer := monitor.NewPrinter(os.Stdout)
		printer.KnownOnly = cfg.KnownOnly
		env.sinks = append(env.sinks, printer)
	}

	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL,
			nats.Name(appName),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second))
		if err != nil {
			env.close()
			return nil, fmt.Errorf("nats connect: %w", err)
		}
		env.cleanup = append(env.cleanup, nc.Close)

		sink, err := natspub.New(nc, cfg.SubjectPrefix, logger)
		if err != nil {
			env.close()
			return nil, err
		}
		env.sinks = append(env.sinks, sink)
		logger.Info("publishing frames to NATS", "url", cfg.NATSURL)
	}

	if cfg.WSPort > 0 {
		hub := wsfeed.NewHub(logger)
		env.sinks = append(env.sinks, hub)

		mux := http.NewServeMux()
		mux.Handle("/feed", hub)
		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.WSPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("websocket server failed", "error", err)
			}
		}()
		env.cleanup = append(env.cleanup, func() {
			_ = hub.Close()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		})
		logger.Info("websocket feed listening", "port", cfg.WSPort, "path", "/feed")
	}

	if cfg.DatabasePath != "" {
		store, err := sqlite.Open(cfg.DatabasePath, logger)
		if err != nil {
			env.close()
			return nil, err
		}
		env.store = store
		env.cleanup = append(env.cleanup, func() { _ = store.Close() })
	}

	return env, nil
}

func buildTransport(cfg *CLIConfig) serial.Transport {
	if cfg.TCPAddress != "" {
		return &serial.TCPTransport{Address: cfg.TCPAddress}
	}
	return &serial.SerialTransport{Port: cfg.SerialPort, Baud: cfg.Baud}
}

func runLive(cfg *CLIConfig, decoder *decode.Decoder, logger *slog.Logger) error {
	env, err := setupRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer env.close()

	transport := buildTransport(cfg)
	source, err := serial.NewSource(serial.SourceDeps{
		Transport:       transport,
		QueueCapacity:   cfg.QueueCapacity,
		MetricsRegistry: env.registry,
		Logger:          logger.With("component", "live-source"),
	})
	if err != nil {
		return err
	}

	mon, err := monitor.New(monitor.Deps{
		Source:          source,
		Decoder:         decoder,
		Store:           env.store,
		Sinks:           env.sinks,
		SessionSource:   transport.String(),
		MetricsRegistry: env.registry,
		Logger:          logger.With("component", "monitor"),
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := source.Start(ctx); err != nil {
		return err
	}
	if err := mon.Start(ctx); err != nil {
		_ = source.Stop(cfg.ShutdownTimeout)
		return err
	}

	logger.Info("capturing", "session", mon.Session().ID, "endpoint", transport.String())
	<-ctx.Done()
	logger.Info("shutting down")

	if err := source.Stop(cfg.ShutdownTimeout); err != nil {
		logger.Warn("source did not stop cleanly", "error", err)
	}
	if err := mon.Stop(cfg.ShutdownTimeout); err != nil {
		logger.Warn("monitor did not stop cleanly", "error", err)
	}

	printSummary(mon, logger)
	return nil
}

func runReplay(cfg *CLIConfig, decoder *decode.Decoder, logger *slog.Logger) error {
	frames, err := replay.Load(cfg.CaptureFile, logger)
	if err != nil {
		return err
	}

	scheduler, err := replay.NewScheduler(frames, cfg.Speed, logger.With("component", "replay"))
	if err != nil {
		return err
	}

	env, err := setupRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer env.close()

	mon, err := monitor.New(monitor.Deps{
		Decoder:         decoder,
		Store:           env.store,
		Sinks:           env.sinks,
		SessionSource:   cfg.CaptureFile,
		MetricsRegistry: env.registry,
		Logger:          logger.With("component", "monitor"),
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := mon.Start(ctx); err != nil {
		return err
	}

	logger.Info("replaying", "session", mon.Session().ID,
		"file", cfg.CaptureFile, "frames", scheduler.Len(), "speed", cfg.Speed)

	runErr := scheduler.Run(ctx, func(f *frame.Raw) {
		mon.Process(ctx, f)
	})
	if runErr != nil && ctx.Err() == nil {
		return runErr
	}

	if err := mon.Stop(cfg.ShutdownTimeout); err != nil {
		logger.Warn("monitor did not stop cleanly", "error", err)
	}

	printSummary(mon, logger)
	return nil
}

func runExport(cfg *CLIConfig, decoder *decode.Decoder, logger *slog.Logger) error {
	raw, err := replay.Load(cfg.CaptureFile, logger)
	if err != nil {
		return err
	}

	decoded := make([]*frame.Decoded, len(raw))
	for i, f := range raw {
		decoded[i] = decoder.Decode(f)
	}

	return export.ToFile(cfg.CSVPath, decoded, logger)
}

func printSummary(mon *monitor.Monitor, logger *slog.Logger) {
	snap := mon.Snapshot()
	logger.Info("session summary",
		"session", snap.SessionID,
		"frames", snap.FramesSeen,
		"identifiers", len(snap.FrameCounts),
		"sink_errors", snap.SinkErrors,
		"store_errors", snap.StoreErrors)
}
