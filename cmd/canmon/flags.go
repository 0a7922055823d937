package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	Mode string

	// live capture
	SerialPort    string
	Baud          int
	TCPAddress    string
	QueueCapacity int

	// replay and export
	CaptureFile string
	Speed       float64

	// decoding
	CatalogPath string

	// outputs
	DatabasePath  string
	CSVPath       string
	NATSURL       string
	SubjectPrefix string
	WSPort        int
	MetricsPort   int
	Print         bool
	KnownOnly     bool

	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.Mode, "mode",
		getEnv("CANMON_MODE", "live"),
		"Run mode: live, replay, export (env: CANMON_MODE)")

	flag.StringVar(&cfg.SerialPort, "serial",
		getEnv("CANMON_SERIAL", "/dev/ttyUSB0"),
		"Serial device of the CAN adapter (env: CANMON_SERIAL)")

	flag.IntVar(&cfg.Baud, "baud",
		getEnvInt("CANMON_BAUD", 115200),
		"Serial baud rate (env: CANMON_BAUD)")

	flag.StringVar(&cfg.TCPAddress, "tcp",
		getEnv("CANMON_TCP", ""),
		"Read frames from a TCP bridge instead of serial, host:port (env: CANMON_TCP)")

	flag.IntVar(&cfg.QueueCapacity, "queue",
		getEnvInt("CANMON_QUEUE", 0),
		"Frame queue capacity, 0 for default (env: CANMON_QUEUE)")

	flag.StringVar(&cfg.CaptureFile, "file",
		getEnv("CANMON_FILE", ""),
		"Capture file for replay and export modes (env: CANMON_FILE)")

	flag.Float64Var(&cfg.Speed, "speed",
		getEnvFloat("CANMON_SPEED", 1.0),
		"Replay speed multiplier (env: CANMON_SPEED)")

	flag.StringVar(&cfg.CatalogPath, "catalog",
		getEnv("CANMON_CATALOG", ""),
		"Identifier catalog CSV, optional (env: CANMON_CATALOG)")

	flag.StringVar(&cfg.DatabasePath, "db",
		getEnv("CANMON_DB", ""),
		"SQLite database path, empty disables persistence (env: CANMON_DB)")

	flag.StringVar(&cfg.CSVPath, "out",
		getEnv("CANMON_OUT", ""),
		"CSV output path for export mode (env: CANMON_OUT)")

	flag.StringVar(&cfg.NATSURL, "nats",
		getEnv("CANMON_NATS", ""),
		"NATS server URL, empty disables publishing (env: CANMON_NATS)")

	flag.StringVar(&cfg.SubjectPrefix, "nats-subject",
		getEnv("CANMON_NATS_SUBJECT", ""),
		"NATS subject prefix for published frames (env: CANMON_NATS_SUBJECT)")

	flag.IntVar(&cfg.WSPort, "ws-port",
		getEnvInt("CANMON_WS_PORT", 0),
		"WebSocket feed port, 0 to disable (env: CANMON_WS_PORT)")

	flag.IntVar(&cfg.MetricsPort, "metrics-port",
		getEnvInt("CANMON_METRICS_PORT", 0),
		"Prometheus metrics port, 0 to disable (env: CANMON_METRICS_PORT)")

	flag.BoolVar(&cfg.Print, "print",
		getEnvBool("CANMON_PRINT", true),
		"Print decoded frames to stdout (env: CANMON_PRINT)")

	flag.BoolVar(&cfg.KnownOnly, "known-only",
		getEnvBool("CANMON_KNOWN_ONLY", false),
		"Only print frames with decoded signals (env: CANMON_KNOWN_ONLY)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("CANMON_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: CANMON_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("CANMON_LOG_FORMAT", "text"),
		"Log format: json, text (env: CANMON_LOG_FORMAT)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("CANMON_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: CANMON_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")

	flag.Usage = printDetailedHelp

	flag.Parse()

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	switch cfg.Mode {
	case "live":
		if cfg.TCPAddress == "" && cfg.SerialPort == "" {
			return fmt.Errorf("live mode needs -serial or -tcp")
		}
	case "replay", "export":
		if cfg.CaptureFile == "" {
			return fmt.Errorf("%s mode needs -file", cfg.Mode)
		}
		if _, err := os.Stat(cfg.CaptureFile); err != nil {
			return fmt.Errorf("capture file not found: %s", cfg.CaptureFile)
		}
		if cfg.Mode == "export" && cfg.CSVPath == "" {
			return fmt.Errorf("export mode needs -out")
		}
	default:
		return fmt.Errorf("invalid mode: %s", cfg.Mode)
	}

	if cfg.Speed <= 0 {
		return fmt.Errorf("speed must be positive, got %g", cfg.Speed)
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	validFormats := []string{"json", "text"}
	if !contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.WSPort < 0 || cfg.WSPort > 65535 {
		return fmt.Errorf("invalid websocket port: %d", cfg.WSPort)
	}
	if cfg.MetricsPort < 0 || cfg.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.MetricsPort)
	}

	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - 370Z CAN bus monitor

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Monitor the bus live over a USB serial adapter
  %s -serial /dev/ttyUSB0 -catalog can_ids.csv -db capture.db

  # Replay a capture at double speed with a websocket feed
  %s -mode replay -file drive.log -speed 2 -ws-port 8080

  # Export a capture to CSV
  %s -mode export -file drive.log -out drive.csv

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
