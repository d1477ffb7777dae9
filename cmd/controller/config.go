package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// appConfig holds the CLI/env-configured transport and runtime knobs for
// this binary (serial device, metrics address, config file path). It is
// distinct from config.Configuration, the persisted tunable record loaded
// through the injected config.Store capability.
type appConfig struct {
	serialDev   string
	baud        int
	logFormat   string
	logLevel    string
	metricsAddr string
	configFile  string
	machineType uint8
	readTimeout time.Duration
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	serialDev := flag.String("serial", "/dev/ttyUSB0", "UART device path")
	baud := flag.Int("baud", 115200, "UART baud rate")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9101); empty disables")
	configFile := flag.String("config-file", "brewos-config.json", "Path to the persisted configuration record")
	machineType := flag.Int("machine-type", 1, "Machine type reported in BOOT/CONFIG")
	readTimeout := flag.Duration("read-timeout", 50*time.Millisecond, "UART read timeout")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.serialDev = *serialDev
	cfg.baud = *baud
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.configFile = *configFile
	cfg.machineType = uint8(*machineType)
	cfg.readTimeout = *readTimeout

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.readTimeout <= 0 {
		return errors.New("read-timeout must be > 0")
	}
	if c.configFile == "" {
		return errors.New("config-file must not be empty")
	}
	return nil
}

// applyEnvOverrides maps BREWOS_* environment variables to config fields
// unless the matching flag was explicitly set (flag wins).
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }

	if _, ok := set["serial"]; !ok {
		if v, ok := get("BREWOS_SERIAL"); ok && v != "" {
			c.serialDev = v
		}
	}
	if _, ok := set["baud"]; !ok {
		if v, ok := get("BREWOS_BAUD"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.baud = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid BREWOS_BAUD: %w", err)
			}
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("BREWOS_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("BREWOS_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("BREWOS_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["config-file"]; !ok {
		if v, ok := get("BREWOS_CONFIG_FILE"); ok && v != "" {
			c.configFile = v
		}
	}
	return firstErr
}
