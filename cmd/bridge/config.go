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

// appConfig holds the CLI/env-configured knobs for the bridge simulator
// binary: its UART side of the link, the relay port it advertises over
// mDNS, and the cadence it pings the controller at.
type appConfig struct {
	serialDev   string
	baud        int
	logFormat   string
	logLevel    string
	metricsAddr string
	readTimeout time.Duration
	pingEvery   time.Duration

	relayAddr  string
	mdnsEnable bool
	mdnsName   string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	serialDev := flag.String("serial", "/dev/ttyUSB1", "UART device path")
	baud := flag.Int("baud", 115200, "UART baud rate")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9102); empty disables")
	readTimeout := flag.Duration("read-timeout", 50*time.Millisecond, "UART read timeout")
	pingEvery := flag.Duration("ping-every", 2*time.Second, "Keepalive ping cadence")
	relayAddr := flag.String("relay-addr", ":9200", "TCP address advertised via mDNS")
	mdnsEnable := flag.Bool("mdns", true, "Advertise this bridge over mDNS")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default: brewos-bridge-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.serialDev = *serialDev
	cfg.baud = *baud
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.readTimeout = *readTimeout
	cfg.pingEvery = *pingEvery
	cfg.relayAddr = *relayAddr
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

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
	if c.pingEvery <= 0 {
		return errors.New("ping-every must be > 0")
	}
	return nil
}

// applyEnvOverrides maps BREWOS_BRIDGE_* environment variables to config
// fields unless the matching flag was explicitly set (flag wins).
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }

	if _, ok := set["serial"]; !ok {
		if v, ok := get("BREWOS_BRIDGE_SERIAL"); ok && v != "" {
			c.serialDev = v
		}
	}
	if _, ok := set["baud"]; !ok {
		if v, ok := get("BREWOS_BRIDGE_BAUD"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.baud = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid BREWOS_BRIDGE_BAUD: %w", err)
			}
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("BREWOS_BRIDGE_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("BREWOS_BRIDGE_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("BREWOS_BRIDGE_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["mdns"]; !ok {
		if v, ok := get("BREWOS_BRIDGE_MDNS"); ok && v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				c.mdnsEnable = b
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("BREWOS_BRIDGE_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	return firstErr
}
