// Command brewos-controller is the real-time control board process: it
// owns the safety supervisor, the control state machine, and the
// dispatcher/bootloader that share the UART link with the bridge. It wires
// in-memory stub sensor/actuator/persistence capabilities so the binary
// links and runs end-to-end without real boiler hardware.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mizrachiran/brewos/internal/config"
	"github.com/mizrachiran/brewos/internal/metrics"
	"github.com/mizrachiran/brewos/internal/tick"
	"github.com/mizrachiran/brewos/internal/uart"
)

var version = "dev"

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("brewos-controller %s\n", version)
		return
	}
	if cfg == nil {
		os.Exit(1)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)

	store := newFileStore(cfg.configFile)
	persisted, err := store.Load()
	if err != nil {
		l.Warn("config_load_fallback", "error", err)
		persisted = config.Default()
		_ = store.Save(persisted)
	}

	port, err := uart.Open(cfg.serialDev, cfg.baud, cfg.readTimeout)
	if err != nil {
		l.Error("uart_open_failed", "error", err, "device", cfg.serialDev)
		os.Exit(1)
	}
	defer port.Close()

	ctrl := newController(l, persisted, cfg.machineType, port, store)

	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, "", "")
		srv := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srv.Shutdown(context.Background()) }()
	}
	metrics.SetReadinessFunc(func() bool { return true })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rx := make(chan byte, 4096)
	go func() {
		buf := make([]byte, 256)
		for {
			n, rerr := port.Read(buf)
			for i := 0; i < n; i++ {
				select {
				case rx <- buf[i]:
				case <-ctx.Done():
					return
				}
			}
			if rerr != nil && ctx.Err() != nil {
				return
			}
		}
	}()

	ctrl.emitBootSequence(time.Now())

	ticker := time.NewTicker(tick.Period)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case s := <-sigCh:
			l.Info("shutdown_signal", "signal", s.String())
			return
		case now := <-ticker.C:
			// Inbound bytes are drained here, before the tick step, so the
			// scheduler always sees this tick's freshest inputs.
		drain:
			for {
				select {
				case b := <-rx:
					ctrl.feedByte(now, b)
				default:
					break drain
				}
			}
			ctrl.step(now)
		}
	}
}
