// Command brewos-bridge is the connectivity-board peer: it speaks the same
// UART wire protocol as cmd/controller but from the bridge's side of the
// link — initiating the handshake, tracking outbound commands through
// internal/retry, reacting to backpressure through internal/bridgelink, and
// advertising itself over mDNS. It also serves as the integration/smoke
// testing peer for exercising the controller binary end to end.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mizrachiran/brewos/internal/metrics"
	"github.com/mizrachiran/brewos/internal/tick"
	"github.com/mizrachiran/brewos/internal/uart"
)

var version = "dev"

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("brewos-bridge %s\n", version)
		return
	}
	if cfg == nil {
		os.Exit(1)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)

	port, err := uart.Open(cfg.serialDev, cfg.baud, cfg.readTimeout)
	if err != nil {
		l.Error("uart_open_failed", "error", err, "device", cfg.serialDev)
		os.Exit(1)
	}
	defer port.Close()

	br := newBridge(l, port, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln, err := startRelay(cfg.relayAddr, l)
	if err != nil {
		l.Error("relay_listen_failed", "error", err, "addr", cfg.relayAddr)
		os.Exit(1)
	}
	defer ln.Close()

	relayPort := ln.Addr().(*net.TCPAddr).Port
	cleanupMDNS, err := startMDNS(ctx, cfg, relayPort)
	if err != nil {
		l.Warn("mdns_start_failed", "error", err)
	} else {
		l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", relayPort)
		defer cleanupMDNS()
	}

	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, "", "")
		srv := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srv.Shutdown(context.Background()) }()
	}
	metrics.SetReadinessFunc(br.linkUp)

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

	br.startHandshake()

	ticker := time.NewTicker(tick.Period)
	defer ticker.Stop()
	lastPing := time.Now()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case s := <-sigCh:
			l.Info("shutdown_signal", "signal", s.String())
			return
		case now := <-ticker.C:
		drain:
			for {
				select {
				case b := <-rx:
					br.feedByte(now, b)
				default:
					break drain
				}
			}
			br.tick(now)
			if now.Sub(lastPing) >= cfg.pingEvery {
				br.sendPing(now)
				lastPing = now
			}
		}
	}
}
