package main

import (
	"log/slog"
	"net"
)

// startRelay opens the TCP listener whose port is advertised over mDNS.
// Forwarding UART traffic over that socket to a cloud/web-UI client is out
// of scope for this binary; it only proves the port is live for discovery,
// logging and closing each connection.
func startRelay(addr string, l *slog.Logger) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			l.Debug("relay_connect", "remote", conn.RemoteAddr().String())
			conn.Close()
		}
	}()
	return ln, nil
}
