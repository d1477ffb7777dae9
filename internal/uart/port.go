// Package uart provides the UART byte-sink/byte-source capability,
// wrapping github.com/tarm/serial, plus a buffer-flush primitive used
// during the bootloader handoff so stale bytes never desync the new
// consumer.
package uart

import (
	"time"

	"github.com/tarm/serial"
)

// Port abstracts tarm/serial for testability; cmd/controller and cmd/bridge
// hold this narrow interface rather than *serial.Port.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Flusher is implemented by ports that can discard unread RX bytes, used
// by cmd/controller before a bootloader handoff so stale bytes from the
// previous mode don't desync the new consumer. The handshake does not
// flush.
type Flusher interface {
	Flush() error
}

// Open opens the named serial device at baud with the given read timeout.
func Open(name string, baud int, readTimeout time.Duration) (Port, error) {
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
	p, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, err
	}
	return &port{Port: p}, nil
}

// port wraps *serial.Port to additionally satisfy Flusher.
type port struct{ *serial.Port }

func (p *port) Flush() error { return p.Port.Flush() }
