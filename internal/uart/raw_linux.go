//go:build linux

package uart

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// rawPort is an alternative to Open that configures the tty directly via
// termios ioctls instead of going through tarm/serial; golang.org/x/sys/unix
// supplies the Termios struct and ioctl wrappers. It accepts only the
// standard rates baudConst lists (9600 to 230400); any other baud is an
// error.
type rawPort struct {
	f  *os.File
	fd int
}

// OpenRaw opens name and configures it at baud using raw termios ioctls
// (8N1, no flow control), bypassing tarm/serial entirely.
func OpenRaw(name string, baud uint32) (Port, error) {
	f, err := os.OpenFile(name, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("uart: open %s: %w", name, err)
	}
	fd := int(f.Fd())
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("uart: get termios: %w", err)
	}
	rate, err := baudConst(baud)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL
	t.Cflag &^= unix.CBAUD
	t.Cflag |= rate
	t.Ispeed = rate
	t.Ospeed = rate
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 1
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("uart: set termios: %w", err)
	}
	return &rawPort{f: f, fd: fd}, nil
}

func baudConst(baud uint32) (uint32, error) {
	switch baud {
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	case 230400:
		return unix.B230400, nil
	default:
		return 0, fmt.Errorf("uart: unsupported baud %d for raw termios path", baud)
	}
}

func (p *rawPort) Read(b []byte) (int, error)  { return p.f.Read(b) }
func (p *rawPort) Write(b []byte) (int, error) { return p.f.Write(b) }
func (p *rawPort) Close() error                { return p.f.Close() }

// Flush discards unread input and unwritten output, used before the
// bootloader handoff so stale bytes from the previous mode can't desync
// the chunk reader.
func (p *rawPort) Flush() error {
	return unix.IoctlSetInt(p.fd, unix.TCFLSH, unix.TCIOFLUSH)
}
