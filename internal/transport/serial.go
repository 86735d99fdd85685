package transport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Serial is a Stream over a local serial port, the classic instrument link.
type Serial struct {
	port serial.Port
	name string

	mu     sync.Mutex
	closed bool
}

var _ Stream = (*Serial)(nil)

// OpenSerial opens name at baud, 8N1.
func OpenSerial(name string, baud int) (*Serial, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("transport: open serial %s: %w", name, err)
	}
	if err := port.SetReadTimeout(time.Second); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("transport: serial read timeout: %w", err)
	}
	return &Serial{port: port, name: name}, nil
}

func (s *Serial) SetReadTimeout(d time.Duration) error {
	return s.port.SetReadTimeout(d)
}

// ReadByte maps a zero-byte read (the port's timeout signal) to ErrTimeout.
func (s *Serial) ReadByte() (byte, error) {
	var buf [1]byte
	n, err := s.port.Read(buf[:])
	if err != nil {
		if s.isClosed() {
			return 0, ErrClosed
		}
		var portErr *serial.PortError
		if errors.As(err, &portErr) && portErr.Code() == serial.PortClosed {
			return 0, ErrClosed
		}
		return 0, err
	}
	if n == 0 {
		return 0, ErrTimeout
	}
	return buf[0], nil
}

func (s *Serial) WriteByte(b byte) error {
	_, err := s.Write([]byte{b})
	return err
}

func (s *Serial) Write(p []byte) (int, error) {
	n, err := s.port.Write(p)
	if err != nil && s.isClosed() {
		return n, ErrClosed
	}
	return n, err
}

func (s *Serial) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.port.Close()
}

func (s *Serial) RemoteAddr() string {
	return "serial:" + s.name
}

func (s *Serial) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
