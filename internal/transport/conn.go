package transport

import (
	"bufio"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

// WriteTimeout bounds one write so a peer that stops reading cannot stall an
// engine forever.
const WriteTimeout = 15 * time.Second

// Conn is a Stream over a net.Conn (TCP in deployment, net.Pipe in tests).
type Conn struct {
	conn    net.Conn
	r       *bufio.Reader
	timeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

var _ Stream = (*Conn)(nil)

func NewConn(conn net.Conn) *Conn {
	return &Conn{
		conn:    conn,
		r:       bufio.NewReader(conn),
		timeout: time.Second,
	}
}

func (c *Conn) SetReadTimeout(d time.Duration) error {
	c.timeout = d
	return nil
}

func (c *Conn) ReadByte() (byte, error) {
	if c.r.Buffered() == 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, mapReadErr(err)
		}
	}
	b, err := c.r.ReadByte()
	if err != nil {
		return 0, mapReadErr(err)
	}
	return b, nil
}

func (c *Conn) WriteByte(b byte) error {
	_, err := c.Write([]byte{b})
	return err
}

func (c *Conn) Write(p []byte) (int, error) {
	if err := c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout)); err != nil {
		return 0, mapWriteErr(err)
	}
	n, err := c.conn.Write(p)
	if err != nil {
		return n, mapWriteErr(err)
	}
	return n, nil
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *Conn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func mapWriteErr(err error) error {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return ErrClosed
	}
	return err
}

func mapReadErr(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded):
		return ErrTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return ErrTimeout
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return ErrClosed
	default:
		return err
	}
}
