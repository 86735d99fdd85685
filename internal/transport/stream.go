// Package transport adapts byte-oriented links to the single-byte, timed
// read contract the protocol engine consumes.
package transport

import (
	"time"

	"github.com/danmuck/enqlink/internal/protocol"
)

// Stream is a reliable ordered duplex byte link. ReadByte returns
// protocol.ErrTimeout when the read timeout elapses without data and
// protocol.ErrClosed when the peer closed the link; any other error is fatal.
type Stream interface {
	SetReadTimeout(d time.Duration) error
	ReadByte() (byte, error)
	WriteByte(b byte) error
	Write(p []byte) (int, error)
	Close() error
	RemoteAddr() string
}

var (
	ErrTimeout = protocol.ErrTimeout
	ErrClosed  = protocol.ErrClosed
)
