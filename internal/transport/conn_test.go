package transport

import (
	"net"
	"testing"
	"time"

	"github.com/danmuck/enqlink/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func TestConnReadTimeout(t *testing.T) {
	testlog.Start(t)
	a, b := net.Pipe()
	defer b.Close()
	c := NewConn(a)
	defer c.Close()

	require.NoError(t, c.SetReadTimeout(20*time.Millisecond))
	_, err := c.ReadByte()
	require.ErrorIs(t, err, ErrTimeout)

	go func() { _, _ = b.Write([]byte{0x05, 0x06}) }()
	require.NoError(t, c.SetReadTimeout(time.Second))
	got, err := c.ReadByte()
	require.NoError(t, err)
	require.Equal(t, byte(0x05), got)
	got, err = c.ReadByte()
	require.NoError(t, err)
	require.Equal(t, byte(0x06), got)
}

func TestConnPeerCloseIsClosed(t *testing.T) {
	testlog.Start(t)
	a, b := net.Pipe()
	c := NewConn(a)
	defer c.Close()
	require.NoError(t, b.Close())

	_, err := c.ReadByte()
	require.ErrorIs(t, err, ErrClosed)
}

func TestConnLocalCloseIsClosed(t *testing.T) {
	testlog.Start(t)
	a, b := net.Pipe()
	defer b.Close()
	c := NewConn(a)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := c.ReadByte()
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, c.WriteByte(0x04), ErrClosed)
}

func TestConnWriteReachesPeer(t *testing.T) {
	testlog.Start(t)
	a, b := net.Pipe()
	defer b.Close()
	c := NewConn(a)
	defer c.Close()

	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 3)
		n, _ := b.Read(buf)
		done <- buf[:n]
	}()
	_, err := c.Write([]byte("abc"))
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), <-done)
}
