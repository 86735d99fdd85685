package frame

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"testing"

	"github.com/danmuck/enqlink/internal/protocol"
	"github.com/danmuck/enqlink/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, wire []byte) Frame {
	t.Helper()
	require.Equal(t, protocol.STX, wire[0])
	f, err := ReadBody(bufio.NewReader(bytes.NewReader(wire[1:])), DefaultLimits())
	require.NoError(t, err)
	return f
}

func TestEncodeKnownFrame(t *testing.T) {
	testlog.Start(t)
	wire := Encode(1, []byte("ABCDEF"), true)

	sum := byte('1') + protocol.ETX + protocol.CR
	for _, b := range []byte("ABCDEF") {
		sum += b
	}
	want := append([]byte{protocol.STX, '1'}, "ABCDEF"...)
	want = append(want, protocol.CR, protocol.ETX)
	want = append(want, []byte(fmt.Sprintf("%02X", sum))...)
	want = append(want, protocol.CR, protocol.LF)
	require.Equal(t, want, wire)
}

func TestIndexWrapsModulo8(t *testing.T) {
	testlog.Start(t)
	require.Equal(t, byte('0'), IndexDigit(8))
	require.Equal(t, byte('7'), IndexDigit(7))
	require.Equal(t, byte('1'), IndexDigit(9))
	wire := Encode(10, []byte("x"), false)
	require.Equal(t, byte('2'), wire[1])
}

func TestEncodeDecodeRoundTripAllLengths(t *testing.T) {
	testlog.Start(t)
	rng := rand.New(rand.NewSource(7))
	for n := 1; n <= MaxPayload; n++ {
		payload := make([]byte, n)
		for i := range payload {
			// control bytes never appear inside a payload
			payload[i] = byte(0x20 + rng.Intn(0xff-0x20))
		}
		last := n%2 == 0
		f := decode(t, Encode(n, payload, last))
		require.Equal(t, payload, f.Payload, "length %d", n)
		require.Equal(t, last, f.Terminal)
		require.Equal(t, byte(n%8), f.Index)
		require.True(t, Verify(f), "length %d", n)
	}
}

func TestChecksumMatchesModuloSum(t *testing.T) {
	testlog.Start(t)
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 200; i++ {
		payload := make([]byte, 1+rng.Intn(MaxPayload))
		rng.Read(payload)
		idx := rng.Intn(16)
		total := int('0'+idx%8) + int(protocol.ETB) + int(protocol.CR)
		for _, b := range payload {
			total += int(b)
		}
		got := HexChecksum(Checksum(IndexDigit(idx), protocol.ETB, payload))
		require.Equal(t, fmt.Sprintf("%02X", total%256), string(got[:]))
	}
}

func TestHexChecksumUppercase(t *testing.T) {
	testlog.Start(t)
	require.Equal(t, [2]byte{'A', 'F'}, HexChecksum(0xaf))
	require.Equal(t, [2]byte{'0', '9'}, HexChecksum(0x09))
}

func TestReadBodyDoesNotVerifyChecksum(t *testing.T) {
	testlog.Start(t)
	wire := Encode(3, []byte("data"), true)
	wire[len(wire)-4] = 'Z'
	f := decode(t, wire)
	require.Equal(t, []byte("data"), f.Payload)
	require.False(t, Verify(f))
}

func TestReadBodyOversizedPayload(t *testing.T) {
	testlog.Start(t)
	wire := Encode(1, bytes.Repeat([]byte("a"), 50), true)
	f, err := ReadBody(bytes.NewReader(wire[1:]), Limits{MaxPayloadBytes: 10})
	require.ErrorIs(t, err, protocol.ErrPayloadTooLarge)
	require.Len(t, f.Payload, 10)
}

func TestReadBodyTruncated(t *testing.T) {
	testlog.Start(t)
	wire := Encode(1, []byte("abc"), true)
	_, err := ReadBody(bytes.NewReader(wire[1:len(wire)-2]), DefaultLimits())
	require.ErrorIs(t, err, protocol.ErrTruncated)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = ReadBody(bytes.NewReader(wire[1:4]), DefaultLimits())
	require.ErrorIs(t, err, protocol.ErrTruncated)
}

func TestWriteFrameRejectsBadPayload(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	require.ErrorIs(t, WriteFrame(&buf, 1, nil, true), ErrEmptyPayload)
	require.ErrorIs(t, WriteFrame(&buf, 1, make([]byte, MaxPayload+1), true), ErrPayloadTooLarge)
	require.NoError(t, WriteFrame(&buf, 1, []byte("ok"), true))
	require.Equal(t, Encode(1, []byte("ok"), true), buf.Bytes())
}
