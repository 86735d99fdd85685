package frame

import (
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/enqlink/internal/protocol"
)

// MaxPayload is the largest payload one frame may carry.
const MaxPayload = 239

var (
	ErrEmptyPayload    = errors.New("frame: empty payload")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

// Frame is one decoded data frame.
type Frame struct {
	Index    byte
	Payload  []byte
	Terminal bool
	Checksum [2]byte
}

// Limits constrains frame decode memory use.
type Limits struct {
	MaxPayloadBytes int
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 64 * 1024,
	}
}

// ByteReader is the read side a frame body is decoded from.
type ByteReader interface {
	ReadByte() (byte, error)
}

// IndexDigit maps a 1-based frame number onto its wire digit.
func IndexDigit(frameIndex int) byte {
	return '0' + byte(frameIndex%8)
}

// Terminator returns ETX for the last frame and ETB otherwise.
func Terminator(last bool) byte {
	if last {
		return protocol.ETX
	}
	return protocol.ETB
}

// Checksum is the 8-bit sum of the index digit, the terminator, the CR that
// precedes it and every payload byte.
func Checksum(digit, terminator byte, payload []byte) byte {
	sum := digit + terminator + protocol.CR
	for _, b := range payload {
		sum += b
	}
	return sum
}

// HexChecksum renders sum as two uppercase hex digits.
func HexChecksum(sum byte) [2]byte {
	return [2]byte{hexDigit(sum >> 4), hexDigit(sum & 0x0f)}
}

func hexDigit(n byte) byte {
	if n < 10 {
		return '0' + n
	}
	return 'A' + n - 10
}

// Encode builds the wire form of one frame:
// STX digit payload CR ETX|ETB hi lo CR LF.
func Encode(frameIndex int, payload []byte, last bool) []byte {
	digit := IndexDigit(frameIndex)
	term := Terminator(last)
	sum := HexChecksum(Checksum(digit, term, payload))

	out := make([]byte, 0, len(payload)+8)
	out = append(out, protocol.STX, digit)
	out = append(out, payload...)
	out = append(out, protocol.CR, term, sum[0], sum[1], protocol.CR, protocol.LF)
	return out
}

func WriteFrame(w io.Writer, frameIndex int, payload []byte, last bool) error {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	if len(payload) > MaxPayload {
		return ErrPayloadTooLarge
	}
	_, err := w.Write(Encode(frameIndex, payload, last))
	return err
}

// ReadBody decodes the part of a frame that follows STX. The index digit is
// taken as sent and the checksum is returned without being verified.
func ReadBody(r ByteReader, limits Limits) (Frame, error) {
	index, err := r.ReadByte()
	if err != nil {
		return Frame{}, truncated(err)
	}

	var f Frame
	f.Index = index - '0'
	payload := make([]byte, 0, MaxPayload)
	oversized := false
	for {
		b, err := r.ReadByte()
		if err != nil {
			return Frame{}, truncated(err)
		}
		if b == protocol.ETX || b == protocol.ETB {
			f.Terminal = b == protocol.ETX
			break
		}
		if limits.MaxPayloadBytes > 0 && len(payload) >= limits.MaxPayloadBytes {
			oversized = true
			continue
		}
		payload = append(payload, b)
	}

	// The CR written before the terminator is part of the envelope.
	if n := len(payload); n > 0 && payload[n-1] == protocol.CR {
		payload = payload[:n-1]
	}

	var trailer [4]byte
	for i := range trailer {
		b, err := r.ReadByte()
		if err != nil {
			return Frame{}, truncated(err)
		}
		trailer[i] = b
	}
	f.Checksum = [2]byte{trailer[0], trailer[1]}
	f.Payload = payload
	if oversized {
		return f, protocol.ErrPayloadTooLarge
	}
	return f, nil
}

// truncated keeps the transport error visible to errors.Is so callers can
// still tell a closed link from a stalled one.
func truncated(err error) error {
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %w", protocol.ErrTruncated, io.ErrUnexpectedEOF)
	}
	return fmt.Errorf("%w: %w", protocol.ErrTruncated, err)
}

// Verify recomputes the checksum of f and compares it with the received one.
func Verify(f Frame) bool {
	digit := '0' + f.Index
	return HexChecksum(Checksum(digit, Terminator(f.Terminal), f.Payload)) == f.Checksum
}
