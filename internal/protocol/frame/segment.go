package frame

import "github.com/danmuck/enqlink/internal/protocol"

// Segment is one slice of an outbound buffer that travels in one frame.
type Segment struct {
	Payload  []byte
	Terminal bool
}

// Split cuts buf into frame-sized segments. Line-end bytes separate segments
// and are never transmitted. A segment is terminal when it is shorter than max
// or when it reaches the end of buf; a full-size segment with more data behind
// it is a continuation.
func Split(buf []byte, max int) []Segment {
	if max <= 0 {
		max = MaxPayload
	}
	var out []Segment
	off := 0
	for off < len(buf) {
		for off < len(buf) && protocol.IsLineEnd(buf[off]) {
			off++
		}
		if off >= len(buf) {
			break
		}
		end := off
		for end < len(buf) && end-off < max && !protocol.IsLineEnd(buf[end]) {
			end++
		}
		seg := Segment{Payload: buf[off:end]}
		seg.Terminal = end-off < max || !hasData(buf[end:])
		out = append(out, seg)
		off = end
	}
	return out
}

func hasData(rest []byte) bool {
	for _, b := range rest {
		if !protocol.IsLineEnd(b) {
			return true
		}
	}
	return false
}
