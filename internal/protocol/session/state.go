package session

import (
	"errors"

	"github.com/danmuck/enqlink/internal/protocol"
)

// State is where an engine sits in the handshake.
type State int

const (
	StateIdle State = iota
	// StateAwaitingReply: ENQ sent, waiting for ACK, NAK or a colliding ENQ.
	StateAwaitingReply
	StateSendingFrames
	StateAwaitingAck
	// StateAwaitingFrame: ACK sent to the peer's ENQ, waiting for STX or EOT.
	StateAwaitingFrame
	StateReceivingFrame
	StateClosed
)

var stateNames = [...]string{
	StateIdle:           "idle",
	StateAwaitingReply:  "awaiting_reply",
	StateSendingFrames:  "sending_frames",
	StateAwaitingAck:    "awaiting_ack",
	StateAwaitingFrame:  "awaiting_frame",
	StateReceivingFrame: "receiving_frame",
	StateClosed:         "closed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// EventKind classifies the outcome of one timed read.
type EventKind int

const (
	EventByte EventKind = iota
	EventAck
	EventNak
	EventEnq
	EventEot
	EventStx
	EventTimeout
	EventClosed
)

var eventNames = [...]string{
	EventByte:    "byte",
	EventAck:     "ack",
	EventNak:     "nak",
	EventEnq:     "enq",
	EventEot:     "eot",
	EventStx:     "stx",
	EventTimeout: "timeout",
	EventClosed:  "closed",
}

func (k EventKind) String() string {
	if k >= 0 && int(k) < len(eventNames) {
		return eventNames[k]
	}
	return "unknown"
}

// Event is one read outcome. Byte is set for EventByte; Err is set for an
// EventClosed caused by something other than an orderly close.
type Event struct {
	Kind EventKind
	Byte byte
	Err  error
}

func classifyByte(b byte) Event {
	switch b {
	case protocol.ACK:
		return Event{Kind: EventAck, Byte: b}
	case protocol.NAK:
		return Event{Kind: EventNak, Byte: b}
	case protocol.ENQ:
		return Event{Kind: EventEnq, Byte: b}
	case protocol.EOT:
		return Event{Kind: EventEot, Byte: b}
	case protocol.STX:
		return Event{Kind: EventStx, Byte: b}
	default:
		return Event{Kind: EventByte, Byte: b}
	}
}

func classifyErr(err error) Event {
	switch {
	case errors.Is(err, protocol.ErrTimeout):
		return Event{Kind: EventTimeout}
	case errors.Is(err, protocol.ErrClosed):
		return Event{Kind: EventClosed}
	default:
		return Event{Kind: EventClosed, Err: err}
	}
}

// fatal is the error that ends Run for a closing event.
func (ev Event) fatal() error {
	if ev.Err != nil {
		return ev.Err
	}
	return protocol.ErrClosed
}
