package session

import (
	"errors"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/danmuck/enqlink/internal/observability"
	"github.com/danmuck/enqlink/internal/protocol"
	"github.com/danmuck/enqlink/internal/protocol/frame"
	"github.com/danmuck/enqlink/internal/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// FileQueue is the file side of an engine: outbound selection and archive,
// inbound accumulation and commit.
type FileQueue interface {
	HasFileToSend() bool
	Current() string
	ReadCurrentFile() (int, error)
	Buffer() []byte
	BeginReceive()
	AppendFrame(p []byte) error
	CommitReceivedFile() (string, error)
	ArchiveSentFile() (string, error)
}

// Status is a point-in-time view of one engine.
type Status struct {
	ID             string    `json:"id"`
	Remote         string    `json:"remote"`
	State          State     `json:"state"`
	StartedAt      time.Time `json:"started_at"`
	FramesSent     uint64    `json:"frames_sent"`
	FramesReceived uint64    `json:"frames_received"`
	FilesSent      uint64    `json:"files_sent"`
	FilesReceived  uint64    `json:"files_received"`
	NaksReceived   uint64    `json:"naks_received"`
	LastFile       string    `json:"last_file,omitempty"`
}

// Engine drives one connection. It is created per connection and runs until
// the stream closes.
type Engine struct {
	stream transport.Stream
	queue  FileQueue
	cfg    Config
	clk    clock.Clock
	log    zerolog.Logger

	busy       *Timer
	contention *Timer

	mu     sync.Mutex
	status Status
}

func NewEngine(stream transport.Stream, queue FileQueue, cfg Config, id string) *Engine {
	return newEngine(stream, queue, cfg, id, clock.New())
}

func newEngine(stream transport.Stream, queue FileQueue, cfg Config, id string, clk clock.Clock) *Engine {
	cfg = cfg.WithDefaults()
	return &Engine{
		stream:     stream,
		queue:      queue,
		cfg:        cfg,
		clk:        clk,
		log:        log.With().Str("session", id).Str("remote", stream.RemoteAddr()).Logger(),
		busy:       NewTimer(clk, cfg.BusyAfterNak),
		contention: NewTimer(clk, cfg.ContentionBackoff()),
		status: Status{
			ID:        id,
			Remote:    stream.RemoteAddr(),
			State:     StateIdle,
			StartedAt: clk.Now(),
		},
	}
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Run blocks until the stream closes (nil) or fails (the I/O error). The
// stream is closed on return.
func (e *Engine) Run() error {
	observability.SessionOpened()
	defer observability.SessionClosed()
	e.log.Info().Bool("fast", e.cfg.FastTurnaround).Msg("session.Engine.Run started")

	err := e.loop()
	e.setState(StateClosed)
	_ = e.stream.Close()
	if errors.Is(err, protocol.ErrClosed) {
		e.log.Info().Msg("session.Engine.Run connection closed")
		return nil
	}
	e.log.Error().Err(err).Msg("session.Engine.Run connection failed")
	return err
}

func (e *Engine) loop() error {
	for {
		e.setState(StateIdle)
		if e.busy.Expired() && e.contention.Expired() && e.queue.HasFileToSend() {
			if err := e.initiate(); err != nil {
				return err
			}
			continue
		}

		ev := e.read(e.cfg.IdlePoll)
		switch ev.Kind {
		case EventTimeout:
		case EventClosed:
			return ev.fatal()
		case EventEnq:
			if e.cfg.FastTurnaround && e.queue.HasFileToSend() {
				e.log.Debug().Msg("session.Engine.loop refusing ENQ, own file queued")
				observability.RecordHandshake("in", "refused")
				if err := e.write(protocol.NAK); err != nil {
					return err
				}
				continue
			}
			observability.RecordHandshake("in", "granted")
			if err := e.write(protocol.ACK); err != nil {
				return err
			}
			if err := e.receive(); err != nil {
				return err
			}
		default:
			e.log.Trace().Str("byte", protocol.Name(ev.Byte)).Msg("session.Engine.loop ignored")
		}
	}
}

// initiate offers the current file to the peer and runs the transmit phase
// when the offer is accepted.
func (e *Engine) initiate() error {
	e.setState(StateAwaitingReply)
	e.log.Debug().Str("file", e.queue.Current()).Msg("session.Engine.initiate ENQ")
	if err := e.write(protocol.ENQ); err != nil {
		return err
	}
	for {
		ev := e.read(e.cfg.ReplyTimeout)
		switch ev.Kind {
		case EventTimeout:
			e.log.Warn().Dur("busy", e.cfg.BusyAfterSilence).Msg("session.Engine.initiate no reply")
			observability.RecordHandshake("out", "timeout")
			if err := e.write(protocol.EOT); err != nil {
				return err
			}
			e.busy.StartFor(e.cfg.BusyAfterSilence)
			return nil
		case EventClosed:
			return ev.fatal()
		case EventAck:
			observability.RecordHandshake("out", "granted")
			ok, err := e.transmit()
			if err != nil {
				return err
			}
			if err := e.write(protocol.EOT); err != nil {
				return err
			}
			if !ok {
				e.busy.StartFor(e.cfg.BusyAfterSilence)
			}
			return nil
		case EventNak:
			e.log.Debug().Dur("busy", e.cfg.BusyAfterNak).Msg("session.Engine.initiate refused")
			observability.RecordHandshake("out", "refused")
			e.busy.Start()
			return nil
		case EventEnq:
			e.log.Debug().Dur("contention", e.cfg.ContentionBackoff()).Msg("session.Engine.initiate collision")
			observability.RecordHandshake("out", "collision")
			e.contention.Start()
			return nil
		default:
			e.log.Trace().Str("byte", protocol.Name(ev.Byte)).Msg("session.Engine.initiate ignored")
		}
	}
}

// transmit sends the current file frame by frame. false means the phase
// failed and the file stays queued; an error ends the engine.
func (e *Engine) transmit() (bool, error) {
	e.setState(StateSendingFrames)
	if !e.queue.HasFileToSend() {
		e.log.Warn().Msg("session.Engine.transmit file vanished")
		observability.RecordFile("out", "missing")
		return false, nil
	}
	path := e.queue.Current()
	n, err := e.queue.ReadCurrentFile()
	if err != nil {
		e.log.Warn().Err(err).Str("file", path).Msg("session.Engine.transmit read failed")
		observability.RecordFile("out", "unreadable")
		return false, nil
	}
	segments := frame.Split(e.queue.Buffer(), e.cfg.MaxPayload)
	if len(segments) == 0 {
		e.log.Warn().Str("file", path).Int("bytes", n).Msg("session.Engine.transmit nothing but line ends")
		observability.RecordFile("out", "unreadable")
		return false, nil
	}

	for i, seg := range segments {
		ok, err := e.sendFrame(i+1, seg)
		if err != nil {
			return false, err
		}
		if !ok {
			e.log.Warn().Str("file", path).Int("frame", i+1).Msg("session.Engine.transmit aborted")
			observability.RecordFile("out", "failed")
			return false, nil
		}
	}

	dest, err := e.queue.ArchiveSentFile()
	if err != nil {
		// The peer has the data; the file may be sent again next cycle.
		e.log.Error().Err(err).Str("file", path).Msg("session.Engine.transmit archive failed")
	} else {
		e.log.Info().Str("file", path).Str("backup", dest).Int("bytes", n).Int("frames", len(segments)).
			Msg("session.Engine.transmit sent")
	}
	observability.RecordFile("out", "ok")
	e.mu.Lock()
	e.status.FilesSent++
	e.status.LastFile = path
	e.mu.Unlock()
	return true, nil
}

// sendFrame writes one frame and waits for its acknowledgement, resending
// the identical bytes after each NAK up to MaxAttempts writes in total.
func (e *Engine) sendFrame(index int, seg frame.Segment) (bool, error) {
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		e.setState(StateSendingFrames)
		if err := frame.WriteFrame(e.stream, index, seg.Payload, seg.Terminal); err != nil {
			if errors.Is(err, frame.ErrEmptyPayload) || errors.Is(err, frame.ErrPayloadTooLarge) {
				e.log.Error().Err(err).Int("frame", index).Int("bytes", len(seg.Payload)).Msg("session.Engine.sendFrame refused")
				observability.RecordFrame("out", "too_large")
				return false, nil
			}
			return false, err
		}
		e.setState(StateAwaitingAck)

		ev := e.awaitAck()
		switch ev.Kind {
		case EventAck, EventEot:
			observability.RecordFrame("out", "ack")
			e.mu.Lock()
			e.status.FramesSent++
			e.mu.Unlock()
			return true, nil
		case EventNak:
			observability.RecordFrame("out", "nak")
			e.mu.Lock()
			e.status.NaksReceived++
			e.mu.Unlock()
			e.log.Debug().Int("frame", index).Int("attempt", attempt).Msg("session.Engine.sendFrame NAK")
		case EventTimeout:
			observability.RecordFrame("out", "timeout")
			e.log.Warn().Int("frame", index).Int("attempt", attempt).Msg("session.Engine.sendFrame no ack")
			return false, nil
		case EventClosed:
			return false, ev.fatal()
		}
	}
	return false, nil
}

// awaitAck skips bytes that are not a reply to a frame.
func (e *Engine) awaitAck() Event {
	for {
		ev := e.read(e.cfg.ReplyTimeout)
		switch ev.Kind {
		case EventAck, EventEot, EventNak, EventTimeout, EventClosed:
			return ev
		}
		e.log.Trace().Str("byte", protocol.Name(ev.Byte)).Msg("session.Engine.awaitAck ignored")
	}
}

// receive accumulates frames after this side granted the peer's ENQ and
// commits them when the peer sends EOT. A timeout drops the phase; a frame
// the buffer cannot hold is refused and the phase is dropped at EOT.
func (e *Engine) receive() error {
	e.setState(StateAwaitingFrame)
	e.queue.BeginReceive()
	frames := 0
	overflow := false
	for {
		ev := e.read(e.cfg.ReplyTimeout)
		switch ev.Kind {
		case EventEot:
			return e.finishReceive(frames, overflow)
		case EventClosed:
			return ev.fatal()
		case EventTimeout:
			e.log.Warn().Int("frames", frames).Msg("session.Engine.receive timed out, discarding")
			observability.RecordFile("in", "abandoned")
			return nil
		case EventStx:
			e.setState(StateReceivingFrame)
			reply, err := e.readFrame(&overflow)
			if err != nil {
				if errors.Is(err, protocol.ErrTimeout) {
					e.log.Warn().Int("frames", frames).Msg("session.Engine.receive frame stalled, discarding")
					observability.RecordFile("in", "abandoned")
					return nil
				}
				return err
			}
			if err := e.write(reply); err != nil {
				return err
			}
			if reply == protocol.ACK {
				frames++
			}
			e.setState(StateAwaitingFrame)
		default:
			e.log.Trace().Str("byte", protocol.Name(ev.Byte)).Msg("session.Engine.receive ignored")
		}
	}
}

// readFrame decodes one frame after STX and returns the reply it earns.
func (e *Engine) readFrame(overflow *bool) (byte, error) {
	f, err := frame.ReadBody(e.stream, e.cfg.Limits)
	switch {
	case errors.Is(err, protocol.ErrPayloadTooLarge):
		*overflow = true
		observability.RecordFrame("in", "too_large")
		e.log.Warn().Int("limit", e.cfg.Limits.MaxPayloadBytes).Msg("session.Engine.readFrame oversized")
		return protocol.NAK, nil
	case errors.Is(err, protocol.ErrTimeout):
		return 0, protocol.ErrTimeout
	case errors.Is(err, protocol.ErrClosed):
		return 0, protocol.ErrClosed
	case err != nil:
		return 0, err
	}

	if e.cfg.VerifyChecksum && !frame.Verify(f) {
		observability.RecordFrame("in", "bad_checksum")
		e.log.Warn().Uint8("index", f.Index).Str("checksum", string(f.Checksum[:])).Msg("session.Engine.readFrame checksum mismatch")
		return protocol.NAK, nil
	}
	if err := e.queue.AppendFrame(f.Payload); err != nil {
		*overflow = true
		observability.RecordFrame("in", "overflow")
		e.log.Warn().Err(err).Msg("session.Engine.readFrame buffer full")
		return protocol.NAK, nil
	}
	observability.RecordFrame("in", "ack")
	e.mu.Lock()
	e.status.FramesReceived++
	e.mu.Unlock()
	return protocol.ACK, nil
}

func (e *Engine) finishReceive(frames int, overflow bool) error {
	if overflow {
		e.log.Warn().Int("frames", frames).Msg("session.Engine.receive discarding overflowed file")
		observability.RecordFile("in", "discarded")
		return nil
	}
	if frames == 0 {
		e.log.Debug().Msg("session.Engine.receive EOT before any frame")
		return nil
	}
	path, err := e.queue.CommitReceivedFile()
	if err != nil {
		e.log.Error().Err(err).Int("frames", frames).Msg("session.Engine.receive commit failed")
		observability.RecordFile("in", "failed")
		return nil
	}
	observability.RecordFile("in", "ok")
	e.mu.Lock()
	e.status.FilesReceived++
	e.status.LastFile = path
	e.mu.Unlock()
	return nil
}

func (e *Engine) read(timeout time.Duration) Event {
	if err := e.stream.SetReadTimeout(timeout); err != nil {
		return classifyErr(err)
	}
	b, err := e.stream.ReadByte()
	if err != nil {
		return classifyErr(err)
	}
	return classifyByte(b)
}

func (e *Engine) write(b byte) error {
	e.log.Trace().Str("byte", protocol.Name(b)).Msg("session.Engine.write")
	return e.stream.WriteByte(b)
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.status.State = s
	e.mu.Unlock()
}
