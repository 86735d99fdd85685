package server

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/danmuck/enqlink/internal/node"
	"github.com/danmuck/enqlink/internal/protocol/session"
	"github.com/danmuck/enqlink/internal/queue"
	"github.com/danmuck/enqlink/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var ErrHostAddressRequired = errors.New("server: host address required")

type InstrumentConfig struct {
	Addr               string
	Session            session.Config
	Queue              queue.Config
	Backoff            session.BackoffConfig
	ConnectTimeout     time.Duration
	MaxConnectAttempts int
}

func DefaultInstrumentConfig() InstrumentConfig {
	return InstrumentConfig{
		Session:        session.DefaultConfig(),
		Queue:          queue.DefaultConfig(),
		Backoff:        session.DefaultBackoff(),
		ConnectTimeout: 5 * time.Second,
	}
}

// Instrument is the dialing side. It runs exactly one engine.
type Instrument struct {
	cfg InstrumentConfig
	clk clock.Clock
	rng *rand.Rand

	mu     sync.Mutex
	engine *session.Engine
}

func NewInstrument(cfg InstrumentConfig) (*Instrument, error) {
	cfg.Queue = cfg.Queue.WithDefaults()
	if err := cfg.Queue.Validate(); err != nil {
		return nil, err
	}
	cfg.Session = cfg.Session.WithDefaults()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	return &Instrument{
		cfg: cfg,
		clk: clock.New(),
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Run dials the host, retrying with backoff, and runs one engine on the
// link. It returns when that engine ends or ctx is cancelled.
func (i *Instrument) Run(ctx context.Context) error {
	if strings.TrimSpace(i.cfg.Addr) == "" {
		return ErrHostAddressRequired
	}
	conn, err := i.connect(ctx)
	if err != nil {
		return err
	}
	return i.run(ctx, transport.NewConn(conn))
}

// RunSerial runs one engine over a serial port.
func (i *Instrument) RunSerial(ctx context.Context, port string, baud int) error {
	stream, err := transport.OpenSerial(port, baud)
	if err != nil {
		return err
	}
	return i.run(ctx, stream)
}

func (i *Instrument) connect(ctx context.Context) (net.Conn, error) {
	retry := session.NewReconnect(i.cfg.Backoff, i.cfg.MaxConnectAttempts, i.clk, i.rng)
	for {
		dialer := net.Dialer{Timeout: i.cfg.ConnectTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", i.cfg.Addr)
		if err == nil {
			return conn, nil
		}
		more := retry.Failed()
		log.Warn().Err(err).Int("attempt", retry.Failures()).Str("addr", i.cfg.Addr).Msg("server.Instrument dial failed")
		if !more {
			return nil, err
		}
		if err := retry.Wait(ctx); err != nil {
			return nil, err
		}
	}
}

func (i *Instrument) run(ctx context.Context, stream transport.Stream) error {
	q, err := queue.New(i.cfg.Queue)
	if err != nil {
		_ = stream.Close()
		return err
	}
	defer q.Close()

	id := uuid.NewString()
	engine := session.NewEngine(stream, q, i.cfg.Session, id)
	i.mu.Lock()
	i.engine = engine
	i.mu.Unlock()

	// closing the stream is how an engine is stopped
	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer stop()

	log.Info().Str("session", id).Str("remote", stream.RemoteAddr()).Msg("server.Instrument connected")
	err = engine.Run()
	log.Info().Str("session", id).Msg("server.Instrument worker ended")
	return err
}

// Sessions reports the engine, once one has started.
func (i *Instrument) Sessions() []session.Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.engine == nil {
		return []session.Status{}
	}
	return []session.Status{i.engine.Status()}
}

func (i *Instrument) Kind() string {
	return node.KindInstrument
}
