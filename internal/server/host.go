package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/danmuck/enqlink/internal/node"
	"github.com/danmuck/enqlink/internal/protocol/session"
	"github.com/danmuck/enqlink/internal/queue"
	"github.com/danmuck/enqlink/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrListenAddrRequired = errors.New("server: listen address required")
	ErrHostStarted        = errors.New("server: host already started")
)

type HostConfig struct {
	Addr    string
	Session session.Config
	Queue   queue.Config
}

// Host is the accepting side. At most one worker is live at a time.
type Host struct {
	cfg     HostConfig
	seq     atomic.Int64
	started atomic.Bool

	mu      sync.Mutex
	addr    net.Addr
	current *worker
	workers map[string]*worker
	ready   chan struct{}
}

type worker struct {
	name   string
	engine *session.Engine
	stream transport.Stream
}

func NewHost(cfg HostConfig) (*Host, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, ErrListenAddrRequired
	}
	cfg.Queue = cfg.Queue.WithDefaults()
	if err := cfg.Queue.Validate(); err != nil {
		return nil, err
	}
	cfg.Session = cfg.Session.WithDefaults()
	return &Host{
		cfg:     cfg,
		workers: make(map[string]*worker),
		ready:   make(chan struct{}),
	}, nil
}

// Ready is closed once the listener is bound.
func (h *Host) Ready() <-chan struct{} {
	return h.ready
}

func (h *Host) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addr
}

// Run accepts until ctx ends, then closes the live link and waits for its
// engine to stop. A Host runs at most once.
func (h *Host) Run(ctx context.Context) error {
	if !h.started.CompareAndSwap(false, true) {
		return ErrHostStarted
	}
	ln, err := net.Listen("tcp", strings.TrimSpace(h.cfg.Addr))
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", h.cfg.Addr, err)
	}
	defer ln.Close()
	h.mu.Lock()
	h.addr = ln.Addr()
	h.mu.Unlock()
	close(h.ready)
	log.Info().Str("addr", ln.Addr().String()).Msg("server.Host listening")

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	var wg sync.WaitGroup
	defer func() {
		h.closeCurrent()
		wg.Wait()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		h.serve(conn, &wg)
	}
}

func (h *Host) serve(conn net.Conn, wg *sync.WaitGroup) {
	name := fmt.Sprintf("worker-%d", h.seq.Add(1))
	q, err := queue.New(h.cfg.Queue)
	if err != nil {
		log.Error().Err(err).Str("worker", name).Msg("server.Host queue unavailable")
		_ = conn.Close()
		return
	}
	stream := transport.NewConn(conn)
	id := uuid.NewString()
	w := &worker{
		name:   name,
		engine: session.NewEngine(stream, q, h.cfg.Session, id),
		stream: stream,
	}

	h.mu.Lock()
	prev := h.current
	h.current = w
	h.workers[id] = w
	h.mu.Unlock()
	if prev != nil {
		log.Info().Str("worker", prev.name).Str("replaced_by", name).Msg("server.Host replacing connection")
		_ = prev.stream.Close()
	}

	log.Info().Str("worker", name).Str("session", id).Str("remote", stream.RemoteAddr()).Msg("server.Host accepted")
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer q.Close()
		if err := w.engine.Run(); err != nil {
			log.Warn().Err(err).Str("worker", name).Msg("server.Host worker failed")
		}
		h.mu.Lock()
		delete(h.workers, id)
		if h.current == w {
			h.current = nil
		}
		h.mu.Unlock()
		log.Info().Str("worker", name).Msg("server.Host worker ended")
	}()
}

func (h *Host) closeCurrent() {
	h.mu.Lock()
	w := h.current
	h.mu.Unlock()
	if w != nil {
		_ = w.stream.Close()
	}
}

// Sessions lists live engines, oldest first.
func (h *Host) Sessions() []session.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]session.Status, 0, len(h.workers))
	for _, w := range h.workers {
		out = append(out, w.engine.Status())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

func (h *Host) Kind() string {
	return node.KindHost
}
