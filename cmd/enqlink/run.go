package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/danmuck/enqlink/internal/config"
	"github.com/danmuck/enqlink/internal/discovery"
	"github.com/danmuck/enqlink/internal/logging"
	"github.com/danmuck/enqlink/internal/node"
	"github.com/danmuck/enqlink/internal/observability"
	"github.com/danmuck/enqlink/internal/queue"
	"github.com/danmuck/enqlink/internal/server"
	"github.com/rs/zerolog/log"
)

const discoverTimeout = 10 * time.Second

func run(ctx context.Context, cfg config.Config) error {
	if err := startLogging(cfg); err != nil {
		return err
	}
	defer logging.Close()

	var err error
	switch {
	case cfg.SerialPort != "":
		err = runSerial(ctx, cfg)
	case cfg.Simul:
		err = runSimulator(ctx, cfg)
	default:
		err = runHost(ctx, cfg)
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info().Str("mode", cfg.Mode()).Err(err).Msg("enqlink stopped")
	return err
}

func startLogging(cfg config.Config) error {
	level, _ := logging.ParseLevel(cfg.LogLevel)
	if err := logging.ConfigureRuntime(logging.Options{
		Level:       level,
		File:        cfg.LogFile,
		FileMaxMB:   cfg.LogMaxMB,
		FileBackups: cfg.LogBackups,
	}); err != nil {
		return err
	}
	log.Info().Msgf("%s started", cfg.Mode())
	for _, opt := range cfg.Options() {
		log.Info().Msg(opt)
	}
	return nil
}

func runHost(ctx context.Context, cfg config.Config) error {
	host, err := server.NewHost(server.HostConfig{
		Addr:    cfg.ListenAddr(),
		Session: cfg.Session,
		Queue:   cfg.Queue,
	})
	if err != nil {
		return err
	}

	tasks := []server.Task{host.Run, watchTask(cfg.Queue.SendDir)}
	tasks = append(tasks, statusTask(cfg, host))
	if cfg.Advertise {
		tasks = append(tasks, announceTask(cfg))
	}
	return server.Supervise(ctx, tasks...)
}

func runSimulator(ctx context.Context, cfg config.Config) error {
	addr := cfg.DialAddr()
	if cfg.Discover {
		found, err := discoverHost(ctx)
		if err != nil {
			return err
		}
		addr = found
	}

	inst, err := newInstrument(cfg, addr)
	if err != nil {
		return err
	}
	return superviseInstrument(ctx, cfg, inst, inst.Run)
}

func runSerial(ctx context.Context, cfg config.Config) error {
	inst, err := newInstrument(cfg, "")
	if err != nil {
		return err
	}
	return superviseInstrument(ctx, cfg, inst, func(ctx context.Context) error {
		return inst.RunSerial(ctx, cfg.SerialPort, cfg.SerialBaud)
	})
}

func newInstrument(cfg config.Config, addr string) (*server.Instrument, error) {
	icfg := server.DefaultInstrumentConfig()
	icfg.Addr = addr
	icfg.Queue = cfg.Queue
	icfg.Session = cfg.Session
	icfg.Session.FastTurnaround = cfg.Simul
	return server.NewInstrument(icfg)
}

// superviseInstrument ends every helper task once the single link ends.
func superviseInstrument(ctx context.Context, cfg config.Config, inst *server.Instrument, link server.Task) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	worker := func(ctx context.Context) error {
		defer cancel()
		return link(ctx)
	}
	return server.Supervise(ctx,
		worker,
		watchTask(cfg.Queue.SendDir),
		statusTask(cfg, inst),
	)
}

func discoverHost(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, discoverTimeout)
	defer cancel()
	addr, err := discovery.Lookup(ctx, discovery.ServiceType)
	if err != nil {
		return "", fmt.Errorf("discover host: %w", err)
	}
	log.Info().Str("addr", addr).Msg("enqlink discovered host")
	return addr, nil
}

// watchTask is best effort; without a watcher the queue rescans every poll.
func watchTask(dir string) server.Task {
	return func(ctx context.Context) error {
		if err := queue.Watch(ctx, dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("enqlink send dir not watched")
		}
		return nil
	}
}

func statusTask(cfg config.Config, n node.Node) server.Task {
	if cfg.StatusAddr == "" {
		return nil
	}
	return func(ctx context.Context) error {
		return observability.ServeStatus(ctx, observability.StatusConfig{
			Node:        n.Kind() + "@" + nodeName(),
			Addr:        cfg.StatusAddr,
			CORSOrigins: cfg.StatusCORSOrigins,
			Token:       cfg.StatusToken,
		}, func() any { return n.Sessions() })
	}
}

func announceTask(cfg config.Config) server.Task {
	return func(ctx context.Context) error {
		err := discovery.Announce(ctx, discovery.ServiceInfo{
			Name: nodeName(),
			Port: cfg.Port,
			Text: map[string]string{"port": strconv.Itoa(cfg.Port)},
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Msg("enqlink mDNS announce failed")
		}
		return nil
	}
}

func nodeName() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "enqlink"
	}
	return name
}
