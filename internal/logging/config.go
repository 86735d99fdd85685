package logging

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// A log file rotates at DefaultFileMaxMB and keeps DefaultFileBackups old
// files unless Options says otherwise.
const (
	DefaultFileMaxMB   = 1
	DefaultFileBackups = 9
)

const (
	EnvLogLevel     = "ENQLINK_LOG_LEVEL"
	EnvLogTimestamp = "ENQLINK_LOG_TIMESTAMP"
	EnvLogNoColor   = "ENQLINK_LOG_NOCOLOR"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Options selects the sinks and verbosity of the process logger.
type Options struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	// File, when set, receives every record as JSON lines.
	File        string
	FileMaxMB   int
	FileBackups int
}

var (
	configureOnce sync.Once
	logFile       io.Closer
)

func ConfigureRuntime(opts Options) error {
	return Configure(ProfileRuntime, opts)
}

func ConfigureTests() {
	_ = Configure(ProfileTest, Options{})
}

// Configure installs the global logger once per process.
func Configure(profile Profile, opts Options) error {
	var err error
	configureOnce.Do(func() {
		cfg := defaultOptions(profile, opts)
		applyEnvOverrides(&cfg)
		err = install(cfg)
	})
	return err
}

// Close flushes and releases the log file, if any.
func Close() error {
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

func defaultOptions(profile Profile, opts Options) Options {
	switch profile {
	case ProfileTest:
		opts.Level = zerolog.DebugLevel
		opts.Timestamp = false
		opts.File = ""
	default:
		opts.Timestamp = true
	}
	return opts
}

func install(cfg Options) error {
	var out io.Writer = zerolog.ConsoleWriter{
		Out:        os.Stdout,
		NoColor:    cfg.NoColor,
		TimeFormat: "2006/01/02 15:04:05.000",
	}
	if cfg.File != "" {
		sink, err := fileSink(cfg)
		if err != nil {
			return err
		}
		logFile = sink
		out = zerolog.MultiLevelWriter(out, sink)
	}

	ctx := zerolog.New(out).Level(cfg.Level).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = ctx.Logger()
	return nil
}

// fileSink is the size-rotated JSON log file.
func fileSink(cfg Options) (*lumberjack.Logger, error) {
	if cfg.FileMaxMB < 0 || cfg.FileBackups < 0 {
		return nil, fmt.Errorf("logging: %s: negative rotation size or backup count", cfg.File)
	}
	sink := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.FileMaxMB,
		MaxBackups: cfg.FileBackups,
	}
	if sink.MaxSize == 0 {
		sink.MaxSize = DefaultFileMaxMB
	}
	if sink.MaxBackups == 0 {
		sink.MaxBackups = DefaultFileBackups
	}
	return sink, nil
}

func applyEnvOverrides(cfg *Options) {
	if lvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		cfg.Timestamp = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
}

// ParseLevel accepts zerolog level names and the java.util.logging names used
// by older property files (severe, warning, config, fine, finer, finest).
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace", "finest", "finer", "all":
		return zerolog.TraceLevel, true
	case "debug", "fine":
		return zerolog.DebugLevel, true
	case "info", "config":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error", "severe":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
