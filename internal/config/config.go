// Package config loads enqlink settings from TOML and renders the effective
// option set.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/enqlink/internal/logging"
	"github.com/danmuck/enqlink/internal/protocol/session"
	"github.com/danmuck/enqlink/internal/queue"
)

var (
	ErrInvalidPort        = errors.New("config: port must be in 1..65535")
	ErrInvalidLevel       = errors.New("config: unknown loglevel")
	ErrInvalidLogRotation = errors.New("config: logfile_max_mb and logfile_backups must be positive")
)

// Config is the complete process configuration. Field names follow the
// property keys of older deployments where one existed.
type Config struct {
	LogFile    string
	LogLevel   string
	LogMaxMB   int
	LogBackups int
	Host       string
	Port       int
	Simul      bool

	Queue   queue.Config
	Session session.Config

	SerialPort string
	SerialBaud int

	StatusAddr        string
	StatusCORSOrigins []string
	StatusToken       string
	Advertise         bool
	Discover          bool
}

func Default() Config {
	return Config{
		LogFile:    "app.log",
		LogLevel:   "fine",
		LogMaxMB:   logging.DefaultFileMaxMB,
		LogBackups: logging.DefaultFileBackups,
		Host:       "localhost",
		Queue:      queue.DefaultConfig(),
		Session:    session.DefaultConfig(),
		SerialBaud: 9600,
	}
}

type fileConfig struct {
	LogFile           string   `toml:"logfile"`
	LogLevel          string   `toml:"loglevel"`
	LogMaxMB          int      `toml:"logfile_max_mb"`
	LogBackups        int      `toml:"logfile_backups"`
	Host              string   `toml:"host"`
	Port              int      `toml:"port"`
	Simul             bool     `toml:"simul"`
	InDir             string   `toml:"indir"`
	InMask            string   `toml:"inmask"`
	InBackup          string   `toml:"inbackup"`
	OutDir            string   `toml:"outdir"`
	OutName           string   `toml:"outname"`
	CounterFile       string   `toml:"counter_file"`
	BufferCapacity    int      `toml:"buffer_capacity"`
	SerialPort        string   `toml:"serial_port"`
	SerialBaud        int      `toml:"serial_baud"`
	StatusAddr        string   `toml:"status_addr"`
	StatusCORSOrigins []string `toml:"status_cors_origins"`
	StatusToken       string   `toml:"status_token"`
	Advertise         bool     `toml:"advertise"`
	Discover          bool     `toml:"discover"`
	VerifyChecksum    bool     `toml:"verify_checksum"`
	IdlePoll          string   `toml:"idle_poll"`
	ReplyTimeout      string   `toml:"reply_timeout"`
	BusyAfterNak      string   `toml:"busy_after_nak"`
	BusyAfterSilence  string   `toml:"busy_after_silence"`
	Contention        string   `toml:"contention"`
	FastContention    string   `toml:"fast_contention"`
	MaxAttempts       int      `toml:"max_attempts"`
}

// Load reads path over Default. Keys absent from the file keep their
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	setString := func(key, v string, dst *string) {
		if meta.IsDefined(key) {
			*dst = strings.TrimSpace(v)
		}
	}
	setString("logfile", raw.LogFile, &cfg.LogFile)
	setString("loglevel", raw.LogLevel, &cfg.LogLevel)
	setString("host", raw.Host, &cfg.Host)
	setString("indir", raw.InDir, &cfg.Queue.SendDir)
	setString("inmask", raw.InMask, &cfg.Queue.Mask)
	setString("inbackup", raw.InBackup, &cfg.Queue.BackupDir)
	setString("outdir", raw.OutDir, &cfg.Queue.ReceiveDir)
	setString("outname", raw.OutName, &cfg.Queue.NamePattern)
	setString("counter_file", raw.CounterFile, &cfg.Queue.CounterFile)
	setString("serial_port", raw.SerialPort, &cfg.SerialPort)
	setString("status_addr", raw.StatusAddr, &cfg.StatusAddr)
	setString("status_token", raw.StatusToken, &cfg.StatusToken)

	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}
	if meta.IsDefined("logfile_max_mb") {
		cfg.LogMaxMB = raw.LogMaxMB
	}
	if meta.IsDefined("logfile_backups") {
		cfg.LogBackups = raw.LogBackups
	}
	if meta.IsDefined("simul") {
		cfg.Simul = raw.Simul
	}
	if meta.IsDefined("buffer_capacity") {
		cfg.Queue.Capacity = raw.BufferCapacity
	}
	if meta.IsDefined("serial_baud") {
		cfg.SerialBaud = raw.SerialBaud
	}
	if meta.IsDefined("status_cors_origins") {
		cfg.StatusCORSOrigins = normalizeOrigins(raw.StatusCORSOrigins)
	}
	if meta.IsDefined("advertise") {
		cfg.Advertise = raw.Advertise
	}
	if meta.IsDefined("discover") {
		cfg.Discover = raw.Discover
	}
	if meta.IsDefined("verify_checksum") {
		cfg.Session.VerifyChecksum = raw.VerifyChecksum
	}
	if meta.IsDefined("max_attempts") {
		cfg.Session.MaxAttempts = raw.MaxAttempts
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"idle_poll", raw.IdlePoll, &cfg.Session.IdlePoll},
		{"reply_timeout", raw.ReplyTimeout, &cfg.Session.ReplyTimeout},
		{"busy_after_nak", raw.BusyAfterNak, &cfg.Session.BusyAfterNak},
		{"busy_after_silence", raw.BusyAfterSilence, &cfg.Session.BusyAfterSilence},
		{"contention", raw.Contention, &cfg.Session.Contention},
		{"fast_contention", raw.FastContention, &cfg.Session.FastContention},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	return cfg, nil
}

// Validate checks the settings a process cannot start without. A serial link
// needs no port.
func (c Config) Validate() error {
	if strings.TrimSpace(c.SerialPort) == "" && (c.Port < 1 || c.Port > 65535) {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}
	if c.SerialPort != "" && c.SerialBaud <= 0 {
		return fmt.Errorf("config: serial_baud must be positive")
	}
	if _, ok := logging.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("%w: %q", ErrInvalidLevel, c.LogLevel)
	}
	if c.LogMaxMB <= 0 || c.LogBackups <= 0 {
		return fmt.Errorf("%w: %d MB x %d", ErrInvalidLogRotation, c.LogMaxMB, c.LogBackups)
	}
	if err := c.Queue.WithDefaults().Validate(); err != nil {
		return err
	}
	if c.Session.MaxAttempts < 0 {
		return fmt.Errorf("config: max_attempts must not be negative")
	}
	return nil
}

// Mode names the role a process runs in.
func (c Config) Mode() string {
	if c.Simul {
		return "Simulator"
	}
	return "Server"
}

// ListenAddr is the host's accept address.
func (c Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// DialAddr is where a simulator connects.
func (c Config) DialAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Options renders the effective settings as key=value pairs sorted by key.
func (c Config) Options() []string {
	m := map[string]string{
		"logfile":            c.LogFile,
		"loglevel":           c.LogLevel,
		"logfile_max_mb":     strconv.Itoa(c.LogMaxMB),
		"logfile_backups":    strconv.Itoa(c.LogBackups),
		"host":               c.Host,
		"port":               strconv.Itoa(c.Port),
		"simul":              strconv.FormatBool(c.Simul),
		"indir":              c.Queue.SendDir,
		"inmask":             c.Queue.Mask,
		"inbackup":           c.Queue.BackupDir,
		"outdir":             c.Queue.ReceiveDir,
		"outname":            c.Queue.NamePattern,
		"counter_file":       c.Queue.CounterFile,
		"buffer_capacity":    strconv.Itoa(c.Queue.Capacity),
		"verify_checksum":    strconv.FormatBool(c.Session.VerifyChecksum),
		"idle_poll":          c.Session.IdlePoll.String(),
		"reply_timeout":      c.Session.ReplyTimeout.String(),
		"busy_after_nak":     c.Session.BusyAfterNak.String(),
		"busy_after_silence": c.Session.BusyAfterSilence.String(),
		"contention":         c.Session.Contention.String(),
		"fast_contention":    c.Session.FastContention.String(),
		"max_attempts":       strconv.Itoa(c.Session.MaxAttempts),
	}
	if c.SerialPort != "" {
		m["serial_port"] = c.SerialPort
		m["serial_baud"] = strconv.Itoa(c.SerialBaud)
	}
	if c.StatusAddr != "" {
		m["status_addr"] = c.StatusAddr
	}
	if c.StatusToken != "" {
		m["status_token"] = "<redacted>"
	}
	if c.Advertise {
		m["advertise"] = "true"
	}
	if c.Discover {
		m["discover"] = "true"
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+m[k])
	}
	return out
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		if v := strings.TrimSpace(origin); v != "" {
			out = append(out, v)
		}
	}
	return out
}
