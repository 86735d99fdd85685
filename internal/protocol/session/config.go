package session

import (
	"time"

	"github.com/danmuck/enqlink/internal/protocol/frame"
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines engine timing and retry limits.
type Config struct {
	// IdlePoll is the read timeout while waiting for the peer to initiate.
	IdlePoll time.Duration
	// ReplyTimeout bounds the wait for a handshake reply, a frame
	// acknowledgement or the next inbound frame.
	ReplyTimeout     time.Duration
	BusyAfterNak     time.Duration
	BusyAfterSilence time.Duration
	Contention       time.Duration
	FastContention   time.Duration
	MaxAttempts      int
	MaxPayload       int
	// FastTurnaround is the simulator mode: short contention backoff, and an
	// inbound ENQ is refused while this side has a file queued.
	FastTurnaround bool
	// VerifyChecksum NAKs inbound frames whose checksum does not match.
	// Off by default; peers have historically been acknowledged regardless.
	VerifyChecksum bool
	Limits         frame.Limits
}

func DefaultConfig() Config {
	return Config{
		IdlePoll:         time.Second,
		ReplyTimeout:     15 * time.Second,
		BusyAfterNak:     10 * time.Second,
		BusyAfterSilence: 30 * time.Second,
		Contention:       20 * time.Second,
		FastContention:   time.Second,
		MaxAttempts:      6,
		MaxPayload:       frame.MaxPayload,
		Limits:           frame.DefaultLimits(),
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.IdlePoll <= 0 {
		c.IdlePoll = def.IdlePoll
	}
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = def.ReplyTimeout
	}
	if c.BusyAfterNak <= 0 {
		c.BusyAfterNak = def.BusyAfterNak
	}
	if c.BusyAfterSilence <= 0 {
		c.BusyAfterSilence = def.BusyAfterSilence
	}
	if c.Contention <= 0 {
		c.Contention = def.Contention
	}
	if c.FastContention <= 0 {
		c.FastContention = def.FastContention
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.MaxPayload <= 0 || c.MaxPayload > frame.MaxPayload {
		c.MaxPayload = def.MaxPayload
	}
	if c.Limits.MaxPayloadBytes <= 0 {
		c.Limits = def.Limits
	}
	return c
}

// ContentionBackoff is the contention timer duration for this mode.
func (c Config) ContentionBackoff() time.Duration {
	if c.FastTurnaround {
		return c.FastContention
	}
	return c.Contention
}

// DefaultBackoff paces reconnect attempts of a dialing peer.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
}
