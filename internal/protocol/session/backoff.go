package session

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/andres-erbsen/clock"
)

// ReconnectDelay is the pause after the given number of consecutive dial
// failures. It grows from InitialDelay by Multiplier up to MaxDelay; with
// Jitter and an rng it is spread over [0.5, 1.5) of that value.
func ReconnectDelay(cfg BackoffConfig, failures int, rng *rand.Rand) time.Duration {
	if failures <= 0 || cfg.InitialDelay <= 0 {
		return 0
	}
	mult := math.Max(cfg.Multiplier, 1.0)
	delay := float64(cfg.InitialDelay) * math.Pow(mult, float64(failures-1))
	if cfg.MaxDelay > 0 {
		delay = math.Min(delay, float64(cfg.MaxDelay))
	}
	if cfg.Jitter && rng != nil {
		delay *= 0.5 + rng.Float64()
	}
	return time.Duration(delay)
}

// Reconnect paces the dial attempts of one instrument link.
type Reconnect struct {
	cfg      BackoffConfig
	clk      clock.Clock
	rng      *rand.Rand
	max      int
	failures int
}

// NewReconnect allows maxAttempts dials in total; zero or less means no
// limit. A nil clk uses the wall clock.
func NewReconnect(cfg BackoffConfig, maxAttempts int, clk clock.Clock, rng *rand.Rand) *Reconnect {
	if clk == nil {
		clk = clock.New()
	}
	return &Reconnect{cfg: cfg, clk: clk, rng: rng, max: maxAttempts}
}

// Failed records a failed dial and reports whether another is allowed.
func (r *Reconnect) Failed() bool {
	r.failures++
	return r.max <= 0 || r.failures < r.max
}

func (r *Reconnect) Failures() int {
	return r.failures
}

func (r *Reconnect) Delay() time.Duration {
	return ReconnectDelay(r.cfg, r.failures, r.rng)
}

// Wait sleeps Delay on the link clock. It returns ctx.Err() if ctx ends
// first.
func (r *Reconnect) Wait(ctx context.Context) error {
	d := r.Delay()
	if d <= 0 {
		return ctx.Err()
	}
	t := r.clk.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
