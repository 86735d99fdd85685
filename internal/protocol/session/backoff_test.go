package session

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/danmuck/enqlink/internal/testutil/testlog"
)

func TestReconnectDelayGrowsToCap(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultBackoff()
	cfg.Jitter = false
	want := map[int]time.Duration{
		0:  0,
		1:  250 * time.Millisecond,
		2:  500 * time.Millisecond,
		3:  time.Second,
		6:  5 * time.Second,
		40: 5 * time.Second,
	}
	for failures, d := range want {
		if got := ReconnectDelay(cfg, failures, nil); got != d {
			t.Fatalf("failures=%d got=%v want=%v", failures, got, d)
		}
	}
}

func TestReconnectDelayJitterRange(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultBackoff()
	plain := cfg
	plain.Jitter = false
	rng := rand.New(rand.NewSource(7))
	for failures := 1; failures <= 8; failures++ {
		base := ReconnectDelay(plain, failures, nil)
		got := ReconnectDelay(cfg, failures, rng)
		if got < base/2 || got >= base*3/2 {
			t.Fatalf("failures=%d got=%v base=%v", failures, got, base)
		}
	}
	if got := ReconnectDelay(cfg, 1, nil); got != cfg.InitialDelay {
		t.Fatalf("nil rng should not jitter, got=%v", got)
	}
}

func TestReconnectLimitsAttempts(t *testing.T) {
	testlog.Start(t)
	r := NewReconnect(DefaultBackoff(), 3, clock.NewMock(), nil)
	if !r.Failed() || !r.Failed() {
		t.Fatal("first two failures should allow a retry")
	}
	if r.Failed() {
		t.Fatal("third failure should end dialing")
	}
	if r.Failures() != 3 {
		t.Fatalf("failures=%d", r.Failures())
	}

	unlimited := NewReconnect(DefaultBackoff(), 0, clock.NewMock(), nil)
	for i := 0; i < 100; i++ {
		if !unlimited.Failed() {
			t.Fatalf("unlimited reconnect refused at failure %d", i+1)
		}
	}
}

func TestReconnectWaitFollowsLinkClock(t *testing.T) {
	testlog.Start(t)
	mock := clock.NewMock()
	cfg := DefaultBackoff()
	cfg.Jitter = false
	r := NewReconnect(cfg, 0, mock, nil)
	r.Failed()

	done := make(chan error, 1)
	go func() { done <- r.Wait(context.Background()) }()

	deadline := time.Now().Add(3 * time.Second)
	for {
		mock.Add(50 * time.Millisecond)
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("wait err=%v", err)
			}
			if elapsed := mock.Now().Sub(time.Unix(0, 0)); elapsed < cfg.InitialDelay {
				t.Fatalf("woke after %v, want at least %v", elapsed, cfg.InitialDelay)
			}
			return
		default:
		}
		if time.Now().After(deadline) {
			t.Fatal("wait never returned")
		}
	}
}

func TestReconnectWaitStopsOnCancel(t *testing.T) {
	testlog.Start(t)
	r := NewReconnect(DefaultBackoff(), 0, clock.NewMock(), nil)
	r.Failed()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Wait(ctx); err != context.Canceled {
		t.Fatalf("err=%v", err)
	}
}
