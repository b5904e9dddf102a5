package netmgr

import (
	"sync"
	"time"
)

// timerPurpose distinguishes what a connTimer's current expiry means, so
// its fire handler can dispatch the right completion (spec.md §4.4
// "Timers").
type timerPurpose int

const (
	timerNone timerPurpose = iota
	timerConnect
	timerIdle
)

// connTimer is the single per-socket timer of spec.md §4.4: used for
// either connect-timeout (configured value plus 10ms slack) or read-idle
// timeout (init/idle/keepalive, depending on connection state). It is
// idempotently started/stopped; restarting replaces the previous expiry
// rather than stacking timers.
type connTimer struct {
	mu      sync.Mutex
	t       *time.Timer
	purpose timerPurpose
	onFire  func(timerPurpose)
}

func newConnTimer(onFire func(timerPurpose)) *connTimer {
	return &connTimer{onFire: onFire}
}

// start (re)arms the timer for d, stopping any previous expiry first.
func (c *connTimer) start(purpose timerPurpose, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.t != nil {
		c.t.Stop()
	}
	c.purpose = purpose
	p := purpose
	c.t = time.AfterFunc(d, func() {
		c.mu.Lock()
		active := c.purpose == p
		c.mu.Unlock()
		if active && c.onFire != nil {
			c.onFire(p)
		}
	})
}

// stop idempotently disarms the timer.
func (c *connTimer) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.t != nil {
		c.t.Stop()
	}
	c.purpose = timerNone
}

// connectTimerDuration adds the 10ms slack original_source's netmgr.c
// applies on top of the configured connect timeout.
func connectTimerDuration(cfg Config) time.Duration {
	return cfg.TCPInitialTimeout + 10*time.Millisecond
}

// idleTimerDuration picks among init/idle/keepalive per spec.md §4.4: the
// "init" value applies before the first byte of a server connection,
// "idle" between bytes thereafter, and "keepalive" once the handle has
// been marked via TLSDNSKeepalive. handle_settimeout's override takes
// priority over all three; handle_cleartimeout's zero return means no
// idle timer should run at all.
func idleTimerDuration(cfg Config, s *socket) time.Duration {
	if s.timeoutDisabled {
		return 0
	}
	if s.timeoutOverride > 0 {
		return s.timeoutOverride
	}
	if s.keepalive {
		return cfg.TCPKeepaliveTimeout
	}
	if !s.sawFirstByte {
		return cfg.TCPInitialTimeout
	}
	return cfg.TCPIdleTimeout
}

// armIdleTimer (re)starts s's idle timer for its current duration, or
// stops it outright when handle_cleartimeout has disabled it.
func armIdleTimer(cfg Config, s *socket) {
	if s.timer == nil {
		return
	}
	if d := idleTimerDuration(cfg, s); d > 0 {
		s.timer.start(timerIdle, d)
	} else {
		s.timer.stop()
	}
}
