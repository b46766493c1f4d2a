package streamer

import (
	"context"
	"log/slog"
	"time"
)

const (
	// DefaultIdleTimeout is how long a session may go untouched before the
	// reaper reclaims it.
	DefaultIdleTimeout = 10 * time.Minute
	// DefaultReapInterval is the sweep cadence.
	DefaultReapInterval = 5 * time.Second
)

// Reaper periodically sweeps the registry and tears down sessions whose
// consumers stopped polling. It is the backstop that bounds resource lifetime
// when clients disappear without closing anything.
type Reaper struct {
	svc         *Service
	idleTimeout time.Duration
	interval    time.Duration
	log         *slog.Logger
}

// NewReaper returns a reaper that tears down sessions idle longer than
// idleTimeout, checking every interval. Zero values select the defaults.
func NewReaper(svc *Service, idleTimeout, interval time.Duration, log *slog.Logger) *Reaper {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	return &Reaper{svc: svc, idleTimeout: idleTimeout, interval: interval, log: log}
}

// Run sweeps until ctx is cancelled. Meant to be launched in its own
// goroutine at startup.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep tears down every session idle past the timeout. Teardown itself is
// idempotent, so racing a transcoder-exit trigger mid-sweep is harmless.
func (r *Reaper) Sweep() {
	cutoff := time.Now().Add(-r.idleTimeout)
	r.svc.registry.ForEach(func(s *Session) {
		if s.LastSeen().Before(cutoff) {
			r.log.Info("reaping idle session",
				slog.String("session_id", string(s.ID)),
				slog.Time("last_seen", s.LastSeen()))
			r.svc.Teardown(s.ID)
		}
	})
}
