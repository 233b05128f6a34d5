package health

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/keithlinneman/tradesignals-web/internal/xerrors"
)

// Probe is evaluated at request time.
type Probe interface{ Check(context.Context) error }

// CheckFunc adapts a function into a Probe.
type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Fixed always passes, or always fails with reason ("unhealthy" when empty).
func Fixed(ok bool, reason string) CheckFunc {
	if ok {
		return func(context.Context) error { return nil }
	}
	if reason == "" {
		reason = "unhealthy"
	}
	return func(context.Context) error { return xerrors.New(reason) }
}

// All passes when every non-nil probe passes. The first failure wins and
// later probes are not run.
func All(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// Any passes when at least one non-nil probe passes, else returns the last error.
func Any(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		var last error
		for _, p := range ps {
			if p == nil {
				continue
			}
			err := p.Check(ctx)
			if err == nil {
				return nil
			}
			last = err
		}
		if last != nil {
			return last
		}
		return xerrors.New("no healthy probes")
	}
}

// WithTimeout bounds p by d. A probe that ignores its context still blocks.
func WithTimeout(p Probe, d time.Duration) CheckFunc {
	return func(ctx context.Context) error {
		if p == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		if err := p.Check(ctx); err != nil {
			return xerrors.Wrap(err, "probe")
		}
		return nil
	}
}

// ShutdownGate flips readiness to false while the server drains.
type ShutdownGate struct {
	draining atomic.Bool
	mu       sync.RWMutex
	reason   string
}

// Set closes the gate; reason is reported by the probe.
func (g *ShutdownGate) Set(reason string) {
	g.mu.Lock()
	g.reason = reason
	g.mu.Unlock()
	g.draining.Store(true)
}

func (g *ShutdownGate) Clear() {
	g.draining.Store(false)
	g.mu.Lock()
	g.reason = ""
	g.mu.Unlock()
}

func (g *ShutdownGate) Draining() bool { return g.draining.Load() }

func (g *ShutdownGate) Probe() CheckFunc {
	return func(context.Context) error {
		if !g.draining.Load() {
			return nil
		}
		g.mu.RLock()
		r := g.reason
		g.mu.RUnlock()
		if r == "" {
			r = "draining"
		}
		return xerrors.New(r)
	}
}
