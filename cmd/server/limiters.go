package main

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/tradesignals-web/internal/limitsource"
	"github.com/keithlinneman/tradesignals-web/internal/log"
	"github.com/keithlinneman/tradesignals-web/internal/metrics"
	"github.com/keithlinneman/tradesignals-web/internal/ratelimit"
)

// at most one "rate limit triggered" warning per limiter per interval;
// the throttled_clients counter still sees every client
const deniedLogInterval = 10 * time.Second

// newLimiter builds a named limiter whose hooks feed metrics and a
// throttled warning log.
func newLimiter(ctx context.Context, L log.Logger, m *metrics.ServerMetrics, name string, p ratelimit.Policy, maxEntries int) (*ratelimit.Limiter, error) {
	warn := &rate.Sometimes{Interval: deniedLogInterval}

	l, err := ratelimit.New(
		ratelimit.WithName(name),
		ratelimit.WithPolicy(p),
		ratelimit.WithMaxEntries(maxEntries),
		ratelimit.WithOnAllowed(func(string) {
			m.ObserveRateLimit(name, true)
		}),
		ratelimit.WithOnDenied(func(string, time.Duration) {
			m.ObserveRateLimit(name, false)
		}),
		ratelimit.WithOnFirstDenied(func(key string, retryAfter time.Duration) {
			m.IncRateLimitThrottledClient(name)
			warn.Do(func() {
				L.Warn(ctx, "rate limit triggered",
					"limiter", name,
					"client.address", key,
					"retry_after", retryAfter.String(),
				)
			})
		}),
		ratelimit.WithOnEvict(func(string) {
			m.IncRateLimitEviction(name)
		}),
	)
	if err != nil {
		return nil, err
	}

	m.SetRateLimitPolicy(name, p.Limit, p.Window)
	if err := m.TrackLimiterSize(name, l.Len); err != nil {
		return nil, err
	}
	return l, nil
}

// applyLimits pushes override policies onto the matching limiters. Names
// with no limiter are logged and skipped. Returns how many were applied.
func applyLimits(ctx context.Context, L log.Logger, m *metrics.ServerMetrics, limiters map[string]*ratelimit.Limiter, limits limitsource.Limits) int {
	applied := 0
	for _, name := range limits.Names() {
		p := limits[name]
		l, ok := limiters[name]
		if !ok {
			L.Warn(ctx, "limit override for unknown limiter ignored", "limiter", name)
			continue
		}
		prev := l.Policy()
		if prev == p {
			continue
		}
		if err := l.SetPolicy(p); err != nil {
			L.Error(ctx, err, "limit override rejected", "limiter", name)
			continue
		}
		m.SetRateLimitPolicy(name, p.Limit, p.Window)
		L.Info(ctx, "rate limit policy updated",
			"limiter", name,
			"limit", p.Limit,
			"window", p.Window.String(),
			"previous_limit", prev.Limit,
			"previous_window", prev.Window.String(),
		)
		applied++
	}
	return applied
}
