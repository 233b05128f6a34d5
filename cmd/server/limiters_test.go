package main

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/keithlinneman/tradesignals-web/internal/limitsource"
	"github.com/keithlinneman/tradesignals-web/internal/log"
	"github.com/keithlinneman/tradesignals-web/internal/metrics"
	"github.com/keithlinneman/tradesignals-web/internal/ratelimit"
)

func testLimiters(t *testing.T, m *metrics.ServerMetrics) map[string]*ratelimit.Limiter {
	t.Helper()
	ctx := context.Background()

	login, err := newLimiter(ctx, log.Nop(), m, "login", ratelimit.Policy{Limit: 5, Window: 5 * time.Minute}, 10)
	if err != nil {
		t.Fatalf("login limiter: %v", err)
	}
	signup, err := newLimiter(ctx, log.Nop(), m, "signup", ratelimit.Policy{Limit: 3, Window: 10 * time.Minute}, 10)
	if err != nil {
		t.Fatalf("signup limiter: %v", err)
	}
	return map[string]*ratelimit.Limiter{"login": login, "signup": signup}
}

func scrapeMetrics(t *testing.T, m *metrics.ServerMetrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	b, err := io.ReadAll(rr.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	return string(b)
}

func TestNewLimiter_DuplicateNameFails(t *testing.T) {
	m := metrics.New()
	testLimiters(t, m)

	_, err := newLimiter(context.Background(), log.Nop(), m, "login", ratelimit.Policy{Limit: 1, Window: time.Second}, 10)
	if err == nil {
		t.Fatal("expected error registering a second login limiter")
	}
}

func TestNewLimiter_InvalidPolicy(t *testing.T) {
	_, err := newLimiter(context.Background(), log.Nop(), metrics.New(), "login", ratelimit.Policy{Limit: 0, Window: time.Second}, 10)
	if err == nil {
		t.Fatal("expected error for zero limit")
	}
}

func TestNewLimiter_HooksFeedMetrics(t *testing.T) {
	m := metrics.New()
	l := testLimiters(t, m)["signup"]

	for i := 0; i < 4; i++ {
		l.CheckKey("10.0.0.1")
	}
	if got := l.Len(); got != 1 {
		t.Fatalf("Len = %d, want 1", got)
	}

	out := scrapeMetrics(t, m)
	for _, want := range []string{
		`ratelimit_decisions_total{decision="allowed",limiter="signup"} 3`,
		`ratelimit_decisions_total{decision="denied",limiter="signup"} 1`,
		`ratelimit_throttled_clients_total{limiter="signup"} 1`,
		`ratelimit_tracked_clients{limiter="signup"} 1`,
		`ratelimit_policy_limit{limiter="signup"} 3`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestApplyLimits(t *testing.T) {
	m := metrics.New()
	limiters := testLimiters(t, m)

	n := applyLimits(context.Background(), log.Nop(), m, limiters, limitsource.Limits{
		"login":  {Limit: 10, Window: time.Minute},
		"signup": {Limit: 3, Window: 10 * time.Minute}, // unchanged
		"admin":  {Limit: 1, Window: time.Second},      // no such limiter
	})
	if n != 1 {
		t.Fatalf("applied = %d, want 1", n)
	}

	if got, want := limiters["login"].Policy(), (ratelimit.Policy{Limit: 10, Window: time.Minute}); got != want {
		t.Errorf("login policy = %+v, want %+v", got, want)
	}
	if got, want := limiters["signup"].Policy(), (ratelimit.Policy{Limit: 3, Window: 10 * time.Minute}); got != want {
		t.Errorf("signup policy = %+v, want %+v", got, want)
	}

	out := scrapeMetrics(t, m)
	if !strings.Contains(out, `ratelimit_policy_limit{limiter="login"} 10`) {
		t.Error("login policy gauge not updated")
	}
	if !strings.Contains(out, `ratelimit_policy_window_seconds{limiter="login"} 60`) {
		t.Error("login window gauge not updated")
	}
}

func TestApplyLimits_RejectsInvalid(t *testing.T) {
	m := metrics.New()
	limiters := testLimiters(t, m)

	n := applyLimits(context.Background(), log.Nop(), m, limiters, limitsource.Limits{
		"login": {Limit: -1, Window: time.Minute},
	})
	if n != 0 {
		t.Fatalf("applied = %d, want 0", n)
	}
	if got := limiters["login"].Policy().Limit; got != 5 {
		t.Errorf("login limit = %d, want 5", got)
	}
}
