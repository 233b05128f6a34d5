package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/tradesignals-web/internal/health"
	"github.com/keithlinneman/tradesignals-web/internal/log"
)

// DefaultMaxBodyBytes caps request bodies; auth payloads are a few dozen bytes.
const DefaultMaxBodyBytes = 16 << 10

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler

	// APIRoutes mounts the application routes (auth API) on the router.
	APIRoutes func(chi.Router)

	// MaxBodyBytes defaults to DefaultMaxBodyBytes; negative disables the cap.
	MaxBodyBytes int64

	// Probes served on the public listener for load balancer checks.
	Health    health.Probe
	Readiness health.Probe

	// ShutdownTimeout bounds srv.Shutdown; defaults to 5s.
	ShutdownTimeout time.Duration
}
