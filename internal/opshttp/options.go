package opshttp

import (
	"net/http"

	"github.com/keithlinneman/tradesignals-web/internal/health"
)

// DefaultPort is used when Options.Port is zero.
const DefaultPort = 9000

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe

	// UseRecoverMW wraps the mux in httpmw.Recover; OnPanic runs for each
	// recovered panic (the http_panic_total counter in main).
	UseRecoverMW bool
	OnPanic      func()
}
