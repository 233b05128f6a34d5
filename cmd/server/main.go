package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keithlinneman/tradesignals-web/internal/authapi"
	"github.com/keithlinneman/tradesignals-web/internal/cfg"
	"github.com/keithlinneman/tradesignals-web/internal/health"
	"github.com/keithlinneman/tradesignals-web/internal/httpserver"
	"github.com/keithlinneman/tradesignals-web/internal/limitsource"
	"github.com/keithlinneman/tradesignals-web/internal/log"
	"github.com/keithlinneman/tradesignals-web/internal/metrics"
	"github.com/keithlinneman/tradesignals-web/internal/opshttp"
	"github.com/keithlinneman/tradesignals-web/internal/otelx"
	"github.com/keithlinneman/tradesignals-web/internal/prof"
	"github.com/keithlinneman/tradesignals-web/internal/ratelimit"
	"github.com/keithlinneman/tradesignals-web/internal/users"
	v "github.com/keithlinneman/tradesignals-web/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// levels were checked by Validate
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		IncludeErrorLinks: conf.IncludeErrorLinks,
		MaxErrorLinks:     conf.MaxErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"login_limit", conf.LoginLimit,
		"login_window", conf.LoginWindow.String(),
		"signup_limit", conf.SignupLimit,
		"signup_window", conf.SignupWindow.String(),
		"limiter_max_entries", conf.LimiterMaxEntries,
		"limits_ssm_param", conf.LimitsSSMParam,
	)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
		ProfileMutexFraction: 5,
	})
	profiling := conf.EnablePyroscope
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
		profiling = false
	}
	defer stopProf()

	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  conf.OTLPInsecure,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed, tracing disabled")
		shutdownOTEL, _ = otelx.Init(ctx, otelx.Options{})
	}

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", *vi)
	m.SetProfilingActive(profiling)

	loginLimiter, err := newLimiter(ctx, L, m, "login",
		ratelimit.Policy{Limit: conf.LoginLimit, Window: conf.LoginWindow}, conf.LimiterMaxEntries)
	if err != nil {
		L.Error(ctx, err, "failed to create login limiter")
		os.Exit(1)
	}
	signupLimiter, err := newLimiter(ctx, L, m, "signup",
		ratelimit.Policy{Limit: conf.SignupLimit, Window: conf.SignupWindow}, conf.LimiterMaxEntries)
	if err != nil {
		L.Error(ctx, err, "failed to create signup limiter")
		os.Exit(1)
	}
	limiters := map[string]*ratelimit.Limiter{
		loginLimiter.Name():  loginLimiter,
		signupLimiter.Name(): signupLimiter,
	}

	// optional overrides from SSM; flag values stay in force on any failure
	if conf.LimitsSSMParam != "" {
		startLimitsWatcher(ctx, L, m, conf.LimitsSSMParam, limiters)
	}

	store := users.NewMemoryStore()

	authAPI, err := authapi.NewAPI(authapi.Options{
		Store:         store,
		LoginLimiter:  loginLimiter,
		SignupLimiter: signupLimiter,
		Metrics:       m,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create auth api")
		os.Exit(1)
	}

	var gate health.ShutdownGate
	readiness := health.All(
		gate.Probe(),
		health.WithTimeout(storeProbe(store), 500*time.Millisecond),
	)

	siteHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		APIRoutes:    authAPI.RegisterRoutes,
		MaxBodyBytes: conf.MaxBodyBytes,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start http listener")
		os.Exit(1)
	}

	// ops listener rejects public peers itself, in case the security group
	// or load balancer is ever misconfigured
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}

	if err := notifySystemd(); err != nil {
		// worst case systemd kills us after its start timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err.Error())
	}

	<-ctx.Done()
	bg := context.Background()
	L.Info(bg, "shutdown signal received")

	// fail readiness first so the load balancer drains us
	gate.Set("draining")
	L.Info(bg, "shutdown gate closed, draining", "drain_delay", conf.DrainDelay.String())

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(conf.DrainDelay):
		L.Info(bg, "drain period complete")
	case <-forceCh:
		L.Warn(bg, "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(bg, 10*time.Second)
	defer cancel()

	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(bg, err, "http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(bg, err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(bg, err, "otel shutdown")
	}

	L.Info(bg, "shutdown complete",
		"users", store.Len(),
		"login_clients", loginLimiter.Len(),
		"signup_clients", signupLimiter.Len(),
	)
}

// startLimitsWatcher applies the SSM overrides once, synchronously, then
// keeps polling in the background. Every failure is logged and leaves the
// current policies in place.
func startLimitsWatcher(ctx context.Context, L log.Logger, m *metrics.ServerMetrics, param string, limiters map[string]*ratelimit.Limiter) {
	src, err := limitsource.New(ctx, limitsource.Options{Param: param})
	if err != nil {
		L.Error(ctx, err, "limit overrides disabled", "param", param)
		return
	}

	var version int64
	fctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	limits, version, err := src.Fetch(fctx)
	cancel()
	if err != nil {
		L.Error(ctx, err, "initial limit overrides fetch failed, using flag values", "param", param)
	} else {
		n := applyLimits(ctx, L, m, limiters, limits)
		L.Info(ctx, "limit overrides loaded", "param", param, "version", version, "applied", n)
	}

	w := limitsource.NewWatcher(limitsource.WatcherOptions{
		Logger:         L,
		Source:         src,
		InitialVersion: version,
		OnChange: func(l limitsource.Limits) {
			applyLimits(ctx, L, m, limiters, l)
		},
		Metrics: m,
	})
	go func() { _ = w.Run(ctx) }()
}

// storeProbe treats "not found" as a healthy answer from the store.
func storeProbe(s users.Store) health.CheckFunc {
	return func(ctx context.Context) error {
		_, err := s.FindByMobile(ctx, "0000000000")
		if err == nil || errors.Is(err, users.ErrNotFound) {
			return nil
		}
		return err
	}
}

func notifySystemd() error {
	// NOTIFY_SOCKET is set when started by systemd with Type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		conn.Close()
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
