package cfg

import (
	"flag"
	"fmt"
	"strings"
	"testing"
	"time"
)

func wantErrContains(t *testing.T, err error, sub string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error containing %q, got <nil>", sub)
	}
	if !strings.Contains(err.Error(), sub) {
		t.Fatalf("error %q does not contain %q", err.Error(), sub)
	}
}

// newTestConfig registers flags on a fresh FlagSet, parses the given args,
// and returns the resulting App. This isolates each test from flag.CommandLine.
func newTestConfig(t *testing.T, args []string) App {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	return c
}

func TestRegister_Defaults(t *testing.T) {
	c := newTestConfig(t, nil)

	if !c.LogJSON {
		t.Error("LogJSON: want true")
	}
	if c.LogLevel != "info" {
		t.Errorf("LogLevel: want %q, got %q", "info", c.LogLevel)
	}
	if c.HTTPPort != 8080 {
		t.Errorf("HTTPPort: want 8080, got %d", c.HTTPPort)
	}
	if c.AdminPort != 9000 {
		t.Errorf("AdminPort: want 9000, got %d", c.AdminPort)
	}
	if c.MaxBodyBytes != 4096 {
		t.Errorf("MaxBodyBytes: want 4096, got %d", c.MaxBodyBytes)
	}
	if c.DrainDelay != 60*time.Second {
		t.Errorf("DrainDelay: want 60s, got %s", c.DrainDelay)
	}
	if c.LoginLimit != 5 || c.LoginWindow != 5*time.Minute {
		t.Errorf("login: want 5/5m, got %d/%s", c.LoginLimit, c.LoginWindow)
	}
	if c.SignupLimit != 3 || c.SignupWindow != 10*time.Minute {
		t.Errorf("signup: want 3/10m, got %d/%s", c.SignupLimit, c.SignupWindow)
	}
	if c.LimiterMaxEntries != 500 {
		t.Errorf("LimiterMaxEntries: want 500, got %d", c.LimiterMaxEntries)
	}
	if c.LimitsSSMParam != "" {
		t.Errorf("LimitsSSMParam: want empty, got %q", c.LimitsSSMParam)
	}
	if err := Validate(c); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestRegister_CLIOverrides(t *testing.T) {
	c := newTestConfig(t, []string{
		"-log-json=false",
		"-log-level=debug",
		"-http-port=9090",
		"-login-limit=10",
		"-login-window=90s",
		"-signup-limit=1",
		"-signup-window=1h",
		"-limiter-max-entries=2000",
		"-limits-ssm-param=/app/tradesignals-web/limits",
	})

	if c.LogJSON {
		t.Error("LogJSON: want false")
	}
	if c.LogLevel != "debug" {
		t.Errorf("LogLevel: want debug, got %q", c.LogLevel)
	}
	if c.HTTPPort != 9090 {
		t.Errorf("HTTPPort: want 9090, got %d", c.HTTPPort)
	}
	if c.LoginLimit != 10 || c.LoginWindow != 90*time.Second {
		t.Errorf("login: want 10/90s, got %d/%s", c.LoginLimit, c.LoginWindow)
	}
	if c.SignupLimit != 1 || c.SignupWindow != time.Hour {
		t.Errorf("signup: want 1/1h, got %d/%s", c.SignupLimit, c.SignupWindow)
	}
	if c.LimiterMaxEntries != 2000 {
		t.Errorf("LimiterMaxEntries: want 2000, got %d", c.LimiterMaxEntries)
	}
	if c.LimitsSSMParam != "/app/tradesignals-web/limits" {
		t.Errorf("LimitsSSMParam: got %q", c.LimitsSSMParam)
	}
}

func TestFillFromEnv(t *testing.T) {
	pfx := "TESTCFG_"
	t.Setenv(pfx+"LOG_LEVEL", "warn")
	t.Setenv(pfx+"LOGIN_LIMIT", "7")
	t.Setenv(pfx+"SIGNUP_WINDOW", "30m")
	t.Setenv(pfx+"ENABLE_PPROF", "false")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	FillFromEnv(fs, pfx, nil)

	if c.LogLevel != "warn" {
		t.Errorf("LogLevel: want warn, got %q", c.LogLevel)
	}
	if c.LoginLimit != 7 {
		t.Errorf("LoginLimit: want 7, got %d", c.LoginLimit)
	}
	if c.SignupWindow != 30*time.Minute {
		t.Errorf("SignupWindow: want 30m, got %s", c.SignupWindow)
	}
	if c.EnablePprof {
		t.Error("EnablePprof: want false from env")
	}
}

func TestFillFromEnv_CLITakesPrecedence(t *testing.T) {
	pfx := "TESTCFG2_"
	t.Setenv(pfx+"HTTP_PORT", "7777")
	t.Setenv(pfx+"LOGIN_LIMIT", "50")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse([]string{"-http-port=9090", "-login-limit=2"}); err != nil {
		t.Fatalf("flag parse: %v", err)
	}

	var msgs []string
	FillFromEnv(fs, pfx, func(format string, args ...any) {
		msgs = append(msgs, fmt.Sprintf(format, args...))
	})

	if c.HTTPPort != 9090 {
		t.Errorf("HTTPPort: want 9090 (cli), got %d", c.HTTPPort)
	}
	if c.LoginLimit != 2 {
		t.Errorf("LoginLimit: want 2 (cli), got %d", c.LoginLimit)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 override messages, got %d: %v", len(msgs), msgs)
	}
	for _, msg := range msgs {
		if !strings.Contains(msg, "overrides env") {
			t.Errorf("unexpected override message format: %s", msg)
		}
	}
}

func TestFillFromEnv_InvalidEnvIgnored(t *testing.T) {
	pfx := "TESTCFG3_"
	t.Setenv(pfx+"LOGIN_WINDOW", "five minutes")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("flag parse: %v", err)
	}

	var msgs []string
	FillFromEnv(fs, pfx, func(format string, args ...any) {
		msgs = append(msgs, fmt.Sprintf(format, args...))
	})

	if c.LoginWindow != 5*time.Minute {
		t.Errorf("LoginWindow: want 5m (default), got %s", c.LoginWindow)
	}
	if len(msgs) != 1 || !strings.Contains(msgs[0], "ignoring invalid env") {
		t.Fatalf("want one invalid env message, got %v", msgs)
	}
}

func TestValidate_OK(t *testing.T) {
	c := newTestConfig(t, []string{
		"-enable-pyroscope=true",
		"-pyro-server=https://pyro:4040",
		"-pyro-tenant=test-tenant",
		"-enable-tracing=true",
		"-otlp-endpoint=otel:4317",
		"-trace-sample=0.2",
	})
	if err := Validate(c); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_InvalidCombined(t *testing.T) {
	c := newTestConfig(t, []string{
		"-http-port=0",
		"-admin-port=70000",
		"-log-level=nope",
		"-stacktrace-level=alsonope",
		"-trace-sample=2.0",
		"-enable-pyroscope=true",
		"-pyro-server=not-a-url",
		"-enable-tracing=true",
		"-otlp-endpoint=otel",
		"-max-error-links=0",
		"-max-body-bytes=0",
		"-drain-delay=-1s",
	})

	err := Validate(c)
	wantErrContains(t, err, "invalid HTTP_PORT")
	wantErrContains(t, err, "invalid ADMIN_PORT")
	wantErrContains(t, err, "invalid LOG_LEVEL")
	wantErrContains(t, err, "invalid STACKTRACE_LEVEL")
	wantErrContains(t, err, "invalid TRACE_SAMPLE")
	wantErrContains(t, err, "PYRO_SERVER must be a URL")
	wantErrContains(t, err, "PYRO_TENANT required")
	wantErrContains(t, err, "OTLP_ENDPOINT must be host:port")
	wantErrContains(t, err, "MAX_ERROR_LINKS")
	wantErrContains(t, err, "invalid MAX_BODY_BYTES")
	wantErrContains(t, err, "invalid DRAIN_DELAY")
}

func TestValidate_SamePorts(t *testing.T) {
	c := newTestConfig(t, []string{"-http-port=9000", "-admin-port=9000"})
	wantErrContains(t, Validate(c), "must differ")
}

func TestValidate_RateLimits(t *testing.T) {
	c := newTestConfig(t, []string{
		"-login-limit=0",
		"-login-window=0s",
		"-signup-limit=-1",
		"-signup-window=500us",
		"-limiter-max-entries=0",
		"-limits-ssm-param= /x ",
	})

	err := Validate(c)
	wantErrContains(t, err, "invalid LOGIN_LIMIT")
	wantErrContains(t, err, "invalid LOGIN_WINDOW")
	wantErrContains(t, err, "invalid SIGNUP_LIMIT")
	wantErrContains(t, err, "invalid SIGNUP_WINDOW")
	wantErrContains(t, err, "invalid LIMITER_MAX_ENTRIES")
	wantErrContains(t, err, "LIMITS_SSM_PARAM")
}
