package prof

import (
	"context"
	"strings"
	"testing"

	"github.com/keithlinneman/tradesignals-web/internal/log"
)

func TestStart_Disabled(t *testing.T) {
	ctx := log.WithContext(context.Background(), log.Nop())
	stop, err := Start(ctx, Options{
		Enabled:              false,
		BasicAuthPassword:    "secret",
		ProfileMutexFraction: 999,
	})
	if err != nil {
		t.Fatalf("disabled should never error: %v", err)
	}
	stop()
	stop()
}

func TestStart_InvalidOptions(t *testing.T) {
	cases := []struct {
		name string
		opts Options
		want string
	}{
		{"no address", Options{Enabled: true, AppName: "tradesignals-web"}, "server address"},
		{"no app name", Options{Enabled: true, ServerAddress: "http://pyroscope:4040"}, "app name"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stop, err := Start(context.Background(), tc.opts)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %q", err, tc.want)
			}
			if stop == nil {
				t.Fatal("stop must be non-nil even on error")
			}
			stop()
		})
	}
}

func TestConfig(t *testing.T) {
	cfg, err := config(Options{
		AppName:           "tradesignals-web.server",
		ServerAddress:     "http://pyroscope:4040",
		BasicAuthUser:     "u",
		BasicAuthPassword: "p",
		TenantID:          "t1",
		Tags:              map[string]string{"env": "prod"},
	})
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.ApplicationName != "tradesignals-web.server" || cfg.TenantID != "t1" || cfg.BasicAuthUser != "u" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Tags["env"] != "prod" {
		t.Fatalf("tags = %v", cfg.Tags)
	}
	if len(cfg.ProfileTypes) != len(profileTypes) {
		t.Fatalf("profile types = %d, want %d", len(cfg.ProfileTypes), len(profileTypes))
	}
}
