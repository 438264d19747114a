package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Profile.Name == "" {
		t.Fatal("default name should not be empty")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"key file", func(c *Config) { c.Identity.KeyFile = " " }, "identity.key_file"},
		{"port", func(c *Config) { c.P2P.ListenPort = 70000 }, "listen_port"},
		{"log level", func(c *Config) { c.P2P.LogLevel = "loud" }, "log_level"},
		{"profile id", func(c *Config) { c.Profile.ID = "nope" }, "profile.id"},
		{"interest", func(c *Config) { c.Profile.Interests = []string{"go", ""} }, "interests[1]"},
		{"invite timeout", func(c *Config) { c.Exchange.InviteTimeoutSec = 0 }, "invite_timeout"},
		{"lost after", func(c *Config) { c.Exchange.LostAfterSec = 1 }, "lost_after"},
		{"image vs message", func(c *Config) { c.Exchange.MaxImageKB = 2048 }, "max_image_kb"},
		{"rate", func(c *Config) { c.Exchange.InboundRate = 0 }, "inbound_rate"},
		{"burst", func(c *Config) { c.Exchange.InboundBurst = 0 }, "inbound_burst"},
		{"http addr", func(c *Config) { c.Viewer.HTTPAddr = "nonsense" }, "http_addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("got %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}

func TestEnsureCreatesAndKeepsID(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)

	cfg, created, err := Ensure(path)
	if err != nil || !created {
		t.Fatalf("Ensure: created=%v err=%v", created, err)
	}
	if cfg.Profile.ID == "" {
		t.Fatal("id not generated")
	}

	again, created, err := Ensure(path)
	if err != nil || created {
		t.Fatalf("second Ensure: created=%v err=%v", created, err)
	}
	if again.Profile.ID != cfg.Profile.ID {
		t.Fatal("id changed between runs")
	}
}

func TestEnsureBackfillsMissingID(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte(`{"profile":{"name":"Alice"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, _, err := Ensure(path)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if cfg.Profile.ID == "" || cfg.Profile.Name != "Alice" {
		t.Fatalf("profile %+v", cfg.Profile)
	}
	reloaded, err := Load(path)
	if err != nil || reloaded.Profile.ID != cfg.Profile.ID {
		t.Fatalf("id not persisted: %v", err)
	}
}

func TestLoadStripsBOMAndKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	body := append([]byte{0xEF, 0xBB, 0xBF}, []byte(`{"viewer":{"http_addr":"127.0.0.1:9999"}}`)...)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Viewer.HTTPAddr != "127.0.0.1:9999" {
		t.Fatalf("http addr %q", cfg.Viewer.HTTPAddr)
	}
	if cfg.Exchange.InviteTimeoutSec != 30 || cfg.Profile.Interests == nil {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	_ = os.WriteFile(path, []byte(`{"exchange":{"max_image_kb":-1}}`), 0o644)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
	_ = os.WriteFile(path, []byte(`{`), 0o644)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvHTTPAddr, "0.0.0.0:7000")
	t.Setenv(EnvListenPort, "4100")
	t.Setenv(EnvName, "  Bob  ")
	t.Setenv(EnvLogLevel, "WARN")

	cfg := Default()
	applied, err := ApplyEnv(&cfg)
	if err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if len(applied) != 4 {
		t.Fatalf("applied %v", applied)
	}
	if cfg.Viewer.HTTPAddr != "0.0.0.0:7000" || cfg.P2P.ListenPort != 4100 ||
		cfg.Profile.Name != "Bob" || cfg.P2P.LogLevel != "warn" {
		t.Fatalf("cfg %+v", cfg)
	}
}

func TestApplyEnvBadPort(t *testing.T) {
	t.Setenv(EnvListenPort, "many")
	cfg := Default()
	if _, err := ApplyEnv(&cfg); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := LoadDotEnv(dir); err != nil {
		t.Fatalf("missing .env should be fine: %v", err)
	}

	t.Setenv(EnvName, "")
	os.Unsetenv(EnvName)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(EnvName+"=Carol\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := LoadDotEnv(dir); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv(EnvName); got != "Carol" {
		t.Fatalf("%s = %q", EnvName, got)
	}
}

func TestWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	cfg, _, err := Ensure(path)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan Config, 4)
	if err := Watch(ctx, path, func(c Config) { got <- c }); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	cfg.Profile.Bio = "edited"
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-got:
		if c.Profile.Bio != "edited" {
			t.Fatalf("reloaded bio %q", c.Profile.Bio)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload")
	}
}
