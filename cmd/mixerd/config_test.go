// config_test.go - Configuration, rate limiter, and health checks.

package main

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// ====== Configuration ======

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mixerd.yaml")
	want := DefaultConfig()
	want.Listen = ":9090"
	want.Staking.Period = Duration(48 * time.Hour)
	want.Faucet = []FaucetAccount{{
		Address: "0x1000000000000000000000000000000000000001",
		Balance: "1000000000000000000000",
	}}
	if err := SaveConfig(want, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got.Listen != ":9090" {
		t.Errorf("listen: expected :9090, got %s", got.Listen)
	}
	if time.Duration(got.Staking.Period) != 48*time.Hour {
		t.Errorf("period: expected 48h, got %s", time.Duration(got.Staking.Period))
	}
	if len(got.Faucet) != 1 || got.Faucet[0].Balance != want.Faucet[0].Balance {
		t.Errorf("faucet did not survive the round trip: %+v", got.Faucet)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("reloaded config must validate: %v", err)
	}
}

func TestLoadConfigCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh", "mixerd.yaml")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Listen != DefaultConfig().Listen {
		t.Errorf("expected the default config, got listen %s", cfg.Listen)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("missing config must be written to disk: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	mutations := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen", func(c *Config) { c.Listen = "" }},
		{"bad vault address", func(c *Config) { c.VaultAddress = "0x123" }},
		{"no pools", func(c *Config) { c.Pools = nil }},
		{"unknown asset", func(c *Config) { c.Pools[0].Asset = "doge" }},
		{"duplicate pool", func(c *Config) { c.Pools = append(c.Pools, c.Pools[0]) }},
		{"zero denomination", func(c *Config) { c.Pools[0].Denomination = "0" }},
		{"garbage denomination", func(c *Config) { c.Pools[0].Denomination = "1.5" }},
		{"wrong tree depth", func(c *Config) { c.Pools[0].TreeLevels = 16 }},
		{"zero root history", func(c *Config) { c.Pools[0].RootHistory = 0 }},
		{"zero period", func(c *Config) { c.Staking.Period = 0 }},
		{"empty keys dir", func(c *Config) { c.Keys.Dir = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"zero rate limit", func(c *Config) { c.Limits.RequestsPerMinute = 0 }},
		{"bad faucet address", func(c *Config) {
			c.Faucet = []FaucetAccount{{Address: "nope", Balance: "1"}}
		}},
		{"bad faucet balance", func(c *Config) {
			c.Faucet = []FaucetAccount{{Address: "0x1000000000000000000000000000000000000001", Balance: "-1"}}
		}},
	}
	for _, tc := range mutations {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

// ====== Rate limiter ======

func TestRateLimiterExhaustsBurst(t *testing.T) {
	rl := NewRateLimiter(3, 1, time.Hour)
	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("request %d within the burst must pass", i)
		}
	}
	if rl.Allow() {
		t.Error("request beyond the burst must be rejected")
	}
}

func TestClientRateLimiterIsolatesClients(t *testing.T) {
	crl := NewClientRateLimiter(1, 1, time.Hour)
	if !crl.Allow("10.0.0.1") {
		t.Fatal("first request must pass")
	}
	if crl.Allow("10.0.0.1") {
		t.Error("second request from the same client must be rejected")
	}
	if !crl.Allow("10.0.0.2") {
		t.Error("a different client must get its own bucket")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	crl := NewClientRateLimiter(1, 1, time.Hour)
	var hits int
	h := crl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/pools", nil)
	req.RemoteAddr = "10.0.0.1:55000"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != 200 || hits != 1 {
		t.Fatalf("first request must reach the handler, got %d (hits %d)", rec.Code, hits)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != 429 || hits != 1 {
		t.Errorf("second request must be limited, got %d (hits %d)", rec.Code, hits)
	}
}

// ====== Health checks ======

func TestHealthChecker(t *testing.T) {
	hc := NewHealthChecker("test")
	hc.RegisterComponent("journal", func() error { return nil })

	health := hc.CheckHealth()
	if health.OverallStatus != Healthy || len(health.Components) != 1 {
		t.Fatalf("unexpected health %+v", health)
	}

	rec := httptest.NewRecorder()
	hc.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != 200 {
		t.Errorf("healthy system must report 200, got %d", rec.Code)
	}

	t.Run("unhealthy component", func(t *testing.T) {
		hc.RegisterComponent("keys", func() error { return errors.New("missing key file") })
		health := hc.CheckHealth()
		if health.OverallStatus != Unhealthy {
			t.Errorf("expected unhealthy, got %s", health.OverallStatus)
		}
		rec := httptest.NewRecorder()
		hc.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
		if rec.Code != 503 {
			t.Errorf("unhealthy system must report 503, got %d", rec.Code)
		}
	})
}
