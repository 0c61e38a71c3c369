package config

import (
	"testing"
)

// ===== TEST: defaults without environment =====

func TestLoadDefaults(t *testing.T) {
	// Neutralize anything inherited from the invoking shell.
	for _, key := range []string{"PORT", "MONITOR_INTERVAL_MS", "PRICE_STALE_MS", "FEED_URL", "LOG_LEVEL"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.ServerConfig.Port != 3001 {
		t.Errorf("default port = %d, want 3001", cfg.ServerConfig.Port)
	}
	if cfg.MonitorConfig.IntervalMS != 1000 {
		t.Errorf("default interval = %d, want 1000", cfg.MonitorConfig.IntervalMS)
	}
	if cfg.MonitorConfig.PriceStaleMS != 30000 {
		t.Errorf("default stale threshold = %d, want 30000", cfg.MonitorConfig.PriceStaleMS)
	}
	if cfg.FeedConfig.URL != "wss://stream.binance.com:9443" {
		t.Errorf("default feed url = %q", cfg.FeedConfig.URL)
	}
	if cfg.LoggingConfig.Level != "info" {
		t.Errorf("default log level = %q, want info", cfg.LoggingConfig.Level)
	}
}

// ===== TEST: environment overrides =====

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LEDGER_URL", "postgres://engine:pw@ledger:5432/prop")
	t.Setenv("LEDGER_SERVICE_KEY", "rotated-service-key")
	t.Setenv("PORT", "4100")
	t.Setenv("MONITOR_INTERVAL_MS", "250")
	t.Setenv("PRICE_STALE_MS", "45000")
	t.Setenv("FALLBACK_SYMBOLS", "EUR-USD, XAU-USD ,GBP-USD")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.LedgerConfig.URL != "postgres://engine:pw@ledger:5432/prop" {
		t.Errorf("ledger url = %q", cfg.LedgerConfig.URL)
	}
	if cfg.LedgerConfig.ServiceKey != "rotated-service-key" {
		t.Errorf("service key = %q", cfg.LedgerConfig.ServiceKey)
	}
	if cfg.ServerConfig.Port != 4100 {
		t.Errorf("port = %d, want 4100", cfg.ServerConfig.Port)
	}
	if cfg.MonitorConfig.IntervalMS != 250 {
		t.Errorf("interval = %d, want 250", cfg.MonitorConfig.IntervalMS)
	}
	if got := cfg.MonitorConfig.StaleAfter().Milliseconds(); got != 45000 {
		t.Errorf("StaleAfter() = %dms, want 45000ms", got)
	}

	want := []string{"EUR-USD", "XAU-USD", "GBP-USD"}
	if len(cfg.MonitorConfig.FallbackSymbols) != len(want) {
		t.Fatalf("fallback symbols = %v, want %v", cfg.MonitorConfig.FallbackSymbols, want)
	}
	for i, s := range want {
		if cfg.MonitorConfig.FallbackSymbols[i] != s {
			t.Errorf("fallback symbol[%d] = %q, want %q", i, cfg.MonitorConfig.FallbackSymbols[i], s)
		}
	}
}

// ===== TEST: validation =====

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing ledger url without vault",
			mutate:  func(c *Config) { c.LedgerConfig.URL = "" },
			wantErr: true,
		},
		{
			name: "missing ledger url with vault enabled",
			mutate: func(c *Config) {
				c.LedgerConfig.URL = ""
				c.VaultConfig.Enabled = true
			},
			wantErr: false,
		},
		{
			name:    "zero interval",
			mutate:  func(c *Config) { c.MonitorConfig.IntervalMS = 0 },
			wantErr: true,
		},
		{
			name:    "negative stale threshold",
			mutate:  func(c *Config) { c.MonitorConfig.PriceStaleMS = -1 },
			wantErr: true,
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.ServerConfig.Port = 70000 },
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{
				LedgerConfig:  LedgerConfig{URL: "postgres://engine@ledger:5432/prop"},
				MonitorConfig: MonitorConfig{IntervalMS: 1000, PriceStaleMS: 30000},
				ServerConfig:  ServerConfig{Port: 3001},
			}
			tc.mutate(cfg)

			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Errorf("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
