package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "invalid HTTP port",
			mutate:  func(c *Config) { c.Server.HTTPPort = 0 },
			wantErr: true,
		},
		{
			name:    "min rows too small",
			mutate:  func(c *Config) { c.Forecast.MinRows = 1 },
			wantErr: true,
		},
		{
			name:    "promotion floor below forecast floor",
			mutate:  func(c *Config) { c.Forecast.PromotionMinRows = 5 },
			wantErr: true,
		},
		{
			name:    "interval width out of range",
			mutate:  func(c *Config) { c.Forecast.IntervalWidth = 1.5 },
			wantErr: true,
		},
		{
			name:    "unknown seasonality mode",
			mutate:  func(c *Config) { c.Forecast.SeasonalityMode = "hybrid" },
			wantErr: true,
		},
		{
			name:    "zero timeout",
			mutate:  func(c *Config) { c.Forecast.Timeout = 0 },
			wantErr: true,
		},
		{
			name:    "redis store without url",
			mutate:  func(c *Config) { c.Store.Type = "redis" },
			wantErr: true,
		},
		{
			name: "enabled scheduler without spec",
			mutate: func(c *Config) {
				c.Scheduler.Enabled = true
				c.Scheduler.Spec = ""
			},
			wantErr: true,
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "invalid" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Forecast.MinRows != 10 {
		t.Errorf("expected MinRows 10, got %d", cfg.Forecast.MinRows)
	}

	if cfg.Forecast.PromotionMinRows != 30 {
		t.Errorf("expected PromotionMinRows 30, got %d", cfg.Forecast.PromotionMinRows)
	}

	if cfg.Forecast.IntervalWidth != 0.80 {
		t.Errorf("expected IntervalWidth 0.80, got %v", cfg.Forecast.IntervalWidth)
	}

	if cfg.Forecast.SeasonalityMode != "multiplicative" {
		t.Errorf("expected multiplicative mode, got %s", cfg.Forecast.SeasonalityMode)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  http_port: 9100
forecast:
  min_rows: 14
  timeout: 45s
  seasonality_mode: additive
logging:
  level: debug
  format: console
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPPort != 9100 {
		t.Errorf("expected port 9100, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Forecast.MinRows != 14 {
		t.Errorf("expected MinRows 14, got %d", cfg.Forecast.MinRows)
	}
	if cfg.Forecast.Timeout != 45*time.Second {
		t.Errorf("expected timeout 45s, got %v", cfg.Forecast.Timeout)
	}
	if cfg.Forecast.PromotionMinRows != 30 {
		t.Errorf("expected default PromotionMinRows 30, got %d", cfg.Forecast.PromotionMinRows)
	}
	if !cfg.IsDevelopment() {
		t.Error("config with debug/console should be development mode")
	}
}

func TestGetBusinessTimezone(t *testing.T) {
	tests := []struct {
		tz         string
		wantOffset int
	}{
		{"", 0},
		{"UTC", 0},
		{"+08:00", 8 * 3600},
		{"-05:30", -(5*3600 + 30*60)},
		{"not-a-zone", 0},
	}

	ref := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	for _, tt := range tests {
		t.Run(tt.tz, func(t *testing.T) {
			sc := ServerConfig{Timezone: tt.tz}
			_, offset := ref.In(sc.GetBusinessTimezone()).Zone()
			if offset != tt.wantOffset {
				t.Errorf("offset = %d, want %d", offset, tt.wantOffset)
			}
		})
	}
}

func TestGetServerAddress(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.GetServerAddress(); got != "0.0.0.0:8000" {
		t.Errorf("GetServerAddress() = %s", got)
	}
}
