package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Market.Timezone != "Europe/Istanbul" || cfg.Market.Cutover != "19:00" {
		t.Fatalf("unexpected market defaults %+v", cfg.Market)
	}
	if cfg.Source.Concurrency != 10 || cfg.Source.RequestDelay != 100*time.Millisecond {
		t.Fatalf("unexpected source defaults %+v", cfg.Source)
	}
	if cfg.Analysis.MaxRows != 4108 || cfg.Analysis.EMAPeriod != 200 || cfg.Analysis.RSIPeriod != 14 {
		t.Fatalf("unexpected analysis defaults %+v", cfg.Analysis)
	}
	if len(cfg.Analysis.WatchList) != 9 || cfg.Analysis.WatchList[0] != "MHRGY" {
		t.Fatalf("unexpected watch list %v", cfg.Analysis.WatchList)
	}
	if cfg.Alerting.Policy != "full" {
		t.Fatalf("policy = %q", cfg.Alerting.Policy)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
market:
  cutover: "18:30"
source:
  concurrency: 4
  instruments: [AAA, BBB]
alerting:
  enabled: true
  policy: delta
  transport: http
  http:
    endpoint: http://relay.local/send
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SCREENER_ANALYSIS_THRESHOLD", "0.85")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Market.Cutover != "18:30" || cfg.Source.Concurrency != 4 {
		t.Fatalf("file values not applied: %+v %+v", cfg.Market, cfg.Source)
	}
	if len(cfg.Source.Instruments) != 2 {
		t.Fatalf("instruments = %v", cfg.Source.Instruments)
	}
	if cfg.Analysis.Threshold != 0.85 {
		t.Fatalf("env override not applied: %v", cfg.Analysis.Threshold)
	}
	if cfg.Alerting.Policy != "delta" || cfg.Alerting.HTTP.Endpoint == "" {
		t.Fatalf("alerting not decoded: %+v", cfg.Alerting)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}

	cases := map[string]func(c *Config){
		"cutover":     func(c *Config) { c.Market.Cutover = "7pm" },
		"timezone":    func(c *Config) { c.Market.Timezone = "Mars/Olympus" },
		"concurrency": func(c *Config) { c.Source.Concurrency = 0 },
		"policy":      func(c *Config) { c.Alerting.Policy = "weekly" },
		"smtp": func(c *Config) {
			c.Alerting.Enabled = true
			c.Alerting.Transport = "smtp"
		},
		"transport": func(c *Config) {
			c.Alerting.Enabled = true
			c.Alerting.Transport = "pigeon"
		},
	}
	for name, mutate := range cases {
		cfg := *base
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestValidateNormalizesTransport(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	cfg.Alerting.Enabled = true
	cfg.Alerting.Transport = " HTTP "
	cfg.Alerting.HTTP.Endpoint = "http://relay.local/send"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Alerting.Transport != "http" {
		t.Fatalf("transport = %q, want http", cfg.Alerting.Transport)
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 500}}
	if got := cfg.ResolveMaxPoints(0); got != 500 {
		t.Fatalf("default = %d", got)
	}
	if got := cfg.ResolveMaxPoints(20); got != 20 {
		t.Fatalf("override = %d", got)
	}
}
