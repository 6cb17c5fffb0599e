package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadExpandsEnvAndOverridesDefaults(t *testing.T) {
	t.Setenv("ATELIER_TEST_KEY", "pk-123")
	dir := t.TempDir()
	path := filepath.Join(dir, "atelier.yaml")
	body := `
routing:
  confidence_threshold: 0.5
providers:
  web:
    api_key: ${ATELIER_TEST_KEY}
scheduler:
  tick_interval: 5s
printers:
  - id: bamboo
    kind: bambu
    serial: 01S00C
    material: PLA
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Routing.ConfidenceThreshold != 0.5 {
		t.Errorf("confidence threshold = %v, want 0.5", cfg.Routing.ConfidenceThreshold)
	}
	if cfg.Providers.Web.APIKey != "pk-123" {
		t.Errorf("api key = %q, want expanded env value", cfg.Providers.Web.APIKey)
	}
	if cfg.Scheduler.TickInterval != 5*time.Second {
		t.Errorf("tick interval = %v, want 5s", cfg.Scheduler.TickInterval)
	}
	// Untouched sections keep defaults.
	if cfg.Agent.MaxIterations != 10 {
		t.Errorf("max iterations = %d, want default 10", cfg.Agent.MaxIterations)
	}
}

func TestValidateRejectsBadInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad cache mode", func(c *Config) { c.Cache.Mode = "fuzzy" }},
		{"threshold out of range", func(c *Config) { c.Routing.ConfidenceThreshold = 1.5 }},
		{"zero iterations", func(c *Config) { c.Agent.MaxIterations = 0 }},
		{"unknown printer kind", func(c *Config) {
			c.Printers = []PrinterConfig{{ID: "p1", Kind: "prusa"}}
		}},
		{"duplicate printer id", func(c *Config) {
			c.Printers = []PrinterConfig{
				{ID: "p1", Kind: "bambu"},
				{ID: "p1", Kind: "moonraker"},
			}
		}},
		{"mcp server missing url", func(c *Config) {
			c.MCP.Servers = []MCPServerConfig{{ID: "vision"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}
