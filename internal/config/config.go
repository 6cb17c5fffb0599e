// Package config loads and validates the atelier configuration file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the atelier core.
type Config struct {
	Routing       RoutingConfig       `yaml:"routing"`
	Agent         AgentConfig         `yaml:"agent"`
	Cache         CacheConfig         `yaml:"cache"`
	Memory        MemoryConfig        `yaml:"memory"`
	MCP           MCPConfig           `yaml:"mcp"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Printers      []PrinterConfig     `yaml:"printers"`
	Queue         QueueConfig         `yaml:"queue"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Executor      ExecutorConfig      `yaml:"executor"`
	Audit         AuditConfig         `yaml:"audit"`
	Observability ObservabilityConfig `yaml:"observability"`
	Server        ServerConfig        `yaml:"server"`
}

// RoutingConfig tunes tier selection and escalation.
type RoutingConfig struct {
	// ConfidenceThreshold below which escalation is considered.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// OverrideKeyword sets allow_paid when present in a prompt.
	OverrideKeyword string `yaml:"override_keyword"`

	// SummarizerMaxRunes is the agent-output length above which the
	// summarizer runs.
	SummarizerMaxRunes int `yaml:"summarizer_max_runes"`
}

// AgentConfig tunes the ReAct loop.
type AgentConfig struct {
	MaxIterations int           `yaml:"max_iterations"`
	ToolTimeout   time.Duration `yaml:"tool_timeout"`
}

// CacheConfig tunes the exact and semantic caches.
type CacheConfig struct {
	Enabled             bool    `yaml:"enabled"`
	Mode                string  `yaml:"mode"` // exact | semantic
	MaxEntries          int     `yaml:"max_entries"`
	SimilarityThreshold float32 `yaml:"similarity_threshold"`
	PersistPath         string  `yaml:"persist_path"`
}

// MemoryConfig tunes the vector memory adapter.
type MemoryConfig struct {
	Enabled           bool          `yaml:"enabled"`
	PersistPath       string        `yaml:"persist_path"`
	ScoreThreshold    float32       `yaml:"score_threshold"`
	FallbackThreshold float32       `yaml:"fallback_threshold"`
	Limit             int           `yaml:"limit"`
	Timeout           time.Duration `yaml:"timeout"`
}

// MCPConfig lists tool servers.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
	// SelectionTopK bounds embedding-based tool selection.
	SelectionTopK int `yaml:"selection_top_k"`
}

// MCPServerConfig configures one MCP server connection.
type MCPServerConfig struct {
	ID      string            `yaml:"id"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout"`
}

// ProvidersConfig configures the three tiers.
type ProvidersConfig struct {
	Local    LocalProviderConfig    `yaml:"local"`
	Web      WebProviderConfig      `yaml:"web"`
	Frontier FrontierProviderConfig `yaml:"frontier"`
}

// LocalProviderConfig points at an OpenAI-compatible local endpoint.
type LocalProviderConfig struct {
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	SummarizeModel string `yaml:"summarize_model"`
	EmbedModel     string `yaml:"embed_model"`
	MaxTokens      int    `yaml:"max_tokens"`
}

// WebProviderConfig points at a search-grounded cloud provider.
type WebProviderConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// FrontierProviderConfig points at the large cloud reasoning model.
type FrontierProviderConfig struct {
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// PrinterConfig declares a printer and its driver.
type PrinterConfig struct {
	ID         string `yaml:"id"`
	Kind       string `yaml:"kind"` // moonraker | bambu
	URL        string `yaml:"url"`
	Serial     string `yaml:"serial"`
	AccessCode string `yaml:"access_code"`
	Material   string `yaml:"material"`
}

// QueueConfig configures print job persistence. An empty path keeps
// the queue in memory.
type QueueConfig struct {
	Path string `yaml:"path"`
}

// SchedulerConfig tunes the print scheduler.
type SchedulerConfig struct {
	TickInterval    time.Duration `yaml:"tick_interval"`
	DeadlineHorizon time.Duration `yaml:"deadline_horizon"`
	ForcedPrinters  []string      `yaml:"forced_printers"`
}

// ExecutorConfig tunes per-job execution.
type ExecutorConfig struct {
	StatusPollInterval time.Duration `yaml:"status_poll_interval"`
	SnapshotInterval   time.Duration `yaml:"snapshot_interval"`
	RetryDelay         time.Duration `yaml:"retry_delay"`
	UploadTimeout      time.Duration `yaml:"upload_timeout"`
}

// AuditConfig tunes the audit logger and store.
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	BufferSize int    `yaml:"buffer_size"`
}

// ObservabilityConfig tunes logging and metrics.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json | text
	MetricsAddr string `yaml:"metrics_addr"`
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	return &Config{
		Routing: RoutingConfig{
			ConfidenceThreshold: 0.7,
			OverrideKeyword:     "sudopay",
			SummarizerMaxRunes:  2000,
		},
		Agent: AgentConfig{
			MaxIterations: 10,
			ToolTimeout:   60 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:             true,
			Mode:                "exact",
			MaxEntries:          4096,
			SimilarityThreshold: 0.92,
		},
		Memory: MemoryConfig{
			Enabled:           true,
			ScoreThreshold:    0.55,
			FallbackThreshold: 0.40,
			Limit:             5,
			Timeout:           30 * time.Second,
		},
		MCP: MCPConfig{SelectionTopK: 5},
		Providers: ProvidersConfig{
			Local: LocalProviderConfig{
				BaseURL:   "http://127.0.0.1:11434/v1",
				Model:     "qwen2.5:14b-instruct-q4_K_M",
				MaxTokens: 2048,
			},
			Web: WebProviderConfig{
				BaseURL: "https://api.perplexity.ai",
				Model:   "sonar",
			},
			Frontier: FrontierProviderConfig{
				Model:     "claude-sonnet-4-20250514",
				MaxTokens: 4096,
			},
		},
		Queue: QueueConfig{Path: "atelier-jobs.db"},
		Scheduler: SchedulerConfig{
			TickInterval:    30 * time.Second,
			DeadlineHorizon: 24 * time.Hour,
		},
		Executor: ExecutorConfig{
			StatusPollInterval: 10 * time.Second,
			SnapshotInterval:   5 * time.Minute,
			RetryDelay:         30 * time.Second,
			UploadTimeout:      300 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    true,
			Path:       "atelier-audit.db",
			BufferSize: 1000,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
		Server: ServerConfig{Addr: ":8080"},
	}
}

// Load reads a YAML config file, expands ${ENV} references, applies
// defaults for unset fields, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Cache.Mode {
	case "", "exact", "semantic":
	default:
		return fmt.Errorf("cache.mode must be exact or semantic, got %q", c.Cache.Mode)
	}
	if c.Routing.ConfidenceThreshold < 0 || c.Routing.ConfidenceThreshold > 1 {
		return fmt.Errorf("routing.confidence_threshold must be in [0,1]")
	}
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be positive")
	}
	seen := make(map[string]bool, len(c.Printers))
	for _, p := range c.Printers {
		if p.ID == "" {
			return fmt.Errorf("printer id is required")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate printer id %q", p.ID)
		}
		seen[p.ID] = true
		switch p.Kind {
		case "moonraker", "bambu":
		default:
			return fmt.Errorf("printer %s: kind must be moonraker or bambu", p.ID)
		}
	}
	for _, s := range c.MCP.Servers {
		if s.ID == "" || s.URL == "" {
			return fmt.Errorf("mcp server requires id and url")
		}
		if !strings.HasPrefix(s.URL, "http://") && !strings.HasPrefix(s.URL, "https://") {
			return fmt.Errorf("mcp server %s: url must start with http:// or https://", s.ID)
		}
	}
	return nil
}
