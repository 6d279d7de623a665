// Package config loads layered configuration: defaults, then a YAML file,
// then REAGENT_-prefixed environment variables. API keys are taken from
// the environment only and never written to config files.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix maps REAGENT_AGENT__MAX_STEPS to agent.max_steps. Double
// underscores separate sections; single underscores stay inside key names.
const EnvPrefix = "REAGENT_"

type Config struct {
	Log       LogConfig       `koanf:"log"`
	LLM       LLMConfig       `koanf:"llm"`
	Agent     AgentConfig     `koanf:"agent"`
	Sandbox   SandboxConfig   `koanf:"sandbox"`
	Memory    MemoryConfig    `koanf:"memory"`
	Recall    RecallConfig    `koanf:"recall"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type LLMConfig struct {
	Provider        string  `koanf:"provider"` // openai, anthropic
	Model           string  `koanf:"model"`
	BaseURL         string  `koanf:"base_url"`
	Dispatch        string  `koanf:"dispatch"` // code, tool_call
	MaxOutputTokens int     `koanf:"max_output_tokens"`
	Temperature     float32 `koanf:"temperature"`
}

type AgentConfig struct {
	Name               string `koanf:"name"`
	MaxSteps           int    `koanf:"max_steps"`
	PlanInterval       int    `koanf:"plan_interval"`
	MaxLimitRetries    int    `koanf:"max_limit_retries"`
	MaxDelegationDepth int    `koanf:"max_delegation_depth"`
}

type SandboxConfig struct {
	Kind           string        `koanf:"kind"` // local, container, remote, inline
	Image          string        `koanf:"image"`
	Memory         string        `koanf:"memory"`
	CPU            string        `koanf:"cpu"`
	WallClock      time.Duration `koanf:"wall_clock"`
	MaxOps         int           `koanf:"max_ops"`
	RemoteBaseURL  string        `koanf:"remote_base_url"`
	AllowedImports []string      `koanf:"allowed_imports"`
}

type MemoryConfig struct {
	RetentionEnabled    bool   `koanf:"retention_enabled"`
	KeepRecentActions   int    `koanf:"keep_recent_actions"`
	MaxObservationChars int    `koanf:"max_observation_chars"`
	TranscriptDB        string `koanf:"transcript_db"`
}

type RecallConfig struct {
	Enabled   bool   `koanf:"enabled"`
	IndexPath string `koanf:"index_path"`
}

type TelemetryConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Exporter string `koanf:"exporter"` // stdout, otlp
	Endpoint string `koanf:"endpoint"`
}

// Load reads configuration from path (optional) over defaults, with
// REAGENT_ environment overrides on top.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	for key, val := range defaults() {
		if err := k.Set(key, val); err != nil {
			return nil, err
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaults() map[string]any {
	return map[string]any{
		"log.level":  "info",
		"log.format": "text",

		"llm.provider":          "openai",
		"llm.model":             "gpt-4o-mini",
		"llm.dispatch":          "tool_call",
		"llm.max_output_tokens": 4096,

		"agent.name":                 "reagent",
		"agent.max_steps":            10,
		"agent.plan_interval":        0,
		"agent.max_limit_retries":    2,
		"agent.max_delegation_depth": 3,

		"sandbox.kind":            "local",
		"sandbox.image":           "alpine:3.20",
		"sandbox.memory":          "512m",
		"sandbox.cpu":             "1",
		"sandbox.wall_clock":      30 * time.Second,
		"sandbox.max_ops":         10000,
		"sandbox.allowed_imports": []string{"json", "math", "re"},

		"memory.retention_enabled":     true,
		"memory.keep_recent_actions":   20,
		"memory.max_observation_chars": 1000,
		"memory.transcript_db":         "",

		"recall.enabled":    false,
		"recall.index_path": "",

		"telemetry.enabled":  false,
		"telemetry.exporter": "stdout",
		"telemetry.endpoint": "localhost:4317",
	}
}

// Validate rejects values the run loop would refuse anyway, so mistakes
// surface at startup.
func (c *Config) Validate() error {
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be positive")
	}
	if c.Agent.PlanInterval < 0 {
		return fmt.Errorf("agent.plan_interval must not be negative")
	}
	switch c.Sandbox.Kind {
	case "local", "container", "remote", "inline":
	default:
		return fmt.Errorf("sandbox.kind must be one of local, container, remote, inline; got %q", c.Sandbox.Kind)
	}
	switch c.LLM.Dispatch {
	case "code", "tool_call":
	default:
		return fmt.Errorf("llm.dispatch must be code or tool_call; got %q", c.LLM.Dispatch)
	}
	if c.Sandbox.Kind == "remote" && c.Sandbox.RemoteBaseURL == "" {
		return fmt.Errorf("sandbox.remote_base_url is required for the remote sandbox")
	}
	return nil
}
