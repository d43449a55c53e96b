// Package config resolves the process environment into a single immutable
// Config value once per worker invocation. Nothing in this package keeps
// mutable package-level state; callers pass the resolved Config down to
// every component explicitly.
package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"

	"github.com/memu-sync/memu-sync/internal/infra"
)

// Config is the full set of environment-derived settings for a memu-sync
// worker or watcher invocation. See spec.md §6 for the normative variable
// list this mirrors field-for-field.
type Config struct {
	SessionsDir  string `env:"OPENCLAW_SESSIONS_DIR"`
	DataDir      string `env:"MEMU_DATA_DIR"`
	WorkspaceDir string `env:"MEMU_WORKSPACE_DIR" envDefault:"~/.openclaw/workspace"`
	ExtraPaths   string `env:"MEMU_EXTRA_PATHS" envDefault:"[]"`
	UserID       string `env:"MEMU_USER_ID" envDefault:"default"`
	OutputLang   string `env:"MEMU_OUTPUT_LANG"`

	MaxMessagesPerSession int `env:"MEMU_MAX_MESSAGES_PER_SESSION" envDefault:"60"`
	MemorizeTimeoutSec    int `env:"MEMU_MEMORIZE_TIMEOUT_SECONDS" envDefault:"600"`

	RateLimitBackoffSec    int `env:"MEMU_RATE_LIMIT_BACKOFF_SECONDS" envDefault:"60"`
	RateLimitBackoffMaxSec int `env:"MEMU_RATE_LIMIT_BACKOFF_MAX_SECONDS" envDefault:"900"`

	DispatchRatePerSec float64 `env:"MEMU_DISPATCH_RATE_PER_SEC" envDefault:"0"`

	FlushIdleSec int  `env:"MEMU_FLUSH_IDLE_SECONDS" envDefault:"1800"`
	FlushPollSec int  `env:"MEMU_FLUSH_POLL_SECONDS" envDefault:"60"`
	ForceFlush   bool `env:"MEMU_FORCE_FLUSH" envDefault:"false"`

	ChangedPath string `env:"MEMU_CHANGED_PATH"`

	Chat  ProviderConfig `envPrefix:"MEMU_CHAT_"`
	Embed ProviderConfig `envPrefix:"MEMU_EMBED_"`
}

// ProviderConfig configures one OpenAI-compatible endpoint (chat or embed).
type ProviderConfig struct {
	Provider string `env:"PROVIDER"`
	BaseURL  string `env:"BASE_URL"`
	APIKey   string `env:"API_KEY"`
	Model    string `env:"MODEL"`
}

// Load resolves a Config from the current process environment, applying
// the defaults above, then expanding any leading "~" in path-valued
// fields.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}

	if strings.TrimSpace(cfg.SessionsDir) == "" {
		return nil, fmt.Errorf("config: OPENCLAW_SESSIONS_DIR is required")
	}

	cfg.WorkspaceDir = infra.ExpandHome(cfg.WorkspaceDir)
	cfg.SessionsDir = infra.ExpandHome(cfg.SessionsDir)
	if cfg.DataDir != "" {
		cfg.DataDir = infra.ExpandHome(cfg.DataDir)
	}

	return cfg, nil
}

// RequireDataDir returns DataDir, or an error if it was not set. Workers
// require it; the watcher process only needs SessionsDir and ExtraPaths.
func (c *Config) RequireDataDir() (string, error) {
	if strings.TrimSpace(c.DataDir) == "" {
		return "", fmt.Errorf("config: MEMU_DATA_DIR is required for workers")
	}
	return c.DataDir, nil
}

// ExtraPathList parses MEMU_EXTRA_PATHS as a JSON array of doc paths.
func (c *Config) ExtraPathList() ([]string, error) {
	var paths []string
	raw := strings.TrimSpace(c.ExtraPaths)
	if raw == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(raw), &paths); err != nil {
		return nil, fmt.Errorf("config: MEMU_EXTRA_PATHS is not a valid JSON array: %w", err)
	}
	for i, p := range paths {
		paths[i] = infra.ExpandHome(p)
	}
	return paths, nil
}

// LangPrefix returns the system-message prefix to inject as the first
// element of a part when OutputLang is configured, or "" if no prefix
// applies (spec.md §3, §4.6: changing this value forces a full rebuild).
func (c *Config) LangPrefix() string {
	switch c.OutputLang {
	case "":
		return ""
	case "zh":
		return "请使用中文回复并总结以下对话。"
	case "en":
		return "Summarize and respond to the following conversation in English."
	case "ja":
		return "以下の会話を日本語で要約し、応答してください。"
	default:
		return c.OutputLang
	}
}
