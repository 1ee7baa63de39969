// Package common provides shared configuration, logging, and identifier
// utilities used across ledgersync.
package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the top-level application configuration, loaded from one or more
// TOML files and then overridden by environment variables.
type Config struct {
	Environment string          `toml:"environment"`
	Server      ServerConfig    `toml:"server"`
	Logging     LoggingConfig   `toml:"logging"`
	Agent       AgentConfig     `toml:"agent"`
	ObjectStore ObjectStoreCfg  `toml:"object_store"`
	Browser     BrowserCfg      `toml:"browser"`
	Claude      ClaudeConfig    `toml:"claude"`
	Gemini      GeminiConfig    `toml:"gemini"`
	Callback    CallbackCfg     `toml:"callback"`
	Ingress     IngressCfg      `toml:"ingress"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`
	Output []string `toml:"output"`
}

// AgentConfig controls the per-file tool-call loop.
type AgentConfig struct {
	MaxIterationsPerFile int    `toml:"max_iterations_per_file"` // spec default 15
	TickerTimeout        string `toml:"ticker_timeout"`          // e.g. "30m"
	CallTimeout          string `toml:"call_timeout"`            // e.g. "30s", applies to each external HTTP call
	WorkDir              string `toml:"work_dir"`                // base dir for per-ticker working directories
	NumericFloor         int64  `toml:"numeric_floor"`           // REDESIGN FLAG (b): magnitudes below this are flagged as abbreviated
}

type ObjectStoreCfg struct {
	PublicBaseURL string `toml:"public_base_url"` // downloads: {public_base_url}/{bucket}/{TICKER}.xlsx
	AuthBaseURL   string `toml:"auth_base_url"`   // uploads: authenticated path
	ServiceKey    string `toml:"service_key"`     // fallback, env takes priority
}

type BrowserCfg struct {
	BaseURL        string `toml:"base_url"` // e.g. https://stockanalysis.com
	LoginPath      string `toml:"login_path"`
	Headless       bool   `toml:"headless"`
	NavTimeout     string `toml:"nav_timeout"`
	Email          string `toml:"email"`    // fallback, env takes priority
	Password       string `toml:"password"` // fallback, env takes priority
	RateLimitEvery string `toml:"rate_limit_every"`
}

type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	VisionModel string  `toml:"vision_model"`
	MaxTokens   int     `toml:"max_tokens"`
	Temperature float64 `toml:"temperature"`
	Timeout     string  `toml:"timeout"`
}

type GeminiConfig struct {
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
	Timeout string `toml:"timeout"`
}

type CallbackCfg struct {
	BearerToken string `toml:"bearer_token"`
	Timeout     string `toml:"timeout"`
}

type IngressCfg struct {
	BearerToken     string `toml:"bearer_token"`
	MaxConcurrency  int    `toml:"max_concurrency"`
}

// DefaultConfig returns the baseline configuration, overridden by files and
// then environment variables in LoadConfig.
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server:      ServerConfig{Port: 8090, Host: "0.0.0.0"},
		Logging:     LoggingConfig{Level: "info", Output: []string{"stdout"}},
		Agent: AgentConfig{
			MaxIterationsPerFile: 15,
			TickerTimeout:        "30m",
			CallTimeout:          "30s",
			WorkDir:              "./work",
			NumericFloor:         10000,
		},
		ObjectStore: ObjectStoreCfg{
			PublicBaseURL: "https://assets.example-objectstore.com",
			AuthBaseURL:   "https://upload.example-objectstore.com",
		},
		Browser: BrowserCfg{
			BaseURL:        "https://stockanalysis.com",
			LoginPath:      "/login/",
			Headless:       true,
			NavTimeout:     "30s",
			RateLimitEvery: "1s",
		},
		Claude: ClaudeConfig{
			Model:       "claude-sonnet-4-20250514",
			VisionModel: "claude-sonnet-4-20250514",
			MaxTokens:   8192,
			Temperature: 0,
			Timeout:     "60s",
		},
		Gemini: GeminiConfig{
			Model:   "gemini-2.5-flash",
			Timeout: "30s",
		},
		Callback: CallbackCfg{Timeout: "30s"},
		Ingress:  IngressCfg{MaxConcurrency: 4},
	}
}

// LoadConfig builds a Config following the teacher's layering: defaults,
// then each file in order (later overrides earlier), then environment
// variables (highest priority).
func LoadConfig(paths ...string) (*Config, error) {
	config := DefaultConfig()

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parsing config file %q: %w", path, err)
		}
	}

	applyEnvOverrides(config)
	return config, nil
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv("LEDGERSYNC_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			config.Server.Port = p
		}
	}
	if v := os.Getenv("LEDGERSYNC_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("LEDGERSYNC_WORK_DIR"); v != "" {
		config.Agent.WorkDir = v
	}
	if v := os.Getenv("LEDGERSYNC_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Agent.MaxIterationsPerFile = n
		}
	}
	if v := os.Getenv("LEDGERSYNC_OBJECTSTORE_SERVICE_KEY"); v != "" {
		config.ObjectStore.ServiceKey = v
	}
	if v := os.Getenv("LEDGERSYNC_BROWSER_EMAIL"); v != "" {
		config.Browser.Email = v
	}
	if v := os.Getenv("LEDGERSYNC_BROWSER_PASSWORD"); v != "" {
		config.Browser.Password = v
	}
	if v := os.Getenv("LEDGERSYNC_CALLBACK_TOKEN"); v != "" {
		config.Callback.BearerToken = v
	}
	if v := os.Getenv("LEDGERSYNC_INGRESS_TOKEN"); v != "" {
		config.Ingress.BearerToken = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		config.Claude.APIKey = v
	}
	if v := os.Getenv("LEDGERSYNC_GEMINI_API_KEY"); v != "" {
		config.Gemini.APIKey = v
	}
}

// ResolveSecret resolves a secret with the teacher's precedence:
// explicit environment variable first, then the config-supplied fallback.
func ResolveSecret(envVar, configFallback string) (string, error) {
	if v := os.Getenv(envVar); v != "" {
		return v, nil
	}
	if configFallback != "" {
		return configFallback, nil
	}
	return "", fmt.Errorf("secret not found: set %s or provide it in config", envVar)
}

// ParseDurationOrDefault parses a duration string, falling back on parse
// failure or empty input rather than erroring the whole config load.
func ParseDurationOrDefault(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
