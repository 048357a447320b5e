package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const configFile = ".launchsweep/config.yaml"

// Config holds sweep-level settings for launchsweep.
type Config struct {
	Markers        MarkerConfig `yaml:"markers"`
	LLM            LLMConfig    `yaml:"llm"`
	PassedStatus   string       `yaml:"passedStatus,omitempty"`
	TimeoutSeconds int          `yaml:"timeoutSeconds,omitempty"`
	MaxRetries     int          `yaml:"maxRetries,omitempty"`
	FeedbackLines  int          `yaml:"feedbackLines,omitempty"`
	LogsDir        string       `yaml:"logsDir,omitempty"`
	ReleaseCommand string       `yaml:"releaseCommand,omitempty"`
}

// MarkerConfig holds the output markers the runner scans for. What these
// look like is decided by the system under test, so they are configuration,
// not constants.
type MarkerConfig struct {
	Readiness string `yaml:"readiness,omitempty"`
	Sentinel  string `yaml:"sentinel,omitempty"`
}

// LLMConfig holds settings for the completion service that synthesizes
// launch commands.
type LLMConfig struct {
	BaseURL     string  `yaml:"baseURL,omitempty"`
	Model       string  `yaml:"model,omitempty"`
	Temperature float64 `yaml:"temperature"`
	APIKeyEnv   string  `yaml:"apiKeyEnv,omitempty"`
}

// Defaults applied when fields are not set.
const (
	DefaultReadinessMarker = "Uvicorn running on"
	DefaultSentinel        = "__LAUNCHSWEEP_DONE__"
	DefaultPassedStatus    = "passed"
	DefaultTimeoutSeconds  = 650
	DefaultMaxRetries      = 3
	DefaultFeedbackLines   = 100
	DefaultLogsDir         = "logs"
	DefaultLLMBaseURL      = "https://api.openai.com"
	DefaultLLMModel        = "gpt-4o-mini"
	DefaultAPIKeyEnv       = "OPENAI_API_KEY"
)

// Default returns a Config with zero-value defaults.
func Default() *Config {
	return &Config{}
}

// EffectiveReadinessMarker returns the readiness marker or the default.
func (c *Config) EffectiveReadinessMarker() string {
	if c.Markers.Readiness != "" {
		return c.Markers.Readiness
	}
	return DefaultReadinessMarker
}

// EffectiveSentinel returns the sentinel token or the default.
func (c *Config) EffectiveSentinel() string {
	if c.Markers.Sentinel != "" {
		return c.Markers.Sentinel
	}
	return DefaultSentinel
}

// EffectivePassedStatus returns the ledger status value meaning
// resolved-success, or the default.
func (c *Config) EffectivePassedStatus() string {
	if c.PassedStatus != "" {
		return c.PassedStatus
	}
	return DefaultPassedStatus
}

// EffectiveTimeout returns the per-attempt execution timeout.
func (c *Config) EffectiveTimeout() time.Duration {
	if c.TimeoutSeconds > 0 {
		return time.Duration(c.TimeoutSeconds) * time.Second
	}
	return DefaultTimeoutSeconds * time.Second
}

// EffectiveMaxRetries returns MaxRetries or the default if not set.
func (c *Config) EffectiveMaxRetries() int {
	if c.MaxRetries > 0 {
		return c.MaxRetries
	}
	return DefaultMaxRetries
}

// EffectiveFeedbackLines returns the feedback excerpt size in lines.
func (c *Config) EffectiveFeedbackLines() int {
	if c.FeedbackLines > 0 {
		return c.FeedbackLines
	}
	return DefaultFeedbackLines
}

// EffectiveLogsDir returns the per-subject log directory.
func (c *Config) EffectiveLogsDir() string {
	if c.LogsDir != "" {
		return c.LogsDir
	}
	return DefaultLogsDir
}

// EffectiveLLMBaseURL returns the completion service base URL.
func (c *Config) EffectiveLLMBaseURL() string {
	if c.LLM.BaseURL != "" {
		return c.LLM.BaseURL
	}
	return DefaultLLMBaseURL
}

// EffectiveLLMModel returns the completion model name.
func (c *Config) EffectiveLLMModel() string {
	if c.LLM.Model != "" {
		return c.LLM.Model
	}
	return DefaultLLMModel
}

// EffectiveAPIKeyEnv returns the environment variable holding the API key.
func (c *Config) EffectiveAPIKeyEnv() string {
	if c.LLM.APIKeyEnv != "" {
		return c.LLM.APIKeyEnv
	}
	return DefaultAPIKeyEnv
}

// configPath returns the full path to the config file.
func configPath(baseDir string) string {
	return filepath.Join(baseDir, configFile)
}

// Exists checks if the config file exists.
func Exists(baseDir string) bool {
	_, err := os.Stat(configPath(baseDir))
	return err == nil
}

// Load reads the config from .launchsweep/config.yaml.
// Returns Default() when the file doesn't exist (no error).
func Load(baseDir string) (*Config, error) {
	path := configPath(baseDir)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the config to .launchsweep/config.yaml.
func Save(baseDir string, cfg *Config) error {
	path := configPath(baseDir)

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}
