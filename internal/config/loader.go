package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Load reads and parses the configuration file and environment variables
func Load(configPath string) (*Config, *Secrets, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := ParseAndValidate(data)
	if err != nil {
		return nil, nil, err
	}

	secrets, err := LoadSecrets()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load secrets: %w", err)
	}

	return cfg, secrets, nil
}

// ParseAndValidate parses raw TOML, applies defaults, and validates. It
// skips the credential check, for commands that never hit the endpoint.
func ParseAndValidate(data []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.Generation.TargetPerTask == 0 {
		cfg.Generation.TargetPerTask = 50
	}
	if cfg.Generation.MaxRetries == 0 {
		cfg.Generation.MaxRetries = 3
	}
	if cfg.Generation.RetryDelaySeconds == 0 {
		cfg.Generation.RetryDelaySeconds = 2
	}
	if cfg.Generation.TaskDelaySeconds == 0 {
		cfg.Generation.TaskDelaySeconds = 5
	}
	if cfg.Generation.SummaryMarker == "" {
		cfg.Generation.SummaryMarker = DefaultSummaryMarker
	}
	if cfg.Generation.OutputDir == "" {
		cfg.Generation.OutputDir = "data/corpus_raw"
	}

	if cfg.Model.ModelName == "" {
		cfg.Model.ModelName = "deepseek-reasoner"
	}
	// Reasoning mode follows the model class unless explicitly enabled
	if IsReasoningModel(cfg.Model.ModelName) {
		cfg.Model.Reasoning = true
	}
	if cfg.Model.Temperature == 0 {
		cfg.Model.Temperature = 0.7
	}
	if cfg.Model.MaxOutputTokens == 0 {
		if cfg.Model.Reasoning {
			cfg.Model.MaxOutputTokens = MaxOutputTokensReasoning
		} else {
			cfg.Model.MaxOutputTokens = MaxOutputTokensStandard
		}
	}
	if cfg.Model.ContextSize == 0 {
		cfg.Model.ContextSize = DefaultContextSize
	}
	if cfg.Model.RateLimitPerMinute == 0 {
		cfg.Model.RateLimitPerMinute = 60
	}
	if cfg.Model.HTTPTimeoutSeconds == 0 {
		cfg.Model.HTTPTimeoutSeconds = 1800
	}
	if cfg.Model.ReasoningReserveTokens == 0 && cfg.Model.Reasoning {
		cfg.Model.ReasoningReserveTokens = DefaultReasoningReserve
	}

	if len(cfg.TokensPerRound) == 0 {
		cfg.TokensPerRound = defaultTokensPerRound()
	}
}
