package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config represents the complete application configuration
type Config struct {
	Generation     GenerationConfig `toml:"generation"`
	Model          ModelConfig      `toml:"model"`
	TokensPerRound map[string]int   `toml:"tokens_per_round"` // round number -> empirical tokens per record
}

// GenerationConfig holds batch-generation settings
type GenerationConfig struct {
	PlanFile          string `toml:"plan_file"`           // generation plan (domains / ambiguity types / rounds)
	PromptFile        string `toml:"prompt_file"`         // fixed system prompt sent at the start of every session
	OutputDir         string `toml:"output_dir"`          // corpus root: <output_dir>/<domain>/<type>/<N>_round.json
	TargetPerTask     int    `toml:"target_per_task"`     // records per task (default 50)
	MaxRetries        int    `toml:"max_retries"`         // consecutive failures before a task is marked failed (default 3)
	RetryDelaySeconds int    `toml:"retry_delay_seconds"` // fixed delay between retries (default 2)
	TaskDelaySeconds  int    `toml:"task_delay_seconds"`  // pacing delay after each task that hit the API (default 5)
	SummaryMarker     string `toml:"summary_marker"`      // sentinel prefix of the final responder turn
}

// ModelConfig represents configuration for the completion endpoint
type ModelConfig struct {
	BaseURL                string  `toml:"base_url"`
	ModelName              string  `toml:"model_name"`
	Temperature            float64 `toml:"temperature"`
	MaxOutputTokens        int     `toml:"max_output_tokens"` // per-exchange output ceiling; defaults by model class
	ContextSize            int     `toml:"context_size"`      // session context ceiling (default 110000)
	RateLimitPerMinute     int     `toml:"rate_limit_per_minute"`
	HTTPTimeoutSeconds     int     `toml:"http_timeout_seconds"` // read timeout; large responses are slow (default 1800)
	UseJSONMode            bool    `toml:"use_json_mode"`        // request response_format json_object
	Reasoning              bool    `toml:"reasoning"`            // enable thinking mode; auto-set for reasoner models
	ReasoningReserveTokens int     `toml:"reasoning_reserve_tokens"`
}

// Secrets holds sensitive credentials loaded from environment variables
type Secrets struct {
	APIKey string
}

const (
	// MaxTargetPerTask is the upper bound on records requested per task
	MaxTargetPerTask = 10000
	// MaxRetriesBound is the upper bound on the retry limit
	MaxRetriesBound = 20
)

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Generation.PlanFile == "" {
		return fmt.Errorf("generation.plan_file is required")
	}
	if c.Generation.PromptFile == "" {
		return fmt.Errorf("generation.prompt_file is required")
	}
	if c.Generation.OutputDir == "" {
		return fmt.Errorf("generation.output_dir is required")
	}
	if c.Generation.TargetPerTask < 1 {
		return fmt.Errorf("generation.target_per_task must be at least 1")
	}
	if c.Generation.TargetPerTask > MaxTargetPerTask {
		return fmt.Errorf("generation.target_per_task must not exceed %d (got %d)", MaxTargetPerTask, c.Generation.TargetPerTask)
	}
	if c.Generation.MaxRetries < 1 || c.Generation.MaxRetries > MaxRetriesBound {
		return fmt.Errorf("generation.max_retries must be between 1 and %d (got %d)", MaxRetriesBound, c.Generation.MaxRetries)
	}
	if c.Generation.RetryDelaySeconds < 0 {
		return fmt.Errorf("generation.retry_delay_seconds must not be negative")
	}
	if c.Generation.TaskDelaySeconds < 0 {
		return fmt.Errorf("generation.task_delay_seconds must not be negative")
	}
	if c.Generation.SummaryMarker == "" {
		return fmt.Errorf("generation.summary_marker is required")
	}

	if c.Model.BaseURL == "" {
		return fmt.Errorf("model.base_url is required")
	}
	if c.Model.ModelName == "" {
		return fmt.Errorf("model.model_name is required")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return fmt.Errorf("model.temperature must be between 0 and 2")
	}
	if c.Model.MaxOutputTokens < 1 {
		return fmt.Errorf("model.max_output_tokens must be at least 1")
	}
	if c.Model.ContextSize < 1 {
		return fmt.Errorf("model.context_size must be at least 1")
	}
	if c.Model.MaxOutputTokens > c.Model.ContextSize {
		return fmt.Errorf("model.max_output_tokens (%d) must not exceed context_size (%d)", c.Model.MaxOutputTokens, c.Model.ContextSize)
	}
	if c.Model.RateLimitPerMinute < 1 {
		return fmt.Errorf("model.rate_limit_per_minute must be at least 1")
	}
	if c.Model.ReasoningReserveTokens < 0 {
		return fmt.Errorf("model.reasoning_reserve_tokens must not be negative")
	}

	for key, tokens := range c.TokensPerRound {
		round, err := strconv.Atoi(key)
		if err != nil || round < 1 {
			return fmt.Errorf("tokens_per_round key %q must be a positive round number", key)
		}
		if tokens < 1 {
			return fmt.Errorf("tokens_per_round[%q] must be at least 1 (got %d)", key, tokens)
		}
	}

	return nil
}

// PerRoundTokens returns the empirical tokens-per-record estimate for a round
// count, falling back to DefaultTokensPerRecord for rounds outside the table.
func (c *Config) PerRoundTokens(round int) int {
	if tokens, ok := c.TokensPerRound[strconv.Itoa(round)]; ok {
		return tokens
	}
	return DefaultTokensPerRecord
}

// LoadSecrets loads sensitive credentials from environment variables.
// A missing API key is fatal: no task may run without a credential.
func LoadSecrets() (*Secrets, error) {
	key := os.Getenv("DEEPSEEK_API_KEY")
	if key == "" {
		key = os.Getenv("API_KEY")
	}
	if key == "" {
		return nil, fmt.Errorf("DEEPSEEK_API_KEY environment variable is not set")
	}
	return &Secrets{APIKey: key}, nil
}

// IsReasoningModel reports whether a model name selects the reasoning class.
func IsReasoningModel(modelName string) bool {
	return strings.Contains(strings.ToLower(modelName), "reasoner")
}
