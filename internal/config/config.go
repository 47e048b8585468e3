package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultCompletionModel = "gpt-3.5-turbo"
	DefaultEmbeddingModel  = "text-embedding-ada-002"
	DefaultWorkerCount     = 5
)

// Config is passed explicitly to the driver; nothing reads the environment after Load.
type Config struct {
	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	UseMockLLM    bool   `yaml:"use_mock_llm"`

	CompletionModel string  `yaml:"llm_model"`
	EmbeddingModel  string  `yaml:"embedding_model"`
	MaxTokens       int     `yaml:"llm_max_tokens"`
	Temperature     float64 `yaml:"llm_temperature"`

	WorkerCount     int  `yaml:"worker_count"`
	ItemMaxAttempts int  `yaml:"item_max_attempts"`
	PreserveOrder   bool `yaml:"preserve_order"`

	InputPath  string `yaml:"input_path"`
	OutputPath string `yaml:"output_path"`

	Retry   RetryPolicy   `yaml:"retry"`
	Breaker BreakerPolicy `yaml:"breaker"`

	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
	Port        string `yaml:"port"`
}

// RetryPolicy bounds every completion and embedding call.
type RetryPolicy struct {
	CallTimeout     time.Duration `yaml:"call_timeout"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	MaxElapsed      time.Duration `yaml:"max_elapsed"`
	MaxAttempts     int           `yaml:"max_attempts"`
}

// BreakerPolicy configures the per-service circuit breaker.
type BreakerPolicy struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		CompletionModel: DefaultCompletionModel,
		EmbeddingModel:  DefaultEmbeddingModel,
		MaxTokens:       250,
		Temperature:     0.5,
		WorkerCount:     DefaultWorkerCount,
		ItemMaxAttempts: 2,
		PreserveOrder:   true,
		InputPath:       "dataset/input.csv",
		OutputPath:      "output/output.csv",
		Retry: RetryPolicy{
			CallTimeout:     30 * time.Second,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			MaxElapsed:      45 * time.Second,
			MaxAttempts:     3,
		},
		Breaker: BreakerPolicy{
			FailureThreshold: 10,
			OpenTimeout:      30 * time.Second,
		},
		Environment: "local",
		LogLevel:    "info",
		Port:        "8080",
	}
}

// Load builds a Config from defaults, an optional YAML file and the environment, in that order.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("OPENAI_API_KEY", &cfg.OpenAIAPIKey)
	str("OPENAI_BASE_URL", &cfg.OpenAIBaseURL)
	boolean("USE_MOCK_LLM", &cfg.UseMockLLM)
	str("LLM_MODEL", &cfg.CompletionModel)
	str("EMBEDDING_MODEL", &cfg.EmbeddingModel)
	integer("LLM_MAX_TOKENS", &cfg.MaxTokens)
	float("LLM_TEMPERATURE", &cfg.Temperature)
	integer("WORKER_COUNT", &cfg.WorkerCount)
	integer("ITEM_MAX_ATTEMPTS", &cfg.ItemMaxAttempts)
	boolean("PRESERVE_ORDER", &cfg.PreserveOrder)
	str("INPUT_PATH", &cfg.InputPath)
	str("OUTPUT_PATH", &cfg.OutputPath)
	duration("CALL_TIMEOUT", &cfg.Retry.CallTimeout)
	duration("RETRY_INITIAL_INTERVAL", &cfg.Retry.InitialInterval)
	duration("RETRY_MAX_INTERVAL", &cfg.Retry.MaxInterval)
	duration("RETRY_MAX_ELAPSED", &cfg.Retry.MaxElapsed)
	integer("RETRY_MAX_ATTEMPTS", &cfg.Retry.MaxAttempts)
	integer("BREAKER_FAILURE_THRESHOLD", &cfg.Breaker.FailureThreshold)
	duration("BREAKER_OPEN_TIMEOUT", &cfg.Breaker.OpenTimeout)
	str("ENVIRONMENT", &cfg.Environment)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("PORT", &cfg.Port)

	return errors.Join(errs...)
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if !c.UseMockLLM && c.OpenAIAPIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required unless USE_MOCK_LLM is set"))
	}
	if c.WorkerCount < 1 {
		errs = append(errs, fmt.Errorf("worker count must be at least 1, got %d", c.WorkerCount))
	}
	if c.ItemMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("item max attempts must be at least 1, got %d", c.ItemMaxAttempts))
	}
	if c.InputPath == "" {
		errs = append(errs, errors.New("input path is empty"))
	}
	if c.OutputPath == "" {
		errs = append(errs, errors.New("output path is empty"))
	}
	if c.MaxTokens < 1 {
		errs = append(errs, fmt.Errorf("max tokens must be positive, got %d", c.MaxTokens))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry max attempts must be at least 1, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.CallTimeout <= 0 {
		errs = append(errs, errors.New("call timeout must be positive"))
	}
	return errors.Join(errs...)
}
