// Package config loads server configuration from an optional YAML file and
// environment variables, and sets up logging.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider identifies the LLM backend.
type Provider string

const (
	ProviderOllama    Provider = "ollama"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// Config holds all configuration values.
type Config struct {
	// HTTP server
	Addr string

	// LLM provider
	LLMProvider     Provider
	LLMModel        string
	OllamaHost      string
	OpenAIAPIKey    string
	AnthropicAPIKey string

	// Job retention
	JobRetention time.Duration
	ReapInterval time.Duration

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// fileConfig mirrors Config for the YAML overlay. Environment variables
// override file values.
type fileConfig struct {
	Addr         string `yaml:"addr"`
	LLMProvider  string `yaml:"llm_provider"`
	LLMModel     string `yaml:"llm_model"`
	OllamaHost   string `yaml:"ollama_host"`
	JobRetention string `yaml:"job_retention"`
	ReapInterval string `yaml:"reap_interval"`
	LogFile      string `yaml:"log_file"`
	LogLevel     string `yaml:"log_level"`
}

// Load reads configuration: defaults, then the YAML file named by
// CONSULTANT_CONFIG (or ./consultant.yaml if present), then environment
// variables.
func Load() (Config, error) {
	cfg := Config{
		Addr:         ":8090",
		LLMProvider:  ProviderOllama,
		LLMModel:     "llama3",
		OllamaHost:   "http://localhost:11434",
		JobRetention: time.Hour,
		ReapInterval: 10 * time.Minute,
		LogFile:      "/tmp/consultant.log",
		LogLevel:     slog.LevelInfo,
	}

	path := os.Getenv("CONSULTANT_CONFIG")
	if path == "" {
		if _, err := os.Stat("consultant.yaml"); err == nil {
			path = "consultant.yaml"
		}
	}
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return cfg, err
		}
	}

	cfg.Addr = getEnv("CONSULTANT_ADDR", cfg.Addr)
	cfg.LLMProvider = Provider(getEnv("CONSULTANT_LLM_PROVIDER", string(cfg.LLMProvider)))
	cfg.LLMModel = getEnv("CONSULTANT_LLM_MODEL", cfg.LLMModel)
	cfg.OllamaHost = getEnv("OLLAMA_HOST", cfg.OllamaHost)
	cfg.OpenAIAPIKey = getEnv("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", cfg.AnthropicAPIKey)
	cfg.LogFile = getEnv("CONSULTANT_LOG_FILE", cfg.LogFile)
	cfg.LogLevel = parseLogLevel(getEnv("CONSULTANT_LOG_LEVEL", cfg.LogLevel.String()))

	if v := os.Getenv("CONSULTANT_JOB_RETENTION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("parse CONSULTANT_JOB_RETENTION: %w", err)
		}
		cfg.JobRetention = d
	}
	if v := os.Getenv("CONSULTANT_REAP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("parse CONSULTANT_REAP_INTERVAL: %w", err)
		}
		cfg.ReapInterval = d
	}

	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	if fc.Addr != "" {
		c.Addr = fc.Addr
	}
	if fc.LLMProvider != "" {
		c.LLMProvider = Provider(fc.LLMProvider)
	}
	if fc.LLMModel != "" {
		c.LLMModel = fc.LLMModel
	}
	if fc.OllamaHost != "" {
		c.OllamaHost = fc.OllamaHost
	}
	if fc.LogFile != "" {
		c.LogFile = fc.LogFile
	}
	if fc.LogLevel != "" {
		c.LogLevel = parseLogLevel(fc.LogLevel)
	}
	if fc.JobRetention != "" {
		d, err := time.ParseDuration(fc.JobRetention)
		if err != nil {
			return fmt.Errorf("parse job_retention: %w", err)
		}
		c.JobRetention = d
	}
	if fc.ReapInterval != "" {
		d, err := time.ParseDuration(fc.ReapInterval)
		if err != nil {
			return fmt.Errorf("parse reap_interval: %w", err)
		}
		c.ReapInterval = d
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
