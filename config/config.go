package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"

	"github.com/ErlanBelekov/script-runner/internal/engine"
)

type Config struct {
	Env      string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port     string `env:"PORT" envDefault:"8080" validate:"required"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`

	Interpreter          string `env:"INTERPRETER" envDefault:"python3" validate:"required"`
	ScriptExt            string `env:"SCRIPT_EXT" envDefault:".py" validate:"required,startswith=."`
	ScriptDir            string `env:"SCRIPT_DIR"`
	ScriptTimeoutSec     int    `env:"SCRIPT_TIMEOUT_SEC" envDefault:"60" validate:"min=1,max=3600"`
	MaxAttempts          int    `env:"MAX_ATTEMPTS" envDefault:"3" validate:"min=1,max=10"`
	HeartbeatIntervalSec int    `env:"HEARTBEAT_INTERVAL_SEC" envDefault:"5" validate:"min=1,max=60"`
	MaxCaptureBytes      int    `env:"MAX_CAPTURE_BYTES" envDefault:"4194304" validate:"min=1024"`
	MaxLineBytes         int    `env:"MAX_LINE_BYTES" envDefault:"1048576" validate:"min=1024,max=67108864"`
	HistoryWindow        int    `env:"HISTORY_WINDOW" envDefault:"0" validate:"min=0"`

	// Empty keeps the attempt log in memory.
	DatabaseURL string `env:"DATABASE_URL"`

	// When set, /runs requires a Bearer token signed with it.
	JWTSecret string `env:"JWT_SECRET" validate:"omitempty,min=32"`

	LLMProvider   string `env:"LLM_PROVIDER" envDefault:"ollama" validate:"oneof=ollama openai mock"`
	LLMAPIURL     string `env:"LLM_API_URL" envDefault:"http://localhost:11434" validate:"omitempty,url"`
	LLMModel      string `env:"LLM_MODEL" envDefault:"qwen2.5-coder:7b"`
	LLMAPIKey     string `env:"LLM_API_KEY" validate:"required_if=LLMProvider openai"`
	LLMTimeoutSec int    `env:"LLM_TIMEOUT_SEC" envDefault:"120" validate:"min=1,max=900"`

	ResendAPIKey string `env:"RESEND_API_KEY" validate:"required_with=NotifyEmail"`
	ResendFrom   string `env:"RESEND_FROM" validate:"required_with=ResendAPIKey"`
	NotifyEmail  string `env:"NOTIFY_EMAIL" validate:"omitempty,email"`

	SweepSchedule  string `env:"SWEEP_SCHEDULE" envDefault:"*/10 * * * *" validate:"required"`
	SweepMaxAgeMin int    `env:"SWEEP_MAX_AGE_MIN" envDefault:"60" validate:"min=1"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// The sweeper must never reach a script that may still be running.
	if limit := 2 * time.Duration(cfg.ScriptTimeoutSec) * time.Second; cfg.SweepMaxAge() <= limit {
		return nil, fmt.Errorf("invalid config: SWEEP_MAX_AGE_MIN (%s) must exceed twice SCRIPT_TIMEOUT_SEC (%s)", cfg.SweepMaxAge(), limit)
	}

	if cfg.ScriptDir == "" {
		cfg.ScriptDir = filepath.Join(os.TempDir(), "script-runner")
	}

	return cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) ExecutorConfig() engine.ExecutorConfig {
	return engine.ExecutorConfig{
		Interpreter:  c.Interpreter,
		ScriptDir:    c.ScriptDir,
		ScriptExt:    c.ScriptExt,
		Timeout:      time.Duration(c.ScriptTimeoutSec) * time.Second,
		MaxLineBytes: c.MaxLineBytes,
	}
}

func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		MaxCaptureBytes:   c.MaxCaptureBytes,
		HeartbeatInterval: time.Duration(c.HeartbeatIntervalSec) * time.Second,
		HistoryWindow:     c.HistoryWindow,
	}
}

func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSec) * time.Second
}

func (c *Config) SweepMaxAge() time.Duration {
	return time.Duration(c.SweepMaxAgeMin) * time.Minute
}
