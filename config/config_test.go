package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Interpreter != "python3" || cfg.ScriptExt != ".py" {
		t.Errorf("interpreter = %q ext = %q", cfg.Interpreter, cfg.ScriptExt)
	}
	if cfg.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.MaxAttempts)
	}
	if cfg.ScriptDir == "" {
		t.Error("ScriptDir must default to a temp subdirectory")
	}

	ec := cfg.EngineConfig()
	if ec.HeartbeatInterval != 5*time.Second || ec.HistoryWindow != 0 {
		t.Errorf("engine config = %+v", ec)
	}
	if cfg.ExecutorConfig().Timeout != 60*time.Second {
		t.Errorf("timeout = %v", cfg.ExecutorConfig().Timeout)
	}
	if cfg.ExecutorConfig().MaxLineBytes != 1<<20 {
		t.Errorf("MaxLineBytes = %d, want 1 MiB", cfg.ExecutorConfig().MaxLineBytes)
	}
}

func TestLoad_SweepAgeMustOutlastScripts(t *testing.T) {
	t.Setenv("SCRIPT_TIMEOUT_SEC", "3600")
	t.Setenv("SWEEP_MAX_AGE_MIN", "60")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when the sweeper could remove a running script")
	}

	t.Setenv("SWEEP_MAX_AGE_MIN", "121")
	if _, err := Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestLoad_MaxLineBytes(t *testing.T) {
	t.Setenv("MAX_LINE_BYTES", "10")
	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for MAX_LINE_BYTES=10")
	}
	t.Setenv("MAX_LINE_BYTES", "2097152")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ExecutorConfig().MaxLineBytes != 2<<20 {
		t.Errorf("MaxLineBytes = %d", cfg.ExecutorConfig().MaxLineBytes)
	}
}

func TestLoad_RejectsOutOfRangeAttempts(t *testing.T) {
	t.Setenv("MAX_ATTEMPTS", "11")
	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for MAX_ATTEMPTS=11")
	}
}

func TestLoad_OpenAIRequiresKey(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "openai")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without LLM_API_KEY")
	}
	t.Setenv("LLM_API_KEY", "sk-test")
	if _, err := Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestLoad_ShortJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "too-short")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for short JWT_SECRET")
	}
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	}
	for in, want := range tests {
		c := &Config{LogLevel: in}
		if got := c.SlogLevel(); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
