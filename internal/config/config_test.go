package config

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults must be valid: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threshold above 1", func(c *Config) { c.OWW.Threshold = 1.2 }},
		{"threshold below 0", func(c *Config) { c.OWW.Threshold = -0.1 }},
		{"zero embedding frames", func(c *Config) { c.OWW.EmbeddingFrames = 0 }},
		{"zero sample rate", func(c *Config) { c.Audio.SampleRate = 0 }},
		{"zero silence threshold", func(c *Config) { c.VAD.SilenceThreshold = 0 }},
		{"unknown provider", func(c *Config) { c.AI.Provider = "skynet" }},
		{"anthropic without key", func(c *Config) { c.AI.Provider = "anthropic"; c.Anthropic.APIKey = "" }},
		{"zero mcp attempts", func(c *Config) { c.MCP.RetryAttempts = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("OWW_THRESHOLD", "0.7")
	t.Setenv("OWW_EMBEDDING_FRAMES", "28")
	t.Setenv("VAD_SILENCE_THRESHOLD", "0.005")
	t.Setenv("AI_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("TTS_ENABLED", "false")
	t.Setenv("MCP_RETRY_BASE_DELAY_MS", "2000")
	t.Setenv("TOOL_TIMEOUT_MS", "3000")

	cfg := Default()
	cfg.ApplyEnv()

	if cfg.OWW.Threshold != 0.7 {
		t.Fatalf("threshold override lost: %f", cfg.OWW.Threshold)
	}
	if cfg.OWW.EmbeddingFrames != 28 {
		t.Fatalf("embedding frames override lost: %d", cfg.OWW.EmbeddingFrames)
	}
	if cfg.VAD.SilenceThreshold != 0.005 {
		t.Fatalf("silence threshold override lost: %f", cfg.VAD.SilenceThreshold)
	}
	if cfg.AI.Provider != "anthropic" || cfg.Anthropic.APIKey != "sk-test" {
		t.Fatalf("provider override lost: %s/%s", cfg.AI.Provider, cfg.Anthropic.APIKey)
	}
	if cfg.TTS.Enabled {
		t.Fatal("tts.enabled override lost")
	}
	if cfg.MCP.RetryBaseDelay != 2*time.Second {
		t.Fatalf("mcp delay override lost: %s", cfg.MCP.RetryBaseDelay)
	}
	if cfg.ToolTimeout != 3*time.Second {
		t.Fatalf("tool timeout override lost: %s", cfg.ToolTimeout)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("overridden config invalid: %v", err)
	}
}

func TestApplyEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("OWW_THRESHOLD", "not-a-number")
	cfg := Default()
	cfg.ApplyEnv()
	if cfg.OWW.Threshold != 0.5 {
		t.Fatalf("garbage env value changed threshold: %f", cfg.OWW.Threshold)
	}
}
