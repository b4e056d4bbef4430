// Package config holds the gateway configuration. Values come from
// defaults, then a .env file, then real environment variables, then CLI
// flags — later sources win. The struct is built once at startup and
// treated as immutable afterwards.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// OWW configures the openWakeWord detector.
type OWW struct {
	ModelPath       string  // path to the wake-word model, e.g. models/hey_jarvis.onnx
	MelspecModel    string  // melspectrogram.onnx
	EmbeddingModel  string  // embedding_model.onnx
	OnnxLib         string  // ONNX Runtime shared library
	Threshold       float64 // score >= threshold fires a trigger (0..1)
	EmbeddingFrames int     // embedding ring length (hey_jarvis=16, hello_robot=28)
	WarmupMs        int     // score suppression window after the ring first fills
}

// Audio configures capture, playback, and trigger pacing.
type Audio struct {
	MicDevice         string
	SpeakerDevice     string
	SampleRate        int // the wake-word models require 16000
	TriggerCooldownMs int // how long the gateway stays in cooldown after a response played
	BeepVolume        float64
}

// VAD configures the voice-activity detector.
type VAD struct {
	PreRollMs         int
	SilenceThreshold  float64
	MinSpeechMs       int
	TrailingSilenceMs int
	MaxUtteranceMs    int
	GraceBeforeStopMs int
}

// TTS configures speech synthesis.
type TTS struct {
	Enabled   bool
	Streaming bool
	Volume    float64
	Speed     float64
	ModelPath string // directory holding model.onnx, voices.bin, tokens.txt
}

// STT configures the offline recognizer.
type STT struct {
	EncoderPath string
	DecoderPath string
	TokensPath  string
	Language    string
}

// AI selects and configures the language-model backend.
type AI struct {
	Provider     string // "anthropic" or "ollama"
	SystemPrompt string
}

// Ollama configures the local backend.
type Ollama struct {
	BaseURL     string
	Model       string
	NumCtx      int
	Temperature float64
	KeepAlive   string
}

// Anthropic configures the remote backend.
type Anthropic struct {
	APIKey string
	Model  string
}

// MQTT configures the optional transcription publisher.
type MQTT struct {
	BrokerURL string
	Topic     string
}

// MCP configures external tool discovery.
type MCP struct {
	Command        string
	Args           []string
	RetryAttempts  int
	RetryBaseDelay time.Duration
}

// WebSearchFallback configures the optional single-shot context retry.
type WebSearchFallback struct {
	Enabled bool
	Timeout time.Duration
}

// Config is the full gateway configuration.
type Config struct {
	OWW               OWW
	Audio             Audio
	VAD               VAD
	TTS               TTS
	STT               STT
	AI                AI
	Ollama            Ollama
	Anthropic         Anthropic
	MQTT              MQTT
	MCP               MCP
	WebSearchFallback WebSearchFallback
	ToolTimeout       time.Duration
	MinRearmMs        int
	Verbose           bool
}

// Default returns a configuration with sensible defaults for a
// Raspberry Pi class device.
func Default() *Config {
	return &Config{
		OWW: OWW{
			ModelPath:       "models/hey_jarvis.onnx",
			MelspecModel:    "models/melspectrogram.onnx",
			EmbeddingModel:  "models/embedding_model.onnx",
			OnnxLib:         "lib/libonnxruntime.so",
			Threshold:       0.5,
			EmbeddingFrames: 16,
			WarmupMs:        1500,
		},
		Audio: Audio{
			SampleRate:        16000,
			TriggerCooldownMs: 1500,
			BeepVolume:        0.4,
		},
		VAD: VAD{
			PreRollMs:         300,
			SilenceThreshold:  0.003,
			MinSpeechMs:       700,
			TrailingSilenceMs: 1500,
			MaxUtteranceMs:    10000,
			GraceBeforeStopMs: 1200,
		},
		TTS: TTS{
			Enabled:   true,
			Streaming: false,
			Volume:    1.0,
			Speed:     1.0,
			ModelPath: "models/tts",
		},
		STT: STT{
			EncoderPath: "models/whisper/encoder.onnx",
			DecoderPath: "models/whisper/decoder.onnx",
			TokensPath:  "models/whisper/tokens.txt",
			Language:    "en",
		},
		AI: AI{
			Provider: "ollama",
		},
		Ollama: Ollama{
			BaseURL:     "http://localhost:11434",
			Model:       "qwen2.5:3b",
			NumCtx:      2048,
			Temperature: 0.7,
			KeepAlive:   "5m",
		},
		Anthropic: Anthropic{
			Model: "claude-3-5-haiku-latest",
		},
		MQTT: MQTT{
			Topic: "voicegate/transcription",
		},
		MCP: MCP{
			RetryAttempts:  2,
			RetryBaseDelay: time.Second,
		},
		WebSearchFallback: WebSearchFallback{
			Enabled: false,
			Timeout: 5 * time.Second,
		},
		ToolTimeout: 5 * time.Second,
		MinRearmMs:  1500,
	}
}

// ApplyEnv overlays environment variables onto the config. Dotted keys
// map to upper-snake names: oww.threshold -> OWW_THRESHOLD.
func (c *Config) ApplyEnv() {
	envString(&c.OWW.ModelPath, "OWW_MODEL_PATH")
	envString(&c.OWW.MelspecModel, "OWW_MELSPEC_MODEL")
	envString(&c.OWW.EmbeddingModel, "OWW_EMBEDDING_MODEL")
	envString(&c.OWW.OnnxLib, "OWW_ONNX_LIB")
	envFloat(&c.OWW.Threshold, "OWW_THRESHOLD")
	envInt(&c.OWW.EmbeddingFrames, "OWW_EMBEDDING_FRAMES")
	envInt(&c.OWW.WarmupMs, "OWW_WARMUP_MS")

	envString(&c.Audio.MicDevice, "AUDIO_MIC_DEVICE")
	envString(&c.Audio.SpeakerDevice, "AUDIO_SPEAKER_DEVICE")
	envInt(&c.Audio.SampleRate, "AUDIO_SAMPLE_RATE")
	envInt(&c.Audio.TriggerCooldownMs, "AUDIO_TRIGGER_COOLDOWN_MS")
	envFloat(&c.Audio.BeepVolume, "AUDIO_BEEP_VOLUME")

	envInt(&c.VAD.PreRollMs, "VAD_PRE_ROLL_MS")
	envFloat(&c.VAD.SilenceThreshold, "VAD_SILENCE_THRESHOLD")
	envInt(&c.VAD.MinSpeechMs, "VAD_MIN_SPEECH_MS")
	envInt(&c.VAD.TrailingSilenceMs, "VAD_TRAILING_SILENCE_MS")
	envInt(&c.VAD.MaxUtteranceMs, "VAD_MAX_UTTERANCE_MS")
	envInt(&c.VAD.GraceBeforeStopMs, "VAD_GRACE_BEFORE_STOP_MS")

	envBool(&c.TTS.Enabled, "TTS_ENABLED")
	envBool(&c.TTS.Streaming, "TTS_STREAMING")
	envFloat(&c.TTS.Volume, "TTS_VOLUME")
	envFloat(&c.TTS.Speed, "TTS_SPEED")
	envString(&c.TTS.ModelPath, "TTS_MODEL_PATH")

	envString(&c.STT.EncoderPath, "STT_ENCODER_PATH")
	envString(&c.STT.DecoderPath, "STT_DECODER_PATH")
	envString(&c.STT.TokensPath, "STT_TOKENS_PATH")
	envString(&c.STT.Language, "STT_LANGUAGE")

	envString(&c.AI.Provider, "AI_PROVIDER")
	envString(&c.AI.SystemPrompt, "AI_SYSTEM_PROMPT")

	envString(&c.Ollama.BaseURL, "OLLAMA_BASE_URL")
	envString(&c.Ollama.Model, "OLLAMA_MODEL")
	envInt(&c.Ollama.NumCtx, "OLLAMA_NUM_CTX")
	envFloat(&c.Ollama.Temperature, "OLLAMA_TEMPERATURE")
	envString(&c.Ollama.KeepAlive, "OLLAMA_KEEP_ALIVE")

	envString(&c.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	envString(&c.Anthropic.Model, "ANTHROPIC_MODEL")

	envString(&c.MQTT.BrokerURL, "MQTT_BROKER_URL")
	envString(&c.MQTT.Topic, "MQTT_TOPIC")

	envString(&c.MCP.Command, "MCP_COMMAND")
	envInt(&c.MCP.RetryAttempts, "MCP_RETRY_ATTEMPTS")
	envDuration(&c.MCP.RetryBaseDelay, "MCP_RETRY_BASE_DELAY_MS")

	envBool(&c.WebSearchFallback.Enabled, "WEB_SEARCH_FALLBACK_ENABLED")
	envDuration(&c.WebSearchFallback.Timeout, "WEB_SEARCH_FALLBACK_TIMEOUT_MS")

	envDuration(&c.ToolTimeout, "TOOL_TIMEOUT_MS")
	envInt(&c.MinRearmMs, "AUDIO_MIN_REARM_MS")
}

// Validate checks invariants that are fatal at startup.
func (c *Config) Validate() error {
	if c.OWW.Threshold < 0 || c.OWW.Threshold > 1 {
		return fmt.Errorf("%w: oww.threshold %.3f outside [0,1]", ErrInvalid, c.OWW.Threshold)
	}
	if c.OWW.EmbeddingFrames <= 0 {
		return fmt.Errorf("%w: oww.embeddingFrames must be positive", ErrInvalid)
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("%w: audio.sampleRate must be positive", ErrInvalid)
	}
	if c.VAD.SilenceThreshold <= 0 {
		return fmt.Errorf("%w: vad.silenceThreshold must be positive", ErrInvalid)
	}
	switch c.AI.Provider {
	case "anthropic", "ollama":
	default:
		return fmt.Errorf("%w: ai.provider %q (must be anthropic or ollama)", ErrInvalid, c.AI.Provider)
	}
	if c.AI.Provider == "anthropic" && c.Anthropic.APIKey == "" {
		return fmt.Errorf("%w: anthropic.apiKey is required when ai.provider=anthropic", ErrInvalid)
	}
	if c.MCP.RetryAttempts < 1 {
		return fmt.Errorf("%w: mcp.retryAttempts must be at least 1", ErrInvalid)
	}
	return nil
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// envDuration reads a millisecond count.
func envDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Millisecond
		}
	}
}
