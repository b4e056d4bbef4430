// Package boot wires the gateway together and brings it up in timed
// phases: provider health checks, model loads, parallel tool
// discovery and welcome synthesis, capture start, warm-up, welcome.
package boot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hammamikhairi/voicegate/internal/ai"
	"github.com/hammamikhairi/voicegate/internal/audio"
	"github.com/hammamikhairi/voicegate/internal/config"
	"github.com/hammamikhairi/voicegate/internal/logger"
	"github.com/hammamikhairi/voicegate/internal/mcp"
	"github.com/hammamikhairi/voicegate/internal/mic"
	"github.com/hammamikhairi/voicegate/internal/mqttpub"
	"github.com/hammamikhairi/voicegate/internal/orchestrator"
	"github.com/hammamikhairi/voicegate/internal/stt"
	"github.com/hammamikhairi/voicegate/internal/tools"
	"github.com/hammamikhairi/voicegate/internal/tts"
	"github.com/hammamikhairi/voicegate/internal/vad"
	"github.com/hammamikhairi/voicegate/internal/wakeword"
)

// warmupWait bounds how long boot waits for detector warm-up.
const warmupWait = 10 * time.Second

// Gateway is the running system. Close shuts everything down.
type Gateway struct {
	capture    *audio.Capture
	detector   *wakeword.Detector
	recognizer *stt.Recognizer
	synth      *tts.Synthesizer
	mcpClient  *mcp.Client
	publisher  *mqttpub.Publisher
	cancel     context.CancelFunc
}

// Close releases every resource.
func (g *Gateway) Close() {
	g.cancel()
	g.capture.Stop()
	if g.mcpClient != nil {
		_ = g.mcpClient.Close()
	}
	g.publisher.Close()
	if g.synth != nil {
		g.synth.Close()
	}
	g.recognizer.Close()
	g.detector.Close()
}

// Run brings the gateway up. Fatal errors (models, audio devices) are
// returned; degraded collaborators (MCP, MQTT, backend health) are
// logged and tolerated.
func Run(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Gateway, error) {
	var timings Timings
	bootStart := time.Now()

	ctx, cancel := context.WithCancel(ctx)

	// ── Providers ───────────────────────────────────────────────
	backend, err := buildBackend(cfg, log)
	if err != nil {
		cancel()
		return nil, err
	}

	playRate := cfg.Audio.SampleRate
	if cfg.TTS.Enabled {
		playRate = tts.NativeRate
	}
	player, err := audio.NewPlayer(playRate, log.With("player"))
	if err != nil {
		cancel()
		return nil, err
	}

	var synth *tts.Synthesizer
	if cfg.TTS.Enabled {
		synth, err = tts.NewSynthesizer(tts.Config{
			ModelPath: cfg.TTS.ModelPath,
			Volume:    cfg.TTS.Volume,
			Speed:     cfg.TTS.Speed,
			OutRate:   playRate,
		}, log.With("tts"))
		if err != nil {
			cancel()
			return nil, err
		}
	}

	// Phase 1: AI backend health check, warnings only. The synthesizer
	// has no health check; a failed TTS model load above is fatal.
	timings.Time("health-checks", func() {
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			hctx, hcancel := context.WithTimeout(ctx, 3*time.Second)
			defer hcancel()
			if err := backend.HealthCheck(hctx); err != nil {
				log.Warn("AI backend degraded: %v", err)
			}
		}()
		if synth == nil {
			log.Info("TTS disabled")
		}
		wg.Wait()
	})

	// Phase 2: wake-word models.
	var detector *wakeword.Detector
	timings.Time("detector-init", func() {
		detector, err = wakeword.New(wakeword.Config{
			ModelPath:       cfg.OWW.ModelPath,
			MelspecModel:    cfg.OWW.MelspecModel,
			EmbeddingModel:  cfg.OWW.EmbeddingModel,
			OnnxLib:         cfg.OWW.OnnxLib,
			EmbeddingFrames: cfg.OWW.EmbeddingFrames,
			WarmupMs:        cfg.OWW.WarmupMs,
		}, log.With("wakeword"))
	})
	if err != nil {
		cancel()
		return nil, err
	}

	recognizer, err := stt.NewRecognizer(stt.Config{
		EncoderPath: cfg.STT.EncoderPath,
		DecoderPath: cfg.STT.DecoderPath,
		TokensPath:  cfg.STT.TokensPath,
		Language:    cfg.STT.Language,
	}, log.With("stt"))
	if err != nil {
		cancel()
		return nil, err
	}

	// Phase 3: MCP discovery, welcome synthesis, builtin tools — in
	// parallel.
	registry := tools.NewRegistry()
	var (
		mcpClient  *mcp.Client
		welcomePCM []int16
	)
	timings.Time("parallel-init", func() {
		var wg sync.WaitGroup

		wg.Add(1)
		go func() {
			defer wg.Done()
			registry.AddBuiltin(tools.NewDateTimeTool(nil))
			if cfg.MCP.Command == "" {
				log.Info("no MCP server configured, registering device fallbacks")
				for _, t := range tools.NewDeviceFallbackTools() {
					registry.AddBuiltin(t)
				}
				return
			}
			client, discovered, err := mcp.Init(ctx, mcp.Options{
				Command:        cfg.MCP.Command,
				Args:           cfg.MCP.Args,
				RetryAttempts:  cfg.MCP.RetryAttempts,
				RetryBaseDelay: cfg.MCP.RetryBaseDelay,
			}, log.With("mcp"))
			if err != nil {
				// Non-fatal: continue with built-in tools only.
				if errors.Is(err, mcp.ErrUnavailable) {
					log.Warn("continuing without external tools: %v", err)
				} else {
					log.Warn("MCP init aborted: %v", err)
				}
				for _, t := range tools.NewDeviceFallbackTools() {
					registry.AddBuiltin(t)
				}
				return
			}
			mcpClient = client
			registry.AddExternal(discovered)
		}()

		if synth != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				pcm, err := synth.Synthesize(orchestrator.LineWelcome())
				if err != nil {
					log.Warn("welcome synthesis failed: %v", err)
					return
				}
				welcomePCM = pcm
			}()
		}

		wg.Wait()
	})

	// Phase 4: orchestrator and microphone manager.
	publisher := mqttpub.New(cfg.MQTT.BrokerURL, cfg.MQTT.Topic, log.With("mqtt"))
	var (
		orch    *orchestrator.Orchestrator
		manager *mic.Manager
	)
	timings.Time("construct", func() {
		executor := tools.NewExecutor(registry, cfg.ToolTimeout, log.With("tools"))
		router := ai.NewRouter(backend, registry, executor,
			cfg.AI.SystemPrompt, cfg.TTS.Enabled, cfg.TTS.Streaming, log.With("ai"))

		var retriever orchestrator.ContextRetriever
		if cfg.WebSearchFallback.Enabled {
			retriever = orchestrator.NewDuckDuckGoRetriever(cfg.WebSearchFallback.Timeout)
		}

		orch = orchestrator.New(orchestrator.Config{
			SampleRate:       cfg.Audio.SampleRate,
			BeepVolume:       cfg.Audio.BeepVolume,
			CooldownMs:       cfg.Audio.TriggerCooldownMs,
			WebFallbackOn:    cfg.WebSearchFallback.Enabled,
			SystemPromptNote: cfg.AI.SystemPrompt,
		}, recognizer, router, synth, player, publisher, retriever, log.With("orchestrator"))

		manager = mic.New(mic.Config{
			Threshold:  cfg.OWW.Threshold,
			SampleRate: cfg.Audio.SampleRate,
			PreRollMs:  cfg.VAD.PreRollMs,
			MinRearmMs: cfg.MinRearmMs,
		}, detector, newVAD(cfg, log), orch, log.With("mic"))

		orch.SetEvents(manager)
		orch.PrefetchLines()
	})

	// Phase 5: capture.
	capture := audio.NewCapture(cfg.Audio.MicDevice, cfg.Audio.SampleRate, log.With("capture"))
	timings.Time("capture-start", func() {
		err = capture.Start(ctx)
	})
	if err != nil {
		cancel()
		return nil, err
	}
	go manager.Run(ctx, capture.C())

	// Phase 6: detector warm-up, bounded.
	timings.Time("warmup-wait", func() {
		wctx, wcancel := context.WithTimeout(ctx, warmupWait)
		defer wcancel()
		if err := detector.WarmUp(wctx); err != nil {
			log.Warn("warm-up did not complete within %s: %v", warmupWait, err)
		}
	})

	// Phase 7: welcome. Listening opens first so a wake word during
	// the welcome cancels it and goes straight to recording.
	timings.Time("welcome", func() {
		manager.Ready()
		orch.PlayWelcome(welcomePCM)
	})

	log.Info("%s", timings.Summary())
	if total := time.Since(bootStart); total > 7*time.Second {
		log.Warn("boot took %.1fs, above the 7s target", total.Seconds())
	}

	return &Gateway{
		capture:    capture,
		detector:   detector,
		recognizer: recognizer,
		synth:      synth,
		mcpClient:  mcpClient,
		publisher:  publisher,
		cancel:     cancel,
	}, nil
}

// buildBackend selects the configured provider.
func buildBackend(cfg *config.Config, log *logger.Logger) (ai.Backend, error) {
	switch cfg.AI.Provider {
	case "anthropic":
		return ai.NewAnthropic(ai.AnthropicConfig{
			APIKey: cfg.Anthropic.APIKey,
			Model:  cfg.Anthropic.Model,
		}, log.With("anthropic")), nil
	case "ollama":
		return ai.NewOllama(ai.OllamaConfig{
			BaseURL:     cfg.Ollama.BaseURL,
			Model:       cfg.Ollama.Model,
			NumCtx:      cfg.Ollama.NumCtx,
			Temperature: cfg.Ollama.Temperature,
			KeepAlive:   cfg.Ollama.KeepAlive,
		}, log.With("ollama"))
	default:
		return nil, fmt.Errorf("%w: ai.provider %q", config.ErrInvalid, cfg.AI.Provider)
	}
}

// newVAD builds the voice-activity detector from config.
func newVAD(cfg *config.Config, log *logger.Logger) *vad.Detector {
	return vad.New(vad.Config{
		SilenceThreshold:  cfg.VAD.SilenceThreshold,
		MinSpeechMs:       cfg.VAD.MinSpeechMs,
		TrailingSilenceMs: cfg.VAD.TrailingSilenceMs,
		MaxUtteranceMs:    cfg.VAD.MaxUtteranceMs,
		GraceBeforeStopMs: cfg.VAD.GraceBeforeStopMs,
		SampleRate:        cfg.Audio.SampleRate,
	}, log.With("vad"))
}
