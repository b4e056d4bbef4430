// Package tts synthesizes speech with a sherpa-onnx Kokoro model and
// provides the phrase-debounced streaming speaker used when the LLM
// streams tokens.
package tts

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hammamikhairi/voicegate/internal/audio"
	"github.com/hammamikhairi/voicegate/internal/logger"
	"github.com/hammamikhairi/voicegate/internal/sherpa"
)

// ErrSynthesisFailed wraps engine failures.
var ErrSynthesisFailed = errors.New("speech synthesis failed")

// NativeRate is Kokoro's output sample rate.
const NativeRate = 24000

// Config holds the synthesis settings.
type Config struct {
	ModelPath string  // directory with model.onnx, voices.bin, tokens.txt, espeak-ng-data
	Volume    float64 // output gain, 0..1
	Speed     float64 // speech speed multiplier
	SpeakerID int
	OutRate   int // playback device rate; output is resampled to it
}

// Synthesizer converts text to int16 PCM at the playback rate. A
// mutex guards the engine because sherpa-onnx is not thread-safe.
type Synthesizer struct {
	tts   *sherpa.OfflineTts
	cfg   Config
	cache *Cache
	log   *logger.Logger
	mu    sync.Mutex
}

// NewSynthesizer loads the Kokoro model. Load failures are fatal at
// startup when TTS is enabled.
func NewSynthesizer(cfg Config, log *logger.Logger) (*Synthesizer, error) {
	if cfg.Speed <= 0 {
		cfg.Speed = 1.0
	}
	if cfg.Volume <= 0 {
		cfg.Volume = 1.0
	}
	if cfg.OutRate <= 0 {
		cfg.OutRate = NativeRate
	}

	ttsCfg := &sherpa.OfflineTtsConfig{}
	ttsCfg.Model.Kokoro.Model = filepath.Join(cfg.ModelPath, "model.onnx")
	ttsCfg.Model.Kokoro.Voices = filepath.Join(cfg.ModelPath, "voices.bin")
	ttsCfg.Model.Kokoro.Tokens = filepath.Join(cfg.ModelPath, "tokens.txt")
	ttsCfg.Model.Kokoro.DataDir = filepath.Join(cfg.ModelPath, "espeak-ng-data")
	ttsCfg.Model.Kokoro.LengthScale = float32(1.0 / cfg.Speed)
	ttsCfg.Model.NumThreads = 2
	ttsCfg.Model.Provider = "cpu"
	ttsCfg.MaxNumSentences = 1 // Kokoro only supports 1

	engine := sherpa.NewOfflineTts(ttsCfg)
	if engine == nil {
		return nil, fmt.Errorf("%w: failed to create synthesizer (model=%s)",
			ErrSynthesisFailed, cfg.ModelPath)
	}

	log.Info("synthesizer ready (speed=%.2f, out=%d Hz)", cfg.Speed, cfg.OutRate)
	return &Synthesizer{tts: engine, cfg: cfg, cache: NewCache(), log: log}, nil
}

// OutputRate returns the rate Synthesize emits at.
func (s *Synthesizer) OutputRate() int { return s.cfg.OutRate }

// Synthesize converts text to PCM, serving repeated lines from the
// cache (welcome message, fixed error lines).
func (s *Synthesizer) Synthesize(text string) ([]int16, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", ErrSynthesisFailed)
	}

	if pcm, ok := s.cache.Get(text); ok {
		return pcm, nil
	}

	s.mu.Lock()
	generated := s.tts.Generate(text, s.cfg.SpeakerID, float32(s.cfg.Speed))
	s.mu.Unlock()

	if generated == nil || len(generated.Samples) == 0 {
		return nil, fmt.Errorf("%w: engine returned no audio", ErrSynthesisFailed)
	}

	samples := generated.Samples
	srcRate := int(generated.SampleRate)
	if srcRate <= 0 {
		srcRate = NativeRate
	}
	if srcRate != s.cfg.OutRate {
		samples = audio.NewResampler(srcRate, s.cfg.OutRate).Resample(samples)
	}

	pcm := audio.ToInt16(samples, s.cfg.Volume)
	s.cache.Put(text, pcm)
	s.log.Debug("synthesized %d chars -> %.2fs", len(text), float64(len(pcm))/float64(s.cfg.OutRate))
	return pcm, nil
}

// Prefetch synthesizes lines in the background so they play instantly
// later. Non-blocking.
func (s *Synthesizer) Prefetch(texts ...string) {
	for _, t := range texts {
		if t == "" || s.cache.Has(t) {
			continue
		}
		go func(text string) {
			if _, err := s.Synthesize(text); err != nil {
				s.log.Warn("prefetch failed: %v", err)
			}
		}(t)
	}
}

// Close releases the engine.
func (s *Synthesizer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tts != nil {
		sherpa.DeleteOfflineTts(s.tts)
		s.tts = nil
	}
}
