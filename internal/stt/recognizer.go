// Package stt transcribes recorded utterances with a sherpa-onnx
// offline Whisper recognizer. Transcription runs on the worker side of
// the pipeline; the audio reactor never blocks on it.
package stt

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hammamikhairi/voicegate/internal/logger"
	"github.com/hammamikhairi/voicegate/internal/sherpa"
)

// ErrTranscriptionFailed wraps recognizer failures. The orchestrator
// speaks a generic error and returns to listening.
var ErrTranscriptionFailed = errors.New("transcription failed")

// Config holds the Whisper model paths.
type Config struct {
	EncoderPath string
	DecoderPath string
	TokensPath  string
	Language    string // "en", "es", ... or "auto"
	NumThreads  int
}

// Recognizer wraps the offline recognizer. Safe for use from one
// worker at a time; a mutex guards the engine because sherpa-onnx is
// not thread-safe.
type Recognizer struct {
	rec *sherpa.OfflineRecognizer
	log *logger.Logger
	mu  sync.Mutex
}

// NewRecognizer loads the Whisper models. Load failures are fatal at
// startup.
func NewRecognizer(cfg Config, log *logger.Logger) (*Recognizer, error) {
	recCfg := &sherpa.OfflineRecognizerConfig{}
	recCfg.ModelConfig.Whisper.Encoder = cfg.EncoderPath
	recCfg.ModelConfig.Whisper.Decoder = cfg.DecoderPath

	language := cfg.Language
	if strings.EqualFold(language, "auto") {
		language = "" // empty triggers Whisper auto-detection
	}
	recCfg.ModelConfig.Whisper.Language = language
	recCfg.ModelConfig.Whisper.Task = "transcribe"
	recCfg.ModelConfig.Whisper.TailPaddings = -1
	recCfg.ModelConfig.Tokens = cfg.TokensPath
	recCfg.ModelConfig.NumThreads = cfg.NumThreads
	if recCfg.ModelConfig.NumThreads <= 0 {
		recCfg.ModelConfig.NumThreads = 2
	}
	recCfg.ModelConfig.Provider = "cpu"
	recCfg.DecodingMethod = "greedy_search"

	rec := sherpa.NewOfflineRecognizer(recCfg)
	if rec == nil {
		return nil, fmt.Errorf("%w: failed to create offline recognizer (encoder=%s)",
			ErrTranscriptionFailed, cfg.EncoderPath)
	}

	log.Info("recognizer ready (lang=%q)", cfg.Language)
	return &Recognizer{rec: rec, log: log}, nil
}

// Transcribe decodes one utterance. Samples are float32 in [-1,1] at
// the given rate.
func (r *Recognizer) Transcribe(samples []float32, sampleRate int) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stream := sherpa.NewOfflineStream(r.rec)
	if stream == nil {
		return "", fmt.Errorf("%w: failed to create stream", ErrTranscriptionFailed)
	}
	defer sherpa.DeleteOfflineStream(stream)

	stream.AcceptWaveform(sampleRate, samples)
	r.rec.Decode(stream)

	text := strings.TrimSpace(stream.GetResult().Text)
	r.log.Debug("transcribed %.2fs -> %q", float64(len(samples))/float64(sampleRate), text)
	return text, nil
}

// Close releases the engine.
func (r *Recognizer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec != nil {
		sherpa.DeleteOfflineRecognizer(r.rec)
		r.rec = nil
	}
}
