// Package wakeword provides streaming wake-word detection using the
// openWakeWord ONNX pipeline: melspectrogram → embedding → wake-word
// classifier.
//
// The detector is fed 80 ms frames by the microphone manager and
// returns a score per step. It owns all pipeline state; Reset clears
// the buffers but never reverts warm-up.
package wakeword

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hammamikhairi/voicegate/internal/audio"
	"github.com/hammamikhairi/voicegate/internal/logger"
)

// ErrModelLoad indicates one of the three models failed to load. Fatal
// at startup.
var ErrModelLoad = errors.New("wake-word model load failed")

// ── Constants matching the openWakeWord pipeline ─────────────────

const (
	melBins       = 32 // melspectrogram output bands
	nMelFrames    = 5  // 1280 samples → 5 mel frames
	melWindowSize = 76 // embedding model needs 76 mel frames
	melStepSize   = 8  // step between embedding windows
)

// Config holds the paths and tuning knobs for a Detector.
type Config struct {
	ModelPath       string // wake-word classifier, e.g. models/hey_jarvis.onnx
	MelspecModel    string
	EmbeddingModel  string
	OnnxLib         string // ONNX Runtime shared library
	EmbeddingFrames int    // classifier window length (hey_jarvis=16)
	WarmupMs        int    // score suppression window after first fill
}

func (c *Config) defaults() {
	if c.EmbeddingFrames <= 0 {
		c.EmbeddingFrames = 16
	}
	if c.WarmupMs <= 0 {
		c.WarmupMs = 1500
	}
}

// pipelineRunner is the inference seam. Production uses the
// onnxruntime-backed runner; tests script one.
type pipelineRunner interface {
	// Melspec maps one 1280-sample chunk to 5×32 raw mel values.
	Melspec(chunk []float32) ([]float32, error)
	// Embed maps a 76×32 mel window to one embedding vector.
	Embed(mel []float32) ([]float32, error)
	// Score maps embeddingFrames×dim embeddings to a scalar in [0,1].
	Score(embeddings []float32) (float32, error)
	EmbeddingDim() int
	Close()
}

// Detector runs the three-stage pipeline over streaming frames.
// Not safe for concurrent use; the capture loop is its only caller.
type Detector struct {
	cfg Config
	log *logger.Logger
	run pipelineRunner

	dim         int
	melBuffer   []float32 // transformed mel frames, flattened
	embedBuffer []float32 // sliding window, embeddingFrames × dim
	embedFilled int       // embeddings produced since last reset, capped at window

	warmupOnce     sync.Once
	warmUpComplete atomic.Bool
	warmupDone     chan struct{}
	warmupTimer    *time.Timer
}

// New loads the three models and prepares the pipeline. Model-load
// failures are fatal.
func New(cfg Config, log *logger.Logger) (*Detector, error) {
	cfg.defaults()
	run, err := newOrtRunner(cfg, log)
	if err != nil {
		return nil, err
	}
	return newWithRunner(cfg, run, log), nil
}

func newWithRunner(cfg Config, run pipelineRunner, log *logger.Logger) *Detector {
	cfg.defaults()
	d := &Detector{
		cfg:        cfg,
		log:        log,
		run:        run,
		dim:        run.EmbeddingDim(),
		warmupDone: make(chan struct{}),
	}
	d.melBuffer = make([]float32, 0, (melWindowSize+nMelFrames)*melBins)
	d.embedBuffer = make([]float32, cfg.EmbeddingFrames*d.dim)
	return d
}

// WarmUpComplete reports whether the settling window has elapsed.
// Monotonic within a process.
func (d *Detector) WarmUpComplete() bool { return d.warmUpComplete.Load() }

// WarmupDone is closed when warm-up completes.
func (d *Detector) WarmupDone() <-chan struct{} { return d.warmupDone }

// WarmUp blocks until warm-up completes or ctx is cancelled.
func (d *Detector) WarmUp(ctx context.Context) error {
	select {
	case <-d.warmupDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Detect feeds one frame through the pipeline and returns the wake-word
// score for this step, or 0 when no new prediction was produced (the
// mel window advances every melStepSize frames) or while warming up.
// Per-frame inference failures are logged and yield 0.
func (d *Detector) Detect(frame audio.Frame) float32 {
	chunk := make([]float32, len(frame))
	for i, s := range frame {
		chunk[i] = float32(s)
	}

	mel, err := d.run.Melspec(chunk)
	if err != nil {
		d.log.Error("melspec run failed: %v", err)
		return 0
	}
	for _, v := range mel {
		d.melBuffer = append(d.melBuffer, v/10.0+2.0)
	}

	newEmbed := false
	for len(d.melBuffer)/melBins >= melWindowSize {
		emb, err := d.run.Embed(d.melBuffer[:melWindowSize*melBins])
		if err != nil {
			d.log.Error("embedding run failed: %v", err)
			break
		}
		// Slide the classifier window: shift left, insert at end.
		copy(d.embedBuffer, d.embedBuffer[d.dim:])
		copy(d.embedBuffer[(d.cfg.EmbeddingFrames-1)*d.dim:], emb[:d.dim])
		if d.embedFilled < d.cfg.EmbeddingFrames {
			d.embedFilled++
		}
		newEmbed = true

		// Compact instead of reslicing so the backing array stays bounded.
		n := copy(d.melBuffer, d.melBuffer[melStepSize*melBins:])
		d.melBuffer = d.melBuffer[:n]
	}

	if !newEmbed || d.embedFilled < d.cfg.EmbeddingFrames {
		return 0
	}

	d.startWarmup()
	score, err := d.run.Score(d.embedBuffer)
	if err != nil {
		d.log.Error("classifier run failed: %v", err)
		return 0
	}
	if !d.warmUpComplete.Load() {
		return 0
	}
	return score
}

// startWarmup arms the settling timer the first time the embedding
// window fills. Runs at most once per process.
func (d *Detector) startWarmup() {
	d.warmupOnce.Do(func() {
		d.log.Debug("embedding window filled, warm-up %d ms", d.cfg.WarmupMs)
		d.warmupTimer = time.AfterFunc(time.Duration(d.cfg.WarmupMs)*time.Millisecond, func() {
			d.warmUpComplete.Store(true)
			close(d.warmupDone)
			d.log.Info("warm-up complete")
		})
	})
}

// Reset clears the mel buffer and embedding window so stale audio does
// not pollute scoring after playback or a recording. Warm-up state is
// preserved. Never called while recording.
func (d *Detector) Reset() {
	d.melBuffer = d.melBuffer[:0]
	for i := range d.embedBuffer {
		d.embedBuffer[i] = 0
	}
	d.embedFilled = 0
	d.log.Debug("pipeline buffers reset")
}

// Close releases the ONNX sessions.
func (d *Detector) Close() {
	if d.warmupTimer != nil {
		d.warmupTimer.Stop()
	}
	d.run.Close()
}
