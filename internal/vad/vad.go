// Package vad decides, frame by frame, whether the current recording
// should continue or stop. It is a plain RMS-energy detector: no model,
// no allocation in the hot path.
package vad

import (
	"math"

	"github.com/hammamikhairi/voicegate/internal/audio"
	"github.com/hammamikhairi/voicegate/internal/logger"
)

// StopReason says why a recording ended.
type StopReason string

const (
	// StopSilence means trailing silence after speech.
	StopSilence StopReason = "silence"
	// StopMaxLength means the utterance hit the length ceiling.
	StopMaxLength StopReason = "maxLength"
)

// Decision is the outcome of feeding one chunk to the detector.
type Decision struct {
	ShouldStop bool
	Reason     StopReason
	HasSpoken  bool
}

// Config holds the timing thresholds, all in milliseconds.
type Config struct {
	SilenceThreshold  float64 // RMS energy floor
	MinSpeechMs       int
	TrailingSilenceMs int
	MaxUtteranceMs    int
	GraceBeforeStopMs int
	SampleRate        int
}

func (c *Config) defaults() {
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = 0.003
	}
	if c.MinSpeechMs <= 0 {
		c.MinSpeechMs = 700
	}
	if c.TrailingSilenceMs <= 0 {
		c.TrailingSilenceMs = 1500
	}
	if c.MaxUtteranceMs <= 0 {
		c.MaxUtteranceMs = 10000
	}
	if c.GraceBeforeStopMs <= 0 {
		c.GraceBeforeStopMs = 1200
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
}

// Detector tracks one recording at a time. Begin resets it for a new
// utterance; Process is called once per appended chunk.
type Detector struct {
	cfg Config
	log *logger.Logger

	totalSamples   int
	silenceSamples int
	hasSpoken      bool
	startedAtMs    int64

	// emptyStreak counts consecutive recordings that ended without
	// speech, to surface a threshold hint.
	emptyStreak int
}

// New creates a detector.
func New(cfg Config, log *logger.Logger) *Detector {
	cfg.defaults()
	return &Detector{cfg: cfg, log: log}
}

// Begin resets per-recording state. nowMs is the recording start.
func (d *Detector) Begin(nowMs int64) {
	d.totalSamples = 0
	d.silenceSamples = 0
	d.hasSpoken = false
	d.startedAtMs = nowMs
}

// HasSpoken reports whether speech has been heard this recording.
func (d *Detector) HasSpoken() bool { return d.hasSpoken }

// Process evaluates one chunk of samples appended at nowMs.
func (d *Detector) Process(chunk []float32, nowMs int64) Decision {
	d.totalSamples += len(chunk)

	energy := rms(chunk)
	if energy >= 0.002 && energy <= 0.004 {
		d.log.Debug("energy %.5f close to threshold %.5f", energy, d.cfg.SilenceThreshold)
	}

	if nowMs-d.startedAtMs < int64(d.cfg.GraceBeforeStopMs) {
		d.log.Debug("within grace period, not stopping")
		if energy >= d.cfg.SilenceThreshold {
			d.hasSpoken = true
		}
		return Decision{HasSpoken: d.hasSpoken}
	}

	if energy >= d.cfg.SilenceThreshold {
		d.hasSpoken = true
		d.silenceSamples = 0
	} else {
		d.silenceSamples += len(chunk)
	}

	rate := d.cfg.SampleRate
	switch {
	case d.totalSamples >= audio.MsToSamples(d.cfg.MaxUtteranceMs, rate):
		return Decision{ShouldStop: true, Reason: StopMaxLength, HasSpoken: d.hasSpoken}
	case d.hasSpoken &&
		d.totalSamples >= audio.MsToSamples(d.cfg.MinSpeechMs, rate) &&
		d.silenceSamples >= audio.MsToSamples(d.cfg.TrailingSilenceMs, rate):
		return Decision{ShouldStop: true, Reason: StopSilence, HasSpoken: true}
	default:
		return Decision{HasSpoken: d.hasSpoken}
	}
}

// End closes out the recording, tracking how often nothing was heard.
func (d *Detector) End() {
	if d.hasSpoken {
		d.emptyStreak = 0
		return
	}
	d.emptyStreak++
	if d.emptyStreak >= 3 {
		d.log.Warn("%d consecutive recordings without speech — consider lowering vad.silenceThreshold (currently %.4f)",
			d.emptyStreak, d.cfg.SilenceThreshold)
	}
}

// rms computes root-mean-square energy of float32 samples in [-1,1].
func rms(chunk []float32) float64 {
	if len(chunk) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range chunk {
		sumSq += float64(s) * float64(s)
	}
	return math.Sqrt(sumSq / float64(len(chunk)))
}
