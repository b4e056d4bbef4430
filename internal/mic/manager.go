// Package mic binds the capture stream to the detector, pre-roll ring,
// VAD, recording buffer, and the state machines. It is the imperative
// shell around the pure transition tables in internal/fsm.
package mic

import (
	"context"
	"sync"
	"time"

	"github.com/hammamikhairi/voicegate/internal/audio"
	"github.com/hammamikhairi/voicegate/internal/fsm"
	"github.com/hammamikhairi/voicegate/internal/logger"
	"github.com/hammamikhairi/voicegate/internal/vad"
)

// Interactions is the slice of the orchestrator the manager drives.
type Interactions interface {
	HandleUtterance(utt audio.Utterance)
	CancelActivePlayback()
	// PlayWakeBeep acknowledges an accepted trigger. The manager calls
	// it only when no recording was in progress, which is the
	// suppression rule for this beep kind.
	PlayWakeBeep()
}

// Detector is the wake-word contract the manager consumes.
type Detector interface {
	Detect(frame audio.Frame) float32
	Reset()
	WarmUpComplete() bool
	WarmupDone() <-chan struct{}
}

// Config tunes the manager.
type Config struct {
	Threshold  float64
	SampleRate int
	PreRollMs  int
	MinRearmMs int
}

// Manager consumes frames in capture order on a single goroutine; the
// machines are therefore serialized. The small mutex exists only for
// the orchestrator's callbacks, which arrive from worker goroutines.
type Manager struct {
	cfg      Config
	detector Detector
	vad      *vad.Detector
	orch     Interactions
	log      *logger.Logger

	preRoll *audio.PreRollRing
	buffer  *audio.RecordingBuffer

	mu        sync.Mutex
	wakeM     *fsm.WakeWordMachine
	recM      *fsm.RecordingMachine
	gatewayM  *fsm.GatewayMachine
	utterance func(audio.Utterance) // seam for tests; defaults to orch

	now func() int64 // unix millis; swapped in tests
}

// New creates a manager.
func New(cfg Config, detector Detector, v *vad.Detector, orch Interactions, log *logger.Logger) *Manager {
	m := &Manager{
		cfg:      cfg,
		detector: detector,
		vad:      v,
		orch:     orch,
		log:      log,
		preRoll:  audio.NewPreRollRing(cfg.PreRollMs, cfg.SampleRate),
		buffer:   &audio.RecordingBuffer{},
		wakeM:    fsm.NewWakeWordMachine(),
		recM:     fsm.NewRecordingMachine(),
		gatewayM: fsm.NewGatewayMachine(cfg.MinRearmMs),
		now:      func() int64 { return time.Now().UnixMilli() },
	}
	m.utterance = func(utt audio.Utterance) { go orch.HandleUtterance(utt) }
	return m
}

// Ready moves the gateway from startup to listening. Called by the
// startup orchestrator once warm-up finished, right before the welcome
// plays, so a trigger can interrupt the welcome.
func (m *Manager) Ready() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gatewayM.Handle(fsm.GatewayEvent{Type: fsm.EvReady})
	m.log.Info("listening")
}

// GatewayState reports the top-level state.
func (m *Manager) GatewayState() fsm.GatewayState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gatewayM.State
}

// ── orchestrator.Events ──────────────────────────────────────────

// RecordingDone returns the recording machine to idle.
func (m *Manager) RecordingDone() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recM.Handle(fsm.EvRecordingComplete)
}

// CooldownFinished returns the gateway to listening.
func (m *Manager) CooldownFinished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gatewayM.Handle(fsm.GatewayEvent{Type: fsm.EvCooldownComplete})
}

// Suppressed reports whether beeps must be skipped right now.
func (m *Manager) Suppressed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recM.Recording()
}

// ── Frame loop ───────────────────────────────────────────────────

// Run consumes the capture stream until ctx is cancelled or the stream
// closes. Blocking; run on its own goroutine.
func (m *Manager) Run(ctx context.Context, frames <-chan audio.Frame) {
	m.mu.Lock()
	m.wakeM.Handle(fsm.WakeWordEvent{Type: fsm.EvDetectorInitialized, TsMs: m.now()})
	m.mu.Unlock()

	warmup := m.detector.WarmupDone()

	for {
		select {
		case <-ctx.Done():
			return
		case <-warmup:
			m.mu.Lock()
			m.wakeM.Handle(fsm.WakeWordEvent{Type: fsm.EvWarmupComplete})
			m.mu.Unlock()
			warmup = nil
		case frame, ok := <-frames:
			if !ok {
				return
			}
			m.processFrame(frame)
		}
	}
}

// processFrame is the per-frame hot path: pre-roll, detection, and —
// while recording — buffer append plus VAD.
func (m *Manager) processFrame(frame audio.Frame) {
	m.preRoll.Push(frame)

	score := m.detector.Detect(frame)
	if m.detector.WarmUpComplete() && float64(score) >= m.cfg.Threshold {
		m.handleDetection(score)
	}

	m.mu.Lock()
	recording := m.recM.Recording()
	m.mu.Unlock()
	if !recording {
		return
	}

	samples := frame.Float32()
	m.buffer.Append(samples)
	decision := m.vad.Process(samples, m.now())
	if decision.ShouldStop {
		m.stopRecording(decision)
	}
}

// handleDetection routes a trigger through the wake-word and gateway
// machines.
func (m *Manager) handleDetection(score float32) {
	ts := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	effects := m.wakeM.Handle(fsm.WakeWordEvent{Type: fsm.EvWakeWordDetected, Score: score, TsMs: ts})
	triggered := false
	for _, fx := range effects {
		if fx == fsm.FxHandleTrigger {
			triggered = true
		}
	}
	if !triggered {
		return
	}
	defer m.wakeM.Handle(fsm.WakeWordEvent{Type: fsm.EvTriggerProcessed})

	switch m.gatewayM.State {
	case fsm.GatewayListening:
		for _, fx := range m.gatewayM.Handle(fsm.GatewayEvent{Type: fsm.EvTrigger, TsMs: ts}) {
			if fx == fsm.FxStartRecording {
				m.log.Info("trigger accepted (score=%.3f)", score)
				// Covers the welcome message still playing right
				// after boot; a no-op when nothing is audible.
				m.orch.CancelActivePlayback()
				m.orch.PlayWakeBeep()
				m.startRecordingLocked(ts)
			}
		}
	case fsm.GatewayCooldown:
		if !m.recM.Recording() && m.recM.State != fsm.RecordingIdle {
			// The previous utterance is still being processed; a new
			// recording has nowhere to go yet.
			m.log.Debug("trigger during processing dropped (score=%.3f)", score)
			return
		}
		m.log.Info("barge-in trigger (score=%.3f)", score)
		for _, fx := range m.gatewayM.Handle(fsm.GatewayEvent{Type: fsm.EvTrigger, TsMs: ts}) {
			switch fx {
			case fsm.FxInterruptPlayback:
				m.orch.CancelActivePlayback()
			case fsm.FxStartRecording:
				m.orch.PlayWakeBeep()
				m.startRecordingLocked(ts)
			}
		}
	default:
		m.log.Debug("trigger dropped in state %s (score=%.3f)", m.gatewayM.State, score)
	}
}

// startRecordingLocked clears the buffer, seeds the pre-roll snapshot,
// and resets the VAD. Caller holds mu.
func (m *Manager) startRecordingLocked(ts int64) {
	for _, fx := range m.recM.Handle(fsm.EvStartRecording) {
		if fx == fsm.FxClearBuffer {
			m.buffer.Reset(ts)
			m.buffer.Seed(m.preRoll.Snapshot())
			m.vad.Begin(ts)
		}
	}
}

// stopRecording finishes the utterance: machines advance, the VAD
// closes out, the detector flushes stale state, and the snapshot goes
// to the orchestrator.
func (m *Manager) stopRecording(decision vad.Decision) {
	m.mu.Lock()

	recEv := fsm.EvSilenceDetected
	gwEv := fsm.EvGatewaySilence
	if decision.Reason == vad.StopMaxLength {
		recEv = fsm.EvMaxLengthReached
		gwEv = fsm.EvGatewayMaxLength
	}
	m.recM.Handle(recEv)
	m.gatewayM.Handle(fsm.GatewayEvent{Type: gwEv})

	utt := audio.Utterance{
		Audio:       m.buffer.Snapshot(),
		StartedAtMs: m.buffer.StartedAt(),
		HasSpoken:   decision.HasSpoken,
	}
	m.mu.Unlock()

	m.vad.End()
	// Recording has ended, so flushing the pipeline is safe now.
	m.detector.Reset()

	m.log.Info("recording stopped (%s, %.2fs, spoke=%v)",
		decision.Reason, float64(len(utt.Audio))/float64(m.cfg.SampleRate), decision.HasSpoken)
	m.utterance(utt)
}
