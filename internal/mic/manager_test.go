package mic

import (
	"sync"
	"testing"

	"github.com/hammamikhairi/voicegate/internal/audio"
	"github.com/hammamikhairi/voicegate/internal/fsm"
	"github.com/hammamikhairi/voicegate/internal/logger"
	"github.com/hammamikhairi/voicegate/internal/vad"
)

func testLog() *logger.Logger { return logger.New(logger.LevelOff, nil) }

// scriptedDetector returns queued scores, then zeros.
type scriptedDetector struct {
	scores []float32
	warm   bool
	resets int
	done   chan struct{}
}

func newScriptedDetector(warm bool) *scriptedDetector {
	return &scriptedDetector{warm: warm, done: make(chan struct{})}
}

func (d *scriptedDetector) Detect(audio.Frame) float32 {
	if len(d.scores) == 0 {
		return 0
	}
	s := d.scores[0]
	d.scores = d.scores[1:]
	return s
}

func (d *scriptedDetector) Reset()                        { d.resets++ }
func (d *scriptedDetector) WarmUpComplete() bool          { return d.warm }
func (d *scriptedDetector) WarmupDone() <-chan struct{}   { return d.done }

// fakeOrch records utterances, cancellations, and wake beeps.
type fakeOrch struct {
	mu         sync.Mutex
	utterances []audio.Utterance
	cancels    int
	wakeBeeps  int
}

func (f *fakeOrch) HandleUtterance(utt audio.Utterance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.utterances = append(f.utterances, utt)
}

func (f *fakeOrch) CancelActivePlayback() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
}

func (f *fakeOrch) PlayWakeBeep() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wakeBeeps++
}

func (f *fakeOrch) wakeBeepCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wakeBeeps
}

func (f *fakeOrch) utteranceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.utterances)
}

func newTestManager(det Detector, orch Interactions) *Manager {
	v := vad.New(vad.Config{
		SilenceThreshold:  0.003,
		MinSpeechMs:       700,
		TrailingSilenceMs: 1500,
		MaxUtteranceMs:    10000,
		GraceBeforeStopMs: 1200,
		SampleRate:        16000,
	}, testLog())

	m := New(Config{
		Threshold:  0.5,
		SampleRate: 16000,
		PreRollMs:  300,
		MinRearmMs: 1500,
	}, det, v, orch, testLog())

	// Deterministic clock: advances 80 ms per call, like real frames.
	clock := int64(0)
	m.now = func() int64 {
		clock += 80
		return clock
	}
	// Deliver utterances synchronously in tests.
	m.utterance = func(utt audio.Utterance) { orch.HandleUtterance(utt) }
	// Run moves the wake-word machine through initialization and
	// warm-up; these tests call processFrame directly, so do it here.
	m.wakeM.Handle(fsm.WakeWordEvent{Type: fsm.EvDetectorInitialized})
	if det.WarmUpComplete() {
		m.wakeM.Handle(fsm.WakeWordEvent{Type: fsm.EvWarmupComplete})
	}
	return m
}

func loudFrame() audio.Frame {
	f := make(audio.Frame, audio.FrameSamples)
	for i := range f {
		f[i] = 3000
	}
	return f
}

func quietFrame() audio.Frame {
	return make(audio.Frame, audio.FrameSamples)
}

func TestTriggerStartsRecordingAndSeedsPreRoll(t *testing.T) {
	det := newScriptedDetector(true)
	orch := &fakeOrch{}
	m := newTestManager(det, orch)
	m.Ready()

	// A few loud pre-roll frames before the trigger.
	det.scores = []float32{0, 0, 0.95}
	m.processFrame(loudFrame())
	m.processFrame(loudFrame())
	m.processFrame(loudFrame()) // trigger fires here

	if got := m.GatewayState(); got != fsm.GatewayRecording {
		t.Fatalf("expected recording, got %s", got)
	}
	if orch.wakeBeepCount() != 1 {
		t.Fatalf("expected one wake beep, got %d", orch.wakeBeepCount())
	}
	if !m.Suppressed() {
		t.Fatal("beeps not suppressed while recording")
	}
	// Pre-roll was seeded: the buffer holds more than the triggering
	// frame alone.
	if m.buffer.Len() <= audio.FrameSamples {
		t.Fatalf("pre-roll not seeded, buffer=%d", m.buffer.Len())
	}
}

func TestTriggerIgnoredBeforeWarmup(t *testing.T) {
	det := newScriptedDetector(false)
	orch := &fakeOrch{}
	m := newTestManager(det, orch)
	m.Ready()

	det.scores = []float32{0.99}
	m.processFrame(loudFrame())

	if got := m.GatewayState(); got != fsm.GatewayListening {
		t.Fatalf("trigger accepted before warm-up: %s", got)
	}
	if orch.wakeBeepCount() != 0 {
		t.Fatalf("wake beep played before warm-up: %d", orch.wakeBeepCount())
	}
}

func TestTriggerIgnoredDuringStartup(t *testing.T) {
	det := newScriptedDetector(true)
	orch := &fakeOrch{}
	m := newTestManager(det, orch)
	// No Ready(): gateway still in startup.

	det.scores = []float32{0.99}
	m.processFrame(loudFrame())

	if got := m.GatewayState(); got != fsm.GatewayStartup {
		t.Fatalf("expected startup, got %s", got)
	}
	if orch.wakeBeepCount() != 0 {
		t.Fatalf("wake beep played during startup: %d", orch.wakeBeepCount())
	}
}

func TestRecordingStopsOnSilenceAndHandsUtterance(t *testing.T) {
	det := newScriptedDetector(true)
	orch := &fakeOrch{}
	m := newTestManager(det, orch)
	m.Ready()

	det.scores = []float32{0.95}
	m.processFrame(loudFrame()) // trigger + start recording

	// Speak past the grace period (1200 ms = 15 frames), then quiet.
	for i := 0; i < 20; i++ {
		m.processFrame(loudFrame())
	}
	for i := 0; i < 25 && orch.utteranceCount() == 0; i++ {
		m.processFrame(quietFrame())
	}

	if orch.utteranceCount() != 1 {
		t.Fatalf("expected one utterance, got %d", orch.utteranceCount())
	}
	utt := orch.utterances[0]
	if !utt.HasSpoken {
		t.Fatal("utterance lost hasSpoken")
	}
	if len(utt.Audio) == 0 {
		t.Fatal("utterance has no audio")
	}
	if det.resets != 1 {
		t.Fatalf("detector not reset after recording, resets=%d", det.resets)
	}
	if got := m.GatewayState(); got != fsm.GatewayCooldown {
		t.Fatalf("expected cooldown, got %s", got)
	}
}

func TestFalseTriggerYieldsNoSpeechUtterance(t *testing.T) {
	det := newScriptedDetector(true)
	orch := &fakeOrch{}
	m := newTestManager(det, orch)
	m.Ready()

	det.scores = []float32{0.95}
	m.processFrame(quietFrame()) // trigger on a silent room

	// All silence: recording runs to the max-utterance ceiling.
	for i := 0; i < 130 && orch.utteranceCount() == 0; i++ {
		m.processFrame(quietFrame())
	}

	if orch.utteranceCount() != 1 {
		t.Fatalf("expected one utterance, got %d", orch.utteranceCount())
	}
	if orch.utterances[0].HasSpoken {
		t.Fatal("silent recording reported speech")
	}
}

func TestBargeInDuringCooldown(t *testing.T) {
	det := newScriptedDetector(true)
	orch := &fakeOrch{}
	m := newTestManager(det, orch)
	m.Ready()

	// First interaction: trigger, speak, stop.
	det.scores = []float32{0.95}
	m.processFrame(loudFrame())
	for i := 0; i < 20; i++ {
		m.processFrame(loudFrame())
	}
	for i := 0; i < 25 && orch.utteranceCount() == 0; i++ {
		m.processFrame(quietFrame())
	}
	if m.GatewayState() != fsm.GatewayCooldown {
		t.Fatalf("expected cooldown, got %s", m.GatewayState())
	}

	// The orchestrator finished processing; recording machine is idle.
	m.RecordingDone()
	baseline := orch.cancels

	// Wake word during cooldown: must cancel playback and re-enter
	// recording even though the re-arm window has not passed.
	det.scores = []float32{0.99}
	m.processFrame(loudFrame())

	if orch.cancels != baseline+1 {
		t.Fatalf("expected playback cancellation, got %d (baseline %d)", orch.cancels, baseline)
	}
	if orch.wakeBeepCount() != 2 {
		t.Fatalf("expected a wake beep per accepted trigger, got %d", orch.wakeBeepCount())
	}
	if got := m.GatewayState(); got != fsm.GatewayRecording {
		t.Fatalf("expected recording after barge-in, got %s", got)
	}
}

func TestRetriggerWhileRecordingIsDropped(t *testing.T) {
	det := newScriptedDetector(true)
	orch := &fakeOrch{}
	m := newTestManager(det, orch)
	m.Ready()

	// Two triggers 80 ms apart: the second lands while recording and
	// is dropped outright.
	det.scores = []float32{0.95}
	m.processFrame(loudFrame())
	baseline := orch.cancels

	det.scores = []float32{0.99}
	m.processFrame(loudFrame())

	if orch.cancels != baseline {
		t.Fatalf("second trigger should be dropped, got %d cancels (baseline %d)", orch.cancels, baseline)
	}
	if orch.wakeBeepCount() != 1 {
		t.Fatalf("dropped trigger must not beep, got %d", orch.wakeBeepCount())
	}
	if got := m.GatewayState(); got != fsm.GatewayRecording {
		t.Fatalf("expected recording, got %s", got)
	}
}
