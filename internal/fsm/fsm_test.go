package fsm

import "testing"

func TestWakeWordLifecycle(t *testing.T) {
	m := NewWakeWordMachine()

	if m.State != WakeWordOff {
		t.Fatalf("expected off, got %s", m.State)
	}

	m.Handle(WakeWordEvent{Type: EvDetectorInitialized, TsMs: 100})
	if m.State != WakeWordWarmingUp {
		t.Fatalf("expected warming-up, got %s", m.State)
	}

	// Detection during warm-up is not listed and must be a no-op.
	if fx := m.Handle(WakeWordEvent{Type: EvWakeWordDetected, Score: 0.9, TsMs: 200}); fx != nil {
		t.Fatalf("expected no effects during warm-up, got %v", fx)
	}
	if m.State != WakeWordWarmingUp {
		t.Fatalf("state changed on illegal event: %s", m.State)
	}

	m.Handle(WakeWordEvent{Type: EvWarmupComplete})
	if m.State != WakeWordReady {
		t.Fatalf("expected ready, got %s", m.State)
	}

	fx := m.Handle(WakeWordEvent{Type: EvWakeWordDetected, Score: 0.95, TsMs: 300})
	if m.State != WakeWordTriggered {
		t.Fatalf("expected triggered, got %s", m.State)
	}
	if len(fx) != 1 || fx[0] != FxHandleTrigger {
		t.Fatalf("expected FxHandleTrigger, got %v", fx)
	}
	if m.LastTriggerScore != 0.95 || m.LastTriggerMs != 300 {
		t.Fatalf("trigger context not recorded: %+v", m)
	}

	// A second detection while triggered is ignored.
	if fx := m.Handle(WakeWordEvent{Type: EvWakeWordDetected, Score: 0.99, TsMs: 310}); fx != nil {
		t.Fatalf("expected no effects while triggered, got %v", fx)
	}

	m.Handle(WakeWordEvent{Type: EvTriggerProcessed})
	if m.State != WakeWordReady {
		t.Fatalf("expected ready after processing, got %s", m.State)
	}

	fx = m.Handle(WakeWordEvent{Type: EvResetDetector, TsMs: 400})
	if m.State != WakeWordWarmingUp {
		t.Fatalf("expected warming-up after reset, got %s", m.State)
	}
	if len(fx) != 1 || fx[0] != FxResetDetector {
		t.Fatalf("expected FxResetDetector, got %v", fx)
	}
}

func TestRecordingLifecycle(t *testing.T) {
	m := NewRecordingMachine()

	fx := m.Handle(EvStartRecording)
	if m.State != RecordingActive || len(fx) != 1 || fx[0] != FxClearBuffer {
		t.Fatalf("start: state=%s fx=%v", m.State, fx)
	}

	// START_RECORDING while recording is ignored.
	if fx := m.Handle(EvStartRecording); fx != nil {
		t.Fatalf("expected no effects, got %v", fx)
	}
	// RECORDING_COMPLETE while recording is ignored.
	if fx := m.Handle(EvRecordingComplete); fx != nil || m.State != RecordingActive {
		t.Fatalf("complete while recording must be a no-op (state=%s)", m.State)
	}

	fx = m.Handle(EvSilenceDetected)
	if m.State != RecordingProcessing || len(fx) != 1 || fx[0] != FxFinishRecording {
		t.Fatalf("silence: state=%s fx=%v", m.State, fx)
	}

	m.Handle(EvRecordingComplete)
	if m.State != RecordingIdle {
		t.Fatalf("expected idle, got %s", m.State)
	}

	// Max-length path.
	m.Handle(EvStartRecording)
	m.Handle(EvMaxLengthReached)
	if m.State != RecordingProcessing {
		t.Fatalf("expected processing after max length, got %s", m.State)
	}
}

// recCanceler counts Cancel calls and can panic on demand.
type recCanceler struct {
	calls    int
	panicOnC bool
}

func (c *recCanceler) Cancel() {
	c.calls++
	if c.panicOnC {
		panic("cancel exploded")
	}
}

func TestPlaybackInterrupt(t *testing.T) {
	m := NewPlaybackMachine()
	canceler := &recCanceler{}

	m.Handle(PlaybackEvent{Type: EvStartPlayback, Playback: canceler, PlaybackType: "response"})
	if m.State != PlaybackPlaying || m.ActivePlayback == nil {
		t.Fatalf("start: state=%s active=%v", m.State, m.ActivePlayback)
	}

	m.Handle(PlaybackEvent{Type: EvInterrupt})
	if m.State != PlaybackInterrupted {
		t.Fatalf("expected interrupted, got %s", m.State)
	}
	if canceler.calls != 1 {
		t.Fatalf("expected one Cancel call, got %d", canceler.calls)
	}
	if m.ActivePlayback != nil || m.PlaybackType != "" {
		t.Fatal("active playback not cleared on interrupt")
	}

	m.Handle(PlaybackEvent{Type: EvInterruptHandled})
	if m.State != PlaybackIdle {
		t.Fatalf("expected idle, got %s", m.State)
	}
}

func TestPlaybackCancelFailuresDoNotPropagate(t *testing.T) {
	// A panicking Cancel must be swallowed.
	m := NewPlaybackMachine()
	m.Handle(PlaybackEvent{Type: EvStartPlayback, Playback: &recCanceler{panicOnC: true}})
	m.Handle(PlaybackEvent{Type: EvInterrupt})
	if m.State != PlaybackInterrupted {
		t.Fatalf("expected interrupted, got %s", m.State)
	}

	// So must a nil handle.
	m2 := NewPlaybackMachine()
	m2.Handle(PlaybackEvent{Type: EvStartPlayback, Playback: nil})
	m2.Handle(PlaybackEvent{Type: EvInterrupt})
	if m2.State != PlaybackInterrupted {
		t.Fatalf("expected interrupted with nil handle, got %s", m2.State)
	}
}

func TestPlaybackCooldown(t *testing.T) {
	m := NewPlaybackMachine()
	m.Handle(PlaybackEvent{Type: EvStartPlayback, Playback: &recCanceler{}})

	fx := m.Handle(PlaybackEvent{Type: EvPlaybackComplete})
	if m.State != PlaybackCooldown {
		t.Fatalf("expected cooldown, got %s", m.State)
	}
	if len(fx) != 1 || fx[0] != FxStartCooldownTimer {
		t.Fatalf("expected cooldown timer effect, got %v", fx)
	}
	if m.ActivePlayback != nil {
		t.Fatal("active playback not cleared on complete")
	}

	// Cooldown exits on timeout...
	m.Handle(PlaybackEvent{Type: EvCooldownTimeout})
	if m.State != PlaybackIdle {
		t.Fatalf("expected idle after timeout, got %s", m.State)
	}

	// ...or on interrupt.
	m.Handle(PlaybackEvent{Type: EvStartPlayback, Playback: &recCanceler{}})
	m.Handle(PlaybackEvent{Type: EvPlaybackComplete})
	m.Handle(PlaybackEvent{Type: EvInterrupt})
	if m.State != PlaybackIdle {
		t.Fatalf("expected idle after cooldown interrupt, got %s", m.State)
	}
}

func TestGatewayRearmGuard(t *testing.T) {
	m := NewGatewayMachine(1500)

	m.Handle(GatewayEvent{Type: EvReady})
	if m.State != GatewayListening {
		t.Fatalf("expected listening, got %s", m.State)
	}

	// First trigger accepted.
	fx := m.Handle(GatewayEvent{Type: EvTrigger, TsMs: 10_000})
	if m.State != GatewayRecording || len(fx) != 1 || fx[0] != FxStartRecording {
		t.Fatalf("first trigger: state=%s fx=%v", m.State, fx)
	}

	// Back to listening via cooldown.
	m.Handle(GatewayEvent{Type: EvGatewaySilence})
	m.Handle(GatewayEvent{Type: EvCooldownComplete})
	if m.State != GatewayListening {
		t.Fatalf("expected listening, got %s", m.State)
	}

	// Trigger inside the re-arm window is rejected.
	fx = m.Handle(GatewayEvent{Type: EvTrigger, TsMs: 10_900})
	if m.State != GatewayListening || fx != nil {
		t.Fatalf("rearm guard failed: state=%s fx=%v", m.State, fx)
	}

	// Past the window it is accepted again.
	fx = m.Handle(GatewayEvent{Type: EvTrigger, TsMs: 11_600})
	if m.State != GatewayRecording || len(fx) != 1 {
		t.Fatalf("post-window trigger: state=%s fx=%v", m.State, fx)
	}
}

func TestGatewayCooldownInterrupt(t *testing.T) {
	m := NewGatewayMachine(1500)
	m.Handle(GatewayEvent{Type: EvReady})
	m.Handle(GatewayEvent{Type: EvTrigger, TsMs: 10_000})
	m.Handle(GatewayEvent{Type: EvGatewayMaxLength})
	if m.State != GatewayCooldown {
		t.Fatalf("expected cooldown, got %s", m.State)
	}

	// In cooldown the re-arm guard does not apply: this trigger is only
	// 200 ms after the last accepted one and must still interrupt.
	fx := m.Handle(GatewayEvent{Type: EvTrigger, TsMs: 10_200})
	if m.State != GatewayRecording {
		t.Fatalf("expected recording after barge-in, got %s", m.State)
	}
	wantInterrupt, wantStart := false, false
	for _, f := range fx {
		switch f {
		case FxInterruptPlayback:
			wantInterrupt = true
		case FxStartRecording:
			wantStart = true
		}
	}
	if !wantInterrupt || !wantStart {
		t.Fatalf("expected interrupt+start effects, got %v", fx)
	}
}

func TestGatewayIgnoresUnlistedEvents(t *testing.T) {
	m := NewGatewayMachine(0)

	// Trigger during startup is dropped.
	if fx := m.Handle(GatewayEvent{Type: EvTrigger, TsMs: 5000}); fx != nil || m.State != GatewayStartup {
		t.Fatalf("startup trigger must be a no-op: state=%s fx=%v", m.State, fx)
	}

	// Silence while listening is dropped.
	m.Handle(GatewayEvent{Type: EvReady})
	if fx := m.Handle(GatewayEvent{Type: EvGatewaySilence}); fx != nil || m.State != GatewayListening {
		t.Fatalf("listening silence must be a no-op: state=%s fx=%v", m.State, fx)
	}
}
