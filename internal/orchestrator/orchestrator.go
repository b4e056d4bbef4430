// Package orchestrator sequences one voice interaction: transcription,
// language-model query with tool calling, speech synthesis, and
// cancellable playback. It owns the conversation history and the
// playback state machine; everything else reaches playback through
// events.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/hammamikhairi/voicegate/internal/ai"
	"github.com/hammamikhairi/voicegate/internal/audio"
	"github.com/hammamikhairi/voicegate/internal/convo"
	"github.com/hammamikhairi/voicegate/internal/fsm"
	"github.com/hammamikhairi/voicegate/internal/intent"
	"github.com/hammamikhairi/voicegate/internal/logger"
	"github.com/hammamikhairi/voicegate/internal/mqttpub"
	"github.com/hammamikhairi/voicegate/internal/tts"
)

// STT is the transcription contract the orchestrator consumes.
type STT interface {
	Transcribe(samples []float32, sampleRate int) (string, error)
}

// Player is the playback surface the orchestrator needs.
type Player interface {
	Play(pcm []int16) error
	PlayInterruptible(pcm []int16) *audio.Handle
	SampleRate() int
}

// Events is how the orchestrator reports back to the microphone layer
// without owning its machines.
type Events interface {
	// RecordingDone returns the recording machine to idle.
	RecordingDone()
	// CooldownFinished returns the gateway to listening.
	CooldownFinished()
	// Suppressed reports whether feedback beeps must be skipped (a new
	// recording is in progress). Checked immediately before each beep.
	Suppressed() bool
}

// Config tunes the orchestrator.
type Config struct {
	SampleRate        int
	BeepVolume        float64
	CooldownMs        int
	WebFallbackOn     bool
	MaxHistory        int
	SystemPromptNote  string // stored as the conversation's system message
}

// Orchestrator runs interactions on a worker goroutine per utterance;
// the audio reactor never blocks on it.
type Orchestrator struct {
	cfg       Config
	stt       STT
	router    *ai.Router
	synth     *tts.Synthesizer // nil when TTS is disabled
	player    Player
	publisher *mqttpub.Publisher
	retriever ContextRetriever
	conv      *convo.Conversation
	events    Events
	log       *logger.Logger

	// pmu serializes every touch of the playback machine and the
	// per-interaction cancellation state.
	pmu           sync.Mutex
	playback      *fsm.PlaybackMachine
	cooldownTimer *time.Timer
	interactCancel context.CancelFunc
}

// New creates an orchestrator. The Events sink is wired afterwards via
// SetEvents because the microphone manager is constructed second.
func New(cfg Config, stt STT, router *ai.Router, synth *tts.Synthesizer,
	player Player, publisher *mqttpub.Publisher, retriever ContextRetriever,
	log *logger.Logger) *Orchestrator {
	if cfg.CooldownMs <= 0 {
		cfg.CooldownMs = 1500
	}
	o := &Orchestrator{
		cfg:       cfg,
		stt:       stt,
		router:    router,
		synth:     synth,
		player:    player,
		publisher: publisher,
		retriever: retriever,
		conv:      convo.New(cfg.MaxHistory),
		playback:  fsm.NewPlaybackMachine(),
		log:       log,
	}
	o.conv.Append(convo.Message{Role: convo.RoleSystem, Content: cfg.SystemPromptNote})
	return o
}

// SetEvents wires the microphone-layer callbacks.
func (o *Orchestrator) SetEvents(ev Events) { o.events = ev }

// Conversation exposes the history (read-mostly; tests and status).
func (o *Orchestrator) Conversation() *convo.Conversation { return o.conv }

// PlaybackState reports the playback machine's state.
func (o *Orchestrator) PlaybackState() fsm.PlaybackState {
	o.pmu.Lock()
	defer o.pmu.Unlock()
	return o.playback.State
}

// HandleUtterance processes one finished recording. Runs on a worker
// goroutine; the capture loop stays live throughout.
func (o *Orchestrator) HandleUtterance(utt audio.Utterance) {
	if !utt.HasSpoken || len(utt.Audio) == 0 {
		o.log.Info("Skipping transcription – no speech detected")
		o.events.RecordingDone()
		o.events.CooldownFinished()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.pmu.Lock()
	o.interactCancel = cancel
	o.pmu.Unlock()
	defer cancel()

	o.beep(audio.BeepProcessing)

	transcription, err := o.stt.Transcribe(utt.Audio, o.cfg.SampleRate)
	if err != nil {
		o.log.Error("transcription failed: %v", err)
		o.speakLine(LineSTTError())
		o.events.RecordingDone()
		o.events.CooldownFinished()
		return
	}
	if transcription == "" {
		o.log.Info("empty transcription, returning to listening")
		o.events.RecordingDone()
		o.events.CooldownFinished()
		return
	}
	o.log.Info("heard: %q", transcription)

	o.publisher.PublishTranscription(transcription)

	hints := intent.Classify(transcription)
	o.conv.Append(convo.Message{Role: convo.RoleUser, Content: transcription})

	if o.router.IsStreamingEnabled() && o.synth != nil {
		o.runStreaming(ctx, hints)
		return
	}
	o.runBuffered(ctx, transcription, hints)
}

// runBuffered is the non-streaming path: full answer, then speech.
func (o *Orchestrator) runBuffered(ctx context.Context, transcription string, hints intent.Hints) {
	answer, err := o.router.Query(ctx, o.conv, hints, nil)
	if err != nil {
		if ctx.Err() != nil {
			o.log.Info("interaction cancelled during query")
			o.events.RecordingDone()
			return
		}
		o.log.Error("query failed: %v", err)
		o.speakLine(LineLLMError())
		o.events.RecordingDone()
		o.events.CooldownFinished()
		return
	}

	answer = o.maybeWebFallback(ctx, transcription, answer)
	if answer == "" {
		answer = LineEmptyAnswer()
	}
	o.conv.Append(convo.Message{Role: convo.RoleAssistant, Content: answer})

	o.beep(audio.BeepResponse)
	o.speakResponse(answer)
}

// runStreaming forwards tokens to the phrase-debounced speaker. The
// speaker doubles as the cancellable playback for barge-in.
func (o *Orchestrator) runStreaming(ctx context.Context, hints intent.Hints) {
	speaker := tts.NewStreamSpeaker(o.synth, o.player, o.log.With("tts-stream"))

	o.pmu.Lock()
	o.playback.Handle(fsm.PlaybackEvent{
		Type:         fsm.EvStartPlayback,
		Playback:     speaker,
		PlaybackType: "response",
	})
	o.pmu.Unlock()
	o.events.RecordingDone()

	answer, err := o.router.Query(ctx, o.conv, hints, speaker.Push)
	if err != nil {
		speaker.Cancel()
		if ctx.Err() != nil {
			o.log.Info("streaming interaction cancelled")
			o.finishPlayback(true)
			return
		}
		o.log.Error("streaming query failed: %v", err)
		o.finishPlayback(false)
		o.speakLine(LineLLMError())
		o.events.CooldownFinished()
		return
	}

	o.conv.Append(convo.Message{Role: convo.RoleAssistant, Content: answer})
	speaker.Finalize()

	select {
	case <-ctx.Done():
		o.finishPlayback(true)
	default:
		o.finishPlayback(false)
	}
}

// speakResponse plays the synthesized answer as the tracked,
// interruptible playback.
func (o *Orchestrator) speakResponse(answer string) {
	if o.synth == nil {
		o.log.Debug("TTS disabled, not speaking answer")
		o.events.RecordingDone()
		o.events.CooldownFinished()
		return
	}

	pcm, err := o.synth.Synthesize(answer)
	if err != nil {
		o.log.Error("synthesis failed: %v", err)
		o.events.RecordingDone()
		o.events.CooldownFinished()
		return
	}

	handle := o.player.PlayInterruptible(pcm)
	o.pmu.Lock()
	o.playback.Handle(fsm.PlaybackEvent{
		Type:         fsm.EvStartPlayback,
		Playback:     handle,
		PlaybackType: "response",
	})
	o.pmu.Unlock()
	o.events.RecordingDone()

	err = handle.Wait()
	o.finishPlayback(err != nil)
}

// finishPlayback settles the playback machine after the audio ends:
// interrupted playbacks acknowledge the interrupt, completed ones arm
// the cooldown timer.
func (o *Orchestrator) finishPlayback(interrupted bool) {
	o.pmu.Lock()
	defer o.pmu.Unlock()

	if interrupted || o.playback.State == fsm.PlaybackInterrupted {
		o.playback.Handle(fsm.PlaybackEvent{Type: fsm.EvInterruptHandled})
		// The barge-in trigger already owns the gateway transition; no
		// cooldown here.
		return
	}

	for _, fx := range o.playback.Handle(fsm.PlaybackEvent{Type: fsm.EvPlaybackComplete}) {
		if fx == fsm.FxStartCooldownTimer {
			o.armCooldownLocked()
		}
	}
}

// armCooldownLocked starts the cooldown countdown. Caller holds pmu.
func (o *Orchestrator) armCooldownLocked() {
	if o.cooldownTimer != nil {
		o.cooldownTimer.Stop()
	}
	o.log.Debug("Cooldown (can interrupt)")
	o.cooldownTimer = time.AfterFunc(time.Duration(o.cfg.CooldownMs)*time.Millisecond, func() {
		o.pmu.Lock()
		o.playback.Handle(fsm.PlaybackEvent{Type: fsm.EvCooldownTimeout})
		o.pmu.Unlock()
		o.events.CooldownFinished()
	})
}

// CancelActivePlayback aborts the current interaction: the playback
// handle (or stream speaker), and through the shared context the
// streaming LLM and any queued TTS. Idempotent; safe with nothing
// active.
func (o *Orchestrator) CancelActivePlayback() {
	o.pmu.Lock()
	if o.interactCancel != nil {
		o.interactCancel()
	}
	if o.cooldownTimer != nil {
		o.cooldownTimer.Stop()
	}
	o.playback.Handle(fsm.PlaybackEvent{Type: fsm.EvInterrupt})
	o.pmu.Unlock()
}

// PlayWelcome plays a pre-synthesized welcome interruptibly and, once
// it completes uncancelled, the ready beep. Used by the startup
// orchestrator.
func (o *Orchestrator) PlayWelcome(pcm []int16) {
	if len(pcm) == 0 {
		o.beep(audio.BeepReady)
		return
	}
	handle := o.player.PlayInterruptible(pcm)
	o.pmu.Lock()
	o.playback.Handle(fsm.PlaybackEvent{
		Type:         fsm.EvStartPlayback,
		Playback:     handle,
		PlaybackType: "welcome",
	})
	o.pmu.Unlock()

	if err := handle.Wait(); err != nil {
		o.finishPlayback(true)
		return
	}
	o.finishPlayback(false)
	o.beep(audio.BeepReady)
}

// maybeWebFallback re-queries once with retrieved context when the
// answer admits it lacks live data. Single-shot, never recursive.
func (o *Orchestrator) maybeWebFallback(ctx context.Context, transcription, answer string) string {
	if !o.cfg.WebFallbackOn || o.retriever == nil || !needsWebFallback(answer) {
		return answer
	}

	o.log.Info("answer lacks live data, trying web fallback")
	snippet, err := o.retriever.Retrieve(ctx, transcription)
	if err != nil || snippet == "" {
		o.log.Warn("web fallback retrieval failed: %v", err)
		return answer
	}

	o.conv.Append(convo.Message{Role: convo.RoleAssistant, Content: answer})
	o.conv.Append(convo.Message{
		Role:    convo.RoleUser,
		Content: "Here is current information from the web: " + snippet + "\nPlease answer my question again using it.",
	})
	retried, err := o.router.Query(ctx, o.conv, intent.Hints{}, nil)
	if err != nil || retried == "" {
		return answer
	}
	return retried
}

// speakLine plays a fixed line if TTS is available, suppressing it
// when a new recording started.
func (o *Orchestrator) speakLine(line string) {
	if o.synth == nil || o.events.Suppressed() {
		o.beep(audio.BeepError)
		return
	}
	pcm, err := o.synth.Synthesize(line)
	if err != nil {
		o.beep(audio.BeepError)
		return
	}
	_ = o.player.Play(pcm)
}

// PlayWakeBeep acknowledges a trigger the microphone layer just
// accepted. The manager calls it under its machine lock, only when no
// recording was already in progress — that call-site state is the
// suppression check for this beep kind, so none is repeated here (a
// Suppressed round-trip would deadlock on the manager's lock).
// Playback runs on its own goroutine to keep the frame path
// non-blocking.
func (o *Orchestrator) PlayWakeBeep() {
	go func() {
		_ = o.player.Play(audio.Beep(audio.BeepWake, o.player.SampleRate(), o.cfg.BeepVolume))
	}()
}

// beep plays a feedback tone unless suppressed. The suppression check
// happens here, immediately before playing — never earlier.
func (o *Orchestrator) beep(kind audio.BeepKind) {
	if o.events != nil && o.events.Suppressed() {
		o.log.Debug("beep suppressed (recording)")
		return
	}
	_ = o.player.Play(audio.Beep(kind, o.player.SampleRate(), o.cfg.BeepVolume))
}

// PrefetchLines warms the TTS cache for the fixed lines.
func (o *Orchestrator) PrefetchLines() {
	if o.synth == nil {
		return
	}
	o.synth.Prefetch(LineWelcome(), LineSTTError(), LineLLMError(), LineEmptyAnswer())
}
