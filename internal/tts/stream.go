package tts

import (
	"strings"
	"sync"
	"unicode"

	"github.com/hammamikhairi/voicegate/internal/audio"
	"github.com/hammamikhairi/voicegate/internal/logger"
)

// minPhraseChars debounces synthesis: a sentence shorter than this is
// held until more text arrives, so the speaker doesn't stutter through
// one-word fragments.
const minPhraseChars = 24

// Player is the playback surface the speaker needs.
type Player interface {
	PlayInterruptible(pcm []int16) *audio.Handle
}

// StreamSpeaker turns an LLM token stream into speech, synthesizing at
// phrase boundaries and playing chunks in order. One StreamSpeaker
// serves one interaction; Cancel aborts synthesis and discards every
// queued chunk.
type StreamSpeaker struct {
	synth  *Synthesizer
	player Player
	log    *logger.Logger

	mu      sync.Mutex
	pending strings.Builder
	current *audio.Handle
	closed  bool

	phrases    chan string
	cancelOnce sync.Once
	cancelled  chan struct{}
	done       chan struct{}
}

// NewStreamSpeaker starts the playback worker.
func NewStreamSpeaker(synth *Synthesizer, player Player, log *logger.Logger) *StreamSpeaker {
	s := &StreamSpeaker{
		synth:     synth,
		player:    player,
		log:       log,
		phrases:   make(chan string, 16),
		cancelled: make(chan struct{}),
		done:      make(chan struct{}),
	}
	go s.worker()
	return s
}

// Push feeds one token. Complete phrases are queued for synthesis.
func (s *StreamSpeaker) Push(token string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending.WriteString(token)
	phrase := s.takePhraseLocked()
	s.mu.Unlock()

	if phrase != "" {
		s.enqueue(phrase)
	}
}

// Finalize flushes the remaining text and blocks until everything
// queued has played (or the speaker was cancelled).
func (s *StreamSpeaker) Finalize() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	rest := strings.TrimSpace(s.pending.String())
	s.pending.Reset()
	s.mu.Unlock()

	if rest != "" {
		s.enqueue(rest)
	}
	close(s.phrases)
	<-s.done
}

// Cancel aborts the stream: the active playback stops, queued phrases
// are dropped, and further Pushes are ignored. Idempotent.
func (s *StreamSpeaker) Cancel() {
	s.cancelOnce.Do(func() {
		close(s.cancelled)
		s.mu.Lock()
		if !s.closed {
			s.closed = true
			close(s.phrases)
		}
		current := s.current
		s.mu.Unlock()
		if current != nil {
			current.Cancel()
		}
		s.log.Debug("stream speaker cancelled")
	})
}

// Done is closed when the worker has drained or been cancelled.
func (s *StreamSpeaker) Done() <-chan struct{} { return s.done }

func (s *StreamSpeaker) enqueue(phrase string) {
	select {
	case s.phrases <- phrase:
	case <-s.cancelled:
	}
}

func (s *StreamSpeaker) worker() {
	defer close(s.done)
	for phrase := range s.phrases {
		select {
		case <-s.cancelled:
			return
		default:
		}

		pcm, err := s.synth.Synthesize(phrase)
		if err != nil {
			s.log.Error("chunk synthesis failed: %v", err)
			continue
		}

		handle := s.player.PlayInterruptible(pcm)
		s.mu.Lock()
		s.current = handle
		s.mu.Unlock()
		if err := handle.Wait(); err != nil {
			// Cancelled mid-chunk; drop the rest.
			return
		}
	}
}

// takePhraseLocked extracts one speakable phrase from the pending
// buffer: text up to a sentence boundary, once long enough.
func (s *StreamSpeaker) takePhraseLocked() string {
	text := s.pending.String()
	cut := -1
	for i, r := range text {
		if isSentenceEnd(r) && i+1 >= minPhraseChars {
			cut = i
		}
	}
	if cut < 0 {
		return ""
	}
	phrase := strings.TrimSpace(text[:cut+1])
	rest := strings.TrimLeftFunc(text[cut+1:], unicode.IsSpace)
	s.pending.Reset()
	s.pending.WriteString(rest)
	return phrase
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
