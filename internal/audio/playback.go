package audio

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/hammamikhairi/voicegate/internal/logger"
)

// ErrPlaybackCancelled is the Done result of a playback that was cut
// short. Expected during barge-in; not a failure.
var ErrPlaybackCancelled = errors.New("playback cancelled")

// Handle controls one in-flight playback.
type Handle struct {
	cancel chan struct{}
	done   chan error
	once   sync.Once
}

// Cancel stops the playback. Idempotent; safe after completion. The
// underlying player pauses within one poll tick (well under 100 ms).
func (h *Handle) Cancel() {
	h.once.Do(func() { close(h.cancel) })
}

// Done resolves with nil on normal completion or ErrPlaybackCancelled.
func (h *Handle) Done() <-chan error { return h.done }

// Wait blocks until the playback finishes and returns its result.
func (h *Handle) Wait() error { return <-h.done }

// Cancelled reports whether Cancel was called.
func (h *Handle) Cancelled() bool {
	select {
	case <-h.cancel:
		return true
	default:
		return false
	}
}

// NewHandle creates a detached handle for custom playback sources,
// with a completion function the source calls exactly once.
func NewHandle() (*Handle, func(error)) {
	h := &Handle{cancel: make(chan struct{}), done: make(chan error, 1)}
	return h, func(err error) { h.done <- err }
}

// Player plays mono int16 PCM through oto. Only one playback is active
// process-wide: starting a new one cancels and awaits the previous.
//
// oto allows a single context per process, so the Player is created
// once at a fixed sample rate and all sources are resampled to it.
type Player struct {
	ctx  *oto.Context
	rate int
	log  *logger.Logger

	mu     sync.Mutex
	active *Handle
}

// NewPlayer initializes the system audio context at the given rate.
// Returns ErrDeviceUnavailable if the output device cannot be opened.
func NewPlayer(sampleRate int, log *logger.Logger) (*Player, error) {
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, errors.Join(ErrDeviceUnavailable, err)
	}
	<-ready

	log.Debug("player initialized (rate=%d)", sampleRate)
	return &Player{ctx: ctx, rate: sampleRate, log: log}, nil
}

// SampleRate returns the rate the output context runs at.
func (p *Player) SampleRate() int { return p.rate }

// Play plays to completion (or cancellation of the returned handle by a
// concurrent PlayInterruptible call). Blocking.
func (p *Player) Play(pcm []int16) error {
	return p.PlayInterruptible(pcm).Wait()
}

// PlayInterruptible starts playback asynchronously and returns a
// Handle. If another playback is active it is cancelled and awaited
// first, so at most one is ever audible.
func (p *Player) PlayInterruptible(pcm []int16) *Handle {
	h := &Handle{cancel: make(chan struct{}), done: make(chan error, 1)}

	p.mu.Lock()
	if prev := p.active; prev != nil {
		prev.Cancel()
		p.mu.Unlock()
		<-prev.done
		p.mu.Lock()
	}
	p.active = h
	p.mu.Unlock()

	go p.run(h, pcm)
	return h
}

func (p *Player) run(h *Handle, pcm []int16) {
	defer func() {
		p.mu.Lock()
		if p.active == h {
			p.active = nil
		}
		p.mu.Unlock()
	}()

	player := p.ctx.NewPlayer(bytes.NewReader(encodeLE(pcm)))
	player.Play()
	p.log.Debug("playing %d samples (%.1fs)", len(pcm), float64(len(pcm))/float64(p.rate))

	for player.IsPlaying() {
		select {
		case <-h.cancel:
			player.Pause()
			_ = player.Close()
			p.log.Debug("playback cancelled")
			h.done <- ErrPlaybackCancelled
			return
		case <-time.After(10 * time.Millisecond):
		}
	}

	_ = player.Close()
	select {
	case <-h.cancel:
		// Cancel raced the natural end; report what the caller asked for.
		h.done <- ErrPlaybackCancelled
	default:
		h.done <- nil
	}
}

// encodeLE packs int16 samples into little-endian bytes for oto.
func encodeLE(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// Resampler converts between sample rates with linear interpolation —
// plenty for voice. Each chunk is interpolated on its own; no samples
// carry over from one call to the next.
type Resampler struct {
	ratio float64
	last  float32
}

// NewResampler creates a converter from fromRate to toRate.
func NewResampler(fromRate, toRate int) *Resampler {
	return &Resampler{ratio: float64(toRate) / float64(fromRate)}
}

// Resample converts a chunk of float32 samples.
func (r *Resampler) Resample(input []float32) []float32 {
	if r.ratio == 1.0 || len(input) == 0 {
		return input
	}
	outLen := int(float64(len(input)) * r.ratio)
	out := make([]float32, outLen)
	for i := 0; i < outLen; i++ {
		srcPos := float64(i) / r.ratio
		idx := int(srcPos)
		frac := float32(srcPos - float64(idx))
		s1 := r.last
		if idx < len(input) {
			s1 = input[idx]
		}
		s2 := s1
		if idx+1 < len(input) {
			s2 = input[idx+1]
		}
		out[i] = s1 + (s2-s1)*frac
	}
	r.last = input[len(input)-1]
	return out
}

// ToInt16 converts float32 samples in [-1,1] to int16 PCM, applying a
// gain factor and clipping.
func ToInt16(samples []float32, gain float64) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := float64(s) * gain * 32767.0
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}
