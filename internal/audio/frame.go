// Package audio provides microphone capture, speaker playback, feedback
// beeps, and the small buffers the recording pipeline is built on. All
// audio is 16 kHz mono signed 16-bit PCM unless stated otherwise.
package audio

// FrameSamples is the fixed frame size: 1280 samples = 80 ms @ 16 kHz.
const FrameSamples = 1280

// Frame is one fixed-size block of captured samples. Frames are treated
// as immutable once delivered.
type Frame []int16

// Float32 converts the frame to float32 samples in [-1, 1].
func (f Frame) Float32() []float32 {
	out := make([]float32, len(f))
	for i, s := range f {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// PreRollRing keeps the most recent frames so the start of an utterance
// spoken together with the wake word is not clipped. It is written by
// the microphone manager only; consumers take copies via Snapshot.
type PreRollRing struct {
	frames [][]float32
	next   int
	filled int
}

// NewPreRollRing creates a ring covering preRollMs of audio.
func NewPreRollRing(preRollMs, sampleRate int) *PreRollRing {
	n := MsToSamples(preRollMs, sampleRate) / FrameSamples
	if n < 1 {
		n = 1
	}
	return &PreRollRing{frames: make([][]float32, n)}
}

// Push records a frame, overwriting the oldest once the ring is full.
// The frame is converted and copied; the caller may reuse its buffer.
func (r *PreRollRing) Push(f Frame) {
	r.frames[r.next] = f.Float32()
	r.next = (r.next + 1) % len(r.frames)
	if r.filled < len(r.frames) {
		r.filled++
	}
}

// Snapshot returns a copy of the buffered audio in capture order.
// Mutating the ring afterwards does not affect the returned slice.
func (r *PreRollRing) Snapshot() []float32 {
	out := make([]float32, 0, r.filled*FrameSamples)
	start := r.next - r.filled
	if start < 0 {
		start += len(r.frames)
	}
	for i := 0; i < r.filled; i++ {
		out = append(out, r.frames[(start+i)%len(r.frames)]...)
	}
	return out
}

// RecordingBuffer accumulates the samples of the current utterance.
// It is mutated only by the microphone manager while recording.
type RecordingBuffer struct {
	samples   []float32
	startedAt int64 // unix millis, set by Reset
}

// Reset clears the buffer and stamps the recording start.
func (b *RecordingBuffer) Reset(nowMs int64) {
	b.samples = b.samples[:0]
	b.startedAt = nowMs
}

// Seed copies pre-roll audio into the empty buffer.
func (b *RecordingBuffer) Seed(preRoll []float32) {
	b.samples = append(b.samples, preRoll...)
}

// Append adds one frame's worth of samples.
func (b *RecordingBuffer) Append(samples []float32) {
	b.samples = append(b.samples, samples...)
}

// Len returns the number of buffered samples.
func (b *RecordingBuffer) Len() int { return len(b.samples) }

// StartedAt returns the recording start in unix milliseconds.
func (b *RecordingBuffer) StartedAt() int64 { return b.startedAt }

// Snapshot returns a copy of the buffered samples.
func (b *RecordingBuffer) Snapshot() []float32 {
	out := make([]float32, len(b.samples))
	copy(out, b.samples)
	return out
}

// MsToSamples converts a duration in milliseconds to a sample count.
func MsToSamples(ms, sampleRate int) int {
	return ms * sampleRate / 1000
}
