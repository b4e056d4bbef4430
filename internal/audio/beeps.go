package audio

import "math"

// BeepKind selects a feedback tone.
type BeepKind int

const (
	// BeepWake acknowledges a wake-word trigger.
	BeepWake BeepKind = iota
	// BeepProcessing signals the utterance is being handled.
	BeepProcessing
	// BeepResponse precedes a spoken answer.
	BeepResponse
	// BeepReady signals the gateway finished booting.
	BeepReady
	// BeepError signals a failed interaction.
	BeepError
)

// beepSpecs pairs a tone frequency with a duration.
var beepSpecs = map[BeepKind]struct {
	freqHz float64
	ms     int
}{
	BeepWake:       {880, 120},
	BeepProcessing: {660, 90},
	BeepResponse:   {990, 90},
	BeepReady:      {1320, 150},
	BeepError:      {330, 250},
}

// Beep renders the tone for the given kind as int16 PCM at the given
// rate and volume. A short linear ramp at both ends avoids clicks.
func Beep(kind BeepKind, sampleRate int, volume float64) []int16 {
	tone := beepSpecs[kind]
	n := MsToSamples(tone.ms, sampleRate)
	ramp := MsToSamples(8, sampleRate)
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		v := math.Sin(2 * math.Pi * tone.freqHz * float64(i) / float64(sampleRate))
		env := 1.0
		if i < ramp {
			env = float64(i) / float64(ramp)
		} else if n-i < ramp {
			env = float64(n-i) / float64(ramp)
		}
		out[i] = int16(v * env * volume * 32767.0)
	}
	return out
}
