package audio

// Utterance is one finished recording handed to the orchestrator: the
// buffered samples (pre-roll included), when recording started, and
// whether the VAD ever heard speech. The audio slice is a snapshot —
// later capture does not alter it.
type Utterance struct {
	Audio       []float32
	StartedAtMs int64
	HasSpoken   bool
}
