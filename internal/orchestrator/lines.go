// lines.go centralises every fixed spoken string. Keep lines short and
// direct; the TTS engine handles inflection.
package orchestrator

// LineWelcome greets the user after boot.
func LineWelcome() string {
	return "Hello. I'm listening for the wake word."
}

// LineSTTError is spoken when transcription fails.
func LineSTTError() string {
	return "Sorry, I couldn't make that out. Please try again."
}

// LineLLMError is spoken when the language model is unreachable.
func LineLLMError() string {
	return "Sorry, I can't reach my brain right now. Please try again in a moment."
}

// LineEmptyAnswer is spoken when the model returns nothing to say.
func LineEmptyAnswer() string {
	return "I don't have an answer for that."
}
