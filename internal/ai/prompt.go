package ai

import (
	"strings"

	"github.com/hammamikhairi/voicegate/internal/intent"
)

// DefaultSystemPrompt is used when ai.systemPrompt is not configured.
const DefaultSystemPrompt = "You are a helpful home-automation voice assistant. " +
	"Your answers are spoken aloud, so keep them short and conversational: " +
	"plain text only, no markdown, no lists, no code. Use the available tools " +
	"when a question needs live data or device access."

const noThinkLine = "Do NOT use <think> tags."

const deviceHint = "The user is asking about smart-home devices. " +
	"Use list_devices to enumerate what is available and " +
	"control_zwave_device to turn devices on or off, dim, or brighten them. " +
	"Confirm what you did in one short sentence."

const dateTimeHint = "The user is asking about the date or time. " +
	"Call get_current_datetime to read the clock instead of guessing, " +
	"then answer in natural spoken form."

// BuildSystemPrompt assembles the base prompt plus intent hints. Hints
// are always separate paragraphs after the base prompt.
func BuildSystemPrompt(base string, hints intent.Hints, needsThinkHint bool) string {
	if strings.TrimSpace(base) == "" {
		base = DefaultSystemPrompt
	}
	parts := []string{base}
	if needsThinkHint {
		parts = append(parts, noThinkLine)
	}
	if hints.IsDeviceQuery || hints.IsDeviceControlQuery {
		parts = append(parts, deviceHint)
	}
	if hints.IsDateTimeQuery {
		parts = append(parts, dateTimeHint)
	}
	return strings.Join(parts, "\n\n")
}
