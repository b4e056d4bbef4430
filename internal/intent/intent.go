// Package intent classifies transcriptions into hint flags the AI
// router folds into the system prompt. Classification is a pure
// function over fixed pattern sets; it never fails.
package intent

import (
	"regexp"
	"strings"
)

// Hints are the derived flags. Several may be true at once.
type Hints struct {
	IsDateTimeQuery      bool
	IsDeviceQuery        bool
	IsDeviceControlQuery bool
}

// Patterns are matched case-insensitively against the whole input.
var (
	dateTimePatterns = []*regexp.Regexp{
		regexp.MustCompile(`what time is it`),
		regexp.MustCompile(`what (date|day) is it`),
		regexp.MustCompile(`what day of the week`),
		regexp.MustCompile(`which day`),
		regexp.MustCompile(`what'?s today`),
		regexp.MustCompile(`todays? date`),
		regexp.MustCompile(`today'?s day`),
		regexp.MustCompile(`what'?s the (date|time|day)`),
		regexp.MustCompile(`tell me the (date|time|day)`),
		regexp.MustCompile(`current (time|date)`),
	}

	devicePatterns = []*regexp.Regexp{
		regexp.MustCompile(`list devices`),
		regexp.MustCompile(`show lights`),
		regexp.MustCompile(`what do i have`),
		regexp.MustCompile(`^\s*devices\s*$`),
	}

	deviceControlPatterns = []*regexp.Regexp{
		regexp.MustCompile(`turn (on|off)\b`),
		regexp.MustCompile(`\bdim\b`),
		regexp.MustCompile(`\bbrighten\b`),
		regexp.MustCompile(`\bset\b.*\bto\b.*\d`),
	}
)

// Classify derives hint flags from a transcription. Empty or
// whitespace-only input yields all false.
func Classify(text string) Hints {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return Hints{}
	}
	return Hints{
		IsDateTimeQuery:      matchAny(dateTimePatterns, lower),
		IsDeviceQuery:        matchAny(devicePatterns, lower),
		IsDeviceControlQuery: matchAny(deviceControlPatterns, lower),
	}
}

func matchAny(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}
