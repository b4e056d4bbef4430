package tools

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/hammamikhairi/voicegate/internal/logger"
)

// ErrToolTimeout marks an invocation that exceeded the deadline.
var ErrToolTimeout = errors.New("tool timed out")

// Executor runs tools with a deadline and translates every failure
// into a short, speakable string. Execute never panics and never
// returns an error — the result is always something the voice can say.
type Executor struct {
	registry *Registry
	timeout  time.Duration
	log      *logger.Logger
}

// NewExecutor creates an executor over the registry.
func NewExecutor(registry *Registry, timeout time.Duration, log *logger.Logger) *Executor {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Executor{registry: registry, timeout: timeout, log: log}
}

// Execute resolves, normalizes, invokes under the deadline, and
// translates the outcome.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any) string {
	tool := e.registry.Find(name)
	if tool == nil {
		e.log.Warn("unknown tool %q requested", name)
		return fmt.Sprintf("Unknown tool %q. Known tools: %s.", name, strings.Join(e.registry.Names(), ", "))
	}

	normalized := NormalizeArgs(tool, args)

	result, err := e.invokeWithDeadline(ctx, tool, normalized)
	if err != nil {
		e.log.Error("tool %s failed: %v", name, err)
		return translateError(name, err)
	}
	return result
}

// invokeWithDeadline runs the tool on its own goroutine so a stuck
// invocation cannot block the interaction past the deadline.
func (e *Executor) invokeWithDeadline(ctx context.Context, tool *Descriptor, args map[string]any) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		text string
		err  error
	}
	ch := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		text, err := tool.Invoke(ctx, args)
		ch <- outcome{text: text, err: err}
	}()

	select {
	case out := <-ch:
		return out.text, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w after %s", ErrToolTimeout, e.timeout)
		}
		return "", ctx.Err()
	}
}

// Patterns stripped from messages before they reach the voice.
var (
	ipPattern    = regexp.MustCompile(`\b\d{1,3}(\.\d{1,3}){3}(:\d+)?\b`)
	errCodeWords = []string{"ETIMEDOUT", "ECONNREFUSED", "ENOTFOUND", "EHOSTUNREACH", "ECONNRESET"}
)

// friendlyToolNames maps tool families to spoken descriptions used in
// timeout messages.
var friendlyToolNames = map[string]string{
	"control_zwave_device": "The device control",
	"list_devices":         "The device list",
}

// translateError converts a technical failure into a short
// conversational message: no codes, no addresses, no stack traces.
func translateError(tool string, err error) string {
	if errors.Is(err, ErrToolTimeout) || errors.Is(err, context.DeadlineExceeded) {
		if friendly, ok := friendlyToolNames[tool]; ok {
			return fmt.Sprintf("%s operation timed out. Please try again later.", friendly)
		}
		return fmt.Sprintf("The %s operation timed out. Please try again later.", spokenName(tool))
	}

	msg := err.Error()
	upper := strings.ToUpper(msg)
	for _, code := range errCodeWords {
		if strings.Contains(upper, code) {
			return fmt.Sprintf("I couldn't reach the service behind %s right now. Please try again in a moment.", spokenName(tool))
		}
	}
	if strings.Contains(strings.ToLower(msg), "invalid") || strings.Contains(strings.ToLower(msg), "validation") {
		return fmt.Sprintf("The request to %s had a parameter problem. Could you rephrase that?", spokenName(tool))
	}

	// A message that already reads like speech passes through; anything
	// technical is replaced wholesale.
	if speakable(msg) {
		return msg
	}
	return fmt.Sprintf("Something went wrong running %s. Please try again.", spokenName(tool))
}

// speakable rejects messages that are too long or carry technical
// artifacts.
func speakable(msg string) bool {
	if len(msg) == 0 || len(msg) >= 300 {
		return false
	}
	if ipPattern.MatchString(msg) {
		return false
	}
	for _, marker := range []string{"goroutine", "panic:", "panicked", ".go:", "stack trace", "0x"} {
		if strings.Contains(msg, marker) {
			return false
		}
	}
	return true
}

// spokenName makes a tool name pronounceable.
func spokenName(tool string) string {
	return strings.ReplaceAll(tool, "_", " ")
}
