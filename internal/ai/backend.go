// Package ai routes conversations to a language-model backend, binds
// the current tool set, and runs the tool-call loop until the model
// produces a final answer.
package ai

import (
	"context"
	"errors"

	"github.com/hammamikhairi/voicegate/internal/convo"
	"github.com/hammamikhairi/voicegate/internal/tools"
)

// ErrBackendUnavailable means the selected backend could not serve the
// query. The orchestrator speaks a generic error.
var ErrBackendUnavailable = errors.New("llm backend unavailable")

// Response is one backend turn: either final text or tool calls (a
// backend may return both — text so far plus calls to make).
type Response struct {
	Text      string
	ToolCalls []convo.ToolCall
}

// QueryOptions tune a single backend call.
type QueryOptions struct {
	System string
	// OnToken receives text deltas in streaming mode. Nil means
	// non-streaming.
	OnToken func(token string)
}

// Backend is one language-model provider.
type Backend interface {
	Name() string
	Model() string
	SupportsStreaming() bool
	// NeedsThinkTagHint reports whether the system prompt must forbid
	// <think> tags (reasoning-augmented local models leak them into
	// spoken output).
	NeedsThinkTagHint() bool
	Query(ctx context.Context, messages []convo.Message, toolDefs []*tools.Descriptor, opts QueryOptions) (*Response, error)
	HealthCheck(ctx context.Context) error
}
