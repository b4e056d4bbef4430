package ai

import (
	"context"

	"github.com/hammamikhairi/voicegate/internal/convo"
	"github.com/hammamikhairi/voicegate/internal/intent"
	"github.com/hammamikhairi/voicegate/internal/logger"
	"github.com/hammamikhairi/voicegate/internal/tools"
)

// maxToolIterations bounds the tool-call loop per interaction.
const maxToolIterations = 5

// notConfiguredMsg is returned when no executor is wired.
const notConfiguredMsg = "Tool execution is not configured on this gateway."

// Health is the router's health-check report.
type Health struct {
	Healthy          bool
	Provider         string
	Model            string
	StreamingEnabled bool
}

// Router sits between the orchestrator and the backend: it builds the
// system prompt, binds tools, and drives the tool-call loop, appending
// the intermediate messages to the conversation in order.
type Router struct {
	backend      Backend
	registry     *tools.Registry
	executor     *tools.Executor // nil when tool execution is not configured
	basePrompt   string
	ttsEnabled   bool
	ttsStreaming bool
	log          *logger.Logger
}

// NewRouter creates a router.
func NewRouter(backend Backend, registry *tools.Registry, executor *tools.Executor,
	basePrompt string, ttsEnabled, ttsStreaming bool, log *logger.Logger) *Router {
	return &Router{
		backend:      backend,
		registry:     registry,
		executor:     executor,
		basePrompt:   basePrompt,
		ttsEnabled:   ttsEnabled,
		ttsStreaming: ttsStreaming,
		log:          log,
	}
}

// IsStreamingEnabled reports whether token streaming is worth doing:
// the backend must stream and TTS must be on and streaming-capable.
func (r *Router) IsStreamingEnabled() bool {
	return r.backend.SupportsStreaming() && r.ttsStreaming && r.ttsEnabled
}

// HealthCheck probes the backend.
func (r *Router) HealthCheck(ctx context.Context) Health {
	h := Health{
		Provider:         r.backend.Name(),
		Model:            r.backend.Model(),
		StreamingEnabled: r.IsStreamingEnabled(),
	}
	if err := r.backend.HealthCheck(ctx); err != nil {
		r.log.Warn("backend health check failed: %v", err)
		return h
	}
	h.Healthy = true
	return h
}

// Query runs one interaction: the conversation (whose last message is
// the user's transcription) is sent with the current tool set; tool
// calls are executed and fed back until the model answers. onToken is
// only used in streaming mode; it receives the text of every backend
// turn, including turns that end in tool calls.
// Intermediate messages are appended to conv in order.
func (r *Router) Query(ctx context.Context, conv *convo.Conversation, hints intent.Hints, onToken func(string)) (string, error) {
	system := BuildSystemPrompt(r.basePrompt, hints, r.backend.NeedsThinkTagHint())
	toolDefs := r.registry.All()

	opts := QueryOptions{System: system}
	if onToken != nil && r.IsStreamingEnabled() {
		opts.OnToken = onToken
	}

	for iter := 0; iter < maxToolIterations; iter++ {
		resp, err := r.backend.Query(ctx, conv.Messages(), toolDefs, opts)
		if err != nil {
			return "", err
		}

		if len(resp.ToolCalls) == 0 {
			return resp.Text, nil
		}

		conv.Append(convo.Message{
			Role:      convo.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			result := r.ExecuteTool(ctx, tc.Name, tc.Args)
			r.log.Debug("tool %s -> %q", tc.Name, result)
			conv.Append(convo.Message{
				Role:       convo.RoleTool,
				Content:    result,
				ToolCallID: tc.ID,
			})
		}
	}

	r.log.Warn("tool loop hit iteration cap (%d), asking for a direct answer", maxToolIterations)
	resp, err := r.backend.Query(ctx, conv.Messages(), nil, opts)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// ExecuteTool delegates to the executor, or reports that tools are not
// configured. Always returns a speakable string.
func (r *Router) ExecuteTool(ctx context.Context, name string, args map[string]any) string {
	if r.executor == nil {
		r.log.Warn("tool %q requested but no executor is configured", name)
		return notConfiguredMsg
	}
	return r.executor.Execute(ctx, name, args)
}
