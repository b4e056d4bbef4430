package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hammamikhairi/voicegate/internal/convo"
	"github.com/hammamikhairi/voicegate/internal/intent"
	"github.com/hammamikhairi/voicegate/internal/logger"
	"github.com/hammamikhairi/voicegate/internal/tools"
)

func testLog() *logger.Logger { return logger.New(logger.LevelOff, nil) }

// scriptedBackend returns canned responses in order.
type scriptedBackend struct {
	responses []*Response
	calls     int
	systems   []string
	streaming bool
	err       error
}

func (b *scriptedBackend) Name() string            { return "scripted" }
func (b *scriptedBackend) Model() string           { return "test-model" }
func (b *scriptedBackend) SupportsStreaming() bool { return b.streaming }
func (b *scriptedBackend) NeedsThinkTagHint() bool { return false }
func (b *scriptedBackend) HealthCheck(context.Context) error {
	return b.err
}

func (b *scriptedBackend) Query(_ context.Context, _ []convo.Message, _ []*tools.Descriptor, opts QueryOptions) (*Response, error) {
	b.systems = append(b.systems, opts.System)
	if b.err != nil {
		return nil, b.err
	}
	if b.calls >= len(b.responses) {
		return &Response{Text: "fallback"}, nil
	}
	resp := b.responses[b.calls]
	b.calls++
	return resp, nil
}

func newTestRouter(backend Backend, reg *tools.Registry) *Router {
	exec := tools.NewExecutor(reg, time.Second, testLog())
	return NewRouter(backend, reg, exec, "", true, false, testLog())
}

func TestQueryToolLoop(t *testing.T) {
	reg := tools.NewRegistry()
	fixed := time.Date(2025, 1, 12, 14, 30, 0, 0, time.Local)
	reg.AddBuiltin(tools.NewDateTimeTool(func() time.Time { return fixed }))

	backend := &scriptedBackend{responses: []*Response{
		{ToolCalls: []convo.ToolCall{{ID: "c1", Name: "get_current_datetime", Args: map[string]any{}}}},
		{Text: "It's 2:30 PM."},
	}}
	router := newTestRouter(backend, reg)

	conv := convo.New(20)
	conv.Append(convo.Message{Role: convo.RoleSystem, Content: "prompt"})
	conv.Append(convo.Message{Role: convo.RoleUser, Content: "hey jarvis, what time is it?"})

	answer, err := router.Query(context.Background(), conv, intent.Hints{IsDateTimeQuery: true}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(strings.ToLower(answer), "2:30") || !strings.Contains(strings.ToUpper(answer), "PM") {
		t.Fatalf("unexpected answer: %q", answer)
	}

	// The loop appended [assistant(tool_call), tool] in order; the
	// final assistant message is the orchestrator's to add.
	msgs := conv.Messages()
	wantRoles := []string{convo.RoleSystem, convo.RoleUser, convo.RoleAssistant, convo.RoleTool}
	if len(msgs) != len(wantRoles) {
		t.Fatalf("expected %d messages, got %d", len(wantRoles), len(msgs))
	}
	for i, role := range wantRoles {
		if msgs[i].Role != role {
			t.Fatalf("message %d: expected %s, got %s", i, role, msgs[i].Role)
		}
	}
	if msgs[2].ToolCalls[0].Name != "get_current_datetime" {
		t.Fatalf("tool call lost: %+v", msgs[2])
	}
	if msgs[3].Content != "2025-01-12 14:30:00" {
		t.Fatalf("tool result wrong: %q", msgs[3].Content)
	}
	if msgs[3].ToolCallID != "c1" {
		t.Fatalf("tool result not linked: %q", msgs[3].ToolCallID)
	}
	if backend.calls != 2 {
		t.Fatalf("expected 2 backend calls, got %d", backend.calls)
	}
}

func TestQueryUnknownToolContinues(t *testing.T) {
	reg := tools.NewRegistry()
	reg.AddBuiltin(tools.NewDateTimeTool(nil))

	backend := &scriptedBackend{responses: []*Response{
		{ToolCalls: []convo.ToolCall{{ID: "c1", Name: "frobnicate", Args: map[string]any{}}}},
		{Text: "Sorry, I can't do that."},
	}}
	router := newTestRouter(backend, reg)

	conv := convo.New(20)
	conv.Append(convo.Message{Role: convo.RoleUser, Content: "frobnicate the flux"})

	answer, err := router.Query(context.Background(), conv, intent.Hints{}, nil)
	if err != nil {
		t.Fatalf("unknown tool must not error the interaction: %v", err)
	}
	if answer == "" {
		t.Fatal("expected an answer")
	}

	var toolMsg *convo.Message
	for i, m := range conv.Messages() {
		if m.Role == convo.RoleTool {
			msgs := conv.Messages()
			toolMsg = &msgs[i]
		}
	}
	if toolMsg == nil {
		t.Fatal("tool result missing")
	}
	if !strings.Contains(toolMsg.Content, "Unknown tool") {
		t.Fatalf("expected unknown-tool result, got %q", toolMsg.Content)
	}
}

func TestQueryBackendError(t *testing.T) {
	backend := &scriptedBackend{err: ErrBackendUnavailable}
	router := newTestRouter(backend, tools.NewRegistry())

	conv := convo.New(20)
	conv.Append(convo.Message{Role: convo.RoleUser, Content: "hello"})

	if _, err := router.Query(context.Background(), conv, intent.Hints{}, nil); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected backend error, got %v", err)
	}
}

func TestExecuteToolWithoutExecutor(t *testing.T) {
	router := NewRouter(&scriptedBackend{}, tools.NewRegistry(), nil, "", false, false, testLog())
	got := router.ExecuteTool(context.Background(), "anything", nil)
	if !strings.Contains(got, "not configured") {
		t.Fatalf("expected not-configured message, got %q", got)
	}
}

func TestIsStreamingEnabled(t *testing.T) {
	tests := []struct {
		name         string
		backend      bool
		ttsEnabled   bool
		ttsStreaming bool
		want         bool
	}{
		{"all on", true, true, true, true},
		{"backend no stream", false, true, true, false},
		{"tts off", true, false, true, false},
		{"tts not streaming", true, true, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRouter(&scriptedBackend{streaming: tt.backend}, tools.NewRegistry(), nil,
				"", tt.ttsEnabled, tt.ttsStreaming, testLog())
			if got := r.IsStreamingEnabled(); got != tt.want {
				t.Fatalf("IsStreamingEnabled() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHealthCheck(t *testing.T) {
	healthy := newTestRouter(&scriptedBackend{}, tools.NewRegistry())
	if h := healthy.HealthCheck(context.Background()); !h.Healthy || h.Provider != "scripted" || h.Model != "test-model" {
		t.Fatalf("unexpected health: %+v", h)
	}

	sick := newTestRouter(&scriptedBackend{err: errors.New("down")}, tools.NewRegistry())
	if h := sick.HealthCheck(context.Background()); h.Healthy {
		t.Fatalf("expected unhealthy, got %+v", h)
	}
}

func TestQuerySystemPromptCarriesHints(t *testing.T) {
	backend := &scriptedBackend{responses: []*Response{{Text: "ok"}}}
	router := newTestRouter(backend, tools.NewRegistry())

	conv := convo.New(20)
	conv.Append(convo.Message{Role: convo.RoleUser, Content: "what time is it"})
	if _, err := router.Query(context.Background(), conv, intent.Hints{IsDateTimeQuery: true}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(backend.systems) == 0 || !strings.Contains(backend.systems[0], "get_current_datetime") {
		t.Fatalf("datetime hint missing from system prompt: %q", backend.systems)
	}
}
