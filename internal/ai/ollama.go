package ai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/hammamikhairi/voicegate/internal/convo"
	"github.com/hammamikhairi/voicegate/internal/logger"
	"github.com/hammamikhairi/voicegate/internal/tools"
)

// OllamaConfig configures the local backend.
type OllamaConfig struct {
	BaseURL     string
	Model       string
	NumCtx      int
	Temperature float64
	KeepAlive   string // e.g. "5m"
}

// Ollama talks to a local Ollama server with the official client.
type Ollama struct {
	client    *api.Client
	cfg       OllamaConfig
	keepAlive *api.Duration
	log       *logger.Logger
}

// NewOllama creates the backend. The HTTP client uses connection
// pooling tuned for repeated low-latency requests to a local server.
func NewOllama(cfg OllamaConfig, log *logger.Logger) (*Ollama, error) {
	parsed, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid ollama base URL: %w", err)
	}

	httpClient := &http.Client{
		Timeout: 120 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	o := &Ollama{
		client: api.NewClient(parsed, httpClient),
		cfg:    cfg,
		log:    log,
	}
	if cfg.KeepAlive != "" {
		if d, err := time.ParseDuration(cfg.KeepAlive); err == nil {
			o.keepAlive = &api.Duration{Duration: d}
		} else {
			log.Warn("ignoring unparseable ollama.keepAlive %q", cfg.KeepAlive)
		}
	}
	return o, nil
}

func (o *Ollama) Name() string            { return "ollama" }
func (o *Ollama) Model() string           { return o.cfg.Model }
func (o *Ollama) SupportsStreaming() bool { return true }
func (o *Ollama) NeedsThinkTagHint() bool { return true }

// HealthCheck pings the server.
func (o *Ollama) HealthCheck(ctx context.Context) error {
	if err := o.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("%w: cannot reach ollama: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Query sends the conversation. With OnToken set the request streams
// and deltas are forwarded as they arrive; tool calls are collected
// either way.
func (o *Ollama) Query(ctx context.Context, messages []convo.Message, toolDefs []*tools.Descriptor, opts QueryOptions) (*Response, error) {
	req := &api.ChatRequest{
		Model:     o.cfg.Model,
		Messages:  toOllamaMessages(opts.System, messages),
		Tools:     toOllamaTools(toolDefs),
		KeepAlive: o.keepAlive,
		Options: map[string]any{
			"temperature": o.cfg.Temperature,
			"num_ctx":     o.cfg.NumCtx,
		},
	}

	stream := opts.OnToken != nil
	req.Stream = &stream

	var (
		text      strings.Builder
		toolCalls []convo.ToolCall
	)
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		if resp.Message.Content != "" {
			text.WriteString(resp.Message.Content)
			if opts.OnToken != nil {
				opts.OnToken(resp.Message.Content)
			}
		}
		for i, tc := range resp.Message.ToolCalls {
			toolCalls = append(toolCalls, convo.ToolCall{
				ID:   fmt.Sprintf("call_%d_%d", time.Now().UnixNano(), i),
				Name: tc.Function.Name,
				Args: map[string]any(tc.Function.Arguments),
			})
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	return &Response{
		Text:      strings.TrimSpace(text.String()),
		ToolCalls: toolCalls,
	}, nil
}

// toOllamaMessages converts the neutral history. The built system
// prompt replaces any stored system message.
func toOllamaMessages(system string, messages []convo.Message) []api.Message {
	out := make([]api.Message, 0, len(messages)+1)
	out = append(out, api.Message{Role: "system", Content: system})
	for _, m := range messages {
		if m.Role == convo.RoleSystem {
			continue
		}
		msg := api.Message{Role: m.Role, Content: m.Content}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, api.ToolCall{
				Function: api.ToolCallFunction{
					Name:      tc.Name,
					Arguments: api.ToolCallFunctionArguments(tc.Args),
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

// toOllamaTools converts tool descriptors to the wire format.
func toOllamaTools(toolDefs []*tools.Descriptor) []api.Tool {
	out := make([]api.Tool, 0, len(toolDefs))
	for _, t := range toolDefs {
		fn := api.ToolFunction{
			Name:        t.Name,
			Description: t.Description,
		}
		fn.Parameters.Type = "object"
		fn.Parameters.Properties = map[string]api.ToolProperty{}
		if props, ok := t.InputSchema["properties"].(map[string]any); ok {
			for name, raw := range props {
				prop := api.ToolProperty{}
				if m, ok := raw.(map[string]any); ok {
					if ty, ok := m["type"].(string); ok {
						prop.Type = api.PropertyType{ty}
					}
					if desc, ok := m["description"].(string); ok {
						prop.Description = desc
					}
					if enum, ok := m["enum"].([]any); ok {
						prop.Enum = enum
					}
				}
				fn.Parameters.Properties[name] = prop
			}
		}
		switch req := t.InputSchema["required"].(type) {
		case []string:
			fn.Parameters.Required = req
		case []any:
			for _, v := range req {
				if s, ok := v.(string); ok {
					fn.Parameters.Required = append(fn.Parameters.Required, s)
				}
			}
		}
		out = append(out, api.Tool{Type: "function", Function: fn})
	}
	return out
}
