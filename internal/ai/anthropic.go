package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hammamikhairi/voicegate/internal/convo"
	"github.com/hammamikhairi/voicegate/internal/logger"
	"github.com/hammamikhairi/voicegate/internal/tools"
)

const anthropicURL = "https://api.anthropic.com/v1/messages"
const anthropicVersion = "2023-06-01"

// AnthropicConfig configures the remote backend.
type AnthropicConfig struct {
	APIKey string
	Model  string
}

// Anthropic talks to the Messages API. Tool use rides in content
// blocks; streaming is not used for this backend.
type Anthropic struct {
	cfg  AnthropicConfig
	http *http.Client
	log  *logger.Logger
}

// NewAnthropic creates the backend.
func NewAnthropic(cfg AnthropicConfig, log *logger.Logger) *Anthropic {
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-haiku-latest"
	}
	return &Anthropic{
		cfg:  cfg,
		http: &http.Client{Timeout: 60 * time.Second},
		log:  log,
	}
}

func (a *Anthropic) Name() string            { return "anthropic" }
func (a *Anthropic) Model() string           { return a.cfg.Model }
func (a *Anthropic) SupportsStreaming() bool { return false }
func (a *Anthropic) NeedsThinkTagHint() bool { return false }

// ── Wire types ───────────────────────────────────────────────────

type anthropicContent struct {
	Type string `json:"type"`

	// type=text
	Text string `json:"text,omitempty"`

	// type=tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// type=tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicTool struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	InputSchema tools.Schema `json:"input_schema"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicResponse struct {
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
}

// HealthCheck verifies the API key is present. A tiny request would
// cost tokens, so this only checks configuration.
func (a *Anthropic) HealthCheck(_ context.Context) error {
	if a.cfg.APIKey == "" {
		return fmt.Errorf("%w: anthropic.apiKey not set", ErrBackendUnavailable)
	}
	return nil
}

// Query sends the conversation with tool definitions and returns text
// and any tool-use requests.
func (a *Anthropic) Query(ctx context.Context, messages []convo.Message, toolDefs []*tools.Descriptor, opts QueryOptions) (*Response, error) {
	payload := anthropicRequest{
		Model:     a.cfg.Model,
		MaxTokens: 1024,
		System:    opts.System,
		Messages:  toAnthropicMessages(messages),
	}
	for _, t := range toolDefs {
		payload.Tools = append(payload.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errBody any
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return nil, fmt.Errorf("%w: status %d: %v", ErrBackendUnavailable, resp.StatusCode, errBody)
	}

	var result anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out := &Response{}
	for _, block := range result.Content {
		switch block.Type {
		case "text":
			if out.Text != "" {
				out.Text += " "
			}
			out.Text += block.Text
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, convo.ToolCall{
				ID:   block.ID,
				Name: block.Name,
				Args: block.Input,
			})
		}
	}
	return out, nil
}

// toAnthropicMessages converts the neutral history. Tool results
// become user-role tool_result blocks, as the Messages API requires.
func toAnthropicMessages(messages []convo.Message) []anthropicMessage {
	out := make([]anthropicMessage, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case convo.RoleSystem:
			// Carried in the request's system field instead.
		case convo.RoleTool:
			out = append(out, anthropicMessage{
				Role: "user",
				Content: []anthropicContent{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.Content,
				}},
			})
		case convo.RoleAssistant:
			blocks := []anthropicContent{}
			if m.Content != "" {
				blocks = append(blocks, anthropicContent{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				args := tc.Args
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropicContent{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: args,
				})
			}
			if len(blocks) > 0 {
				out = append(out, anthropicMessage{Role: "assistant", Content: blocks})
			}
		default:
			out = append(out, anthropicMessage{
				Role:    "user",
				Content: []anthropicContent{{Type: "text", Text: m.Content}},
			})
		}
	}
	return out
}
