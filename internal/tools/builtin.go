package tools

import (
	"context"
	"time"
)

// DateTimeToolName is the built-in clock tool.
const DateTimeToolName = "get_current_datetime"

// NewDateTimeTool returns the clock tool. The model asks for it on any
// "what time is it" style query.
func NewDateTimeTool(now func() time.Time) *Descriptor {
	if now == nil {
		now = time.Now
	}
	return &Descriptor{
		Name:        DateTimeToolName,
		Description: "Returns the current local date and time.",
		InputSchema: Schema{
			"type":       "object",
			"properties": map[string]any{},
		},
		Invoke: func(_ context.Context, _ map[string]any) (string, error) {
			return now().Format("2006-01-02 15:04:05"), nil
		},
	}
}

// NewDeviceFallbackTools returns the device tools registered when no
// MCP server is configured or MCP discovery failed: they keep the tool surface stable for the
// model while reporting that the bridge is offline. When discovery
// succeeds, the MCP-provided tools of the same names shadow these.
func NewDeviceFallbackTools() []*Descriptor {
	offline := func(_ context.Context, _ map[string]any) (string, error) {
		return "The device bridge is offline right now, so I can't manage devices. Please try again later.", nil
	}
	return []*Descriptor{
		{
			Name:        "list_devices",
			Description: "Lists the smart-home devices known to the gateway.",
			InputSchema: Schema{
				"type":       "object",
				"properties": map[string]any{},
			},
			Invoke: offline,
		},
		{
			Name:        "control_zwave_device",
			Description: "Controls a Z-Wave device: turn it on or off, dim, or brighten.",
			InputSchema: Schema{
				"type": "object",
				"properties": map[string]any{
					"device_name": map[string]any{
						"type":        "string",
						"description": "Name of the device to control",
					},
					"command": map[string]any{
						"type":        "string",
						"description": "on, off, dim, or brighten",
					},
				},
				"required": []string{"device_name", "command"},
			},
			Invoke: offline,
		},
	}
}
