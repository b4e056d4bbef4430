// Package mcp connects to an external Model Context Protocol server
// over stdio, discovers its tools, and exposes them as registry
// descriptors whose Invoke routes back through the connection.
package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/hammamikhairi/voicegate/internal/logger"
	"github.com/hammamikhairi/voicegate/internal/tools"
)

// ErrUnavailable means the server could not be reached after all retry
// attempts. Non-fatal: the gateway continues with built-in tools.
var ErrUnavailable = errors.New("mcp server unavailable")

const protocolVersion = "2024-11-05"

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int            `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// remoteTool is a tool as listed by the server.
type remoteTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Client is a stdio JSON-RPC client for one MCP server process.
type Client struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	stderr *bytes.Buffer
	log    *logger.Logger

	mu     sync.Mutex
	nextID int
	tools  []remoteTool
}

// connect spawns the server and performs the initialization handshake
// and tool listing.
func connect(command string, args []string, log *logger.Logger) (*Client, error) {
	cmd := exec.Command(command, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("start process: %w", err)
	}

	c := &Client{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
		stderr: &stderr,
		log:    log,
		nextID: 1,
	}

	if err := c.initialize(); err != nil {
		c.Close()
		return nil, withStderr(fmt.Errorf("initialize: %w", err), &stderr)
	}
	if err := c.listTools(); err != nil {
		c.Close()
		return nil, withStderr(fmt.Errorf("list tools: %w", err), &stderr)
	}
	return c, nil
}

// withStderr appends a best-effort stderr snippet to a handshake error.
func withStderr(err error, stderr *bytes.Buffer) error {
	s := stderr.String()
	if s == "" {
		return err
	}
	if len(s) > 512 {
		s = s[len(s)-512:]
	}
	return fmt.Errorf("%w (stderr: %s)", err, s)
}

// Close shuts the server down.
func (c *Client) Close() error {
	c.stdin.Close()
	return c.cmd.Wait()
}

// Stderr returns whatever the server wrote to stderr so far.
func (c *Client) Stderr() string { return c.stderr.String() }

// Tools converts the discovered tools to registry descriptors. Invoke
// routes through tools/call with the normalized args under "input".
func (c *Client) Tools() []*tools.Descriptor {
	out := make([]*tools.Descriptor, 0, len(c.tools))
	for _, rt := range c.tools {
		rt := rt
		out = append(out, &tools.Descriptor{
			Name:        rt.Name,
			Description: rt.Description,
			InputSchema: tools.Schema(rt.InputSchema),
			Invoke: func(ctx context.Context, args map[string]any) (string, error) {
				return c.Call(ctx, rt.Name, args)
			},
		})
	}
	return out
}

// Call invokes a remote tool and returns its text content.
func (c *Client) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	result, err := c.request("tools/call", map[string]any{
		"name":      name,
		"arguments": map[string]any{"input": args},
	})
	if err != nil {
		return "", err
	}

	var callResult struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(result, &callResult); err != nil {
		return "", fmt.Errorf("parse call result: %w", err)
	}

	var b bytes.Buffer
	for _, block := range callResult.Content {
		if block.Type == "text" {
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(block.Text)
		}
	}
	if callResult.IsError {
		return "", errors.New(b.String())
	}
	return b.String(), nil
}

func (c *Client) initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.request("initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "voicegate",
			"version": "1.0",
		},
	})
	if err != nil {
		return err
	}
	return c.send(rpcRequest{JSONRPC: "2.0", Method: "initialized"})
}

func (c *Client) listTools() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	result, err := c.request("tools/list", map[string]any{})
	if err != nil {
		return err
	}
	var listResult struct {
		Tools []remoteTool `json:"tools"`
	}
	if err := json.Unmarshal(result, &listResult); err != nil {
		return fmt.Errorf("parse tools list: %w", err)
	}
	c.tools = listResult.Tools
	return nil
}

// request sends one JSON-RPC request and reads responses until the
// matching ID arrives, skipping server-initiated notifications.
// Caller must hold mu.
func (c *Client) request(method string, params any) (json.RawMessage, error) {
	id := c.nextID
	c.nextID++

	if err := c.send(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		return nil, err
	}

	for {
		line, err := c.stdout.ReadBytes('\n')
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			c.log.Debug("skipping unparseable line from server: %v", err)
			continue
		}
		if resp.ID == nil || *resp.ID != id {
			continue
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("rpc error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	}
}

func (c *Client) send(req rpcRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = c.stdin.Write(data)
	return err
}
