// ABOUTME: MCPInvoker resolves toolName against connected MCP servers over the
// ABOUTME: modelcontextprotocol/go-sdk client, emitting an mcp_call event for every call.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/2389-research/graphrun/core"
	"github.com/2389-research/graphrun/exec"
)

// MCPInvoker implements exec.ToolInvoker by dispatching to one or more
// connected MCP server sessions. A tool is bound to the server that serves
// it via BindTool; toolVersion is recorded on the emitted mcp_call event
// only: it is not sent to the server and does not affect routing (MCP has
// no first-class tool versioning).
type MCPInvoker struct {
	client *mcp.Client

	mu         sync.RWMutex
	sessions   map[string]*mcp.ClientSession
	toolServer map[string]string
}

// NewMCPInvoker builds an invoker identifying itself to servers as impl.
func NewMCPInvoker(impl *mcp.Implementation) *MCPInvoker {
	if impl == nil {
		impl = &mcp.Implementation{Name: "graphrun", Version: "0.1.0"}
	}
	return &MCPInvoker{
		client:     mcp.NewClient(impl, nil),
		sessions:   make(map[string]*mcp.ClientSession),
		toolServer: make(map[string]string),
	}
}

// Connect dials serverName over transport and keeps the session open for
// subsequent Invoke calls.
func (inv *MCPInvoker) Connect(ctx context.Context, serverName string, transport mcp.Transport) error {
	session, err := inv.client.Connect(ctx, transport)
	if err != nil {
		return fmt.Errorf("mcp connect %q: %w", serverName, err)
	}
	inv.mu.Lock()
	inv.sessions[serverName] = session
	inv.mu.Unlock()
	return nil
}

// BindTool records that toolName is served by serverName, which must already
// be Connect-ed.
func (inv *MCPInvoker) BindTool(toolName, serverName string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.toolServer[toolName] = serverName
}

// Close shuts down every connected session.
func (inv *MCPInvoker) Close() error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	var firstErr error
	for name, session := range inv.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing session %q: %w", name, err)
		}
	}
	return firstErr
}

var _ exec.ToolInvoker = (*MCPInvoker)(nil)

func (inv *MCPInvoker) Invoke(ctx context.Context, toolName, toolVersion string, input any, timeoutMs int) (exec.ToolResult, error) {
	started := time.Now()
	nodeID, emit, hasEmit := exec.EmitFromContext(ctx)

	result, callErr := inv.call(ctx, toolName, input)
	duration := time.Since(started).Milliseconds()

	if hasEmit {
		emit(inv.buildCallEvent(nodeID, toolName, toolVersion, input, result, callErr, duration))
	}

	if callErr != nil {
		return exec.ToolResult{}, callErr
	}
	if result.Err != "" {
		return exec.ToolResult{Err: result.Err}, nil
	}
	return result, nil
}

func (inv *MCPInvoker) call(ctx context.Context, toolName string, input any) (exec.ToolResult, error) {
	inv.mu.RLock()
	serverName, bound := inv.toolServer[toolName]
	var session *mcp.ClientSession
	if bound {
		session = inv.sessions[serverName]
	}
	inv.mu.RUnlock()

	if !bound || session == nil {
		return exec.ToolResult{}, fmt.Errorf("mcp tool %q: no server bound", toolName)
	}

	args, ok := input.(map[string]any)
	if !ok {
		args = map[string]any{}
	}

	resp, err := session.CallTool(ctx, &mcp.CallToolParams{Name: toolName, Arguments: args})
	if err != nil {
		return exec.ToolResult{}, fmt.Errorf("mcp call %q: %w", toolName, err)
	}
	if resp.IsError {
		return exec.ToolResult{Err: mcpContentText(resp.Content)}, nil
	}
	return exec.ToolResult{Result: mcpContentText(resp.Content)}, nil
}

func mcpContentText(content []mcp.Content) string {
	out := ""
	for _, c := range content {
		if tc, ok := c.(*mcp.TextContent); ok {
			out += tc.Text
		}
	}
	return out
}

func (inv *MCPInvoker) buildCallEvent(nodeID, toolName, toolVersion string, input any, result exec.ToolResult, callErr error, durationMs int64) core.MCPCallPayload {
	payload := core.MCPCallPayload{
		NodeID:      nodeID,
		ToolName:    toolName,
		ToolVersion: toolVersion,
		DurationMs:  durationMs,
	}
	if raw, err := json.Marshal(input); err == nil {
		payload.Input = raw
	}
	switch {
	case callErr != nil:
		payload.Err = callErr.Error()
	case result.Err != "":
		payload.Err = result.Err
	default:
		if raw, err := json.Marshal(result.Result); err == nil {
			payload.Output = raw
		}
	}
	return payload
}
