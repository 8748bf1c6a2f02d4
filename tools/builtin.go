// ABOUTME: BuiltinInvoker wraps a github.com/2389-research/mux/tool.Registry so graphs that don't
// ABOUTME: need a real MCP server can still call filesystem/search/fetch/code-exec-stub tools.
package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/2389-research/mux/tool"

	"github.com/2389-research/graphrun/exec"
)

// BuiltinInvoker implements exec.ToolInvoker over an in-process tool.Registry.
// Unlike MCPInvoker it talks to nothing outside the process, so it never
// produces mcp_call events.
type BuiltinInvoker struct {
	registry *tool.Registry
}

// NewBuiltinInvoker builds a registry seeded with the stand-in tools: a
// sandboxed filesystem reader, an HTTP fetcher, a no-op search stub, and a
// code-exec stub that reports its own unavailability rather than shelling
// out.
func NewBuiltinInvoker(fsRoot string) *BuiltinInvoker {
	registry := tool.NewRegistry()
	registry.Register(&ReadFileTool{Root: fsRoot})
	registry.Register(&FetchURLTool{Client: &http.Client{Timeout: 15 * time.Second}})
	registry.Register(&SearchTool{})
	registry.Register(&CodeExecTool{})
	return &BuiltinInvoker{registry: registry}
}

var _ exec.ToolInvoker = (*BuiltinInvoker)(nil)

func (inv *BuiltinInvoker) Invoke(ctx context.Context, toolName, _ string, input any, _ int) (exec.ToolResult, error) {
	t, ok := inv.registry.Get(toolName)
	if !ok {
		return exec.ToolResult{}, fmt.Errorf("builtin tool %q not registered", toolName)
	}

	params, ok := input.(map[string]any)
	if !ok {
		params = map[string]any{}
	}

	result, err := t.Execute(ctx, params)
	if err != nil {
		return exec.ToolResult{}, err
	}
	if result.Success {
		return exec.ToolResult{Result: result.Output}, nil
	}
	return exec.ToolResult{Err: result.Error}, nil
}

// ReadFileTool reads a file rooted at Root, rejecting any path that escapes it.
type ReadFileTool struct {
	Root string
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read a UTF-8 text file relative to the run's sandboxed working directory."
}

func (t *ReadFileTool) RequiresApproval(_ map[string]any) bool { return false }

func (t *ReadFileTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Path relative to the sandbox root."},
		},
		"required": []any{"path"},
	}
}

func (t *ReadFileTool) Execute(_ context.Context, params map[string]any) (*tool.Result, error) {
	rel, _ := params["path"].(string)
	if rel == "" {
		return tool.NewResult(t.Name(), false, "", "missing 'path' parameter"), nil
	}
	full := filepath.Join(t.Root, rel)
	if !strings.HasPrefix(full, filepath.Clean(t.Root)+string(filepath.Separator)) && full != filepath.Clean(t.Root) {
		return tool.NewResult(t.Name(), false, "", "path escapes sandbox root"), nil
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return tool.NewResult(t.Name(), false, "", err.Error()), nil
	}
	return tool.NewResult(t.Name(), true, string(data), ""), nil
}

// FetchURLTool performs a bounded HTTP GET.
type FetchURLTool struct {
	Client *http.Client
}

func (t *FetchURLTool) Name() string { return "fetch_url" }

func (t *FetchURLTool) Description() string {
	return "Fetch a URL over HTTP GET and return the response body, truncated to 64KB."
}

func (t *FetchURLTool) RequiresApproval(_ map[string]any) bool { return true }

func (t *FetchURLTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{"type": "string", "description": "Absolute URL to fetch."},
		},
		"required": []any{"url"},
	}
}

const fetchURLMaxBytes = 64 * 1024

func (t *FetchURLTool) Execute(ctx context.Context, params map[string]any) (*tool.Result, error) {
	url, _ := params["url"].(string)
	if url == "" {
		return tool.NewResult(t.Name(), false, "", "missing 'url' parameter"), nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return tool.NewResult(t.Name(), false, "", err.Error()), nil
	}
	resp, err := t.Client.Do(req)
	if err != nil {
		return tool.NewResult(t.Name(), false, "", err.Error()), nil
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchURLMaxBytes))
	if err != nil {
		return tool.NewResult(t.Name(), false, "", err.Error()), nil
	}
	if resp.StatusCode >= 400 {
		return tool.NewResult(t.Name(), false, "", fmt.Sprintf("status %d", resp.StatusCode)), nil
	}
	return tool.NewResult(t.Name(), true, string(body), ""), nil
}

// SearchTool is a stand-in: no index is wired up, so it reports that
// explicitly rather than fabricating results. A real deployment reaches for
// MCPInvoker and a search-capable MCP server instead.
type SearchTool struct{}

func (t *SearchTool) Name() string { return "search" }

func (t *SearchTool) Description() string {
	return "Stand-in search tool with no backing index; always reports no results."
}

func (t *SearchTool) RequiresApproval(_ map[string]any) bool { return false }

func (t *SearchTool) InputSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"query": map[string]any{"type": "string"}},
		"required":   []any{"query"},
	}
}

func (t *SearchTool) Execute(_ context.Context, _ map[string]any) (*tool.Result, error) {
	return tool.NewResult(t.Name(), true, "no search index configured; 0 results", ""), nil
}

// CodeExecTool is a stub: graphs that need real code execution should
// provision an MCP server for it rather than relying on the built-in
// registry, which never shells out.
type CodeExecTool struct{}

func (t *CodeExecTool) Name() string { return "exec_code" }

func (t *CodeExecTool) Description() string {
	return "Stub: code execution is not available through the built-in tool registry."
}

func (t *CodeExecTool) RequiresApproval(_ map[string]any) bool { return true }

func (t *CodeExecTool) InputSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"code": map[string]any{"type": "string"}},
		"required":   []any{"code"},
	}
}

func (t *CodeExecTool) Execute(_ context.Context, _ map[string]any) (*tool.Result, error) {
	return tool.NewResult(t.Name(), false, "", "code execution requires an MCP server; none configured"), nil
}
