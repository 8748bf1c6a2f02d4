// ABOUTME: Carries the emitting node's ID and EmitFunc across the ToolInvoker boundary via context,
// ABOUTME: since ToolInvoker.Invoke's signature (toolName/version/input/timeout) has no room for them.
package exec

import (
	"context"

	"github.com/2389-research/graphrun/core"
)

type emitCtxKey struct{}

type emitCtxValue struct {
	nodeID string
	emit   core.EmitFunc
}

// WithEmit attaches the emitting node's ID and EmitFunc to ctx, so a
// ToolInvoker (e.g. tools.MCPInvoker) can publish its own observability
// events (mcp_call) without NodeContext being part of its interface.
func WithEmit(ctx context.Context, nodeID string, emit core.EmitFunc) context.Context {
	return context.WithValue(ctx, emitCtxKey{}, emitCtxValue{nodeID: nodeID, emit: emit})
}

// EmitFromContext retrieves what WithEmit attached, if anything.
func EmitFromContext(ctx context.Context) (nodeID string, emit core.EmitFunc, ok bool) {
	v, ok := ctx.Value(emitCtxKey{}).(emitCtxValue)
	if !ok || v.emit == nil {
		return "", nil, false
	}
	return v.nodeID, v.emit, true
}
