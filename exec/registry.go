// ABOUTME: NodeExecutor contract and ExecutorRegistry, generalized from attractor's NodeHandler/HandlerRegistry.
// ABOUTME: Dispatch key is core.NodeType (a string discriminant) instead of a Graphviz shape.
package exec

import (
	"context"

	"github.com/2389-research/graphrun/core"
	"github.com/2389-research/graphrun/graph"
)

// NodeExecutor is the per-type execution contract. Executors are pure
// over (node, ctx) except MemoryExecutor, which is permitted to mutate
// ctx.RunMemory by contract.
type NodeExecutor interface {
	Type() core.NodeType
	Execute(ctx context.Context, node *graph.NodeDefinition, cfg graph.Config, nctx *core.NodeContext) (core.NodeResult, error)
}

// Registry maps core.NodeType to a NodeExecutor. register replaces any
// existing registration for the type.
type Registry struct {
	executors map[core.NodeType]NodeExecutor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[core.NodeType]NodeExecutor)}
}

// Register adds or replaces the executor for its Type().
func (r *Registry) Register(e NodeExecutor) {
	r.executors[e.Type()] = e
}

// Lookup returns the executor for typ, or a VALIDATION_ERROR StepError when
// the type has no registered executor.
func (r *Registry) Lookup(typ core.NodeType) (NodeExecutor, error) {
	e, ok := r.executors[typ]
	if !ok {
		return nil, core.NewStepError(core.ErrorValidation, "no executor registered for node type %q", typ)
	}
	return e, nil
}

// DefaultRegistry builds a Registry with an executor registered for each of
// the eight built-in node types, wired to the given provider and tool invokers.
func DefaultRegistry(llm LLMInvoker, tool ToolInvoker) *Registry {
	r := NewRegistry()
	r.Register(&InputExecutor{})
	r.Register(&OutputExecutor{})
	r.Register(&LLMExecutor{Invoker: llm, Role: core.NodeLLM})
	r.Register(&LLMExecutor{Invoker: llm, Role: core.NodePlanning})
	r.Register(&LLMExecutor{Invoker: llm, Role: core.NodeReflection})
	r.Register(&ToolExecutor{Invoker: tool})
	r.Register(&MemoryExecutor{})
	r.Register(&AgentLoopExecutor{LLM: llm, Tool: tool})
	return r
}

// LLMInvoker is the narrow capability injected for model completion calls.
// May stream internally; aggregation happens before Invoke returns.
type LLMInvoker interface {
	Invoke(ctx context.Context, cfg graph.LLMConfig, prompt string) (LLMResult, error)
}

// LLMResult is the return shape of LLMInvoker.Invoke.
type LLMResult struct {
	Text         string
	Tokens       int64
	CostUsd      float64
	ProviderMeta map[string]any
}

// ToolInvoker is the narrow capability injected for tool calls.
type ToolInvoker interface {
	Invoke(ctx context.Context, toolName, version string, input any, timeoutMs int) (ToolResult, error)
}

// ToolResult is the return shape of ToolInvoker.Invoke.
type ToolResult struct {
	Result any
	Err    string
}
