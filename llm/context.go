// ABOUTME: Carries run/node identity through context.Context so outgoing provider
// ABOUTME: requests can be traced back to the graph execution that produced them.
package llm

import "context"

type runContextKey struct{}

// runContext is attached to a request's context by exec.LLMExecutor before
// calling Invoke, identifying which run and node issued the call.
type runContext struct {
	RunID  string
	NodeID string
}

// WithRunContext annotates ctx with the run and node that are about to issue
// an LLM call. BaseAdapter.DoRequest reads this back to attach tracing
// headers to the outgoing HTTP request.
func WithRunContext(ctx context.Context, runID, nodeID string) context.Context {
	return context.WithValue(ctx, runContextKey{}, runContext{RunID: runID, NodeID: nodeID})
}

// runContextFrom extracts the run context previously set by WithRunContext,
// returning the zero value and false if none is present.
func runContextFrom(ctx context.Context) (runContext, bool) {
	rc, ok := ctx.Value(runContextKey{}).(runContext)
	return rc, ok
}
