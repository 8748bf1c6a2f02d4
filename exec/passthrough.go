// ABOUTME: InputExecutor and OutputExecutor are pure pass-throughs at the graph's entry and exit.
package exec

import (
	"context"

	"github.com/2389-research/graphrun/core"
	"github.com/2389-research/graphrun/graph"
)

// InputExecutor returns ctx.GlobalInput as the node's output.
type InputExecutor struct{}

func (InputExecutor) Type() core.NodeType { return core.NodeInput }

func (InputExecutor) Execute(_ context.Context, _ *graph.NodeDefinition, _ graph.Config, nctx *core.NodeContext) (core.NodeResult, error) {
	return core.NodeResult{Output: nctx.GlobalInput}, nil
}

// OutputExecutor returns ctx.PreviousOutput verbatim. GraphRuntime is
// responsible for marking it as the Run's final output on completion.
type OutputExecutor struct{}

func (OutputExecutor) Type() core.NodeType { return core.NodeOutput }

func (OutputExecutor) Execute(_ context.Context, _ *graph.NodeDefinition, _ graph.Config, nctx *core.NodeContext) (core.NodeResult, error) {
	return core.NodeResult{Output: nctx.PreviousOutput}, nil
}
