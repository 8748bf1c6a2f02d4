// ABOUTME: ToolExecutor resolves toolName against ToolInvoker and enforces timeoutMs.
package exec

import (
	"context"
	"time"

	"github.com/2389-research/graphrun/core"
	"github.com/2389-research/graphrun/graph"
)

// ToolExecutor dispatches to the injected ToolInvoker.
type ToolExecutor struct {
	Invoker ToolInvoker
}

func (e *ToolExecutor) Type() core.NodeType { return core.NodeTool }

func (e *ToolExecutor) Execute(ctx context.Context, node *graph.NodeDefinition, cfg graph.Config, nctx *core.NodeContext) (core.NodeResult, error) {
	toolCfg, ok := cfg.(graph.ToolConfig)
	if !ok {
		return core.NodeResult{}, core.NewStepError(core.ErrorValidation, "node %q: expected ToolConfig, got %T", node.ID, cfg)
	}

	input := mapInput(toolCfg.InputMapping, nctx.PreviousOutput)

	timeout := time.Duration(toolCfg.TimeoutMs) * time.Millisecond
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	callCtx = WithEmit(callCtx, node.ID, nctx.Emit)

	result, err := e.Invoker.Invoke(callCtx, toolCfg.ToolName, toolCfg.ToolVersion, input, toolCfg.TimeoutMs)
	if err != nil {
		if callCtx.Err() != nil {
			return core.NodeResult{}, core.NewStepError(core.ErrorTimeout, "tool %q timed out after %dms", toolCfg.ToolName, toolCfg.TimeoutMs)
		}
		return core.NodeResult{}, core.NewStepError(core.ErrorTool, "%s", err.Error())
	}
	if callCtx.Err() != nil {
		return core.NodeResult{}, core.NewStepError(core.ErrorTimeout, "tool %q timed out after %dms", toolCfg.ToolName, toolCfg.TimeoutMs)
	}
	if result.Err != "" {
		return core.NodeResult{}, core.NewStepError(core.ErrorTool, "%s", result.Err)
	}

	return core.NodeResult{Output: result.Result}, nil
}

// mapInput projects the previous node's output through inputMapping when
// provided, else passes previousOutput through unmodified.
func mapInput(mapping map[string]string, previousOutput any) any {
	if len(mapping) == 0 {
		return previousOutput
	}
	src, ok := previousOutput.(map[string]any)
	if !ok {
		return previousOutput
	}
	out := make(map[string]any, len(mapping))
	for destKey, srcKey := range mapping {
		out[destKey] = src[srcKey]
	}
	return out
}
