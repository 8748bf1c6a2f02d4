// ABOUTME: LLMExecutor implements one identical mechanism for LLM, Planning, and Reflection nodes.
// ABOUTME: They differ only by NodeType (role in the graph) and prompt, not by execution path.
package exec

import (
	"context"

	"github.com/2389-research/graphrun/core"
	"github.com/2389-research/graphrun/graph"
	"github.com/2389-research/graphrun/llm"
	"github.com/2389-research/graphrun/template"
)

// LLMExecutor renders promptTemplate and invokes the injected LLMInvoker.
// Role distinguishes the three NodeType registrations that all share this
// executor: Planning/Reflection differ from LLM only by role in the graph
// and prompt, not by mechanism.
type LLMExecutor struct {
	Invoker LLMInvoker
	Role    core.NodeType
}

func (e *LLMExecutor) Type() core.NodeType { return e.Role }

func (e *LLMExecutor) Execute(ctx context.Context, node *graph.NodeDefinition, cfg graph.Config, nctx *core.NodeContext) (core.NodeResult, error) {
	llmCfg, ok := cfg.(graph.LLMConfig)
	if !ok {
		return core.NodeResult{}, core.NewStepError(core.ErrorValidation, "node %q: expected LLMConfig, got %T", node.ID, cfg)
	}

	globalInput, _ := nctx.GlobalInput.(map[string]any)
	rendered := template.Render(llmCfg.PromptTemplate, globalInput, nctx.PreviousOutput, nctx.RunMemory)

	tracedCtx := llm.WithRunContext(ctx, nctx.RunID.String(), node.ID)
	result, err := e.Invoker.Invoke(tracedCtx, llmCfg, rendered)
	if err != nil {
		return core.NodeResult{}, classifyProviderErr(err)
	}

	return core.NodeResult{
		Output:         result.Text,
		RenderedPrompt: &rendered,
		Tokens:         result.Tokens,
		CostUsd:        result.CostUsd,
		ProviderMeta:   result.ProviderMeta,
	}, nil
}

// classifyProviderErr maps an unclassified LLMInvoker error to PROVIDER_ERROR,
// preserving an already-typed core.StepError (e.g. a context-deadline
// classification performed by the provider adapter itself).
func classifyProviderErr(err error) error {
	if se := core.AsStepError(err); se.Type != core.ErrorSystem {
		return se
	}
	return core.NewStepError(core.ErrorProvider, "%s", err.Error())
}
