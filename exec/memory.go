// ABOUTME: MemoryExecutor reads/writes named slots in ctx.RunMemory.
// ABOUTME: The sole executor contractually permitted to mutate RunMemory; output passes previousOutput through.
package exec

import (
	"context"
	"strings"

	"github.com/2389-research/graphrun/core"
	"github.com/2389-research/graphrun/graph"
)

// MemoryExecutor is pure with respect to graph topology (output equals
// previousOutput) but mutates nctx.RunMemory as a side effect.
type MemoryExecutor struct{}

func (MemoryExecutor) Type() core.NodeType { return core.NodeMemory }

func (MemoryExecutor) Execute(_ context.Context, node *graph.NodeDefinition, cfg graph.Config, nctx *core.NodeContext) (core.NodeResult, error) {
	memCfg, ok := cfg.(graph.MemoryConfig)
	if !ok {
		return core.NodeResult{}, core.NewStepError(core.ErrorValidation, "node %q: expected MemoryConfig, got %T", node.ID, cfg)
	}

	for slot, source := range memCfg.Writes {
		nctx.RunMemory[slot] = resolveSource(source, nctx.PreviousOutput, nctx.RunMemory)
	}

	return core.NodeResult{Output: nctx.PreviousOutput}, nil
}

// resolveSource evaluates a write-source expression: "output.text" for a
// string previousOutput, "output.<field>" for a map field, "memory.<slot>"
// to copy an existing slot, or any other literal string taken verbatim.
func resolveSource(source string, previousOutput any, runMemory map[string]any) any {
	switch {
	case source == "output.text":
		if s, ok := previousOutput.(string); ok {
			return s
		}
		return nil
	case strings.HasPrefix(source, "output."):
		if m, ok := previousOutput.(map[string]any); ok {
			return m[strings.TrimPrefix(source, "output.")]
		}
		return nil
	case strings.HasPrefix(source, "memory."):
		return runMemory[strings.TrimPrefix(source, "memory.")]
	default:
		return source
	}
}
