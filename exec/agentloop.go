// ABOUTME: AgentLoopExecutor implements the ReAct inner loop, grounded on agent/loop.go's
// ABOUTME: build-request/call-LLM/extract-tool-calls/execute/loop control flow.
package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/2389-research/graphrun/core"
	"github.com/2389-research/graphrun/graph"
)

// Canonical AgentLoop response grammar (Design Note: "AgentLoop parsing" —
// fix one grammar, reject others as VALIDATION_ERROR):
//
//	FINAL: <free text>                     -- terminates the loop with output=<free text>
//	ACTION: <toolName>
//	INPUT: <json object>                    -- invokes a tool, observation continues the loop
//
// Nothing else parses. Leading/trailing whitespace around the response is
// ignored; the two prefixes are matched case-sensitively at the start of
// the (trimmed) response.
const (
	prefixFinal  = "FINAL:"
	prefixAction = "ACTION:"
	prefixInput  = "INPUT:"
)

type parsedResponse struct {
	isFinal     bool
	finalAnswer string
	toolName    string
	toolInput   map[string]any
}

func parseAgentResponse(text string) (parsedResponse, error) {
	trimmed := strings.TrimSpace(text)

	if strings.HasPrefix(trimmed, prefixFinal) {
		return parsedResponse{isFinal: true, finalAnswer: strings.TrimSpace(strings.TrimPrefix(trimmed, prefixFinal))}, nil
	}

	if strings.HasPrefix(trimmed, prefixAction) {
		lines := strings.SplitN(trimmed, "\n", 2)
		toolName := strings.TrimSpace(strings.TrimPrefix(lines[0], prefixAction))
		if toolName == "" {
			return parsedResponse{}, fmt.Errorf("ACTION line missing tool name")
		}
		if len(lines) < 2 {
			return parsedResponse{}, fmt.Errorf("ACTION block missing INPUT line")
		}
		inputLine := strings.TrimSpace(lines[1])
		if !strings.HasPrefix(inputLine, prefixInput) {
			return parsedResponse{}, fmt.Errorf("ACTION block missing INPUT line")
		}
		inputLine = strings.TrimSpace(strings.TrimPrefix(inputLine, prefixInput))
		input := make(map[string]any)
		if inputLine != "" {
			if err := json.Unmarshal([]byte(inputLine), &input); err != nil {
				return parsedResponse{}, fmt.Errorf("parse INPUT json: %w", err)
			}
		}
		return parsedResponse{toolName: toolName, toolInput: input}, nil
	}

	return parsedResponse{}, fmt.Errorf("response matches neither %q nor %q grammar", prefixFinal, prefixAction)
}

// AgentLoopExecutor drives the ReAct loop: think, act, observe, repeat.
type AgentLoopExecutor struct {
	LLM  LLMInvoker
	Tool ToolInvoker
}

func (AgentLoopExecutor) Type() core.NodeType { return core.NodeAgentLoop }

func (e *AgentLoopExecutor) Execute(ctx context.Context, node *graph.NodeDefinition, cfg graph.Config, nctx *core.NodeContext) (core.NodeResult, error) {
	loopCfg, ok := cfg.(graph.AgentLoopConfig)
	if !ok {
		return core.NodeResult{}, core.NewStepError(core.ErrorValidation, "node %q: expected AgentLoopConfig, got %T", node.ID, cfg)
	}

	var trace []reactStep
	var totalTokens int64
	var totalCost float64
	noProgressStreak := 0

	llmCfg := graph.LLMConfig{
		Provider:    "", // AgentLoopConfig carries no separate provider/model fields;
		Temperature: loopCfg.Temperature,
		MaxTokens:   loopCfg.MaxTokens,
	}

	for iter := 1; iter <= loopCfg.MaxIterations; iter++ {
		if nctx.Cancelled() {
			return core.NodeResult{}, core.NewStepError(core.ErrorSystem, "cancelled")
		}

		prompt := buildAgentPrompt(loopCfg.SystemPrompt, nctx.GlobalInput, trace)

		result, err := e.LLM.Invoke(ctx, llmCfg, prompt)
		if err != nil {
			return core.NodeResult{}, classifyProviderErr(err)
		}
		totalTokens += result.Tokens
		totalCost += result.CostUsd

		parsed, perr := parseAgentResponse(result.Text)
		if perr != nil {
			noProgressStreak++
			if noProgressStreak >= 2 {
				return core.NodeResult{Tokens: totalTokens, CostUsd: totalCost}, core.NewStepError(core.ErrorValidation, "agent loop: %s", perr.Error())
			}
			continue
		}

		if parsed.isFinal {
			emitAgentStep(nctx, node.ID, iter, "final answer produced", "", "")
			return core.NodeResult{Output: parsed.finalAnswer, Tokens: totalTokens, CostUsd: totalCost}, nil
		}

		noProgressStreak = 0

		toolCtx := WithEmit(ctx, node.ID, nctx.Emit)
		toolResult, terr := e.Tool.Invoke(toolCtx, parsed.toolName, "", parsed.toolInput, 0)
		observation := ""
		if terr != nil {
			observation = fmt.Sprintf("error: %s", terr.Error())
		} else if toolResult.Err != "" {
			observation = fmt.Sprintf("error: %s", toolResult.Err)
		} else {
			observation = stringifyObservation(toolResult.Result)
		}

		emitAgentStep(nctx, node.ID, iter, "", parsed.toolName, observation)
		trace = append(trace, reactStep{toolName: parsed.toolName, observation: observation})
	}

	return core.NodeResult{Tokens: totalTokens, CostUsd: totalCost}, core.NewStepError(core.ErrorTimeout, "iteration_budget_exceeded")
}

type reactStep struct {
	toolName    string
	observation string
}

func buildAgentPrompt(systemPrompt string, globalInput any, trace []reactStep) string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\nGoal:\n")
	if m, ok := globalInput.(map[string]any); ok {
		raw, _ := json.Marshal(m)
		b.Write(raw)
	} else if s, ok := globalInput.(string); ok {
		b.WriteString(s)
	}
	for i, step := range trace {
		fmt.Fprintf(&b, "\n\nAction %d: %s\nObservation %d: %s", i+1, step.toolName, i+1, step.observation)
	}
	return b.String()
}

func stringifyObservation(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}

func emitAgentStep(nctx *core.NodeContext, nodeID string, iteration int, thought, toolName, observation string) {
	if nctx.Emit == nil {
		return
	}
	nctx.Emit(core.AgentStepPayload{
		NodeID:      nodeID,
		Iteration:   iteration,
		Thought:     thought,
		ToolName:    toolName,
		Observation: observation,
	})
}
