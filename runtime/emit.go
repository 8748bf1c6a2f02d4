// ABOUTME: emitAdapter turns a NodeContext's EmitFunc into RunCommands against the run's actor.
// ABOUTME: Executors only know EventPayload; the actor only accepts RunCommand, so this bridges the two.
package runtime

import (
	"log"

	"github.com/oklog/ulid/v2"

	"github.com/2389-research/graphrun/core"
)

// emitAdapter builds the core.EmitFunc passed into one node's NodeContext.
// stepID identifies the currently-running Step, needed for ErrorPayload's
// StepID field (the only observability payload tied to a specific attempt).
func emitAdapter(handle *core.RunActorHandle, nodeID string, stepID ulid.ULID) core.EmitFunc {
	return func(p core.EventPayload) {
		var cmd core.RunCommand
		switch ev := p.(type) {
		case core.TokenUpdatePayload:
			cmd = core.RecordTokenUpdateCommand{NodeID: nodeID, Tokens: ev.Tokens, CostUsd: ev.CostUsd}
		case core.ErrorPayload:
			cmd = core.RecordErrorCommand{NodeID: nodeID, StepID: stepID, ErrorType: ev.ErrorType, ErrorMsg: ev.ErrorMsg, Attempt: ev.Attempt}
		case core.MCPCallPayload:
			cmd = core.RecordMCPCallCommand{
				NodeID: nodeID, ToolName: ev.ToolName, ToolVersion: ev.ToolVersion,
				Input: ev.Input, Output: ev.Output, Err: ev.Err, DurationMs: ev.DurationMs,
			}
		case core.AgentStepPayload:
			cmd = core.RecordAgentStepCommand{
				NodeID: nodeID, Iteration: ev.Iteration, Thought: ev.Thought,
				ToolName: ev.ToolName, Observation: ev.Observation,
			}
		default:
			log.Printf("component=runtime action=emit_unknown_payload node_id=%s type=%T", nodeID, p)
			return
		}
		if _, err := handle.SendCommand(cmd); err != nil {
			log.Printf("component=runtime action=emit_command_failed node_id=%s err=%v", nodeID, err)
		}
	}
}
