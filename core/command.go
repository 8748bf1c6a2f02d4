// ABOUTME: RunCommand is the tagged union of mutations the run actor accepts.
// ABOUTME: Each command maps deterministically to zero or more Events via commandToEvents.
package core

import (
	"encoding/json"

	"github.com/oklog/ulid/v2"
)

// RunCommand is the sealed set of mutations GraphRuntime may issue against a
// run's single-writer actor.
type RunCommand interface {
	runCommandSeal()
}

// StartRunCommand creates the Run row and emits run_started. GraphHash pins
// the GraphDefinition this run executes against.
type StartRunCommand struct {
	GraphHash      string
	ParentRunID    *ulid.ULID
	ForkFromStepID *ulid.ULID
}

func (StartRunCommand) runCommandSeal() {}

// BeginStepCommand allocates the next per-run Step index and emits step_started.
type BeginStepCommand struct {
	NodeID  string
	Input   json.RawMessage
	IsRerun bool
}

func (BeginStepCommand) runCommandSeal() {}

// CompleteStepCommand transitions a RUNNING step to SUCCESS and emits step_completed.
type CompleteStepCommand struct {
	StepID         ulid.ULID
	Output         json.RawMessage
	RenderedPrompt *string
	Tokens         int64
	CostUsd        float64
	DurationMs     int64
	CacheHit       bool
}

func (CompleteStepCommand) runCommandSeal() {}

// FailStepCommand transitions a RUNNING step to ERROR (or SKIPPED, on
// cancellation / upstream skip) and emits step_failed.
type FailStepCommand struct {
	StepID     ulid.ULID
	ErrorType  ErrorType
	ErrorMsg   string
	Skipped    bool
	DurationMs int64
}

func (FailStepCommand) runCommandSeal() {}

// RecordTokenUpdateCommand emits a token_update event without mutating any Step.
type RecordTokenUpdateCommand struct {
	NodeID  string
	Tokens  int64
	CostUsd float64
}

func (RecordTokenUpdateCommand) runCommandSeal() {}

// RecordErrorCommand emits a non-terminal `error` event for attempt-level visibility.
type RecordErrorCommand struct {
	NodeID    string
	StepID    ulid.ULID
	ErrorType ErrorType
	ErrorMsg  string
	Attempt   int
}

func (RecordErrorCommand) runCommandSeal() {}

// RecordMCPCallCommand emits an mcp_call event produced by tools.MCPInvoker.
type RecordMCPCallCommand struct {
	NodeID      string
	ToolName    string
	ToolVersion string
	Input       json.RawMessage
	Output      json.RawMessage
	Err         string
	DurationMs  int64
}

func (RecordMCPCallCommand) runCommandSeal() {}

// RecordAgentStepCommand emits an agent_step visualization event from
// AgentLoopExecutor's inner ReAct loop.
type RecordAgentStepCommand struct {
	NodeID      string
	Iteration   int
	Thought     string
	ToolName    string
	Observation string
}

func (RecordAgentStepCommand) runCommandSeal() {}

// CompleteRunCommand transitions the Run to COMPLETED and emits run_completed.
type CompleteRunCommand struct {
	Output json.RawMessage
}

func (CompleteRunCommand) runCommandSeal() {}

// FailRunCommand transitions the Run to FAILED and emits run_failed.
type FailRunCommand struct {
	NodeID    string
	ErrorType ErrorType
	ErrorMsg  string
}

func (FailRunCommand) runCommandSeal() {}

// CancelRunCommand transitions the Run to CANCELLED and emits run_cancelled.
// Idempotent: a second CancelRunCommand against an already-terminal Run is a no-op.
type CancelRunCommand struct{}

func (CancelRunCommand) runCommandSeal() {}
