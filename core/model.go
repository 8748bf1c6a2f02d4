// ABOUTME: Run/Step/NodeContext data model shared by store, runner, runtime, and exec packages.
// ABOUTME: Phase and StepStatus are closed string enums, modeled as a tagged union.
package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// NodeType discriminates the eight node kinds.
type NodeType string

const (
	NodeInput      NodeType = "INPUT"
	NodeOutput     NodeType = "OUTPUT"
	NodeLLM        NodeType = "LLM"
	NodeTool       NodeType = "TOOL"
	NodePlanning   NodeType = "PLANNING"
	NodeReflection NodeType = "REFLECTION"
	NodeMemory     NodeType = "MEMORY"
	NodeAgentLoop  NodeType = "AGENT_LOOP"
)

// Phase is the Run lifecycle state. Transitions out of a terminal phase
// (COMPLETED, FAILED, CANCELLED) are invariant violations.
type Phase string

const (
	PhaseIdle      Phase = "IDLE"
	PhaseRunning   Phase = "RUNNING"
	PhasePaused    Phase = "PAUSED"
	PhaseCompleted Phase = "COMPLETED"
	PhaseFailed    Phase = "FAILED"
	PhaseCancelled Phase = "CANCELLED"
)

// Terminal reports whether the phase is one of the run's absorbing states.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseFailed, PhaseCancelled:
		return true
	default:
		return false
	}
}

// StepStatus is the lifecycle state of a single Step attempt.
type StepStatus string

const (
	StepPending StepStatus = "PENDING"
	StepRunning StepStatus = "RUNNING"
	StepSuccess StepStatus = "SUCCESS"
	StepError   StepStatus = "ERROR"
	StepSkipped StepStatus = "SKIPPED"
)

// Run is the durable record of one graph execution.
type Run struct {
	RunID          ulid.ULID       `json:"run_id"`
	GraphHash      string          `json:"graph_hash"`
	State          Phase           `json:"state"`
	StartedAt      time.Time       `json:"started_at"`
	EndedAt        *time.Time      `json:"ended_at,omitempty"`
	TotalTokens    int64           `json:"total_tokens"`
	TotalCostUsd   float64         `json:"total_cost_usd"`
	Output         json.RawMessage `json:"output,omitempty"`
	ParentRunID    *ulid.ULID      `json:"parent_run_id,omitempty"`
	ForkFromStepID *ulid.ULID      `json:"fork_from_step_id,omitempty"`
}

// Step is one attempt at executing one node within a Run.
type Step struct {
	StepID         ulid.ULID       `json:"step_id"`
	RunID          ulid.ULID       `json:"run_id"`
	NodeID         string          `json:"node_id"`
	Index          uint64          `json:"index"`
	Status         StepStatus      `json:"status"`
	Input          json.RawMessage `json:"input,omitempty"`
	Output         json.RawMessage `json:"output,omitempty"`
	RenderedPrompt *string         `json:"rendered_prompt,omitempty"`
	Tokens         int64           `json:"tokens"`
	CostUsd        float64         `json:"cost_usd"`
	DurationMs     int64           `json:"duration_ms"`
	ErrorType      *ErrorType      `json:"error_type,omitempty"`
	ErrorMsg       *string         `json:"error_msg,omitempty"`
	IsRerun        bool            `json:"is_rerun"`
	CacheHit       bool            `json:"cache_hit,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	EndedAt        *time.Time      `json:"ended_at,omitempty"`
}

// EmitFunc pushes a payload onto the run's event stream without blocking the
// caller's control flow; emission ordering is assigned by the run actor, not
// by the emitting executor.
type EmitFunc func(EventPayload)

// NodeContext is the transient, per-step context threaded through one
// executor invocation. RunMemory is a shared, mutable map owned by the Run;
// only the Memory executor is permitted to mutate it.
type NodeContext struct {
	RunID           ulid.ULID
	NodeID          string
	PreviousOutput  any
	GlobalInput     any
	RunMemory       map[string]any
	Cancel          context.Context
	Emit            EmitFunc
}

// Cancelled reports whether the context carrying cancellation has been cancelled.
func (c *NodeContext) Cancelled() bool {
	if c.Cancel == nil {
		return false
	}
	select {
	case <-c.Cancel.Done():
		return true
	default:
		return false
	}
}

// NodeResult is the typed return of a NodeExecutor.execute call.
type NodeResult struct {
	Output         any
	RenderedPrompt *string
	Tokens         int64
	CostUsd        float64
	ProviderMeta   map[string]any
}
