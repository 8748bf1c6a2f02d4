// ABOUTME: Event is the envelope for all run mutations, wrapping EventPayload variants.
// ABOUTME: Eleven EventPayload variants, each with a "type" discriminator for JSON encoding.
package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event is the immutable, append-only record of one run state change.
type Event struct {
	EventID   ulid.ULID    `json:"event_id"`
	RunID     ulid.ULID    `json:"run_id"`
	Seq       uint64       `json:"seq"`
	Timestamp time.Time    `json:"ts"`
	Payload   EventPayload `json:"-"`
}

type eventJSON struct {
	EventID   ulid.ULID       `json:"event_id"`
	RunID     ulid.ULID       `json:"run_id"`
	Seq       uint64          `json:"seq"`
	Timestamp time.Time       `json:"ts"`
	Payload   json.RawMessage `json:"payload"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	payloadJSON, err := MarshalEventPayload(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	return json.Marshal(eventJSON{
		EventID:   e.EventID,
		RunID:     e.RunID,
		Seq:       e.Seq,
		Timestamp: e.Timestamp,
		Payload:   payloadJSON,
	})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var j eventJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	payload, err := UnmarshalEventPayload(j.Payload)
	if err != nil {
		return fmt.Errorf("unmarshal event payload: %w", err)
	}
	e.EventID = j.EventID
	e.RunID = j.RunID
	e.Seq = j.Seq
	e.Timestamp = j.Timestamp
	e.Payload = payload
	return nil
}

// EventPayload is a tagged union over the step- and run-lifecycle events a
// graph execution can emit.
type EventPayload interface {
	EventPayloadType() string
	eventPayloadSeal()
}

// RunStartedPayload marks the durability point of a new Run: a Run is
// durable once this event is committed.
type RunStartedPayload struct {
	GraphHash   string     `json:"graph_hash"`
	ParentRunID *ulid.ULID `json:"parent_run_id,omitempty"`
}

func (p RunStartedPayload) EventPayloadType() string { return "run_started" }
func (p RunStartedPayload) eventPayloadSeal()        {}

// StepStartedPayload records a Step transitioning PENDING→RUNNING.
type StepStartedPayload struct {
	StepID ulid.ULID       `json:"step_id"`
	NodeID string          `json:"node_id"`
	Index  uint64          `json:"index"`
	Input  json.RawMessage `json:"input,omitempty"`
}

func (p StepStartedPayload) EventPayloadType() string { return "step_started" }
func (p StepStartedPayload) eventPayloadSeal()        {}

// StepCompletedPayload records a Step transitioning RUNNING→SUCCESS.
type StepCompletedPayload struct {
	StepID     ulid.ULID       `json:"step_id"`
	NodeID     string          `json:"node_id"`
	Output     json.RawMessage `json:"output,omitempty"`
	Tokens     int64           `json:"tokens"`
	CostUsd    float64         `json:"cost_usd"`
	DurationMs int64           `json:"duration_ms"`
	CacheHit   bool            `json:"cache_hit,omitempty"`
}

func (p StepCompletedPayload) EventPayloadType() string { return "step_completed" }
func (p StepCompletedPayload) eventPayloadSeal()        {}

// StepFailedPayload records a Step transitioning RUNNING→ERROR or SKIPPED.
type StepFailedPayload struct {
	StepID    ulid.ULID  `json:"step_id"`
	NodeID    string     `json:"node_id"`
	ErrorType ErrorType  `json:"error_type"`
	ErrorMsg  string     `json:"error_msg"`
	Skipped   bool       `json:"skipped,omitempty"`
}

func (p StepFailedPayload) EventPayloadType() string { return "step_failed" }
func (p StepFailedPayload) eventPayloadSeal()        {}

// RunCompletedPayload is one of the three mutually exclusive terminal events.
type RunCompletedPayload struct {
	Output       json.RawMessage `json:"output,omitempty"`
	TotalTokens  int64           `json:"total_tokens"`
	TotalCostUsd float64         `json:"total_cost_usd"`
}

func (p RunCompletedPayload) EventPayloadType() string { return "run_completed" }
func (p RunCompletedPayload) eventPayloadSeal()        {}

// RunFailedPayload is one of the three mutually exclusive terminal events.
type RunFailedPayload struct {
	NodeID    string    `json:"node_id"`
	ErrorType ErrorType `json:"error_type"`
	ErrorMsg  string    `json:"error_msg"`
}

func (p RunFailedPayload) EventPayloadType() string { return "run_failed" }
func (p RunFailedPayload) eventPayloadSeal()        {}

// RunCancelledPayload is one of the three mutually exclusive terminal events.
type RunCancelledPayload struct{}

func (p RunCancelledPayload) EventPayloadType() string { return "run_cancelled" }
func (p RunCancelledPayload) eventPayloadSeal()        {}

// ErrorPayload is a non-terminal observability event, distinct from
// step_failed/run_failed: it surfaces an attempt-level error even when
// retry policy will mask it from the Step's final status.
type ErrorPayload struct {
	NodeID    string    `json:"node_id"`
	StepID    ulid.ULID `json:"step_id"`
	ErrorType ErrorType `json:"error_type"`
	ErrorMsg  string    `json:"error_msg"`
	Attempt   int       `json:"attempt"`
}

func (p ErrorPayload) EventPayloadType() string { return "error" }
func (p ErrorPayload) eventPayloadSeal()        {}

// TokenUpdatePayload streams incremental token/cost accounting, e.g. from
// an LLM invocation that aggregates a streamed response.
type TokenUpdatePayload struct {
	NodeID  string  `json:"node_id"`
	Tokens  int64   `json:"tokens"`
	CostUsd float64 `json:"cost_usd"`
}

func (p TokenUpdatePayload) EventPayloadType() string { return "token_update" }
func (p TokenUpdatePayload) eventPayloadSeal()        {}

// MCPCallPayload records one call through tools.MCPInvoker.
type MCPCallPayload struct {
	NodeID      string          `json:"node_id"`
	ToolName    string          `json:"tool_name"`
	ToolVersion string          `json:"tool_version"`
	Input       json.RawMessage `json:"input,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	Err         string          `json:"error,omitempty"`
	DurationMs  int64           `json:"duration_ms"`
}

func (p MCPCallPayload) EventPayloadType() string { return "mcp_call" }
func (p MCPCallPayload) eventPayloadSeal()        {}

// AgentStepPayload is the per-iteration visualization event emitted by
// AgentLoopExecutor: persisted only as an event, never as a Step.
type AgentStepPayload struct {
	NodeID      string `json:"node_id"`
	Iteration   int    `json:"iteration"`
	Thought     string `json:"thought,omitempty"`
	ToolName    string `json:"tool_name,omitempty"`
	Observation string `json:"observation,omitempty"`
}

func (p AgentStepPayload) EventPayloadType() string { return "agent_step" }
func (p AgentStepPayload) eventPayloadSeal()        {}

// MarshalEventPayload serializes an EventPayload with a "type" discriminator.
func MarshalEventPayload(p EventPayload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("cannot marshal nil event payload")
	}
	return marshalTagged(p.EventPayloadType(), p)
}

// UnmarshalEventPayload deserializes an EventPayload from JSON with a "type" discriminator.
func UnmarshalEventPayload(data []byte) (EventPayload, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("unmarshal event payload type: %w", err)
	}

	switch envelope.Type {
	case "run_started":
		var p RunStartedPayload
		return p, json.Unmarshal(data, &p)
	case "step_started":
		var p StepStartedPayload
		return p, json.Unmarshal(data, &p)
	case "step_completed":
		var p StepCompletedPayload
		return p, json.Unmarshal(data, &p)
	case "step_failed":
		var p StepFailedPayload
		return p, json.Unmarshal(data, &p)
	case "run_completed":
		var p RunCompletedPayload
		return p, json.Unmarshal(data, &p)
	case "run_failed":
		var p RunFailedPayload
		return p, json.Unmarshal(data, &p)
	case "run_cancelled":
		var p RunCancelledPayload
		return p, json.Unmarshal(data, &p)
	case "error":
		var p ErrorPayload
		return p, json.Unmarshal(data, &p)
	case "token_update":
		var p TokenUpdatePayload
		return p, json.Unmarshal(data, &p)
	case "mcp_call":
		var p MCPCallPayload
		return p, json.Unmarshal(data, &p)
	case "agent_step":
		var p AgentStepPayload
		return p, json.Unmarshal(data, &p)
	default:
		return nil, fmt.Errorf("unknown event payload type: %q", envelope.Type)
	}
}

// marshalTagged marshals v as a JSON object with an injected "type" field.
func marshalTagged(typeName string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	typeJSON, _ := json.Marshal(typeName)
	m["type"] = typeJSON
	return json.Marshal(m)
}
