// ABOUTME: RunState is the materialized state of a Run, built by replaying its Events.
// ABOUTME: Apply is a pattern-matching reducer that folds one Event into state, mirroring core's SpecState.
package core

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// RunState is the full in-memory aggregate for one Run, rebuildable by
// replaying its Event log from the Store.
type RunState struct {
	Run       Run
	Steps     []Step
	stepIndex map[ulid.ULID]int // StepID -> index into Steps
	RunMemory map[string]any
	NextSeq   uint64
}

// NewRunState creates the initial aggregate for a freshly started Run.
func NewRunState(runID ulid.ULID, graphHash string, parentRunID, forkFromStepID *ulid.ULID, startedAt time.Time) *RunState {
	return &RunState{
		Run: Run{
			RunID:          runID,
			GraphHash:      graphHash,
			State:          PhaseRunning,
			StartedAt:      startedAt,
			ParentRunID:    parentRunID,
			ForkFromStepID: forkFromStepID,
		},
		stepIndex: make(map[ulid.ULID]int),
		RunMemory: make(map[string]any),
	}
}

// RestoreRunState reconstructs a RunState from its exported fields, rebuilding
// the internal StepID index. Used by store.LoadLatestSnapshot to deserialize
// a snapshot without exposing stepIndex across the package boundary.
func RestoreRunState(run Run, steps []Step, runMemory map[string]any, nextSeq uint64) *RunState {
	s := &RunState{
		Run:       run,
		Steps:     steps,
		stepIndex: make(map[ulid.ULID]int, len(steps)),
		RunMemory: runMemory,
		NextSeq:   nextSeq,
	}
	for i, step := range steps {
		s.stepIndex[step.StepID] = i
	}
	if s.RunMemory == nil {
		s.RunMemory = make(map[string]any)
	}
	return s
}

// StepByID looks up a step by its ID.
func (s *RunState) StepByID(id ulid.ULID) (*Step, bool) {
	i, ok := s.stepIndex[id]
	if !ok {
		return nil, false
	}
	return &s.Steps[i], true
}

// Apply folds one committed event into the aggregate. Seq must be assigned
// by the run's single-writer actor before Apply is called.
func (s *RunState) Apply(ev *Event) {
	s.NextSeq = ev.Seq + 1

	switch p := ev.Payload.(type) {
	case RunStartedPayload:
		s.Run.GraphHash = p.GraphHash
		s.Run.ParentRunID = p.ParentRunID
		s.Run.State = PhaseRunning

	case StepStartedPayload:
		step := Step{
			StepID:    p.StepID,
			RunID:     ev.RunID,
			NodeID:    p.NodeID,
			Index:     p.Index,
			Status:    StepRunning,
			Input:     p.Input,
			StartedAt: ev.Timestamp,
		}
		s.stepIndex[p.StepID] = len(s.Steps)
		s.Steps = append(s.Steps, step)

	case StepCompletedPayload:
		if i, ok := s.stepIndex[p.StepID]; ok {
			step := &s.Steps[i]
			step.Status = StepSuccess
			step.Output = p.Output
			step.Tokens = p.Tokens
			step.CostUsd = p.CostUsd
			step.DurationMs = p.DurationMs
			step.CacheHit = p.CacheHit
			ended := ev.Timestamp
			step.EndedAt = &ended
			s.Run.TotalTokens += p.Tokens
			s.Run.TotalCostUsd += p.CostUsd
		}

	case StepFailedPayload:
		if i, ok := s.stepIndex[p.StepID]; ok {
			step := &s.Steps[i]
			if p.Skipped {
				step.Status = StepSkipped
			} else {
				step.Status = StepError
			}
			errType := p.ErrorType
			errMsg := p.ErrorMsg
			step.ErrorType = &errType
			step.ErrorMsg = &errMsg
			ended := ev.Timestamp
			step.EndedAt = &ended
		}

	case RunCompletedPayload:
		s.Run.State = PhaseCompleted
		s.Run.Output = p.Output
		ended := ev.Timestamp
		s.Run.EndedAt = &ended

	case RunFailedPayload:
		s.Run.State = PhaseFailed
		ended := ev.Timestamp
		s.Run.EndedAt = &ended

	case RunCancelledPayload:
		s.Run.State = PhaseCancelled
		ended := ev.Timestamp
		s.Run.EndedAt = &ended

	case TokenUpdatePayload, ErrorPayload, MCPCallPayload, AgentStepPayload:
		// Observability-only events: no aggregate state to fold.
	}
}
