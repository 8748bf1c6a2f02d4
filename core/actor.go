// ABOUTME: RunActor is a goroutine-owned single-writer for one Run's state.
// ABOUTME: Generalizes spec/core's SpecActor from spec commands/events to run commands/events.
package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventSink receives committed events for fan-out to subscribers. bus.EventBus
// implements this; RunActor depends only on the interface so core stays free
// of the bus package.
type EventSink interface {
	Publish(Event)
}

// Persist durably records newly-minted events (and, transitively, the Step/Run
// rows they describe) before they are applied to in-memory state or
// broadcast. A non-nil error aborts the command: no state mutation, no
// broadcast. The store never retries its own writes.
type Persist func(events []Event) error

type runCommandMessage struct {
	cmd   RunCommand
	reply chan runCommandResult
}

type runCommandResult struct {
	events []Event
	err    error
}

// RunActorHandle is the public, concurrency-safe interface to a running RunActor.
type RunActorHandle struct {
	cmdCh chan runCommandMessage
	sink  EventSink
	state *RunState
	mu    sync.RWMutex
	RunID ulid.ULID
}

// SendCommand submits a command and blocks for its result. Safe for concurrent use.
func (h *RunActorHandle) SendCommand(cmd RunCommand) ([]Event, error) {
	reply := make(chan runCommandResult, 1)
	select {
	case h.cmdCh <- runCommandMessage{cmd: cmd, reply: reply}:
	default:
		return nil, ErrActorBusy
	}
	result := <-reply
	return result.events, result.err
}

// ReadState calls fn with a read lock held over the current aggregate. fn
// must not retain references to s past its return.
func (h *RunActorHandle) ReadState(fn func(s *RunState)) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	fn(h.state)
}

// MutateRunMemory applies fn to the aggregate's RunMemory map under the
// write lock. RunMemory has no associated event type (MemoryExecutor writes
// are a pure in-process side effect, not a durable mutation in their own
// right), so GraphRuntime uses this instead of routing through SendCommand.
func (h *RunActorHandle) MutateRunMemory(fn func(m map[string]any)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(h.state.RunMemory)
}

// Close shuts down the actor's command loop. Pending in-flight commands are
// allowed to drain; no new commands are accepted after Close returns.
func (h *RunActorHandle) Close() {
	close(h.cmdCh)
}

// SpawnRunActor starts a RunActor goroutine for an already-initialized
// aggregate and returns its handle.
func SpawnRunActor(state *RunState, sink EventSink, persist Persist) *RunActorHandle {
	cmdCh := make(chan runCommandMessage, 64)
	handle := &RunActorHandle{cmdCh: cmdCh, sink: sink, state: state, RunID: state.Run.RunID}

	a := &runActor{handle: handle, cmdCh: cmdCh, persist: persist, nextIndex: uint64(len(state.Steps)) + 1}
	go a.run()
	return handle
}

type runActor struct {
	handle    *RunActorHandle
	cmdCh     chan runCommandMessage
	persist   Persist
	nextIndex uint64
}

func (a *runActor) run() {
	for msg := range a.cmdCh {
		msg.reply <- a.process(msg.cmd)
	}
}

func (a *runActor) process(cmd RunCommand) runCommandResult {
	events, err := a.commandToEvents(cmd)
	if err != nil {
		return runCommandResult{err: err}
	}

	if a.persist != nil {
		if err := a.persist(events); err != nil {
			return runCommandResult{err: fmt.Errorf("persist events: %w", err)}
		}
	}

	a.handle.mu.Lock()
	for i := range events {
		a.handle.state.Apply(&events[i])
	}
	a.handle.mu.Unlock()

	if a.handle.sink != nil {
		for _, ev := range events {
			a.handle.sink.Publish(ev)
		}
	}

	return runCommandResult{events: events}
}

// commandToEvents validates cmd against current state and converts it into
// one or more events, each stamped with the next per-run sequence number.
func (a *runActor) commandToEvents(cmd RunCommand) ([]Event, error) {
	a.handle.mu.RLock()
	state := a.handle.state
	var payloads []EventPayload

	switch c := cmd.(type) {
	case StartRunCommand:
		payloads = []EventPayload{RunStartedPayload{GraphHash: c.GraphHash, ParentRunID: c.ParentRunID}}

	case BeginStepCommand:
		if state.Run.State.Terminal() {
			a.handle.mu.RUnlock()
			return nil, fmt.Errorf("%w: run %s already %s", ErrNonMonotonicTransition, state.Run.RunID, state.Run.State)
		}
		payloads = []EventPayload{StepStartedPayload{
			StepID: NewULID(),
			NodeID: c.NodeID,
			Index:  a.nextIndex,
			Input:  c.Input,
		}}
		a.nextIndex++

	case CompleteStepCommand:
		step, ok := state.StepByID(c.StepID)
		if !ok {
			a.handle.mu.RUnlock()
			return nil, fmt.Errorf("%w: %s", ErrStepNotFound, c.StepID)
		}
		payloads = []EventPayload{StepCompletedPayload{
			StepID:     c.StepID,
			NodeID:     step.NodeID,
			Output:     c.Output,
			Tokens:     c.Tokens,
			CostUsd:    c.CostUsd,
			DurationMs: c.DurationMs,
			CacheHit:   c.CacheHit,
		}}

	case FailStepCommand:
		step, ok := state.StepByID(c.StepID)
		if !ok {
			a.handle.mu.RUnlock()
			return nil, fmt.Errorf("%w: %s", ErrStepNotFound, c.StepID)
		}
		payloads = []EventPayload{StepFailedPayload{
			StepID:    c.StepID,
			NodeID:    step.NodeID,
			ErrorType: c.ErrorType,
			ErrorMsg:  c.ErrorMsg,
			Skipped:   c.Skipped,
		}}

	case RecordTokenUpdateCommand:
		payloads = []EventPayload{TokenUpdatePayload{NodeID: c.NodeID, Tokens: c.Tokens, CostUsd: c.CostUsd}}

	case RecordErrorCommand:
		payloads = []EventPayload{ErrorPayload{
			NodeID: c.NodeID, StepID: c.StepID, ErrorType: c.ErrorType, ErrorMsg: c.ErrorMsg, Attempt: c.Attempt,
		}}

	case RecordMCPCallCommand:
		payloads = []EventPayload{MCPCallPayload{
			NodeID: c.NodeID, ToolName: c.ToolName, ToolVersion: c.ToolVersion,
			Input: c.Input, Output: c.Output, Err: c.Err, DurationMs: c.DurationMs,
		}}

	case RecordAgentStepCommand:
		payloads = []EventPayload{AgentStepPayload{
			NodeID: c.NodeID, Iteration: c.Iteration, Thought: c.Thought,
			ToolName: c.ToolName, Observation: c.Observation,
		}}

	case CompleteRunCommand:
		if state.Run.State.Terminal() {
			a.handle.mu.RUnlock()
			return nil, fmt.Errorf("%w: run %s already %s", ErrNonMonotonicTransition, state.Run.RunID, state.Run.State)
		}
		payloads = []EventPayload{RunCompletedPayload{
			Output: c.Output, TotalTokens: state.Run.TotalTokens, TotalCostUsd: state.Run.TotalCostUsd,
		}}

	case FailRunCommand:
		if state.Run.State.Terminal() {
			a.handle.mu.RUnlock()
			return nil, nil // idempotent no-op once terminal
		}
		payloads = []EventPayload{RunFailedPayload{NodeID: c.NodeID, ErrorType: c.ErrorType, ErrorMsg: c.ErrorMsg}}

	case CancelRunCommand:
		if state.Run.State.Terminal() {
			a.handle.mu.RUnlock()
			return nil, nil // cancelRun is idempotent
		}
		payloads = []EventPayload{RunCancelledPayload{}}

	default:
		a.handle.mu.RUnlock()
		return nil, fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
	}

	baseSeq := state.NextSeq
	runID := state.Run.RunID
	a.handle.mu.RUnlock()

	now := time.Now().UTC()
	events := make([]Event, len(payloads))
	for i, p := range payloads {
		events[i] = Event{
			EventID:   NewULID(),
			RunID:     runID,
			Seq:       baseSeq + uint64(i),
			Timestamp: now,
			Payload:   p,
		}
	}
	return events, nil
}
