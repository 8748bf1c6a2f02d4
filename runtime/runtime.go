// ABOUTME: GraphRuntime walks a GraphDefinition node by node, driving the run's actor and
// ABOUTME: GraphNodeRunner. Generalizes attractor.engine's executeGraph single-current-node loop.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/2389-research/graphrun/bus"
	"github.com/2389-research/graphrun/core"
	"github.com/2389-research/graphrun/graph"
	"github.com/2389-research/graphrun/runner"
	"github.com/2389-research/graphrun/store"
)

// maxTraversalSteps bounds a single run's node visits, mirroring attractor's
// maxSteps guard against graphs with unreachable exit conditions.
const maxTraversalSteps = 1000

// GraphRuntime owns the lifecycle of every run: spawning its actor, driving
// node traversal through GraphNodeRunner, and persisting every event.
type GraphRuntime struct {
	Runner  *runner.GraphNodeRunner
	Storage *store.StorageManager
	Bus     *bus.EventBus

	mu   sync.Mutex
	runs map[ulid.ULID]*trackedRun
}

type trackedRun struct {
	handle      *core.RunActorHandle
	cancel      context.CancelFunc
	persistence *store.RunPersistence
	def         *graph.GraphDefinition
}

// New builds a GraphRuntime. eventBus may be nil if no subscriber needs
// live events (events are still durably persisted regardless).
func New(r *runner.GraphNodeRunner, storage *store.StorageManager, eventBus *bus.EventBus) *GraphRuntime {
	return &GraphRuntime{Runner: r, Storage: storage, Bus: eventBus, runs: make(map[ulid.ULID]*trackedRun)}
}

// StartRun validates def, allocates a fresh Run, and begins traversal from
// its entry node in a background goroutine. It returns as soon as the
// run_started event is durable; callers subscribe via Bus or poll the
// returned handle for completion.
func (rt *GraphRuntime) StartRun(ctx context.Context, def *graph.GraphDefinition, input any) (*core.RunActorHandle, error) {
	def.Index()
	if _, err := graph.ValidateOrError(def); err != nil {
		return nil, fmt.Errorf("invalid graph: %w", err)
	}
	hash, err := def.Hash()
	if err != nil {
		return nil, fmt.Errorf("hash graph: %w", err)
	}

	runID := core.NewULID()
	handle, persistence, err := rt.spawn(runID, hash, nil, nil)
	if err != nil {
		return nil, err
	}
	if _, err := handle.SendCommand(core.StartRunCommand{GraphHash: hash}); err != nil {
		_ = persistence.Close()
		return nil, fmt.Errorf("start run: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	tr := &trackedRun{handle: handle, cancel: cancel, persistence: persistence, def: def}
	rt.mu.Lock()
	rt.runs[runID] = tr
	rt.mu.Unlock()

	entry, ok := def.EntryNode()
	if !ok {
		_, _ = handle.SendCommand(core.FailRunCommand{ErrorType: core.ErrorValidation, ErrorMsg: "graph has no entry node"})
		_ = persistence.Close()
		return handle, nil
	}

	go rt.execute(runCtx, tr, entry.ID, input, input)
	return handle, nil
}

// CancelRun requests cooperative cancellation of an in-flight run. It is a
// no-op (not an error) if the run has already reached a terminal phase.
func (rt *GraphRuntime) CancelRun(runID ulid.ULID) error {
	rt.mu.Lock()
	tr, ok := rt.runs[runID]
	rt.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrRunNotFound, runID)
	}
	tr.cancel()
	_, err := tr.handle.SendCommand(core.CancelRunCommand{})
	return err
}

// Handle returns the tracked actor handle for a run known to this process,
// for API-layer polling of current state.
func (rt *GraphRuntime) Handle(runID ulid.ULID) (*core.RunActorHandle, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	tr, ok := rt.runs[runID]
	if !ok {
		return nil, false
	}
	return tr.handle, true
}

// ListRuns returns a summary of every run this storage home has ever seen,
// most recent first, by opening each run directory's own SQLite index.
// Runs still active in this process reflect their in-memory state instead of
// whatever was last flushed to disk.
func (rt *GraphRuntime) ListRuns() ([]store.RunSummary, error) {
	dirs, err := rt.Storage.ListRunDirs()
	if err != nil {
		return nil, fmt.Errorf("list run dirs: %w", err)
	}

	summaries := make([]store.RunSummary, 0, len(dirs))
	for _, d := range dirs {
		if handle, ok := rt.Handle(d.RunID); ok {
			summaries = append(summaries, summarizeHandle(handle))
			continue
		}
		idx, err := store.OpenSqlite(filepath.Join(d.Path, "index.db"))
		if err != nil {
			log.Printf("component=runtime action=list_runs_open_index_failed run_id=%s err=%v", d.RunID, err)
			continue
		}
		rows, err := idx.ListRuns()
		_ = idx.Close()
		if err != nil {
			log.Printf("component=runtime action=list_runs_query_failed run_id=%s err=%v", d.RunID, err)
			continue
		}
		summaries = append(summaries, rows...)
	}

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].StartedAt > summaries[j].StartedAt })
	return summaries, nil
}

func summarizeHandle(handle *core.RunActorHandle) store.RunSummary {
	var s store.RunSummary
	handle.ReadState(func(st *core.RunState) {
		s = store.RunSummary{
			RunID:     st.Run.RunID.String(),
			GraphHash: st.Run.GraphHash,
			State:     string(st.Run.State),
			StartedAt: st.Run.StartedAt.Format(time.RFC3339Nano),
		}
		if st.Run.EndedAt != nil {
			ended := st.Run.EndedAt.Format(time.RFC3339Nano)
			s.EndedAt = &ended
		}
	})
	return s
}

func (rt *GraphRuntime) spawn(runID ulid.ULID, graphHash string, parentRunID, forkFromStepID *ulid.ULID) (*core.RunActorHandle, *store.RunPersistence, error) {
	runDir, err := rt.Storage.CreateRunDir(runID, graphHash)
	if err != nil {
		return nil, nil, fmt.Errorf("create run dir: %w", err)
	}
	persistence, err := store.OpenRunPersistence(runDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open persistence: %w", err)
	}
	state := core.NewRunState(runID, graphHash, parentRunID, forkFromStepID, time.Now().UTC())
	var sink core.EventSink
	if rt.Bus != nil {
		sink = rt.Bus
	}
	handle := core.SpawnRunActor(state, sink, persistence.Persist)
	return handle, persistence, nil
}

// execute drives one run from startNodeID to a terminal node (or
// cancellation/failure), then closes the run's persistence handles. It never
// returns an error to a caller; all outcomes are recorded as Run state via
// the actor. StartRun always begins at the graph's entry node; ForkRun
// resumes from the node following a prior run's recorded step.
func (rt *GraphRuntime) execute(ctx context.Context, tr *trackedRun, startNodeID string, previousOutput, globalInput any) {
	defer func() {
		if err := tr.persistence.Close(); err != nil {
			log.Printf("component=runtime action=close_persistence_failed run_id=%s err=%v", tr.handle.RunID, err)
		}
	}()

	def := tr.def
	currentID := startNodeID

	for step := 0; step < maxTraversalSteps; step++ {
		if ctx.Err() != nil {
			_, _ = tr.handle.SendCommand(core.CancelRunCommand{})
			return
		}

		node, ok := def.Node(currentID)
		if !ok {
			rt.failRun(tr, currentID, core.ErrorValidation, fmt.Sprintf("node %q not found", currentID))
			return
		}

		output, status, err := rt.runOneNode(ctx, tr, node, previousOutput, globalInput)
		if err != nil {
			se := core.AsStepError(err)
			rt.failRun(tr, node.ID, se.Type, se.Msg)
			return
		}
		previousOutput = output

		targets, terminal := matchingTargets(def, node.ID, status, output, tr)
		if terminal {
			rt.completeRun(tr, previousOutput)
			return
		}

		if len(targets) > 1 {
			pg, ok := parallelGroupCovering(def, targets)
			if !ok {
				log.Printf("component=runtime action=ambiguous_branch node_id=%s targets=%v, taking first", node.ID, targets)
				currentID = targets[0]
				continue
			}
			branchOutput, fanIn, err := rt.runParallelGroup(ctx, tr, pg, targets, previousOutput, globalInput)
			if err != nil {
				rt.failRun(tr, node.ID, core.AsStepError(err).Type, err.Error())
				return
			}
			previousOutput = branchOutput
			if fanIn == "" {
				rt.completeRun(tr, previousOutput)
				return
			}
			currentID = fanIn
			continue
		}

		currentID = targets[0]
	}

	rt.failRun(tr, currentID, core.ErrorSystem, fmt.Sprintf("exceeded maximum traversal steps (%d)", maxTraversalSteps))
}

// runOneNode begins a Step, executes it through GraphNodeRunner (cache,
// retry, guardrails), and completes or fails the Step accordingly.
func (rt *GraphRuntime) runOneNode(ctx context.Context, tr *trackedRun, node *graph.NodeDefinition, previousOutput, globalInput any) (any, string, error) {
	cfg, err := graph.DecodeConfig(node)
	if err != nil {
		return nil, "", core.NewStepError(core.ErrorValidation, "%v", err)
	}

	inputRaw := toRawMessage(previousOutput)
	events, err := tr.handle.SendCommand(core.BeginStepCommand{NodeID: node.ID, Input: inputRaw})
	if err != nil {
		return nil, "", core.NewStepError(core.ErrorSystem, "begin step: %v", err)
	}
	started, ok := events[0].Payload.(core.StepStartedPayload)
	if !ok {
		return nil, "", core.NewStepError(core.ErrorSystem, "begin step: unexpected payload %T", events[0].Payload)
	}
	stepID := started.StepID

	memSnapshot := snapshotRunMemory(tr.handle)
	nctx := &core.NodeContext{
		RunID:          tr.handle.RunID,
		NodeID:         node.ID,
		PreviousOutput: previousOutput,
		GlobalInput:    globalInput,
		RunMemory:      memSnapshot,
		Cancel:         ctx,
		Emit:           emitAdapter(tr.handle, node.ID, stepID),
	}

	start := time.Now()
	outcome, execErr := rt.Runner.RunNode(ctx, node, cfg, nctx)
	durationMs := time.Since(start).Milliseconds()

	tr.handle.MutateRunMemory(func(m map[string]any) {
		for k, v := range memSnapshot {
			m[k] = v
		}
	})

	if execErr != nil {
		se := core.AsStepError(execErr)
		if _, err := tr.handle.SendCommand(core.FailStepCommand{StepID: stepID, ErrorType: se.Type, ErrorMsg: se.Msg, DurationMs: durationMs}); err != nil {
			log.Printf("component=runtime action=fail_step_command_failed node_id=%s err=%v", node.ID, err)
		}
		return nil, "error", execErr
	}

	if _, err := tr.handle.SendCommand(core.CompleteStepCommand{
		StepID:         stepID,
		Output:         toRawMessage(outcome.Result.Output),
		RenderedPrompt: outcome.Result.RenderedPrompt,
		Tokens:         outcome.Result.Tokens,
		CostUsd:        outcome.Result.CostUsd,
		DurationMs:     durationMs,
		CacheHit:       outcome.CacheHit,
	}); err != nil {
		return nil, "", core.NewStepError(core.ErrorSystem, "complete step: %v", err)
	}

	return outcome.Result.Output, "success", nil
}

// matchingTargets evaluates every outgoing edge from nodeID and returns the
// targets of those whose condition is satisfied, in definition order.
// terminal is true when no edge matches (nodeID is an exit point). More than
// one match signals concurrent fan-out, resolved by parallelGroupCovering.
func matchingTargets(def *graph.GraphDefinition, nodeID, status string, output any, tr *trackedRun) (targets []string, terminal bool) {
	edges := def.OutgoingEdges(nodeID)
	if len(edges) == 0 {
		return nil, true
	}
	mem := snapshotRunMemory(tr.handle)
	for _, e := range edges {
		cond := ""
		if e.Condition != nil {
			cond = *e.Condition
		}
		if graph.EvaluateCondition(cond, status, output, mem) {
			targets = append(targets, e.Target)
		}
	}
	if len(targets) == 0 {
		return nil, true
	}
	return targets, false
}

// parallelGroupCovering returns the ParallelGroup that contains every target
// in targets, if one exists.
func parallelGroupCovering(def *graph.GraphDefinition, targets []string) (*graph.ParallelGroup, bool) {
	pg, ok := def.ParallelGroupFor(targets[0])
	if !ok {
		return nil, false
	}
	members := make(map[string]bool, len(pg.NodeIDs))
	for _, id := range pg.NodeIDs {
		members[id] = true
	}
	for _, t := range targets {
		if !members[t] {
			return nil, false
		}
	}
	return pg, true
}

func (rt *GraphRuntime) completeRun(tr *trackedRun, output any) {
	if _, err := tr.handle.SendCommand(core.CompleteRunCommand{Output: toRawMessage(output)}); err != nil {
		log.Printf("component=runtime action=complete_run_failed run_id=%s err=%v", tr.handle.RunID, err)
	}
}

func (rt *GraphRuntime) failRun(tr *trackedRun, nodeID string, errType core.ErrorType, msg string) {
	if _, err := tr.handle.SendCommand(core.FailRunCommand{NodeID: nodeID, ErrorType: errType, ErrorMsg: msg}); err != nil {
		log.Printf("component=runtime action=fail_run_failed run_id=%s err=%v", tr.handle.RunID, err)
	}
}

func snapshotRunMemory(handle *core.RunActorHandle) map[string]any {
	snap := make(map[string]any)
	handle.ReadState(func(s *core.RunState) {
		for k, v := range s.RunMemory {
			snap[k] = v
		}
	})
	return snap
}

func toRawMessage(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("component=runtime action=marshal_value_failed err=%v", err)
		return nil
	}
	return data
}
