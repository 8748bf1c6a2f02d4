// ABOUTME: ForkRun starts a new Run resuming from a step recorded by a prior run, without
// ABOUTME: replaying it. Grounded on attractor.checkpoint's CurrentNode/ContextValues resume shape.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/2389-research/graphrun/core"
	"github.com/2389-research/graphrun/graph"
	"github.com/2389-research/graphrun/store"
)

// ForkRun recovers parentRunID's durable state, locates fromStepID, and
// starts a new Run that resumes from the node reached by that step's
// recorded edge selection. overrideInput, if non-nil, replaces the decoded
// step output as the resumed node's input (letting a caller retry with
// amended data instead of the original recorded output).
func (rt *GraphRuntime) ForkRun(ctx context.Context, def *graph.GraphDefinition, parentRunID, fromStepID ulid.ULID, overrideInput any) (*core.RunActorHandle, error) {
	def.Index()

	parentDir := rt.Storage.GetRunDir(parentRunID)
	parentState, _, err := store.RecoverRun(parentDir)
	if err != nil {
		return nil, fmt.Errorf("recover parent run %s: %w", parentRunID, err)
	}

	step, ok := parentState.StepByID(fromStepID)
	if !ok {
		return nil, fmt.Errorf("%w: step %s not found in run %s", core.ErrStepNotFound, fromStepID, parentRunID)
	}
	if step.Status != core.StepSuccess {
		return nil, fmt.Errorf("cannot fork from step %s: status is %s, not SUCCESS", fromStepID, step.Status)
	}

	var stepOutput any
	if len(step.Output) > 0 {
		if err := json.Unmarshal(step.Output, &stepOutput); err != nil {
			return nil, fmt.Errorf("decode step %s output: %w", fromStepID, err)
		}
	}
	resumeInput := stepOutput
	if overrideInput != nil {
		resumeInput = overrideInput
	}

	resumeNode, terminal := selectNextFromRecordedStep(def, step.NodeID, stepOutput, parentState.RunMemory)
	if terminal {
		return nil, fmt.Errorf("step %s's node %q has no outgoing edge to resume from", fromStepID, step.NodeID)
	}

	hash, err := def.Hash()
	if err != nil {
		return nil, fmt.Errorf("hash graph: %w", err)
	}

	runID := core.NewULID()
	handle, persistence, err := rt.spawn(runID, hash, &parentRunID, &fromStepID)
	if err != nil {
		return nil, err
	}
	if _, err := handle.SendCommand(core.StartRunCommand{GraphHash: hash, ParentRunID: &parentRunID, ForkFromStepID: &fromStepID}); err != nil {
		_ = persistence.Close()
		return nil, fmt.Errorf("start forked run: %w", err)
	}
	handle.MutateRunMemory(func(m map[string]any) {
		for k, v := range parentState.RunMemory {
			m[k] = v
		}
	})

	runCtx, cancel := context.WithCancel(ctx)
	tr := &trackedRun{handle: handle, cancel: cancel, persistence: persistence, def: def}
	rt.mu.Lock()
	rt.runs[runID] = tr
	rt.mu.Unlock()

	go rt.execute(runCtx, tr, resumeNode, resumeInput, resumeInput)
	return handle, nil
}

// selectNextFromRecordedStep mirrors matchingTargets (keeping only the first
// satisfied edge's target) but works from the parent
// run's recorded memory snapshot rather than a live actor handle, since the
// forked run's own actor does not exist yet when the resume node is chosen.
func selectNextFromRecordedStep(def *graph.GraphDefinition, nodeID string, output any, runMemory map[string]any) (next string, terminal bool) {
	edges := def.OutgoingEdges(nodeID)
	if len(edges) == 0 {
		return "", true
	}
	for _, e := range edges {
		cond := ""
		if e.Condition != nil {
			cond = *e.Condition
		}
		if graph.EvaluateCondition(cond, "success", output, runMemory) {
			return e.Target, false
		}
	}
	return "", true
}
