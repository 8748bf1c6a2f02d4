// ABOUTME: runParallelGroup fans a ParallelGroup's nodes out across goroutines and merges them back.
// ABOUTME: Generalizes attractor.ExecuteParallelBranches/MergeContexts (wait_all join, continue-on-error).
package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/2389-research/graphrun/graph"
)

// maxParallelBranches bounds concurrent branch goroutines per group, mirroring
// attractor's ParallelConfig.MaxParallel default.
const maxParallelBranches = 4

// branchResult is one branch's outcome: the node it stopped at (a fan-in
// point outside the group, or a terminal node) and its last output.
type branchResult struct {
	startNodeID string
	endNodeID   string
	output      any
	err         error
}

// runParallelGroup executes each node in branches (the edge targets that
// triggered the fan-out) as an independent goroutine, each following
// single-successor edges until it reaches a node outside pg.NodeIDs (the
// fan-in point) or a terminal node. All branches must succeed (wait_all);
// any branch error fails the whole group.
func (rt *GraphRuntime) runParallelGroup(ctx context.Context, tr *trackedRun, pg *graph.ParallelGroup, branches []string, previousOutput, globalInput any) (mergedOutput any, fanInNodeID string, err error) {
	inGroup := make(map[string]bool, len(pg.NodeIDs))
	for _, id := range pg.NodeIDs {
		inGroup[id] = true
	}

	semaphore := make(chan struct{}, maxParallelBranches)
	results := make([]branchResult, len(branches))
	var wg sync.WaitGroup

	for i, startID := range branches {
		wg.Add(1)
		go func(idx int, nodeID string) {
			defer wg.Done()
			select {
			case semaphore <- struct{}{}:
				defer func() { <-semaphore }()
			case <-ctx.Done():
				results[idx] = branchResult{startNodeID: nodeID, err: ctx.Err()}
				return
			}
			results[idx] = rt.runBranchChain(ctx, tr, nodeID, inGroup, previousOutput, globalInput)
		}(i, startID)
	}
	wg.Wait()

	branchOutputs := make(map[string]any, len(results))
	var convergedAt string
	for _, r := range results {
		if r.err != nil {
			return nil, "", fmt.Errorf("branch %q failed: %w", r.startNodeID, r.err)
		}
		branchOutputs[r.startNodeID] = r.output
		if r.endNodeID != "" {
			convergedAt = r.endNodeID
		}
	}

	return map[string]any{"branches": branchOutputs}, convergedAt, nil
}

// runBranchChain runs nodeID and follows its first satisfied outgoing edge
// repeatedly until leaving the group or hitting a terminal node.
func (rt *GraphRuntime) runBranchChain(ctx context.Context, tr *trackedRun, startNodeID string, inGroup map[string]bool, previousOutput, globalInput any) branchResult {
	currentID := startNodeID
	var lastOutput any = previousOutput

	for step := 0; step < maxTraversalSteps; step++ {
		if ctx.Err() != nil {
			return branchResult{startNodeID: startNodeID, err: ctx.Err()}
		}
		node, ok := tr.def.Node(currentID)
		if !ok {
			return branchResult{startNodeID: startNodeID, err: fmt.Errorf("branch node %q not found", currentID)}
		}

		output, status, err := rt.runOneNode(ctx, tr, node, lastOutput, globalInput)
		if err != nil {
			return branchResult{startNodeID: startNodeID, err: err}
		}
		lastOutput = output

		targets, terminal := matchingTargets(tr.def, currentID, status, output, tr)
		if terminal {
			return branchResult{startNodeID: startNodeID, endNodeID: "", output: lastOutput}
		}
		next := targets[0]
		if !inGroup[next] {
			return branchResult{startNodeID: startNodeID, endNodeID: next, output: lastOutput}
		}
		currentID = next
	}

	return branchResult{startNodeID: startNodeID, err: fmt.Errorf("branch %q exceeded maximum traversal steps", startNodeID)}
}
