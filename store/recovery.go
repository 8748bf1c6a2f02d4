// ABOUTME: Crash recovery and self-healing for RunState reconstruction.
// ABOUTME: Combines snapshots, JSONL repair, event replay, and SQLite integrity checks.
package store

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/2389-research/graphrun/core"
	"github.com/oklog/ulid/v2"
)

// RecoverRun recovers a run's state from its storage directory.
//
// Recovery sequence:
//  1. Try to load the latest snapshot
//  2. Repair the JSONL event log (truncate partial last line)
//  3. Replay all events from the JSONL
//  4. Apply events whose Seq is at or past the snapshot's NextSeq
//  5. Open SQLite index and check integrity (compare last indexed seq)
//  6. If mismatch or empty: rebuild SQLite from all events
//  7. Return recovered state and its NextSeq (one past the last applied Seq)
func RecoverRun(runDir string) (*core.RunState, uint64, error) {
	eventsPath := filepath.Join(runDir, "events.jsonl")
	snapshotsDir := filepath.Join(runDir, "snapshots")
	indexPath := filepath.Join(runDir, "index.db")

	var runID ulid.ULID
	if parsed, err := ulid.Parse(filepath.Base(runDir)); err == nil {
		runID = parsed
	}

	snapshot, err := LoadLatestSnapshot(snapshotsDir)
	if err != nil {
		return nil, 0, fmt.Errorf("load snapshot: %w", err)
	}

	if _, err := os.Stat(eventsPath); err == nil {
		repairedCount, err := RepairJsonl(eventsPath)
		if err != nil {
			return nil, 0, fmt.Errorf("repair jsonl: %w", err)
		}
		log.Printf("component=store action=repaired_jsonl run_id=%s valid_events=%d", runID, repairedCount)
	}

	var allEvents []core.Event
	if _, err := os.Stat(eventsPath); err == nil {
		rawEvents, replayErr := ReplayJsonl(eventsPath)
		if replayErr != nil {
			return nil, 0, fmt.Errorf("replay jsonl: %w", replayErr)
		}
		allEvents = rawEvents
	}

	var state *core.RunState
	var snapshotSeq uint64

	if snapshot != nil {
		log.Printf("component=store action=loaded_snapshot run_id=%s seq=%d", runID, snapshot.NextSeq)
		state = snapshot
		snapshotSeq = snapshot.NextSeq
	} else {
		log.Printf("component=store action=no_snapshot run_id=%s", runID)
		startedAt := time.Now()
		if len(allEvents) > 0 {
			startedAt = allEvents[0].Timestamp
		}
		state = core.NewRunState(runID, "", nil, nil, startedAt)
	}

	var tailCount int
	for i := range allEvents {
		if allEvents[i].Seq >= snapshotSeq {
			state.Apply(&allEvents[i])
			tailCount++
		}
	}

	log.Printf("component=store action=replayed_tail run_id=%s applied=%d total=%d", runID, tailCount, len(allEvents))

	lastSeq := state.NextSeq

	index, err := OpenSqlite(indexPath)
	if err != nil {
		return nil, 0, fmt.Errorf("open sqlite index: %w", err)
	}
	defer func() { _ = index.Close() }()

	sqliteLastSeq, found, err := index.GetLastSeq(runID)
	if err != nil {
		return nil, 0, fmt.Errorf("get sqlite last_seq: %w", err)
	}

	switch {
	case found && sqliteLastSeq+1 == lastSeq:
		log.Printf("component=store action=index_up_to_date run_id=%s seq=%d", runID, sqliteLastSeq)
	case len(allEvents) == 0 && snapshot != nil:
		log.Printf("component=store action=trust_snapshot run_id=%s seq=%d", runID, lastSeq)
		if lastSeq > 0 {
			if err := index.SetLastSeq(runID, lastSeq-1); err != nil {
				return nil, 0, fmt.Errorf("set sqlite last_seq from snapshot: %w", err)
			}
		}
	default:
		log.Printf("component=store action=rebuild_index run_id=%s", runID)
		if err := index.RebuildFromEvents(runID, allEvents); err != nil {
			return nil, 0, fmt.Errorf("rebuild sqlite: %w", err)
		}
	}

	return state, lastSeq, nil
}
