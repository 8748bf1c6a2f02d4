// ABOUTME: RunPersistence adapts the JSONL log + SQLite index into a core.Persist func for a
// ABOUTME: single run's actor: append-then-index, matching attractor's store-never-retries-its-own-writes rule.
package store

import (
	"fmt"
	"path/filepath"

	"github.com/2389-research/graphrun/core"
)

// RunPersistence durably records one run's events to its JSONL log and
// keeps the SQLite query index in sync, in that order: the JSONL file is the
// source of truth, the index is rebuildable from it.
type RunPersistence struct {
	log   *JsonlLog
	index *SqliteIndex
}

// OpenRunPersistence opens (or creates) the JSONL log and SQLite index under
// runDir, as laid out by StorageManager.CreateRunDir.
func OpenRunPersistence(runDir string) (*RunPersistence, error) {
	log, err := OpenJsonl(filepath.Join(runDir, "events.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("open jsonl: %w", err)
	}
	index, err := OpenSqlite(filepath.Join(runDir, "index.db"))
	if err != nil {
		_ = log.Close()
		return nil, fmt.Errorf("open sqlite index: %w", err)
	}
	return &RunPersistence{log: log, index: index}, nil
}

var _ core.Persist = (*RunPersistence)(nil).Persist

// Persist implements core.Persist: append every event to the JSONL log, then
// fold each into the SQLite index. A failure midway leaves the index behind
// the log, which RecoverRun's rebuild-if-stale check repairs on next load.
func (p *RunPersistence) Persist(events []core.Event) error {
	for i := range events {
		if err := p.log.Append(&events[i]); err != nil {
			return fmt.Errorf("append event seq=%d: %w", events[i].Seq, err)
		}
	}
	for i := range events {
		if err := p.index.ApplyEvent(&events[i]); err != nil {
			return fmt.Errorf("index event seq=%d: %w", events[i].Seq, err)
		}
	}
	if len(events) > 0 {
		last := events[len(events)-1]
		if err := p.index.SetLastSeq(last.RunID, last.Seq); err != nil {
			return fmt.Errorf("set last_seq: %w", err)
		}
	}
	return nil
}

// Close releases the underlying log file and SQLite handle.
func (p *RunPersistence) Close() error {
	logErr := p.log.Close()
	idxErr := p.index.Close()
	if logErr != nil {
		return logErr
	}
	return idxErr
}
