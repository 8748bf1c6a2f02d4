// ABOUTME: High-level storage manager for the graphrun daemon's filesystem layout.
// ABOUTME: Handles directory creation, run discovery, and recovery orchestration.
package store

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/2389-research/graphrun/core"
	"github.com/oklog/ulid/v2"
)

// StorageManager manages the graphrun home directory layout and provides
// high-level operations for run storage and recovery.
//
// Dir layout:
//
//	home/runs/{ulid}/events.jsonl
//	home/runs/{ulid}/index.db
//	home/runs/{ulid}/snapshots/
//	home/runs/{ulid}/meta.json
type StorageManager struct {
	home string
}

// runMeta is the sidecar written alongside a run's event log, recording the
// graph it executes. Unlike index.db (rebuildable from events.jsonl) this
// file is written once at creation and never touched again, so listing runs
// by graph hash doesn't require opening every run's SQLite index.
type runMeta struct {
	RunID     string    `json:"run_id"`
	GraphHash string    `json:"graph_hash"`
	CreatedAt time.Time `json:"created_at"`
}

// NewStorageManager creates a new StorageManager rooted at the given home directory.
// Creates the home and runs subdirectories if they do not exist.
func NewStorageManager(home string) (*StorageManager, error) {
	runsDir := filepath.Join(home, "runs")
	if err := os.MkdirAll(runsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create runs dir: %w", err)
	}
	return &StorageManager{home: home}, nil
}

// Home returns the home directory path.
func (m *StorageManager) Home() string {
	return m.home
}

// ListRunDirs scans the runs directory and returns all run directories
// with their ULIDs.
func (m *StorageManager) ListRunDirs() ([]RunDir, error) {
	runsDir := filepath.Join(m.home, "runs")
	info, err := os.Stat(runsDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat runs dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("runs path is not a directory: %s", runsDir)
	}

	entries, err := os.ReadDir(runsDir)
	if err != nil {
		return nil, fmt.Errorf("read runs dir: %w", err)
	}

	var results []RunDir
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		id, err := ulid.Parse(name)
		if err != nil {
			log.Printf("component=store action=list_run_dirs_skip_non_ulid dir=%s", name)
			continue
		}
		results = append(results, RunDir{
			RunID:     id,
			Path:      filepath.Join(runsDir, name),
			GraphHash: readRunMetaHash(filepath.Join(runsDir, name)),
		})
	}

	return results, nil
}

// ListRunDirsForHash narrows ListRunDirs to runs of one specific graph,
// identified by graph.GraphDefinition.Hash(). Used to answer "show me every
// run of this graph" without opening every run's SQLite index.
func (m *StorageManager) ListRunDirsForHash(graphHash string) ([]RunDir, error) {
	all, err := m.ListRunDirs()
	if err != nil {
		return nil, err
	}
	var matching []RunDir
	for _, d := range all {
		if d.GraphHash == graphHash {
			matching = append(matching, d)
		}
	}
	return matching, nil
}

// RunDir pairs a run's ULID with its filesystem path and the graph it runs,
// read from the run's meta.json sidecar.
type RunDir struct {
	RunID     ulid.ULID
	Path      string
	GraphHash string
}

// CreateRunDir creates a run directory with the required subdirectories and
// writes its meta.json sidecar recording graphHash.
func (m *StorageManager) CreateRunDir(runID ulid.ULID, graphHash string) (string, error) {
	runDir := filepath.Join(m.home, "runs", runID.String())
	if err := os.MkdirAll(filepath.Join(runDir, "snapshots"), 0o755); err != nil {
		return "", fmt.Errorf("create snapshots dir: %w", err)
	}
	meta := runMeta{RunID: runID.String(), GraphHash: graphHash, CreatedAt: time.Now().UTC()}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshal run meta: %w", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, "meta.json"), data, 0o644); err != nil {
		return "", fmt.Errorf("write run meta: %w", err)
	}
	return runDir, nil
}

// readRunMetaHash reads the graph hash from a run directory's meta.json,
// returning "" if the sidecar is missing or unreadable (e.g. a run directory
// created before this sidecar existed).
func readRunMetaHash(runDir string) string {
	data, err := os.ReadFile(filepath.Join(runDir, "meta.json"))
	if err != nil {
		return ""
	}
	var meta runMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return ""
	}
	return meta.GraphHash
}

// GetRunDir returns the path to a run's directory (does not create it).
func (m *StorageManager) GetRunDir(runID ulid.ULID) string {
	return filepath.Join(m.home, "runs", runID.String())
}

// RecoverAllRuns recovers all runs from their storage directories. Runs that
// fail to recover are logged and skipped rather than aborting the whole scan.
func (m *StorageManager) RecoverAllRuns() ([]RecoveredRun, error) {
	runDirs, err := m.ListRunDirs()
	if err != nil {
		return nil, err
	}

	var recovered []RecoveredRun
	for _, rd := range runDirs {
		state, lastSeq, err := RecoverRun(rd.Path)
		if err != nil {
			log.Printf("component=store action=recover_run_failed run_id=%s err=%v", rd.RunID, err)
			continue
		}
		log.Printf("component=store action=recovered_run run_id=%s last_seq=%d state=%s", rd.RunID, lastSeq, state.Run.State)
		recovered = append(recovered, RecoveredRun{
			RunID: rd.RunID,
			State: state,
		})
	}

	return recovered, nil
}

// RecoveredRun pairs a recovered RunState with its ULID.
type RecoveredRun struct {
	RunID ulid.ULID
	State *core.RunState
}
