// ABOUTME: Atomic snapshot save and load for RunState persistence.
// ABOUTME: Writes snapshots with atomic rename for crash safety and loads the latest by sequence number.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/2389-research/graphrun/core"
)

// snapshotJSON is the wire format for a RunState snapshot.
type snapshotJSON struct {
	Run       core.Run       `json:"run"`
	Steps     []core.Step    `json:"steps"`
	RunMemory map[string]any `json:"run_memory"`
	NextSeq   uint64         `json:"next_seq"`
}

// SaveSnapshot saves a RunState snapshot to disk using atomic write (write to
// .tmp, fsync, rename). Creates the target directory if it does not exist.
// Snapshots are named by the state's NextSeq so LoadLatestSnapshot can pick
// the most recent one without reading file contents.
func SaveSnapshot(dir string, state *core.RunState) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	j := snapshotJSON{
		Run:       state.Run,
		Steps:     state.Steps,
		RunMemory: state.RunMemory,
		NextSeq:   state.NextSeq,
	}
	jsonData, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmpPath := filepath.Join(dir, fmt.Sprintf("state_%d.tmp", state.NextSeq))
	finalPath := filepath.Join(dir, fmt.Sprintf("state_%d.json", state.NextSeq))

	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}

	if _, err := tmpFile.Write(jsonData); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write snapshot data: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("fsync snapshot: %w", err)
	}
	_ = tmpFile.Close()

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}

	return nil
}

// LoadLatestSnapshot loads the snapshot with the highest sequence number from
// the given directory. Returns nil if the directory is empty or does not exist.
func LoadLatestSnapshot(dir string) (*core.RunState, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat snapshot dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("snapshot path is not a directory: %s", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read snapshot dir: %w", err)
	}

	var bestSeq uint64
	var bestPath string
	found := false

	for _, entry := range entries {
		name := entry.Name()

		if !strings.HasPrefix(name, "state_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		seqStr := strings.TrimSuffix(strings.TrimPrefix(name, "state_"), ".json")

		seq, err := strconv.ParseUint(seqStr, 10, 64)
		if err != nil {
			continue
		}

		if !found || seq > bestSeq {
			bestSeq = seq
			bestPath = filepath.Join(dir, name)
			found = true
		}
	}

	if !found {
		return nil, nil
	}

	contents, err := os.ReadFile(bestPath)
	if err != nil {
		return nil, fmt.Errorf("read snapshot file: %w", err)
	}

	var j snapshotJSON
	if err := json.Unmarshal(contents, &j); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}

	return core.RestoreRunState(j.Run, j.Steps, j.RunMemory, j.NextSeq), nil
}
