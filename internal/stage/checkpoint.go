package stage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StageResult records one stage execution.
type StageResult struct {
	Name        string    `json:"name"`
	Output      string    `json:"output"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	Attempts    int       `json:"attempts"`
	DurationMs  int64     `json:"durationMs"`
	CompletedAt time.Time `json:"completedAt"`
}

// CheckpointSchemaVersion is the format version written to checkpoint files.
const CheckpointSchemaVersion = 1

// Checkpoint is a resumable snapshot of a stage pipeline. The checksum
// covers every field except itself.
type Checkpoint struct {
	SchemaVersion           int            `json:"schemaVersion"`
	ID                      string         `json:"id"`
	Agent                   string         `json:"agent"`
	Task                    string         `json:"task"`
	Mode                    string         `json:"mode,omitempty"`
	StageResults            []StageResult  `json:"stageResults"`
	LastCompletedStageIndex int            `json:"lastCompletedStageIndex"` // -1 when nothing completed
	PreviousOutputs         []string       `json:"previousOutputs"`         // completed stage outputs, pipeline order
	SharedData              map[string]any `json:"sharedData,omitempty"`
	CreatedAt               time.Time      `json:"createdAt"`
	UpdatedAt               time.Time      `json:"updatedAt"`
	Checksum                string         `json:"checksum"`
}

// ComputeChecksum hashes the checkpoint with the checksum field blanked.
func (c *Checkpoint) ComputeChecksum() (string, error) {
	clone := *c
	clone.Checksum = ""
	data, err := json.Marshal(&clone)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Verify recomputes the checksum and compares.
func (c *Checkpoint) Verify() error {
	want, err := c.ComputeChecksum()
	if err != nil {
		return err
	}
	if want != c.Checksum {
		return fmt.Errorf("checksum mismatch: stored %s, computed %s", c.Checksum, want)
	}
	return nil
}

func (ctl *Controller) checkpointPath(id string) string {
	return filepath.Join(ctl.checkpointDir, id+".json")
}

func (ctl *Controller) saveCheckpoint(cp *Checkpoint) error {
	cp.UpdatedAt = ctl.nowFunc().UTC()

	sum, err := cp.ComputeChecksum()
	if err != nil {
		return &Error{Code: ErrCodeCheckpointWrite, Message: fmt.Sprintf("checksum checkpoint: %v", err), Cause: err}
	}
	cp.Checksum = sum

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return &Error{Code: ErrCodeCheckpointWrite, Message: fmt.Sprintf("encode checkpoint: %v", err), Cause: err}
	}

	if err := os.MkdirAll(ctl.checkpointDir, 0o755); err != nil {
		return &Error{Code: ErrCodeCheckpointWrite, Message: fmt.Sprintf("create checkpoint dir: %v", err), Cause: err}
	}

	path := ctl.checkpointPath(cp.ID)
	tmp := fmt.Sprintf("%s.tmp.%d", path, os.Getpid())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &Error{Code: ErrCodeCheckpointWrite, Message: fmt.Sprintf("write checkpoint: %v", err), Cause: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &Error{Code: ErrCodeCheckpointWrite, Message: fmt.Sprintf("replace checkpoint: %v", err), Cause: err}
	}
	return nil
}

// LoadCheckpoint reads and verifies a checkpoint by id.
func (ctl *Controller) LoadCheckpoint(id string) (*Checkpoint, error) {
	data, err := os.ReadFile(ctl.checkpointPath(id))
	if os.IsNotExist(err) {
		return nil, &Error{Code: ErrCodeCheckpointNotFound, Message: fmt.Sprintf("checkpoint %s not found", id)}
	}
	if err != nil {
		return nil, &Error{Code: ErrCodeCheckpointCorrupt, Message: fmt.Sprintf("read checkpoint: %v", err), Cause: err}
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, &Error{Code: ErrCodeCheckpointCorrupt, Message: fmt.Sprintf("decode checkpoint %s: %v", id, err), Cause: err}
	}
	if err := cp.Verify(); err != nil {
		return nil, &Error{Code: ErrCodeCheckpointCorrupt, Message: fmt.Sprintf("checkpoint %s: %v", id, err), Cause: err}
	}
	return &cp, nil
}

// DeleteCheckpoint removes a checkpoint file. Missing files are fine.
func (ctl *Controller) DeleteCheckpoint(id string) error {
	if err := os.Remove(ctl.checkpointPath(id)); err != nil && !os.IsNotExist(err) {
		return &Error{Code: ErrCodeCheckpointWrite, Message: fmt.Sprintf("delete checkpoint: %v", err), Cause: err}
	}
	return nil
}

// ListCheckpoints returns the ids of stored checkpoints.
func (ctl *Controller) ListCheckpoints() ([]string, error) {
	entries, err := os.ReadDir(ctl.checkpointDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &Error{Code: ErrCodeCheckpointWrite, Message: fmt.Sprintf("list checkpoints: %v", err), Cause: err}
	}

	var out []string
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) == ".json" {
			out = append(out, name[:len(name)-len(".json")])
		}
	}
	return out, nil
}
