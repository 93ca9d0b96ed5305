package sync

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tino-kuptz/push-to/internal/plan"
)

// Report summarizes one run. The latest report is persisted to the state
// directory when one is configured.
type Report struct {
	RunID      string             `json:"run_id"`
	Commit     string             `json:"commit,omitempty"`
	DryRun     bool               `json:"dry_run"`
	Source     string             `json:"source"`
	Target     string             `json:"target"`
	Planned    map[plan.Phase]int `json:"planned"`
	Completed  map[plan.Phase]int `json:"completed,omitempty"`
	State      string             `json:"state"`
	Error      string             `json:"error,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
}

// Duration returns the wall time of the run.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// saveReport writes r as indented JSON. The file is replaced atomically so
// a concurrent reader never sees a partial report.
func saveReport(path string, r *Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".push-to-report-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// LoadReport reads a report written by a previous run. A missing file
// yields (nil, nil).
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse report %s: %w", path, err)
	}
	return &r, nil
}
