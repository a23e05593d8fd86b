package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jinzoro/syseng-scripts/internal/constants"
	"github.com/jinzoro/syseng-scripts/internal/versionstore"
)

// Report is the structured outcome of an attempt, written for every terminal state.
type Report struct {
	AttemptID         string       `json:"attempt_id"`
	Kind              Kind         `json:"kind"`
	Service           string       `json:"service"`
	Version           string       `json:"version"`
	PreviousVersion   string       `json:"previous_version,omitempty"`
	State             State        `json:"state"`
	ExitCode          int          `json:"exit_code"`
	StartedAt         time.Time    `json:"started_at"`
	FinishedAt        time.Time    `json:"finished_at"`
	DurationSeconds   float64      `json:"duration_seconds"`
	Failure           string       `json:"failure,omitempty"`
	FailureKind       string       `json:"failure_kind,omitempty"`
	RollbackFailure   string       `json:"rollback_failure,omitempty"`
	RollbackPerformed bool         `json:"rollback_performed"`
	Backup            string       `json:"backup,omitempty"`
	HealthProbes      int          `json:"health_probes"`
	PrunedVersions    []string     `json:"pruned_versions,omitempty"`
	PrunedBackups     []string     `json:"pruned_backups,omitempty"`
	Transitions       []Transition `json:"transitions"`
}

func (a *Attempt) Report() Report {
	r := Report{
		AttemptID:         a.ID,
		Kind:              a.Kind,
		Service:           a.Service,
		Version:           a.Version,
		PreviousVersion:   a.PreviousVersion,
		State:             a.State,
		ExitCode:          a.State.ExitCode(),
		StartedAt:         a.StartedAt,
		FinishedAt:        a.FinishedAt,
		DurationSeconds:   a.Duration().Seconds(),
		FailureKind:       ErrorKind(a.Err),
		RollbackPerformed: a.RollbackPerformed(),
		HealthProbes:      a.HealthProbes,
		PrunedVersions:    a.PrunedVersions,
		PrunedBackups:     a.PrunedBackups,
		Transitions:       a.Transitions,
	}
	if a.Err != nil {
		r.Failure = a.Err.Error()
	}
	if a.RollbackErr != nil {
		r.RollbackFailure = a.RollbackErr.Error()
	}
	if a.Snapshot != nil {
		r.Backup = a.Snapshot.Name()
	}
	return r
}

// Reporter receives the report of every finished attempt.
type Reporter interface {
	Name() string
	Report(ctx context.Context, r Report) error
}

// FileReporter writes <root>/<service>/reports/<attempt-id>.json.
type FileReporter struct {
	layout versionstore.Layout
}

func NewFileReporter(layout versionstore.Layout) *FileReporter {
	return &FileReporter{layout: layout}
}

func (f *FileReporter) Name() string { return "file" }

func (f *FileReporter) Report(ctx context.Context, r Report) error {
	dir := f.layout.ReportsDir(r.Service)
	if err := os.MkdirAll(dir, constants.ModeDirDefault); err != nil {
		return fmt.Errorf("failed to create reports directory: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	path := filepath.Join(dir, r.AttemptID+".json")
	if err := os.WriteFile(path, data, constants.ModeFileDefault); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// ReadReport loads a report written by FileReporter.
func ReadReport(path string) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, err
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return Report{}, fmt.Errorf("corrupt report %s: %w", path, err)
	}
	return r, nil
}
