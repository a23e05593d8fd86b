package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jinzoro/syseng-scripts/internal/deploy"
	"github.com/jinzoro/syseng-scripts/internal/logging"
)

// HistoryReporter stores every finished attempt and trims the table per service.
type HistoryReporter struct {
	db   *DB
	keep int
}

func NewHistoryReporter(db *DB, keep int) *HistoryReporter {
	return &HistoryReporter{db: db, keep: keep}
}

func (h *HistoryReporter) Name() string { return "history" }

func (h *HistoryReporter) Report(ctx context.Context, r deploy.Report) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := h.db.SaveAttempt(ctx, FromReport(r, doc)); err != nil {
		return err
	}
	if h.keep > 0 {
		pruned, err := h.db.PruneOldAttempts(ctx, r.Service, h.keep)
		if err != nil {
			return err
		}
		if pruned > 0 {
			logging.Ctx(ctx).Debug().Int64("rows", pruned).Msg("Pruned attempt history")
		}
	}
	return nil
}

// FromReport converts a report into a history row; doc is the encoded report kept alongside.
func FromReport(r deploy.Report, doc json.RawMessage) Attempt {
	return Attempt{
		ID:                r.AttemptID,
		Kind:              string(r.Kind),
		Service:           r.Service,
		Version:           r.Version,
		PreviousVersion:   r.PreviousVersion,
		State:             string(r.State),
		ExitCode:          r.ExitCode,
		StartedAt:         r.StartedAt,
		FinishedAt:        r.FinishedAt,
		Failure:           r.Failure,
		FailureKind:       r.FailureKind,
		RollbackPerformed: r.RollbackPerformed,
		Backup:            r.Backup,
		HealthProbes:      r.HealthProbes,
		Report:            doc,
	}
}
