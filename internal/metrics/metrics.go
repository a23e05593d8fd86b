package metrics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jinzoro/syseng-scripts/internal/constants"
	"github.com/jinzoro/syseng-scripts/internal/deploy"
	"github.com/prometheus/client_golang/prometheus"
)

var states = []deploy.State{
	deploy.StateSucceeded,
	deploy.StateFailed,
	deploy.StateRolledBack,
	deploy.StateRollbackFailed,
}

// TextfileReporter writes the last attempt of each service as a node_exporter
// textfile: <dir>/deployctl_<service>.prom.
type TextfileReporter struct {
	dir string
}

func NewTextfileReporter(dir string) *TextfileReporter {
	return &TextfileReporter{dir: dir}
}

func (t *TextfileReporter) Name() string { return "metrics" }

func (t *TextfileReporter) Path(service string) string {
	return filepath.Join(t.dir, constants.MetricsFilePrefix+service+".prom")
}

func (t *TextfileReporter) Report(ctx context.Context, r deploy.Report) error {
	if err := os.MkdirAll(t.dir, constants.ModeDirDefault); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"service": r.Service}

	state := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        "deployctl_last_attempt_state",
		Help:        "Terminal state of the last attempt (1 for the state reached).",
		ConstLabels: labels,
	}, []string{"state"})
	for _, s := range states {
		v := 0.0
		if s == r.State {
			v = 1
		}
		state.WithLabelValues(string(s)).Set(v)
	}

	gauge := func(name, help string, v float64) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help, ConstLabels: labels})
		g.Set(v)
		return g
	}
	rollback := 0.0
	if r.RollbackPerformed {
		rollback = 1
	}

	reg.MustRegister(
		state,
		gauge("deployctl_last_attempt_exit_code", "Exit code of the last attempt.", float64(r.ExitCode)),
		gauge("deployctl_last_attempt_duration_seconds", "Wall time of the last attempt.", r.DurationSeconds),
		gauge("deployctl_last_attempt_health_probes", "Readiness probes sent during the last attempt.", float64(r.HealthProbes)),
		gauge("deployctl_last_attempt_rollback_performed", "Whether the last attempt rolled back.", rollback),
		gauge("deployctl_last_attempt_timestamp_seconds", "Unix time the last attempt finished.", float64(r.FinishedAt.Unix())),
		gauge("deployctl_last_attempt_pruned_versions", "Versions removed by retention after the last attempt.", float64(len(r.PrunedVersions))),
		gauge("deployctl_last_attempt_pruned_backups", "Backups removed by retention after the last attempt.", float64(len(r.PrunedBackups))),
	)

	if err := prometheus.WriteToTextfile(t.Path(r.Service), reg); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
