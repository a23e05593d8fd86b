package metrics

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jinzoro/syseng-scripts/internal/deploy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextfileReporter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "textfiles")
	reporter := NewTextfileReporter(dir)
	assert.Equal(t, "metrics", reporter.Name())

	finished := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	err := reporter.Report(context.Background(), deploy.Report{
		Service:           "api",
		Version:           "1.1.0",
		State:             deploy.StateRolledBack,
		ExitCode:          2,
		FinishedAt:        finished,
		DurationSeconds:   12.5,
		HealthProbes:      5,
		RollbackPerformed: true,
		PrunedVersions:    []string{"0.9.0"},
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "deployctl_api.prom"))
	require.NoError(t, err)
	text := string(data)

	assert.Contains(t, text, `deployctl_last_attempt_state{service="api",state="rolled_back"} 1`)
	assert.Contains(t, text, `deployctl_last_attempt_state{service="api",state="succeeded"} 0`)
	assert.Contains(t, text, `deployctl_last_attempt_exit_code{service="api"} 2`)
	assert.Contains(t, text, `deployctl_last_attempt_duration_seconds{service="api"} 12.5`)
	assert.Contains(t, text, `deployctl_last_attempt_health_probes{service="api"} 5`)
	assert.Contains(t, text, `deployctl_last_attempt_rollback_performed{service="api"} 1`)
	assert.Contains(t, text, `deployctl_last_attempt_pruned_versions{service="api"} 1`)
	assert.Contains(t, text, "# HELP deployctl_last_attempt_timestamp_seconds")
}

func TestTextfileReporterOverwritesPerService(t *testing.T) {
	dir := t.TempDir()
	reporter := NewTextfileReporter(dir)
	ctx := context.Background()

	require.NoError(t, reporter.Report(ctx, deploy.Report{Service: "api", State: deploy.StateFailed, ExitCode: 1}))
	require.NoError(t, reporter.Report(ctx, deploy.Report{Service: "api", State: deploy.StateSucceeded}))
	require.NoError(t, reporter.Report(ctx, deploy.Report{Service: "web", State: deploy.StateSucceeded}))

	data, err := os.ReadFile(reporter.Path("api"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `deployctl_last_attempt_state{service="api",state="succeeded"} 1`)
	assert.Contains(t, string(data), `deployctl_last_attempt_state{service="api",state="failed"} 0`)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
