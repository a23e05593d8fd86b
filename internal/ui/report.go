package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jinzoro/syseng-scripts/internal/deploy"
	"github.com/jinzoro/syseng-scripts/internal/helpers"
)

// DisplayState colours a deployment state for terminal output.
func DisplayState(state deploy.State) string {
	switch state {
	case deploy.StateSucceeded:
		return lipgloss.NewStyle().Foreground(Green).Render("Succeeded")
	case deploy.StateRolledBack:
		return lipgloss.NewStyle().Foreground(Amber).Render("Rolled back")
	case deploy.StateFailed:
		return lipgloss.NewStyle().Foreground(Red).Render("Failed")
	case deploy.StateRollbackFailed:
		return lipgloss.NewStyle().Foreground(Red).Bold(true).Render("Rollback failed")
	default:
		return lipgloss.NewStyle().Foreground(LightGray).Italic(true).Render(string(state))
	}
}

// RenderReport formats a finished attempt.
func RenderReport(r deploy.Report) string {
	lines := []string{
		Field("State", DisplayState(r.State)),
		Field("Version", r.Version),
	}
	if r.PreviousVersion != "" {
		lines = append(lines, Field("Previous version", r.PreviousVersion))
	}
	lines = append(lines,
		Field("Attempt", r.AttemptID),
		Field("Duration", (time.Duration(r.DurationSeconds*float64(time.Second))).Round(time.Millisecond).String()),
	)
	if r.Backup != "" {
		lines = append(lines, Field("Backup", r.Backup))
	}
	if r.HealthProbes > 0 {
		lines = append(lines, Field("Health probes", fmt.Sprintf("%d", r.HealthProbes)))
	}
	if r.Failure != "" {
		lines = append(lines, Field("Failure", fmt.Sprintf("%s (%s)", r.Failure, r.FailureKind)))
	}
	if r.RollbackFailure != "" {
		lines = append(lines, Field("Rollback failure", r.RollbackFailure))
	}
	if r.State == deploy.StateRollbackFailed {
		lines = append(lines, errorStyle.Render("Manual intervention required"))
	}
	if len(r.PrunedVersions) > 0 {
		lines = append(lines, Field("Pruned versions", strings.Join(r.PrunedVersions, ", ")))
	}
	if len(r.PrunedBackups) > 0 {
		lines = append(lines, Field("Pruned backups", strings.Join(r.PrunedBackups, ", ")))
	}

	title := r.Service
	if r.Kind != "" {
		kind := string(r.Kind)
		title = strings.ToUpper(kind[:1]) + kind[1:] + " " + r.Service
	}
	return titleStyle.Render(title) + "\n  " + strings.Join(lines, "\n  ") + "\n"
}

// RenderPlan formats a dry run.
func RenderPlan(p deploy.Plan) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Plan for %s %s (dry run)", p.Service, p.Version)))
	b.WriteString("\n")
	for i, step := range p.Steps {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, step)
	}
	return b.String()
}

// Age formats a timestamp relative to now, e.g. "3 hours ago".
func Age(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return helpers.FormatAge(t, time.Now())
}
