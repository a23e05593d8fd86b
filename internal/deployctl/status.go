package deployctl

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/jinzoro/syseng-scripts/internal/db"
	"github.com/jinzoro/syseng-scripts/internal/deploy"
	"github.com/jinzoro/syseng-scripts/internal/ui"
	"github.com/jinzoro/syseng-scripts/internal/versionstore"
	"github.com/spf13/cobra"
)

func StatusCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [service]",
		Short: "Show the live version and running state of services",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, err := newApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close()

			services := args
			if len(services) == 0 {
				if services, err = a.store.Services(); err != nil {
					return err
				}
			}
			if len(services) == 0 {
				ui.Info("No services under %s", a.cfg.RootDir)
				return nil
			}
			for _, service := range services {
				ui.Section(fmt.Sprintf("Status for %s", service), a.statusLines(ctx, service))
			}
			return nil
		},
	}
	return cmd
}

func (a *app) statusLines(ctx context.Context, service string) []string {
	live := "none"
	if v, err := a.store.Current(service); err == nil {
		live = fmt.Sprintf("%s (deployed %s)", v.Version, ui.Age(v.CreatedAt))
	} else if !errors.Is(err, versionstore.ErrNoCurrent) {
		live = fmt.Sprintf("unknown (%v)", err)
	}

	lines := []string{
		ui.Field("Live version", live),
		ui.Field("Process", a.runningState(ctx, service)),
	}

	if a.history != nil {
		last, err := a.history.LastAttempt(ctx, service)
		switch {
		case err == nil:
			lines = append(lines, ui.Field("Last attempt", fmt.Sprintf("%s %s %s, %s",
				last.Kind, last.Version, ui.DisplayState(deploy.State(last.State)), ui.Age(last.FinishedAt))))
			if last.Failure != "" {
				lines = append(lines, ui.Field("Last failure", last.Failure))
			}
		case errors.Is(err, db.ErrAttemptNotFound):
		default:
			a.logger.Debug().Err(err).Msg("Failed to read last attempt")
		}
	}
	return lines
}

func (a *app) runningState(ctx context.Context, service string) string {
	registered, err := a.controller.IsRegistered(ctx, service)
	if err != nil {
		return lipgloss.NewStyle().Foreground(ui.LightGray).Italic(true).Render(fmt.Sprintf("unknown (%v)", err))
	}
	if !registered {
		return lipgloss.NewStyle().Foreground(ui.LightGray).Italic(true).Render("Not registered")
	}
	running, err := a.controller.IsRunning(ctx, service)
	switch {
	case err != nil:
		return lipgloss.NewStyle().Foreground(ui.Amber).Render(fmt.Sprintf("unknown (%v)", err))
	case running:
		return lipgloss.NewStyle().Foreground(ui.Green).Render("Running")
	default:
		return lipgloss.NewStyle().Foreground(ui.Red).Render("Stopped")
	}
}
