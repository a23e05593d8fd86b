package deployctl

import (
	"errors"
	"fmt"

	"github.com/jinzoro/syseng-scripts/internal/config"
	"github.com/jinzoro/syseng-scripts/internal/deploy"
	"github.com/jinzoro/syseng-scripts/internal/servicectl"
	"github.com/jinzoro/syseng-scripts/internal/ui"
	"github.com/spf13/cobra"
)

func RollbackCmd(root *rootOptions) *cobra.Command {
	var backupFlag string

	cmd := &cobra.Command{
		Use:   "rollback <service>",
		Short: "Restore a service from a backup",
		Long: `Restore the newest backup of a service (or the one given with --backup), point the
current pointer at it and restart the service. Use "deployctl backups <service>" to list backups.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, err := newApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close()

			service := args[0]
			svc, _ := a.cfg.Service(service)
			if err := runnable(a.cfg.Controller, svc); err != nil {
				return fmt.Errorf("service %s: %w", service, err)
			}

			att, err := a.orch.RollbackTo(ctx, deploy.RollbackRequest{
				Service:     service,
				Backup:      backupFlag,
				Spec:        servicectl.SpecFor(a.store.Layout(), service, svc),
				SettleDelay: svc.Activation.SettleDelay,
				Timeout:     a.cfg.RollbackTimeout,
			})
			if err != nil {
				return err
			}
			fmt.Fprint(ui.Output, ui.RenderReport(att.Report()))
			if att.State == deploy.StateRollbackFailed {
				return &ExitError{Code: deploy.ExitRollbackFailed}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&backupFlag, "backup", "b", "", "Backup archive to restore (default: newest)")
	return cmd
}

func runnable(controller string, svc config.ServiceConfig) error {
	if controller == config.ControllerDocker {
		if svc.Image == "" {
			return errors.New("the docker controller requires services.<name>.image")
		}
		return nil
	}
	if len(svc.Command) == 0 {
		return errors.New("no command configured; set services.<name>.command")
	}
	return nil
}
