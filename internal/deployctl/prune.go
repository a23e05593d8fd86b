package deployctl

import (
	"errors"

	"github.com/jinzoro/syseng-scripts/internal/ui"
	"github.com/spf13/cobra"
)

func PruneCmd(root *rootOptions) *cobra.Command {
	var (
		all          bool
		keepVersions int
		keepBackups  int
	)

	cmd := &cobra.Command{
		Use:   "prune [service...]",
		Short: "Remove old versions and backups beyond the retention counts",
		Long:  "Remove old versions and backups beyond the retention counts. The live version is never removed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, err := newApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close()

			services := args
			if all {
				if services, err = a.store.Services(); err != nil {
					return err
				}
			}
			if len(services) == 0 {
				return errors.New("name at least one service or pass --all")
			}

			var failed bool
			for _, service := range services {
				svc, _ := a.cfg.Service(service)
				kv, kb := svc.Retention.Versions, svc.Retention.Backups
				if cmd.Flags().Changed("keep-versions") {
					kv = keepVersions
				}
				if cmd.Flags().Changed("keep-backups") {
					kb = keepBackups
				}

				res, err := a.orch.Prune(ctx, service, kv, kb)
				if err != nil {
					ui.Error("Pruning %s failed: %v", service, err)
					failed = true
					continue
				}
				ui.Success("Pruned %d version(s) and %d backup(s) of %s", len(res.Versions), len(res.Backups), service)
			}
			if failed {
				return &ExitError{Code: 1}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Prune every service under the root directory")
	cmd.Flags().IntVar(&keepVersions, "keep-versions", 0, "Number of versions to keep (0 leaves versions alone)")
	cmd.Flags().IntVar(&keepBackups, "keep-backups", 0, "Number of backups to keep (0 leaves backups alone)")
	return cmd
}
