package deployctl

import (
	"errors"
	"fmt"

	"github.com/jinzoro/syseng-scripts/internal/backup"
	"github.com/jinzoro/syseng-scripts/internal/helpers"
	"github.com/jinzoro/syseng-scripts/internal/ui"
	"github.com/jinzoro/syseng-scripts/internal/versionstore"
	"github.com/spf13/cobra"
)

func VersionsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versions <service>",
		Short: "List the versions kept for a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, a, err := newApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close()

			service := args[0]
			versions, err := a.store.List(service)
			if err != nil {
				return err
			}
			if len(versions) == 0 {
				ui.Info("No versions of %s", service)
				return nil
			}
			live, err := a.store.CurrentName(service)
			if err != nil && !errors.Is(err, versionstore.ErrNoCurrent) {
				return err
			}

			rows := make([][]string, 0, len(versions))
			// Newest first.
			for i := len(versions) - 1; i >= 0; i-- {
				v := versions[i]
				marker := ""
				if v.Version == live {
					marker = "*"
				}
				rows = append(rows, []string{marker, v.Version, ui.Age(v.CreatedAt), helpers.SafeIDPrefix(v.SHA256), v.Artifact})
			}
			fmt.Fprint(ui.Output, ui.Table([]string{"LIVE", "VERSION", "CREATED", "SHA256", "ARTIFACT"}, rows))
			return nil
		},
	}
	return cmd
}

func BackupsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups <service>",
		Short: "List the backup snapshots of a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, a, err := newApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close()

			snaps, err := a.backups.List(args[0])
			if err != nil {
				return err
			}
			if len(snaps) == 0 {
				ui.Info("No backups of %s", args[0])
				return nil
			}
			fmt.Fprint(ui.Output, ui.Table([]string{"BACKUP", "VERSION", "CREATED", "SIZE", "ENCRYPTED"}, backupRows(snaps)))
			return nil
		},
	}
	return cmd
}

func backupRows(snaps []backup.Snapshot) [][]string {
	rows := make([][]string, 0, len(snaps))
	for i := len(snaps) - 1; i >= 0; i-- {
		s := snaps[i]
		encrypted := "no"
		if s.Encrypted {
			encrypted = "yes"
		}
		rows = append(rows, []string{s.Name(), s.SourceVersion, ui.Age(s.CreatedAt), fmt.Sprintf("%d", s.Size), encrypted})
	}
	return rows
}
