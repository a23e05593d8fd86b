package deployctl

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jinzoro/syseng-scripts/internal/constants"
	"github.com/jinzoro/syseng-scripts/internal/deploy"
	"github.com/jinzoro/syseng-scripts/internal/ui"
	"github.com/spf13/cobra"
)

func HistoryCmd(root *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [service]",
		Short: "Show recent deployment attempts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, err := newApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.history == nil {
				return errors.New("history database is not available")
			}

			service := ""
			if len(args) == 1 {
				service = args[0]
			}
			attempts, err := a.history.ListAttempts(ctx, service, limit)
			if err != nil {
				return err
			}
			if len(attempts) == 0 {
				ui.Info("No deployment attempts recorded")
				return nil
			}

			rows := make([][]string, 0, len(attempts))
			for _, at := range attempts {
				rows = append(rows, []string{
					at.ID,
					at.Service,
					at.Kind,
					at.Version,
					ui.DisplayState(deploy.State(at.State)),
					strconv.Itoa(at.ExitCode),
					ui.Age(at.StartedAt),
					at.Duration().Round(time.Millisecond).String(),
				})
			}
			fmt.Fprint(ui.Output, ui.Table([]string{"ATTEMPT", "SERVICE", "KIND", "VERSION", "STATE", "EXIT", "STARTED", "DURATION"}, rows))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", constants.DefaultHistoryListLimit, "Maximum number of attempts to show (0 for all)")
	return cmd
}
