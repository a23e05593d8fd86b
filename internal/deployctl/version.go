package deployctl

import (
	"fmt"

	"github.com/jinzoro/syseng-scripts/internal/constants"
	"github.com/jinzoro/syseng-scripts/internal/ui"
	"github.com/spf13/cobra"
)

func VersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the current version of deployctl",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(ui.Output, "deployctl %s\n", constants.Version)
		},
	}

	return cmd
}
