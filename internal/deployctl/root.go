package deployctl

import (
	"github.com/jinzoro/syseng-scripts/internal/config"
	"github.com/spf13/cobra"
)

// rootOptions holds the flags shared by every command.
type rootOptions struct {
	configPath string
	debug      bool
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "deployctl",
		Short: "deployctl deploys versioned services on a single host and rolls back on failure",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config.LoadEnvFiles() // load environment variables in .env for all commands.
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to config file or directory (default: . then the config directory)")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(
		DeployCmd(opts),
		RollbackCmd(opts),
		VersionsCmd(opts),
		BackupsCmd(opts),
		HistoryCmd(opts),
		PruneCmd(opts),
		StatusCmd(opts),
		InitCmd(),
		ValidateConfigCmd(opts),
		VersionCmd(),
		CompletionCmd(),
	)

	return cmd
}
