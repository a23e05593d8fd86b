package deployctl

import (
	"path/filepath"

	"github.com/jinzoro/syseng-scripts/internal/config"
	"github.com/jinzoro/syseng-scripts/internal/constants"
	"github.com/jinzoro/syseng-scripts/internal/ui"
	"github.com/spf13/cobra"
)

func InitCmd() *cobra.Command {
	var (
		force   bool
		rootDir string
	)

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a sample configuration file",
		Long:  "Write a sample configuration file. The format follows the extension: .yaml, .yml, .json or .toml.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := constants.DefaultConfigName + ".yaml"
			if len(args) == 1 {
				path = args[0]
			}
			root := rootDir
			if root == "" {
				root = config.DefaultRootDir()
			}
			if err := config.WriteSample(path, root, force); err != nil {
				return err
			}
			ui.Success("Wrote sample configuration to %s", filepath.Clean(path))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	cmd.Flags().StringVar(&rootDir, "root", "", "Root directory written into the sample (default: $DEPLOYCTL_ROOT or /var/lib/deployctl)")
	return cmd
}
