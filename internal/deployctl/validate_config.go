package deployctl

import (
	"path/filepath"

	"github.com/jinzoro/syseng-scripts/internal/config"
	"github.com/jinzoro/syseng-scripts/internal/ui"
	"github.com/spf13/cobra"
)

func ValidateConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate-config",
		Short: "Validate a deployctl config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, configFile, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			if configFile == "" {
				ui.Warn("No config file found, built-in defaults are valid")
				return nil
			}

			for _, name := range cfg.ServiceNames() {
				svc, _ := cfg.Service(name)
				if err := svc.ValidateForDeploy(cfg.Controller); err != nil {
					ui.Warn("Service '%s' needs flags to deploy: %v", name, err)
				}
			}
			ui.Success("Config file '%s' is valid!", filepath.Base(configFile))
			return nil
		},
	}
	return cmd
}
