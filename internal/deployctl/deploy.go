package deployctl

import (
	"fmt"
	"time"

	"github.com/jinzoro/syseng-scripts/internal/config"
	"github.com/jinzoro/syseng-scripts/internal/deploy"
	"github.com/jinzoro/syseng-scripts/internal/health"
	"github.com/jinzoro/syseng-scripts/internal/helpers"
	"github.com/jinzoro/syseng-scripts/internal/servicectl"
	"github.com/jinzoro/syseng-scripts/internal/ui"
	"github.com/jinzoro/syseng-scripts/internal/versionstore"
	"github.com/spf13/cobra"
)

// deployOptions are per-invocation overrides of the service configuration.
type deployOptions struct {
	artifact     string
	configFile   string
	extract      bool
	healthURL    string
	timeout      time.Duration
	retries      int
	interval     time.Duration
	probeTimeout time.Duration
	noRollback   bool
	dryRun       bool
	force        bool
	keepVersions int
	keepBackups  int
}

func DeployCmd(root *rootOptions) *cobra.Command {
	opts := &deployOptions{}

	cmd := &cobra.Command{
		Use:   "deploy <service> <version>",
		Short: "Deploy a version of a service",
		Long: `Back up the live version, stage the new one, switch the current pointer, restart the
service and verify its health endpoint. A failed activation or health check rolls back to
the backup taken at the start of the attempt.

Exit codes: 0 succeeded, 1 failed, 2 rolled back, 3 rollback failed.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, err := newApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close()

			service, version := args[0], args[1]
			req, declared, err := buildDeployRequest(a.cfg, a.store.Layout(), service, version, opts, cmd.Flags().Changed)
			if err != nil {
				return err
			}
			if !declared {
				ui.Warn("Service '%s' is not declared in the config file, using defaults", service)
			}

			if opts.dryRun {
				plan, err := a.orch.Plan(ctx, req)
				if err != nil {
					return fmt.Errorf("dry run failed: %w", err)
				}
				fmt.Fprint(ui.Output, ui.RenderPlan(plan))
				return nil
			}

			ui.Info("Deploying %s %s", service, version)
			att, err := a.orch.Deploy(ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprint(ui.Output, ui.RenderReport(att.Report()))
			return outcomeError(att.State)
		},
	}

	cmd.Flags().StringVarP(&opts.artifact, "artifact", "a", "", "Artifact file, directory or http(s) URL ({service} and {version} are expanded)")
	cmd.Flags().StringVar(&opts.configFile, "config-file", "", "Configuration file copied into the version directory")
	cmd.Flags().BoolVar(&opts.extract, "extract", false, "Extract the artifact as a tar archive (gzip, bzip2 and xz are detected)")
	cmd.Flags().StringVar(&opts.healthURL, "health-url", "", "Readiness endpoint probed after activation")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Overall deployment timeout")
	cmd.Flags().IntVar(&opts.retries, "retries", 0, "Number of health probes before giving up")
	cmd.Flags().DurationVar(&opts.interval, "interval", 0, "Delay between health probes")
	cmd.Flags().DurationVar(&opts.probeTimeout, "probe-timeout", 0, "Timeout of a single health probe")
	cmd.Flags().BoolVar(&opts.noRollback, "no-rollback", false, "Leave a failed version in place instead of rolling back")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Check the artifact and print the planned steps without changing anything")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Replace an existing version directory that is not live")
	cmd.Flags().IntVar(&opts.keepVersions, "keep-versions", 0, "Number of versions to keep")
	cmd.Flags().IntVar(&opts.keepBackups, "keep-backups", 0, "Number of backups to keep")

	return cmd
}

// buildDeployRequest resolves the service configuration and applies the flags that were set.
func buildDeployRequest(cfg *config.Config, layout versionstore.Layout, service, version string, opts *deployOptions, changed func(string) bool) (deploy.Request, bool, error) {
	if !helpers.IsValidServiceName(service) {
		return deploy.Request{}, false, fmt.Errorf("invalid service name '%s'; must contain only alphanumeric characters, hyphens, and underscores", service)
	}
	if err := helpers.ValidateVersion(version); err != nil {
		return deploy.Request{}, false, err
	}

	svc, declared := cfg.Service(service)
	if changed("artifact") {
		svc.Artifact = opts.artifact
	}
	if changed("config-file") {
		svc.ConfigFile = opts.configFile
	}
	if changed("extract") {
		svc.Extract = opts.extract
	}
	if changed("health-url") {
		svc.Health.URL = opts.healthURL
	}
	if changed("retries") {
		svc.Health.Attempts = opts.retries
	}
	if changed("interval") {
		svc.Health.Interval = opts.interval
	}
	if changed("probe-timeout") {
		svc.Health.ProbeTimeout = opts.probeTimeout
	}
	if changed("keep-versions") {
		svc.Retention.Versions = opts.keepVersions
	}
	if changed("keep-backups") {
		svc.Retention.Backups = opts.keepBackups
	}
	if opts.noRollback {
		disabled := false
		svc.Rollback = &disabled
	}
	if err := svc.ValidateForDeploy(cfg.Controller); err != nil {
		return deploy.Request{}, declared, fmt.Errorf("service %s: %w", service, err)
	}

	timeout := cfg.DeployTimeout
	if changed("timeout") {
		timeout = opts.timeout
	}

	return deploy.Request{
		Service:    service,
		Version:    version,
		Artifact:   svc.ArtifactFor(service, version),
		Extract:    svc.Extract,
		ConfigFile: svc.ConfigFileFor(service, version),
		Force:      opts.force,

		Spec:        servicectl.SpecFor(layout, service, svc),
		SettleDelay: svc.Activation.SettleDelay,
		Health: health.Policy{
			URL:          svc.Health.URL,
			Attempts:     svc.Health.Attempts,
			Interval:     svc.Health.Interval,
			ProbeTimeout: svc.Health.ProbeTimeout,
		},
		Rollback: svc.RollbackEnabled(),

		KeepVersions: svc.Retention.Versions,
		KeepBackups:  svc.Retention.Backups,

		Timeout:         timeout,
		RollbackTimeout: cfg.RollbackTimeout,
	}, declared, nil
}
