package servicectl

import (
	"fmt"

	"github.com/jinzoro/syseng-scripts/internal/config"
	"github.com/jinzoro/syseng-scripts/internal/versionstore"
)

// New returns the controller selected in the configuration.
func New(cfg *config.Config, layout versionstore.Layout) (Controller, error) {
	switch cfg.Controller {
	case config.ControllerProcess, "":
		return NewProcessController(layout), nil
	case config.ControllerSystemd:
		return NewSystemdController(layout, SystemdOptions{UnitDir: cfg.Systemd.UnitDir, User: cfg.Systemd.User}), nil
	case config.ControllerDocker:
		return NewDockerController(layout, DockerOptions{}), nil
	default:
		return nil, fmt.Errorf("unknown controller %q", cfg.Controller)
	}
}

// SpecFor builds the registration for a service from its resolved configuration.
func SpecFor(layout versionstore.Layout, service string, svc config.ServiceConfig) Spec {
	return Spec{
		Service:     service,
		WorkingDir:  layout.CurrentLink(service),
		Command:     svc.Command,
		Env:         svc.Env,
		Image:       svc.Image,
		MountPath:   svc.MountPath,
		StopTimeout: svc.Activation.StopTimeout,
	}
}
