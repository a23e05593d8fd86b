package deploy

import (
	"context"
	"time"

	"github.com/jinzoro/syseng-scripts/internal/logging"
	"github.com/jinzoro/syseng-scripts/internal/servicectl"
	"github.com/jinzoro/syseng-scripts/internal/versionstore"
)

// Activator points a service at a version and restarts it.
type Activator struct {
	store      *versionstore.Store
	controller servicectl.Controller
}

func NewActivator(store *versionstore.Store, controller servicectl.Controller) *Activator {
	return &Activator{store: store, controller: controller}
}

// Activate registers the service, swaps the Current Pointer to version, restarts the
// service and, after the settle delay, checks once that it is running.
// Registration is an upsert so configuration changes reach the controller.
func (a *Activator) Activate(ctx context.Context, spec servicectl.Spec, version string, settle time.Duration) error {
	logger := logging.Ctx(ctx)

	if err := a.controller.Register(ctx, spec); err != nil {
		return &ActivationError{Step: StepRegister, Err: err}
	}
	if err := a.store.SwapCurrent(spec.Service, version); err != nil {
		return &ActivationError{Step: StepSwap, Err: err}
	}
	logger.Debug().Str(logging.FieldVersion, version).Msg("Current pointer swapped")

	return a.restart(ctx, spec.Service, settle)
}

// restart is shared with the rollback path.
func (a *Activator) restart(ctx context.Context, service string, settle time.Duration) error {
	if err := a.controller.Stop(ctx, service); err != nil {
		return &ActivationError{Step: StepStop, Err: err}
	}
	if err := a.controller.Start(ctx, service); err != nil {
		return &ActivationError{Step: StepStart, Err: err}
	}
	if err := sleepCtx(ctx, settle); err != nil {
		return &ActivationError{Step: StepSettle, Err: err}
	}
	running, err := a.controller.IsRunning(ctx, service)
	if err != nil {
		return &ActivationError{Step: StepVerifyRunning, Err: err}
	}
	if !running {
		return &ActivationError{Step: StepVerifyRunning, Err: ErrNotRunning}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
