package deploy

import (
	"context"
	"fmt"
	"time"

	"github.com/jinzoro/syseng-scripts/internal/backup"
	"github.com/jinzoro/syseng-scripts/internal/logging"
	"github.com/jinzoro/syseng-scripts/internal/servicectl"
	"github.com/jinzoro/syseng-scripts/internal/versionstore"
)

// RollbackController restores a Backup Snapshot and restarts the service on it.
type RollbackController struct {
	store      *versionstore.Store
	backups    *backup.Manager
	controller servicectl.Controller
	activator  *Activator
}

func NewRollbackController(store *versionstore.Store, backups *backup.Manager, controller servicectl.Controller) *RollbackController {
	return &RollbackController{
		store:      store,
		backups:    backups,
		controller: controller,
		activator:  NewActivator(store, controller),
	}
}

// Rollback runs at most once per attempt. It stops the service, replaces the
// snapshot's version directory with the archive content, points current back at it
// and restarts. It never retries.
func (r *RollbackController) Rollback(ctx context.Context, att *Attempt, snap *backup.Snapshot, spec servicectl.Spec, settle time.Duration) error {
	if !att.claimRollback() {
		return ErrRollbackAlreadyPerformed
	}
	if snap == nil {
		return &RollbackError{Step: "snapshot", Err: ErrNoSnapshot}
	}
	logger := logging.Ctx(ctx)
	logger.Warn().Str("backup", snap.Name()).Str("restore_version", snap.SourceVersion).Msg("Rolling back")

	running, err := r.controller.IsRunning(ctx, spec.Service)
	if err != nil {
		logger.Warn().Err(err).Msg("Could not determine running state before rollback, stopping anyway")
		running = true
	}
	if running {
		if err := r.controller.Stop(ctx, spec.Service); err != nil {
			return &RollbackError{Step: "stop", Err: err}
		}
	}

	if err := r.backups.Restore(ctx, *snap); err != nil {
		return &RollbackError{Step: "restore", Err: err}
	}
	if err := r.controller.Register(ctx, spec); err != nil {
		return &RollbackError{Step: "register", Err: err}
	}
	if err := r.store.SwapCurrent(spec.Service, snap.SourceVersion); err != nil {
		return &RollbackError{Step: "swap", Err: err}
	}
	if err := r.activator.restart(ctx, spec.Service, settle); err != nil {
		return &RollbackError{Step: "restart", Err: err}
	}

	cur, err := r.store.CurrentName(spec.Service)
	if err != nil {
		return &RollbackError{Step: "verify", Err: err}
	}
	if cur != snap.SourceVersion {
		return &RollbackError{Step: "verify", Err: fmt.Errorf("current points at %s, want %s", cur, snap.SourceVersion)}
	}
	logger.Info().Str(logging.FieldVersion, snap.SourceVersion).Msg("Rollback complete")
	return nil
}
