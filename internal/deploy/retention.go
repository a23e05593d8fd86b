package deploy

import (
	"context"
	"errors"

	"github.com/jinzoro/syseng-scripts/internal/backup"
	"github.com/jinzoro/syseng-scripts/internal/logging"
	"github.com/jinzoro/syseng-scripts/internal/versionstore"
	"github.com/samber/lo"
)

// RetentionManager keeps the newest N versions and backups of a service.
// The live version is never removed.
type RetentionManager struct {
	store   *versionstore.Store
	backups *backup.Manager
}

func NewRetentionManager(store *versionstore.Store, backups *backup.Manager) *RetentionManager {
	return &RetentionManager{store: store, backups: backups}
}

type PruneResult struct {
	Versions []string `json:"versions,omitempty"`
	Backups  []string `json:"backups,omitempty"`
}

// Prune applies both policies; a keep count of zero disables that policy.
// A failure in one does not stop the other.
func (r *RetentionManager) Prune(ctx context.Context, service string, keepVersions, keepBackups int) (PruneResult, error) {
	var res PruneResult
	var errs []error

	if keepVersions > 0 {
		versions, err := r.PruneVersions(ctx, service, keepVersions)
		res.Versions = versions
		if err != nil {
			errs = append(errs, &RetentionError{Kind: "versions", Err: err})
		}
	}
	if keepBackups > 0 {
		backups, err := r.PruneBackups(ctx, service, keepBackups)
		res.Backups = backups
		if err != nil {
			errs = append(errs, &RetentionError{Kind: "backups", Err: err})
		}
	}
	return res, errors.Join(errs...)
}

// PruneVersions removes versions beyond the newest keep, oldest first, and returns their names.
func (r *RetentionManager) PruneVersions(ctx context.Context, service string, keep int) ([]string, error) {
	versions, err := r.store.List(service)
	if err != nil {
		return nil, err
	}
	live, _ := r.store.CurrentName(service)
	names := lo.Map(versions, func(v versionstore.Version, _ int) string { return v.Version })

	var removed []string
	for _, name := range expired(names, keep) {
		// The live version stays even when expired, so up to keep+1 versions remain.
		if name == live {
			continue
		}
		if err := r.store.RemoveVersion(service, name); err != nil {
			return removed, err
		}
		removed = append(removed, name)
		logging.Ctx(ctx).Debug().Str(logging.FieldVersion, name).Msg("Pruned version")
	}
	return removed, nil
}

// PruneBackups removes snapshots beyond the newest keep, oldest first, and returns their archive names.
func (r *RetentionManager) PruneBackups(ctx context.Context, service string, keep int) ([]string, error) {
	snaps, err := r.backups.List(service)
	if err != nil {
		return nil, err
	}
	byName := lo.KeyBy(snaps, func(s backup.Snapshot) string { return s.Name() })
	names := lo.Map(snaps, func(s backup.Snapshot, _ int) string { return s.Name() })

	var removed []string
	for _, name := range expired(names, keep) {
		if err := r.backups.Remove(byName[name]); err != nil {
			return removed, err
		}
		removed = append(removed, name)
		logging.Ctx(ctx).Debug().Str("backup", name).Msg("Pruned backup")
	}
	return removed, nil
}

// expired returns the entries of an oldest-first list that fall outside the newest keep.
func expired(oldestFirst []string, keep int) []string {
	if keep < 0 {
		keep = 0
	}
	if len(oldestFirst) <= keep {
		return nil
	}
	return oldestFirst[:len(oldestFirst)-keep]
}
