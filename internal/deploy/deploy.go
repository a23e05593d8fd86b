package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jinzoro/syseng-scripts/internal/backup"
	"github.com/jinzoro/syseng-scripts/internal/health"
	"github.com/jinzoro/syseng-scripts/internal/helpers"
	"github.com/jinzoro/syseng-scripts/internal/logging"
	"github.com/jinzoro/syseng-scripts/internal/servicectl"
	"github.com/jinzoro/syseng-scripts/internal/stage"
	"github.com/jinzoro/syseng-scripts/internal/versionstore"
	"github.com/rs/zerolog"
)

type Stager interface {
	Stage(ctx context.Context, req stage.Request) (versionstore.Version, error)
	Check(ctx context.Context, req stage.Request) error
}

type HealthVerifier interface {
	Verify(ctx context.Context, p health.Policy) (health.Result, error)
}

// Request is one deployment of Version for Service.
type Request struct {
	Service    string
	Version    string
	Artifact   string
	Extract    bool
	ConfigFile string
	Force      bool

	Spec        servicectl.Spec
	SettleDelay time.Duration
	// Health.URL empty skips verification.
	Health health.Policy
	// Rollback enables automatic rollback on activation or health failure.
	Rollback bool

	KeepVersions int
	KeepBackups  int

	Timeout         time.Duration
	RollbackTimeout time.Duration
}

func (r Request) stageRequest() stage.Request {
	return stage.Request{
		Service:    r.Service,
		Version:    r.Version,
		Artifact:   r.Artifact,
		Extract:    r.Extract,
		ConfigFile: r.ConfigFile,
		Force:      r.Force,
	}
}

func (r Request) validate() error {
	if !helpers.IsValidServiceName(r.Service) {
		return fmt.Errorf("invalid service name %q", r.Service)
	}
	if err := helpers.ValidateVersion(r.Version); err != nil {
		return err
	}
	if r.Spec.Service != r.Service {
		return fmt.Errorf("service spec is for %q, not %q", r.Spec.Service, r.Service)
	}
	if r.Health.URL != "" && r.Health.Attempts < 1 {
		return errors.New("health check needs at least one attempt")
	}
	return nil
}

type Deps struct {
	Store      *versionstore.Store
	Backups    *backup.Manager
	Stager     Stager
	Controller servicectl.Controller
	Verifier   HealthVerifier
	Reporters  []Reporter
	// Locker defaults to a flock-based locker under the store root.
	Locker *Locker
	Now    func() time.Time
}

// Orchestrator sequences backup, stage, activation, verification, rollback,
// retention and reporting for one service at a time.
type Orchestrator struct {
	store     *versionstore.Store
	backups   *backup.Manager
	stager    Stager
	verifier  HealthVerifier
	activator *Activator
	rollback  *RollbackController
	retention *RetentionManager
	locker    *Locker
	reporters []Reporter
	now       func() time.Time
}

func New(d Deps) *Orchestrator {
	o := &Orchestrator{
		store:     d.Store,
		backups:   d.Backups,
		stager:    d.Stager,
		verifier:  d.Verifier,
		activator: NewActivator(d.Store, d.Controller),
		rollback:  NewRollbackController(d.Store, d.Backups, d.Controller),
		retention: NewRetentionManager(d.Store, d.Backups),
		locker:    d.Locker,
		reporters: d.Reporters,
		now:       d.Now,
	}
	if o.locker == nil {
		o.locker = NewLocker(d.Store.Layout())
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

func (o *Orchestrator) Retention() *RetentionManager {
	return o.retention
}

// Prune runs retention on demand under the service lock.
func (o *Orchestrator) Prune(ctx context.Context, service string, keepVersions, keepBackups int) (PruneResult, error) {
	if !helpers.IsValidServiceName(service) {
		return PruneResult{}, fmt.Errorf("invalid service name %q", service)
	}
	release, err := o.locker.Acquire(ctx, service)
	if err != nil {
		return PruneResult{}, err
	}
	defer release()
	return o.retention.Prune(ctx, service, keepVersions, keepBackups)
}

// Deploy runs one attempt to its terminal state. The error is non-nil only when
// the attempt could not start (invalid request, lock not acquired); deployment
// failures are reported through the returned attempt.
func (o *Orchestrator) Deploy(ctx context.Context, req Request) (*Attempt, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	att := newAttempt(KindDeploy, req.Service, req.Version, o.now)
	logger := logging.Ctx(ctx).With().
		Str(logging.FieldService, req.Service).
		Str(logging.FieldVersion, req.Version).
		Str(logging.FieldAttemptID, att.ID).
		Logger()
	ctx = logging.WithLogger(ctx, logger)

	attemptCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	release, err := o.locker.Acquire(attemptCtx, req.Service)
	if err != nil {
		return nil, err
	}
	defer release()

	logger.Info().Msg("Deployment started")
	o.run(attemptCtx, att, req)

	o.finish(ctx, att, req.KeepVersions, req.KeepBackups)
	return att, nil
}

func (o *Orchestrator) run(ctx context.Context, att *Attempt, req Request) {
	if prev, err := o.store.CurrentName(req.Service); err == nil {
		att.PreviousVersion = prev
	}

	snap, err := o.backups.Snapshot(ctx, req.Service)
	if err != nil {
		o.abort(ctx, att, &BackupError{Err: err})
		return
	}
	att.Snapshot = snap
	o.transition(ctx, att, StateBackedUp)

	if _, err := o.stager.Stage(ctx, req.stageRequest()); err != nil {
		o.abort(ctx, att, &StageError{Version: req.Version, Err: err})
		return
	}
	o.transition(ctx, att, StateStaged)

	if err := o.activator.Activate(ctx, req.Spec, req.Version, req.SettleDelay); err != nil {
		o.failAndRollback(ctx, att, req, err)
		return
	}
	o.transition(ctx, att, StateActivated)

	if req.Health.URL != "" {
		o.transition(ctx, att, StateVerifying)
		res, err := o.verifier.Verify(ctx, req.Health)
		att.HealthProbes = res.Probes
		if err != nil {
			o.failAndRollback(ctx, att, req, &HealthCheckExhausted{Attempts: res.Probes, Err: err})
			return
		}
	}
	o.transition(ctx, att, StateSucceeded)
}

// abort ends an attempt that failed before anything live was touched.
func (o *Orchestrator) abort(ctx context.Context, att *Attempt, err error) {
	att.Err = err
	o.transition(ctx, att, StateFailed)
	logging.Ctx(ctx).Error().Err(err).Msg("Deployment aborted before activation, nothing to roll back")
}

func (o *Orchestrator) failAndRollback(ctx context.Context, att *Attempt, req Request, err error) {
	logger := logging.Ctx(ctx)
	att.Err = err
	o.transition(ctx, att, StateFailed)
	logger.Error().Err(err).Msg("Deployment failed")

	if !req.Rollback {
		logger.Warn().Msg("Automatic rollback disabled, leaving the failed version in place")
		return
	}
	if att.Snapshot == nil {
		logger.Warn().Msg("No backup snapshot (first deployment), rollback not possible")
		return
	}

	// The attempt deadline may already be gone; rollback gets its own budget.
	rbCtx := context.WithoutCancel(ctx)
	if req.RollbackTimeout > 0 {
		var cancel context.CancelFunc
		rbCtx, cancel = context.WithTimeout(rbCtx, req.RollbackTimeout)
		defer cancel()
	}
	if err := o.rollback.Rollback(rbCtx, att, att.Snapshot, req.Spec, req.SettleDelay); err != nil {
		if errors.Is(err, ErrRollbackAlreadyPerformed) {
			logger.Warn().Msg("Rollback already performed for this attempt, ignoring further failure")
			return
		}
		att.RollbackErr = err
		o.transition(ctx, att, StateRollbackFailed)
		logger.Error().Err(err).Msg("Rollback failed, manual intervention required")
		return
	}
	o.transition(ctx, att, StateRolledBack)
}

func (o *Orchestrator) transition(ctx context.Context, att *Attempt, s State) {
	att.transition(s)
	level := zerolog.DebugLevel
	switch s {
	case StateSucceeded, StateRolledBack:
		level = zerolog.InfoLevel
	case StateFailed, StateRollbackFailed:
		level = zerolog.WarnLevel
	}
	logging.Ctx(ctx).WithLevel(level).Str(logging.FieldState, string(s)).Msg("State transition")
}

// finish runs retention and emits reports. Neither can change the outcome.
func (o *Orchestrator) finish(ctx context.Context, att *Attempt, keepVersions, keepBackups int) {
	ctx = context.WithoutCancel(ctx)
	logger := logging.Ctx(ctx)

	pruned, err := o.retention.Prune(ctx, att.Service, keepVersions, keepBackups)
	att.PrunedVersions, att.PrunedBackups = pruned.Versions, pruned.Backups
	if err != nil {
		logger.Warn().Err(err).Msg("Retention failed")
	}

	att.FinishedAt = o.now().UTC()
	o.emit(ctx, att)
}

func (o *Orchestrator) emit(ctx context.Context, att *Attempt) {
	report := att.Report()
	for _, r := range o.reporters {
		if err := r.Report(ctx, report); err != nil {
			logging.Ctx(ctx).Warn().Err(&ReportError{Sink: r.Name(), Err: err}).Msg("Report not written")
		}
	}
}

type RollbackRequest struct {
	Service string
	// Backup is an archive path; empty selects the newest snapshot.
	Backup      string
	Spec        servicectl.Spec
	SettleDelay time.Duration
	Timeout     time.Duration
}

// RollbackTo restores a snapshot outside a deployment attempt.
func (o *Orchestrator) RollbackTo(ctx context.Context, req RollbackRequest) (*Attempt, error) {
	if !helpers.IsValidServiceName(req.Service) {
		return nil, fmt.Errorf("invalid service name %q", req.Service)
	}
	if req.Spec.Service != req.Service {
		return nil, fmt.Errorf("service spec is for %q, not %q", req.Spec.Service, req.Service)
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	release, err := o.locker.Acquire(ctx, req.Service)
	if err != nil {
		return nil, err
	}
	defer release()

	var snap backup.Snapshot
	if req.Backup != "" {
		snap, err = o.backups.Load(req.Backup)
	} else {
		snap, err = o.backups.Latest(req.Service)
	}
	if err != nil {
		return nil, err
	}
	if snap.Service != req.Service {
		return nil, fmt.Errorf("backup %s belongs to %q, not %q", snap.Name(), snap.Service, req.Service)
	}
	if snap.SourceVersion == "" {
		return nil, fmt.Errorf("backup %s has no source version metadata", snap.Name())
	}

	att := newAttempt(KindRollback, req.Service, snap.SourceVersion, o.now)
	att.Snapshot = &snap
	if prev, err := o.store.CurrentName(req.Service); err == nil {
		att.PreviousVersion = prev
	}
	ctx = logging.WithLogger(ctx, logging.Ctx(ctx).With().
		Str(logging.FieldService, req.Service).
		Str(logging.FieldVersion, snap.SourceVersion).
		Str(logging.FieldAttemptID, att.ID).
		Logger())

	if err := o.rollback.Rollback(ctx, att, &snap, req.Spec, req.SettleDelay); err != nil {
		att.Err = err
		att.RollbackErr = err
		o.transition(ctx, att, StateRollbackFailed)
	} else {
		o.transition(ctx, att, StateRolledBack)
	}

	o.finish(ctx, att, 0, 0)
	return att, nil
}

// Plan describes what Deploy would do without mutating anything.
type Plan struct {
	Service         string
	Version         string
	PreviousVersion string
	Steps           []string
}

func (o *Orchestrator) Plan(ctx context.Context, req Request) (Plan, error) {
	if err := req.validate(); err != nil {
		return Plan{}, err
	}
	plan := Plan{Service: req.Service, Version: req.Version}
	if err := o.stager.Check(ctx, req.stageRequest()); err != nil {
		return plan, &StageError{Version: req.Version, Err: err}
	}

	prev, err := o.store.CurrentName(req.Service)
	switch {
	case err == nil:
		plan.PreviousVersion = prev
		plan.Steps = append(plan.Steps, fmt.Sprintf("snapshot live version %s", prev))
	case errors.Is(err, versionstore.ErrNoCurrent):
		plan.Steps = append(plan.Steps, "no live version, skip snapshot")
	default:
		return plan, err
	}

	plan.Steps = append(plan.Steps,
		fmt.Sprintf("stage %s from %s", req.Version, req.Artifact),
		fmt.Sprintf("register service, point current at %s, restart, check running after %s", req.Version, req.SettleDelay),
	)
	if req.Health.URL != "" {
		plan.Steps = append(plan.Steps, fmt.Sprintf("probe %s up to %d times every %s (timeout %s each)",
			req.Health.URL, req.Health.Attempts, req.Health.Interval, req.Health.ProbeTimeout))
	} else {
		plan.Steps = append(plan.Steps, "no health endpoint, succeed once running")
	}
	switch {
	case !req.Rollback:
		plan.Steps = append(plan.Steps, "on failure: leave the failed version in place (rollback disabled)")
	case plan.PreviousVersion == "":
		plan.Steps = append(plan.Steps, "on failure: report only (no snapshot to roll back to)")
	default:
		plan.Steps = append(plan.Steps, fmt.Sprintf("on failure: roll back to %s", plan.PreviousVersion))
	}
	plan.Steps = append(plan.Steps, fmt.Sprintf("keep %d versions and %d backups", req.KeepVersions, req.KeepBackups))
	return plan, nil
}
