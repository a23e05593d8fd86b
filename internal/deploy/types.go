package deploy

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/jinzoro/syseng-scripts/internal/backup"
	"github.com/oklog/ulid"
)

type State string

const (
	StateInit           State = "init"
	StateBackedUp       State = "backed_up"
	StateStaged         State = "staged"
	StateActivated      State = "activated"
	StateVerifying      State = "verifying"
	StateSucceeded      State = "succeeded"
	StateFailed         State = "failed"
	StateRolledBack     State = "rolled_back"
	StateRollbackFailed State = "rollback_failed"
)

// Exit codes of the CLI for each terminal state.
const (
	ExitSucceeded      = 0
	ExitFailed         = 1
	ExitRolledBack     = 2
	ExitRollbackFailed = 3
)

func (s State) ExitCode() int {
	switch s {
	case StateSucceeded:
		return ExitSucceeded
	case StateRolledBack:
		return ExitRolledBack
	case StateRollbackFailed:
		return ExitRollbackFailed
	default:
		return ExitFailed
	}
}

type Kind string

const (
	KindDeploy   Kind = "deploy"
	KindRollback Kind = "rollback"
)

type Transition struct {
	State State     `json:"state"`
	At    time.Time `json:"at"`
}

// Attempt is one run of the deployment procedure for a single target version.
// It carries the rollback guard, so rollback can happen at most once per attempt.
type Attempt struct {
	ID              string
	Kind            Kind
	Service         string
	Version         string
	PreviousVersion string
	StartedAt       time.Time
	FinishedAt      time.Time
	State           State
	Transitions     []Transition
	Snapshot        *backup.Snapshot
	HealthProbes    int
	Err             error
	RollbackErr     error
	PrunedVersions  []string
	PrunedBackups   []string

	mu                sync.Mutex
	rollbackPerformed bool
	now               func() time.Time
}

func newAttempt(kind Kind, service, version string, now func() time.Time) *Attempt {
	started := now().UTC()
	a := &Attempt{
		ID:        NewAttemptID(started),
		Kind:      kind,
		Service:   service,
		Version:   version,
		StartedAt: started,
		now:       now,
	}
	a.transition(StateInit)
	return a
}

var (
	idMu      sync.Mutex
	idEntropy = ulid.Monotonic(rand.Reader, 0)
)

// NewAttemptID returns a sortable unique id. Ids minted in the same millisecond
// sort in creation order.
func NewAttemptID(t time.Time) string {
	idMu.Lock()
	defer idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), idEntropy).String()
}

func (a *Attempt) transition(s State) {
	a.State = s
	a.Transitions = append(a.Transitions, Transition{State: s, At: a.now().UTC()})
}

// claimRollback flips the rollback guard. Only the first caller gets true.
func (a *Attempt) claimRollback() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rollbackPerformed {
		return false
	}
	a.rollbackPerformed = true
	return true
}

func (a *Attempt) RollbackPerformed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rollbackPerformed
}

func (a *Attempt) Duration() time.Duration {
	if a.FinishedAt.IsZero() {
		return 0
	}
	return a.FinishedAt.Sub(a.StartedAt)
}
