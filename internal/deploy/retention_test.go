package deploy

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpired(t *testing.T) {
	tests := []struct {
		name  string
		names []string
		keep  int
		want  []string
	}{
		{"under limit", []string{"a", "b"}, 5, nil},
		{"at limit", []string{"a", "b", "c"}, 3, nil},
		{"one over", []string{"a", "b", "c", "d"}, 3, []string{"a"}},
		{"keep one", []string{"a", "b", "c"}, 1, []string{"a", "b"}},
		{"keep zero", []string{"a", "b"}, 0, []string{"a", "b"}},
		{"negative", []string{"a"}, -1, []string{"a"}},
		{"empty", nil, 2, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, expired(tt.names, tt.keep))
		})
	}
}

func TestPruneVersionsKeepsLiveVersion(t *testing.T) {
	h := newHarness(t)
	for _, v := range []string{"1.0.0", "1.1.0", "1.2.0", "1.3.0"} {
		h.mustSucceed(v)
	}
	// Restoring the oldest snapshot makes the oldest version live again.
	snaps, err := h.backups.List("api")
	require.NoError(t, err)
	require.Equal(t, "1.0.0", snaps[0].SourceVersion)
	att, err := h.orch.RollbackTo(context.Background(), RollbackRequest{Service: "api", Backup: snaps[0].Archive, Spec: h.request("x").Spec})
	require.NoError(t, err)
	require.Equal(t, StateRolledBack, att.State)

	removed, err := h.orch.Retention().PruneVersions(context.Background(), "api", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1.0"}, removed)
	assert.Equal(t, []string{"1.0.0", "1.2.0", "1.3.0"}, versionNames(t, h.store))
	assert.Equal(t, "1.0.0", h.current())
}

func TestPruneDisabledWithZeroKeep(t *testing.T) {
	h := newHarness(t)
	for _, v := range []string{"1.0.0", "1.1.0", "1.2.0"} {
		h.mustSucceed(v)
	}
	res, err := h.orch.Retention().Prune(context.Background(), "api", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Versions)
	assert.Empty(t, res.Backups)
	assert.Len(t, versionNames(t, h.store), 3)
	assert.Equal(t, 2, h.backupCount())
}

func TestPruneBackupsOldestFirst(t *testing.T) {
	h := newHarness(t)
	for _, v := range []string{"1.0.0", "1.1.0", "1.2.0", "1.3.0"} {
		h.mustSucceed(v)
	}
	before, err := h.backups.List("api")
	require.NoError(t, err)
	require.Len(t, before, 3)

	removed, err := h.orch.Retention().PruneBackups(context.Background(), "api", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{before[0].Name(), before[1].Name()}, removed)

	after, err := h.backups.List("api")
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, "1.2.0", after[0].SourceVersion)
}

func TestLockerSerializesInProcess(t *testing.T) {
	h := newHarness(t)
	locker := NewLocker(h.store.Layout())

	release, err := locker.Acquire(context.Background(), "api")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(ctx, "api")
	assert.ErrorIs(t, err, ErrDeploymentInProgress)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := locker.Acquire(context.Background(), "web")
	require.NoError(t, err, "locks are per service")
	other()

	release()
	release()
	again, err := locker.Acquire(context.Background(), "api")
	require.NoError(t, err)
	again()
}

func TestAttemptIDsSortByTime(t *testing.T) {
	first := NewAttemptID(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	second := NewAttemptID(time.Date(2025, 1, 1, 0, 0, 1, 0, time.UTC))
	assert.Len(t, first, 26)
	assert.Less(t, first, second)
}

func TestAttemptIDsWithinOneMillisecondSortInOrder(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = NewAttemptID(at)
	}
	assert.True(t, slices.IsSorted(ids))
	assert.Len(t, slices.Compact(slices.Clone(ids)), len(ids))
}

func TestOrchestratorPruneHonoursLock(t *testing.T) {
	h := newHarness(t)
	for _, v := range []string{"1.0.0", "1.1.0", "1.2.0"} {
		h.mustSucceed(v)
	}

	res, err := h.orch.Prune(context.Background(), "api", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.0", "1.1.0"}, res.Versions)
	assert.Len(t, res.Backups, 1)

	release, err := NewLocker(h.store.Layout()).Acquire(context.Background(), "api")
	require.NoError(t, err)
	defer release()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = h.orch.Prune(ctx, "api", 1, 1)
	assert.ErrorIs(t, err, ErrDeploymentInProgress)

	_, err = h.orch.Prune(context.Background(), "../x", 1, 1)
	assert.Error(t, err)
}
