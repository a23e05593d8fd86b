package deploy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jinzoro/syseng-scripts/internal/backup"
	"github.com/jinzoro/syseng-scripts/internal/health"
	"github.com/jinzoro/syseng-scripts/internal/servicectl"
	"github.com/jinzoro/syseng-scripts/internal/stage"
	"github.com/jinzoro/syseng-scripts/internal/versionstore"
	"github.com/stretchr/testify/require"
)

// fakeController keeps service state in memory and records which version every start saw.
type fakeController struct {
	mu         sync.Mutex
	store      *versionstore.Store
	registered map[string]servicectl.Spec
	running    map[string]bool
	started    []string
	stops      int

	// crash lists versions that exit right after start.
	crash map[string]bool
	// startErr fails every start of the listed versions.
	startErr map[string]error
}

func newFakeController(store *versionstore.Store) *fakeController {
	return &fakeController{
		store:      store,
		registered: map[string]servicectl.Spec{},
		running:    map[string]bool{},
		crash:      map[string]bool{},
		startErr:   map[string]error{},
	}
}

func (f *fakeController) Register(ctx context.Context, spec servicectl.Spec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered[spec.Service] = spec
	return nil
}

func (f *fakeController) IsRegistered(ctx context.Context, service string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.registered[service]
	return ok, nil
}

func (f *fakeController) Start(ctx context.Context, service string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.registered[service]; !ok {
		return servicectl.ErrNotRegistered
	}
	version, err := f.store.CurrentName(service)
	if err != nil {
		return err
	}
	if err := f.startErr[version]; err != nil {
		return err
	}
	f.started = append(f.started, version)
	f.running[service] = !f.crash[version]
	return nil
}

func (f *fakeController) Stop(ctx context.Context, service string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.running[service] = false
	return nil
}

func (f *fakeController) IsRunning(ctx context.Context, service string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[service], nil
}

func (f *fakeController) startedVersions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...)
}

type memoryReporter struct {
	reports []Report
	err     error
}

func (m *memoryReporter) Name() string { return "memory" }

func (m *memoryReporter) Report(ctx context.Context, r Report) error {
	m.reports = append(m.reports, r)
	return m.err
}

type tickingClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type harness struct {
	t        *testing.T
	store    *versionstore.Store
	backups  *backup.Manager
	ctl      *fakeController
	reporter *memoryReporter
	orch     *Orchestrator
	healthy  bool
	probes   int
	mu       sync.Mutex
	srv      *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := versionstore.New(t.TempDir())
	clock := &tickingClock{t: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)}
	backups, err := backup.New(store, backup.Options{Now: clock.Now})
	require.NoError(t, err)

	h := &harness{
		t:        t,
		store:    store,
		backups:  backups,
		ctl:      newFakeController(store),
		reporter: &memoryReporter{},
		healthy:  true,
	}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.probes++
		if !h.healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(h.srv.Close)

	h.orch = New(Deps{
		Store:      store,
		Backups:    backups,
		Stager:     stage.New(store, nil),
		Controller: h.ctl,
		Verifier:   health.NewVerifier(h.srv.Client(), nil),
		Reporters:  []Reporter{NewFileReporter(store.Layout()), h.reporter},
	})
	return h
}

func (h *harness) setHealthy(ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.healthy = ok
}

func (h *harness) probeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.probes
}

// artifact writes a directory artifact whose app.txt holds the version.
func (h *harness) artifact(version string) string {
	h.t.Helper()
	dir := filepath.Join(h.t.TempDir(), "release-"+version)
	require.NoError(h.t, os.MkdirAll(dir, 0o755))
	require.NoError(h.t, os.WriteFile(filepath.Join(dir, "app.txt"), []byte(version), 0o644))
	return dir
}

func (h *harness) request(version string) Request {
	return Request{
		Service:  "api",
		Version:  version,
		Artifact: h.artifact(version),
		Spec: servicectl.Spec{
			Service:    "api",
			WorkingDir: h.store.Layout().CurrentLink("api"),
			Command:    []string{"./run"},
		},
		Health: health.Policy{
			URL:          h.srv.URL + "/healthz",
			Attempts:     5,
			Interval:     time.Millisecond,
			ProbeTimeout: time.Second,
		},
		Rollback:        true,
		KeepVersions:    5,
		KeepBackups:     10,
		Timeout:         30 * time.Second,
		RollbackTimeout: 30 * time.Second,
	}
}

func (h *harness) deploy(req Request) *Attempt {
	h.t.Helper()
	att, err := h.orch.Deploy(context.Background(), req)
	require.NoError(h.t, err)
	return att
}

func (h *harness) mustSucceed(version string) {
	h.t.Helper()
	att := h.deploy(h.request(version))
	require.Equal(h.t, StateSucceeded, att.State, "deploy %s: %v", version, att.Err)
}

func (h *harness) current() string {
	h.t.Helper()
	name, err := h.store.CurrentName("api")
	if errors.Is(err, versionstore.ErrNoCurrent) {
		return ""
	}
	require.NoError(h.t, err)
	return name
}

func (h *harness) liveContent() string {
	h.t.Helper()
	data, err := os.ReadFile(filepath.Join(h.store.Layout().CurrentLink("api"), "app.txt"))
	require.NoError(h.t, err)
	return string(data)
}

func (h *harness) backupCount() int {
	h.t.Helper()
	snaps, err := h.backups.List("api")
	require.NoError(h.t, err)
	return len(snaps)
}

func states(att *Attempt) []State {
	out := make([]State, 0, len(att.Transitions))
	for _, tr := range att.Transitions {
		out = append(out, tr.State)
	}
	return out
}

func versionNames(t *testing.T, store *versionstore.Store) []string {
	t.Helper()
	versions, err := store.List("api")
	require.NoError(t, err)
	names := make([]string, 0, len(versions))
	for _, v := range versions {
		names = append(names, v.Version)
	}
	return names
}

var errBoom = fmt.Errorf("boom")
