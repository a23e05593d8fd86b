package deployctl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jinzoro/syseng-scripts/internal/config"
	"github.com/jinzoro/syseng-scripts/internal/deploy"
	"github.com/jinzoro/syseng-scripts/internal/servicectl"
	"github.com/jinzoro/syseng-scripts/internal/ui"
	"github.com/jinzoro/syseng-scripts/internal/versionstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	prev := ui.Output
	ui.Output = &buf
	defer func() { ui.Output = prev }()

	cmd := NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("bad flag")))
	assert.Equal(t, 2, ExitCode(outcomeError(deploy.StateRolledBack)))
	assert.Equal(t, 3, ExitCode(fmt.Errorf("wrapped: %w", outcomeError(deploy.StateRollbackFailed))))
	assert.NoError(t, outcomeError(deploy.StateSucceeded))

	assert.True(t, Silent(&ExitError{Code: 2}))
	assert.False(t, Silent(&ExitError{Code: 1, Err: errors.New("x")}))
	assert.False(t, Silent(errors.New("x")))
}

func TestBuildDeployRequest(t *testing.T) {
	cfg := (&config.Config{
		RootDir: "/srv/deploy",
		Services: map[string]*config.ServiceConfig{
			"api": {
				Command:  []string{"./api"},
				Artifact: "/artifacts/{service}-{version}.tar.gz",
				Extract:  true,
				Health:   config.HealthConfig{URL: "http://127.0.0.1:8080/healthz"},
			},
		},
	}).Normalize()
	layout := versionstore.Layout{Root: cfg.RootDir}
	none := func(string) bool { return false }

	req, declared, err := buildDeployRequest(cfg, layout, "api", "1.2.0", &deployOptions{}, none)
	require.NoError(t, err)
	assert.True(t, declared)
	assert.Equal(t, "/artifacts/api-1.2.0.tar.gz", req.Artifact)
	assert.True(t, req.Extract)
	assert.Equal(t, 5, req.Health.Attempts)
	assert.Equal(t, 5*time.Second, req.Health.Interval)
	assert.Equal(t, 30*time.Second, req.Health.ProbeTimeout)
	assert.True(t, req.Rollback)
	assert.Equal(t, 5, req.KeepVersions)
	assert.Equal(t, 10, req.KeepBackups)
	assert.Equal(t, 15*time.Minute, req.Timeout)
	assert.Equal(t, 2*time.Minute, req.RollbackTimeout)
	assert.Equal(t, layout.CurrentLink("api"), req.Spec.WorkingDir)
	assert.Equal(t, []string{"./api"}, req.Spec.Command)

	opts := &deployOptions{
		artifact:   "/tmp/api.tgz",
		healthURL:  "https://api.internal/ready",
		retries:    3,
		interval:   time.Second,
		timeout:    time.Minute,
		noRollback: true,
		force:      true,
	}
	changed := func(name string) bool {
		switch name {
		case "artifact", "health-url", "retries", "interval", "timeout":
			return true
		}
		return false
	}
	req, _, err = buildDeployRequest(cfg, layout, "api", "1.3.0", opts, changed)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/api.tgz", req.Artifact)
	assert.Equal(t, "https://api.internal/ready", req.Health.URL)
	assert.Equal(t, 3, req.Health.Attempts)
	assert.Equal(t, time.Second, req.Health.Interval)
	assert.Equal(t, time.Minute, req.Timeout)
	assert.False(t, req.Rollback)
	assert.True(t, req.Force)
}

func TestBuildDeployRequestErrors(t *testing.T) {
	cfg := (&config.Config{}).Normalize()
	layout := versionstore.Layout{Root: t.TempDir()}
	none := func(string) bool { return false }

	_, declared, err := buildDeployRequest(cfg, layout, "web", "1.0.0", &deployOptions{}, none)
	assert.False(t, declared)
	assert.ErrorContains(t, err, "no artifact source")

	_, _, err = buildDeployRequest(cfg, layout, "bad name", "1.0.0", &deployOptions{}, none)
	assert.ErrorContains(t, err, "invalid service name")

	_, _, err = buildDeployRequest(cfg, layout, "web", "../1", &deployOptions{}, none)
	assert.Error(t, err)

	opts := &deployOptions{artifact: "/tmp/web", retries: 0}
	_, _, err = buildDeployRequest(cfg, layout, "web", "1.0.0", opts, func(name string) bool {
		return name == "artifact" || name == "retries"
	})
	assert.ErrorContains(t, err, "no command configured")
}

func TestInitAndValidateConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deployctl.toml")

	out, err := run(t, "init", path, "--root", filepath.Join(dir, "root"))
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote sample configuration")

	_, err = run(t, "init", path)
	assert.ErrorContains(t, err, "already exists")

	out, err = run(t, "validate-config", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "deployctl.toml' is valid")

	require.NoError(t, os.WriteFile(path, []byte("controller = \"kubernetes\"\n"), 0o644))
	_, err = run(t, "validate-config", "--config", path)
	assert.Error(t, err)
	assert.Equal(t, 1, ExitCode(err))
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "deployctl ")
}

func writeRelease(t *testing.T, dir, version string) {
	t.Helper()
	release := filepath.Join(dir, "release-"+version)
	require.NoError(t, os.MkdirAll(release, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(release, "VERSION"), []byte(version), 0o644))
}

func TestDeployLifecycle(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "root")
	for _, v := range []string{"1.0.0", "1.1.0", "1.2.0"} {
		writeRelease(t, dir, v)
	}

	unhealthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer unhealthy.Close()

	cfgPath := filepath.Join(dir, "deployctl.yaml")
	cfgYAML := fmt.Sprintf(`root_dir: %s
controller: process
defaults:
  activation:
    settle_delay: 20ms
    stop_timeout: 2s
services:
  app:
    command: sleep 30
    artifact: %s/release-{version}
log:
  level: error
  format: json
`, root, dir)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgYAML), 0o644))

	layout := versionstore.Layout{Root: root}
	t.Cleanup(func() {
		_ = servicectl.NewProcessController(layout).Stop(context.Background(), "app")
	})
	store := versionstore.New(root)
	current := func() string {
		name, err := store.CurrentName("app")
		require.NoError(t, err)
		return name
	}

	out, err := run(t, "deploy", "app", "1.0.0", "--config", cfgPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Succeeded")
	assert.Equal(t, "1.0.0", current())

	out, err = run(t, "deploy", "app", "1.1.0", "--config", cfgPath, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "snapshot live version 1.0.0")
	assert.False(t, store.Exists("app", "1.1.0"))

	out, err = run(t, "deploy", "app", "1.1.0", "--config", cfgPath)
	require.NoError(t, err, out)
	assert.Equal(t, "1.1.0", current())

	out, err = run(t, "deploy", "app", "1.2.0", "--config", cfgPath,
		"--health-url", unhealthy.URL, "--retries", "2", "--interval", "1ms", "--probe-timeout", "1s")
	assert.Equal(t, deploy.ExitRolledBack, ExitCode(err))
	assert.True(t, Silent(err))
	assert.Contains(t, out, "Rolled back")
	assert.Equal(t, "1.1.0", current())

	out, err = run(t, "rollback", "app", "--config", cfgPath)
	require.NoError(t, err, out)
	assert.Equal(t, "1.1.0", current(), "newest backup is the 1.1.0 snapshot from the failed attempt")

	out, err = run(t, "backups", "app", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "1.0.0")
	assert.Contains(t, out, "1.1.0")

	out, err = run(t, "versions", "app", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "1.2.0")

	out, err = run(t, "history", "app", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "rollback")
	assert.Contains(t, out, "deploy")

	out, err = run(t, "status", "app", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Live version")
	assert.Contains(t, out, "Running")

	out, err = run(t, "prune", "app", "--config", cfgPath, "--keep-versions", "1", "--keep-backups", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Pruned 1 version(s) and 1 backup(s) of app")
	assert.False(t, store.Exists("app", "1.0.0"))
	assert.True(t, store.Exists("app", "1.2.0"), "the newest version is within the keep count")
	assert.Equal(t, "1.1.0", current())
}
