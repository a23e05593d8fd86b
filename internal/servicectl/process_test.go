package servicectl

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/jinzoro/syseng-scripts/internal/versionstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func processFixture(t *testing.T, command ...string) (*ProcessController, versionstore.Layout) {
	t.Helper()
	layout := versionstore.Layout{Root: t.TempDir()}
	workDir := t.TempDir()
	c := NewProcessController(layout)
	require.NoError(t, c.Register(context.Background(), Spec{
		Service:     "api",
		WorkingDir:  workDir,
		Command:     command,
		Env:         map[string]string{"GREETING": "hello"},
		StopTimeout: 2 * time.Second,
	}))
	return c, layout
}

func TestProcessControllerLifecycle(t *testing.T) {
	ctx := context.Background()
	c, layout := processFixture(t, "sleep", "30")

	registered, err := c.IsRegistered(ctx, "api")
	require.NoError(t, err)
	assert.True(t, registered)

	running, err := c.IsRunning(ctx, "api")
	require.NoError(t, err)
	assert.False(t, running)

	require.NoError(t, c.Start(ctx, "api"))
	t.Cleanup(func() { _ = c.Stop(context.Background(), "api") })

	running, err = c.IsRunning(ctx, "api")
	require.NoError(t, err)
	assert.True(t, running)

	pidBefore, err := os.ReadFile(layout.PIDFile("api"))
	require.NoError(t, err)

	// Start is idempotent.
	require.NoError(t, c.Start(ctx, "api"))
	pidAfter, err := os.ReadFile(layout.PIDFile("api"))
	require.NoError(t, err)
	assert.Equal(t, pidBefore, pidAfter)

	require.NoError(t, c.Stop(ctx, "api"))
	running, err = c.IsRunning(ctx, "api")
	require.NoError(t, err)
	assert.False(t, running)
	assert.NoFileExists(t, layout.PIDFile("api"))

	// Stop is idempotent.
	require.NoError(t, c.Stop(ctx, "api"))
}

func TestProcessControllerKillsIgnoringProcess(t *testing.T) {
	ctx := context.Background()
	c, _ := processFixture(t, "sh", "-c", "trap '' TERM; while true; do sleep 0.1; done")
	spec, err := c.specs.read("api")
	require.NoError(t, err)
	spec.StopTimeout = 300 * time.Millisecond
	require.NoError(t, c.specs.write(spec))

	require.NoError(t, c.Start(ctx, "api"))
	require.Eventually(t, func() bool {
		running, _ := c.IsRunning(ctx, "api")
		return running
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, c.Stop(ctx, "api"))
	running, err := c.IsRunning(ctx, "api")
	require.NoError(t, err)
	assert.False(t, running)
}

func TestProcessControllerDetectsExit(t *testing.T) {
	ctx := context.Background()
	c, layout := processFixture(t, "sh", "-c", "echo $GREETING from $(pwd); exit 3")

	require.NoError(t, c.Start(ctx, "api"))
	assert.Eventually(t, func() bool {
		running, err := c.IsRunning(ctx, "api")
		return err == nil && !running
	}, 3*time.Second, 20*time.Millisecond)

	spec, err := c.specs.read("api")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(layout.LogFile("api"))
		return err == nil && string(data) == "hello from "+spec.WorkingDir+"\n"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestProcessControllerUnregistered(t *testing.T) {
	ctx := context.Background()
	c := NewProcessController(versionstore.Layout{Root: t.TempDir()})

	assert.ErrorIs(t, c.Start(ctx, "api"), ErrNotRegistered)
	assert.ErrorIs(t, c.Stop(ctx, "api"), ErrNotRegistered)
	registered, err := c.IsRegistered(ctx, "api")
	require.NoError(t, err)
	assert.False(t, registered)

	assert.Error(t, c.Register(ctx, Spec{Service: "api"}), "command is required")
}

func TestProcessControllerRelativeCommand(t *testing.T) {
	ctx := context.Background()
	layout := versionstore.Layout{Root: t.TempDir()}
	workDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(workDir, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "bin", "run"), []byte("#!/bin/sh\nexec sleep 30\n"), 0o755))

	c := NewProcessController(layout)
	require.NoError(t, c.Register(ctx, Spec{Service: "api", WorkingDir: workDir, Command: []string{"./bin/run"}}))
	require.NoError(t, c.Start(ctx, "api"))
	t.Cleanup(func() { _ = c.Stop(context.Background(), "api") })

	running, err := c.IsRunning(ctx, "api")
	require.NoError(t, err)
	assert.True(t, running)
}

func TestProcessControllerIgnoresForeignPID(t *testing.T) {
	ctx := context.Background()
	c, layout := processFixture(t, "sleep", "30")

	// A live process this controller did not start.
	other := exec.Command("sleep", "30")
	require.NoError(t, other.Start())
	t.Cleanup(func() {
		_ = other.Process.Kill()
		_ = other.Wait()
	})
	st, err := readProcStat(other.Process.Pid)
	require.NoError(t, err)
	foreign := pidRecord{PID: other.Process.Pid, StartTime: st.StartTime + 1}

	require.NoError(t, os.WriteFile(layout.PIDFile("api"), []byte(foreign.String()+"\n"), 0o644))
	running, err := c.IsRunning(ctx, "api")
	require.NoError(t, err)
	assert.False(t, running)
	assert.NoFileExists(t, layout.PIDFile("api"))

	require.NoError(t, os.WriteFile(layout.PIDFile("api"), []byte(foreign.String()+"\n"), 0o644))
	require.NoError(t, c.Stop(ctx, "api"))
	assert.NoError(t, unix.Kill(other.Process.Pid, 0), "unrelated process must not be signalled")
	assert.NoFileExists(t, layout.PIDFile("api"))

	// A bare pid naming the test binary itself.
	require.NoError(t, os.WriteFile(layout.PIDFile("api"), []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644))
	running, err = c.IsRunning(ctx, "api")
	require.NoError(t, err)
	assert.False(t, running)

	require.NoError(t, os.WriteFile(layout.PIDFile("api"), []byte(foreign.String()+"\n"), 0o644))
	require.NoError(t, c.Start(ctx, "api"))
	t.Cleanup(func() { _ = c.Stop(context.Background(), "api") })

	rec, ok, err := c.readPID("api")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, other.Process.Pid, rec.PID)
	running, err = c.IsRunning(ctx, "api")
	require.NoError(t, err)
	assert.True(t, running)
}

func TestParsePIDRecord(t *testing.T) {
	tests := []struct {
		in   string
		want pidRecord
	}{
		{"123 456\n", pidRecord{PID: 123, StartTime: 456}},
		{"123\n", pidRecord{}},
		{"abc 456", pidRecord{}},
		{"-1 456", pidRecord{}},
		{"123 x", pidRecord{}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			rec, ok, err := parsePIDRecord(tt.in)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, tt.want, rec)
		})
	}
}

func TestReadProcStat(t *testing.T) {
	st, err := readProcStat(os.Getpid())
	require.NoError(t, err)
	assert.NotEmpty(t, st.State)
	assert.NotZero(t, st.StartTime)

	self := pidRecord{PID: os.Getpid(), StartTime: st.StartTime}
	assert.True(t, self.alive())
	self.StartTime++
	assert.False(t, self.alive())
}

func TestMergeEnv(t *testing.T) {
	env := mergeEnv([]string{"PATH=/bin"}, map[string]string{"B": "2", "A": "1"})
	assert.Equal(t, []string{"PATH=/bin", "A=1", "B=2"}, env)
	assert.Equal(t, []string{"X=1"}, mergeEnv([]string{"X=1"}, nil))
}
