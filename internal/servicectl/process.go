package servicectl

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jinzoro/syseng-scripts/internal/constants"
	"github.com/jinzoro/syseng-scripts/internal/logging"
	"github.com/jinzoro/syseng-scripts/internal/versionstore"
	"golang.org/x/sys/unix"
)

const processPollInterval = 100 * time.Millisecond

// ProcessController runs the service command directly, in its own process group,
// with the Current Pointer as working directory.
type ProcessController struct {
	layout versionstore.Layout
	specs  specFile
}

func NewProcessController(layout versionstore.Layout) *ProcessController {
	return &ProcessController{layout: layout, specs: specFile{layout: layout}}
}

func (c *ProcessController) Register(ctx context.Context, spec Spec) error {
	if len(spec.Command) == 0 {
		return fmt.Errorf("service %s has no command", spec.Service)
	}
	return c.specs.write(spec)
}

func (c *ProcessController) IsRegistered(ctx context.Context, service string) (bool, error) {
	return c.specs.exists(service)
}

func (c *ProcessController) Start(ctx context.Context, service string) error {
	spec, err := c.specs.read(service)
	if err != nil {
		return err
	}
	if running, _ := c.IsRunning(ctx, service); running {
		return nil
	}

	if err := os.MkdirAll(c.layout.LogsDir(service), constants.ModeDirDefault); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}
	logFile, err := os.OpenFile(c.layout.LogFile(service), os.O_CREATE|os.O_WRONLY|os.O_APPEND, constants.ModeFileDefault)
	if err != nil {
		return fmt.Errorf("failed to open service log: %w", err)
	}

	// Not CommandContext: the service must outlive the deployment context.
	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.WorkingDir
	cmd.Env = mergeEnv(os.Environ(), spec.Env)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("failed to start %s: %w", service, err)
	}
	rec := pidRecord{PID: cmd.Process.Pid}
	// The child cannot be reaped before Wait, so its stat entry is still there.
	st, statErr := readProcStat(rec.PID)
	rec.StartTime = st.StartTime

	// Reap the child so an early exit is not reported as running.
	go func() {
		_ = cmd.Wait()
		logFile.Close()
	}()

	if statErr != nil {
		_ = unix.Kill(-rec.PID, unix.SIGKILL)
		return fmt.Errorf("failed to read start time of %s: %w", service, statErr)
	}
	if err := os.WriteFile(c.layout.PIDFile(service), []byte(rec.String()+"\n"), constants.ModeFileDefault); err != nil {
		_ = unix.Kill(-rec.PID, unix.SIGKILL)
		return fmt.Errorf("failed to write pid file: %w", err)
	}

	logging.Ctx(ctx).Debug().Str(logging.FieldService, service).Int("pid", rec.PID).Msg("Process started")
	return nil
}

func (c *ProcessController) Stop(ctx context.Context, service string) error {
	spec, err := c.specs.read(service)
	if err != nil {
		return err
	}
	rec, running, err := c.owned(ctx, service)
	if err != nil || !running {
		return err
	}

	logger := logging.Ctx(ctx).With().Str(logging.FieldService, service).Int("pid", rec.PID).Logger()
	if err := signalGroup(rec.PID, unix.SIGTERM); err != nil {
		return fmt.Errorf("failed to stop %s: %w", service, err)
	}
	if waitExit(ctx, rec, spec.StopTimeout) {
		return c.removePID(service)
	}

	logger.Warn().Dur("timeout", spec.StopTimeout).Msg("Process did not exit after SIGTERM, sending SIGKILL")
	if err := signalGroup(rec.PID, unix.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill %s: %w", service, err)
	}
	if !waitExit(ctx, rec, 5*time.Second) {
		return fmt.Errorf("process %d of %s did not exit", rec.PID, service)
	}
	return c.removePID(service)
}

func (c *ProcessController) IsRunning(ctx context.Context, service string) (bool, error) {
	_, running, err := c.owned(ctx, service)
	return running, err
}

// owned reports whether the pid file names a live process this controller started.
// A stale pid file is removed.
func (c *ProcessController) owned(ctx context.Context, service string) (pidRecord, bool, error) {
	rec, ok, err := c.readPID(service)
	if err != nil || !ok {
		return pidRecord{}, false, err
	}
	if rec.alive() {
		return rec, true, nil
	}
	logging.Ctx(ctx).Debug().Str(logging.FieldService, service).Int("pid", rec.PID).Msg("Removing stale pid file")
	return pidRecord{}, false, c.removePID(service)
}

func (c *ProcessController) readPID(service string) (pidRecord, bool, error) {
	data, err := os.ReadFile(c.layout.PIDFile(service))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return pidRecord{}, false, nil
		}
		return pidRecord{}, false, fmt.Errorf("failed to read pid file: %w", err)
	}
	return parsePIDRecord(string(data))
}

func (c *ProcessController) removePID(service string) error {
	if err := os.Remove(c.layout.PIDFile(service)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove pid file: %w", err)
	}
	return nil
}

// pidRecord is the content of run.pid. StartTime is field 22 of /proc/<pid>/stat,
// which tells a reused pid apart from the process that was started.
type pidRecord struct {
	PID       int
	StartTime uint64
}

func (r pidRecord) String() string {
	return strconv.Itoa(r.PID) + " " + strconv.FormatUint(r.StartTime, 10)
}

// parsePIDRecord returns ok false for content that does not name a process identity,
// including the bare pid written by older releases.
func parsePIDRecord(s string) (pidRecord, bool, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return pidRecord{}, true, nil
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil || pid <= 0 {
		return pidRecord{}, true, nil
	}
	start, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return pidRecord{}, true, nil
	}
	return pidRecord{PID: pid, StartTime: start}, true, nil
}

func (r pidRecord) alive() bool {
	if r.PID <= 0 {
		return false
	}
	st, err := readProcStat(r.PID)
	if err != nil {
		return false
	}
	return st.State != "Z" && st.StartTime == r.StartTime
}

type procStat struct {
	State     string
	StartTime uint64
}

const procRoot = "/proc"

func readProcStat(pid int) (procStat, error) {
	data, err := os.ReadFile(filepath.Join(procRoot, strconv.Itoa(pid), "stat"))
	if err != nil {
		return procStat{}, err
	}
	// The command name (field 2) may contain spaces and parentheses.
	s := string(data)
	i := strings.LastIndexByte(s, ')')
	if i < 0 {
		return procStat{}, fmt.Errorf("malformed stat for pid %d", pid)
	}
	fields := strings.Fields(s[i+1:])
	if len(fields) < 20 {
		return procStat{}, fmt.Errorf("malformed stat for pid %d", pid)
	}
	start, err := strconv.ParseUint(fields[19], 10, 64)
	if err != nil {
		return procStat{}, fmt.Errorf("malformed start time for pid %d: %w", pid, err)
	}
	return procStat{State: fields[0], StartTime: start}, nil
}

// signalGroup signals the whole process group, falling back to the single pid.
func signalGroup(pid int, sig unix.Signal) error {
	err := unix.Kill(-pid, sig)
	if errors.Is(err, unix.ESRCH) {
		err = unix.Kill(pid, sig)
	}
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

func waitExit(ctx context.Context, rec pidRecord, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(processPollInterval)
	defer ticker.Stop()
	for {
		if !rec.alive() {
			return true
		}
		select {
		case <-ctx.Done():
			return !rec.alive()
		case <-deadline.C:
			return !rec.alive()
		case <-ticker.C:
		}
	}
}

func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(base)+len(keys))
	env = append(env, base...)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}
