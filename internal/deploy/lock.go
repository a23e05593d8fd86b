package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jinzoro/syseng-scripts/internal/constants"
	"github.com/jinzoro/syseng-scripts/internal/versionstore"
	"golang.org/x/sys/unix"
)

// Locker serializes attempts per service: a mutex map inside the process and an
// flock on <root>/<service>/.lock across processes.
type Locker struct {
	layout       versionstore.Layout
	pollInterval time.Duration

	mu   sync.Mutex
	held map[string]bool
}

func NewLocker(layout versionstore.Layout) *Locker {
	return &Locker{layout: layout, pollInterval: constants.LockPollInterval, held: make(map[string]bool)}
}

// Acquire blocks until the service lock is held or ctx ends. The returned
// function releases it.
func (l *Locker) Acquire(ctx context.Context, service string) (func(), error) {
	if err := l.acquireLocal(ctx, service); err != nil {
		return nil, err
	}

	f, err := l.acquireFile(ctx, service)
	if err != nil {
		l.releaseLocal(service)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
			f.Close()
			l.releaseLocal(service)
		})
	}, nil
}

func (l *Locker) acquireLocal(ctx context.Context, service string) error {
	for {
		l.mu.Lock()
		if !l.held[service] {
			l.held[service] = true
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()
		if err := l.wait(ctx, service); err != nil {
			return err
		}
	}
}

func (l *Locker) releaseLocal(service string) {
	l.mu.Lock()
	delete(l.held, service)
	l.mu.Unlock()
}

func (l *Locker) acquireFile(ctx context.Context, service string) (*os.File, error) {
	if err := os.MkdirAll(l.layout.ServiceDir(service), constants.ModeDirDefault); err != nil {
		return nil, fmt.Errorf("failed to create service directory: %w", err)
	}
	f, err := os.OpenFile(l.layout.LockFile(service), os.O_CREATE|os.O_RDWR, constants.ModeFileDefault)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
			f.Close()
			return nil, fmt.Errorf("failed to lock %s: %w", l.layout.LockFile(service), err)
		}
		if err := l.wait(ctx, service); err != nil {
			f.Close()
			return nil, err
		}
	}
}

func (l *Locker) wait(ctx context.Context, service string) error {
	timer := time.NewTimer(l.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w: %w", service, ErrDeploymentInProgress, ctx.Err())
	case <-timer.C:
		return nil
	}
}
