package servicectl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/jinzoro/syseng-scripts/internal/constants"
	"github.com/jinzoro/syseng-scripts/internal/versionstore"
)

var ErrNotRegistered = errors.New("service is not registered")

// Spec is everything a controller needs to run a service from its Current Pointer.
type Spec struct {
	Service     string            `json:"service"`
	WorkingDir  string            `json:"working_dir"`
	Command     []string          `json:"command,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Image       string            `json:"image,omitempty"`
	MountPath   string            `json:"mount_path,omitempty"`
	StopTimeout time.Duration     `json:"stop_timeout,omitempty"`
}

// Controller manages the process behind a service. Start and Stop are idempotent.
type Controller interface {
	Register(ctx context.Context, spec Spec) error
	IsRegistered(ctx context.Context, service string) (bool, error)
	Start(ctx context.Context, service string) error
	Stop(ctx context.Context, service string) error
	IsRunning(ctx context.Context, service string) (bool, error)
}

// specFile persists registrations in <root>/<service>/service.json.
type specFile struct {
	layout versionstore.Layout
}

func (f specFile) write(spec Spec) error {
	if err := os.MkdirAll(f.layout.ServiceDir(spec.Service), constants.ModeDirDefault); err != nil {
		return fmt.Errorf("failed to create service directory: %w", err)
	}
	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal service spec: %w", err)
	}
	// Env may carry secrets.
	if err := os.WriteFile(f.layout.ServiceFile(spec.Service), data, constants.ModeFileSecret); err != nil {
		return fmt.Errorf("failed to write service spec: %w", err)
	}
	return nil
}

func (f specFile) read(service string) (Spec, error) {
	data, err := os.ReadFile(f.layout.ServiceFile(service))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Spec{}, fmt.Errorf("%s: %w", service, ErrNotRegistered)
		}
		return Spec{}, fmt.Errorf("failed to read service spec: %w", err)
	}
	var spec Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return Spec{}, fmt.Errorf("corrupt service spec for %s: %w", service, err)
	}
	if spec.StopTimeout <= 0 {
		spec.StopTimeout = constants.DefaultStopTimeout
	}
	return spec, nil
}

func (f specFile) exists(service string) (bool, error) {
	_, err := os.Stat(f.layout.ServiceFile(service))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
