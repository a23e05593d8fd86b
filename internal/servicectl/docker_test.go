package servicectl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/jinzoro/syseng-scripts/internal/versionstore"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type notFoundError struct{ id string }

func (e notFoundError) Error() string { return "no such container: " + e.id }
func (notFoundError) NotFound() {}

type fakeDocker struct {
	calls    []string
	exists   bool
	running  bool
	startErr error

	created *container.Config
	host    *container.HostConfig
	stopOpt container.StopOptions
}

func (d *fakeDocker) ContainerInspect(ctx context.Context, id string) (container.InspectResponse, error) {
	d.calls = append(d.calls, "inspect "+id)
	if !d.exists {
		return container.InspectResponse{}, notFoundError{id: id}
	}
	return container.InspectResponse{ContainerJSONBase: &container.ContainerJSONBase{
		State: &container.State{Running: d.running},
	}}, nil
}

func (d *fakeDocker) ContainerCreate(ctx context.Context, cfg *container.Config, host *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, name string) (container.CreateResponse, error) {
	d.calls = append(d.calls, "create "+name)
	d.created, d.host = cfg, host
	d.exists = true
	return container.CreateResponse{ID: "c0ffee"}, nil
}

func (d *fakeDocker) ContainerStart(ctx context.Context, id string, _ container.StartOptions) error {
	d.calls = append(d.calls, "start "+id)
	if d.startErr != nil {
		return d.startErr
	}
	d.running = true
	return nil
}

func (d *fakeDocker) ContainerStop(ctx context.Context, id string, opts container.StopOptions) error {
	d.calls = append(d.calls, "stop "+id)
	d.stopOpt = opts
	if !d.exists {
		return notFoundError{id: id}
	}
	d.running = false
	return nil
}

func (d *fakeDocker) ContainerRemove(ctx context.Context, id string, opts container.RemoveOptions) error {
	d.calls = append(d.calls, "remove "+id)
	if !d.exists {
		return notFoundError{id: id}
	}
	d.exists, d.running = false, false
	return nil
}

func (d *fakeDocker) Close() error { return nil }

func dockerFixture(t *testing.T, api *fakeDocker) (*DockerController, string) {
	t.Helper()
	layout := versionstore.Layout{Root: t.TempDir()}
	versionDir := filepath.Join(layout.VersionsDir("api"), "1.0.0")
	require.NoError(t, os.MkdirAll(versionDir, 0o755))
	require.NoError(t, os.Symlink(filepath.Join("versions", "1.0.0"), layout.CurrentLink("api")))

	c := NewDockerController(layout, DockerOptions{Client: api})
	require.NoError(t, c.Register(context.Background(), Spec{
		Service:     "api",
		WorkingDir:  layout.CurrentLink("api"),
		Command:     []string{"./server"},
		Env:         map[string]string{"PORT": "8080"},
		Image:       "alpine:3.20",
		StopTimeout: 7 * time.Second,
	}))
	resolved, err := filepath.EvalSymlinks(versionDir)
	require.NoError(t, err)
	return c, resolved
}

func TestDockerControllerStartCreatesContainer(t *testing.T) {
	ctx := context.Background()
	api := &fakeDocker{}
	c, source := dockerFixture(t, api)

	running, err := c.IsRunning(ctx, "api")
	require.NoError(t, err)
	assert.False(t, running)

	require.NoError(t, c.Start(ctx, "api"))
	assert.Equal(t, []string{
		"inspect deployctl-api",
		"inspect deployctl-api",
		"remove deployctl-api",
		"create deployctl-api",
		"start c0ffee",
	}, api.calls)

	require.NotNil(t, api.created)
	assert.Equal(t, "alpine:3.20", api.created.Image)
	assert.Equal(t, []string{"./server"}, []string(api.created.Cmd))
	assert.Equal(t, []string{"PORT=8080"}, api.created.Env)
	assert.Equal(t, "/app", api.created.WorkingDir)
	assert.Equal(t, "api", api.created.Labels["deployctl.service"])
	assert.Equal(t, "1.0.0", api.created.Labels["deployctl.version"])
	assert.Equal(t, []string{source + ":/app:ro"}, api.host.Binds)

	running, err = c.IsRunning(ctx, "api")
	require.NoError(t, err)
	assert.True(t, running)
}

func TestDockerControllerStartWhenRunningIsNoOp(t *testing.T) {
	api := &fakeDocker{exists: true, running: true}
	c, _ := dockerFixture(t, api)

	require.NoError(t, c.Start(context.Background(), "api"))
	assert.Equal(t, []string{"inspect deployctl-api"}, api.calls)
	assert.Nil(t, api.created)
}

func TestDockerControllerStartFailureRemovesContainer(t *testing.T) {
	api := &fakeDocker{startErr: errors.New("port is already allocated")}
	c, _ := dockerFixture(t, api)

	err := c.Start(context.Background(), "api")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port is already allocated")
	assert.Equal(t, "remove c0ffee", api.calls[len(api.calls)-1])
	assert.False(t, api.exists)
}

func TestDockerControllerStop(t *testing.T) {
	ctx := context.Background()
	api := &fakeDocker{exists: true, running: true}
	c, _ := dockerFixture(t, api)

	require.NoError(t, c.Stop(ctx, "api"))
	require.NotNil(t, api.stopOpt.Timeout)
	assert.Equal(t, 7, *api.stopOpt.Timeout)
	running, err := c.IsRunning(ctx, "api")
	require.NoError(t, err)
	assert.False(t, running)

	// A missing container counts as stopped.
	api.exists = false
	require.NoError(t, c.Stop(ctx, "api"))
}

func TestDockerControllerRequiresImage(t *testing.T) {
	c := NewDockerController(versionstore.Layout{Root: t.TempDir()}, DockerOptions{Client: &fakeDocker{}})
	assert.Error(t, c.Register(context.Background(), Spec{Service: "api"}))
	assert.ErrorIs(t, c.Start(context.Background(), "api"), ErrNotRegistered)
}
