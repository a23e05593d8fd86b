package servicectl

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/jinzoro/syseng-scripts/internal/constants"
	"github.com/jinzoro/syseng-scripts/internal/logging"
	"github.com/jinzoro/syseng-scripts/internal/versionstore"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// DockerAPI is the part of the Docker client the controller uses.
type DockerAPI interface {
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Close() error
}

var _ DockerAPI = (*client.Client)(nil)

// NewDockerClient connects to the daemon from the environment and checks it answers.
func NewDockerClient(ctx context.Context) (*client.Client, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	if _, err := dockerClient.Ping(ctx); err != nil {
		dockerClient.Close()
		return nil, fmt.Errorf("failed to connect to Docker daemon: %w", err)
	}
	return dockerClient, nil
}

// DockerController runs each service as one container with the Current Pointer
// bind-mounted. Start recreates the container so the mount follows the pointer.
type DockerController struct {
	specs specFile

	mu     sync.Mutex
	client DockerAPI
}

type DockerOptions struct {
	// Client defaults to a connection from the environment, opened on first use.
	Client DockerAPI
}

func NewDockerController(layout versionstore.Layout, opts DockerOptions) *DockerController {
	return &DockerController{specs: specFile{layout: layout}, client: opts.Client}
}

func ContainerName(service string) string {
	return constants.DockerContainerPrefix + service
}

func (c *DockerController) docker(ctx context.Context) (DockerAPI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	cli, err := NewDockerClient(ctx)
	if err != nil {
		return nil, err
	}
	c.client = cli
	return cli, nil
}

func (c *DockerController) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

func (c *DockerController) Register(ctx context.Context, spec Spec) error {
	if spec.Image == "" {
		return fmt.Errorf("service %s has no image", spec.Service)
	}
	if spec.MountPath == "" {
		spec.MountPath = constants.DefaultDockerMountPath
	}
	return c.specs.write(spec)
}

func (c *DockerController) IsRegistered(ctx context.Context, service string) (bool, error) {
	return c.specs.exists(service)
}

func (c *DockerController) Start(ctx context.Context, service string) error {
	spec, err := c.specs.read(service)
	if err != nil {
		return err
	}
	if running, err := c.IsRunning(ctx, service); err != nil {
		return err
	} else if running {
		return nil
	}
	cli, err := c.docker(ctx)
	if err != nil {
		return err
	}

	name := ContainerName(service)
	if err := cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove old container %s: %w", name, err)
	}

	source, err := filepath.EvalSymlinks(spec.WorkingDir)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", spec.WorkingDir, err)
	}
	version := filepath.Base(source)

	containerConfig := &container.Config{
		Image:      spec.Image,
		Cmd:        spec.Command,
		Env:        envList(spec.Env),
		WorkingDir: spec.MountPath,
		Labels: map[string]string{
			constants.DockerLabelService: service,
			constants.DockerLabelVersion: version,
		},
	}
	hostConfig := &container.HostConfig{
		RestartPolicy: container.RestartPolicy{Name: "unless-stopped"},
		Binds:         []string{fmt.Sprintf("%s:%s:ro", source, spec.MountPath)},
	}

	resp, err := cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}
	if err := cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if removeErr := cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true}); removeErr != nil {
			logging.Ctx(ctx).Warn().Err(removeErr).Str("container", name).Msg("Failed to clean up container after start error")
		}
		return fmt.Errorf("failed to start container: %w", err)
	}
	logging.Ctx(ctx).Debug().Str(logging.FieldService, service).Str("container", name).Str(logging.FieldVersion, version).Msg("Container started")
	return nil
}

func (c *DockerController) Stop(ctx context.Context, service string) error {
	spec, err := c.specs.read(service)
	if err != nil {
		return err
	}
	cli, err := c.docker(ctx)
	if err != nil {
		return err
	}
	timeout := int(spec.StopTimeout.Seconds())
	err = cli.ContainerStop(ctx, ContainerName(service), container.StopOptions{Timeout: &timeout})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to stop container %s: %w", ContainerName(service), err)
	}
	return nil
}

func (c *DockerController) IsRunning(ctx context.Context, service string) (bool, error) {
	cli, err := c.docker(ctx)
	if err != nil {
		return false, err
	}
	info, err := cli.ContainerInspect(ctx, ContainerName(service))
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to inspect container %s: %w", ContainerName(service), err)
	}
	return info.ContainerJSONBase != nil && info.State != nil && info.State.Running, nil
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
