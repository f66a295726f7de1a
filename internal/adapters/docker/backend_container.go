package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/manthysbr/mangaqueue/internal/core/ports"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const managedLabel = "mangaqueue.managed"

// containerAPI is the part of the docker client the backend container uses.
type containerAPI interface {
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	Close() error
}

// BackendContainer keeps the translation backend's container running.
type BackendContainer struct {
	logger *slog.Logger
	cli    containerAPI
	name   string
	image  string
}

var _ ports.BackendRuntime = (*BackendContainer)(nil)

// NewBackendContainer connects to the local docker daemon using the
// environment (DOCKER_HOST and friends).
func NewBackendContainer(logger *slog.Logger, name, imageRef string) (*BackendContainer, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &BackendContainer{logger: logger, cli: cli, name: name, image: imageRef}, nil
}

// EnsureRunning starts the named container, creating it from the image
// (pulling if needed) when it does not exist.
func (b *BackendContainer) EnsureRunning(ctx context.Context) error {
	inspect, err := b.cli.ContainerInspect(ctx, b.name)
	switch {
	case err == nil && inspect.ContainerJSONBase == nil:
		return fmt.Errorf("empty inspect response for container %s", b.name)
	case err == nil:
		if inspect.State != nil && inspect.State.Running {
			b.logger.Info("translator container already running", "container", b.name)
			return nil
		}
		return b.start(ctx, inspect.ID)
	case !client.IsErrNotFound(err):
		return fmt.Errorf("failed to inspect container %s: %w", b.name, err)
	}

	id, err := b.create(ctx)
	if err != nil {
		return err
	}
	return b.start(ctx, id)
}

func (b *BackendContainer) create(ctx context.Context) (string, error) {
	cfg := &container.Config{
		Image: b.image,
		Labels: map[string]string{
			managedLabel: "true",
		},
	}
	hostCfg := &container.HostConfig{
		// The backend listens on a host port the client is configured with.
		NetworkMode:   "host",
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
	}

	resp, err := b.cli.ContainerCreate(ctx, cfg, hostCfg, &network.NetworkingConfig{}, nil, b.name)
	if client.IsErrNotFound(err) {
		b.logger.Info("pulling translator image", "image", b.image)
		reader, pullErr := b.cli.ImagePull(ctx, b.image, image.PullOptions{})
		if pullErr != nil {
			return "", fmt.Errorf("failed to pull image %s: %w", b.image, pullErr)
		}
		_, _ = io.Copy(io.Discard, reader)
		reader.Close()

		resp, err = b.cli.ContainerCreate(ctx, cfg, hostCfg, &network.NetworkingConfig{}, nil, b.name)
	}
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", b.name, err)
	}
	return resp.ID, nil
}

func (b *BackendContainer) start(ctx context.Context, id string) error {
	if err := b.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", b.name, err)
	}
	b.logger.Info("translator container started", "container", b.name, "id", id)
	return nil
}

func (b *BackendContainer) Close() error {
	return b.cli.Close()
}
