package supervisor

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// DockerResolver wraps a docker client for container name resolution and
// supervised stop, the "docker stop <container>" path of spec.md §4.F
// rule 5 and §4.I's container-target routing.
type DockerResolver struct {
	cli *client.Client
}

// NewDockerResolver connects to the local docker daemon over its default
// host (respecting DOCKER_HOST if set).
func NewDockerResolver() (*DockerResolver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("supervisor: docker client: %w", err)
	}
	return &DockerResolver{cli: cli}, nil
}

// Close releases the underlying HTTP client.
func (d *DockerResolver) Close() error {
	return d.cli.Close()
}

// ResolveContainerName returns the friendly name docker reports for a
// container ID (as extracted by DetectFromCgroup), trimming docker's
// leading slash.
func (d *DockerResolver) ResolveContainerName(ctx context.Context, containerID string) (string, error) {
	inspect, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return "", fmt.Errorf("supervisor: inspect container %s: %w", containerID, err)
	}
	return strings.TrimPrefix(inspect.Name, "/"), nil
}

// Stop issues a graceful docker stop against the given container, honoring
// the plan's escalation grace window as docker's own stop timeout.
func (d *DockerResolver) Stop(ctx context.Context, containerID string, graceSeconds int) error {
	timeout := graceSeconds
	if err := d.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("supervisor: stop container %s: %w", containerID, err)
	}
	return nil
}
