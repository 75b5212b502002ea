// Package docker implements controlplane.ControlPlane against the local
// Docker daemon, treating containers as instances.  It exists so the
// restart sequence can be exercised end to end on a workstation without a
// cloud account.
package docker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/docker/docker/api/types/container"
	dockerclient "github.com/docker/docker/client"

	"github.com/terrpan/restarter/internal/controlplane"
	"github.com/terrpan/restarter/internal/invocation"
)

// Config holds Docker-specific settings.
type Config struct {
	// StopTimeout is the number of seconds the daemon waits for a
	// container to exit before killing it.  Zero uses the daemon default.
	StopTimeout int
}

type dockerAPI interface {
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	Close() error
}

// ControlPlane stops and starts Docker containers by name or ID.
type ControlPlane struct {
	client dockerAPI
	cfg    Config
	logger *slog.Logger
}

// Compile-time check that ControlPlane satisfies the interface.
var _ controlplane.ControlPlane = (*ControlPlane)(nil)

// New connects to the Docker daemon configured in the environment.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*ControlPlane, error) {
	client, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	if _, err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("docker ping: %w", err)
	}

	logger.Info("docker control plane initialized", slog.String("host", client.DaemonHost()))

	return &ControlPlane{client: client, cfg: cfg, logger: logger}, nil
}

// StopInstances stops each container in ids.  Stopping an already-stopped
// container is not an error for the daemon.
func (c *ControlPlane) StopInstances(ctx context.Context, ids []string) (controlplane.Ack, error) {
	opts := container.StopOptions{}
	if c.cfg.StopTimeout > 0 {
		timeout := c.cfg.StopTimeout
		opts.Timeout = &timeout
	}

	var ack controlplane.Ack
	for _, id := range ids {
		prev := c.state(ctx, id)
		invocation.Logger(ctx, c.logger).Info("stopping container", slog.String("container", id))
		if err := c.client.ContainerStop(ctx, id, opts); err != nil {
			return ack, fmt.Errorf("container stop %s: %w", id, err)
		}
		ack.Transitions = append(ack.Transitions, controlplane.Transition{
			InstanceID:    id,
			PreviousState: prev,
			CurrentState:  c.state(ctx, id),
		})
	}
	return ack, nil
}

// StartInstances starts each container in ids.
func (c *ControlPlane) StartInstances(ctx context.Context, ids []string) (controlplane.Ack, error) {
	var ack controlplane.Ack
	for _, id := range ids {
		prev := c.state(ctx, id)
		invocation.Logger(ctx, c.logger).Info("starting container", slog.String("container", id))
		if err := c.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
			return ack, fmt.Errorf("container start %s: %w", id, err)
		}
		ack.Transitions = append(ack.Transitions, controlplane.Transition{
			InstanceID:    id,
			PreviousState: prev,
			CurrentState:  c.state(ctx, id),
		})
	}
	return ack, nil
}

// Close releases the daemon connection.
func (c *ControlPlane) Close() error {
	return c.client.Close()
}

// state returns the container status for the ack, or "" if it cannot be
// inspected.  Inspection is informational only.
func (c *ControlPlane) state(ctx context.Context, id string) string {
	info, err := c.client.ContainerInspect(ctx, id)
	if err != nil || info.ContainerJSONBase == nil || info.State == nil {
		return ""
	}
	return string(info.State.Status)
}
