// Package gce implements controlplane.ControlPlane using Google Compute
// Engine instances.
//
// Authentication uses Application Default Credentials (ADC).  No
// credential fields exist in Config -- auth is handled by the
// environment (attached service account, Workload Identity Federation,
// GOOGLE_APPLICATION_CREDENTIALS, or gcloud auth application-default login).
package gce

import (
	"context"
	"fmt"
	"log/slog"

	compute "cloud.google.com/go/compute/apiv1"
	computepb "cloud.google.com/go/compute/apiv1/computepb"
	"github.com/google/uuid"
	gax "github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/protobuf/proto"

	"github.com/terrpan/restarter/internal/controlplane"
	"github.com/terrpan/restarter/internal/invocation"
)

// Config holds GCE-specific settings.
type Config struct {
	// Project is the GCP project ID (required).
	Project string

	// Zone is the zone the instances live in (required).
	Zone string
}

// operation is the part of a zone operation we record.  The operation
// is never waited on: a stop or start is acknowledged, not confirmed.
type operation interface {
	Name() string
}

// instancesAPI is the subset of the instances client used here.
type instancesAPI interface {
	Stop(ctx context.Context, req *computepb.StopInstanceRequest, opts ...gax.CallOption) (operation, error)
	Start(ctx context.Context, req *computepb.StartInstanceRequest, opts ...gax.CallOption) (operation, error)
	Close() error
}

// restClient adapts *compute.InstancesClient, whose methods return the
// concrete *compute.Operation, to instancesAPI.
type restClient struct {
	c *compute.InstancesClient
}

func (r restClient) Stop(ctx context.Context, req *computepb.StopInstanceRequest, opts ...gax.CallOption) (operation, error) {
	op, err := r.c.Stop(ctx, req, opts...)
	if err != nil {
		return nil, err
	}
	return op, nil
}

func (r restClient) Start(ctx context.Context, req *computepb.StartInstanceRequest, opts ...gax.CallOption) (operation, error) {
	op, err := r.c.Start(ctx, req, opts...)
	if err != nil {
		return nil, err
	}
	return op, nil
}

func (r restClient) Close() error { return r.c.Close() }

// ControlPlane stops and starts GCE instances by name.
type ControlPlane struct {
	client instancesAPI
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer
}

var _ controlplane.ControlPlane = (*ControlPlane)(nil)

// New creates a GCE control plane using Application Default Credentials.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*ControlPlane, error) {
	if cfg.Project == "" || cfg.Zone == "" {
		return nil, fmt.Errorf("gce: project and zone are required")
	}

	client, err := compute.NewInstancesRESTClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gce instances client: %w", err)
	}

	logger.Info("gce control plane initialized",
		slog.String("project", cfg.Project),
		slog.String("zone", cfg.Zone),
	)

	return newControlPlane(restClient{c: client}, cfg, logger), nil
}

func newControlPlane(client instancesAPI, cfg Config, logger *slog.Logger) *ControlPlane {
	return &ControlPlane{
		client: client,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer("restarter/controlplane/gce"),
	}
}

// StopInstances sends one Stop request per instance, in order.  The first
// failure aborts the remaining requests.
func (c *ControlPlane) StopInstances(ctx context.Context, ids []string) (controlplane.Ack, error) {
	ctx, span := c.tracer.Start(ctx, "controlplane.gce.StopInstances")
	defer span.End()
	c.annotate(span, ids)

	var ack controlplane.Ack
	for _, id := range ids {
		invocation.Logger(ctx, c.logger).Info("stopping instance", slog.String("name", id), slog.String("zone", c.cfg.Zone))

		op, err := c.client.Stop(ctx, &computepb.StopInstanceRequest{
			Project:   c.cfg.Project,
			Zone:      c.cfg.Zone,
			Instance:  id,
			RequestId: proto.String(uuid.NewString()),
		})
		if err != nil {
			span.RecordError(err)
			return ack, fmt.Errorf("stop instance %s: %w", id, err)
		}
		ack.Transitions = append(ack.Transitions, controlplane.Transition{InstanceID: id, CurrentState: "STOPPING"})
		ack.Operations = append(ack.Operations, op.Name())
	}

	return ack, nil
}

// StartInstances sends one Start request per instance, in order.
func (c *ControlPlane) StartInstances(ctx context.Context, ids []string) (controlplane.Ack, error) {
	ctx, span := c.tracer.Start(ctx, "controlplane.gce.StartInstances")
	defer span.End()
	c.annotate(span, ids)

	var ack controlplane.Ack
	for _, id := range ids {
		invocation.Logger(ctx, c.logger).Info("starting instance", slog.String("name", id), slog.String("zone", c.cfg.Zone))

		op, err := c.client.Start(ctx, &computepb.StartInstanceRequest{
			Project:   c.cfg.Project,
			Zone:      c.cfg.Zone,
			Instance:  id,
			RequestId: proto.String(uuid.NewString()),
		})
		if err != nil {
			span.RecordError(err)
			return ack, fmt.Errorf("start instance %s: %w", id, err)
		}
		ack.Transitions = append(ack.Transitions, controlplane.Transition{InstanceID: id, CurrentState: "PROVISIONING"})
		ack.Operations = append(ack.Operations, op.Name())
	}

	return ack, nil
}

// Close releases the underlying API client.
func (c *ControlPlane) Close() error {
	return c.client.Close()
}

func (c *ControlPlane) annotate(span trace.Span, ids []string) {
	span.SetAttributes(
		attribute.String("gcp.project", c.cfg.Project),
		attribute.String("gcp.zone", c.cfg.Zone),
		attribute.StringSlice("gcp.instance_names", ids),
	)
}
