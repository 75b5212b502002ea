// Package ec2 implements controlplane.ControlPlane on top of the Amazon EC2
// API.
//
// Credentials come from the SDK's default chain (Lambda execution role,
// environment, shared config).  No credential fields exist in Config.
package ec2

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/terrpan/restarter/internal/controlplane"
	"github.com/terrpan/restarter/internal/invocation"
)

// Config holds EC2-specific settings.
type Config struct {
	// Region is the AWS region the instances live in (required).
	Region string
}

// ec2API is the subset of the EC2 client used here.  *ec2.EC2 satisfies it.
type ec2API interface {
	StopInstancesWithContext(aws.Context, *ec2.StopInstancesInput, ...request.Option) (*ec2.StopInstancesOutput, error)
	StartInstancesWithContext(aws.Context, *ec2.StartInstancesInput, ...request.Option) (*ec2.StartInstancesOutput, error)
}

// ControlPlane stops and starts EC2 instances.
type ControlPlane struct {
	client ec2API
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer
}

var _ controlplane.ControlPlane = (*ControlPlane)(nil)

// New creates an EC2 control plane for cfg.Region using sess.  If sess is
// nil a new session is created from the default credential chain.
func New(sess *session.Session, cfg Config, logger *slog.Logger) (*ControlPlane, error) {
	if cfg.Region == "" {
		return nil, errors.New("ec2: region is required")
	}
	if sess == nil {
		var err error
		sess, err = session.NewSession(&aws.Config{Region: aws.String(cfg.Region)})
		if err != nil {
			return nil, fmt.Errorf("ec2 session: %w", err)
		}
	}

	logger.Info("ec2 control plane initialized", slog.String("region", cfg.Region))

	return newControlPlane(ec2.New(sess, aws.NewConfig().WithRegion(cfg.Region)), cfg, logger), nil
}

func newControlPlane(client ec2API, cfg Config, logger *slog.Logger) *ControlPlane {
	return &ControlPlane{
		client: client,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer("restarter/controlplane/ec2"),
	}
}

// StopInstances issues a single StopInstances request for all ids.
func (c *ControlPlane) StopInstances(ctx context.Context, ids []string) (controlplane.Ack, error) {
	ctx, span := c.tracer.Start(ctx, "controlplane.ec2.StopInstances")
	defer span.End()

	span.SetAttributes(
		attribute.String("aws.region", c.cfg.Region),
		attribute.StringSlice("ec2.instance_ids", ids),
	)

	invocation.Logger(ctx, c.logger).Info("stopping instances", slog.Any("instance_ids", ids))

	out, err := c.client.StopInstancesWithContext(ctx, &ec2.StopInstancesInput{
		InstanceIds: aws.StringSlice(ids),
	})
	if err != nil {
		span.RecordError(err)
		return controlplane.Ack{}, fmt.Errorf("ec2 stop instances: %w", err)
	}

	return controlplane.Ack{Transitions: transitions(out.StoppingInstances)}, nil
}

// StartInstances issues a single StartInstances request for all ids.
func (c *ControlPlane) StartInstances(ctx context.Context, ids []string) (controlplane.Ack, error) {
	ctx, span := c.tracer.Start(ctx, "controlplane.ec2.StartInstances")
	defer span.End()

	span.SetAttributes(
		attribute.String("aws.region", c.cfg.Region),
		attribute.StringSlice("ec2.instance_ids", ids),
	)

	invocation.Logger(ctx, c.logger).Info("starting instances", slog.Any("instance_ids", ids))

	out, err := c.client.StartInstancesWithContext(ctx, &ec2.StartInstancesInput{
		InstanceIds: aws.StringSlice(ids),
	})
	if err != nil {
		span.RecordError(err)
		return controlplane.Ack{}, fmt.Errorf("ec2 start instances: %w", err)
	}

	return controlplane.Ack{Transitions: transitions(out.StartingInstances)}, nil
}

func transitions(changes []*ec2.InstanceStateChange) []controlplane.Transition {
	out := make([]controlplane.Transition, 0, len(changes))
	for _, ch := range changes {
		t := controlplane.Transition{InstanceID: aws.StringValue(ch.InstanceId)}
		if ch.PreviousState != nil {
			t.PreviousState = aws.StringValue(ch.PreviousState.Name)
		}
		if ch.CurrentState != nil {
			t.CurrentState = aws.StringValue(ch.CurrentState.Name)
		}
		out = append(out, t)
	}
	return out
}
