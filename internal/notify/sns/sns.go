// Package sns implements notify.Notifier with Amazon SNS.
package sns

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sns"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/terrpan/restarter/internal/invocation"
	"github.com/terrpan/restarter/internal/notify"
)

type snsAPI interface {
	PublishWithContext(aws.Context, *sns.PublishInput, ...request.Option) (*sns.PublishOutput, error)
}

// Notifier publishes to SNS topics.
type Notifier struct {
	client snsAPI
	logger *slog.Logger
	tracer trace.Tracer
}

var _ notify.Notifier = (*Notifier)(nil)

// New creates an SNS notifier for region.  If sess is nil a session is
// created from the default credential chain.
func New(sess *session.Session, region string, logger *slog.Logger) (*Notifier, error) {
	if sess == nil {
		var err error
		sess, err = session.NewSession(&aws.Config{Region: aws.String(region)})
		if err != nil {
			return nil, fmt.Errorf("sns session: %w", err)
		}
	}
	return newNotifier(sns.New(sess, aws.NewConfig().WithRegion(region)), logger), nil
}

func newNotifier(client snsAPI, logger *slog.Logger) *Notifier {
	return &Notifier{
		client: client,
		logger: logger,
		tracer: otel.Tracer("restarter/notify/sns"),
	}
}

// Publish sends message to the topic identified by the ARN topic.
func (n *Notifier) Publish(ctx context.Context, topic, message string) (string, error) {
	ctx, span := n.tracer.Start(ctx, "notify.sns.Publish")
	defer span.End()
	span.SetAttributes(attribute.String("sns.topic_arn", topic))

	out, err := n.client.PublishWithContext(ctx, &sns.PublishInput{
		TopicArn: aws.String(topic),
		Message:  aws.String(message),
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("sns publish to %s: %w", topic, err)
	}

	id := aws.StringValue(out.MessageId)
	invocation.Logger(ctx, n.logger).Info("notification published",
		slog.String("topic_arn", topic),
		slog.String("message_id", id),
	)
	return id, nil
}
