// Package notify defines where the "instances restarted" message goes once
// the restart sequence has finished.
package notify

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/terrpan/restarter/internal/invocation"
)

// Notifier publishes a message to a topic.  Delivery is fire-and-forget:
// the returned id is the service's acknowledgement of receipt, not of
// delivery to subscribers.
type Notifier interface {
	Publish(ctx context.Context, topic, message string) (messageID string, err error)
}

// LogNotifier "publishes" by writing the message to a logger.  It is used
// for local runs where no topic exists.
type LogNotifier struct {
	logger *slog.Logger
}

var _ Notifier = (*LogNotifier)(nil)

// NewLogNotifier returns a LogNotifier writing to logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Publish logs the notification and returns a random message id.
func (n *LogNotifier) Publish(ctx context.Context, topic, message string) (string, error) {
	id := uuid.NewString()
	invocation.Logger(ctx, n.logger).InfoContext(ctx, "notification",
		slog.String("topic", topic),
		slog.String("message", message),
		slog.String("message_id", id),
	)
	return id, nil
}
