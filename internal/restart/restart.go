// Package restart implements the stop, wait, start, notify sequence that
// makes up one restart invocation.
package restart

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tilinna/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/terrpan/restarter/internal/controlplane"
	"github.com/terrpan/restarter/internal/invocation"
	"github.com/terrpan/restarter/internal/notify"
)

const (
	// DefaultWait is the pause between the stop and start requests.
	DefaultWait = 30 * time.Second

	// StatusMessage is returned on every successful invocation.
	StatusMessage = "instances stopped and started"
)

// Step names, used in errors and as metric attributes.
const (
	StepStop    = "stop"
	StepStart   = "start"
	StepPublish = "publish"
)

// Phase is a point in the restart sequence.  The sequence is strictly
// linear; a failed dependency call aborts it rather than transitioning.
type Phase int

const (
	PhaseStart Phase = iota
	PhaseStopRequested
	PhaseWaiting
	PhaseStartRequested
	PhaseNotified
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseStart:
		return "start"
	case PhaseStopRequested:
		return "stop_requested"
	case PhaseWaiting:
		return "waiting"
	case PhaseStartRequested:
		return "start_requested"
	case PhaseNotified:
		return "notified"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Result is returned to the invoking runtime.
type Result struct {
	StatusCode    int    `json:"statusCode"`
	StatusMessage string `json:"statusMessage"`
}

// StepError reports a failed call to the control plane or the notifier.
// It is the only error kind Run returns.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Config holds everything a run needs.  All fields are read-only once the
// Orchestrator is built.
type Config struct {
	ControlPlane controlplane.ControlPlane
	Notifier     notify.Notifier
	InstanceIDs  []string
	Topic        string
	Message      string
	Wait         time.Duration
	Logger       *slog.Logger
}

// Orchestrator runs the restart sequence.  It holds no per-invocation
// state and may be shared by concurrent invocations.
type Orchestrator struct {
	cp          controlplane.ControlPlane
	notifier    notify.Notifier
	instanceIDs []string
	topic       string
	message     string
	wait        time.Duration
	logger      *slog.Logger

	tracer       trace.Tracer
	invocations  metric.Int64Counter
	stepDuration metric.Float64Histogram
}

// New creates an Orchestrator.  A zero Wait means DefaultWait.
func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Wait <= 0 {
		cfg.Wait = DefaultWait
	}

	o := &Orchestrator{
		cp:          cfg.ControlPlane,
		notifier:    cfg.Notifier,
		instanceIDs: append([]string(nil), cfg.InstanceIDs...),
		topic:       cfg.Topic,
		message:     cfg.Message,
		wait:        cfg.Wait,
		logger:      cfg.Logger,
		tracer:      otel.Tracer("restarter/restart"),
	}

	meter := otel.Meter("restarter/restart")

	var err error
	o.invocations, err = meter.Int64Counter(
		"restarter.invocations",
		metric.WithDescription("Restart invocations by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		cfg.Logger.Warn("failed to create invocations counter", slog.String("error", err.Error()))
	}

	o.stepDuration, err = meter.Float64Histogram(
		"restarter.step.duration",
		metric.WithDescription("Duration of each dependency call (seconds)"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		cfg.Logger.Warn("failed to create step duration histogram", slog.String("error", err.Error()))
	}

	return o
}

// Run stops the instances, waits, starts them again and publishes the
// notification.  The first failing call aborts the sequence: nothing is
// retried and nothing is compensated.
//
// The wait is read from the clock attached to ctx (see clock.Context) and
// is not interrupted by ctx cancellation.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	ctx, span := o.tracer.Start(ctx, "restart.Run")
	defer span.End()

	span.SetAttributes(
		attribute.StringSlice("restart.instance_ids", o.instanceIDs),
		attribute.String("restart.topic", o.topic),
		attribute.Float64("restart.wait_seconds", o.wait.Seconds()),
	)

	logger := invocation.Logger(ctx, o.logger)
	o.enter(ctx, span, logger, PhaseStart)

	var stopAck, startAck controlplane.Ack
	err := o.call(ctx, StepStop, func() (err error) {
		stopAck, err = o.cp.StopInstances(ctx, o.instanceIDs)
		return err
	})
	if err != nil {
		return Result{}, o.fail(ctx, span, logger, StepStop, err)
	}
	logger.Info("stop requested", slog.Any("ack", stopAck))
	o.enter(ctx, span, logger, PhaseStopRequested)

	o.enter(ctx, span, logger, PhaseWaiting)
	<-clock.After(ctx, o.wait)

	err = o.call(ctx, StepStart, func() (err error) {
		startAck, err = o.cp.StartInstances(ctx, o.instanceIDs)
		return err
	})
	if err != nil {
		return Result{}, o.fail(ctx, span, logger, StepStart, err)
	}
	logger.Info("start requested", slog.Any("ack", startAck))
	o.enter(ctx, span, logger, PhaseStartRequested)

	var messageID string
	err = o.call(ctx, StepPublish, func() (err error) {
		messageID, err = o.notifier.Publish(ctx, o.topic, o.message)
		return err
	})
	if err != nil {
		return Result{}, o.fail(ctx, span, logger, StepPublish, err)
	}
	logger.Info("notification sent",
		slog.String("topic", o.topic),
		slog.String("message_id", messageID),
	)
	o.enter(ctx, span, logger, PhaseNotified)

	if o.invocations != nil {
		o.invocations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "success")))
	}
	o.enter(ctx, span, logger, PhaseDone)

	return Result{StatusCode: http.StatusOK, StatusMessage: StatusMessage}, nil
}

// call runs fn and records how long it took.
func (o *Orchestrator) call(ctx context.Context, step string, fn func() error) error {
	start := time.Now()
	err := fn()
	if o.stepDuration != nil {
		o.stepDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("step", step)))
	}
	return err
}

func (o *Orchestrator) enter(ctx context.Context, span trace.Span, logger *slog.Logger, p Phase) {
	span.AddEvent(p.String())
	logger.DebugContext(ctx, "phase", slog.String("phase", p.String()))
}

func (o *Orchestrator) fail(ctx context.Context, span trace.Span, logger *slog.Logger, step string, err error) error {
	span.RecordError(err)
	if o.invocations != nil {
		o.invocations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", step)))
	}
	logger.Error("restart aborted",
		slog.String("step", step),
		slog.String("error", err.Error()),
	)
	return &StepError{Step: step, Err: err}
}
