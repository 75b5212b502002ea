// Package handler adapts the restart sequence to its invocation surfaces:
// the AWS Lambda runtime and a plain HTTP endpoint for manual triggers.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/google/uuid"

	"github.com/terrpan/restarter/internal/invocation"
	"github.com/terrpan/restarter/internal/restart"
)

// Runner runs one restart.  *restart.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context) (restart.Result, error)
}

// Handler serves invocations.
type Handler struct {
	runner Runner
	logger *slog.Logger
}

// New returns a Handler that runs runner for every invocation.
func New(runner Runner, logger *slog.Logger) *Handler {
	return &Handler{runner: runner, logger: logger}
}

// Handle is the Lambda entry point.  The triggering event (an alarm,
// a schedule, a manual test event) is accepted but not consulted.
// The invocation id is attached to ctx for the orchestrator and backends.
func (h *Handler) Handle(ctx context.Context, _ json.RawMessage) (restart.Result, error) {
	ctx = invocation.WithID(ctx, InvocationID(ctx))
	logger := invocation.Logger(ctx, h.logger)
	logger.Info("invocation started")

	res, err := h.runner.Run(ctx)
	if err != nil {
		logger.Error("invocation failed", slog.String("error", err.Error()))
		return res, err
	}

	logger.Info("invocation finished",
		slog.Int("status_code", res.StatusCode),
		slog.String("status_message", res.StatusMessage),
	)
	return res, nil
}

// InvocationID returns the Lambda request id carried by ctx, or a new
// random id outside the Lambda runtime.
func InvocationID(ctx context.Context) string {
	if lc, ok := lambdacontext.FromContext(ctx); ok && lc.AwsRequestID != "" {
		return lc.AwsRequestID
	}
	return uuid.NewString()
}

type errorResponse struct {
	Error string `json:"error"`
	Step  string `json:"step,omitempty"`
}

// ServeHTTP runs one invocation per POST request and writes the result as
// JSON.  A failed dependency call is reported as 502 Bad Gateway.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	res, err := h.Handle(r.Context(), nil)

	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		resp := errorResponse{Error: err.Error()}
		var stepErr *restart.StepError
		if errors.As(err, &stepErr) {
			resp.Step = stepErr.Step
		}
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(resp)
		return
	}

	w.WriteHeader(res.StatusCode)
	_ = json.NewEncoder(w).Encode(res)
}
