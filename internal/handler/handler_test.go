package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrpan/restarter/internal/invocation"
	"github.com/terrpan/restarter/internal/restart"
)

type fakeRunner struct {
	calls  int
	lastID string
	res    restart.Result
	err    error
}

func (f *fakeRunner) Run(ctx context.Context) (restart.Result, error) {
	f.calls++
	f.lastID, _ = invocation.ID(ctx)
	return f.res, f.err
}

func okRunner() *fakeRunner {
	return &fakeRunner{res: restart.Result{StatusCode: 200, StatusMessage: restart.StatusMessage}}
}

func TestHandle_IgnoresEvent(t *testing.T) {
	r := okRunner()
	h := New(r, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	for _, event := range []json.RawMessage{nil, json.RawMessage(`{}`), json.RawMessage(`{"source":"aws.cloudwatch"}`)} {
		res, err := h.Handle(context.Background(), event)
		require.NoError(t, err)
		assert.Equal(t, restart.Result{StatusCode: 200, StatusMessage: "instances stopped and started"}, res)
	}
	assert.Equal(t, 3, r.calls)
}

func TestHandle_PropagatesError(t *testing.T) {
	boom := &restart.StepError{Step: restart.StepStop, Err: errors.New("UnauthorizedOperation")}
	h := New(&fakeRunner{err: boom}, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	_, err := h.Handle(context.Background(), nil)
	assert.ErrorIs(t, err, boom)
}

func TestHandle_LogsLambdaRequestID(t *testing.T) {
	var buf bytes.Buffer
	h := New(okRunner(), slog.New(slog.NewTextHandler(&buf, nil)))

	ctx := lambdacontext.NewContext(context.Background(), &lambdacontext.LambdaContext{AwsRequestID: "req-123"})
	_, err := h.Handle(ctx, nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "invocation_id=req-123")
}

func TestHandle_PassesInvocationIDToRunner(t *testing.T) {
	r := okRunner()
	h := New(r, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	ctx := lambdacontext.NewContext(context.Background(), &lambdacontext.LambdaContext{AwsRequestID: "req-123"})
	_, err := h.Handle(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "req-123", r.lastID)

	_, err = h.Handle(context.Background(), nil)
	require.NoError(t, err)
	_, err = uuid.Parse(r.lastID)
	assert.NoError(t, err)
}

func TestInvocationID_Fallback(t *testing.T) {
	id := InvocationID(context.Background())
	_, err := uuid.Parse(id)
	assert.NoError(t, err)
}

func TestServeHTTP_Success(t *testing.T) {
	h := New(okRunner(), slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	req := httptest.NewRequest(http.MethodPost, "/invoke", nil)
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"statusCode":200,"statusMessage":"instances stopped and started"}`, w.Body.String())
}

func TestServeHTTP_DependencyFailure(t *testing.T) {
	boom := &restart.StepError{Step: restart.StepPublish, Err: errors.New("throttled")}
	h := New(&fakeRunner{err: boom}, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	req := httptest.NewRequest(http.MethodPost, "/invoke", nil)
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "publish", resp.Step)
	assert.Contains(t, resp.Error, "throttled")
}

func TestServeHTTP_MethodNotAllowed(t *testing.T) {
	r := okRunner()
	h := New(r, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	req := httptest.NewRequest(http.MethodGet, "/invoke", nil)
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, http.MethodPost, w.Header().Get("Allow"))
	assert.Zero(t, r.calls)
}
