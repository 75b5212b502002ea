package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ec2Target() Target {
	return Target{ControlPlane: "ec2", Notifier: "sns", Instances: 2, Wait: 30 * time.Second}
}

func TestHandlerReturnsStatusOK(t *testing.T) {
	handler := Handler(ec2Target())
	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestHandlerResponseStructure(t *testing.T) {
	handler := Handler(ec2Target())
	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Equal(t, "alive", resp.Status)
	assert.Equal(t, "ec2", resp.Target.ControlPlane)
	assert.Equal(t, "sns", resp.Target.Notifier)
	assert.Equal(t, 2, resp.Target.Instances)
	assert.Equal(t, 30.0, resp.WaitSeconds)
	assert.NotEmpty(t, resp.Build.Version)
	assert.NotEmpty(t, resp.Build.Commit)
	assert.NotEmpty(t, resp.Build.BuildTime)
	assert.NotEmpty(t, resp.Build.GoVersion)
	assert.Contains(t, resp.Build.Platform, "/")
	assert.Equal(t, "0s", resp.Uptime)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestHandlerWaitOnlyInSeconds(t *testing.T) {
	w := httptest.NewRecorder()
	Handler(ec2Target())(w, httptest.NewRequest("GET", "/healthz", nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	target, ok := body["target"].(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, target, "Wait")
	assert.Equal(t, 30.0, body["wait_seconds"])
}

func TestHandlerAnswersAnyMethod(t *testing.T) {
	handler := Handler(Target{ControlPlane: "docker", Notifier: "log", Instances: 1})

	for _, method := range []string{"GET", "POST", "HEAD"} {
		t.Run(method, func(t *testing.T) {
			req := httptest.NewRequest(method, "/healthz", nil)
			w := httptest.NewRecorder()
			handler(w, req)
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}
}
