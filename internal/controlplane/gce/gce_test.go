package gce

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	computepb "cloud.google.com/go/compute/apiv1/computepb"
	"github.com/google/uuid"
	gax "github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/terrpan/restarter/internal/controlplane"
)

// ---------------------------------------------------------------------------
// Mock operation (satisfies operation)
// ---------------------------------------------------------------------------

type mockOperation struct {
	name string
}

func (m *mockOperation) Name() string { return m.name }

// ---------------------------------------------------------------------------
// Mock instances client (satisfies instancesAPI)
// ---------------------------------------------------------------------------

type mockInstancesClient struct {
	mu sync.Mutex

	stopCalls  []*computepb.StopInstanceRequest
	startCalls []*computepb.StartInstanceRequest
	closed     bool

	stopErr  map[string]error // instance name -> error
	startErr map[string]error
}

func newMockInstancesClient() *mockInstancesClient {
	return &mockInstancesClient{
		stopErr:  make(map[string]error),
		startErr: make(map[string]error),
	}
}

func (m *mockInstancesClient) Stop(_ context.Context, req *computepb.StopInstanceRequest, _ ...gax.CallOption) (operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopCalls = append(m.stopCalls, req)
	if err := m.stopErr[req.GetInstance()]; err != nil {
		return nil, err
	}
	return &mockOperation{name: "operation-stop-" + req.GetInstance()}, nil
}

func (m *mockInstancesClient) Start(_ context.Context, req *computepb.StartInstanceRequest, _ ...gax.CallOption) (operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.startCalls = append(m.startCalls, req)
	if err := m.startErr[req.GetInstance()]; err != nil {
		return nil, err
	}
	return &mockOperation{name: "operation-start-" + req.GetInstance()}, nil
}

func (m *mockInstancesClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ---------------------------------------------------------------------------
// Test suite
// ---------------------------------------------------------------------------

type GCESuite struct {
	suite.Suite
	ctx    context.Context
	client *mockInstancesClient
	cfg    Config
}

func (s *GCESuite) SetupTest() {
	s.ctx = context.Background()
	s.client = newMockInstancesClient()
	s.cfg = Config{
		Project: "test-project",
		Zone:    "us-central1-a",
	}
}

func (s *GCESuite) newControlPlane() *ControlPlane {
	return newControlPlane(s.client, s.cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestGCESuite(t *testing.T) {
	suite.Run(t, new(GCESuite))
}

// ---------------------------------------------------------------------------
// StopInstances
// ---------------------------------------------------------------------------

func (s *GCESuite) TestStopInstances_OneRequestPerInstance() {
	cp := s.newControlPlane()

	ack, err := cp.StopInstances(s.ctx, []string{"web-1", "web-2"})
	require.NoError(s.T(), err)

	require.Len(s.T(), s.client.stopCalls, 2)
	for i, name := range []string{"web-1", "web-2"} {
		req := s.client.stopCalls[i]
		assert.Equal(s.T(), "test-project", req.GetProject())
		assert.Equal(s.T(), "us-central1-a", req.GetZone())
		assert.Equal(s.T(), name, req.GetInstance())
	}
	assert.Empty(s.T(), s.client.startCalls)

	assert.Equal(s.T(), []string{"operation-stop-web-1", "operation-stop-web-2"}, ack.Operations)
	assert.Equal(s.T(), []controlplane.Transition{
		{InstanceID: "web-1", CurrentState: "STOPPING"},
		{InstanceID: "web-2", CurrentState: "STOPPING"},
	}, ack.Transitions)
}

func (s *GCESuite) TestStopInstances_RequestIDs() {
	cp := s.newControlPlane()

	_, err := cp.StopInstances(s.ctx, []string{"web-1", "web-2"})
	require.NoError(s.T(), err)

	first := s.client.stopCalls[0].GetRequestId()
	second := s.client.stopCalls[1].GetRequestId()
	_, err = uuid.Parse(first)
	assert.NoError(s.T(), err)
	assert.NotEqual(s.T(), first, second)
}

func (s *GCESuite) TestStopInstances_FirstErrorAborts() {
	s.client.stopErr["web-1"] = fmt.Errorf("googleapi: Error 404: The resource 'web-1' was not found")
	cp := s.newControlPlane()

	ack, err := cp.StopInstances(s.ctx, []string{"web-1", "web-2"})
	require.Error(s.T(), err)
	assert.Contains(s.T(), err.Error(), "stop instance web-1")
	assert.Contains(s.T(), err.Error(), "Error 404")

	assert.Len(s.T(), s.client.stopCalls, 1, "web-2 must not be attempted")
	assert.Empty(s.T(), ack.Transitions)
}

// ---------------------------------------------------------------------------
// StartInstances
// ---------------------------------------------------------------------------

func (s *GCESuite) TestStartInstances_Success() {
	cp := s.newControlPlane()

	ack, err := cp.StartInstances(s.ctx, []string{"web-1"})
	require.NoError(s.T(), err)

	require.Len(s.T(), s.client.startCalls, 1)
	req := s.client.startCalls[0]
	assert.Equal(s.T(), "test-project", req.GetProject())
	assert.Equal(s.T(), "us-central1-a", req.GetZone())
	assert.Equal(s.T(), "web-1", req.GetInstance())
	assert.NotEmpty(s.T(), req.GetRequestId())

	assert.Equal(s.T(), []string{"operation-start-web-1"}, ack.Operations)
}

func (s *GCESuite) TestStartInstances_PartialAck() {
	s.client.startErr["web-2"] = fmt.Errorf("permission denied")
	cp := s.newControlPlane()

	ack, err := cp.StartInstances(s.ctx, []string{"web-1", "web-2", "web-3"})
	require.Error(s.T(), err)
	assert.Contains(s.T(), err.Error(), "permission denied")

	assert.Len(s.T(), s.client.startCalls, 2)
	assert.Equal(s.T(), []string{"operation-start-web-1"}, ack.Operations)
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func (s *GCESuite) TestClose() {
	cp := s.newControlPlane()
	require.NoError(s.T(), cp.Close())
	assert.True(s.T(), s.client.closed)
}

func (s *GCESuite) TestNew_RequiresProjectAndZone() {
	_, err := New(s.ctx, Config{Project: "p"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(s.T(), err)
	assert.Contains(s.T(), err.Error(), "zone")
}
