package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewApplication wires real components end to end, so these tests avoid
// mocking global dependencies (as the teacher's own bootstrap_test.go
// notes) and instead drive the thing that is actually testable without a
// live network listener: that bootstrap succeeds against an absent
// config file and produces a fully wired Services registry.
func TestNewApplicationWiresAllServices(t *testing.T) {
	application, err := NewApplication(NewConfig(false, true, ""))
	require.NoError(t, err)
	require.NotNil(t, application)

	s := application.services
	assert.NotNil(t, s.Store)
	assert.NotNil(t, s.Bus)
	assert.NotNil(t, s.Balancer)
	assert.NotNil(t, s.Backpressure)
	assert.NotNil(t, s.Pool)
	assert.NotNil(t, s.Prober)
	assert.NotNil(t, s.Dispatcher)
	assert.NotNil(t, s.HTTP)
	assert.Nil(t, s.Watcher, "the default ./templates directory does not exist here, so no watcher is started")

	require.NoError(t, application.shutdown())
}

func TestNewApplicationFallsBackOnMissingConfigFile(t *testing.T) {
	_, err := NewApplication(NewConfig(false, true, "/nonexistent/dir/that/cannot/be/a/file/config.yaml"))
	assert.NoError(t, err, "a missing config file falls back to defaults rather than failing")
}

func TestApplicationRunStopsOnContextCancellation(t *testing.T) {
	application, err := NewApplication(NewConfig(false, true, ""))
	require.NoError(t, err)

	application.server.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- application.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestApplicationHealthEndpointServesThroughHTTP(t *testing.T) {
	application, err := NewApplication(NewConfig(false, true, ""))
	require.NoError(t, err)
	t.Cleanup(func() { _ = application.shutdown() })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	application.services.HTTP.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
