package app

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hupe1980/agentplatform"
	"github.com/hupe1980/agentplatform/config"
	"github.com/hupe1980/agentplatform/internal/testutil"
	"github.com/hupe1980/agentplatform/logging"
	"github.com/hupe1980/agentplatform/model"
	"github.com/hupe1980/agentplatform/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPlatform(t *testing.T) *agentplatform.Platform {
	t.Helper()
	cfg := config.Default()
	cfg.Tenant = testutil.Tenant("tenant-a")
	cfg.AnthropicAPIKey = "sk-ant-test"
	cfg.HTTPAddr = "127.0.0.1:0"

	p, err := agentplatform.New(context.Background(), cfg, func(o *agentplatform.Options) {
		o.Logger = logging.NoOpLogger{}
		o.ModelFactory = func(provider.Binding) (model.Model, error) {
			return model.NewScriptedModel("claude"), nil
		}
	})
	require.NoError(t, err)
	return p
}

func TestServeReadyAndShutdown(t *testing.T) {
	a, err := New(newPlatform(t), logging.NoOpLogger{})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- a.Serve(ln) }()

	url := "http://" + ln.Addr().String()
	assert.Eventually(t, func() bool {
		resp, err := http.Get(url + "/readyz")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode == http.StatusOK && string(body) == "ready"
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(url + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(ctx))
	require.NoError(t, <-served)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRunStopsOnContextEnd(t *testing.T) {
	a, err := New(newPlatform(t), logging.NoOpLogger{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, 5*time.Second) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestNewRejectsNilPlatform(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)
}

func TestRequestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.Config{Level: logging.LogLevelInfo, Format: "json", Output: &buf})

	h := requestLoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/agent/execution/exec-42", nil))

	line := buf.String()
	assert.True(t, strings.Contains(line, `"msg":"http.request"`), line)
	assert.Contains(t, line, `"status":418`)
	assert.Contains(t, line, `"bytes":15`)
	assert.Contains(t, line, `"execution_id":"exec-42"`)
}

func TestExecutionIDFromPath(t *testing.T) {
	tests := []struct {
		path, want string
	}{
		{"/api/v1/agent/execution/abc", "abc"},
		{"/api/v1/agent/execution/abc/", "abc"},
		{"/api/v1/agent/executions", ""},
		{"/api/v1/agent/execute", ""},
		{"/health", ""},
		{"/", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, executionIDFromPath(tt.path), tt.path)
	}
}
