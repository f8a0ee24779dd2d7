package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hupe1980/agentplatform/core"
	"github.com/hupe1980/agentplatform/dispatch"
	"github.com/hupe1980/agentplatform/execution"
	"github.com/hupe1980/agentplatform/execution/executiontest"
	"github.com/hupe1980/agentplatform/internal/testutil"
	"github.com/hupe1980/agentplatform/model"
	"github.com/hupe1980/agentplatform/orchestrator"
	"github.com/hupe1980/agentplatform/provider"
	"github.com/hupe1980/agentplatform/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedResolver struct {
	*provider.Resolver
	model model.Model
}

func (r *scriptedResolver) NewModel(provider.Binding) (model.Model, error) { return r.model, nil }

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newTestServer(t *testing.T, m *model.ScriptedModel, apiKey string) *httptest.Server {
	t.Helper()

	st := store.NewMemoryStore(func(o *store.Options) { o.Now = executiontest.NewClock().Now })
	orch, err := orchestrator.New(testutil.Tenant("tenant-a"), st, func(o *orchestrator.Options) {
		o.Resolver = &scriptedResolver{
			Resolver: provider.NewResolver(func(o *provider.Options) { o.AnthropicAPIKey = apiKey }),
			model:    m,
		}
	})
	require.NoError(t, err)

	server := httptest.NewServer(NewRouter(orch, func(o *Options) { o.Version = "test" }))
	t.Cleanup(func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})
	return server
}

func do(t *testing.T, method, url string, body any, out any) int {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestExecuteGetAndList(t *testing.T) {
	m := model.NewScriptedModel("claude").AddText("4")
	server := newTestServer(t, m, "sk-ant")

	var created executionResponse
	status := do(t, http.MethodPost, server.URL+"/api/v1/agent/execute", map[string]any{
		"task":      "2+2",
		"max_steps": 5,
		"metadata":  map[string]any{"source": "test"},
	}, &created)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "completed", created.Status)
	assert.Equal(t, "4", created.Result)
	assert.NotNil(t, created.CompletedAt)
	require.Len(t, created.Steps, 1)
	assert.Equal(t, 1, created.Steps[0].Step)

	var got executionResponse
	status = do(t, http.MethodGet, server.URL+"/api/v1/agent/execution/"+created.ExecutionID, nil, &got)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, created.ExecutionID, got.ExecutionID)
	assert.Equal(t, "completed", got.Status)

	var unknown errorResponse
	status = do(t, http.MethodGet, server.URL+"/api/v1/agent/execution/does-not-exist", nil, &unknown)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, errorCodeNotFound, unknown.Error.Code)

	var list []executionResponse
	status = do(t, http.MethodGet, server.URL+"/api/v1/agent/executions?limit=10", nil, &list)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, list, 1)
	assert.Equal(t, created.ExecutionID, list[0].ExecutionID)
}

func TestExecuteMissingCredentialReturnsFailedRecord(t *testing.T) {
	server := newTestServer(t, model.NewScriptedModel("claude"), "")

	var rec executionResponse
	status := do(t, http.MethodPost, server.URL+"/api/v1/agent/execute", map[string]any{"task": "hi"}, &rec)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "failed", rec.Status)
	assert.Contains(t, rec.Error, "ANTHROPIC_API_KEY")

	var list []executionResponse
	status = do(t, http.MethodGet, server.URL+"/api/v1/agent/executions", nil, &list)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, list, 1)
	assert.Empty(t, list[0].Error)
}

func TestSubmitAccepted(t *testing.T) {
	server := newTestServer(t, model.NewScriptedModel("claude").AddText("done"), "sk-ant")

	var rec executionResponse
	status := do(t, http.MethodPost, server.URL+"/api/v1/agent/submit", map[string]any{"task": "later", "tools": []string{}}, &rec)
	require.Equal(t, http.StatusAccepted, status)
	require.NotEmpty(t, rec.ExecutionID)

	assert.Eventually(t, func() bool {
		var got executionResponse
		return do(t, http.MethodGet, server.URL+"/api/v1/agent/execution/"+rec.ExecutionID, nil, &got) == http.StatusOK &&
			got.Status == "completed"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestInvalidRequests(t *testing.T) {
	server := newTestServer(t, model.NewScriptedModel("claude"), "sk-ant")

	tests := []struct {
		name string
		body any
	}{
		{"empty body", ""},
		{"malformed", "{"},
		{"unknown field", `{"task":"x","tenant_id":"other"}`},
		{"missing task", map[string]any{"max_steps": 3}},
		{"negative steps", map[string]any{"task": "x", "max_steps": -2}},
		{"two objects", `{"task":"a"}{"task":"b"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp errorResponse
			status := do(t, http.MethodPost, server.URL+"/api/v1/agent/execute", tt.body, &resp)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, errorCodeInvalidRequest, resp.Error.Code)
		})
	}

	var resp errorResponse
	status := do(t, http.MethodGet, server.URL+"/api/v1/agent/executions?limit=abc", nil, &resp)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestTenantInfo(t *testing.T) {
	server := newTestServer(t, model.NewScriptedModel("claude"), "sk-ant")

	var info tenantInfoResponse
	status := do(t, http.MethodGet, server.URL+"/api/v1/tenant/info", nil, &info)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "tenant-a", info.TenantID)
	assert.Equal(t, "tenant-a@example.com", info.TenantEmail)
	assert.Equal(t, "plan-basic", info.PlanID)
	assert.True(t, info.IsOmnistrateDeployment)
}

func TestHealth(t *testing.T) {
	server := newTestServer(t, model.NewScriptedModel("claude"), "sk-ant")

	var health healthResponse
	status := do(t, http.MethodGet, server.URL+"/health", nil, &health)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "healthy", health.Database)
	assert.Equal(t, "test", health.Version)
	assert.Equal(t, dispatch.DefaultWorkers, health.Dispatcher.Workers)
}

// stubService drives error paths the real orchestrator cannot reach easily.
type stubService struct {
	tenant  core.Tenant
	pingErr error
	rec     execution.Record
	err     error
}

func (s stubService) Tenant() core.Tenant { return s.tenant }

func (s stubService) Execute(context.Context, orchestrator.Request) (execution.Record, error) {
	return s.rec, s.err
}

func (s stubService) Submit(context.Context, orchestrator.Request) (execution.Record, *dispatch.Future[execution.Record], error) {
	return execution.Record{}, nil, s.err
}

func (s stubService) Get(context.Context, string) (execution.Record, error) {
	return execution.Record{}, s.err
}

func (s stubService) List(context.Context, execution.Page) ([]execution.Record, error) {
	return nil, s.err
}

func (s stubService) Ping(context.Context) error { return s.pingErr }

func (s stubService) Stats() dispatch.Stats { return dispatch.Stats{Workers: 1} }

func TestHealthDegraded(t *testing.T) {
	h := NewRouter(stubService{tenant: testutil.Tenant("a"), pingErr: errors.New("db down")})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var health healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, "unhealthy", health.Database)
}

func TestExecuteDeadlineReportsExecutionID(t *testing.T) {
	h := NewRouter(stubService{
		tenant: testutil.Tenant("a"),
		rec:    execution.Record{ID: "exec-42", Status: execution.StatusRunning},
		err:    context.DeadlineExceeded,
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/agent/execute", strings.NewReader(`{"task":"slow"}`)))

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, errorCodeTimeout, body.Error.Code)
	assert.Contains(t, body.Error.Message, "exec-42")
}

func TestTenantInfoMissingTenant(t *testing.T) {
	h := NewRouter(stubService{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tenant/info", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), errorCodeConfiguration)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{orchestrator.ErrInvalidRequest, http.StatusBadRequest, errorCodeInvalidRequest},
		{execution.ErrNotFound, http.StatusNotFound, errorCodeNotFound},
		{dispatch.ErrOverloaded, http.StatusServiceUnavailable, errorCodeOverloaded},
		{&provider.ConfigError{Message: "x"}, http.StatusInternalServerError, errorCodeConfiguration},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, errorCodeTimeout},
		{errors.New("boom"), http.StatusInternalServerError, errorCodeInternal},
	}
	for _, tt := range tests {
		h := NewRouter(stubService{tenant: testutil.Tenant("a"), err: tt.err})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/agent/submit", strings.NewReader(`{"task":"x"}`)))
		assert.Equal(t, tt.status, rec.Code, tt.err.Error())

		var resp errorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, tt.code, resp.Error.Code)
	}
}

func TestBodyLimit(t *testing.T) {
	h := NewRouter(stubService{tenant: testutil.Tenant("a")}, func(o *Options) { o.MaxBodyBytes = 16 })
	rec := httptest.NewRecorder()
	body := `{"task":"` + strings.Repeat("x", 64) + `"}`
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/agent/execute", strings.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
