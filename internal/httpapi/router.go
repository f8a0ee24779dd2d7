// Package httpapi exposes the orchestrator over HTTP.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/hupe1980/agentplatform/core"
	"github.com/hupe1980/agentplatform/dispatch"
	"github.com/hupe1980/agentplatform/execution"
	"github.com/hupe1980/agentplatform/logging"
	"github.com/hupe1980/agentplatform/orchestrator"
)

const defaultMaxBodyBytes = 1 << 20

// Service is the orchestrator surface the handlers need.
type Service interface {
	Tenant() core.Tenant
	Execute(ctx context.Context, req orchestrator.Request) (execution.Record, error)
	Submit(ctx context.Context, req orchestrator.Request) (execution.Record, *dispatch.Future[execution.Record], error)
	Get(ctx context.Context, id string) (execution.Record, error)
	List(ctx context.Context, page execution.Page) ([]execution.Record, error)
	Ping(ctx context.Context) error
	Stats() dispatch.Stats
}

var _ Service = (*orchestrator.Orchestrator)(nil)

// Options configures the router.
type Options struct {
	Version      string
	MaxBodyBytes int64
	Logger       logging.Logger
}

type handlers struct {
	svc    Service
	opts   Options
	logger logging.Logger
}

// NewRouter returns the API handler.
func NewRouter(svc Service, optFns ...func(o *Options)) http.Handler {
	opts := Options{Version: "1.0.0", MaxBodyBytes: defaultMaxBodyBytes}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}

	h := &handlers{
		svc:    svc,
		opts:   opts,
		logger: logging.OrNoOp(opts.Logger).With("component", "httpapi"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /api/v1/tenant/info", h.handleTenantInfo)
	mux.HandleFunc("POST /api/v1/agent/execute", h.handleExecute)
	mux.HandleFunc("POST /api/v1/agent/submit", h.handleSubmit)
	mux.HandleFunc("GET /api/v1/agent/execution/{execution_id}", h.handleGet)
	mux.HandleFunc("GET /api/v1/agent/executions", h.handleList)
	return mux
}

type executeRequest struct {
	Task     string         `json:"task"`
	Tools    []string       `json:"tools"`
	Model    string         `json:"model"`
	MaxSteps int            `json:"max_steps"`
	Metadata map[string]any `json:"metadata"`
}

func (r executeRequest) toRequest() orchestrator.Request {
	return orchestrator.Request{
		Task:     r.Task,
		Tools:    r.Tools,
		Model:    r.Model,
		MaxSteps: r.MaxSteps,
		Metadata: r.Metadata,
	}
}

func (h *handlers) decodeRequest(w http.ResponseWriter, r *http.Request) (orchestrator.Request, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)
	var body executeRequest
	if err := decodeJSONBody(r, &body); err != nil {
		writeMappedError(w, err)
		return orchestrator.Request{}, false
	}
	return body.toRequest(), true
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	err := h.svc.Ping(r.Context())
	if err != nil {
		h.logger.Error("httpapi.health.database", "error", err)
	}
	writeJSON(w, http.StatusOK, newHealthResponse(h.opts.Version, err, h.svc.Stats()))
}

func (h *handlers) handleTenantInfo(w http.ResponseWriter, _ *http.Request) {
	tenant := h.svc.Tenant()
	if tenant.IsZero() {
		writeMappedError(w, core.ErrMissingTenant)
		return
	}
	writeJSON(w, http.StatusOK, newTenantInfoResponse(tenant))
}

func (h *handlers) handleExecute(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	rec, err := h.svc.Execute(r.Context(), req)
	if err != nil {
		if rec.ID != "" && !rec.Status.IsTerminal() {
			status, code := mapError(err)
			writeError(w, status, code, fmt.Sprintf("execution %s is still running: %v", rec.ID, err))
			return
		}
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newExecutionResponse(rec))
}

func (h *handlers) handleSubmit(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	rec, _, err := h.svc.Submit(r.Context(), req)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, newExecutionResponse(rec))
}

func (h *handlers) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("execution_id")
	if id == "" {
		writeMappedError(w, invalidRequestError("execution_id is required"))
		return
	}

	rec, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newExecutionResponse(rec))
}

func (h *handlers) handleList(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", execution.DefaultPageLimit)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeMappedError(w, err)
		return
	}

	recs, err := h.svc.List(r.Context(), execution.Page{Limit: limit, Offset: offset})
	if err != nil {
		writeMappedError(w, err)
		return
	}

	out := make([]executionResponse, len(recs))
	for i, rec := range recs {
		out[i] = newExecutionResponse(rec)
		out[i].Error = ""
	}
	writeJSON(w, http.StatusOK, out)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, invalidRequestError(key + " must be a non-negative integer")
	}
	return n, nil
}
