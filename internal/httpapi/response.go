package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hupe1980/agentplatform/core"
	"github.com/hupe1980/agentplatform/dispatch"
	"github.com/hupe1980/agentplatform/execution"
	"github.com/hupe1980/agentplatform/orchestrator"
	"github.com/hupe1980/agentplatform/provider"
)

const (
	errorCodeInvalidRequest = "invalid_request"
	errorCodeNotFound       = "not_found"
	errorCodeOverloaded     = "overloaded"
	errorCodeConfiguration  = "configuration_error"
	errorCodeTimeout        = "timeout"
	errorCodeInternal       = "internal_error"
)

var errInvalidRequest = errors.New("invalid request")

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

type stepResponse struct {
	Step        int    `json:"step"`
	Action      string `json:"action"`
	Observation string `json:"observation"`
}

type executionResponse struct {
	ExecutionID string         `json:"execution_id"`
	Status      string         `json:"status"`
	Result      string         `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	Steps       []stepResponse `json:"steps,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

func newExecutionResponse(rec execution.Record) executionResponse {
	resp := executionResponse{
		ExecutionID: rec.ID,
		Status:      string(rec.Status),
		Result:      rec.Result,
		Error:       rec.Error,
		CreatedAt:   rec.CreatedAt,
		CompletedAt: rec.CompletedAt,
	}
	for _, s := range rec.Steps {
		resp.Steps = append(resp.Steps, stepResponse{Step: s.Index, Action: s.Action, Observation: s.Observation})
	}
	return resp
}

type tenantInfoResponse struct {
	TenantID               string `json:"tenant_id"`
	TenantEmail            string `json:"tenant_email,omitempty"`
	TenantName             string `json:"tenant_name,omitempty"`
	OrgID                  string `json:"org_id,omitempty"`
	OrgName                string `json:"org_name,omitempty"`
	InstanceID             string `json:"instance_id,omitempty"`
	ResourceID             string `json:"resource_id,omitempty"`
	ServiceID              string `json:"service_id,omitempty"`
	PlanID                 string `json:"plan_id,omitempty"`
	IsOmnistrateDeployment bool   `json:"is_omnistrate_deployment"`
}

func newTenantInfoResponse(t core.Tenant) tenantInfoResponse {
	return tenantInfoResponse{
		TenantID:               t.ID,
		TenantEmail:            t.Email,
		TenantName:             t.Name,
		OrgID:                  t.OrgID,
		OrgName:                t.OrgName,
		InstanceID:             t.InstanceID,
		ResourceID:             t.ResourceID,
		ServiceID:              t.ServiceID,
		PlanID:                 t.PlanID,
		IsOmnistrateDeployment: !t.IsZero(),
	}
}

type dispatcherHealth struct {
	Workers int `json:"workers"`
	Queued  int `json:"queued"`
	Running int `json:"running"`
}

type healthResponse struct {
	Status     string           `json:"status"`
	Version    string           `json:"version"`
	Database   string           `json:"database"`
	Dispatcher dispatcherHealth `json:"dispatcher"`
}

func newHealthResponse(version string, pingErr error, stats dispatch.Stats) healthResponse {
	resp := healthResponse{
		Status:   "healthy",
		Version:  version,
		Database: "healthy",
		Dispatcher: dispatcherHealth{
			Workers: stats.Workers,
			Queued:  stats.Queued,
			Running: stats.Running,
		},
	}
	if pingErr != nil {
		resp.Status = "degraded"
		resp.Database = "unhealthy"
	}
	return resp
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code := mapError(err)
	writeError(w, status, code, err.Error())
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiErrorResponse{
		Error: apiError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSONBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return invalidRequestError("request body is required")
	}

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return invalidRequestError(fmt.Sprintf("request body exceeds %d bytes", maxBytesErr.Limit))
		}
		if errors.Is(err, io.EOF) {
			return invalidRequestError("request body is required")
		}
		return invalidRequestError(fmt.Sprintf("invalid JSON body: %v", err))
	}

	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return invalidRequestError("request body must contain exactly one JSON object")
	}

	return nil
}

func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, errInvalidRequest), errors.Is(err, orchestrator.ErrInvalidRequest):
		return http.StatusBadRequest, errorCodeInvalidRequest
	case errors.Is(err, execution.ErrNotFound):
		return http.StatusNotFound, errorCodeNotFound
	case errors.Is(err, dispatch.ErrOverloaded), errors.Is(err, dispatch.ErrStopped):
		return http.StatusServiceUnavailable, errorCodeOverloaded
	case errors.Is(err, core.ErrMissingTenant), errors.Is(err, provider.ErrMissingCredential):
		return http.StatusInternalServerError, errorCodeConfiguration
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorCodeTimeout
	default:
		return http.StatusInternalServerError, errorCodeInternal
	}
}

func invalidRequestError(message string) error {
	return fmt.Errorf("%w: %s", errInvalidRequest, message)
}
