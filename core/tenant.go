package core

import "errors"

// ErrMissingTenant is returned when no tenant identity is configured.
var ErrMissingTenant = errors.New("tenant identity not configured")

// Tenant is the customer identity a deployment instance serves. It is
// injected once per process and never taken from a request.
type Tenant struct {
	ID         string `json:"tenant_id"`
	Email      string `json:"tenant_email,omitempty"`
	Name       string `json:"tenant_name,omitempty"`
	OrgID      string `json:"org_id,omitempty"`
	OrgName    string `json:"org_name,omitempty"`
	InstanceID string `json:"instance_id,omitempty"`
	ResourceID string `json:"resource_id,omitempty"`
	ServiceID  string `json:"service_id,omitempty"`
	PlanID     string `json:"plan_id,omitempty"`
}

// IsZero reports whether no tenant identity has been configured.
func (t Tenant) IsZero() bool { return t.ID == "" }
