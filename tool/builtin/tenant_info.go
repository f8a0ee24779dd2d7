package builtin

import (
	"fmt"

	"github.com/hupe1980/agentplatform/core"
	"github.com/hupe1980/agentplatform/tool"
)

const tenantInfoDescription = `Retrieves information about the current tenant (customer) context:
tenant id, email, display name, organization and deployment instance.
Use it to personalize responses or reference the current customer.`

// NewTenantInfo returns the get_tenant_info tool bound to tenant.
func NewTenantInfo(tenant core.Tenant) *tool.FunctionTool {
	return tool.NewFunctionTool(
		"get_tenant_info",
		tenantInfoDescription,
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(tc *core.ToolContext, _ map[string]any) (any, error) {
			tc.Logger().Info("tool.tenant_info.retrieved", "tenant_id", tenant.ID)
			return FormatTenantInfo(tenant), nil
		},
	)
}

// FormatTenantInfo renders the tenant block returned to the model.
func FormatTenantInfo(t core.Tenant) string {
	env := "Development"
	if t.ID != "" {
		env = "Production"
	}
	return fmt.Sprintf(`Tenant Information:
- Tenant ID: %s
- Email: %s
- Name: %s
- Organization: %s (ID: %s)
- Instance: %s
- Environment: %s`,
		orUnknown(t.ID),
		orUnknown(t.Email),
		orUnknown(t.Name),
		orUnknown(t.OrgName), orUnknown(t.OrgID),
		orUnknown(t.InstanceID),
		env,
	)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
