package tool

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hupe1980/agentplatform/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTenant = core.Tenant{ID: "tenant-a", Name: "Acme"}

func newToolCtx() *core.ToolContext {
	return core.NewToolContext(context.Background(), testTenant, "exec-1", "call-1", nil)
}

type echoArgs struct {
	Text string `json:"text" description:"Text to repeat"`
}

func TestFunctionTool_Call(t *testing.T) {
	echo := NewFunctionToolFromStruct("echo", "Repeat text", echoArgs{},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			return tc.Tenant().ID + ":" + args["text"].(string), nil
		})

	assert.Equal(t, "echo", echo.Name())
	assert.Equal(t, "Repeat text", echo.Description())
	assert.Contains(t, echo.Parameters()["properties"], "text")

	out, err := echo.Call(newToolCtx(), map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "tenant-a:hi", out)
}

func TestFunctionTool_ErrorCodes(t *testing.T) {
	custom := NewToolError("echo", "rate limited", "RATE_LIMIT")
	tests := []struct {
		name     string
		args     map[string]any
		fnErr    error
		wantCode string
	}{
		{"validation", map[string]any{}, nil, CodeValidation},
		{"execution", map[string]any{"text": "x"}, errors.New("boom"), CodeExecution},
		{"custom forwarded", map[string]any{"text": "x"}, custom, "RATE_LIMIT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := NewFunctionToolFromStruct("echo", "", echoArgs{},
				func(*core.ToolContext, map[string]any) (any, error) { return nil, tt.fnErr })

			_, err := ft.Call(newToolCtx(), tt.args)
			var te *ToolError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.wantCode, te.Code)
			assert.Equal(t, tt.wantCode == CodeValidation, IsValidationError(err))
		})
	}
}

func TestToolError_Error(t *testing.T) {
	assert.Equal(t, "tool error [X] in t: m", NewToolError("t", "m", "X").Error())
	assert.Equal(t, "tool error in t: m", (&ToolError{Tool: "t", Message: "m"}).Error())
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(testTenant)
	for _, name := range []string{"tenant_info", "web_search", "visit_webpage"} {
		n := name
		require.NoError(t, r.Register(n, func(tenant core.Tenant) Tool {
			return NewFunctionTool(n, tenant.ID, nil, func(*core.ToolContext, map[string]any) (any, error) {
				return n, nil
			})
		}))
	}
	require.NoError(t, r.SetDefaults("tenant_info", "web_search", "visit_webpage"))
	return r
}

func names(tools []Tool) []string {
	out := make([]string, len(tools))
	for i, t := range tools {
		out[i] = t.Name()
	}
	return out
}

func TestRegistry_Resolve(t *testing.T) {
	r := newTestRegistry(t)

	tests := []struct {
		name      string
		requested []string
		want      []string
	}{
		{"absent selects defaults", nil, []string{"tenant_info", "web_search", "visit_webpage"}},
		{"empty opts out", []string{}, []string{}},
		{"input order preserved", []string{"web_search", "tenant_info"}, []string{"web_search", "tenant_info"}},
		{"unknown dropped", []string{"not_a_real_tool"}, []string{}},
		{"unknown among known", []string{"visit_webpage", "nope", "web_search"}, []string{"visit_webpage", "web_search"}},
		{"repeats resolve once", []string{"web_search", "web_search"}, []string{"web_search"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, names(r.Resolve(tt.requested)))
		})
	}
}

func TestRegistry_ResolveIsIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	req := []string{"web_search", "tenant_info"}
	assert.Equal(t, names(r.Resolve(req)), names(r.Resolve(req)))
}

func TestRegistry_BindsTenant(t *testing.T) {
	r := newTestRegistry(t)
	tools := r.Resolve([]string{"tenant_info"})
	require.Len(t, tools, 1)
	assert.Equal(t, "tenant-a", tools[0].Description())
}

func TestRegistry_RegisterErrors(t *testing.T) {
	r := newTestRegistry(t)
	assert.Error(t, r.Register("web_search", func(core.Tenant) Tool { return nil }))
	assert.Error(t, r.Register("", nil))
	assert.Error(t, r.SetDefaults("missing"))
	assert.True(t, r.Has("tenant_info"))
	assert.False(t, r.Has("missing"))
	assert.Equal(t, []string{"tenant_info", "web_search", "visit_webpage"}, r.Defaults())
}

func TestRegistry_ConcurrentResolve(t *testing.T) {
	r := newTestRegistry(t)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Len(t, r.Resolve(nil), 3)
		}()
	}
	wg.Wait()
}
