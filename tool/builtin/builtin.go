// Package builtin provides the capabilities every deployment ships with
// (tenant_info, web_search, visit_webpage) and a registry preloaded with them.
package builtin

import (
	"net/http"
	"time"

	"github.com/hupe1980/agentplatform/core"
	"github.com/hupe1980/agentplatform/logging"
	"github.com/hupe1980/agentplatform/tool"
)

// Registry keys. These are the names a request uses; the names exposed to the
// model may differ (tenant_info is exposed as get_tenant_info).
const (
	TenantInfo   = "tenant_info"
	WebSearch    = "web_search"
	VisitWebpage = "visit_webpage"
)

// DefaultTools is the tool set used when a request names none.
var DefaultTools = []string{TenantInfo, WebSearch, VisitWebpage}

// Options configures the network backed tools.
type Options struct {
	HTTPClient   *http.Client
	SearchURL    string
	UserAgent    string
	MaxResults   int
	MaxPageChars int
	Logger       logging.Logger
}

// DefaultOptions returns production settings.
func DefaultOptions() Options {
	return Options{
		HTTPClient:   &http.Client{Timeout: 20 * time.Second},
		SearchURL:    "https://html.duckduckgo.com/html/",
		UserAgent:    "agentplatform/1.0 (+https://github.com/hupe1980/agentplatform)",
		MaxResults:   10,
		MaxPageChars: 40000,
	}
}

// NewRegistry returns a tool registry for tenant with the built-in tools
// registered and the default order set.
func NewRegistry(tenant core.Tenant, optFns ...func(o *Options)) *tool.Registry {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	r := tool.NewRegistry(tenant, func(o *tool.RegistryOptions) { o.Logger = opts.Logger })
	mustRegister(r, TenantInfo, func(t core.Tenant) tool.Tool { return NewTenantInfo(t) })
	mustRegister(r, WebSearch, func(core.Tenant) tool.Tool { return NewWebSearch(opts) })
	mustRegister(r, VisitWebpage, func(core.Tenant) tool.Tool { return NewVisitWebpage(opts) })

	if err := r.SetDefaults(DefaultTools...); err != nil {
		panic(err)
	}
	return r
}

func mustRegister(r *tool.Registry, name string, f tool.Factory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}
