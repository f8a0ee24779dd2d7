package tool

import (
	"fmt"
	"sync"

	"github.com/hupe1980/agentplatform/core"
	"github.com/hupe1980/agentplatform/logging"
)

// Factory builds a tool instance bound to the given tenant.
type Factory func(tenant core.Tenant) Tool

// Registry maps symbolic capability names to factories and resolves a
// request's tool list into tenant-bound instances.
type Registry struct {
	mu        sync.RWMutex
	tenant    core.Tenant
	factories map[string]Factory
	defaults  []string
	logger    logging.Logger
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Logger logging.Logger
}

// NewRegistry creates an empty registry for tenant.
func NewRegistry(tenant core.Tenant, optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{
		tenant:    tenant,
		factories: make(map[string]Factory),
		logger:    logging.OrNoOp(opts.Logger).With("component", "tool_registry", "tenant_id", tenant.ID),
	}
}

// Register adds a capability under name. Registering a name twice is an error.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" || factory == nil {
		return fmt.Errorf("tool registry: name and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("tool registry: %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// SetDefaults sets the ordered names used when a request names no tools.
// Every name must already be registered.
func (r *Registry) SetDefaults(names ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range names {
		if _, ok := r.factories[n]; !ok {
			return fmt.Errorf("tool registry: default %q is not registered", n)
		}
	}
	r.defaults = append([]string(nil), names...)
	return nil
}

// Defaults returns the default tool names in order.
func (r *Registry) Defaults() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.defaults...)
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Resolve turns requested names into tenant-bound tools.
//
// A nil slice selects the defaults; an empty non-nil slice selects no tools.
// Unknown names are logged and dropped. Output order follows input order and
// repeated names resolve once.
func (r *Registry) Resolve(requested []string) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := requested
	if names == nil {
		names = r.defaults
	}

	tools := make([]Tool, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		factory, ok := r.factories[name]
		if !ok {
			r.logger.Warn("tool.resolve.unknown", "tool", name)
			continue
		}
		seen[name] = struct{}{}
		tools = append(tools, factory(r.tenant))
	}
	return tools
}
