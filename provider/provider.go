package provider

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/agentplatform/logging"
	"github.com/hupe1980/agentplatform/model"
	"github.com/hupe1980/agentplatform/model/anthropic"
	"github.com/hupe1980/agentplatform/model/openai"
)

// Provider names an upstream model vendor.
type Provider string

const (
	Anthropic Provider = "anthropic"
	OpenAI    Provider = "openai"
)

const (
	// AnthropicPrefix is carried exactly once by every Anthropic model id.
	AnthropicPrefix = "anthropic/"

	// DefaultModel is used when nothing is requested and nothing is configured,
	// and for identifiers no rule recognizes.
	DefaultModel = "claude-3-5-sonnet-20241022"
)

// ErrMissingCredential is wrapped by ConfigError.
var ErrMissingCredential = errors.New("missing provider credential")

// ConfigError reports a credential absent from process configuration.
type ConfigError struct {
	Provider Provider
	Variable string
	Message  string
}

func (e *ConfigError) Error() string { return e.Message }

func (e *ConfigError) Unwrap() error { return ErrMissingCredential }

// Rule maps identifiers accepted by Match to Provider.
type Rule struct {
	Name     string
	Match    func(modelID string) bool
	Provider Provider
}

// ContainsAny returns a case-insensitive substring predicate.
func ContainsAny(substrs ...string) func(string) bool {
	return func(modelID string) bool {
		id := strings.ToLower(modelID)
		for _, s := range substrs {
			if strings.Contains(id, strings.ToLower(s)) {
				return true
			}
		}
		return false
	}
}

// DefaultRules are evaluated in order; the first match wins.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "anthropic", Match: ContainsAny("claude", "anthropic"), Provider: Anthropic},
		{Name: "openai", Match: ContainsAny("gpt", "openai"), Provider: OpenAI},
	}
}

// Route is the outcome of classification.
type Route struct {
	Provider Provider
	// ModelID is the normalized identifier that is persisted and used.
	ModelID string
	// Requested is the caller's raw identifier, empty when absent.
	Requested string
	// Fallback is set when no rule matched.
	Fallback bool
}

// Binding is a route together with its credential.
type Binding struct {
	Route
	APIKey string
}

// Options configures a Resolver.
type Options struct {
	// DefaultModel is used when a request names no model.
	DefaultModel string

	AnthropicAPIKey string
	OpenAIAPIKey    string

	// Base URLs override the provider endpoints, mainly for tests.
	AnthropicBaseURL string
	OpenAIBaseURL    string

	// Rules overrides DefaultRules.
	Rules []Rule

	Logger logging.Logger
}

// Resolver implements model resolution.
type Resolver struct {
	opts Options
}

// NewResolver creates a resolver.
func NewResolver(optFns ...func(o *Options)) *Resolver {
	opts := Options{
		DefaultModel: DefaultModel,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.DefaultModel == "" {
		opts.DefaultModel = DefaultModel
	}
	if opts.Rules == nil {
		opts.Rules = DefaultRules()
	}
	opts.Logger = logging.OrNoOp(opts.Logger).With("component", "provider")
	return &Resolver{opts: opts}
}

// Route classifies requested (or the configured default when empty).
func (r *Resolver) Route(requested string) Route {
	requested = strings.TrimSpace(requested)
	modelID := requested
	if modelID == "" {
		modelID = r.opts.DefaultModel
	}

	for _, rule := range r.opts.Rules {
		if rule.Match(modelID) {
			return Route{
				Provider:  rule.Provider,
				ModelID:   Normalize(rule.Provider, modelID),
				Requested: requested,
			}
		}
	}

	r.opts.Logger.Debug("provider.route.fallback", "requested", modelID, "model", DefaultModel)
	return Route{
		Provider:  Anthropic,
		ModelID:   Normalize(Anthropic, DefaultModel),
		Requested: requested,
		Fallback:  true,
	}
}

// Bind attaches the credential route.Provider requires.
func (r *Resolver) Bind(route Route) (Binding, error) {
	switch route.Provider {
	case Anthropic:
		if r.opts.AnthropicAPIKey == "" {
			msg := "ANTHROPIC_API_KEY not set for Claude models"
			if route.Fallback {
				msg = "ANTHROPIC_API_KEY not set"
			}
			return Binding{}, &ConfigError{Provider: Anthropic, Variable: "ANTHROPIC_API_KEY", Message: msg}
		}
		return Binding{Route: route, APIKey: r.opts.AnthropicAPIKey}, nil
	case OpenAI:
		if r.opts.OpenAIAPIKey == "" {
			return Binding{}, &ConfigError{
				Provider: OpenAI,
				Variable: "OPENAI_API_KEY",
				Message:  "OPENAI_API_KEY not set for OpenAI models",
			}
		}
		return Binding{Route: route, APIKey: r.opts.OpenAIAPIKey}, nil
	default:
		return Binding{}, fmt.Errorf("unsupported provider %q", route.Provider)
	}
}

// Resolve routes and binds requested.
func (r *Resolver) Resolve(requested string) (Binding, error) {
	return r.Bind(r.Route(requested))
}

// NewModel builds the model client for b.
func (r *Resolver) NewModel(b Binding) (model.Model, error) {
	switch b.Provider {
	case Anthropic:
		return anthropic.NewModel(func(o *anthropic.Options) {
			o.Model = strings.TrimPrefix(b.ModelID, AnthropicPrefix)
			o.APIKey = b.APIKey
			o.BaseURL = r.opts.AnthropicBaseURL
		}), nil
	case OpenAI:
		return openai.NewModel(func(o *openai.Options) {
			o.Model = b.ModelID
			o.APIKey = b.APIKey
			o.BaseURL = r.opts.OpenAIBaseURL
		}), nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", b.Provider)
	}
}

// Normalize applies the provider's identifier convention. It is idempotent.
func Normalize(p Provider, modelID string) string {
	if p == Anthropic && !strings.HasPrefix(modelID, AnthropicPrefix) {
		return AnthropicPrefix + modelID
	}
	return modelID
}
