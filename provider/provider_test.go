package provider

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoute(t *testing.T) {
	r := NewResolver()

	tests := []struct {
		name      string
		requested string
		provider  Provider
		modelID   string
		fallback  bool
	}{
		{"absent uses default", "", Anthropic, "anthropic/claude-3-5-sonnet-20241022", false},
		{"claude", "claude-3-5-haiku-latest", Anthropic, "anthropic/claude-3-5-haiku-latest", false},
		{"case insensitive", "Claude-X", Anthropic, "anthropic/Claude-X", false},
		{"already prefixed", "anthropic/claude-x", Anthropic, "anthropic/claude-x", false},
		{"anthropic beats gpt", "gpt-4-anthropic-test", Anthropic, "anthropic/gpt-4-anthropic-test", false},
		{"gpt", "gpt-4o", OpenAI, "gpt-4o", false},
		{"openai substring", "my-OpenAI-model", OpenAI, "my-OpenAI-model", false},
		{"unknown falls back", "llama-3", Anthropic, "anthropic/claude-3-5-sonnet-20241022", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			route := r.Route(tt.requested)
			assert.Equal(t, tt.provider, route.Provider)
			assert.Equal(t, tt.modelID, route.ModelID)
			assert.Equal(t, tt.fallback, route.Fallback)
		})
	}
}

func TestRoutePrefixIsIdempotent(t *testing.T) {
	r := NewResolver()
	a := r.Route("anthropic/claude-x")
	b := r.Route("claude-x")
	assert.Equal(t, "anthropic/claude-x", a.ModelID)
	assert.Equal(t, a.ModelID, b.ModelID)
	assert.Equal(t, a.ModelID, r.Route(a.ModelID).ModelID)
}

func TestRouteConfiguredDefault(t *testing.T) {
	r := NewResolver(func(o *Options) { o.DefaultModel = "gpt-4o-mini" })
	route := r.Route("")
	assert.Equal(t, OpenAI, route.Provider)
	assert.Equal(t, "gpt-4o-mini", route.ModelID)
	assert.Empty(t, route.Requested)
}

func TestCustomRules(t *testing.T) {
	r := NewResolver(func(o *Options) {
		o.Rules = []Rule{{Name: "all-openai", Match: func(string) bool { return true }, Provider: OpenAI}}
	})
	assert.Equal(t, OpenAI, r.Route("claude-x").Provider)
}

func TestBindMissingCredential(t *testing.T) {
	r := NewResolver()

	_, err := r.Resolve("claude-x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingCredential))
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "ANTHROPIC_API_KEY", cfgErr.Variable)
	assert.Equal(t, "ANTHROPIC_API_KEY not set for Claude models", err.Error())

	_, err = r.Resolve("gpt-4o")
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, OpenAI, cfgErr.Provider)
	assert.Equal(t, "OPENAI_API_KEY not set for OpenAI models", err.Error())

	_, err = r.Resolve("mistral")
	assert.EqualError(t, err, "ANTHROPIC_API_KEY not set")
}

func TestBindOnlyNeedsChosenProvider(t *testing.T) {
	r := NewResolver(func(o *Options) { o.OpenAIAPIKey = "sk-openai" })

	b, err := r.Resolve("gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "sk-openai", b.APIKey)
	assert.Equal(t, "gpt-4o", b.ModelID)

	_, err = r.Resolve("claude-x")
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestNewModel(t *testing.T) {
	r := NewResolver(func(o *Options) {
		o.AnthropicAPIKey = "sk-ant"
		o.OpenAIAPIKey = "sk-openai"
	})

	b, err := r.Resolve("claude-x")
	require.NoError(t, err)
	m, err := r.NewModel(b)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", m.Info().Provider)
	assert.Equal(t, "claude-x", m.Info().Name)

	b, err = r.Resolve("gpt-4o")
	require.NoError(t, err)
	m, err = r.NewModel(b)
	require.NoError(t, err)
	assert.Equal(t, "openai", m.Info().Provider)

	_, err = r.NewModel(Binding{Route: Route{Provider: "acme"}})
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "anthropic/x", Normalize(Anthropic, "x"))
	assert.Equal(t, "anthropic/x", Normalize(Anthropic, "anthropic/x"))
	assert.Equal(t, "gpt-4o", Normalize(OpenAI, "gpt-4o"))
}
