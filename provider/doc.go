// Package provider resolves a requested model identifier to a concrete
// provider binding.
//
// Resolution happens in two steps. Route classifies the identifier against an
// ordered list of rules and normalizes it; it is pure and never fails. Bind
// attaches the credential the chosen provider needs and fails with a
// *ConfigError when it is missing. Resolve performs both.
//
//	r := provider.NewResolver(func(o *provider.Options) {
//		o.AnthropicAPIKey = cfg.AnthropicAPIKey
//	})
//	b, err := r.Resolve("claude-3-5-haiku-latest")
//	// b.ModelID == "anthropic/claude-3-5-haiku-latest"
//	m, err := r.NewModel(b)
package provider
