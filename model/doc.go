// Package model defines the provider-agnostic abstractions for talking to
// language models from the execution engine.
//
// Core goals:
//   - Hide vendor SDKs behind a single Model interface
//   - Normalize tool / function call representation (ToolDefinition, core.FunctionCall)
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate deterministic tests (ScriptedModel)
//
// Providers (Anthropic, OpenAI) implement Model in sub-packages so the engine
// stays decoupled from vendor SDKs.
package model
