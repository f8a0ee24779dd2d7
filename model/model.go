package model

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/agentplatform/core"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// Request captures the normalized model input produced by the engine.
type Request struct {
	Instructions string           `json:"instructions"` // System prompt
	Contents     []core.Content   `json:"contents"`     // Conversation so far
	Tools        []ToolDefinition `json:"tools,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a chunk emitted by a model. Providers emit exactly one
// non-partial response per Generate call.
type Response struct {
	ID           string       `json:"id"`
	Partial      bool         `json:"partial"`
	Content      core.Content `json:"content"`
	FinishReason string       `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "scripted", ...
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface required by the engine to drive generation.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// ErrNoResponse is returned by Collect when the model closed its channels
// without a final response.
var ErrNoResponse = errors.New("model returned no final response")

// Collect drains a Generate call and returns the final (non-partial) response.
func Collect(ctx context.Context, m Model, req Request) (Response, error) {
	respCh, errCh := m.Generate(ctx, req)

	var (
		final Response
		found bool
	)
	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if !r.Partial {
				final, found = r, true
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return Response{}, err
			}
		}
	}
	if !found {
		return Response{}, ErrNoResponse
	}
	return final, nil
}

// ScriptedModel is a deterministic in-memory Model for tests and examples. It
// replays queued turns in order; once the script is exhausted it answers with
// a fallback text response.
type ScriptedModel struct {
	info     Info
	mu       sync.Mutex
	turns    []scriptedTurn
	requests []Request
	fallback string
}

type scriptedTurn struct {
	content core.Content
	err     error
}

// NewScriptedModel constructs a ScriptedModel with tool support enabled.
func NewScriptedModel(name string) *ScriptedModel {
	return &ScriptedModel{
		info:     Info{Name: name, Provider: "scripted", SupportsTools: true},
		fallback: "done",
	}
}

// AddText queues a final text answer.
func (m *ScriptedModel) AddText(text string) *ScriptedModel {
	return m.add(scriptedTurn{content: core.NewTextContent("assistant", text)})
}

// AddToolCall queues a turn requesting a single tool call.
func (m *ScriptedModel) AddToolCall(id, name, args string) *ScriptedModel {
	return m.add(scriptedTurn{content: core.Content{
		Role: "assistant",
		Parts: []core.Part{core.FunctionCallPart{FunctionCall: core.FunctionCall{
			ID:        id,
			Name:      name,
			Arguments: args,
		}}},
	}})
}

// AddError queues a provider failure.
func (m *ScriptedModel) AddError(err error) *ScriptedModel {
	return m.add(scriptedTurn{err: err})
}

// SetFallback sets the answer returned after the script is exhausted.
func (m *ScriptedModel) SetFallback(text string) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = text
	return m
}

func (m *ScriptedModel) add(turn scriptedTurn) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, turn)
	return m
}

// Requests returns a copy of the requests received so far.
func (m *ScriptedModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Generate implements Model.
func (m *ScriptedModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 1)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.requests = append(m.requests, req)
	turn := scriptedTurn{content: core.NewTextContent("assistant", m.fallback)}
	if len(m.turns) > 0 {
		turn, m.turns = m.turns[0], m.turns[1:]
	}
	m.mu.Unlock()

	go func() {
		defer close(respCh)
		defer close(errCh)
		if err := ctx.Err(); err != nil {
			errCh <- err
			return
		}
		if len(req.Contents) == 0 {
			errCh <- fmt.Errorf("no contents provided")
			return
		}
		if turn.err != nil {
			errCh <- turn.err
			return
		}
		finish := "stop"
		if len(turn.content.FunctionCalls()) > 0 {
			finish = "tool_calls"
		}
		respCh <- Response{Content: turn.content, FinishReason: finish}
	}()
	return respCh, errCh
}

// Info implements Model.
func (m *ScriptedModel) Info() Info { return m.info }
