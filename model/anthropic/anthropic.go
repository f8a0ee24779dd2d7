// Package anthropic provides a model wrapper for the Anthropic Claude API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/hupe1980/agentplatform/core"
	"github.com/hupe1980/agentplatform/model"
)

// DefaultModel is used when no model id is configured.
const DefaultModel = anthropic.ModelClaude3_5Sonnet20241022

// Options configures the Anthropic model adapter.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int64
	APIKey      string
	BaseURL     string
	MaxRetries  int
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

func defaultOptions() Options {
	return Options{
		Model:       string(DefaultModel),
		Temperature: 0.7,
		MaxTokens:   4096,
		MaxRetries:  2,
	}
}

// NewModel creates a new Anthropic model using the official client.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	clientOpts := []option.RequestOption{option.WithMaxRetries(opts.MaxRetries)}
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new Anthropic model from an existing client.
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Generate issues one Messages API call and emits a single final response.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 1)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := anthropic.MessageNewParams{
			Model:       anthropic.Model(m.opts.Model),
			Messages:    buildMessages(req.Contents),
			MaxTokens:   m.opts.MaxTokens,
			Temperature: anthropic.Float(m.opts.Temperature),
		}
		if system := buildSystem(req); len(system) > 0 {
			params.System = system
		}
		if len(req.Tools) > 0 {
			params.Tools = buildTools(req.Tools)
		}

		resp, err := m.client.Messages.New(ctx, params)
		if err != nil {
			errCh <- fmt.Errorf("anthropic api error: %w", err)
			return
		}

		var parts []core.Part
		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				if text := block.AsText().Text; text != "" {
					parts = append(parts, core.TextPart{Text: text})
				}
			case "tool_use":
				toolBlock := block.AsToolUse()
				args := "{}"
				if len(toolBlock.Input) > 0 {
					args = string(toolBlock.Input)
				}
				parts = append(parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{
					ID:        toolBlock.ID,
					Name:      toolBlock.Name,
					Arguments: args,
				}})
			}
		}

		out <- model.Response{
			ID:           resp.ID,
			Content:      core.Content{Role: "assistant", Parts: parts},
			FinishReason: finishReason(resp.StopReason),
			Usage: &model.TokenUsage{
				PromptTokens:     int(resp.Usage.InputTokens),
				CompletionTokens: int(resp.Usage.OutputTokens),
				TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
			},
		}
	}()

	return out, errCh
}

func finishReason(r anthropic.StopReason) string {
	switch r {
	case anthropic.StopReasonToolUse:
		return "tool_calls"
	case anthropic.StopReasonMaxTokens:
		return "length"
	default:
		return "stop"
	}
}

// buildSystem merges the request instructions with any system role contents.
func buildSystem(req model.Request) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	if req.Instructions != "" {
		blocks = append(blocks, anthropic.TextBlockParam{Text: req.Instructions})
	}
	for _, c := range req.Contents {
		if c.Role != "system" {
			continue
		}
		if text := c.Text(); text != "" {
			blocks = append(blocks, anthropic.TextBlockParam{Text: text})
		}
	}
	return blocks
}

// buildMessages converts contents into Anthropic messages. Tool results are
// sent back as tool_result blocks inside a user turn.
func buildMessages(contents []core.Content) []anthropic.MessageParam {
	var messages []anthropic.MessageParam

	for _, c := range contents {
		switch c.Role {
		case "system":
			continue
		case "assistant":
			if blocks := assistantBlocks(c.Parts); len(blocks) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(blocks...))
			}
		case "tool":
			if blocks := toolResultBlocks(c.Parts); len(blocks) > 0 {
				messages = append(messages, anthropic.NewUserMessage(blocks...))
			}
		default:
			if text := c.Text(); text != "" {
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
			}
		}
	}

	return messages
}

func assistantBlocks(parts []core.Part) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	for _, p := range parts {
		switch part := p.(type) {
		case core.TextPart:
			if part.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			}
		case core.FunctionCallPart:
			var input any = map[string]any{}
			if part.FunctionCall.Arguments != "" {
				if err := json.Unmarshal([]byte(part.FunctionCall.Arguments), &input); err != nil {
					input = map[string]any{}
				}
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(part.FunctionCall.ID, input, part.FunctionCall.Name))
		}
	}
	return blocks
}

func toolResultBlocks(parts []core.Part) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	for _, p := range parts {
		fr, ok := p.(core.FunctionResponsePart)
		if !ok {
			continue
		}
		resp := fr.FunctionResponse
		if resp.Error != "" {
			blocks = append(blocks, anthropic.NewToolResultBlock(resp.ID, resp.Error, true))
			continue
		}
		blocks = append(blocks, anthropic.NewToolResultBlock(resp.ID, stringify(resp.Response), false))
	}
	return blocks
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

func buildTools(tools []model.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))

	for i, tool := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}
		if params := tool.Function.Parameters; params != nil {
			if properties, ok := params["properties"]; ok {
				inputSchema.Properties = properties
			}
			inputSchema.Required = requiredFields(params["required"])
		}

		out[i] = anthropic.ToolUnionParamOfTool(inputSchema, tool.Function.Name)
		if tool.Function.Description != "" {
			out[i].OfTool.Description = anthropic.String(tool.Function.Description)
		}
	}

	return out
}

func requiredFields(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		var fields []string
		for _, r := range req {
			if s, ok := r.(string); ok {
				fields = append(fields, s)
			}
		}
		return fields
	default:
		return nil
	}
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      "anthropic",
		SupportsTools: true,
	}
}
