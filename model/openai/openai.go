// Package openai provides an implementation of model.Model using the OpenAI
// Chat Completions API with function/tool calling. It adapts the normalized
// Request/Response structures into the SDK's message format and back.
package openai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hupe1980/agentplatform/core"
	"github.com/hupe1980/agentplatform/model"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Options configure the OpenAI model adapter.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	APIKey              string
	BaseURL             string
	MaxRetries          int
}

// Model wraps the OpenAI Chat Completions API behind the generic model.Model interface.
type Model struct {
	client *openai.Client
	opts   Options
}

func defaultOptions() Options {
	return Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
		MaxRetries:          2,
	}
}

// NewModel creates a new OpenAI model using the official client.
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

	client := openai.NewClient(clientOpts...)
	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new OpenAI model from an existing client.
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Generate issues one chat completion and emits a single final response.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 1)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		resp, err := m.client.Chat.Completions.New(ctx, m.buildParams(req))
		if err != nil {
			errCh <- fmt.Errorf("openai api error: %w", err)
			return
		}
		if len(resp.Choices) == 0 {
			errCh <- fmt.Errorf("no choices returned")
			return
		}

		choice := resp.Choices[0]
		parts := make([]core.Part, 0, len(choice.Message.ToolCalls)+1)
		if choice.Message.Content != "" {
			parts = append(parts, core.TextPart{Text: choice.Message.Content})
		}
		for _, tc := range choice.Message.ToolCalls {
			parts = append(parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			}})
		}

		out <- model.Response{
			ID:           resp.ID,
			Content:      core.Content{Role: "assistant", Parts: parts},
			FinishReason: choice.FinishReason,
			Usage: &model.TokenUsage{
				PromptTokens:     int(resp.Usage.PromptTokens),
				CompletionTokens: int(resp.Usage.CompletionTokens),
				TotalTokens:      int(resp.Usage.TotalTokens),
			},
		}
	}()

	return out, errCh
}

// buildMessages converts normalized contents into OpenAI chat messages. Tool
// responses become tool messages in conversation order.
func buildMessages(req model.Request) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.Instructions != "" {
		messages = append(messages, openai.SystemMessage(req.Instructions))
	}

	for _, c := range req.Contents {
		switch c.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(c.Text()))
		case "assistant":
			toolCalls := extractToolCalls(c)
			if len(toolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(c.Text()))
				continue
			}
			msg := openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls}
			if text := c.Text(); text != "" {
				msg.Content.OfString = openai.String(text)
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &msg})
		case "tool":
			for _, p := range c.Parts {
				fr, ok := p.(core.FunctionResponsePart)
				if !ok || fr.FunctionResponse.ID == "" {
					continue
				}
				messages = append(messages, openai.ToolMessage(toolText(fr.FunctionResponse), fr.FunctionResponse.ID))
			}
		default:
			if text := c.Text(); text != "" {
				messages = append(messages, openai.UserMessage(text))
			}
		}
	}
	return messages
}

func toolText(resp core.FunctionResponse) string {
	if resp.Error != "" {
		return "error: " + resp.Error
	}
	switch v := resp.Response.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

func extractToolCalls(c core.Content) []openai.ChatCompletionMessageToolCallParam {
	var toolCalls []openai.ChatCompletionMessageToolCallParam
	for _, fc := range c.FunctionCalls() {
		toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
			ID: fc.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      fc.Name,
				Arguments: fc.Arguments,
			},
		})
	}
	return toolCalls
}

// buildParams assembles the OpenAI request parameters including tool definitions.
func (m *Model) buildParams(req model.Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(req),
		Model:               m.opts.Model,
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
	}
	if len(req.Tools) == 0 {
		return params
	}
	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, tdef := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        tdef.Function.Name,
				Description: openai.String(tdef.Function.Description),
				Parameters:  tdef.Function.Parameters,
			},
		}
	}
	params.Tools = tools
	return params
}

// Info returns metadata describing this OpenAI model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      "openai",
		SupportsTools: true,
	}
}
