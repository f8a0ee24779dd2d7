package tool

import (
	"fmt"
	"time"

	"github.com/hupe1980/agentplatform/core"
	"github.com/hupe1980/agentplatform/internal/util"
)

// FunctionTool exposes a plain Go function as a Tool.
//
// Arguments are validated against the declared schema before fn runs.
// Failures come back as *ToolError: CodeValidation for schema mismatches,
// CodeExecution for other errors; a *ToolError returned by fn is forwarded
// unchanged. A FunctionTool holds no mutable state and is safe for
// concurrent use.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	fn          func(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// NewFunctionTool constructs a FunctionTool from explicit schema and function.
//
// Example:
//
//	echo := NewFunctionTool(
//	  "echo",
//	  "Repeat the given text",
//	  map[string]any{
//	    "type":       "object",
//	    "properties": map[string]any{"text": map[string]any{"type": "string"}},
//	    "required":   []string{"text"},
//	  },
//	  func(tc *core.ToolContext, args map[string]any) (any, error) {
//	    return args["text"], nil
//	  },
//	)
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(toolCtx *core.ToolContext, args map[string]any) (any, error),
) *FunctionTool {
	if parameters == nil {
		parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
	}
}

// NewFunctionToolFromStruct derives the parameter schema from a struct
// (see util.CreateSchema).
func NewFunctionToolFromStruct(
	name, description string,
	structType any,
	fn func(toolCtx *core.ToolContext, args map[string]any) (any, error),
) *FunctionTool {
	return NewFunctionTool(name, description, util.CreateSchema(structType), fn)
}

// Name returns the tool name.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the JSON schema describing expected arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Call validates args then invokes the wrapped function.
//
// Logging Fields:
//
//	tool: tool name
//	duration_ms: execution time in milliseconds
func (t *FunctionTool) Call(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	logger := toolCtx.Logger()
	start := time.Now()

	logger.Debug("tool.call.start", "tool", t.name)

	if err := util.ValidateParameters(args, t.parameters); err != nil {
		logger.Warn("tool.call.validation_failed", "tool", t.name, "error", err.Error())

		return nil, &ToolError{
			Tool:    t.name,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    CodeValidation,
			Details: err,
		}
	}

	result, err := t.fn(toolCtx, args)
	if err != nil {
		if toolErr, ok := err.(*ToolError); ok {
			logger.Error("tool.call.error", "tool", t.name, "code", toolErr.Code, "error", toolErr.Message)

			return nil, toolErr
		}

		logger.Error("tool.call.error", "tool", t.name, "error", err.Error())

		return nil, &ToolError{
			Tool:    t.name,
			Message: err.Error(),
			Code:    CodeExecution,
		}
	}

	logger.Info("tool.call.success", "tool", t.name, "duration_ms", time.Since(start).Milliseconds())

	return result, nil
}
