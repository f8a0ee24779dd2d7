// Package tool implements the capabilities an agent run may call: the Tool
// interface, a FunctionTool adapter for plain Go functions and the Registry
// that binds named capabilities to the deployment's tenant.
package tool

import (
	"fmt"

	"github.com/hupe1980/agentplatform/core"
	"github.com/hupe1980/agentplatform/internal/util"
)

// Tool is a named, schema-bound capability the model can call during a run.
//
// Implementations must be safe for concurrent use; a Registry builds a fresh
// instance per resolution but the engine may call it from a tool goroutine.
type Tool interface {
	// Name returns the identifier exposed to the model (snake_case).
	Name() string

	// Description tells the model when and how to use the tool.
	Description() string

	// Parameters returns the JSON schema for the call arguments.
	Parameters() map[string]any

	// Call executes the tool with already decoded arguments. The result is
	// rendered as text for the step trace.
	Call(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// Error codes carried by ToolError.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
	CodeTimeout    = "TIMEOUT"
)

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

// IsValidationError reports whether err is a ToolError raised for bad arguments.
func IsValidationError(err error) bool {
	te, ok := err.(*ToolError)
	return ok && te.Code == CodeValidation
}
