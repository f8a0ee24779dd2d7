package core

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentplatform/logging"
)

// ToolContext is the constrained surface handed to a tool invocation. It binds
// the call to the deployment tenant and the execution that issued it so tools
// never need the tenant passed as an argument.
type ToolContext struct {
	ctx            context.Context
	tenant         Tenant
	executionID    string
	functionCallID string
	logger         logging.Logger
}

// NewToolContext constructs a tool context for one function call.
func NewToolContext(ctx context.Context, tenant Tenant, executionID, functionCallID string, logger logging.Logger) *ToolContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ToolContext{
		ctx:            ctx,
		tenant:         tenant,
		executionID:    executionID,
		functionCallID: functionCallID,
		logger:         logging.OrNoOp(logger).With("execution_id", executionID, "fc_id", functionCallID),
	}
}

// Context returns the context associated with the tool invocation.
func (tc *ToolContext) Context() context.Context { return tc.ctx }

// Tenant returns the tenant the invocation runs for.
func (tc *ToolContext) Tenant() Tenant { return tc.tenant }

// ExecutionID returns the execution record id that issued the call.
func (tc *ToolContext) ExecutionID() string { return tc.executionID }

// FunctionCallID returns the function call ID associated with the tool invocation.
func (tc *ToolContext) FunctionCallID() string { return tc.functionCallID }

// Logger returns the logger associated with the tool invocation.
func (tc *ToolContext) Logger() logging.Logger { return tc.logger }

// Validate performs a structural sanity check of the context.
func (tc *ToolContext) Validate() error {
	if tc.tenant.IsZero() || tc.functionCallID == "" {
		return fmt.Errorf("invalid ToolContext")
	}
	return nil
}
