package engine

import (
	"context"
	"sync"

	"github.com/hupe1980/agentplatform/core"
	"github.com/hupe1980/agentplatform/logging"
	"github.com/hupe1980/agentplatform/model"
)

// CallbackType defines the lifecycle point a callback runs at.
type CallbackType string

const (
	// CallbackBeforeModel runs before each model call.
	CallbackBeforeModel CallbackType = "before_model"

	// CallbackAfterModel runs after each successful model call.
	CallbackAfterModel CallbackType = "after_model"

	// CallbackBeforeTool runs before each tool call.
	CallbackBeforeTool CallbackType = "before_tool"

	// CallbackAfterTool runs after each tool call, successful or not.
	CallbackAfterTool CallbackType = "after_tool"

	// CallbackOnStep runs whenever a step is appended to the trace.
	CallbackOnStep CallbackType = "on_step"

	// CallbackOnError runs once when the run fails.
	CallbackOnError CallbackType = "on_error"
)

// CallbackContext describes the point in the run a callback observes.
// Fields not relevant to the callback type are zero.
type CallbackContext struct {
	Type        CallbackType
	ExecutionID string
	Tenant      core.Tenant
	Iteration   int

	Request  *model.Request
	Response *model.Response
	Call     *core.FunctionCall
	Step     *Step
	Err      error
}

// Callback is a lifecycle hook. Returning an error aborts the run.
type Callback interface {
	Type() CallbackType
	Execute(ctx context.Context, cbCtx *CallbackContext) error
}

// FunctionCallback wraps a function as a callback implementation.
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, cbCtx *CallbackContext) error
}

// NewFunctionCallback creates a new function-based callback.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, cbCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{callbackType: callbackType, fn: fn}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType { return c.callbackType }

// Execute calls the wrapped function.
func (c *FunctionCallback) Execute(ctx context.Context, cbCtx *CallbackContext) error {
	return c.fn(ctx, cbCtx)
}

// CallbackManager holds callbacks per type and runs them in registration order.
// It is safe for concurrent use.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty callback manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{callbacks: make(map[CallbackType][]Callback)}
}

// RegisterCallback adds a callback for its type.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks[callback.Type()] = append(cm.callbacks[callback.Type()], callback)
}

// ExecuteCallbacks runs the callbacks registered for callbackType and stops at
// the first error. A nil manager runs nothing.
func (cm *CallbackManager) ExecuteCallbacks(ctx context.Context, callbackType CallbackType, cbCtx *CallbackContext) error {
	if cm == nil {
		return nil
	}
	cm.mu.RLock()
	callbacks := cm.callbacks[callbackType]
	cm.mu.RUnlock()

	cbCtx.Type = callbackType
	for _, cb := range callbacks {
		if err := cb.Execute(ctx, cbCtx); err != nil {
			return err
		}
	}
	return nil
}

// LoggingCallback writes one debug line per step.
type LoggingCallback struct {
	logger logging.Logger
}

// NewLoggingCallback creates a step logging callback.
func NewLoggingCallback(logger logging.Logger) *LoggingCallback {
	return &LoggingCallback{logger: logging.OrNoOp(logger)}
}

// Type returns CallbackOnStep.
func (c *LoggingCallback) Type() CallbackType { return CallbackOnStep }

// Execute logs the step.
func (c *LoggingCallback) Execute(_ context.Context, cbCtx *CallbackContext) error {
	if cbCtx.Step == nil {
		return nil
	}
	c.logger.Debug("engine.step",
		"execution_id", cbCtx.ExecutionID,
		"iteration", cbCtx.Iteration,
		"action", logging.Truncate(cbCtx.Step.Action, 200),
		"observation", logging.Truncate(cbCtx.Step.Observation, 200),
	)
	return nil
}
