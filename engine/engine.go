package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hupe1980/agentplatform/core"
	"github.com/hupe1980/agentplatform/logging"
	"github.com/hupe1980/agentplatform/model"
	"github.com/hupe1980/agentplatform/tool"
)

// DefaultMaxSteps is the loop budget used when RunConfig.MaxSteps is not positive.
const DefaultMaxSteps = 10

// FinalAnswerAction is the action recorded for the model's final answer.
const FinalAnswerAction = "final_answer"

// DefaultInstruction is the system prompt used when none is configured.
const DefaultInstruction = `You are a helpful assistant working for a single customer tenant.
Use the available tools when they help you answer. When you have the answer,
reply with it directly as plain text without calling further tools.`

var (
	// ErrStepBudgetExhausted is returned when the loop budget runs out before a final answer.
	ErrStepBudgetExhausted = errors.New("step budget exhausted without a final answer")

	// ErrNoOutput is returned when the model finishes with an empty answer.
	ErrNoOutput = errors.New("agent produced no output")

	// ErrToolFailed is returned when a tool errors or panics during execution.
	ErrToolFailed = errors.New("tool execution failed")

	// ErrInvalidRunConfig is returned for a run without model or task.
	ErrInvalidRunConfig = errors.New("invalid run config")
)

// Step is one entry of the run's trace.
type Step struct {
	Action      string `json:"action"`
	Observation string `json:"observation"`
}

// Result is the outcome of a successful run.
type Result struct {
	Output string           `json:"output"`
	Steps  []Step           `json:"steps"`
	Usage  model.TokenUsage `json:"usage"`
}

// RunError is returned by Run on failure. It carries the steps executed
// before the failure.
type RunError struct {
	Err   error
	Steps []Step
}

func (e *RunError) Error() string { return e.Err.Error() }

// Unwrap returns the underlying cause.
func (e *RunError) Unwrap() error { return e.Err }

// PartialSteps returns the steps attached to err, if any.
func PartialSteps(err error) []Step {
	var re *RunError
	if errors.As(err, &re) {
		return re.Steps
	}
	return nil
}

// RunConfig describes one agent run.
type RunConfig struct {
	Model       model.Model
	Tools       []tool.Tool
	Task        string
	MaxSteps    int
	Tenant      core.Tenant
	ExecutionID string
}

// Options configures an Engine.
type Options struct {
	// Instruction is the system prompt sent with every model call.
	Instruction string

	// ToolTimeout bounds a single tool call. Zero disables the bound.
	ToolTimeout time.Duration

	// Callbacks receives lifecycle hooks. May be nil.
	Callbacks *CallbackManager

	Logger logging.Logger
}

// Engine executes agent runs. It is stateless between runs and safe for
// concurrent use.
type Engine struct {
	opts   Options
	logger logging.Logger
}

// New creates an Engine.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{
		Instruction: DefaultInstruction,
		ToolTimeout: 15 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Engine{
		opts:   opts,
		logger: logging.OrNoOp(opts.Logger).With("component", "engine"),
	}
}

// run holds the mutable state of one Run call.
type run struct {
	cfg       RunConfig
	logger    logging.Logger
	steps     []Step
	iteration int
	usage     model.TokenUsage
}

// Run executes the agent loop until a final answer, a fatal error or budget
// exhaustion.
func (e *Engine) Run(ctx context.Context, cfg RunConfig) (Result, error) {
	if cfg.Model == nil || strings.TrimSpace(cfg.Task) == "" {
		return Result{}, &RunError{Err: fmt.Errorf("%w: model and task are required", ErrInvalidRunConfig)}
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}

	r := &run{
		cfg:    cfg,
		logger: e.logger.With("execution_id", cfg.ExecutionID, "tenant_id", cfg.Tenant.ID),
	}

	toolMap := make(map[string]tool.Tool, len(cfg.Tools))
	defs := make([]model.ToolDefinition, 0, len(cfg.Tools))
	for _, t := range cfg.Tools {
		toolMap[t.Name()] = t
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}

	contents := []core.Content{core.NewTextContent("user", cfg.Task)}
	limiter := core.NewStepLimiter(cfg.MaxSteps)
	start := time.Now()

	r.logger.Info("engine.run.start", "model", cfg.Model.Info().Name, "tools", len(defs), "max_steps", cfg.MaxSteps)

	for {
		if err := limiter.Increment(); err != nil {
			return e.fail(ctx, r, fmt.Errorf("%w (%d iterations)", ErrStepBudgetExhausted, cfg.MaxSteps))
		}
		r.iteration = limiter.Count()

		if err := ctx.Err(); err != nil {
			return e.fail(ctx, r, err)
		}

		req := model.Request{Instructions: e.opts.Instruction, Contents: contents, Tools: defs}
		if err := e.opts.Callbacks.ExecuteCallbacks(ctx, CallbackBeforeModel, r.cbCtx(&CallbackContext{Request: &req})); err != nil {
			return e.fail(ctx, r, err)
		}

		resp, err := model.Collect(ctx, cfg.Model, req)
		if err != nil {
			return e.fail(ctx, r, fmt.Errorf("model call failed: %w", err))
		}
		r.addUsage(resp.Usage)

		if err := e.opts.Callbacks.ExecuteCallbacks(ctx, CallbackAfterModel, r.cbCtx(&CallbackContext{Response: &resp})); err != nil {
			return e.fail(ctx, r, err)
		}

		calls := resp.Content.FunctionCalls()
		if len(calls) == 0 {
			output := strings.TrimSpace(resp.Content.Text())
			if output == "" {
				return e.fail(ctx, r, ErrNoOutput)
			}
			if err := e.appendStep(ctx, r, Step{Action: FinalAnswerAction, Observation: output}); err != nil {
				return e.fail(ctx, r, err)
			}

			r.logger.Info("engine.run.complete",
				"iterations", r.iteration,
				"steps", len(r.steps),
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return Result{Output: output, Steps: r.steps, Usage: r.usage}, nil
		}

		assistant, calls := withCallIDs(resp.Content)
		contents = append(contents, assistant)

		responses := make([]core.Part, 0, len(calls))
		for i := range calls {
			fc := calls[i]
			part, err := e.callTool(ctx, r, toolMap, fc)
			if err != nil {
				return e.fail(ctx, r, err)
			}
			responses = append(responses, part)
		}
		contents = append(contents, core.Content{Role: "tool", Parts: responses})
	}
}

// callTool executes one function call, records its step and returns the
// response part fed back to the model. A non-nil error aborts the run.
func (e *Engine) callTool(ctx context.Context, r *run, toolMap map[string]tool.Tool, fc core.FunctionCall) (core.Part, error) {
	if err := e.opts.Callbacks.ExecuteCallbacks(ctx, CallbackBeforeTool, r.cbCtx(&CallbackContext{Call: &fc})); err != nil {
		return nil, err
	}

	action := formatAction(fc)
	result, callErr := e.executeTool(ctx, r, toolMap, fc)

	resp := core.FunctionResponse{ID: fc.ID, Name: fc.Name}
	var (
		observation string
		fatal       error
	)
	switch {
	case callErr == nil:
		observation = Stringify(result)
		resp.Response = observation
	case isRecoverable(callErr):
		observation = "error: " + callErr.Error()
		resp.Error = callErr.Error()
	default:
		observation = "error: " + callErr.Error()
		fatal = fmt.Errorf("%w: %s: %w", ErrToolFailed, fc.Name, callErr)
	}

	if err := e.opts.Callbacks.ExecuteCallbacks(ctx, CallbackAfterTool, r.cbCtx(&CallbackContext{Call: &fc, Err: callErr})); err != nil {
		return nil, err
	}
	if err := e.appendStep(ctx, r, Step{Action: action, Observation: observation}); err != nil {
		return nil, err
	}
	if fatal != nil {
		return nil, fatal
	}
	return core.FunctionResponsePart{FunctionResponse: resp}, nil
}

// executeTool looks up, decodes and invokes a tool with panic recovery.
func (e *Engine) executeTool(ctx context.Context, r *run, toolMap map[string]tool.Tool, fc core.FunctionCall) (result any, err error) {
	impl, ok := toolMap[fc.Name]
	if !ok {
		r.logger.Warn("engine.tool.unknown", "tool", fc.Name)
		return nil, tool.NewToolError(fc.Name, fmt.Sprintf("tool %s not found", fc.Name), tool.CodeValidation)
	}

	args := map[string]any{}
	if strings.TrimSpace(fc.Arguments) != "" {
		if err := json.Unmarshal([]byte(fc.Arguments), &args); err != nil {
			return nil, tool.NewToolError(fc.Name, fmt.Sprintf("invalid arguments: %v", err), tool.CodeValidation)
		}
	}

	toolCtx := ctx
	if e.opts.ToolTimeout > 0 {
		var cancel context.CancelFunc
		toolCtx, cancel = context.WithTimeout(ctx, e.opts.ToolTimeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("engine.tool.panic", "tool", fc.Name, "recover", rec, "stack", string(debug.Stack()))
			result, err = nil, fmt.Errorf("panic: %v", rec)
		}
		if err != nil && toolCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			err = tool.NewToolError(fc.Name, fmt.Sprintf("timed out after %s", e.opts.ToolTimeout), tool.CodeTimeout)
		}
		r.logger.Info("engine.tool.executed",
			"tool", fc.Name,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err != nil,
		)
	}()

	return impl.Call(core.NewToolContext(toolCtx, r.cfg.Tenant, r.cfg.ExecutionID, fc.ID, r.logger), args)
}

func (e *Engine) appendStep(ctx context.Context, r *run, step Step) error {
	r.steps = append(r.steps, step)
	return e.opts.Callbacks.ExecuteCallbacks(ctx, CallbackOnStep, r.cbCtx(&CallbackContext{Step: &r.steps[len(r.steps)-1]}))
}

func (e *Engine) fail(ctx context.Context, r *run, err error) (Result, error) {
	r.logger.Warn("engine.run.failed", "iterations", r.iteration, "steps", len(r.steps), "error", err)
	_ = e.opts.Callbacks.ExecuteCallbacks(context.WithoutCancel(ctx), CallbackOnError, r.cbCtx(&CallbackContext{Err: err}))
	return Result{}, &RunError{Err: err, Steps: r.steps}
}

func (r *run) cbCtx(c *CallbackContext) *CallbackContext {
	c.ExecutionID = r.cfg.ExecutionID
	c.Tenant = r.cfg.Tenant
	c.Iteration = r.iteration
	return c
}

func (r *run) addUsage(u *model.TokenUsage) {
	if u == nil {
		return
	}
	r.usage.PromptTokens += u.PromptTokens
	r.usage.CompletionTokens += u.CompletionTokens
	r.usage.TotalTokens += u.TotalTokens
}

// isRecoverable reports whether a tool error is fed back to the model
// instead of aborting the run.
func isRecoverable(err error) bool {
	var te *tool.ToolError
	if !errors.As(err, &te) {
		return false
	}
	return te.Code == tool.CodeValidation || te.Code == tool.CodeTimeout
}

// withCallIDs assigns ids to function calls that arrived without one so
// responses can be correlated.
func withCallIDs(c core.Content) (core.Content, []core.FunctionCall) {
	out := core.Content{Role: c.Role, Parts: make([]core.Part, 0, len(c.Parts))}
	var calls []core.FunctionCall
	for _, p := range c.Parts {
		if fc, ok := p.(core.FunctionCallPart); ok {
			if fc.FunctionCall.ID == "" {
				fc.FunctionCall.ID = "call_" + uuid.NewString()
			}
			calls = append(calls, fc.FunctionCall)
			p = fc
		}
		out.Parts = append(out.Parts, p)
	}
	return out, calls
}

// formatAction renders a call as name(args) with compact JSON arguments.
func formatAction(fc core.FunctionCall) string {
	args := strings.TrimSpace(fc.Arguments)
	if args == "" {
		args = "{}"
	}
	var v any
	if err := json.Unmarshal([]byte(args), &v); err == nil {
		if b, err := json.Marshal(v); err == nil {
			args = string(b)
		}
	}
	return fc.Name + "(" + args + ")"
}

// Stringify renders a tool result as observation text.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}
