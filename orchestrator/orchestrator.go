package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/hupe1980/agentplatform/core"
	"github.com/hupe1980/agentplatform/dispatch"
	"github.com/hupe1980/agentplatform/engine"
	"github.com/hupe1980/agentplatform/execution"
	"github.com/hupe1980/agentplatform/logging"
	"github.com/hupe1980/agentplatform/model"
	"github.com/hupe1980/agentplatform/provider"
	"github.com/hupe1980/agentplatform/tool"
	"github.com/hupe1980/agentplatform/tool/builtin"
)

const (
	// DefaultMaxStepsLimit caps Request.MaxSteps.
	DefaultMaxStepsLimit = 50

	taskLogChars = 100
)

var (
	// ErrInvalidRequest is returned for requests rejected before a record exists.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrOverloaded is returned when the dispatcher rejects a run. The
	// record created for it is failed.
	ErrOverloaded = dispatch.ErrOverloaded
)

// Request is an inbound task.
type Request struct {
	Task string `json:"task"`
	// Tools selects tools by name. Nil selects the default set, an empty
	// slice selects none.
	Tools    []string       `json:"tools,omitempty"`
	Model    string         `json:"model,omitempty"`
	MaxSteps int            `json:"max_steps,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ToolResolver turns requested tool names into bound tools.
type ToolResolver interface {
	Resolve(requested []string) []tool.Tool
}

// ModelResolver routes and binds model identifiers.
type ModelResolver interface {
	Route(requested string) provider.Route
	Bind(route provider.Route) (provider.Binding, error)
	NewModel(b provider.Binding) (model.Model, error)
}

// Runner executes an agent run.
type Runner interface {
	Run(ctx context.Context, cfg engine.RunConfig) (engine.Result, error)
}

// Options configures an Orchestrator. Nil collaborators get defaults.
type Options struct {
	Resolver   ModelResolver
	Tools      ToolResolver
	Engine     Runner
	Dispatcher *dispatch.Dispatcher

	// DefaultMaxSteps applies when a request sets no budget.
	DefaultMaxSteps int

	// MaxStepsLimit is the largest budget a request may ask for.
	MaxStepsLimit int

	// RunTimeout bounds the wall-clock time of a run. Zero disables it.
	RunTimeout time.Duration

	Logger logging.Logger
}

// Orchestrator runs tasks for a single tenant.
type Orchestrator struct {
	tenant   core.Tenant
	store    execution.Store
	opts     Options
	logger   logging.Logger
	ownsPool bool
}

// New creates an Orchestrator for tenant backed by store.
func New(tenant core.Tenant, store execution.Store, optFns ...func(o *Options)) (*Orchestrator, error) {
	if tenant.IsZero() {
		return nil, core.ErrMissingTenant
	}
	if store == nil {
		return nil, errors.New("orchestrator: store is required")
	}

	opts := Options{
		DefaultMaxSteps: engine.DefaultMaxSteps,
		MaxStepsLimit:   DefaultMaxStepsLimit,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	logger := logging.OrNoOp(opts.Logger).With("component", "orchestrator", "tenant_id", tenant.ID)

	if opts.DefaultMaxSteps <= 0 {
		opts.DefaultMaxSteps = engine.DefaultMaxSteps
	}
	if opts.MaxStepsLimit <= 0 {
		opts.MaxStepsLimit = DefaultMaxStepsLimit
	}
	if opts.DefaultMaxSteps > opts.MaxStepsLimit {
		return nil, fmt.Errorf("orchestrator: default max steps %d exceeds limit %d", opts.DefaultMaxSteps, opts.MaxStepsLimit)
	}
	if opts.Resolver == nil {
		opts.Resolver = provider.NewResolver(func(o *provider.Options) { o.Logger = opts.Logger })
	}
	if opts.Tools == nil {
		opts.Tools = builtin.NewRegistry(tenant, func(o *builtin.Options) { o.Logger = opts.Logger })
	}
	if opts.Engine == nil {
		opts.Engine = engine.New(func(o *engine.Options) { o.Logger = opts.Logger })
	}

	o := &Orchestrator{
		tenant: tenant,
		store:  store,
		logger: logger,
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = dispatch.New(func(o *dispatch.Options) { o.Logger = opts.Logger })
		o.ownsPool = true
	}
	o.opts = opts
	return o, nil
}

// Tenant returns the tenant this orchestrator serves.
func (o *Orchestrator) Tenant() core.Tenant { return o.tenant }

// Stats reports the dispatcher state.
func (o *Orchestrator) Stats() dispatch.Stats { return o.opts.Dispatcher.Stats() }

// Ping checks the store.
func (o *Orchestrator) Ping(ctx context.Context) error { return o.store.Ping(ctx) }

// Shutdown drains the dispatcher when the orchestrator created it. Queued
// runs still complete and persist.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	if !o.ownsPool {
		return nil
	}
	return o.opts.Dispatcher.Stop(ctx)
}

// Execute submits req and waits for the terminal record. When ctx ends
// first it returns the running snapshot with ctx's error; the run still
// completes and persists.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (execution.Record, error) {
	rec, future, err := o.Submit(ctx, req)
	if err != nil {
		return rec, err
	}

	final, err := future.Await(ctx)
	if err != nil {
		return rec, err
	}
	return final, nil
}

// Submit validates req, persists a running record and schedules the run.
// The returned future resolves with the terminal record.
//
// Errors before the record exists (invalid request, store failure) return
// no record. Credential and model construction failures fail the record and
// return it with a resolved future. A dispatcher rejection fails the record
// and returns it with ErrOverloaded.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (execution.Record, *dispatch.Future[execution.Record], error) {
	maxSteps, err := o.validate(req)
	if err != nil {
		return execution.Record{}, nil, err
	}

	route := o.opts.Resolver.Route(req.Model)

	rec, err := o.store.Create(ctx, execution.NewRecord{
		TenantID: o.tenant.ID,
		Task:     req.Task,
		Model:    route.ModelID,
		Metadata: req.Metadata,
	})
	if err != nil {
		return execution.Record{}, nil, fmt.Errorf("create execution: %w", err)
	}

	logger := o.logger.With("execution_id", rec.ID)
	logger.Info("orchestrator.execution.created",
		"task", logging.Truncate(req.Task, taskLogChars),
		"model", route.ModelID,
		"max_steps", maxSteps,
	)

	// Past this point every path ends in a terminal transition.
	persistCtx := context.WithoutCancel(ctx)

	binding, err := o.opts.Resolver.Bind(route)
	if err != nil {
		failed := o.fail(persistCtx, logger, rec, err.Error(), nil)
		return failed, dispatch.Resolved(failed, nil), nil
	}

	m, err := o.opts.Resolver.NewModel(binding)
	if err != nil {
		failed := o.fail(persistCtx, logger, rec, fmt.Sprintf("model initialization failed: %v", err), nil)
		return failed, dispatch.Resolved(failed, nil), nil
	}

	tools := o.opts.Tools.Resolve(req.Tools)

	cfg := engine.RunConfig{
		Model:       m,
		Tools:       tools,
		Task:        req.Task,
		MaxSteps:    maxSteps,
		Tenant:      o.tenant,
		ExecutionID: rec.ID,
	}

	future, err := dispatch.Submit(o.opts.Dispatcher, ctx, func(ctx context.Context) (execution.Record, error) {
		return o.work(ctx, logger, rec, cfg)
	})
	if err != nil {
		msg := fmt.Sprintf("execution not scheduled: %v", err)
		failed := o.fail(persistCtx, logger, rec, msg, nil)
		return failed, nil, err
	}

	logger.Debug("orchestrator.execution.dispatched", "tools", toolNames(tools))
	return rec, future, nil
}

// Get returns the record id of this tenant.
func (o *Orchestrator) Get(ctx context.Context, id string) (execution.Record, error) {
	return o.store.Get(ctx, o.tenant.ID, id)
}

// List returns this tenant's records, newest first.
func (o *Orchestrator) List(ctx context.Context, page execution.Page) ([]execution.Record, error) {
	return o.store.List(ctx, o.tenant.ID, page)
}

func (o *Orchestrator) validate(req Request) (int, error) {
	if strings.TrimSpace(req.Task) == "" {
		return 0, fmt.Errorf("%w: task is required", ErrInvalidRequest)
	}
	switch {
	case req.MaxSteps == 0:
		return o.opts.DefaultMaxSteps, nil
	case req.MaxSteps < 0:
		return 0, fmt.Errorf("%w: max_steps must be positive", ErrInvalidRequest)
	case req.MaxSteps > o.opts.MaxStepsLimit:
		return 0, fmt.Errorf("%w: max_steps must not exceed %d", ErrInvalidRequest, o.opts.MaxStepsLimit)
	}
	return req.MaxSteps, nil
}

// work is the body executed on a pool worker.
func (o *Orchestrator) work(ctx context.Context, logger logging.Logger, rec execution.Record, cfg engine.RunConfig) (execution.Record, error) {
	runCtx := ctx
	if o.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.opts.RunTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := o.run(runCtx, cfg)
	elapsed := time.Since(start)

	if err != nil {
		msg := err.Error()
		if o.opts.RunTimeout > 0 && errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("execution timed out after %s", o.opts.RunTimeout)
		}
		logger.Error("orchestrator.execution.failed", "error", msg, "duration_ms", elapsed.Milliseconds())
		return o.fail(ctx, logger, rec, msg, toSteps(engine.PartialSteps(err))), nil
	}

	done, err := o.store.Complete(ctx, o.tenant.ID, rec.ID, res.Output, toSteps(res.Steps))
	if err != nil {
		logger.Error("orchestrator.execution.complete_error", "error", err)
		if errors.Is(err, execution.ErrAlreadyTerminal) {
			return o.Get(ctx, rec.ID)
		}
		return o.fail(ctx, logger, rec, fmt.Sprintf("persist result: %v", err), toSteps(res.Steps)), nil
	}

	logger.Info("orchestrator.execution.completed",
		"steps", len(done.Steps),
		"duration_ms", elapsed.Milliseconds(),
		"prompt_tokens", res.Usage.PromptTokens,
		"completion_tokens", res.Usage.CompletionTokens,
	)
	return done, nil
}

// run invokes the engine, converting a panic into a failure.
func (o *Orchestrator) run(ctx context.Context, cfg engine.RunConfig) (res engine.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &dispatch.PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return o.opts.Engine.Run(ctx, cfg)
}

// fail moves rec to failed. When the store refuses, the freshest known
// snapshot is returned and the problem logged.
func (o *Orchestrator) fail(ctx context.Context, logger logging.Logger, rec execution.Record, msg string, steps []execution.Step) execution.Record {
	failed, err := o.store.Fail(ctx, o.tenant.ID, rec.ID, msg, steps)
	if err == nil {
		logger.Warn("orchestrator.execution.marked_failed", "error", msg)
		return failed
	}

	logger.Error("orchestrator.execution.fail_error", "error", err, "reason", msg)
	if current, gerr := o.store.Get(ctx, o.tenant.ID, rec.ID); gerr == nil {
		return current
	}
	return rec
}

func toSteps(steps []engine.Step) []execution.Step {
	if len(steps) == 0 {
		return nil
	}
	out := make([]execution.Step, len(steps))
	for i, s := range steps {
		out[i] = execution.Step{Index: i + 1, Action: s.Action, Observation: s.Observation}
	}
	return out
}

func toolNames(tools []tool.Tool) []string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name()
	}
	return names
}
