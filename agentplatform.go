// Package agentplatform provides a high-level façade that wires the
// execution orchestration subsystem for one tenant: store, model resolver,
// built-in tools, agent engine and bounded dispatcher. Most applications:
//  1. Load a config.Config once at startup
//  2. Create a Platform via New (optionally overriding the store or model factory)
//  3. Call Execute / Submit / Get / List, and Close on shutdown
//
// All defaults come from the configuration; an unset DATABASE_URL keeps
// records in memory, which is suitable for local development and tests.
package agentplatform

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/agentplatform/config"
	"github.com/hupe1980/agentplatform/dispatch"
	"github.com/hupe1980/agentplatform/engine"
	"github.com/hupe1980/agentplatform/execution"
	"github.com/hupe1980/agentplatform/logging"
	"github.com/hupe1980/agentplatform/model"
	"github.com/hupe1980/agentplatform/orchestrator"
	"github.com/hupe1980/agentplatform/provider"
	"github.com/hupe1980/agentplatform/store"
	"github.com/hupe1980/agentplatform/tool/builtin"
)

// ModelFactory builds the model client for a resolved binding.
type ModelFactory func(b provider.Binding) (model.Model, error)

// Options overrides the configuration driven defaults.
type Options struct {
	// Store replaces the store opened from Config.DatabaseURL. The platform
	// does not close a supplied store.
	Store execution.Store

	// ModelFactory replaces the provider SDK clients.
	ModelFactory ModelFactory

	// Tools configures the built-in tools.
	Tools func(o *builtin.Options)

	// Callbacks receives engine lifecycle hooks. Defaults to debug logging
	// of every recorded step.
	Callbacks *engine.CallbackManager

	// Logger defaults to the logger described by the configuration.
	Logger logging.Logger
}

// Platform is the wired subsystem.
type Platform struct {
	*orchestrator.Orchestrator

	cfg        config.Config
	store      execution.Store
	ownsStore  bool
	dispatcher *dispatch.Dispatcher
	logger     logging.Logger
}

// New wires a Platform from cfg.
func New(ctx context.Context, cfg config.Config, optFns ...func(o *Options)) (*Platform, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = cfg.Logger()
	}
	logger := opts.Logger

	p := &Platform{cfg: cfg, store: opts.Store, logger: logger}
	if p.store == nil {
		s, err := store.Open(ctx, cfg.DatabaseURL, func(o *store.Options) { o.Logger = logger })
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		p.store, p.ownsStore = s, true

		if m, ok := s.(store.Migrator); ok && cfg.AutoMigrate {
			if err := m.Migrate(ctx); err != nil {
				_ = s.Close()
				return nil, err
			}
		}
	}

	var resolver orchestrator.ModelResolver = provider.NewResolver(func(o *provider.Options) {
		o.DefaultModel = cfg.DefaultModel
		o.AnthropicAPIKey = cfg.AnthropicAPIKey
		o.OpenAIAPIKey = cfg.OpenAIAPIKey
		o.Logger = logger
	})
	if opts.ModelFactory != nil {
		resolver = &factoryResolver{ModelResolver: resolver, factory: opts.ModelFactory}
	}

	tools := builtin.NewRegistry(cfg.Tenant, func(o *builtin.Options) {
		if opts.Tools != nil {
			opts.Tools(o)
		}
		o.Logger = logger
	})

	callbacks := opts.Callbacks
	if callbacks == nil {
		callbacks = engine.NewCallbackManager()
		callbacks.RegisterCallback(engine.NewLoggingCallback(logger))
	}

	eng := engine.New(func(o *engine.Options) {
		o.ToolTimeout = cfg.ToolTimeout
		o.Callbacks = callbacks
		o.Logger = logger
	})

	p.dispatcher = dispatch.New(func(o *dispatch.Options) {
		o.Workers = cfg.Workers
		o.QueueSize = cfg.QueueSize
		o.Logger = logger.With("tenant_id", cfg.Tenant.ID)
	})

	orch, err := orchestrator.New(cfg.Tenant, p.store, func(o *orchestrator.Options) {
		o.Resolver = resolver
		o.Tools = tools
		o.Engine = eng
		o.Dispatcher = p.dispatcher
		o.DefaultMaxSteps = cfg.DefaultMaxSteps
		o.MaxStepsLimit = cfg.MaxStepsLimit
		o.RunTimeout = cfg.RunTimeout
		o.Logger = logger
	})
	if err != nil {
		_ = p.Close(ctx)
		return nil, err
	}
	p.Orchestrator = orch

	logger.Info("platform.started",
		"tenant_id", cfg.Tenant.ID,
		"workers", cfg.Workers,
		"queue_size", cfg.QueueSize,
		"default_model", cfg.DefaultModel,
	)
	return p, nil
}

// Store returns the execution store.
func (p *Platform) Store() execution.Store { return p.store }

// Config returns the configuration the platform was built from.
func (p *Platform) Config() config.Config { return p.cfg }

// Close drains the dispatcher, letting queued runs finish and persist, and
// closes the store when the platform opened it.
func (p *Platform) Close(ctx context.Context) error {
	var errs []error
	if p.dispatcher != nil {
		if err := p.dispatcher.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop dispatcher: %w", err))
		}
	}
	if p.ownsStore && p.store != nil {
		if err := p.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	p.logger.Info("platform.stopped")
	return errors.Join(errs...)
}

type factoryResolver struct {
	orchestrator.ModelResolver
	factory ModelFactory
}

func (r *factoryResolver) NewModel(b provider.Binding) (model.Model, error) {
	return r.factory(b)
}
