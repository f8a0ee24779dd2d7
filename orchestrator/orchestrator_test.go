package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/agentplatform/core"
	"github.com/hupe1980/agentplatform/dispatch"
	"github.com/hupe1980/agentplatform/engine"
	"github.com/hupe1980/agentplatform/execution"
	"github.com/hupe1980/agentplatform/execution/executiontest"
	"github.com/hupe1980/agentplatform/internal/testutil"
	"github.com/hupe1980/agentplatform/model"
	"github.com/hupe1980/agentplatform/provider"
	"github.com/hupe1980/agentplatform/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedResolver resolves like the real resolver but hands out a scripted model.
type scriptedResolver struct {
	*provider.Resolver
	model model.Model

	mu       sync.Mutex
	bindings []provider.Binding
}

func (r *scriptedResolver) NewModel(b provider.Binding) (model.Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings = append(r.bindings, b)
	return r.model, nil
}

type runnerFunc func(ctx context.Context, cfg engine.RunConfig) (engine.Result, error)

func (f runnerFunc) Run(ctx context.Context, cfg engine.RunConfig) (engine.Result, error) {
	return f(ctx, cfg)
}

type fixture struct {
	orch     *Orchestrator
	store    execution.Store
	model    *model.ScriptedModel
	resolver *scriptedResolver
}

func newFixture(t *testing.T, optFns ...func(o *Options)) *fixture {
	t.Helper()

	st := store.NewMemoryStore(func(o *store.Options) { o.Now = executiontest.NewClock().Now })
	m := model.NewScriptedModel("claude-3-5-sonnet-20241022")
	res := &scriptedResolver{
		Resolver: provider.NewResolver(func(o *provider.Options) {
			o.AnthropicAPIKey = "sk-ant-test"
		}),
		model: m,
	}

	fns := append([]func(o *Options){func(o *Options) { o.Resolver = res }}, optFns...)
	orch, err := New(testutil.Tenant("tenant-a"), st, fns...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})

	return &fixture{orch: orch, store: st, model: m, resolver: res}
}

func TestExecuteCompletes(t *testing.T) {
	f := newFixture(t)
	f.model.AddToolCall("c1", "get_tenant_info", `{}`).AddText("4")

	rec, err := f.orch.Execute(context.Background(), Request{Task: "2+2", MaxSteps: 5})
	require.NoError(t, err)

	assert.Equal(t, execution.StatusCompleted, rec.Status)
	assert.Equal(t, "4", rec.Result)
	assert.Empty(t, rec.Error)
	require.NotNil(t, rec.CompletedAt)
	assert.Equal(t, "anthropic/claude-3-5-sonnet-20241022", rec.Model)
	assert.Equal(t, "tenant-a", rec.TenantID)

	require.Len(t, rec.Steps, 2)
	assert.Equal(t, 1, rec.Steps[0].Index)
	assert.Equal(t, "get_tenant_info({})", rec.Steps[0].Action)
	assert.Contains(t, rec.Steps[0].Observation, "Tenant ID: tenant-a")
	assert.Equal(t, engine.FinalAnswerAction, rec.Steps[1].Action)

	stored, err := f.orch.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec, stored)
	require.NoError(t, stored.Validate())
}

func TestMissingCredentialFailsRecord(t *testing.T) {
	tests := []struct {
		name  string
		model string
		want  string
	}{
		{"anthropic", "claude-3-5-haiku-latest", "ANTHROPIC_API_KEY not set for Claude models"},
		{"openai", "gpt-4o", "OPENAI_API_KEY not set for OpenAI models"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := store.NewMemoryStore()
			orch, err := New(testutil.Tenant("tenant-a"), st, func(o *Options) {
				o.Resolver = provider.NewResolver()
			})
			require.NoError(t, err)

			rec, err := orch.Execute(context.Background(), Request{Task: "hello", Model: tt.model})
			require.NoError(t, err)
			assert.Equal(t, execution.StatusFailed, rec.Status)
			assert.Equal(t, tt.want, rec.Error)
			assert.Empty(t, rec.Result)
			assert.NotNil(t, rec.CompletedAt)

			stored, err := orch.Get(context.Background(), rec.ID)
			require.NoError(t, err)
			assert.Equal(t, execution.StatusFailed, stored.Status)
		})
	}
}

func TestUnknownToolIsDropped(t *testing.T) {
	f := newFixture(t)
	f.model.AddText("fine")

	rec, err := f.orch.Execute(context.Background(), Request{Task: "work", Tools: []string{"not_a_real_tool"}})
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCompleted, rec.Status)

	reqs := f.model.Requests()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].Tools)
}

func TestDefaultToolsWhenAbsent(t *testing.T) {
	f := newFixture(t)
	f.model.AddText("fine")

	_, err := f.orch.Execute(context.Background(), Request{Task: "work"})
	require.NoError(t, err)

	reqs := f.model.Requests()
	require.Len(t, reqs, 1)
	var names []string
	for _, d := range reqs[0].Tools {
		names = append(names, d.Function.Name)
	}
	assert.Equal(t, []string{"get_tenant_info", "web_search", "visit_webpage"}, names)
}

func TestListNewestFirst(t *testing.T) {
	f := newFixture(t)

	var ids []string
	for _, task := range []string{"one", "two", "three"} {
		rec, err := f.orch.Execute(context.Background(), Request{Task: task, Tools: []string{}})
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}

	recs, err := f.orch.List(context.Background(), execution.Page{Limit: 2})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, ids[2], recs[0].ID)
	assert.Equal(t, ids[1], recs[1].ID)
}

func TestInvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"empty task", Request{Task: "  "}},
		{"negative steps", Request{Task: "x", MaxSteps: -1}},
		{"above limit", Request{Task: "x", MaxSteps: DefaultMaxStepsLimit + 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.orch.Execute(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)

			recs, err := f.orch.List(context.Background(), execution.Page{})
			require.NoError(t, err)
			assert.Empty(t, recs)
		})
	}
}

func TestEngineFailureKeepsPartialSteps(t *testing.T) {
	f := newFixture(t)
	f.model.AddToolCall("c1", "get_tenant_info", `{}`).AddError(errors.New("upstream 529"))

	rec, err := f.orch.Execute(context.Background(), Request{Task: "x", MaxSteps: 5})
	require.NoError(t, err)
	assert.Equal(t, execution.StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "upstream 529")
	require.Len(t, rec.Steps, 1)
	assert.Equal(t, "get_tenant_info({})", rec.Steps[0].Action)
}

func TestMaxStepsForwarded(t *testing.T) {
	var got engine.RunConfig
	f := newFixture(t, func(o *Options) {
		o.Engine = runnerFunc(func(_ context.Context, cfg engine.RunConfig) (engine.Result, error) {
			got = cfg
			return engine.Result{Output: "ok", Steps: []engine.Step{{Action: engine.FinalAnswerAction, Observation: "ok"}}}, nil
		})
	})

	rec, err := f.orch.Execute(context.Background(), Request{Task: "x"})
	require.NoError(t, err)
	assert.Equal(t, engine.DefaultMaxSteps, got.MaxSteps)
	assert.Equal(t, rec.ID, got.ExecutionID)
	assert.Equal(t, "tenant-a", got.Tenant.ID)

	_, err = f.orch.Execute(context.Background(), Request{Task: "x", MaxSteps: 7})
	require.NoError(t, err)
	assert.Equal(t, 7, got.MaxSteps)
}

func TestEnginePanicFailsRecord(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Engine = runnerFunc(func(context.Context, engine.RunConfig) (engine.Result, error) {
			panic("boom")
		})
	})

	rec, err := f.orch.Execute(context.Background(), Request{Task: "x"})
	require.NoError(t, err)
	assert.Equal(t, execution.StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "boom")
}

func TestRunTimeout(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.RunTimeout = 20 * time.Millisecond
		o.Engine = runnerFunc(func(ctx context.Context, _ engine.RunConfig) (engine.Result, error) {
			<-ctx.Done()
			return engine.Result{}, ctx.Err()
		})
	})

	rec, err := f.orch.Execute(context.Background(), Request{Task: "slow"})
	require.NoError(t, err)
	assert.Equal(t, execution.StatusFailed, rec.Status)
	assert.Equal(t, "execution timed out after 20ms", rec.Error)
}

func TestCallerGoneRunStillPersists(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, func(o *Options) {
		o.Engine = runnerFunc(func(ctx context.Context, _ engine.RunConfig) (engine.Result, error) {
			<-release
			if err := ctx.Err(); err != nil {
				return engine.Result{}, err
			}
			return engine.Result{Output: "late", Steps: []engine.Step{{Action: engine.FinalAnswerAction, Observation: "late"}}}, nil
		})
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	rec, err := f.orch.Execute(ctx, Request{Task: "x"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, execution.StatusRunning, rec.Status)
	close(release)

	assert.Eventually(t, func() bool {
		got, err := f.orch.Get(context.Background(), rec.ID)
		return err == nil && got.Status == execution.StatusCompleted && got.Result == "late"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOverloadFailsRecord(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	d := dispatch.New(func(o *dispatch.Options) {
		o.Workers = 1
		o.QueueSize = 1
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Stop(ctx)
	})

	f := newFixture(t, func(o *Options) {
		o.Dispatcher = d
		o.Engine = runnerFunc(func(context.Context, engine.RunConfig) (engine.Result, error) {
			select {
			case started <- struct{}{}:
			default:
			}
			<-release
			return engine.Result{Output: "ok"}, nil
		})
	})
	defer close(release)

	ctx := context.Background()
	_, _, err := f.orch.Submit(ctx, Request{Task: "running"})
	require.NoError(t, err)
	<-started
	_, _, err = f.orch.Submit(ctx, Request{Task: "queued"})
	require.NoError(t, err)

	rec, fut, err := f.orch.Submit(ctx, Request{Task: "rejected"})
	require.ErrorIs(t, err, ErrOverloaded)
	assert.Nil(t, fut)
	assert.Equal(t, execution.StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "queue is full")
}

func TestSubmitReturnsRunningSnapshot(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, func(o *Options) {
		o.Engine = runnerFunc(func(context.Context, engine.RunConfig) (engine.Result, error) {
			<-release
			return engine.Result{Output: "ok"}, nil
		})
	})

	rec, fut, err := f.orch.Submit(context.Background(), Request{Task: "x", Metadata: map[string]any{"source": "api"}})
	require.NoError(t, err)
	assert.Equal(t, execution.StatusRunning, rec.Status)
	assert.Nil(t, rec.CompletedAt)
	assert.Equal(t, map[string]any{"source": "api"}, rec.Metadata)

	close(release)
	final, err := fut.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCompleted, final.Status)
	assert.Equal(t, rec.ID, final.ID)
}

func TestTenantIsolation(t *testing.T) {
	f := newFixture(t)
	rec, err := f.orch.Execute(context.Background(), Request{Task: "x", Tools: []string{}})
	require.NoError(t, err)

	other, err := New(testutil.Tenant("tenant-b"), f.store, func(o *Options) { o.Resolver = f.resolver })
	require.NoError(t, err)

	_, err = other.Get(context.Background(), rec.ID)
	assert.ErrorIs(t, err, execution.ErrNotFound)
	recs, err := other.List(context.Background(), execution.Page{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestNewRequiresTenant(t *testing.T) {
	_, err := New(core.Tenant{}, store.NewMemoryStore())
	assert.ErrorIs(t, err, core.ErrMissingTenant)

	_, err = New(testutil.Tenant("a"), nil)
	assert.Error(t, err)

	_, err = New(testutil.Tenant("a"), store.NewMemoryStore(), func(o *Options) {
		o.DefaultMaxSteps = 20
		o.MaxStepsLimit = 10
	})
	assert.Error(t, err)
}
