// Package executiontest provides a conformance suite for execution.Store
// implementations.
package executiontest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/agentplatform/execution"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store whose creation timestamps come from now.
type Factory func(t *testing.T, now func() time.Time) execution.Store

// Clock is a deterministic clock advancing one second per call.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

// NewClock starts a clock at a fixed UTC instant.
func NewClock() *Clock {
	return &Clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the next instant.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

// Run exercises the Store contract against stores built by factory.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s execution.Store)
	}{
		{"CreateStartsRunning", testCreate},
		{"CreateRejectsInvalid", testCreateInvalid},
		{"CreateCopiesMetadata", testCreateCopiesMetadata},
		{"Complete", testComplete},
		{"FailKeepsPartialSteps", testFail},
		{"SingleTerminalTransition", testSingleTerminalTransition},
		{"ConcurrentTransitions", testConcurrentTransitions},
		{"TenantIsolation", testTenantIsolation},
		{"ListNewestFirst", testList},
		{"Ping", testPing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := factory(t, NewClock().Now)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func create(t *testing.T, s execution.Store, tenant, task string) execution.Record {
	t.Helper()
	rec, err := s.Create(context.Background(), execution.NewRecord{
		TenantID: tenant,
		Task:     task,
		Model:    "anthropic/claude-3-5-sonnet-20241022",
		Metadata: map[string]any{"source": "test", "priority": float64(2)},
	})
	require.NoError(t, err)
	return rec
}

func testCreate(t *testing.T, s execution.Store) {
	rec := create(t, s, "tenant-a", "2+2")

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "tenant-a", rec.TenantID)
	assert.Equal(t, "2+2", rec.Task)
	assert.Equal(t, execution.StatusRunning, rec.Status)
	assert.Equal(t, "anthropic/claude-3-5-sonnet-20241022", rec.Model)
	assert.Empty(t, rec.Result)
	assert.Empty(t, rec.Error)
	assert.Nil(t, rec.CompletedAt)
	assert.False(t, rec.CreatedAt.IsZero())
	require.NoError(t, rec.Validate())

	got, err := s.Get(context.Background(), "tenant-a", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, execution.StatusRunning, got.Status)
	assert.Equal(t, map[string]any{"source": "test", "priority": float64(2)}, got.Metadata)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
}

func testCreateCopiesMetadata(t *testing.T, s execution.Store) {
	meta := map[string]any{"source": "test"}
	rec, err := s.Create(context.Background(), execution.NewRecord{
		TenantID: "tenant-a",
		Task:     "2+2",
		Model:    "anthropic/claude-3-5-sonnet-20241022",
		Metadata: meta,
	})
	require.NoError(t, err)

	meta["source"] = "changed"
	meta["extra"] = true
	assert.Equal(t, map[string]any{"source": "test"}, rec.Metadata)

	got, err := s.Get(context.Background(), "tenant-a", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"source": "test"}, got.Metadata)
}

func testCreateInvalid(t *testing.T, s execution.Store) {
	_, err := s.Create(context.Background(), execution.NewRecord{TenantID: "tenant-a"})
	assert.ErrorIs(t, err, execution.ErrInvalidRecord)

	_, err = s.Create(context.Background(), execution.NewRecord{Task: "x"})
	assert.ErrorIs(t, err, execution.ErrInvalidRecord)
}

func testComplete(t *testing.T, s execution.Store) {
	ctx := context.Background()
	rec := create(t, s, "tenant-a", "what is go")

	steps := []execution.Step{
		{Action: `web_search({"query":"go"})`, Observation: "results"},
		{Action: "final_answer", Observation: "a language"},
	}
	done, err := s.Complete(ctx, "tenant-a", rec.ID, "a language", steps)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCompleted, done.Status)
	assert.Equal(t, "a language", done.Result)
	assert.Empty(t, done.Error)
	require.NotNil(t, done.CompletedAt)
	require.NoError(t, done.Validate())

	got, err := s.Get(ctx, "tenant-a", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCompleted, got.Status)
	assert.Equal(t, "a language", got.Result)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, execution.Step{Index: 1, Action: `web_search({"query":"go"})`, Observation: "results"}, got.Steps[0])
	assert.Equal(t, 2, got.Steps[1].Index)
	require.NotNil(t, got.CompletedAt)
	assert.False(t, got.CompletedAt.Before(got.CreatedAt))
	require.NoError(t, got.Validate())

	_, err = s.Complete(ctx, "tenant-a", create(t, s, "tenant-a", "x").ID, "", nil)
	assert.ErrorIs(t, err, execution.ErrInvalidRecord)
}

func testFail(t *testing.T, s execution.Store) {
	ctx := context.Background()
	rec := create(t, s, "tenant-a", "task")

	failed, err := s.Fail(ctx, "tenant-a", rec.ID, "ANTHROPIC_API_KEY not set for Claude models",
		[]execution.Step{{Action: "web_search({})", Observation: "error: boom"}})
	require.NoError(t, err)
	assert.Equal(t, execution.StatusFailed, failed.Status)
	require.NoError(t, failed.Validate())

	got, err := s.Get(ctx, "tenant-a", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusFailed, got.Status)
	assert.Equal(t, "ANTHROPIC_API_KEY not set for Claude models", got.Error)
	assert.Empty(t, got.Result)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, 1, got.Steps[0].Index)
	assert.NotNil(t, got.CompletedAt)

	noSteps := create(t, s, "tenant-a", "task")
	got, err = s.Fail(ctx, "tenant-a", noSteps.ID, "boom", nil)
	require.NoError(t, err)
	assert.Empty(t, got.Steps)
}

func testSingleTerminalTransition(t *testing.T, s execution.Store) {
	ctx := context.Background()
	rec := create(t, s, "tenant-a", "task")

	_, err := s.Complete(ctx, "tenant-a", rec.ID, "first", nil)
	require.NoError(t, err)

	_, err = s.Complete(ctx, "tenant-a", rec.ID, "second", nil)
	assert.ErrorIs(t, err, execution.ErrAlreadyTerminal)

	_, err = s.Fail(ctx, "tenant-a", rec.ID, "late failure", nil)
	assert.ErrorIs(t, err, execution.ErrAlreadyTerminal)

	got, err := s.Get(ctx, "tenant-a", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCompleted, got.Status)
	assert.Equal(t, "first", got.Result)
	assert.Empty(t, got.Error)

	_, err = s.Complete(ctx, "tenant-a", "does-not-exist", "x", nil)
	assert.ErrorIs(t, err, execution.ErrNotFound)
}

func testConcurrentTransitions(t *testing.T, s execution.Store) {
	ctx := context.Background()
	rec := create(t, s, "tenant-a", "task")

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = s.Complete(ctx, "tenant-a", rec.ID, "done", nil)
			} else {
				_, err = s.Fail(ctx, "tenant-a", rec.ID, "failed", nil)
			}
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, execution.ErrAlreadyTerminal)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, successes)

	got, err := s.Get(ctx, "tenant-a", rec.ID)
	require.NoError(t, err)
	require.NoError(t, got.Validate())
}

func testTenantIsolation(t *testing.T, s execution.Store) {
	ctx := context.Background()
	rec := create(t, s, "tenant-a", "secret")

	_, err := s.Get(ctx, "tenant-b", rec.ID)
	assert.ErrorIs(t, err, execution.ErrNotFound)

	list, err := s.List(ctx, "tenant-b", execution.Page{})
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = s.Complete(ctx, "tenant-b", rec.ID, "hijacked", nil)
	assert.ErrorIs(t, err, execution.ErrNotFound)
	_, err = s.Fail(ctx, "tenant-b", rec.ID, "hijacked", nil)
	assert.ErrorIs(t, err, execution.ErrNotFound)

	got, err := s.Get(ctx, "tenant-a", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusRunning, got.Status)
}

func testList(t *testing.T, s execution.Store) {
	ctx := context.Background()
	first := create(t, s, "tenant-a", "first")
	second := create(t, s, "tenant-a", "second")
	third := create(t, s, "tenant-a", "third")
	create(t, s, "tenant-b", "other")

	_, err := s.Complete(ctx, "tenant-a", second.ID, "ok", nil)
	require.NoError(t, err)

	page, err := s.List(ctx, "tenant-a", execution.Page{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, third.ID, page[0].ID)
	assert.Equal(t, second.ID, page[1].ID)
	assert.Equal(t, execution.StatusCompleted, page[1].Status)

	rest, err := s.List(ctx, "tenant-a", execution.Page{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, first.ID, rest[0].ID)

	all, err := s.List(ctx, "tenant-a", execution.Page{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].CreatedAt.After(all[i-1].CreatedAt))
	}
}

func testPing(t *testing.T, s execution.Store) {
	assert.NoError(t, s.Ping(context.Background()))
}
