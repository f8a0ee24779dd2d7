package store

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/hupe1980/agentplatform/execution"
)

type memoryEntry struct {
	rec execution.Record
	seq uint64
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*memoryEntry
	seq     uint64
	opts    Options
}

var _ execution.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(optFns ...func(o *Options)) *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*memoryEntry),
		opts:    buildOptions(optFns),
	}
}

// Create implements execution.Store.
func (s *MemoryStore) Create(_ context.Context, n execution.NewRecord) (execution.Record, error) {
	if err := n.Validate(); err != nil {
		return execution.Record{}, err
	}

	rec := execution.Record{
		ID:        s.opts.NewID(),
		TenantID:  n.TenantID,
		Task:      n.Task,
		Status:    execution.StatusRunning,
		Model:     n.Model,
		Metadata:  maps.Clone(n.Metadata),
		CreatedAt: timestamp(s.opts.Now()),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; exists {
		return execution.Record{}, fmt.Errorf("%w: duplicate id %s", execution.ErrInvalidRecord, rec.ID)
	}
	s.seq++
	s.records[rec.ID] = &memoryEntry{rec: rec, seq: s.seq}
	return clone(rec), nil
}

// Complete implements execution.Store.
func (s *MemoryStore) Complete(_ context.Context, tenantID, id, output string, steps []execution.Step) (execution.Record, error) {
	return s.finish(tenantID, id, execution.StatusCompleted, output, steps)
}

// Fail implements execution.Store.
func (s *MemoryStore) Fail(_ context.Context, tenantID, id, errMsg string, steps []execution.Step) (execution.Record, error) {
	return s.finish(tenantID, id, execution.StatusFailed, errMsg, steps)
}

func (s *MemoryStore) finish(tenantID, id string, status execution.Status, text string, steps []execution.Step) (execution.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.records[id]
	if !ok || e.rec.TenantID != tenantID {
		return execution.Record{}, execution.ErrNotFound
	}
	if err := execution.CheckTransition(e.rec.Status, status, text); err != nil {
		return execution.Record{}, err
	}

	now := timestamp(s.opts.Now())
	e.rec.Status = status
	if status == execution.StatusCompleted {
		e.rec.Result = text
	} else {
		e.rec.Error = text
	}
	e.rec.Steps = execution.NumberSteps(steps)
	e.rec.CompletedAt = &now
	return clone(e.rec), nil
}

// Get implements execution.Store.
func (s *MemoryStore) Get(_ context.Context, tenantID, id string) (execution.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.records[id]
	if !ok || e.rec.TenantID != tenantID {
		return execution.Record{}, execution.ErrNotFound
	}
	return clone(e.rec), nil
}

// List implements execution.Store.
func (s *MemoryStore) List(_ context.Context, tenantID string, page execution.Page) ([]execution.Record, error) {
	page = page.Normalize()

	s.mu.RLock()
	entries := make([]*memoryEntry, 0)
	for _, e := range s.records {
		if e.rec.TenantID == tenantID {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.rec.CreatedAt.Equal(b.rec.CreatedAt) {
			return a.rec.CreatedAt.After(b.rec.CreatedAt)
		}
		return a.seq > b.seq
	})

	out := make([]execution.Record, 0, page.Limit)
	for i := page.Offset; i < len(entries) && len(out) < page.Limit; i++ {
		out = append(out, clone(entries[i].rec))
	}
	s.mu.RUnlock()

	return out, nil
}

// Ping implements execution.Store.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close implements execution.Store.
func (s *MemoryStore) Close() error { return nil }

func clone(r execution.Record) execution.Record {
	if r.Steps != nil {
		r.Steps = append([]execution.Step(nil), r.Steps...)
	}
	r.Metadata = maps.Clone(r.Metadata)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		r.CompletedAt = &t
	}
	return r
}
