// Package execution defines the persisted execution record, its state
// machine and the Store contract every backend implements.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when no record with the id exists for the tenant.
	ErrNotFound = errors.New("execution not found")

	// ErrAlreadyTerminal is returned when a terminal record is transitioned again.
	ErrAlreadyTerminal = errors.New("execution already in terminal state")

	// ErrInvalidRecord is returned for writes that would violate record invariants.
	ErrInvalidRecord = errors.New("invalid execution record")
)

// Status is the lifecycle state of an execution.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool { return s == StatusCompleted || s == StatusFailed }

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return s == StatusRunning || s.IsTerminal() }

// Step is one (action, observation) entry of a run's trace. Index is 1-based.
type Step struct {
	Index       int    `json:"step"`
	Action      string `json:"action"`
	Observation string `json:"observation"`
}

// Record is the persisted unit of work for one submitted task.
type Record struct {
	ID          string         `json:"execution_id"`
	TenantID    string         `json:"tenant_id"`
	Task        string         `json:"task"`
	Status      Status         `json:"status"`
	Model       string         `json:"model"`
	Result      string         `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	Steps       []Step         `json:"steps,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Validate checks the record invariants.
func (r Record) Validate() error {
	switch {
	case r.ID == "" || r.TenantID == "":
		return fmt.Errorf("%w: id and tenant_id are required", ErrInvalidRecord)
	case !r.Status.Valid():
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, r.Status)
	case r.Status == StatusRunning && (r.CompletedAt != nil || r.Result != "" || r.Error != ""):
		return fmt.Errorf("%w: running record has terminal fields", ErrInvalidRecord)
	case r.Status.IsTerminal() && r.CompletedAt == nil:
		return fmt.Errorf("%w: terminal record without completed_at", ErrInvalidRecord)
	case r.Status == StatusCompleted && (r.Result == "" || r.Error != ""):
		return fmt.Errorf("%w: completed record needs a result and no error", ErrInvalidRecord)
	case r.Status == StatusFailed && (r.Error == "" || r.Result != ""):
		return fmt.Errorf("%w: failed record needs an error and no result", ErrInvalidRecord)
	}
	for i, s := range r.Steps {
		if s.Index != i+1 {
			return fmt.Errorf("%w: step %d has index %d", ErrInvalidRecord, i+1, s.Index)
		}
	}
	return nil
}

// NewRecord holds the fields supplied when an execution is created.
type NewRecord struct {
	TenantID string
	Task     string
	Model    string
	Metadata map[string]any
}

// Validate checks the creation fields.
func (n NewRecord) Validate() error {
	if n.TenantID == "" || n.Task == "" {
		return fmt.Errorf("%w: tenant_id and task are required", ErrInvalidRecord)
	}
	return nil
}

// NumberSteps returns a copy of steps with contiguous 1-based indexes.
func NumberSteps(steps []Step) []Step {
	if len(steps) == 0 {
		return nil
	}
	out := make([]Step, len(steps))
	for i, s := range steps {
		s.Index = i + 1
		out[i] = s
	}
	return out
}

// Page selects a window of a newest-first listing.
type Page struct {
	Limit  int
	Offset int
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

// Normalize applies the default limit, caps it and clamps a negative offset.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Store persists execution records. Every operation is scoped by tenant id;
// a record of another tenant behaves as if it did not exist.
type Store interface {
	// Create inserts a running record.
	Create(ctx context.Context, rec NewRecord) (Record, error)

	// Complete moves a running record to completed.
	Complete(ctx context.Context, tenantID, id, output string, steps []Step) (Record, error)

	// Fail moves a running record to failed.
	Fail(ctx context.Context, tenantID, id, errMsg string, steps []Step) (Record, error)

	// Get returns one record or ErrNotFound.
	Get(ctx context.Context, tenantID, id string) (Record, error)

	// List returns records newest first.
	List(ctx context.Context, tenantID string, page Page) ([]Record, error)

	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// CheckTransition validates a terminal transition request against the
// current status. Backends call it so all of them reject the same inputs.
func CheckTransition(current Status, target Status, text string) error {
	if current.IsTerminal() {
		return ErrAlreadyTerminal
	}
	if !target.IsTerminal() {
		return fmt.Errorf("%w: %q is not a terminal status", ErrInvalidRecord, target)
	}
	if text == "" {
		return fmt.Errorf("%w: %s record requires a non-empty %s", ErrInvalidRecord, target, textField(target))
	}
	return nil
}

func textField(s Status) string {
	if s == StatusCompleted {
		return "result"
	}
	return "error"
}
