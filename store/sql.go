package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/hupe1980/agentplatform/execution"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	_ "modernc.org/sqlite" // sqlite driver
)

// Dialect names a supported SQL backend.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// SQLStore persists records in PostgreSQL or SQLite through sqlx.
type SQLStore struct {
	db         *sqlx.DB
	dialect    Dialect
	migrateURL string
	opts       Options
}

var _ execution.Store = (*SQLStore)(nil)

// NewPostgresStore connects to PostgreSQL.
func NewPostgresStore(ctx context.Context, dsn string, optFns ...func(o *Options)) (*SQLStore, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := NewSQLStore(db, optFns...)
	s.migrateURL = dsn
	s.opts.Logger.Info("store.opened", "dialect", s.dialect, "url", redact(dsn))
	return s, nil
}

// NewSQLiteStore opens (creating if needed) the SQLite database at path.
func NewSQLiteStore(ctx context.Context, path string, optFns ...func(o *Options)) (*SQLStore, error) {
	if path == "" {
		return nil, fmt.Errorf("open sqlite: empty path")
	}
	db, err := sqlx.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer; serialize through a single connection.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := NewSQLStore(db, optFns...)
	s.migrateURL = "sqlite://" + path
	s.opts.Logger.Info("store.opened", "dialect", s.dialect, "path", path)
	return s, nil
}

// NewSQLStore wraps an open connection. The dialect follows the driver name.
// Stores built this way cannot run migrations.
func NewSQLStore(db *sqlx.DB, optFns ...func(o *Options)) *SQLStore {
	dialect := DialectPostgres
	if db.DriverName() == "sqlite" {
		dialect = DialectSQLite
	}
	return &SQLStore{db: db, dialect: dialect, opts: buildOptions(optFns)}
}

// Dialect returns the backend kind.
func (s *SQLStore) Dialect() Dialect { return s.dialect }

// DB returns the underlying connection pool.
func (s *SQLStore) DB() *sqlx.DB { return s.db }

// jsonColumn scans a JSON document stored as jsonb or text.
type jsonColumn[T any] struct {
	V T
}

func (j *jsonColumn[T]) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("json column: unsupported type %T", src)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, &j.V)
}

func (j jsonColumn[T]) Value() (driver.Value, error) {
	b, err := json.Marshal(j.V)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

type recordRow struct {
	ID          string                       `db:"id"`
	TenantID    string                       `db:"tenant_id"`
	Task        string                       `db:"task"`
	Status      string                       `db:"status"`
	Model       string                       `db:"model"`
	Result      sql.NullString               `db:"result"`
	Error       sql.NullString               `db:"error"`
	Steps       jsonColumn[[]execution.Step] `db:"steps"`
	Metadata    jsonColumn[map[string]any]   `db:"metadata"`
	CreatedAt   time.Time                    `db:"created_at"`
	CompletedAt sql.NullTime                 `db:"completed_at"`
}

func (r recordRow) record() execution.Record {
	rec := execution.Record{
		ID:        r.ID,
		TenantID:  r.TenantID,
		Task:      r.Task,
		Status:    execution.Status(r.Status),
		Model:     r.Model,
		Result:    r.Result.String,
		Error:     r.Error.String,
		Steps:     r.Steps.V,
		Metadata:  r.Metadata.V,
		CreatedAt: r.CreatedAt.UTC(),
	}
	if len(rec.Steps) == 0 {
		rec.Steps = nil
	}
	if len(rec.Metadata) == 0 {
		rec.Metadata = nil
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time.UTC()
		rec.CompletedAt = &t
	}
	return rec
}

const recordColumns = "id, tenant_id, task, status, model, result, error, steps, metadata, created_at, completed_at"

// Create implements execution.Store.
func (s *SQLStore) Create(ctx context.Context, n execution.NewRecord) (execution.Record, error) {
	if err := n.Validate(); err != nil {
		return execution.Record{}, err
	}

	metadata := n.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	meta, err := jsonColumn[map[string]any]{V: metadata}.Value()
	if err != nil {
		return execution.Record{}, fmt.Errorf("%w: metadata: %v", execution.ErrInvalidRecord, err)
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

	query := s.db.Rebind(`INSERT INTO executions (id, tenant_id, task, status, model, steps, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.TenantID, rec.Task, string(rec.Status), rec.Model, "[]", meta, rec.CreatedAt,
	); err != nil {
		return execution.Record{}, fmt.Errorf("create execution: %w", err)
	}
	return rec, nil
}

// Complete implements execution.Store.
func (s *SQLStore) Complete(ctx context.Context, tenantID, id, output string, steps []execution.Step) (execution.Record, error) {
	return s.finish(ctx, tenantID, id, execution.StatusCompleted, output, steps)
}

// Fail implements execution.Store.
func (s *SQLStore) Fail(ctx context.Context, tenantID, id, errMsg string, steps []execution.Step) (execution.Record, error) {
	return s.finish(ctx, tenantID, id, execution.StatusFailed, errMsg, steps)
}

// finish performs the single running -> terminal transition. The status
// predicate in the UPDATE makes concurrent transitions race safely: only one
// statement matches the row.
func (s *SQLStore) finish(ctx context.Context, tenantID, id string, status execution.Status, text string, steps []execution.Step) (execution.Record, error) {
	if err := execution.CheckTransition(execution.StatusRunning, status, text); err != nil {
		return execution.Record{}, err
	}

	numbered := execution.NumberSteps(steps)
	if numbered == nil {
		numbered = []execution.Step{}
	}
	stepsJSON, err := jsonColumn[[]execution.Step]{V: numbered}.Value()
	if err != nil {
		return execution.Record{}, fmt.Errorf("%w: steps: %v", execution.ErrInvalidRecord, err)
	}

	var result, errText sql.NullString
	if status == execution.StatusCompleted {
		result = sql.NullString{String: text, Valid: true}
	} else {
		errText = sql.NullString{String: text, Valid: true}
	}

	query := s.db.Rebind(`UPDATE executions
		SET status = ?, result = ?, error = ?, steps = ?, completed_at = ?
		WHERE id = ? AND tenant_id = ? AND status = ?
		RETURNING ` + recordColumns)

	var row recordRow
	err = s.db.QueryRowxContext(ctx, query,
		string(status), result, errText, stepsJSON, timestamp(s.opts.Now()),
		id, tenantID, string(execution.StatusRunning),
	).StructScan(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return execution.Record{}, s.transitionConflict(ctx, tenantID, id)
	}
	if err != nil {
		return execution.Record{}, fmt.Errorf("update execution %s: %w", id, err)
	}
	return row.record(), nil
}

// transitionConflict explains why a transition matched no row.
func (s *SQLStore) transitionConflict(ctx context.Context, tenantID, id string) error {
	var status string
	err := s.db.GetContext(ctx, &status,
		s.db.Rebind("SELECT status FROM executions WHERE id = ? AND tenant_id = ?"), id, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return execution.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get execution %s: %w", id, err)
	}
	return execution.ErrAlreadyTerminal
}

// Get implements execution.Store.
func (s *SQLStore) Get(ctx context.Context, tenantID, id string) (execution.Record, error) {
	var row recordRow
	err := s.db.GetContext(ctx, &row,
		s.db.Rebind("SELECT "+recordColumns+" FROM executions WHERE id = ? AND tenant_id = ?"), id, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return execution.Record{}, execution.ErrNotFound
	}
	if err != nil {
		return execution.Record{}, fmt.Errorf("get execution %s: %w", id, err)
	}
	return row.record(), nil
}

// List implements execution.Store.
func (s *SQLStore) List(ctx context.Context, tenantID string, page execution.Page) ([]execution.Record, error) {
	page = page.Normalize()

	rows := []recordRow{}
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		"SELECT "+recordColumns+` FROM executions
		WHERE tenant_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`), tenantID, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}

	out := make([]execution.Record, len(rows))
	for i, r := range rows {
		out[i] = r.record()
	}
	return out, nil
}

// Ping implements execution.Store.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements execution.Store.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
