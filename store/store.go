// Package store implements execution.Store backends: an in-memory store for
// tests and single-process use, and a SQL store for PostgreSQL and SQLite.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hupe1980/agentplatform/execution"
	"github.com/hupe1980/agentplatform/logging"
)

// Options configures a store.
type Options struct {
	// Now supplies creation and completion timestamps.
	Now func() time.Time

	// NewID generates record ids.
	NewID func() string

	Logger logging.Logger
}

func defaultOptions() Options {
	return Options{
		Now:   time.Now,
		NewID: uuid.NewString,
	}
}

func buildOptions(optFns []func(o *Options)) Options {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	opts.Logger = logging.OrNoOp(opts.Logger).With("component", "store")
	return opts
}

// timestamp normalizes t to the precision every backend can round-trip.
func timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// Migrator is implemented by stores that manage a schema.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// Open returns the store selected by a database URL:
//
//	"" or "memory"                 in-memory store
//	postgres://... postgresql://...  PostgreSQL
//	sqlite://path                  SQLite file at path
func Open(ctx context.Context, databaseURL string, optFns ...func(o *Options)) (execution.Store, error) {
	switch {
	case databaseURL == "" || databaseURL == "memory" || databaseURL == "memory://":
		return NewMemoryStore(optFns...), nil
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return NewPostgresStore(ctx, databaseURL, optFns...)
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return NewSQLiteStore(ctx, strings.TrimPrefix(databaseURL, "sqlite://"), optFns...)
	default:
		return nil, fmt.Errorf("unsupported database url scheme in %q", redact(databaseURL))
	}
}

// redact hides credentials in a URL for error messages and logs.
func redact(databaseURL string) string {
	scheme, rest, ok := strings.Cut(databaseURL, "://")
	if !ok {
		return databaseURL
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		return scheme + "://***@" + rest[at+1:]
	}
	return databaseURL
}
