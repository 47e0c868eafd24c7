package storage

import (
	"context"
	"time"
)

const (
	// DefaultQueryTimeout bounds a single queue, log or settings query.
	DefaultQueryTimeout = 5 * time.Second

	// SchemaTimeout bounds table and index creation at startup, which may wait on locks.
	SchemaTimeout = 30 * time.Second
)

// withQueryTimeout applies DefaultQueryTimeout unless the caller already set a deadline.
func withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return withDeadline(ctx, DefaultQueryTimeout)
}

// withSchemaTimeout is withQueryTimeout for DDL.
func withSchemaTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return withDeadline(ctx, SchemaTimeout)
}

func withDeadline(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
