// Package dbpool opens PostgreSQL pools and shares one between the webhook store,
// the orders repository and the catalog when they point at the same database.
package dbpool

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/platehaus/storefront/internal/config"
)

// pingTimeout bounds the startup connectivity check.
const pingTimeout = 5 * time.Second

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Open opens a pool, checks it answers within pingTimeout and applies the pool limits.
func Open(ctx context.Context, connectionString string, poolConfig config.PostgresPoolConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	config.ApplyPostgresPoolSettings(db, poolConfig)
	return db, nil
}

// WithTimeout bounds a query by d unless the caller already set a deadline.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// ValidIdentifier reports whether name can be used as a table name.
// Configured names are interpolated into SQL, so only plain identifiers pass.
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// SharedPool is a single pool handed to every postgres-backed component that
// targets the same URL.
type SharedPool struct {
	db  *sql.DB
	url string
}

// NewSharedPool opens the pool the other components will share.
func NewSharedPool(ctx context.Context, connectionString string, poolConfig config.PostgresPoolConfig) (*SharedPool, error) {
	db, err := Open(ctx, connectionString, poolConfig)
	if err != nil {
		return nil, err
	}
	return &SharedPool{db: db, url: connectionString}, nil
}

// DB returns the underlying pool.
func (p *SharedPool) DB() *sql.DB {
	return p.db
}

// DBFor returns the shared pool when url is empty or matches the pool's own URL,
// otherwise nil so the caller opens its own connection.
func (p *SharedPool) DBFor(url string) *sql.DB {
	if p == nil {
		return nil
	}
	if url == "" || url == p.url {
		return p.db
	}
	return nil
}

// Close closes the pool. Safe to call more than once.
func (p *SharedPool) Close() error {
	return p.db.Close()
}
