package dbpool

import (
	"context"
	"database/sql"
	"testing"
	"time"
)

func TestSharedPool_DBFor(t *testing.T) {
	db := &sql.DB{}
	p := &SharedPool{db: db, url: "postgres://shop"}

	tests := []struct {
		name string
		url  string
		want *sql.DB
	}{
		{"empty url shares", "", db},
		{"same url shares", "postgres://shop", db},
		{"other url opens its own", "postgres://catalog", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.DBFor(tt.url); got != tt.want {
				t.Errorf("DBFor(%q) = %p, want %p", tt.url, got, tt.want)
			}
		})
	}

	var nilPool *SharedPool
	if nilPool.DBFor("") != nil {
		t.Error("nil pool must return nil")
	}
}

func TestValidIdentifier(t *testing.T) {
	tests := map[string]bool{
		"orders":               true,
		"shop_orders_2024":     true,
		"_private":             true,
		"":                     false,
		"2orders":              false,
		"orders; DROP TABLE x": false,
		"public.orders":        false,
	}
	for name, want := range tests {
		if got := ValidIdentifier(name); got != want {
			t.Errorf("ValidIdentifier(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestWithTimeout_KeepsCallerDeadline(t *testing.T) {
	parent, cancel := context.WithTimeout(context.Background(), time.Hour)
	defer cancel()

	ctx, done := WithTimeout(parent, time.Millisecond)
	defer done()
	if ctx != parent {
		t.Error("expected the caller's context to be reused")
	}

	ctx, done = WithTimeout(context.Background(), time.Minute)
	defer done()
	if _, ok := ctx.Deadline(); !ok {
		t.Error("expected a deadline to be added")
	}
}
