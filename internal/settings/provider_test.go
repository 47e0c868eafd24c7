package settings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/platehaus/storefront/internal/config"
	"github.com/platehaus/storefront/internal/storage"
)

type failingStore struct {
	getErr  error
	saveErr error
	panics  bool
}

func (f *failingStore) GetWebhookSettings(context.Context) (storage.WebhookSettings, error) {
	if f.panics {
		panic("boom")
	}
	return storage.WebhookSettings{}, f.getErr
}

func (f *failingStore) SaveWebhookSettings(context.Context, storage.WebhookSettings) error {
	return f.saveErr
}

func boolPtr(v bool) *bool    { return &v }
func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func TestGetReturnsNilWhenMissing(t *testing.T) {
	p := NewProvider(storage.NewMemoryStore(), zerolog.Nop())
	if got := p.Get(context.Background()); got != nil {
		t.Fatalf("expected nil settings, got %+v", got)
	}
}

func TestGetReturnsNilOnStorageError(t *testing.T) {
	p := NewProvider(&failingStore{getErr: errors.New("connection refused")}, zerolog.Nop())
	if got := p.Get(context.Background()); got != nil {
		t.Fatalf("expected nil settings, got %+v", got)
	}
}

func TestGetReturnsIndependentSnapshots(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	if err := store.SaveWebhookSettings(ctx, storage.WebhookSettings{Enabled: true, DestinationURL: "https://hooks.example.com/a"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	p := NewProvider(store, zerolog.Nop())
	first := p.Get(ctx)
	first.DestinationURL = "mutated"

	second := p.Get(ctx)
	if second.DestinationURL != "https://hooks.example.com/a" {
		t.Fatalf("snapshot mutation leaked: %q", second.DestinationURL)
	}
}

func TestUpdateOverwritesOnlyNamedFields(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	initial := storage.WebhookSettings{
		Enabled:           true,
		DestinationURL:    "https://hooks.example.com/a",
		SigningSecret:     "s1",
		TimeoutSeconds:    30,
		RetryAttempts:     3,
		RetryDelaySeconds: 60,
		IncludeOrderItems: true,
	}
	if err := store.SaveWebhookSettings(ctx, initial); err != nil {
		t.Fatalf("save: %v", err)
	}

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := NewProvider(store, zerolog.Nop()).WithClock(func() time.Time { return at })

	ok := p.Update(ctx, Update{SigningSecret: strPtr("s2"), TimeoutSeconds: intPtr(5), IncludeOrderItems: boolPtr(false)})
	if !ok {
		t.Fatal("expected update to succeed")
	}

	got := p.Get(ctx)
	if got.SigningSecret != "s2" || got.TimeoutSeconds != 5 || got.IncludeOrderItems {
		t.Errorf("named fields not applied: %+v", got)
	}
	if got.DestinationURL != initial.DestinationURL || got.RetryAttempts != 3 || got.RetryDelaySeconds != 60 || !got.Enabled {
		t.Errorf("unnamed fields changed: %+v", got)
	}
	if !got.UpdatedAt.Equal(at) {
		t.Errorf("expected UpdatedAt %v, got %v", at, got.UpdatedAt)
	}
}

func TestUpdateCreatesMissingRow(t *testing.T) {
	p := NewProvider(storage.NewMemoryStore(), zerolog.Nop())
	ctx := context.Background()

	if !p.Update(ctx, Update{Enabled: boolPtr(true), DestinationURL: strPtr("https://hooks.example.com/new")}) {
		t.Fatal("expected update to succeed")
	}
	got := p.Get(ctx)
	if got == nil || !got.Configured() {
		t.Fatalf("expected configured settings, got %+v", got)
	}
}

func TestUpdateReturnsFalseOnFailure(t *testing.T) {
	tests := []struct {
		name  string
		store *failingStore
	}{
		{name: "read error", store: &failingStore{getErr: errors.New("timeout")}},
		{name: "save error", store: &failingStore{getErr: storage.ErrNotFound, saveErr: errors.New("read-only")}},
		{name: "panic", store: &failingStore{panics: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProvider(tt.store, zerolog.Nop())
			if p.Update(context.Background(), Update{Enabled: boolPtr(true)}) {
				t.Fatal("expected update to fail")
			}
		})
	}
}

func TestEnsureDefaultsNeverOverwrites(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	p := NewProvider(store, zerolog.Nop())

	defaults := FromConfig(config.SettingsDefaults{
		Enabled:           true,
		DestinationURL:    "https://hooks.example.com/default",
		TimeoutSeconds:    30,
		RetryAttempts:     3,
		RetryDelaySeconds: 60,
	})
	if !p.EnsureDefaults(ctx, defaults) {
		t.Fatal("expected provisioning to succeed")
	}
	if !p.Update(ctx, Update{DestinationURL: strPtr("https://hooks.example.com/admin")}) {
		t.Fatal("expected update to succeed")
	}
	if !p.EnsureDefaults(ctx, defaults) {
		t.Fatal("expected second provisioning to be a no-op success")
	}

	if got := p.Get(ctx).DestinationURL; got != "https://hooks.example.com/admin" {
		t.Errorf("defaults overwrote admin change: %q", got)
	}
}

func TestUpdateValidate(t *testing.T) {
	if err := (Update{TimeoutSeconds: intPtr(-1)}).Validate(); err == nil {
		t.Error("expected negative timeout to be rejected")
	}
	if err := (Update{RetryAttempts: intPtr(0), DestinationURL: strPtr("not a url")}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !(Update{}).IsEmpty() {
		t.Error("expected empty update")
	}
}
