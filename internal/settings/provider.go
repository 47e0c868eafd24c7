// Package settings exposes the webhook settings row as immutable per-call snapshots.
package settings

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/platehaus/storefront/internal/config"
	"github.com/platehaus/storefront/internal/storage"
)

// Store is the subset of storage.Store the provider needs.
type Store interface {
	GetWebhookSettings(ctx context.Context) (storage.WebhookSettings, error)
	SaveWebhookSettings(ctx context.Context, settings storage.WebhookSettings) error
}

// Update names the fields to overwrite. Nil fields are left unchanged.
type Update struct {
	Enabled             *bool   `json:"enabled,omitempty"`
	DestinationURL      *string `json:"destinationUrl,omitempty"`
	SigningSecret       *string `json:"signingSecret,omitempty"`
	TimeoutSeconds      *int    `json:"timeoutSeconds,omitempty"`
	RetryAttempts       *int    `json:"retryAttempts,omitempty"`
	RetryDelaySeconds   *int    `json:"retryDelaySeconds,omitempty"`
	IncludeCustomerData *bool   `json:"includeCustomerData,omitempty"`
	IncludeOrderItems   *bool   `json:"includeOrderItems,omitempty"`
	IncludePricingData  *bool   `json:"includePricingData,omitempty"`
	IncludeShippingData *bool   `json:"includeShippingData,omitempty"`
}

// IsEmpty reports whether the update names no field at all.
func (u Update) IsEmpty() bool {
	return u == Update{}
}

func (u Update) apply(s *storage.WebhookSettings) {
	if u.Enabled != nil {
		s.Enabled = *u.Enabled
	}
	if u.DestinationURL != nil {
		s.DestinationURL = *u.DestinationURL
	}
	if u.SigningSecret != nil {
		s.SigningSecret = *u.SigningSecret
	}
	if u.TimeoutSeconds != nil {
		s.TimeoutSeconds = *u.TimeoutSeconds
	}
	if u.RetryAttempts != nil {
		s.RetryAttempts = *u.RetryAttempts
	}
	if u.RetryDelaySeconds != nil {
		s.RetryDelaySeconds = *u.RetryDelaySeconds
	}
	if u.IncludeCustomerData != nil {
		s.IncludeCustomerData = *u.IncludeCustomerData
	}
	if u.IncludeOrderItems != nil {
		s.IncludeOrderItems = *u.IncludeOrderItems
	}
	if u.IncludePricingData != nil {
		s.IncludePricingData = *u.IncludePricingData
	}
	if u.IncludeShippingData != nil {
		s.IncludeShippingData = *u.IncludeShippingData
	}
}

// Provider reads and writes the webhook settings row. It never returns storage errors
// to callers: a nil snapshot means delivery is disabled.
type Provider struct {
	store  Store
	logger zerolog.Logger
	now    func() time.Time

	// mu serializes read-modify-write in Update and EnsureDefaults.
	mu sync.Mutex
}

// NewProvider creates a settings provider over store.
func NewProvider(store Store, logger zerolog.Logger) *Provider {
	return &Provider{
		store:  store,
		logger: logger.With().Str("component", "webhook_settings").Logger(),
		now:    time.Now,
	}
}

// WithClock overrides the clock used for UpdatedAt.
func (p *Provider) WithClock(now func() time.Time) *Provider {
	p.now = now
	return p
}

// Get returns a fresh snapshot of the settings, or nil when the row is missing or unreadable.
func (p *Provider) Get(ctx context.Context) *storage.WebhookSettings {
	s, err := p.store.GetWebhookSettings(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			p.logger.Debug().Msg("webhook_settings.missing")
		} else {
			p.logger.Warn().Err(err).Msg("webhook_settings.read_failed")
		}
		return nil
	}
	return &s
}

// Update overwrites the named fields and stamps UpdatedAt. A missing row is created
// from zero values. Returns false on any failure.
func (p *Provider) Update(ctx context.Context, u Update) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Msg("webhook_settings.update_panicked")
			ok = false
		}
	}()

	p.mu.Lock()
	defer p.mu.Unlock()

	current, err := p.store.GetWebhookSettings(ctx)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		p.logger.Warn().Err(err).Msg("webhook_settings.update_read_failed")
		return false
	}

	u.apply(&current)
	current.UpdatedAt = p.now().UTC()

	if err := p.store.SaveWebhookSettings(ctx, current); err != nil {
		p.logger.Warn().Err(err).Msg("webhook_settings.update_failed")
		return false
	}
	p.logger.Info().
		Bool("enabled", current.Enabled).
		Bool("has_secret", current.SigningSecret != "").
		Msg("webhook_settings.updated")
	return true
}

// EnsureDefaults provisions the row from defaults when none exists yet.
// An existing row is never overwritten. Returns false on any failure.
func (p *Provider) EnsureDefaults(ctx context.Context, defaults storage.WebhookSettings) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, err := p.store.GetWebhookSettings(ctx)
	if err == nil {
		return true
	}
	if !errors.Is(err, storage.ErrNotFound) {
		p.logger.Warn().Err(err).Msg("webhook_settings.provision_read_failed")
		return false
	}

	defaults.UpdatedAt = p.now().UTC()
	if err := p.store.SaveWebhookSettings(ctx, defaults); err != nil {
		p.logger.Warn().Err(err).Msg("webhook_settings.provision_failed")
		return false
	}
	p.logger.Info().Bool("enabled", defaults.Enabled).Msg("webhook_settings.provisioned")
	return true
}

// FromConfig converts the configured defaults into a settings row.
func FromConfig(d config.SettingsDefaults) storage.WebhookSettings {
	return storage.WebhookSettings{
		Enabled:             d.Enabled,
		DestinationURL:      d.DestinationURL,
		SigningSecret:       d.SigningSecret,
		TimeoutSeconds:      d.TimeoutSeconds,
		RetryAttempts:       d.RetryAttempts,
		RetryDelaySeconds:   d.RetryDelaySeconds,
		IncludeCustomerData: d.IncludeCustomerData,
		IncludeOrderItems:   d.IncludeOrderItems,
		IncludePricingData:  d.IncludePricingData,
		IncludeShippingData: d.IncludeShippingData,
	}
}

// Validate rejects values that can never produce a working delivery.
// Reachability of DestinationURL is not checked.
func (u Update) Validate() error {
	if u.TimeoutSeconds != nil && *u.TimeoutSeconds < 0 {
		return errors.New("timeoutSeconds must not be negative")
	}
	if u.RetryAttempts != nil && *u.RetryAttempts < 0 {
		return errors.New("retryAttempts must not be negative")
	}
	if u.RetryDelaySeconds != nil && *u.RetryDelaySeconds < 0 {
		return errors.New("retryDelaySeconds must not be negative")
	}
	return nil
}
