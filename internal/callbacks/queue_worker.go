package callbacks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/platehaus/storefront/internal/circuitbreaker"
	"github.com/platehaus/storefront/internal/logger"
	"github.com/platehaus/storefront/internal/metrics"
	"github.com/platehaus/storefront/internal/observability"
	"github.com/platehaus/storefront/internal/storage"
)

// WorkerOptions configures the delivery worker.
type WorkerOptions struct {
	Store    storage.Store
	Settings SettingsSource
	Sender   *Sender
	Breakers *circuitbreaker.Manager // Optional; nil disables the webhook breaker
	Hooks    *observability.Registry // Optional
	Metrics  *metrics.Metrics        // Optional
	Logger   zerolog.Logger

	BatchSize      int           // Entries fetched per drain (default: 10)
	PollInterval   time.Duration // Background loop period (default: 30s)
	StaleAfter     time.Duration // Requeue processing entries older than this (0 disables)
	DefaultTimeout time.Duration // Attempt timeout when settings have none (default: 30s)
	MaxBackoff     time.Duration // Cap on the retry delay (default: 24h)
}

// DrainResult summarizes one drain.
type DrainResult struct {
	Due       int `json:"due"`
	Delivered int `json:"delivered"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`  // Claimed elsewhere first
	Released  int `json:"released"` // Handed back without an attempt
	Errors    int `json:"errors"`   // Store errors while processing
}

// Worker drains the durable queue. Entries are attempted one at a time, oldest first.
type Worker struct {
	store    storage.Store
	settings SettingsSource
	sender   *Sender
	breakers *circuitbreaker.Manager
	hooks    *observability.Registry
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time

	batchSize      int
	pollInterval   time.Duration
	staleAfter     time.Duration
	defaultTimeout time.Duration
	maxBackoff     time.Duration

	drainMu  sync.Mutex
	notify   chan struct{}
	stopChan chan struct{}
	doneChan chan struct{}
	startMu  sync.Mutex
	started  bool
	stopOnce sync.Once
}

// NewWorker creates a delivery worker.
func NewWorker(opts WorkerOptions) *Worker {
	if opts.BatchSize <= 0 {
		opts.BatchSize = storage.DefaultFetchLimit
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.Sender == nil {
		opts.Sender = NewSender(DefaultUserAgent)
	}

	return &Worker{
		store:          opts.Store,
		settings:       opts.Settings,
		sender:         opts.Sender,
		breakers:       opts.Breakers,
		hooks:          opts.Hooks,
		metrics:        opts.Metrics,
		logger:         opts.Logger.With().Str("component", "webhook_worker").Logger(),
		now:            time.Now,
		batchSize:      opts.BatchSize,
		pollInterval:   opts.PollInterval,
		staleAfter:     opts.StaleAfter,
		defaultTimeout: opts.DefaultTimeout,
		maxBackoff:     opts.MaxBackoff,
		notify:         make(chan struct{}, 1),
		stopChan:       make(chan struct{}),
		doneChan:       make(chan struct{}),
	}
}

// WithClock overrides the worker clock (tests).
func (w *Worker) WithClock(now func() time.Time) *Worker {
	w.now = now
	return w
}

// Start begins the background loop. Calling it twice has no effect.
func (w *Worker) Start(ctx context.Context) {
	w.startMu.Lock()
	defer w.startMu.Unlock()
	if w.started {
		return
	}
	w.started = true
	go w.run(ctx)
}

// Stop ends the background loop and waits for an in-flight drain to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})
	w.startMu.Lock()
	started := w.started
	w.startMu.Unlock()
	if started {
		<-w.doneChan
	}
}

// Close implements io.Closer for the lifecycle manager.
func (w *Worker) Close() error {
	w.Stop()
	return nil
}

// Notify requests a drain as soon as the loop is free. Bursts collapse into one drain.
func (w *Worker) Notify() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.doneChan)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info().
		Dur("poll_interval", w.pollInterval).
		Int("batch_size", w.batchSize).
		Dur("stale_after", w.staleAfter).
		Msg("webhook.worker_started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("webhook.worker_stopped")
			return
		case <-ticker.C:
			w.RequeueStale(ctx)
		case <-w.notify:
		}
		if _, err := w.Drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error().Err(err).Msg("webhook.drain_failed")
		}
	}
}

// RequeueStale returns entries stuck in processing to pending. It is a no-op when
// StaleAfter is zero.
func (w *Worker) RequeueStale(ctx context.Context) int {
	if w.staleAfter <= 0 {
		return 0
	}
	now := w.now().UTC()
	n, err := w.store.RequeueStaleWebhooks(ctx, now.Add(-w.staleAfter), now)
	if err != nil {
		w.logger.Error().Err(err).Msg("webhook.stale_requeue_failed")
		return 0
	}
	if n > 0 {
		w.metrics.ObserveStaleRequeue(n)
		w.logger.Warn().Int("count", n).Dur("stale_after", w.staleAfter).Msg("webhook.stale_requeued")
	}
	return n
}

// Drain attempts every due entry once, oldest first. It returns early with ctx.Err()
// when the context is cancelled between entries.
func (w *Worker) Drain(ctx context.Context) (DrainResult, error) {
	w.drainMu.Lock()
	defer w.drainMu.Unlock()

	start := w.now()
	var result DrainResult

	entries, err := w.store.FetchDueWebhooks(ctx, w.batchSize)
	if err != nil {
		w.metrics.ObserveDrain("error", 0, w.now().Sub(start))
		return result, err
	}
	result.Due = len(entries)

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			w.metrics.ObserveDrain("cancelled", result.Due, w.now().Sub(start))
			return result, err
		}
		w.process(ctx, entry, &result)
	}

	w.metrics.ObserveDrain("ok", result.Due, w.now().Sub(start))
	if result.Due > 0 {
		w.logger.Info().
			Int("due", result.Due).
			Int("delivered", result.Delivered).
			Int("retried", result.Retried).
			Int("failed", result.Failed).
			Int("skipped", result.Skipped).
			Int("released", result.Released).
			Msg("webhook.drain_completed")
	}
	return result, nil
}

// process runs one entry through claim, attempt, transition and log.
func (w *Worker) process(ctx context.Context, entry storage.QueueEntry, result *DrainResult) {
	log := w.logger.With().
		Str("entry_id", entry.ID).
		Str("order_id", entry.OrderID).
		Str("event_type", string(entry.EventType)).
		Logger()

	var settings *storage.WebhookSettings
	if w.settings != nil {
		settings = w.settings.Get(ctx)
	}

	claimed, err := w.store.ClaimWebhook(ctx, entry.ID)
	if err != nil {
		// Claimed by another worker, or cancelled since the fetch.
		if errors.Is(err, storage.ErrAlreadyClaimed) || errors.Is(err, storage.ErrInvalidTransition) {
			result.Skipped++
			log.Debug().Msg("webhook.claim_skipped")
			return
		}
		result.Errors++
		log.Error().Err(err).Msg("webhook.claim_failed")
		return
	}
	attempt := claimed.Attempts + 1

	w.hooks.EmitWebhookClaimed(ctx, observability.WebhookClaimedEvent{
		Timestamp: w.now().UTC(),
		EntryID:   claimed.ID,
		OrderID:   claimed.OrderID,
		EventType: string(claimed.EventType),
		Attempt:   attempt,
	})

	req := Request{
		URL:       claimed.DestinationURL,
		Body:      claimed.Payload,
		EventType: string(claimed.EventType),
		EntryID:   claimed.ID,
		Secret:    signingSecret(settings),
		Timeout:   attemptTimeout(settings, w.defaultTimeout),
	}

	out, open := w.send(ctx, req)
	if open {
		w.release(ctx, claimed, "circuit_open", log, result)
		return
	}
	if !out.Success && ctx.Err() != nil {
		// Shutdown interrupted the attempt; it says nothing about the receiver.
		w.release(context.WithoutCancel(ctx), claimed, "shutdown", log, result)
		return
	}

	w.finish(ctx, claimed, attempt, settings, out, log, result)
}

// send runs the attempt through the webhook breaker. open is true when the breaker
// rejected the call and no request was made.
func (w *Worker) send(ctx context.Context, req Request) (Outcome, bool) {
	out, err := circuitbreaker.Do(w.breakers, circuitbreaker.ServiceWebhook, func() (Outcome, error) {
		out := w.sender.Send(ctx, req)
		if out.tripsBreaker() {
			return out, errReceiverUnhealthy
		}
		return out, nil
	})
	if circuitbreaker.IsOpen(err) {
		return Outcome{}, true
	}
	return out, false
}

func (w *Worker) release(ctx context.Context, entry storage.QueueEntry, reason string, log zerolog.Logger, result *DrainResult) {
	if err := w.store.ReleaseWebhook(ctx, entry.ID, w.now().UTC()); err != nil {
		result.Errors++
		log.Error().Err(err).Str("reason", reason).Msg("webhook.release_failed")
		return
	}
	result.Released++
	w.metrics.ObserveRelease(reason)
	log.Warn().Str("reason", reason).Msg("webhook.released")
}

func (w *Worker) finish(ctx context.Context, entry storage.QueueEntry, attempts int, settings *storage.WebhookSettings, out Outcome, log zerolog.Logger, result *DrainResult) {
	now := w.now().UTC()
	maxAttempts := entry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	redactedURL := logger.RedactURL(entry.DestinationURL)

	switch {
	case out.Success:
		if err := w.store.CompleteWebhook(ctx, entry.ID, now); err != nil {
			result.Errors++
			log.Error().Err(err).Msg("webhook.complete_failed")
		} else {
			result.Delivered++
		}
		w.hooks.EmitWebhookDelivered(ctx, observability.WebhookDeliveredEvent{
			Timestamp:  now,
			EntryID:    entry.ID,
			OrderID:    entry.OrderID,
			EventType:  string(entry.EventType),
			URL:        redactedURL,
			Attempts:   attempts,
			Duration:   out.Duration,
			StatusCode: out.StatusCode,
		})
		log.Info().
			Int("attempts", attempts).
			Int("status", out.StatusCode).
			Dur("duration", out.Duration).
			Msg("webhook.delivered")

	case attempts >= maxAttempts:
		if err := w.store.FailWebhook(ctx, entry.ID, attempts, out.Error, now); err != nil {
			result.Errors++
			log.Error().Err(err).Msg("webhook.fail_failed")
		} else {
			result.Failed++
		}
		w.hooks.EmitWebhookFailed(ctx, observability.WebhookFailedEvent{
			Timestamp:   now,
			EntryID:     entry.ID,
			OrderID:     entry.OrderID,
			EventType:   string(entry.EventType),
			URL:         redactedURL,
			Attempts:    attempts,
			FailureKind: string(out.Kind),
			Error:       out.Error,
			StatusCode:  out.StatusCode,
			Duration:    out.Duration,
		})
		log.Error().
			Int("attempts", attempts).
			Int("max_attempts", maxAttempts).
			Str("failure_kind", string(out.Kind)).
			Int("status", out.StatusCode).
			Str("error", out.Error).
			Msg("webhook.failed")

	default:
		backoff := Backoff(retryDelay(settings), attempts, w.maxBackoff)
		next := now.Add(backoff)
		if err := w.store.RescheduleWebhook(ctx, entry.ID, attempts, out.Error, next, now); err != nil {
			result.Errors++
			log.Error().Err(err).Msg("webhook.reschedule_failed")
		} else {
			result.Retried++
		}
		w.hooks.EmitWebhookRetryScheduled(ctx, observability.WebhookRetryScheduledEvent{
			Timestamp:   now,
			EntryID:     entry.ID,
			OrderID:     entry.OrderID,
			EventType:   string(entry.EventType),
			URL:         redactedURL,
			Attempts:    attempts,
			MaxAttempts: maxAttempts,
			NextRetryAt: next,
			Backoff:     backoff,
			FailureKind: string(out.Kind),
			Error:       out.Error,
			StatusCode:  out.StatusCode,
			Duration:    out.Duration,
		})
		log.Warn().
			Int("attempts", attempts).
			Int("max_attempts", maxAttempts).
			Str("failure_kind", string(out.Kind)).
			Int("status", out.StatusCode).
			Time("next_retry_at", next).
			Str("error", out.Error).
			Msg("webhook.retry_scheduled")
	}

	w.appendLog(ctx, entry, attempts, out, now, log)
}

// appendLog records the attempt. A lost log row is reported but never fails delivery.
func (w *Worker) appendLog(ctx context.Context, entry storage.QueueEntry, attempts int, out Outcome, at time.Time, log zerolog.Logger) {
	row := storage.DeliveryLogEntry{
		QueueEntryID:        entry.ID,
		OrderID:             entry.OrderID,
		DestinationURL:      entry.DestinationURL,
		EventType:           entry.EventType,
		Payload:             entry.Payload,
		ResponseStatus:      out.StatusCode,
		ResponseBodyExcerpt: out.ResponseBody,
		ResponseTimeMs:      out.Duration.Milliseconds(),
		Success:             out.Success,
		ErrorMessage:        out.Error,
		RetryCountAtAttempt: attempts - 1,
		CreatedAt:           at,
	}
	if err := w.store.AppendDeliveryLog(ctx, row); err != nil {
		log.Error().Err(err).Msg("webhook.log_write_failed")
		w.hooks.EmitDeliveryLogWriteFailed(ctx, observability.DeliveryLogWriteFailedEvent{
			Timestamp: at,
			EntryID:   entry.ID,
			OrderID:   entry.OrderID,
			Error:     err.Error(),
		})
	}
}
