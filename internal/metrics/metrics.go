package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the storefront webhook pipeline.
// All Observe methods are safe to call on a nil *Metrics.
type Metrics struct {
	// Queue metrics
	WebhooksEnqueuedTotal *prometheus.CounterVec
	WebhooksReleasedTotal *prometheus.CounterVec
	StaleRequeuedTotal    prometheus.Counter
	QueueDueEntries       prometheus.Gauge

	// Delivery metrics
	WebhookAttemptsTotal  *prometheus.CounterVec
	WebhookFailuresTotal  *prometheus.CounterVec
	WebhookDuration       *prometheus.HistogramVec
	LogWriteFailuresTotal prometheus.Counter

	// Worker metrics
	DrainsTotal   *prometheus.CounterVec
	DrainDuration prometheus.Histogram

	// Trigger metrics
	TriggersTotal     *prometheus.CounterVec
	PaymentLinksTotal *prometheus.CounterVec
	StripeEventsTotal *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitHitsTotal *prometheus.CounterVec

	// Circuit breaker state per outbound service: 0 closed, 1 half-open, 2 open
	CircuitBreakerState *prometheus.GaugeVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		WebhooksEnqueuedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_webhooks_enqueued_total",
				Help: "Total number of webhook queue entries created",
			},
			[]string{"event_type"},
		),
		WebhooksReleasedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_webhooks_released_total",
				Help: "Claimed entries returned to pending without an HTTP attempt",
			},
			[]string{"reason"},
		),
		StaleRequeuedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "storefront_webhooks_stale_requeued_total",
				Help: "Entries moved from processing back to pending after a worker stopped mid-attempt",
			},
		),
		QueueDueEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "storefront_webhook_queue_due_entries",
				Help: "Due entries fetched by the most recent drain",
			},
		),

		WebhookAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_webhook_attempts_total",
				Help: "Webhook delivery attempts by outcome (delivered, retry_scheduled, failed)",
			},
			[]string{"event_type", "outcome"},
		),
		WebhookFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_webhook_failures_total",
				Help: "Failed webhook attempts by failure kind (network, timeout, http_status, local)",
			},
			[]string{"event_type", "kind"},
		),
		WebhookDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storefront_webhook_duration_seconds",
				Help:    "Time taken for a single webhook HTTP attempt",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"event_type"},
		),
		LogWriteFailuresTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "storefront_webhook_log_write_failures_total",
				Help: "Delivery log rows that could not be written",
			},
		),

		DrainsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_webhook_drains_total",
				Help: "Total number of queue drains",
			},
			[]string{"result"},
		),
		DrainDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "storefront_webhook_drain_duration_seconds",
				Help:    "Wall time of a single queue drain",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
		),

		TriggersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_webhook_triggers_total",
				Help: "Webhook trigger calls by result (queued, skipped, failed)",
			},
			[]string{"event_type", "result"},
		),
		PaymentLinksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_payment_links_total",
				Help: "Payment link creation attempts",
			},
			[]string{"created_via", "status"},
		),
		StripeEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_stripe_events_total",
				Help: "Stripe webhook events received",
			},
			[]string{"event_type", "status"},
		),

		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_rate_limit_hits_total",
				Help: "Total number of rate limit hits",
			},
			[]string{"limit_type"},
		),

		CircuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "storefront_circuit_breaker_state",
				Help: "Circuit breaker state per outbound service (0 closed, 1 half-open, 2 open)",
			},
			[]string{"service"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storefront_db_query_duration_seconds",
				Help:    "Database query duration (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"operation", "backend"},
		),
	}
}

// ObserveEnqueue records a new queue entry.
func (m *Metrics) ObserveEnqueue(eventType string) {
	if m == nil {
		return
	}
	m.WebhooksEnqueuedTotal.WithLabelValues(eventType).Inc()
}

// ObserveAttempt records one HTTP delivery attempt. failureKind is empty for delivered attempts.
func (m *Metrics) ObserveAttempt(eventType, outcome, failureKind string, duration time.Duration) {
	if m == nil {
		return
	}
	m.WebhookAttemptsTotal.WithLabelValues(eventType, outcome).Inc()
	if failureKind != "" {
		m.WebhookFailuresTotal.WithLabelValues(eventType, failureKind).Inc()
	}
	if duration > 0 {
		m.WebhookDuration.WithLabelValues(eventType).Observe(duration.Seconds())
	}
}

// ObserveRelease records a claim handed back without an attempt.
func (m *Metrics) ObserveRelease(reason string) {
	if m == nil {
		return
	}
	m.WebhooksReleasedTotal.WithLabelValues(reason).Inc()
}

// ObserveStaleRequeue records entries recovered from a stuck processing state.
func (m *Metrics) ObserveStaleRequeue(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.StaleRequeuedTotal.Add(float64(count))
}

// ObserveLogWriteFailure records a delivery log row that was lost.
func (m *Metrics) ObserveLogWriteFailure() {
	if m == nil {
		return
	}
	m.LogWriteFailuresTotal.Inc()
}

// ObserveDrain records a finished drain and the number of due entries it saw.
func (m *Metrics) ObserveDrain(result string, due int, duration time.Duration) {
	if m == nil {
		return
	}
	m.DrainsTotal.WithLabelValues(result).Inc()
	m.QueueDueEntries.Set(float64(due))
	m.DrainDuration.Observe(duration.Seconds())
}

// ObserveTrigger records the result of a webhook trigger.
func (m *Metrics) ObserveTrigger(eventType, result string) {
	if m == nil {
		return
	}
	m.TriggersTotal.WithLabelValues(eventType, result).Inc()
}

// ObservePaymentLink records a payment link creation attempt.
func (m *Metrics) ObservePaymentLink(createdVia string, success bool) {
	if m == nil {
		return
	}
	m.PaymentLinksTotal.WithLabelValues(createdVia, statusLabel(success)).Inc()
}

// ObserveStripeEvent records an inbound Stripe event.
func (m *Metrics) ObserveStripeEvent(eventType string, success bool) {
	if m == nil {
		return
	}
	m.StripeEventsTotal.WithLabelValues(eventType, statusLabel(success)).Inc()
}

// ObserveRateLimit records a rate limit hit.
func (m *Metrics) ObserveRateLimit(limitType string) {
	if m == nil {
		return
	}
	m.RateLimitHitsTotal.WithLabelValues(limitType).Inc()
}

// ObserveBreakerState records the state a breaker just moved to.
func (m *Metrics) ObserveBreakerState(service string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// ObserveDBQuery records a database query.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "failed"
}
