package metrics

import "time"

// Backend labels for storefront_db_query_duration_seconds.
const (
	BackendPostgres = "postgres"
	BackendMongoDB  = "mongodb"
)

// MeasureDBQuery starts timing one query and returns the func that records it.
// A nil collector returns a no-op so repositories can run unobserved.
//
//	defer metrics.MeasureDBQuery(r.metrics, "mark_paid", metrics.BackendPostgres)()
func MeasureDBQuery(m *Metrics, operation, backend string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() { m.ObserveDBQuery(operation, backend, time.Since(start)) }
}
