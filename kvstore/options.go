package kvstore

import "time"

// StoreOption is a type for functions that configure a Store.
// These functions are intended to be used with the New function
// to create a customized Store instance.
type StoreOption func(s *Store)

// WithQueryTimeoutOption returns a StoreOption that sets the default
// per-statement timeout. Individual statements may still run under a wider
// deadline, such as schema migrations.
//
// Example:
//
//	New(driver, WithQueryTimeoutOption(30*time.Second))
func WithQueryTimeoutOption(d time.Duration) StoreOption {
	return func(s *Store) {
		s.queryTimeout = d
	}
}

// WithPingIntervalOption returns a StoreOption that sets the keep-alive
// interval. The keep-alive timer is re-armed after every statement, so the
// liveness probe only fires on an idle connection. A non-positive interval
// disables the keep-alive.
//
// Example:
//
//	New(driver, WithPingIntervalOption(time.Minute))
func WithPingIntervalOption(d time.Duration) StoreOption {
	return func(s *Store) {
		s.pingInterval = d
	}
}

// WithBulkLimitOption returns a StoreOption that caps how many rows a single
// bulk statement may carry. Batches above the cap are rejected with
// ErrBatchTooLarge rather than split implicitly.
//
// Example:
//
//	New(driver, WithBulkLimitOption(500))
func WithBulkLimitOption(n int) StoreOption {
	return func(s *Store) {
		s.bulkLimit = n
	}
}

// WithTableOption returns a StoreOption that sets the backing table name.
//
// Example:
//
//	New(driver, WithTableOption("sessions"))
func WithTableOption(table string) StoreOption {
	return func(s *Store) {
		s.table = table
	}
}

// WithEngineOption returns a StoreOption that sets the storage engine used
// when Init creates the backing table.
func WithEngineOption(engine string) StoreOption {
	return func(s *Store) {
		s.engine = engine
	}
}

// WithCharsetOption returns a StoreOption that sets the character set used
// for the backing table's columns. It should match the character set the
// driver connects with; comparisons always use the binary collation of the
// configured set.
//
// Example:
//
//	New(driver, WithCharsetOption("utf8mb4"))
func WithCharsetOption(charset string) StoreOption {
	return func(s *Store) {
		s.charset = charset
	}
}

// WithMetricsOption returns a StoreOption that attaches Prometheus
// collectors to the store.
//
// Example:
//
//	m := RegisterMetrics(prometheus.DefaultRegisterer)
//	New(driver, WithMetricsOption(m))
func WithMetricsOption(m *Metrics) StoreOption {
	return func(s *Store) {
		s.metrics = m
	}
}
