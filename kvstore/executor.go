package kvstore

import (
	"context"
	"time"
)

// stmtPing is the liveness statement used by Ping and the keep-alive probe.
const stmtPing = "SELECT 1"

// execute is the sole path to the backing connection. Every statement, user
// operations and schema work and keep-alive probes alike, funnels through
// here so that error handling and keep-alive bookkeeping cannot be
// bypassed.
//
// A non-positive timeout applies the configured default. The returned error
// is ErrClosed, an establishment failure wrapping ErrConnectionFailed, the
// caller's context error, or a *QueryError.
func (s *Store) execute(ctx context.Context, statement string, args []any, timeout time.Duration) ([]Row, error) {
	// Every exit re-arms the keep-alive, success or failure.
	defer s.schedulePing()

	if s.closed.Load() {
		return nil, ErrClosed
	}
	h, err := s.awaitConn(ctx)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = s.queryTimeout
	}
	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.metrics.incQueries()
	rows, err := h.conn.Query(qctx, statement, args...)
	if err != nil {
		qe := asQueryError(err)
		s.metrics.incFailure(qe)
		// The connection manager sees every failure, fatal or not.
		h.onError(qe)
		return nil, qe
	}
	return rows, nil
}
