package kvstore

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// connFuture is the pending "next usable connection". It resolves at most
// once; recovery replaces the store's current future rather than mutating
// it, so an operation that captured a future always observes that future's
// own outcome. failed flips once the establishment error has been delivered
// to at least one awaiter.
type connFuture struct {
	done   chan struct{}
	handle *connHandle
	err    error
	failed atomic.Bool
}

// connHandle pairs one physical connection with the error sink installed at
// creation time. Handle identity is what makes connection replacement
// happen exactly once per fatal fault.
type connHandle struct {
	conn    Conn
	onError func(error)
}

// resolvedTo reports whether the future has resolved to exactly this handle.
func (f *connFuture) resolvedTo(h *connHandle) bool {
	select {
	case <-f.done:
		return f.handle == h
	default:
		return false
	}
}

// connect creates the next connection future and resolves it in the
// background. An establishment failure is logged here, because the future
// may have no awaiter yet, and is still delivered to every awaiter. There
// is no automatic retry.
func (s *Store) connect() *connFuture {
	fut := &connFuture{done: make(chan struct{})}
	go func() {
		defer close(fut.done)
		conn, err := s.driver.Connect(context.Background())
		if err != nil {
			log.Error().Err(err).Msg("kvstore: connecting to backing store failed")
			fut.err = err
			return
		}
		if s.closed.Load() {
			// Shutdown raced the dial; the fresh connection is not needed.
			_ = conn.Close()
			fut.err = ErrClosed
			return
		}
		h := &connHandle{conn: conn}
		h.onError = func(qerr error) { s.handleError(h, qerr) }
		fut.handle = h
		s.metrics.setConnected(true)
		s.schedulePing()
		log.Info().Msg("kvstore: connected to backing store")
	}()
	return fut
}

// currentFuture returns the future an operation must await. Each operation
// captures exactly one future reference.
func (s *Store) currentFuture() *connFuture {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// awaitConn suspends until the captured future resolves or the caller's
// context ends.
func (s *Store) awaitConn(ctx context.Context) (*connHandle, error) {
	fut := s.currentFuture()
	select {
	case <-fut.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if fut.err != nil {
		fut.failed.Store(true)
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, fut.err)
	}
	return fut.handle, nil
}

// redialFailed replaces a future whose establishment error some caller has
// already received. Only Init calls it: a failed dial is never retried
// behind the callers' backs, but an explicit re-Init after a surfaced
// failure is the caller asking for a fresh attempt.
func (s *Store) redialFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return
	}
	if s.cur.failed.Load() {
		s.cur = s.connect()
	}
}

// handleError receives every driver-reported failure, fatal or not.
// Statement-scoped errors change no state. A fatal fault replaces the
// connection future, and only while the failing handle is still the current
// one: every later failure in flight on the same stale connection finds the
// future already swapped and becomes a no-op here.
func (s *Store) handleError(h *connHandle, err error) {
	qe := asQueryError(err)
	if !qe.Fatal {
		log.Warn().Err(qe.Err).Bool("timeout", qe.Timeout).Msg("kvstore: query error")
		return
	}
	s.mu.Lock()
	if s.closed.Load() || !s.cur.resolvedTo(h) {
		s.mu.Unlock()
		return
	}
	// The gauge must drop before the replacement dial can raise it again.
	s.metrics.setConnected(false)
	s.cur = s.connect()
	s.mu.Unlock()

	log.Error().Err(qe.Err).Bool("timeout", qe.Timeout).Msg("kvstore: fatal connection error, replacing connection")
	s.metrics.incReconnects()
	// Best-effort close of the superseded connection.
	go func() { _ = h.conn.Close() }()
}

// schedulePing arms the keep-alive timer, cancelling any pending one first.
// There is never more than one pending probe.
func (s *Store) schedulePing() {
	s.pingMu.Lock()
	defer s.pingMu.Unlock()
	if s.pingTimer != nil {
		s.pingTimer.Stop()
		s.pingTimer = nil
	}
	if s.pingInterval <= 0 || s.closed.Load() {
		return
	}
	s.pingTimer = time.AfterFunc(s.pingInterval, s.keepAlive)
}

// clearPing cancels the pending keep-alive probe, if any.
func (s *Store) clearPing() {
	s.pingMu.Lock()
	defer s.pingMu.Unlock()
	if s.pingTimer != nil {
		s.pingTimer.Stop()
		s.pingTimer = nil
	}
}

// keepAlive issues the liveness statement and discards the outcome: a probe
// has no caller to report to, and the executor already routes its errors
// through the usual handling, so a dead connection still gets replaced.
func (s *Store) keepAlive() {
	s.metrics.incKeepAlives()
	ctx, cancel := context.WithTimeout(context.Background(), s.queryTimeout)
	defer cancel()
	_, _ = s.execute(ctx, stmtPing, nil, 0)
}
