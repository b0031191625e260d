package kvstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Defaults for the tunables exposed through store options.
const (
	DefaultQueryTimeout = 60 * time.Second
	DefaultPingInterval = 10 * time.Second
	DefaultBulkLimit    = 100
	DefaultTable        = "kv"
	DefaultEngine       = "InnoDB"
	DefaultCharset      = "utf8mb4"
)

// Store is a key-value store backed by a MySQL-compatible database reached
// over a single long-lived connection. It is thread-safe. Fatal connection
// faults replace the connection in the background; the failed operation
// itself is reported to its caller and never retried by the store.
type Store struct {
	driver       Driver
	table        string
	engine       string
	charset      string
	queryTimeout time.Duration
	pingInterval time.Duration
	bulkLimit    int
	metrics      *Metrics

	stmtGet    string
	stmtSet    string
	stmtRemove string
	stmtFind   string

	mu  sync.Mutex
	cur *connFuture

	pingMu    sync.Mutex
	pingTimer *time.Timer

	closed atomic.Bool
}

// New initializes a new Store over the given driver with optional
// configurations and begins establishing the connection in the background.
// Establishment failures surface on Init or on the first operation, never
// from New itself.
func New(driver Driver, options ...StoreOption) (*Store, error) {
	if driver == nil {
		return nil, fmt.Errorf("kvstore.New: driver cannot be nil")
	}
	store := &Store{
		driver:       driver,
		table:        DefaultTable,
		engine:       DefaultEngine,
		charset:      DefaultCharset,
		queryTimeout: DefaultQueryTimeout,
		pingInterval: DefaultPingInterval,
		bulkLimit:    DefaultBulkLimit,
	}

	for _, opt := range options {
		opt(store)
	}

	if err := store.validateConfig(); err != nil {
		return nil, err
	}
	store.buildStatements()
	store.mu.Lock()
	store.cur = store.connect()
	store.mu.Unlock()
	return store, nil
}

func (s *Store) validateConfig() error {
	if s.table == "" {
		return fmt.Errorf("kvstore.New: table cannot be empty")
	}
	if s.engine == "" {
		return fmt.Errorf("kvstore.New: engine cannot be empty")
	}
	if s.charset == "" {
		return fmt.Errorf("kvstore.New: charset cannot be empty")
	}
	if s.queryTimeout <= 0 {
		return fmt.Errorf("kvstore.New: query timeout must be positive")
	}
	if s.bulkLimit <= 0 {
		return fmt.Errorf("kvstore.New: bulk limit must be positive")
	}
	return nil
}

func (s *Store) buildStatements() {
	table := "`" + s.table + "`"
	s.stmtGet = "SELECT `value` FROM " + table + " WHERE `key` = ?"
	s.stmtSet = "REPLACE INTO " + table + " (`key`, `value`) VALUES (?, ?)"
	s.stmtRemove = "DELETE FROM " + table + " WHERE `key` = ?"
	s.stmtFind = "SELECT `key` FROM " + table + " WHERE `key` LIKE ?"
}

// Close cancels the keep-alive and releases the connection, waiting for a
// dial still in flight to settle first. Operations issued after Close fail
// with ErrClosed.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.clearPing()

	fut := s.currentFuture()
	<-fut.done
	s.metrics.setConnected(false)
	if fut.handle != nil {
		return fut.handle.conn.Close()
	}
	return nil
}

// Get retrieves the value stored for a key. The boolean reports whether the
// key was present: an empty stored value is distinct from an absent key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	rows, err := s.execute(ctx, s.stmtGet, []any{key}, 0)
	if err != nil {
		return "", false, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return "", false, nil
	}
	return rows[0][0], true, nil
}

// Set stores a key-value pair, overwriting any previous value. Keys wider
// than MaxKeyLength are rejected before any statement is issued.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if !KeyValid(key) {
		return fmt.Errorf("%w: key is %d bytes, limit is %d", ErrKeyTooLong, len(key), MaxKeyLength)
	}
	_, err := s.execute(ctx, s.stmtSet, []any{key, value}, 0)
	return err
}

// Remove deletes a key and its value. Removing an absent key is a no-op.
func (s *Store) Remove(ctx context.Context, key string) error {
	_, err := s.execute(ctx, s.stmtRemove, []any{key}, 0)
	return err
}

// FindKeys returns the keys matching a '*' glob pattern, minus those
// matching the optional exclusion pattern. All non-wildcard bytes match
// literally. Result order follows the backing index, not insertion order.
func (s *Store) FindKeys(ctx context.Context, pattern, excludePattern string) ([]string, error) {
	stmt := s.stmtFind
	args := []any{globToLike(pattern)}
	if excludePattern != "" {
		stmt += " AND `key` NOT LIKE ?"
		args = append(args, globToLike(excludePattern))
	}
	rows, err := s.execute(ctx, stmt, args, 0)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(rows))
	for _, row := range rows {
		if len(row) > 0 {
			keys = append(keys, row[0])
		}
	}
	return keys, nil
}

// DoBulk applies a batch of operations as one multi-row upsert and one
// multi-key delete, issued concurrently. The two statements carry no
// ordering guarantee between each other, so a batch that sets and removes
// the same key races. Both statements are awaited even when one fails; the
// first failure is reported.
func (s *Store) DoBulk(ctx context.Context, ops []Operation) error {
	upserts, removals, err := partitionOps(ops)
	if err != nil {
		return err
	}
	for _, op := range upserts {
		if !KeyValid(op.Key) {
			return fmt.Errorf("%w: key is %d bytes, limit is %d", ErrKeyTooLong, len(op.Key), MaxKeyLength)
		}
	}
	if len(upserts) > s.bulkLimit || len(removals) > s.bulkLimit {
		return fmt.Errorf("%w: %d upserts and %d removals, limit is %d rows per statement",
			ErrBatchTooLarge, len(upserts), len(removals), s.bulkLimit)
	}

	// A plain group rather than errgroup.WithContext: a failure in one
	// statement must not cancel the other mid-flight.
	var group errgroup.Group
	if len(upserts) > 0 {
		stmt, args := s.bulkUpsertStatement(upserts)
		group.Go(func() error {
			_, err := s.execute(ctx, stmt, args, 0)
			return err
		})
	}
	if len(removals) > 0 {
		stmt, args := s.bulkDeleteStatement(removals)
		group.Go(func() error {
			_, err := s.execute(ctx, stmt, args, 0)
			return err
		})
	}
	return group.Wait()
}

func (s *Store) bulkUpsertStatement(ops []Operation) (string, []any) {
	var b strings.Builder
	b.WriteString("REPLACE INTO `" + s.table + "` (`key`, `value`) VALUES ")
	args := make([]any, 0, len(ops)*2)
	for i, op := range ops {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?)")
		args = append(args, op.Key, op.Value)
	}
	return b.String(), args
}

func (s *Store) bulkDeleteStatement(keys []string) (string, []any) {
	var b strings.Builder
	b.WriteString("DELETE FROM `" + s.table + "` WHERE `key` IN (")
	args := make([]any, 0, len(keys))
	for i, key := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("?")
		args = append(args, key)
	}
	b.WriteString(")")
	return b.String(), args
}

// Ping issues the liveness statement through the normal execution path and
// reports its outcome.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.execute(ctx, stmtPing, nil, 0)
	return err
}
