package kvstore_test

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-mysqlstore/kvstore"
)

// respondFunc scripts how a fake connection answers a statement.
type respondFunc func(ctx context.Context, stmt string, args []any) ([]kvstore.Row, error)

type scriptedQuery struct {
	stmt string
	args []any
}

// fakeConn is a scripted backing connection. Concurrent queries run their
// respond functions concurrently, like a driver that queues internally
// would allow.
type fakeConn struct {
	id      int
	mu      sync.Mutex
	queries []scriptedQuery
	closed  bool
	respond respondFunc
}

func (c *fakeConn) Query(ctx context.Context, stmt string, args ...any) ([]kvstore.Row, error) {
	copied := make([]any, len(args))
	copy(copied, args)
	c.mu.Lock()
	c.queries = append(c.queries, scriptedQuery{stmt: stmt, args: copied})
	respond := c.respond
	c.mu.Unlock()
	if respond == nil {
		return nil, nil
	}
	return respond(ctx, stmt, args)
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) setRespond(fn respondFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.respond = fn
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) statements() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	stmts := make([]string, 0, len(c.queries))
	for _, q := range c.queries {
		stmts = append(stmts, q.stmt)
	}
	return stmts
}

func (c *fakeConn) statementsWithPrefix(prefix string) []scriptedQuery {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []scriptedQuery
	for _, q := range c.queries {
		if strings.HasPrefix(q.stmt, prefix) {
			out = append(out, q)
		}
	}
	return out
}

func (c *fakeConn) queryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queries)
}

// fakeDriver hands out fakeConns and records every dial attempt.
type fakeDriver struct {
	mu       sync.Mutex
	conns    []*fakeConn
	attempts int
	dialErr  error
	respond  respondFunc
}

func (d *fakeDriver) Connect(ctx context.Context) (kvstore.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts++
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	conn := &fakeConn{id: len(d.conns), respond: d.respond}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDriver) setDialErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialErr = err
}

// dials counts successful connections; dialAttempts counts every Connect
// call, failed ones included.
func (d *fakeDriver) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDriver) dialAttempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

func (d *fakeDriver) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

// memoryBackend answers store statements out of a map, shared by every
// connection the driver hands out, the way one database outlives many
// connections.
type memoryBackend struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{data: make(map[string]string)}
}

func (m *memoryBackend) respond(_ context.Context, stmt string, args []any) ([]kvstore.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case strings.HasPrefix(stmt, "REPLACE INTO"):
		for i := 0; i+1 < len(args); i += 2 {
			m.data[args[i].(string)] = args[i+1].(string)
		}
	case strings.HasPrefix(stmt, "DELETE FROM"):
		if strings.Contains(stmt, " IN (") {
			for _, a := range args {
				delete(m.data, a.(string))
			}
		} else {
			delete(m.data, args[0].(string))
		}
	case strings.HasPrefix(stmt, "SELECT `value`"):
		if v, ok := m.data[args[0].(string)]; ok {
			return []kvstore.Row{{v}}, nil
		}
		return nil, nil
	case strings.HasPrefix(stmt, "SELECT `key`"):
		include := args[0].(string)
		exclude := ""
		if len(args) > 1 {
			exclude = args[1].(string)
		}
		var keys []string
		for k := range m.data {
			if likeMatch(include, k) && (exclude == "" || !likeMatch(exclude, k)) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		rows := make([]kvstore.Row, 0, len(keys))
		for _, k := range keys {
			rows = append(rows, kvstore.Row{k})
		}
		return rows, nil
	case stmt == "SELECT 1":
		return []kvstore.Row{{"1"}}, nil
	case strings.HasPrefix(stmt, "SELECT @@character_set_database"):
		return []kvstore.Row{{"utf8mb4"}}, nil
	case strings.Contains(stmt, "information_schema"):
		return []kvstore.Row{{"utf8mb4_bin"}}, nil
	}
	return nil, nil
}

// likeMatch evaluates a LIKE pattern with '%' wildcards and backslash
// escapes against a string.
func likeMatch(pattern, s string) bool {
	if pattern == "" {
		return s == ""
	}
	if pattern[0] == '%' {
		for i := 0; i <= len(s); i++ {
			if likeMatch(pattern[1:], s[i:]) {
				return true
			}
		}
		return false
	}
	want := pattern[0]
	rest := pattern[1:]
	if want == '\\' && len(pattern) > 1 {
		want = pattern[1]
		rest = pattern[2:]
	}
	return len(s) > 0 && s[0] == want && likeMatch(rest, s[1:])
}

// newTestStore builds a store with the keep-alive off unless a test turns
// it on, and closes it at cleanup.
func newTestStore(t *testing.T, driver *fakeDriver, options ...kvstore.StoreOption) *kvstore.Store {
	t.Helper()
	opts := append([]kvstore.StoreOption{kvstore.WithPingIntervalOption(0)}, options...)
	s, err := kvstore.New(driver, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func waitDials(t *testing.T, d *fakeDriver, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return d.dials() >= n }, 2*time.Second, 5*time.Millisecond)
}

func TestStoreCrud(t *testing.T) {
	const key = "k1:102"
	const data = "TestStoreCrud"
	ctx := context.Background()
	mem := newMemoryBackend()
	d := &fakeDriver{respond: mem.respond}
	s := newTestStore(t, d)

	require.NoError(t, s.Set(ctx, key, data))
	value, found, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, data, value)

	require.NoError(t, s.Set(ctx, key, "overwritten"))
	value, found, err = s.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "overwritten", value)

	require.NoError(t, s.Remove(ctx, key))
	_, found, err = s.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, found)
}

func BenchmarkStoreSetGetRemove(b *testing.B) {
	ctx := context.Background()
	mem := newMemoryBackend()
	d := &fakeDriver{respond: mem.respond}
	s, _ := kvstore.New(d, kvstore.WithPingIntervalOption(0))
	defer s.Close()

	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("Key-%d", i)
		value := fmt.Sprintf("Value-%d", i)
		s.Set(ctx, key, value)
		s.Get(ctx, key)
		s.Remove(ctx, key)
	}
}

func TestEmptyValueDistinctFromAbsent(t *testing.T) {
	ctx := context.Background()
	mem := newMemoryBackend()
	d := &fakeDriver{respond: mem.respond}
	s := newTestStore(t, d)

	require.NoError(t, s.Set(ctx, "empty", ""))
	value, found, err := s.Get(ctx, "empty")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "", value)

	_, found, err = s.Get(ctx, "never-set")
	require.NoError(t, err)
	require.False(t, found)
}

func TestRemoveAbsentKey(t *testing.T) {
	ctx := context.Background()
	mem := newMemoryBackend()
	d := &fakeDriver{respond: mem.respond}
	s := newTestStore(t, d)

	require.NoError(t, s.Remove(ctx, "was-never-there"))
}

func TestSetKeyTooLong(t *testing.T) {
	ctx := context.Background()
	d := &fakeDriver{respond: newMemoryBackend().respond}
	s := newTestStore(t, d)
	waitDials(t, d, 1)

	longKey := strings.Repeat("k", kvstore.MaxKeyLength+1)
	err := s.Set(ctx, longKey, "data")
	require.ErrorIs(t, err, kvstore.ErrKeyTooLong)
	require.Zero(t, d.conn(0).queryCount())

	// A multi-byte key counts at its encoded width.
	wideKey := strings.Repeat("é", 51)
	require.ErrorIs(t, s.Set(ctx, wideKey, "data"), kvstore.ErrKeyTooLong)
	require.Zero(t, d.conn(0).queryCount())

	require.NoError(t, s.Set(ctx, strings.Repeat("k", kvstore.MaxKeyLength), "data"))
}

func TestFindKeys(t *testing.T) {
	ctx := context.Background()
	mem := newMemoryBackend()
	d := &fakeDriver{respond: mem.respond}
	s := newTestStore(t, d)

	for _, key := range []string{"session:1", "session:2", "config:a", "archive:session:9"} {
		require.NoError(t, s.Set(ctx, key, "x"))
	}

	keys, err := s.FindKeys(ctx, "session:*", "")
	require.NoError(t, err)
	require.Equal(t, []string{"session:1", "session:2"}, keys)

	keys, err = s.FindKeys(ctx, "*session*", "archive:*")
	require.NoError(t, err)
	require.Equal(t, []string{"session:1", "session:2"}, keys)

	keys, err = s.FindKeys(ctx, "*", "")
	require.NoError(t, err)
	require.Len(t, keys, 4)

	keys, err = s.FindKeys(ctx, "nothing*", "")
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestFindKeysWildcardBytesAreLiteral(t *testing.T) {
	ctx := context.Background()
	mem := newMemoryBackend()
	d := &fakeDriver{respond: mem.respond}
	s := newTestStore(t, d)

	for _, key := range []string{"100%x", "100ax", "a_b", "axb"} {
		require.NoError(t, s.Set(ctx, key, "x"))
	}

	// '%' and '_' in the glob must match themselves, not act as LIKE
	// wildcards.
	keys, err := s.FindKeys(ctx, "100%*", "")
	require.NoError(t, err)
	require.Equal(t, []string{"100%x"}, keys)

	keys, err = s.FindKeys(ctx, "a_b", "")
	require.NoError(t, err)
	require.Equal(t, []string{"a_b"}, keys)
}

func TestFindKeysStatementShape(t *testing.T) {
	ctx := context.Background()
	d := &fakeDriver{respond: newMemoryBackend().respond}
	s := newTestStore(t, d)
	waitDials(t, d, 1)

	_, err := s.FindKeys(ctx, "a%b_c*", "")
	require.NoError(t, err)
	selects := d.conn(0).statementsWithPrefix("SELECT `key`")
	require.Len(t, selects, 1)
	require.NotContains(t, selects[0].stmt, "NOT LIKE")
	require.Equal(t, []any{`a\%b\_c%`}, selects[0].args)

	_, err = s.FindKeys(ctx, "*", "internal:*")
	require.NoError(t, err)
	selects = d.conn(0).statementsWithPrefix("SELECT `key`")
	require.Len(t, selects, 2)
	require.Contains(t, selects[1].stmt, "NOT LIKE")
	require.Equal(t, []any{"%", "internal:%"}, selects[1].args)
}

func TestDoBulk(t *testing.T) {
	ctx := context.Background()
	mem := newMemoryBackend()
	d := &fakeDriver{respond: mem.respond}
	s := newTestStore(t, d)

	require.NoError(t, s.Set(ctx, "stale", "remove me"))

	err := s.DoBulk(ctx, []kvstore.Operation{
		kvstore.SetOp("a", "1"),
		kvstore.SetOp("b", "2"),
		kvstore.RemoveOp("stale"),
	})
	require.NoError(t, err)

	for key, want := range map[string]string{"a": "1", "b": "2"} {
		value, found, err := s.Get(ctx, key)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, want, value)
	}
	_, found, err := s.Get(ctx, "stale")
	require.NoError(t, err)
	require.False(t, found)

	// One multi-row upsert and one multi-key delete, not one statement per
	// operation.
	conn := d.conn(0)
	upserts := conn.statementsWithPrefix("REPLACE INTO")
	require.Len(t, upserts, 2) // the single Set above plus the bulk upsert
	require.Equal(t, []any{"a", "1", "b", "2"}, upserts[1].args)
	deletes := conn.statementsWithPrefix("DELETE FROM")
	require.Len(t, deletes, 1)
	require.Contains(t, deletes[0].stmt, " IN (")
	require.Equal(t, []any{"stale"}, deletes[0].args)
}

func TestDoBulkOnlyUpserts(t *testing.T) {
	ctx := context.Background()
	d := &fakeDriver{respond: newMemoryBackend().respond}
	s := newTestStore(t, d)
	waitDials(t, d, 1)

	err := s.DoBulk(ctx, []kvstore.Operation{kvstore.SetOp("only", "one")})
	require.NoError(t, err)
	require.Empty(t, d.conn(0).statementsWithPrefix("DELETE FROM"))

	// An empty batch issues nothing at all.
	before := d.conn(0).queryCount()
	require.NoError(t, s.DoBulk(ctx, nil))
	require.Equal(t, before, d.conn(0).queryCount())
}

func TestDoBulkUnknownOperation(t *testing.T) {
	ctx := context.Background()
	d := &fakeDriver{respond: newMemoryBackend().respond}
	s := newTestStore(t, d)
	waitDials(t, d, 1)

	err := s.DoBulk(ctx, []kvstore.Operation{
		kvstore.SetOp("a", "1"),
		{Kind: kvstore.OpKind(42), Key: "b"},
	})
	require.ErrorIs(t, err, kvstore.ErrUnknownBulkOp)
	// The batch is rejected before any statement is issued.
	require.Zero(t, d.conn(0).queryCount())
}

func TestDoBulkTooLarge(t *testing.T) {
	ctx := context.Background()
	d := &fakeDriver{respond: newMemoryBackend().respond}
	s := newTestStore(t, d, kvstore.WithBulkLimitOption(2))
	waitDials(t, d, 1)

	err := s.DoBulk(ctx, []kvstore.Operation{
		kvstore.SetOp("a", "1"),
		kvstore.SetOp("b", "2"),
		kvstore.SetOp("c", "3"),
	})
	require.ErrorIs(t, err, kvstore.ErrBatchTooLarge)
	require.Zero(t, d.conn(0).queryCount())

	// Removals count against the same limit.
	err = s.DoBulk(ctx, []kvstore.Operation{
		kvstore.RemoveOp("a"),
		kvstore.RemoveOp("b"),
		kvstore.RemoveOp("c"),
	})
	require.ErrorIs(t, err, kvstore.ErrBatchTooLarge)

	require.NoError(t, s.DoBulk(ctx, []kvstore.Operation{
		kvstore.SetOp("a", "1"),
		kvstore.SetOp("b", "2"),
		kvstore.RemoveOp("c"),
		kvstore.RemoveOp("d"),
	}))
}

func TestDoBulkKeyTooLong(t *testing.T) {
	ctx := context.Background()
	d := &fakeDriver{respond: newMemoryBackend().respond}
	s := newTestStore(t, d)
	waitDials(t, d, 1)

	err := s.DoBulk(ctx, []kvstore.Operation{
		kvstore.SetOp(strings.Repeat("k", kvstore.MaxKeyLength+1), "data"),
	})
	require.ErrorIs(t, err, kvstore.ErrKeyTooLong)
	require.Zero(t, d.conn(0).queryCount())
}

func TestStoreCrudThreaded(t *testing.T) {
	const keyFormat = "Key:%d"
	const dataFormat = "Key%d-DataStore"
	const nRoutines = 50
	ctx := context.Background()
	mem := newMemoryBackend()
	d := &fakeDriver{respond: mem.respond}
	s := newTestStore(t, d)

	var wg sync.WaitGroup
	wg.Add(nRoutines)
	for i := 0; i < nRoutines; i++ {
		go func(n int) {
			defer wg.Done()
			require.NoError(t, s.Set(ctx, fmt.Sprintf(keyFormat, n), fmt.Sprintf(dataFormat, n)))
		}(i)
	}
	wg.Wait()

	wg.Add(nRoutines)
	for i := 0; i < nRoutines; i++ {
		go func(n int) {
			defer wg.Done()
			value, found, err := s.Get(ctx, fmt.Sprintf(keyFormat, n))
			require.NoError(t, err)
			require.True(t, found)
			require.Equal(t, fmt.Sprintf(dataFormat, n), value)
		}(i)
	}
	wg.Wait()

	wg.Add(nRoutines)
	for i := 0; i < nRoutines; i++ {
		go func(n int) {
			defer wg.Done()
			require.NoError(t, s.Remove(ctx, fmt.Sprintf(keyFormat, n)))
		}(i)
	}
	wg.Wait()

	keys, err := s.FindKeys(ctx, "Key:*", "")
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestPing(t *testing.T) {
	ctx := context.Background()
	d := &fakeDriver{respond: newMemoryBackend().respond}
	s := newTestStore(t, d)
	waitDials(t, d, 1)

	require.NoError(t, s.Ping(ctx))
	require.Equal(t, []string{"SELECT 1"}, d.conn(0).statements())
}

func TestOperationsAfterClose(t *testing.T) {
	ctx := context.Background()
	d := &fakeDriver{respond: newMemoryBackend().respond}
	s := newTestStore(t, d)
	waitDials(t, d, 1)

	require.NoError(t, s.Close())
	require.True(t, d.conn(0).isClosed())

	_, _, err := s.Get(ctx, "k")
	require.ErrorIs(t, err, kvstore.ErrClosed)
	require.ErrorIs(t, s.Set(ctx, "k", "v"), kvstore.ErrClosed)
	require.ErrorIs(t, s.Remove(ctx, "k"), kvstore.ErrClosed)
	_, err = s.FindKeys(ctx, "*", "")
	require.ErrorIs(t, err, kvstore.ErrClosed)
	require.ErrorIs(t, s.DoBulk(ctx, []kvstore.Operation{kvstore.SetOp("k", "v")}), kvstore.ErrClosed)
	require.ErrorIs(t, s.Ping(ctx), kvstore.ErrClosed)

	// Closing twice is a no-op.
	require.NoError(t, s.Close())
}

func TestNewValidation(t *testing.T) {
	d := &fakeDriver{respond: newMemoryBackend().respond}

	_, err := kvstore.New(nil)
	require.Error(t, err)

	_, err = kvstore.New(d, kvstore.WithTableOption(""))
	require.Error(t, err)

	_, err = kvstore.New(d, kvstore.WithEngineOption(""))
	require.Error(t, err)

	_, err = kvstore.New(d, kvstore.WithCharsetOption(""))
	require.Error(t, err)

	_, err = kvstore.New(d, kvstore.WithQueryTimeoutOption(-time.Second))
	require.Error(t, err)

	_, err = kvstore.New(d, kvstore.WithBulkLimitOption(0))
	require.Error(t, err)
}
