package kvstore

import "context"

// Row is a single result row, column values in statement order.
type Row []string

// Driver defines the methods a database backend must implement for the store.
// A Driver hands out physical connections; the store owns their lifecycle and
// replaces a connection whenever the driver reports a fatal fault on it.
//
// Connect: Establishes one physical connection.
//
// Errors returned from Conn.Query should be *QueryError values so the store
// can tell fatal connection faults from statement-scoped failures. Errors of
// any other type are treated as statement-scoped.
type Driver interface {

	// Connect establishes a single physical connection. It is called once at
	// construction and once per fatal-error replacement, never in a retry
	// loop.
	Connect(ctx context.Context) (Conn, error)
}

// Conn is one physical connection handed out by a Driver.
//
// Query: Executes a single parameterized autocommit statement.
//
// Close: Releases the connection.
type Conn interface {

	// Query executes one statement and returns all result rows; statements
	// without a result set return nil rows. Implementations own wire-level
	// serialization: concurrent Query calls on one Conn may be queued
	// internally.
	Query(ctx context.Context, statement string, args ...any) ([]Row, error)

	// Close releases the connection. The store calls it best-effort when a
	// connection is replaced and on shutdown.
	Close() error
}
