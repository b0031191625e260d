// Package mysql implements the kvstore driver boundary on top of
// database/sql and the go-sql-driver MySQL driver. Every Connect call opens
// exactly one physical connection, statements on it are executed one at a
// time, and failures are classified into statement-scoped errors and fatal
// connection faults.
package mysql

import (
	"context"
	"database/sql"
	"net"
	"strconv"
	"sync"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	"github.com/jrsteele09/go-mysqlstore/kvstore"
)

// Config holds the connection settings for a MySQL backend.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string

	// Charset is the connection character set. The session collation is its
	// binary variant so that string comparisons are byte-exact.
	Charset string

	// ConnectTimeout bounds dialing a new connection.
	ConnectTimeout time.Duration
}

// DefaultConfig returns a Config pointing at a local server.
func DefaultConfig() Config {
	return Config{
		Host:           "127.0.0.1",
		Port:           3306,
		Charset:        kvstore.DefaultCharset,
		ConnectTimeout: 10 * time.Second,
	}
}

// Validate checks the fields a connection cannot be attempted without.
func (c Config) Validate() error {
	if c.Host == "" {
		return errors.New("mysql: host cannot be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.Errorf("mysql: invalid port %d", c.Port)
	}
	if c.Database == "" {
		return errors.New("mysql: database cannot be empty")
	}
	if c.Charset == "" {
		return errors.New("mysql: charset cannot be empty")
	}
	return nil
}

// dsn renders the go-sql-driver DSN for this configuration. The collation
// carries the character set in the handshake, so no SET NAMES round trip is
// needed.
func (c Config) dsn() string {
	mc := gomysql.NewConfig()
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	mc.User = c.User
	mc.Passwd = c.Password
	mc.DBName = c.Database
	mc.Collation = c.Charset + "_bin"
	mc.Timeout = c.ConnectTimeout
	return mc.FormatDSN()
}

// Driver opens dedicated single connections for a kvstore.Store.
type Driver struct {
	cfg Config
}

// New validates the configuration and initializes a Driver.
func New(cfg Config) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Driver{cfg: cfg}, nil
}

// Connect dials one physical connection. The pool behind it is pinned to a
// single slot and the session is checked out for the life of the handle, so
// database/sql never opens a second link or retries a statement on our
// behalf.
func (d *Driver) Connect(ctx context.Context) (kvstore.Conn, error) {
	db, err := sql.Open("mysql", d.cfg.dsn())
	if err != nil {
		return nil, errors.Wrap(err, "Connect: Open")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "Connect: dial")
	}
	return &singleConn{db: db, conn: conn}, nil
}

// singleConn is the one physical connection behind a store handle. The wire
// protocol answers one statement at a time, so concurrent callers queue on
// the mutex here rather than interleaving on the connection.
type singleConn struct {
	db   *sql.DB
	conn *sql.Conn
	mu   sync.Mutex
}

// Query runs one autocommit statement and materializes every result row.
// Rows are drained before the lock is released because the connection
// cannot accept the next statement while a result set is pending.
func (c *singleConn) Query(ctx context.Context, statement string, args ...any) ([]kvstore.Row, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.conn.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, classify(err)
	}
	var out []kvstore.Row
	for rows.Next() {
		cells := make([]sql.NullString, len(cols))
		scan := make([]any, len(cols))
		for i := range cells {
			scan[i] = &cells[i]
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, classify(err)
		}
		row := make(kvstore.Row, len(cols))
		for i, cell := range cells {
			row[i] = cell.String
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// Close releases the session and shuts down its pool.
func (c *singleConn) Close() error {
	cerr := c.conn.Close()
	if err := c.db.Close(); err != nil && cerr == nil {
		cerr = err
	}
	return cerr
}
