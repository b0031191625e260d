package mysql

import (
	"context"
	"errors"
	"net"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/jrsteele09/go-mysqlstore/kvstore"
)

// classify wraps a driver failure with the classification the store acts
// on. A server that answered with a SQL error still has a working
// connection, so *MySQLError stays statement-scoped. Everything else means
// the transport layer failed and the connection can no longer be trusted.
// That includes deadline aborts: the go-sql-driver tears the connection
// down when a context cancels a statement mid-flight, so timeouts are
// marked fatal as well.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var myErr *gomysql.MySQLError
	if errors.As(err, &myErr) {
		return &kvstore.QueryError{Err: err}
	}

	timeout := errors.Is(err, context.DeadlineExceeded)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		timeout = true
	}
	return &kvstore.QueryError{Fatal: true, Timeout: timeout, Err: err}
}
