package kvstore

import (
	"context"
	"errors"
	"fmt"
)

// Error definitions for common error cases.
var (
	// ErrConnectionFailed returned when the backing connection could not be
	// established. Establishment is never retried automatically.
	ErrConnectionFailed = errors.New("connection could not be established")

	// ErrKeyTooLong returned when a key exceeds the width of the key column.
	ErrKeyTooLong = errors.New("key exceeds maximum length")

	// ErrUnknownBulkOp returned when a bulk batch contains an operation with
	// an unrecognized kind.
	ErrUnknownBulkOp = errors.New("unknown bulk operation")

	// ErrBatchTooLarge returned when a bulk batch exceeds the configured row
	// limit. Callers should split the batch and resubmit.
	ErrBatchTooLarge = errors.New("bulk batch exceeds row limit")

	// ErrClosed returned for operations issued after Close.
	ErrClosed = errors.New("store is closed")
)

// QueryError wraps any failure reported while executing a statement.
// Fatal marks connection-level faults that caused the physical connection to
// be replaced; Timeout marks statements aborted by their deadline. The
// wrapped driver error is preserved unaltered.
type QueryError struct {
	Fatal   bool
	Timeout bool
	Err     error
}

func (e *QueryError) Error() string {
	switch {
	case e.Fatal && e.Timeout:
		return fmt.Sprintf("query failed (fatal, timeout): %v", e.Err)
	case e.Fatal:
		return fmt.Sprintf("query failed (fatal): %v", e.Err)
	case e.Timeout:
		return fmt.Sprintf("query failed (timeout): %v", e.Err)
	default:
		return fmt.Sprintf("query failed: %v", e.Err)
	}
}

func (e *QueryError) Unwrap() error { return e.Err }

// asQueryError normalizes an arbitrary driver error. Errors the driver did
// not classify are treated as statement-scoped, except context deadline
// expiry which always carries the timeout flag.
func asQueryError(err error) *QueryError {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe
	}
	return &QueryError{Timeout: errors.Is(err, context.DeadlineExceeded), Err: err}
}
