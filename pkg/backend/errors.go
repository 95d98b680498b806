package backend

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// ConnectError is returned when a connection cannot be established: DNS or
// network failures, authentication rejections, and timeouts.
type ConnectError struct {
	Kind     Kind
	Addr     string
	Database string
	Cause    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to %s %s (database %q): %v", e.Kind, e.Addr, e.Database, e.Cause)
}

func (e *ConnectError) Unwrap() error { return e.Cause }

// Timeout reports whether the connect attempt ran out of time.
func (e *ConnectError) Timeout() bool {
	if errors.Is(e.Cause, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Cause, &netErr) && netErr.Timeout()
}

// QueryError is returned when a statement fails. No rows are returned with
// it.
type QueryError struct {
	// Message is the backend's own error text.
	Message string
	// Code is the SQLSTATE, when the backend reports one.
	Code string
	// Transport is set when the failure was in the connection rather than
	// the statement. Such a connection should not be reused.
	Transport bool
	Cause     error
}

func (e *QueryError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("query failed: %s (SQLSTATE %s)", e.Message, e.Code)
	}
	return "query failed: " + e.Message
}

func (e *QueryError) Unwrap() error { return e.Cause }

// newQueryError classifies err as it came out of conn.
func newQueryError(conn Conn, err error) *QueryError {
	qe := &QueryError{
		Message:   err.Error(),
		Cause:     err,
		Transport: conn.IsClosed() || IsTransportError(err),
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		qe.Message = pgErr.Message
		qe.Code = pgErr.Code
	}
	return qe
}

// IsTransportError reports whether err indicates a broken connection rather
// than a failed statement.
func IsTransportError(err error) bool {
	if err == nil {
		return false
	}
	var qe *QueryError
	if errors.As(err, &qe) && qe.Transport {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgerrcode.IsConnectionException(pgErr.Code) ||
			pgErr.Code == pgerrcode.AdminShutdown ||
			pgErr.Code == pgerrcode.CrashShutdown
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return pgconn.SafeToRetry(err)
}
