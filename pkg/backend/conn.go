package backend

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// closeTimeout bounds the PostgreSQL Terminate handshake on Close.
const closeTimeout = 2 * time.Second

// Conn is a live backend connection. The set of implementations is closed:
// it is either a *PostgresConn or a *SQLiteConn, and callers dispatch on the
// concrete type.
//
// A Conn is not safe for concurrent use. Ownership is passed around whole,
// never shared.
type Conn interface {
	Kind() Kind
	// Target returns what the connection was opened against, without the
	// password.
	Target() Target
	// Close releases the connection. It is safe to call more than once.
	Close() error
	// IsClosed reports whether the connection is known to be unusable.
	IsClosed() bool

	isConn()
}

// PostgresConn is a connection to a PostgreSQL server.
type PostgresConn struct {
	conn   *pgx.Conn
	target Target
}

func (*PostgresConn) isConn() {}

func (c *PostgresConn) Kind() Kind { return KindPostgres }

func (c *PostgresConn) Target() Target { return c.target }

// Pgx returns the underlying pgx connection.
func (c *PostgresConn) Pgx() *pgx.Conn { return c.conn }

func (c *PostgresConn) IsClosed() bool {
	return c.conn.IsClosed()
}

func (c *PostgresConn) Close() error {
	if c.conn.IsClosed() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return c.conn.Close(ctx)
}

// SQLiteConn is a connection to an SQLite database file. The pool behind db
// is limited to the single pinned conn.
type SQLiteConn struct {
	db     *sql.DB
	conn   *sql.Conn
	target Target
	closed bool
}

func (*SQLiteConn) isConn() {}

func (c *SQLiteConn) Kind() Kind { return KindSQLite }

func (c *SQLiteConn) Target() Target { return c.target }

func (c *SQLiteConn) IsClosed() bool {
	return c.closed
}

func (c *SQLiteConn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return errors.Join(c.conn.Close(), c.db.Close())
}
