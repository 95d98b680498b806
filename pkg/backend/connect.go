package backend

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// DefaultConnectTimeout bounds a connection handshake when Connector.Timeout
// is unset.
const DefaultConnectTimeout = 5 * time.Second

// sqliteBusyTimeout is how long SQLite waits on a locked database file.
const sqliteBusyTimeout = 5 * time.Second

// Connector opens new backend connections with a bounded handshake.
//
// Connect blocks for up to Timeout. It touches no shared state, so callers
// may run it without holding any lock.
type Connector struct {
	Timeout time.Duration
}

func (c *Connector) timeout() time.Duration {
	if c == nil || c.Timeout <= 0 {
		return DefaultConnectTimeout
	}
	return c.Timeout
}

// Connect opens a connection to target. Failures, including running out of
// time, are returned as *ConnectError.
func (c *Connector) Connect(ctx context.Context, target Target) (Conn, error) {
	timeout := c.timeout()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		conn Conn
		err  error
	)
	switch target.Kind {
	case KindSQLite:
		conn, err = connectSQLite(ctx, target)
	case KindPostgres, "":
		conn, err = connectPostgres(ctx, target, timeout)
	default:
		err = fmt.Errorf("unknown backend %q", target.Kind)
	}
	if err != nil {
		return nil, &ConnectError{
			Kind:     target.Kind,
			Addr:     target.Addr(),
			Database: target.Database,
			Cause:    err,
		}
	}
	return conn, nil
}

func connectPostgres(ctx context.Context, target Target, timeout time.Duration) (*PostgresConn, error) {
	cfg, err := pgx.ParseConfig(target.postgresURL(timeout))
	if err != nil {
		return nil, fmt.Errorf("invalid connection settings: %w", err)
	}
	cfg.ConnectTimeout = timeout

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	target.Kind = KindPostgres
	target.Password = ""
	return &PostgresConn{conn: conn, target: target}, nil
}

func connectSQLite(ctx context.Context, target Target) (*SQLiteConn, error) {
	path := target.sqlitePath()
	dsn := path
	if path != MemoryDatabase {
		// Browsing must never create a database file as a side effect.
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
		dsn = fmt.Sprintf("%s?_busy_timeout=%d", path, sqliteBusyTimeout.Milliseconds())
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		db.Close()
		return nil, err
	}

	target.Password = ""
	return &SQLiteConn{db: db, conn: conn, target: target}, nil
}
