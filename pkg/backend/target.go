package backend

import (
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strconv"
	"time"
)

// Kind names a supported backend engine.
type Kind string

const (
	// KindPostgres is a network PostgreSQL server.
	KindPostgres Kind = "postgres"
	// KindSQLite is an embedded SQLite database file.
	KindSQLite Kind = "sqlite"
)

// ParseKind validates a backend name. The empty string means postgres.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "", KindPostgres:
		return KindPostgres, nil
	case KindSQLite:
		return KindSQLite, nil
	}
	return "", fmt.Errorf("unknown backend %q (want %q or %q)", s, KindPostgres, KindSQLite)
}

// DefaultDatabase is used when neither the caller nor the saved server names
// a database.
func DefaultDatabase(kind Kind) string {
	if kind == KindSQLite {
		return "main.db"
	}
	return "postgres"
}

// MemoryDatabase opens a private in-memory SQLite database.
const MemoryDatabase = ":memory:"

// Target is everything needed to open one connection.
type Target struct {
	Kind     Kind
	Host     string
	Port     int
	Username string
	Password string
	Database string

	// SSLMode is passed through to PostgreSQL. Empty means "prefer".
	SSLMode string
}

// Addr returns a loggable address for the target. It never includes the
// password.
func (t Target) Addr() string {
	if t.Kind == KindSQLite {
		return t.sqlitePath()
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(t.port()))
}

func (t Target) port() int {
	if t.Port == 0 {
		return 5432
	}
	return t.Port
}

// postgresURL builds a connection URL. url.URL takes care of escaping
// credentials and database names.
func (t Target) postgresURL(timeout time.Duration) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   t.Addr(),
		Path:   "/" + t.Database,
	}
	if t.Password != "" {
		u.User = url.UserPassword(t.Username, t.Password)
	} else if t.Username != "" {
		u.User = url.User(t.Username)
	}

	q := url.Values{}
	sslMode := t.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}
	q.Set("sslmode", sslMode)
	if secs := int(timeout.Round(time.Second) / time.Second); secs > 0 {
		q.Set("connect_timeout", strconv.Itoa(secs))
	}
	q.Set("application_name", "querylink")
	u.RawQuery = q.Encode()
	return u.String()
}

// sqlitePath resolves the database name to a file. Host, when set, is the
// directory relative names live in.
func (t Target) sqlitePath() string {
	switch {
	case t.Database == MemoryDatabase:
		return MemoryDatabase
	case filepath.IsAbs(t.Database), t.Host == "":
		return t.Database
	}
	return filepath.Join(t.Host, t.Database)
}
