package servers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/justjake/querylink/pkg/backend"
	"github.com/justjake/querylink/pkg/config"
)

const createTable = `CREATE TABLE IF NOT EXISTS servers (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	name             TEXT    NOT NULL,
	host             TEXT    NOT NULL,
	port             INTEGER NOT NULL DEFAULT 5432,
	username         TEXT,
	password         TEXT,
	password_secret  TEXT,
	default_database TEXT,
	backend          TEXT    NOT NULL DEFAULT 'postgres',
	ssl_mode         TEXT,
	created_at       INTEGER NOT NULL DEFAULT (strftime('%s','now'))
)`

// addedColumns are columns missing from state files written before they
// existed. Each is added on open if absent.
var addedColumns = []struct {
	name string
	ddl  string
}{
	{"default_database", "default_database TEXT"},
	{"password_secret", "password_secret TEXT"},
	{"backend", "backend TEXT NOT NULL DEFAULT 'postgres'"},
	{"ssl_mode", "ssl_mode TEXT"},
}

const selectColumns = `id, name, host, port, username, password, password_secret,
	default_database, backend, ssl_mode, created_at`

// Store is the saved-server table in a SQLite state database.
type Store struct {
	db      *sql.DB
	secrets *config.SecretCache
	logger  *slog.Logger
}

// Open opens (creating if needed) the state database at path and migrates
// it. secrets may be nil if no saved server uses password_secret.
func Open(ctx context.Context, path string, secrets *config.SecretCache, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open state database %s: %w", path, err)
	}
	// One connection serializes writers, and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	s, err := New(ctx, db, secrets, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database and migrates it.
func New(ctx context.Context, db *sql.DB, secrets *config.SecretCache, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, secrets: secrets, logger: logger}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate state database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		return err
	}

	existing, err := s.columns(ctx)
	if err != nil {
		return err
	}
	for _, col := range addedColumns {
		if existing[col.name] {
			continue
		}
		if _, err := s.db.ExecContext(ctx, "ALTER TABLE servers ADD COLUMN "+col.ddl); err != nil {
			return fmt.Errorf("add column %s: %w", col.name, err)
		}
		s.logger.Info("migrated servers table", "added_column", col.name)
	}
	return nil
}

func (s *Store) columns(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, "PRAGMA table_info(servers)")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// Create inserts a server and returns it with its assigned id and creation
// time.
func (s *Store) Create(ctx context.Context, srv Server) (Server, error) {
	if err := normalize(&srv); err != nil {
		return Server{}, err
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO servers (name, host, port, username, password, password_secret, default_database, backend, ssl_mode)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id, created_at`,
		writeArgs(srv)...,
	)
	var createdAt int64
	if err := row.Scan(&srv.ID, &createdAt); err != nil {
		return Server{}, fmt.Errorf("create server: %w", err)
	}
	srv.CreatedAt = time.Unix(createdAt, 0).UTC()
	s.logger.Debug("created server", "server", srv.String())
	return srv, nil
}

// List returns all servers, newest first.
func (s *Store) List(ctx context.Context) ([]Server, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+selectColumns+" FROM servers ORDER BY id DESC")
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer rows.Close()

	var out []Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, srv)
	}
	return out, rows.Err()
}

// Get returns the saved server with id exactly as stored. PasswordSecret is
// not resolved.
func (s *Store) Get(ctx context.Context, id int64) (Server, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM servers WHERE id = ?", id)
	srv, err := scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Server{}, fmt.Errorf("server %d: %w", id, ErrNotFound)
	}
	return srv, err
}

// GetServer returns the server with id ready to connect: PasswordSecret, if
// set, has been resolved into Password.
func (s *Store) GetServer(ctx context.Context, id int64) (Server, error) {
	srv, err := s.Get(ctx, id)
	if err != nil {
		return Server{}, err
	}
	if srv.PasswordSecret == nil {
		return srv, nil
	}
	if s.secrets == nil {
		return Server{}, fmt.Errorf("server %d: password_secret set but no secret resolver configured", id)
	}
	password, err := s.secrets.Get(ctx, *srv.PasswordSecret)
	if err != nil {
		return Server{}, fmt.Errorf("server %d: resolve password: %w", id, err)
	}
	srv.Password = password
	return srv, nil
}

// Update replaces every field of the server with srv.ID.
func (s *Store) Update(ctx context.Context, srv Server) error {
	if err := normalize(&srv); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE servers
		SET name = ?, host = ?, port = ?, username = ?, password = ?, password_secret = ?,
			default_database = ?, backend = ?, ssl_mode = ?
		WHERE id = ?`,
		append(writeArgs(srv), srv.ID)...,
	)
	if err != nil {
		return fmt.Errorf("update server %d: %w", srv.ID, err)
	}
	return expectOneRow(res, srv.ID)
}

// Delete removes the server with id.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM servers WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete server %d: %w", id, err)
	}
	return expectOneRow(res, id)
}

func expectOneRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("server %d: %w", id, ErrNotFound)
	}
	return nil
}

func normalize(srv *Server) error {
	if err := srv.Validate(); err != nil {
		return err
	}
	kind, _ := backend.ParseKind(string(srv.Backend))
	srv.Backend = kind
	if srv.Port == 0 && kind == backend.KindPostgres {
		srv.Port = 5432
	}
	return nil
}

func writeArgs(srv Server) []any {
	var secret sql.NullString
	if srv.PasswordSecret != nil {
		secret = sql.NullString{String: srv.PasswordSecret.String(), Valid: true}
	}
	return []any{
		srv.Name,
		srv.Host,
		srv.Port,
		nullString(srv.Username),
		nullString(srv.Password),
		secret,
		nullString(srv.DefaultDatabase),
		string(srv.Backend),
		nullString(srv.SSLMode),
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanServer(row scanner) (Server, error) {
	var (
		srv                                     Server
		username, password, secret, dbName, ssl sql.NullString
		kind                                    string
		createdAt                               int64
	)
	err := row.Scan(&srv.ID, &srv.Name, &srv.Host, &srv.Port, &username, &password, &secret,
		&dbName, &kind, &ssl, &createdAt)
	if err != nil {
		return Server{}, err
	}
	srv.Username = username.String
	srv.Password = password.String
	srv.DefaultDatabase = dbName.String
	srv.Backend = backend.Kind(kind)
	srv.SSLMode = ssl.String
	srv.CreatedAt = time.Unix(createdAt, 0).UTC()
	if secret.Valid && secret.String != "" {
		ref, err := config.ParseSecretRef(secret.String)
		if err != nil {
			return Server{}, fmt.Errorf("server %d: %w", srv.ID, err)
		}
		srv.PasswordSecret = &ref
	}
	return srv, nil
}
