package servers

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justjake/querylink/pkg/backend"
	"github.com/justjake/querylink/pkg/config"
)

func openTestStore(t *testing.T, secrets *config.SecretCache) *Store {
	t.Helper()
	s, err := Open(context.Background(), backend.MemoryDatabase, secrets, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_CreateGetList(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, nil)

	first, err := s.Create(ctx, Server{Name: "local", Host: "localhost", Username: "app", Password: "pw", DefaultDatabase: "app"})
	require.NoError(t, err)
	assert.NotZero(t, first.ID)
	assert.Equal(t, 5432, first.Port)
	assert.Equal(t, backend.KindPostgres, first.Backend)
	assert.False(t, first.CreatedAt.IsZero())

	second, err := s.Create(ctx, Server{Name: "files", Host: t.TempDir(), Backend: backend.KindSQLite})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Port)

	got, err := s.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "newest first")
	assert.Equal(t, first.ID, list[1].ID)
}

func TestStore_GetMissing(t *testing.T) {
	s := openTestStore(t, nil)
	_, err := s.Get(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetServer(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_UpdateDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, nil)

	srv, err := s.Create(ctx, Server{Name: "a", Host: "db1"})
	require.NoError(t, err)

	srv.Name = "b"
	srv.Port = 6543
	srv.SSLMode = "require"
	require.NoError(t, s.Update(ctx, srv))

	got, err := s.Get(ctx, srv.ID)
	require.NoError(t, err)
	assert.Equal(t, "b", got.Name)
	assert.Equal(t, 6543, got.Port)
	assert.Equal(t, "require", got.SSLMode)

	require.NoError(t, s.Delete(ctx, srv.ID))
	assert.ErrorIs(t, s.Delete(ctx, srv.ID), ErrNotFound)

	srv.ID = 12345
	assert.ErrorIs(t, s.Update(ctx, srv), ErrNotFound)
}

func TestStore_CreateInvalid(t *testing.T) {
	s := openTestStore(t, nil)
	_, err := s.Create(context.Background(), Server{Backend: "oracle", Port: 70000})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")
	assert.Contains(t, err.Error(), "unknown backend")
	assert.Contains(t, err.Error(), "out of range")
}

func TestStore_GetServerResolvesSecret(t *testing.T) {
	ctx := context.Background()
	t.Setenv("QUERYLINK_TEST_PW", "from-env")
	s := openTestStore(t, config.NewSecretCache(nil))

	srv, err := s.Create(ctx, Server{
		Name:           "secret",
		Host:           "db",
		PasswordSecret: &config.SecretRef{EnvVar: "QUERYLINK_TEST_PW"},
	})
	require.NoError(t, err)

	stored, err := s.Get(ctx, srv.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Password)
	require.NotNil(t, stored.PasswordSecret)
	assert.Equal(t, "QUERYLINK_TEST_PW", stored.PasswordSecret.EnvVar)

	resolved, err := s.GetServer(ctx, srv.ID)
	require.NoError(t, err)
	assert.Equal(t, "from-env", resolved.Password)
}

func TestStore_GetServerWithoutResolver(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, nil)
	srv, err := s.Create(ctx, Server{Name: "x", Host: "db", PasswordSecret: &config.SecretRef{InsecureValue: "pw"}})
	require.NoError(t, err)

	_, err = s.GetServer(ctx, srv.ID)
	assert.ErrorContains(t, err, "no secret resolver")
}

func TestStore_MigratesOldSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "old.db")

	old, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = old.Exec(`CREATE TABLE servers (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		name        TEXT    NOT NULL,
		host        TEXT    NOT NULL,
		port        INTEGER NOT NULL DEFAULT 5432,
		username    TEXT,
		password    TEXT,
		created_at  INTEGER NOT NULL DEFAULT (strftime('%s','now'))
	)`)
	require.NoError(t, err)
	_, err = old.Exec(`INSERT INTO servers (name, host, username) VALUES ('legacy', 'pg.internal', 'admin')`)
	require.NoError(t, err)
	require.NoError(t, old.Close())

	s, err := Open(ctx, path, nil, slog.Default())
	require.NoError(t, err)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "legacy", list[0].Name)
	assert.Equal(t, backend.KindPostgres, list[0].Backend)
	assert.Equal(t, 5432, list[0].Port)
	assert.Empty(t, list[0].DefaultDatabase)

	// Reopening an already migrated file is a no-op.
	require.NoError(t, s.Close())
	s, err = Open(ctx, path, nil, slog.Default())
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestServer_ResolveDatabase(t *testing.T) {
	pg := Server{DefaultDatabase: "app"}
	assert.Equal(t, "other", pg.ResolveDatabase("other"))
	assert.Equal(t, "app", pg.ResolveDatabase(""))

	bare := Server{}
	assert.Equal(t, "postgres", bare.ResolveDatabase(""))

	lite := Server{Backend: backend.KindSQLite}
	assert.Equal(t, "main.db", lite.ResolveDatabase(""))
}

func TestServer_Target(t *testing.T) {
	srv := Server{Host: "db", Port: 6000, Username: "u", Password: "p", SSLMode: "disable"}
	target := srv.Target("app")
	assert.Equal(t, backend.Target{
		Kind: backend.KindPostgres, Host: "db", Port: 6000, Username: "u", Password: "p",
		Database: "app", SSLMode: "disable",
	}, target)
}
