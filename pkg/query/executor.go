// Package query runs SQL against saved servers through a shared cache of
// live connections.
//
// Each Execute call resolves a (server, database) key, makes sure a
// connection is cached for it, checks that connection out for exclusive use,
// runs the statement on a worker, and checks the connection back in. Two
// calls never hold the same connection at once. A call that finds the key's
// connection checked out by another call opens its own, and whichever
// finishes second closes the redundant one.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/justjake/querylink/pkg/backend"
	"github.com/justjake/querylink/pkg/normalize"
	"github.com/justjake/querylink/pkg/observability"
	"github.com/justjake/querylink/pkg/registry"
	"github.com/justjake/querylink/pkg/servers"
	"github.com/justjake/querylink/pkg/workers"
)

// maxEnsureAttempts bounds how many times Execute re-ensures a connection
// that disappeared before it could be checked out.
const maxEnsureAttempts = 3

// ServerSource looks up saved servers by id. It returns an error wrapping
// servers.ErrNotFound for unknown ids. *servers.Store implements it.
type ServerSource interface {
	GetServer(ctx context.Context, id int64) (servers.Server, error)
}

// Dialer opens new backend connections. *backend.Connector implements it.
type Dialer interface {
	Connect(ctx context.Context, target backend.Target) (backend.Conn, error)
}

// Options configures an Executor.
type Options struct {
	Servers ServerSource

	// Connector defaults to a backend.Connector with the default timeout.
	Connector Dialer

	// Workers runs connects and statements. Defaults to workers.New(0).
	Workers *workers.Pool

	Logger *slog.Logger

	// Metrics may be nil.
	Metrics *observability.Metrics

	// DiscardOnTransportError closes a connection whose statement failed
	// because the connection itself broke, rather than caching it again.
	DiscardOnTransportError bool

	// Observer, if set, sees every state transition.
	Observer Observer
}

// Executor runs statements against saved servers. It owns the connection
// registry; share one Executor per process.
type Executor struct {
	servers   ServerSource
	connector Dialer
	workers   *workers.Pool
	logger    *slog.Logger
	metrics   *observability.Metrics
	observer  Observer
	discard   bool

	registry  *registry.Registry[backend.Conn]
	locks     keyLocks
	resolving singleflight.Group

	// afterEnsure runs between ensure and checkout. Tests use it to remove
	// the key in that window.
	afterEnsure func(registry.Key)
}

// NewExecutor creates an Executor with an empty registry.
func NewExecutor(opts Options) *Executor {
	e := &Executor{
		servers:   opts.Servers,
		connector: opts.Connector,
		workers:   opts.Workers,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		observer:  opts.Observer,
		discard:   opts.DiscardOnTransportError,
	}
	if e.connector == nil {
		e.connector = &backend.Connector{}
	}
	if e.workers == nil {
		e.workers = workers.New(0)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.registry = registry.New(e.closeConn)
	return e
}

func (e *Executor) closeConn(key registry.Key, conn backend.Conn) {
	if err := conn.Close(); err != nil {
		e.logger.Warn("error closing connection", "key", key.String(), "error", err)
		return
	}
	e.logger.Debug("closed connection", "key", key.String())
}

func (e *Executor) emit(ev Event) {
	if e.observer != nil {
		e.observer(ev)
	}
}

func (e *Executor) updateGauge() {
	e.metrics.SetCachedConnections(e.registry.Len())
}

// Resolve computes the registry key for a request and returns the server it
// refers to, with any password secret resolved. An empty database means the
// server's default database, or the backend's default if it has none.
//
// Concurrent lookups of the same server id share one call to the
// ServerSource.
func (e *Executor) Resolve(ctx context.Context, serverID int64, database string) (registry.Key, servers.Server, error) {
	// The shared lookup outlives any one caller's context. Each caller
	// stops waiting when its own ctx ends.
	flight := e.resolving.DoChan(strconv.FormatInt(serverID, 10), func() (any, error) {
		return e.servers.GetServer(context.WithoutCancel(ctx), serverID)
	})
	var res singleflight.Result
	select {
	case res = <-flight:
	case <-ctx.Done():
		return registry.Key{}, servers.Server{}, fmt.Errorf("resolve server %d: %w", serverID, ctx.Err())
	}
	v, err := res.Val, res.Err
	if err != nil {
		if errors.Is(err, servers.ErrNotFound) {
			return registry.Key{}, servers.Server{}, fmt.Errorf("%w: %w", ErrConfigNotFound, err)
		}
		return registry.Key{}, servers.Server{}, fmt.Errorf("resolve server %d: %w", serverID, err)
	}
	srv := v.(servers.Server)
	key := registry.Key{ServerID: serverID, Database: srv.ResolveDatabase(database)}
	return key, srv, nil
}

// Connect makes sure a connection is cached for the server and database,
// connecting if needed, and returns its key.
func (e *Executor) Connect(ctx context.Context, serverID int64, database string) (registry.Key, error) {
	key, srv, err := e.Resolve(ctx, serverID, database)
	if err != nil {
		return registry.Key{}, err
	}
	release, err := e.locks.acquire(ctx, key)
	if err != nil {
		return registry.Key{}, err
	}
	defer release()
	return key, e.ensure(ctx, key, srv)
}

// Execute runs query on the server and database and returns every row of
// its first result set. A statement that returns no rows yields an empty,
// non-nil slice.
//
// Errors are ErrConfigNotFound, *ConnectError, *QueryError,
// ErrInvariantViolation, or ctx's error if ctx ended while waiting.
func (e *Executor) Execute(ctx context.Context, serverID int64, database, query string) ([]normalize.Row, error) {
	key, srv, err := e.Resolve(ctx, serverID, database)
	if err != nil {
		e.emit(Event{Key: registry.Key{ServerID: serverID, Database: database}, State: StateFailed, Err: err})
		return nil, err
	}

	conn, err := e.checkout(ctx, key, srv)
	if err != nil {
		e.emit(Event{Key: key, State: StateFailed, Err: err})
		return nil, err
	}
	e.emit(Event{Key: key, State: StateCheckedOut, Conn: conn})

	e.emit(Event{Key: key, State: StateExecuting, Conn: conn})
	start := time.Now()
	rows, err := workers.Do(ctx, e.workers, func() ([]normalize.Row, error) {
		return backend.Execute(ctx, conn, query)
	})
	e.metrics.RecordQuery(string(conn.Kind()), time.Since(start), err == nil)

	e.checkin(key, conn, err)
	if err != nil {
		e.logger.Debug("query failed", "key", key.String(), "error", err)
		return nil, err
	}
	return rows, nil
}

// checkout ensures a connection is cached for key, then takes it. It holds
// key's lock throughout so another caller cannot take the connection this
// one just ensured.
func (e *Executor) checkout(ctx context.Context, key registry.Key, srv servers.Server) (backend.Conn, error) {
	release, err := e.locks.acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	defer release()

	for attempt := 1; attempt <= maxEnsureAttempts; attempt++ {
		e.emit(Event{Key: key, State: StateEnsuringConnection})
		if err := e.ensure(ctx, key, srv); err != nil {
			return nil, err
		}
		if e.afterEnsure != nil {
			e.afterEnsure(key)
		}
		if conn, ok := e.registry.Checkout(key); ok {
			e.updateGauge()
			return conn, nil
		}
		e.logger.Warn("connection removed between ensure and checkout", "key", key.String(), "attempt", attempt)
	}

	err = fmt.Errorf("%w: no connection for %s after %d ensure attempts", ErrInvariantViolation, key, maxEnsureAttempts)
	e.logger.Error("checkout failed", "key", key.String(), "error", err)
	return nil, err
}

// ensure connects and caches a connection for key if none is cached. The
// connect runs on a worker without any registry lock held.
func (e *Executor) ensure(ctx context.Context, key registry.Key, srv servers.Server) error {
	if e.registry.Contains(key) {
		e.metrics.RecordCheckout(true)
		return nil
	}
	e.metrics.RecordCheckout(false)

	target := srv.Target(key.Database)
	start := time.Now()
	conn, err := workers.Do(ctx, e.workers, func() (backend.Conn, error) {
		return e.connector.Connect(ctx, target)
	})
	e.metrics.RecordConnect(string(target.Kind), time.Since(start), err == nil)
	if err != nil {
		e.logger.Warn("connect failed", "key", key.String(), "addr", target.Addr(), "error", err)
		return err
	}
	e.logger.Debug("connected", "key", key.String(), "addr", target.Addr(), "duration", time.Since(start))

	if !e.registry.CheckinIfAbsent(key, conn) {
		e.metrics.RecordDiscard("redundant")
	}
	e.updateGauge()
	return nil
}

// checkin returns conn to the registry after a statement, unless it is no
// longer usable.
func (e *Executor) checkin(key registry.Key, conn backend.Conn, execErr error) {
	switch {
	case e.discard && execErr != nil && backend.IsTransportError(execErr):
		e.logger.Info("discarding connection after transport error", "key", key.String(), "error", execErr)
		e.metrics.RecordDiscard("transport")
		e.closeConn(key, conn)
		e.emit(Event{Key: key, State: StateFailed, Conn: conn, Err: execErr})
		return
	case conn.IsClosed():
		e.metrics.RecordDiscard("closed")
		e.closeConn(key, conn)
		e.emit(Event{Key: key, State: StateFailed, Conn: conn, Err: execErr})
		return
	}

	// Emit before the conn is visible to other callers, so observers never
	// see its next checkout ahead of this checkin.
	e.emit(Event{Key: key, State: StateCheckedIn, Conn: conn, Err: execErr})
	if !e.registry.CheckinIfAbsent(key, conn) {
		e.metrics.RecordDiscard("redundant")
	}
	e.updateGauge()
}

// Disconnect closes the cached connection for database on the server, or
// every cached connection for the server if database is empty. It returns
// how many were closed. A connection checked out at the time is not
// affected and is cached again when its statement finishes.
func (e *Executor) Disconnect(serverID int64, database string) int {
	defer e.updateGauge()
	if database == "" {
		e.locks.forget(func(k registry.Key) bool { return k.ServerID == serverID })
		return e.registry.RemoveAll(serverID)
	}
	key := registry.Key{ServerID: serverID, Database: database}
	e.locks.forget(func(k registry.Key) bool { return k == key })
	if e.registry.Remove(key) {
		return 1
	}
	return 0
}

// Cached returns the keys with a cached idle connection.
func (e *Executor) Cached() []registry.Key {
	return e.registry.Keys()
}

// Close closes every cached connection. Call it at process shutdown.
func (e *Executor) Close() {
	e.registry.Close()
	e.locks.close()
	e.updateGauge()
}
