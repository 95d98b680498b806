// Package registry caches live connections keyed by (server, database).
//
// A cached connection is owned by the Registry while idle. Checkout moves
// ownership to the caller and removes the key; Checkin moves it back. A key is
// therefore never observable as both cached and in use.
//
// The Registry's lock guards only the map. Closing connections, connecting,
// and running queries all happen outside it.
package registry

import (
	"fmt"
	"sort"
	"sync"
)

// Key identifies one cached connection.
type Key struct {
	ServerID int64
	Database string
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%s", k.ServerID, k.Database)
}

// Registry is a process-wide cache of idle connections of type C.
// Construct one with New and share it; it is safe for concurrent use.
type Registry[C any] struct {
	mu    sync.Mutex
	conns map[int64]map[string]C

	// closeFn disposes of evicted or displaced connections. Always called
	// without mu held.
	closeFn func(Key, C)
}

// New creates an empty Registry. closeFn is called for every connection the
// Registry discards; it may be nil.
func New[C any](closeFn func(Key, C)) *Registry[C] {
	if closeFn == nil {
		closeFn = func(Key, C) {}
	}
	return &Registry[C]{
		conns:   make(map[int64]map[string]C),
		closeFn: closeFn,
	}
}

// Checkout removes and returns the connection cached for key. The boolean is
// false if nothing is cached, which is not an error: the caller is expected
// to connect and retry.
func (r *Registry[C]) Checkout(key Key) (C, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero C
	dbs, ok := r.conns[key.ServerID]
	if !ok {
		return zero, false
	}
	conn, ok := dbs[key.Database]
	if !ok {
		return zero, false
	}
	delete(dbs, key.Database)
	if len(dbs) == 0 {
		delete(r.conns, key.ServerID)
	}
	return conn, true
}

// Checkin caches conn under key, replacing any existing entry. A displaced
// connection is returned to the caller, not closed.
func (r *Registry[C]) Checkin(key Key, conn C) (displaced C, replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dbs := r.conns[key.ServerID]
	if dbs == nil {
		dbs = make(map[string]C)
		r.conns[key.ServerID] = dbs
	}
	displaced, replaced = dbs[key.Database]
	dbs[key.Database] = conn
	return displaced, replaced
}

// CheckinIfAbsent caches conn under key only if nothing is cached there yet.
// If the key is taken, conn is closed as redundant and false is returned.
func (r *Registry[C]) CheckinIfAbsent(key Key, conn C) bool {
	r.mu.Lock()
	dbs := r.conns[key.ServerID]
	if dbs == nil {
		dbs = make(map[string]C)
		r.conns[key.ServerID] = dbs
	}
	if _, taken := dbs[key.Database]; taken {
		r.mu.Unlock()
		r.closeFn(key, conn)
		return false
	}
	dbs[key.Database] = conn
	r.mu.Unlock()
	return true
}

// Contains reports whether a connection is cached for key.
func (r *Registry[C]) Contains(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[key.ServerID][key.Database]
	return ok
}

// Remove evicts and closes the connection cached for key. It reports whether
// anything was cached. A connection that is checked out at the time is not
// seen, and a later Checkin will cache it again.
func (r *Registry[C]) Remove(key Key) bool {
	r.mu.Lock()
	dbs := r.conns[key.ServerID]
	conn, ok := dbs[key.Database]
	if ok {
		delete(dbs, key.Database)
		if len(dbs) == 0 {
			delete(r.conns, key.ServerID)
		}
	}
	r.mu.Unlock()

	if ok {
		r.closeFn(key, conn)
	}
	return ok
}

// RemoveAll evicts and closes every connection cached for serverID and
// returns how many there were.
func (r *Registry[C]) RemoveAll(serverID int64) int {
	r.mu.Lock()
	dbs := r.conns[serverID]
	delete(r.conns, serverID)
	r.mu.Unlock()

	for db, conn := range dbs {
		r.closeFn(Key{ServerID: serverID, Database: db}, conn)
	}
	return len(dbs)
}

// Len returns the number of cached connections.
func (r *Registry[C]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, dbs := range r.conns {
		n += len(dbs)
	}
	return n
}

// Keys returns the cached keys, sorted by server then database.
func (r *Registry[C]) Keys() []Key {
	r.mu.Lock()
	keys := make([]Key, 0, len(r.conns))
	for id, dbs := range r.conns {
		for db := range dbs {
			keys = append(keys, Key{ServerID: id, Database: db})
		}
	}
	r.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ServerID != keys[j].ServerID {
			return keys[i].ServerID < keys[j].ServerID
		}
		return keys[i].Database < keys[j].Database
	})
	return keys
}

// Close evicts and closes everything. Used at process shutdown.
func (r *Registry[C]) Close() {
	r.mu.Lock()
	all := r.conns
	r.conns = make(map[int64]map[string]C)
	r.mu.Unlock()

	for id, dbs := range all {
		for db, conn := range dbs {
			r.closeFn(Key{ServerID: id, Database: db}, conn)
		}
	}
}
