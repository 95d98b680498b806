package registry

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id     int
	closed atomic.Bool
}

func newTestRegistry() (*Registry[*fakeConn], *[]Key) {
	var mu sync.Mutex
	closed := &[]Key{}
	r := New(func(k Key, c *fakeConn) {
		c.closed.Store(true)
		mu.Lock()
		*closed = append(*closed, k)
		mu.Unlock()
	})
	return r, closed
}

func TestRegistry_CheckoutAbsentBeforeCheckin(t *testing.T) {
	r, _ := newTestRegistry()
	key := Key{ServerID: 1, Database: "app"}

	_, ok := r.Checkout(key)
	assert.False(t, ok, "unused key should be absent")

	conn := &fakeConn{id: 1}
	_, replaced := r.Checkin(key, conn)
	assert.False(t, replaced)

	got, ok := r.Checkout(key)
	require.True(t, ok)
	assert.Same(t, conn, got)

	_, ok = r.Checkout(key)
	assert.False(t, ok, "checked out key must not be cached twice")
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_KeysAreComposite(t *testing.T) {
	r, _ := newTestRegistry()
	a := &fakeConn{id: 1}
	b := &fakeConn{id: 2}
	c := &fakeConn{id: 3}
	r.Checkin(Key{ServerID: 1, Database: "app"}, a)
	r.Checkin(Key{ServerID: 1, Database: "other"}, b)
	r.Checkin(Key{ServerID: 2, Database: "app"}, c)

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []Key{
		{ServerID: 1, Database: "app"},
		{ServerID: 1, Database: "other"},
		{ServerID: 2, Database: "app"},
	}, r.Keys())

	got, ok := r.Checkout(Key{ServerID: 2, Database: "app"})
	require.True(t, ok)
	assert.Same(t, c, got)
}

func TestRegistry_CheckinOverwriteReturnsDisplaced(t *testing.T) {
	r, closed := newTestRegistry()
	key := Key{ServerID: 1, Database: "app"}
	first := &fakeConn{id: 1}
	second := &fakeConn{id: 2}

	r.Checkin(key, first)
	displaced, replaced := r.Checkin(key, second)
	require.True(t, replaced)
	assert.Same(t, first, displaced)
	assert.False(t, first.closed.Load(), "displaced connection is handed back, not closed")
	assert.Empty(t, *closed)

	got, _ := r.Checkout(key)
	assert.Same(t, second, got)
}

func TestRegistry_CheckinIfAbsent(t *testing.T) {
	r, closed := newTestRegistry()
	key := Key{ServerID: 1, Database: "app"}
	first := &fakeConn{id: 1}
	second := &fakeConn{id: 2}

	assert.True(t, r.CheckinIfAbsent(key, first))
	assert.False(t, r.CheckinIfAbsent(key, second))
	assert.True(t, second.closed.Load(), "redundant connection should be closed")
	assert.False(t, first.closed.Load())
	assert.Equal(t, []Key{key}, *closed)

	got, ok := r.Checkout(key)
	require.True(t, ok)
	assert.Same(t, first, got)
}

func TestRegistry_Remove(t *testing.T) {
	r, closed := newTestRegistry()
	key := Key{ServerID: 1, Database: "app"}
	conn := &fakeConn{id: 1}
	r.Checkin(key, conn)

	assert.True(t, r.Contains(key))
	assert.True(t, r.Remove(key))
	assert.True(t, conn.closed.Load())
	assert.False(t, r.Contains(key))
	assert.False(t, r.Remove(key))
	assert.Len(t, *closed, 1)
}

func TestRegistry_RemoveAll(t *testing.T) {
	r, _ := newTestRegistry()
	a := &fakeConn{id: 1}
	b := &fakeConn{id: 2}
	other := &fakeConn{id: 3}
	r.Checkin(Key{ServerID: 1, Database: "app"}, a)
	r.Checkin(Key{ServerID: 1, Database: "postgres"}, b)
	r.Checkin(Key{ServerID: 2, Database: "app"}, other)

	assert.Equal(t, 2, r.RemoveAll(1))
	assert.True(t, a.closed.Load())
	assert.True(t, b.closed.Load())
	assert.False(t, other.closed.Load())

	_, ok := r.Checkout(Key{ServerID: 1, Database: "app"})
	assert.False(t, ok)
	assert.Equal(t, 0, r.RemoveAll(1))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_RemoveWhileCheckedOut(t *testing.T) {
	r, _ := newTestRegistry()
	key := Key{ServerID: 1, Database: "app"}
	conn := &fakeConn{id: 1}
	r.Checkin(key, conn)

	held, ok := r.Checkout(key)
	require.True(t, ok)

	// Not detected: the holder's checkin puts it back.
	assert.False(t, r.Remove(key))
	r.Checkin(key, held)
	assert.True(t, r.Contains(key))
	assert.False(t, conn.closed.Load())
}

func TestRegistry_Close(t *testing.T) {
	r, closed := newTestRegistry()
	r.Checkin(Key{ServerID: 1, Database: "a"}, &fakeConn{})
	r.Checkin(Key{ServerID: 2, Database: "b"}, &fakeConn{})

	r.Close()
	assert.Equal(t, 0, r.Len())
	assert.Len(t, *closed, 2)
}

func TestRegistry_ConcurrentCheckoutIsExclusive(t *testing.T) {
	const numGoroutines = 50
	const numOps = 200

	r, _ := newTestRegistry()
	key := Key{ServerID: 1, Database: "app"}
	r.Checkin(key, &fakeConn{id: 1})

	var holders atomic.Int32
	var maxHolders atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < numOps; j++ {
				conn, ok := r.Checkout(key)
				if !ok {
					continue
				}
				n := holders.Add(1)
				for {
					m := maxHolders.Load()
					if n <= m || maxHolders.CompareAndSwap(m, n) {
						break
					}
				}
				holders.Add(-1)
				r.Checkin(key, conn)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxHolders.Load(), "only one goroutine may hold the connection")
	assert.Equal(t, 1, r.Len())
}
