package sessions

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu        sync.Mutex
	messages  []string
	positions map[string]Position
	closed    bool
}

func newFakeConn() *fakeConn { return &fakeConn{positions: map[string]Position{}} }

func (*fakeConn) RemoteAddr() string { return "127.0.0.1:1" }

func (c *fakeConn) SendMessage(msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	return nil
}

func (c *fakeConn) SendPosition(id string, pos Position) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.positions[id] = pos
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.messages...)
}

func (c *fakeConn) position(id string) (Position, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pos, ok := c.positions[id]
	return pos, ok
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// flush waits until everything queued for s before this call was written to c.
func flush(t *testing.T, s *Session, c *fakeConn) {
	t.Helper()
	marker := "flush-" + s.ID()
	require.True(t, s.Send(marker))
	require.Eventually(t, func() bool {
		msgs := c.sent()
		return len(msgs) > 0 && msgs[len(msgs)-1] == marker
	}, time.Second, time.Millisecond)
	c.mu.Lock()
	c.messages = c.messages[:len(c.messages)-1]
	c.mu.Unlock()
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestTable(t *testing.T) (*Table, *Store, *clock) {
	t.Helper()
	store, err := OpenStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	table := NewTable(store, time.Minute, nil, nil)
	table.now = c.now
	return table, store, c
}

func TestStoreRoundTrip(t *testing.T) {
	store, err := OpenStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	at := time.UnixMilli(1_700_000_000_000)
	require.NoError(t, store.Save(ctx, Stats{Name: "Alice", Logins: 2, TimeOnline: 90 * time.Second, FirstLogin: at, LastSeen: at}))
	require.NoError(t, store.Save(ctx, Stats{Name: "alice", Logins: 3, TimeOnline: 2 * time.Minute, FirstLogin: at, LastSeen: at}))

	got, ok, err := store.Get(ctx, "ALICE")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), got.Logins)
	assert.Equal(t, 2*time.Minute, got.TimeOnline)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestJoinLoadsStatsAndLeaveSaves(t *testing.T) {
	table, store, c := newTestTable(t)
	ctx := context.Background()

	s, err := table.Join(ctx, "Bob", newFakeConn())
	require.NoError(t, err)
	s.Chat(c.t)
	c.t = c.t.Add(10 * time.Minute)
	require.NoError(t, table.Leave(ctx, s))
	assert.Zero(t, table.Count())

	s, err = table.Join(ctx, "bob", newFakeConn())
	require.NoError(t, err)
	require.NoError(t, table.Leave(ctx, s))

	st, ok, err := store.Get(ctx, "bob")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), st.Logins)
	assert.Equal(t, int64(1), st.Messages)
	assert.Equal(t, 10*time.Minute, st.TimeOnline)
}

func TestJoinReplacesExistingSession(t *testing.T) {
	table, _, _ := newTestTable(t)
	ctx := context.Background()
	first := newFakeConn()

	old, err := table.Join(ctx, "carol", first)
	require.NoError(t, err)
	_, err = table.Join(ctx, "Carol", newFakeConn())
	require.NoError(t, err)

	assert.Equal(t, 1, table.Count())
	select {
	case <-old.Closed():
	case <-time.After(time.Second):
		t.Fatal("replaced session was not closed")
	}
	assert.True(t, first.isClosed())
	assert.Equal(t, []string{"Someone logged in as you!"}, first.sent())

	// Leaving with the replaced session keeps the newer one.
	require.NoError(t, table.Leave(ctx, old))
	assert.Equal(t, 1, table.Count())
}

func TestFlushAllSavesEverySession(t *testing.T) {
	table, store, _ := newTestTable(t)
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		_, err := table.Join(ctx, name, newFakeConn())
		require.NoError(t, err)
	}
	require.NoError(t, table.FlushAll(ctx))
	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestPositionTickBroadcastsMovesOnce(t *testing.T) {
	table, _, c := newTestTable(t)
	ctx := context.Background()
	aConn, bConn := newFakeConn(), newFakeConn()
	a, err := table.Join(ctx, "a", aConn)
	require.NoError(t, err)
	b, err := table.Join(ctx, "b", bConn)
	require.NoError(t, err)

	pos := Position{X: 32, Y: 64, Z: 32}
	a.Move(pos, c.t)
	require.NoError(t, table.PositionTick(ctx, nil))
	flush(t, b, bConn)
	flush(t, a, aConn)
	got, ok := bConn.position(a.ID())
	require.True(t, ok)
	assert.Equal(t, pos, got)
	_, ok = aConn.position(a.ID())
	assert.False(t, ok)

	bConn.mu.Lock()
	delete(bConn.positions, a.ID())
	bConn.mu.Unlock()
	require.NoError(t, table.PositionTick(ctx, nil))
	flush(t, b, bConn)
	_, ok = bConn.position(a.ID())
	assert.False(t, ok)
}

func TestTickMarksIdleSessionsAFK(t *testing.T) {
	table, _, c := newTestTable(t)
	ctx := context.Background()
	conn := newFakeConn()
	s, err := table.Join(ctx, "dave", conn)
	require.NoError(t, err)

	require.NoError(t, table.Tick(ctx, nil))
	assert.False(t, s.AFK())

	c.t = c.t.Add(2 * time.Minute)
	require.NoError(t, table.Tick(ctx, nil))
	require.NoError(t, table.Tick(ctx, nil))
	assert.True(t, s.AFK())
	flush(t, s, conn)
	assert.Equal(t, []string{"-dave- is AFK auto"}, conn.sent())

	s.Chat(c.t)
	assert.False(t, s.AFK())
}

// stuckConn blocks every write until it is closed, like a client that stopped reading.
type stuckConn struct {
	release chan struct{}
	once    sync.Once
	writes  atomic.Int32
}

func newStuckConn() *stuckConn { return &stuckConn{release: make(chan struct{})} }

func (*stuckConn) RemoteAddr() string { return "127.0.0.1:2" }

func (c *stuckConn) SendMessage(string) error {
	c.writes.Add(1)
	<-c.release
	return errors.New("use of closed connection")
}

func (c *stuckConn) SendPosition(string, Position) error { return c.SendMessage("") }

func (c *stuckConn) Close() error {
	c.once.Do(func() { close(c.release) })
	return nil
}

func TestTicksDoNotBlockOnStuckClient(t *testing.T) {
	table, _, c := newTestTable(t)
	table.queueSize = 128
	ctx := context.Background()

	stuck := newStuckConn()
	slow, err := table.Join(ctx, "slow", stuck)
	require.NoError(t, err)
	fastConn := newFakeConn()
	fast, err := table.Join(ctx, "fast", fastConn)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 100 {
			fast.Move(Position{X: int16(i + 1)}, c.t)
			_ = table.PositionTick(ctx, nil)
			table.Broadcast("tick")
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ticks blocked on a client that stopped reading")
	}

	assert.True(t, slow.Dropped())
	select {
	case <-slow.Closed():
	case <-time.After(time.Second):
		t.Fatal("dropped session writer did not exit")
	}
	assert.False(t, slow.Send("more"))

	assert.False(t, fast.Dropped())
	flush(t, fast, fastConn)
	assert.Len(t, fastConn.sent(), 100)
}

func TestLeaveFlushesQueuedLinesThenCloses(t *testing.T) {
	table, _, _ := newTestTable(t)
	ctx := context.Background()
	conn := newFakeConn()
	s, err := table.Join(ctx, "erin", conn)
	require.NoError(t, err)

	require.True(t, s.Send("one"))
	require.True(t, s.Send("two"))
	require.NoError(t, table.Leave(ctx, s))
	select {
	case <-s.Closed():
	case <-time.After(time.Second):
		t.Fatal("writer did not exit")
	}
	assert.Equal(t, []string{"one", "two"}, conn.sent())
	assert.True(t, conn.isClosed())
	assert.False(t, s.Send("late"))
}
