package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"golang.org/x/text/cases"

	ferrors "github.com/RandomStrangers/MCGalaxy-Extended/internal/foundation/errors"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/logfields"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/metrics"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/scheduler"
)

// Table is the set of connected sessions keyed by case-folded player name.
type Table struct {
	sessions   cmap.ConcurrentMap[string, *Session]
	store      *Store
	afkTimeout time.Duration
	queueSize  int
	logger     *slog.Logger
	recorder   metrics.Recorder
	now        func() time.Time
}

// TableOption configures a Table.
type TableOption func(*Table)

// WithQueueSize sets how many outbound lines each session may buffer before
// it is dropped.
func WithQueueSize(n int) TableOption { return func(t *Table) { t.queueSize = n } }

// NewTable creates an empty table. A nil store disables stats persistence.
func NewTable(store *Store, afkTimeout time.Duration, logger *slog.Logger, recorder metrics.Recorder, opts ...TableOption) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Table{
		sessions:   cmap.New[*Session](),
		store:      store,
		afkTimeout: afkTimeout,
		queueSize:  DefaultQueueSize,
		logger:     logger.With(slog.String("component", "sessions")),
		recorder:   metrics.OrNoop(recorder),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func key(name string) string { return cases.Fold().String(strings.TrimSpace(name)) }

// Join adds a session for name. A session already using the name is kicked
// and flushed first.
func (t *Table) Join(ctx context.Context, name string, conn Conn) (*Session, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ferrors.RuntimeError("player name is required").Build()
	}
	now := t.now()
	base := Stats{Name: name, FirstLogin: now}
	if t.store != nil {
		stored, ok, err := t.store.Get(ctx, name)
		if err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "load player stats").Build()
		}
		if ok {
			base = stored
		}
	}
	base.Logins++

	s := newSession(name, conn, base, now, t.queueSize, func() {
		t.logger.Warn("Dropped session that stopped reading", logfields.Session(name),
			slog.Int("queue_size", t.queueSize))
	})
	var previous *Session
	t.sessions.Upsert(key(name), s, func(exists bool, old, newer *Session) *Session {
		if exists {
			previous = old
		}
		return newer
	})
	if previous != nil {
		previous.Kick("Someone logged in as you!")
		if err := t.save(ctx, previous); err != nil {
			t.logger.Error("Failed to save stats of replaced session", logfields.Session(name), logfields.Error(err))
		}
	}
	t.recorder.SetSessions(t.sessions.Count())
	t.logger.Info("Player connected", logfields.Session(name), slog.String("addr", conn.RemoteAddr()))
	return s, nil
}

// Leave removes s, closes its connection and saves its stats. A session
// already replaced by a newer login is only saved.
func (t *Table) Leave(ctx context.Context, s *Session) error {
	s.out.close()
	t.sessions.RemoveCb(key(s.name), func(_ string, current *Session, exists bool) bool {
		return exists && current == s
	})
	t.recorder.SetSessions(t.sessions.Count())
	t.logger.Info("Player disconnected", logfields.Session(s.name))
	return t.save(ctx, s)
}

func (t *Table) save(ctx context.Context, s *Session) error {
	if t.store == nil {
		return nil
	}
	return t.store.Save(ctx, s.Snapshot(t.now()))
}

// Get finds a session by player name.
func (t *Table) Get(name string) (*Session, bool) { return t.sessions.Get(key(name)) }

// Count returns the number of connected sessions.
func (t *Table) Count() int { return t.sessions.Count() }

// List returns the sessions sorted by name.
func (t *Table) List() []*Session {
	items := t.sessions.Items()
	out := make([]*Session, 0, len(items))
	for _, s := range items {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return key(out[i].name) < key(out[j].name) })
	return out
}

// FlushAll persists the stats of every connected session.
func (t *Table) FlushAll(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	var errs []error
	for _, s := range t.List() {
		if err := t.save(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "flush player stats").Build()
	}
	t.logger.Debug("Flushed player stats", slog.Int("sessions", t.Count()))
	return nil
}

// Broadcast queues msg for every session. It never blocks on a client.
func (t *Table) Broadcast(msg string) {
	for _, s := range t.List() {
		s.Send(msg)
	}
}

// KickAll sends reason to every session and closes its connection.
func (t *Table) KickAll(reason string) {
	for _, s := range t.List() {
		s.Kick(reason)
	}
}

// PositionTick queues each moved session's position for every other session.
// It runs on the critical domain and never blocks on storage or clients.
func (t *Table) PositionTick(_ context.Context, _ *scheduler.Task) error {
	all := t.List()
	for _, mover := range all {
		pos, moved := mover.pendingPosition()
		if !moved {
			continue
		}
		for _, other := range all {
			if other == mover {
				continue
			}
			other.sendPosition(mover.id, pos)
		}
	}
	return nil
}

// Tick is the fast per-session housekeeping pass. It marks idle players AFK.
func (t *Table) Tick(_ context.Context, _ *scheduler.Task) error {
	if t.afkTimeout <= 0 {
		return nil
	}
	now := t.now()
	for _, s := range t.List() {
		if s.markIdle(now, t.afkTimeout) {
			t.Broadcast(fmt.Sprintf("-%s- is AFK auto", s.name))
		}
	}
	return nil
}
