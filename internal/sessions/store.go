package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Stats are the persisted per-player counters.
type Stats struct {
	Name        string
	Logins      int64
	TimeOnline  time.Duration
	Messages    int64
	BlocksMoved int64
	FirstLogin  time.Time
	LastSeen    time.Time
}

// Store persists Stats in SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// OpenStore opens or creates the stats database at path. Use ":memory:" in tests.
func OpenStore(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create stats directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS player_stats (
		name TEXT PRIMARY KEY COLLATE NOCASE,
		logins INTEGER NOT NULL DEFAULT 0,
		time_online_ms INTEGER NOT NULL DEFAULT 0,
		messages INTEGER NOT NULL DEFAULT 0,
		blocks_moved INTEGER NOT NULL DEFAULT 0,
		first_login INTEGER NOT NULL,
		last_seen INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get returns the stats for name, or ok=false when none are stored.
func (s *Store) Get(ctx context.Context, name string) (Stats, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		st              Stats
		onlineMS        int64
		first, lastSeen int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT name, logins, time_online_ms, messages, blocks_moved, first_login, last_seen FROM player_stats WHERE name = ?",
		name,
	).Scan(&st.Name, &st.Logins, &onlineMS, &st.Messages, &st.BlocksMoved, &first, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return Stats{}, false, nil
	}
	if err != nil {
		return Stats{}, false, fmt.Errorf("query stats: %w", err)
	}
	st.TimeOnline = time.Duration(onlineMS) * time.Millisecond
	st.FirstLogin = time.UnixMilli(first)
	st.LastSeen = time.UnixMilli(lastSeen)
	return st, true, nil
}

// Save upserts st, replacing any stored row for the same name.
func (s *Store) Save(ctx context.Context, st Stats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO player_stats (name, logins, time_online_ms, messages, blocks_moved, first_login, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			logins = excluded.logins,
			time_online_ms = excluded.time_online_ms,
			messages = excluded.messages,
			blocks_moved = excluded.blocks_moved,
			last_seen = excluded.last_seen`,
		st.Name, st.Logins, st.TimeOnline.Milliseconds(), st.Messages, st.BlocksMoved,
		st.FirstLogin.UnixMilli(), st.LastSeen.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save stats for %s: %w", st.Name, err)
	}
	return nil
}

// Count returns the number of players with stored stats.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM player_stats").Scan(&n); err != nil {
		return 0, fmt.Errorf("count stats: %w", err)
	}
	return n, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
