// Package moderation keeps the player lists stored under the ranks directory
// and expires temporary entries.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"

	"github.com/RandomStrangers/MCGalaxy-Extended/internal/logfields"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/manifest"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/scheduler"
)

// Standard list names.
const (
	Banned   = "banned"
	Muted    = "muted"
	Frozen   = "frozen"
	TempBans = "tempbans"
	TempMute = "tempmutes"
)

var permanentLists = []string{Banned, Muted, Frozen}

// temporaryLists hold "name=unix-expiry" entries.
var temporaryLists = []string{TempBans, TempMute}

// List is a named set of player names, optionally with expiry times.
type List struct {
	name    string
	path    string
	entries map[string]entry
}

type entry struct {
	name    string
	expires time.Time
}

func fold(name string) string { return cases.Fold().String(strings.TrimSpace(name)) }

// Lists holds every moderation list.
type Lists struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	lists map[string]*List
}

// New creates empty lists stored under dir.
func New(dir string, logger *slog.Logger) *Lists {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lists{
		dir:    dir,
		logger: logger.With(slog.String("component", "moderation")),
		now:    time.Now,
		lists:  map[string]*List{},
	}
}

// Load reads every standard list. Missing files are created empty.
func (l *Lists) Load(_ context.Context) error {
	var errs []error
	for _, name := range append(append([]string{}, permanentLists...), temporaryLists...) {
		if err := l.load(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (l *Lists) load(name string) error {
	path := filepath.Join(l.dir, name+".txt")
	lines, _, err := manifest.Read(path)
	if err != nil {
		return err
	}
	list := &List{name: name, path: path, entries: map[string]entry{}}
	for _, line := range lines {
		player, expiry := manifest.SplitPair(line)
		e := entry{name: player}
		if expiry != "" {
			secs, err := strconv.ParseInt(expiry, 10, 64)
			if err != nil {
				l.logger.Warn("Skipping malformed list entry", logfields.Path(path), slog.String("entry", line))
				continue
			}
			e.expires = time.Unix(secs, 0)
		}
		list.entries[fold(player)] = e
	}
	l.mu.Lock()
	l.lists[name] = list
	l.mu.Unlock()
	l.logger.Debug("Loaded list", slog.String("list", name), slog.Int("entries", len(list.entries)))
	return nil
}

func (l *Lists) list(name string) (*List, error) {
	list, ok := l.lists[name]
	if !ok {
		return nil, fmt.Errorf("list %s is not loaded", name)
	}
	return list, nil
}

// Contains reports whether player is on the list and not expired.
func (l *Lists) Contains(name, player string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	list, ok := l.lists[name]
	if !ok {
		return false
	}
	e, ok := list.entries[fold(player)]
	return ok && (e.expires.IsZero() || e.expires.After(l.now()))
}

// Add puts player on the list and saves it. A zero expires adds a permanent entry.
func (l *Lists) Add(name, player string, expires time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	list, err := l.list(name)
	if err != nil {
		return err
	}
	list.entries[fold(player)] = entry{name: player, expires: expires}
	return list.save()
}

// Remove takes player off the list and saves it. It reports whether the player was listed.
func (l *Lists) Remove(name, player string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	list, err := l.list(name)
	if err != nil {
		return false, err
	}
	if _, ok := list.entries[fold(player)]; !ok {
		return false, nil
	}
	delete(list.entries, fold(player))
	return true, list.save()
}

// Names returns the players on a list, sorted.
func (l *Lists) Names(name string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	list, ok := l.lists[name]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list.entries))
	for _, e := range list.entries {
		out = append(out, e.name)
	}
	sort.Strings(out)
	return out
}

// ExpireTemporary drops expired entries from the temporary lists and returns how many went.
func (l *Lists) ExpireTemporary() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	removed := 0
	var errs []error
	for _, name := range temporaryLists {
		list, ok := l.lists[name]
		if !ok {
			continue
		}
		changed := false
		for k, e := range list.entries {
			if !e.expires.IsZero() && !e.expires.After(now) {
				delete(list.entries, k)
				l.logger.Info("Temporary entry expired", slog.String("list", name), logfields.Session(e.name))
				removed++
				changed = true
			}
		}
		if changed {
			if err := list.save(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return removed, errors.Join(errs...)
}

// MaintenanceTask is the scheduler callback that expires temporary entries.
func (l *Lists) MaintenanceTask(_ context.Context, _ *scheduler.Task) error {
	_, err := l.ExpireTemporary()
	return err
}

func (list *List) save() error {
	lines := make([]string, 0, len(list.entries))
	for _, e := range list.entries {
		if e.expires.IsZero() {
			lines = append(lines, e.name)
			continue
		}
		lines = append(lines, e.name+"="+strconv.FormatInt(e.expires.Unix(), 10))
	}
	sort.Strings(lines)
	return manifest.Write(list.path, lines)
}
