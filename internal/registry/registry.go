// Package registry provides the name-keyed tables that loaded commands and
// plugins are registered into.
package registry

import (
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"

	ferrors "github.com/RandomStrangers/MCGalaxy-Extended/internal/foundation/errors"
)

// Entry is anything that can be registered under a unique name.
type Entry interface {
	Name() string
}

// Shortcutter is implemented by entries that can also be found by an alias.
type Shortcutter interface {
	Shortcut() string
}

// Registry maps case-insensitive unique names to entries. Batches register all-or-nothing
// and readers never observe a partially registered batch.
type Registry[T Entry] struct {
	mu        sync.RWMutex
	kind      string
	entries   map[string]T
	shortcuts map[string]string // folded shortcut -> folded name
}

// New creates an empty registry. kind names the entries in error messages ("command", "plugin").
func New[T Entry](kind string) *Registry[T] {
	return &Registry[T]{
		kind:      kind,
		entries:   make(map[string]T),
		shortcuts: make(map[string]string),
	}
}

// fold normalises a key. A Caser is stateful so one is created per call.
func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// Register adds a single entry.
func (r *Registry[T]) Register(item T) error {
	return r.RegisterAll([]T{item})
}

// RegisterAll adds every item or none of them. It fails with a NameCollision error
// when any item's name is empty, duplicated within the batch, or already taken by an
// existing entry's name or shortcut. A shortcut that is already taken is skipped
// without failing the batch.
func (r *Registry[T]) RegisterAll(items []T) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkLocked(items); err != nil {
		return err
	}
	for _, item := range items {
		r.entries[fold(item.Name())] = item
	}
	for _, item := range items {
		if sc, ok := any(item).(Shortcutter); ok {
			short := fold(sc.Shortcut())
			if short != "" && !r.takenLocked(short) {
				r.shortcuts[short] = fold(item.Name())
			}
		}
	}
	return nil
}

// CheckAll reports the error RegisterAll would return for items, without registering them.
func (r *Registry[T]) CheckAll(items []T) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.checkLocked(items)
}

func (r *Registry[T]) checkLocked(items []T) error {
	seen := make(map[string]struct{}, len(items))
	var clashes []string
	for _, item := range items {
		key := fold(item.Name())
		if key == "" {
			return ferrors.NameCollision(r.kind + " has an empty name").Build()
		}
		_, inBatch := seen[key]
		if inBatch || r.takenLocked(key) {
			clashes = append(clashes, item.Name())
		}
		seen[key] = struct{}{}
	}
	if len(clashes) > 0 {
		return ferrors.NameCollision(r.kind+" already loaded").
			WithContext("names", strings.Join(clashes, ", ")).Build()
	}
	return nil
}

func (r *Registry[T]) takenLocked(key string) bool {
	if _, ok := r.entries[key]; ok {
		return true
	}
	_, ok := r.shortcuts[key]
	return ok
}

// Unregister removes the named entries and the shortcuts pointing at them.
// It returns how many entries were removed.
func (r *Registry[T]) Unregister(names ...string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for _, name := range names {
		key := fold(name)
		if _, ok := r.entries[key]; !ok {
			continue
		}
		delete(r.entries, key)
		removed++
		for short, target := range r.shortcuts {
			if target == key {
				delete(r.shortcuts, short)
			}
		}
	}
	return removed
}

// Get returns the entry registered under name, ignoring shortcuts.
func (r *Registry[T]) Get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.entries[fold(name)]
	return item, ok
}

// Find resolves a name or a shortcut.
func (r *Registry[T]) Find(nameOrShortcut string) (T, bool) {
	key := fold(nameOrShortcut)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if item, ok := r.entries[key]; ok {
		return item, true
	}
	if target, ok := r.shortcuts[key]; ok {
		item, ok := r.entries[target]
		return item, ok
	}
	var zero T
	return zero, false
}

// List returns all entries sorted by name.
func (r *Registry[T]) List() []T {
	r.mu.RLock()
	out := make([]T, 0, len(r.entries))
	for _, item := range r.entries {
		out = append(out, item)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return fold(out[i].Name()) < fold(out[j].Name()) })
	return out
}

// Len returns the number of registered entries.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
