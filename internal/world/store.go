package world

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"

	ferrors "github.com/RandomStrangers/MCGalaxy-Extended/internal/foundation/errors"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/logfields"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/manifest"
)

const (
	blocksExt     = ".lvl"
	propertiesExt = ".properties.yaml"
)

// DefaultSize is the size of generated levels.
var DefaultSize = [3]int{128, 64, 128}

// Store keeps loaded levels and reads and writes them under dir.
type Store struct {
	dir    string
	logger *slog.Logger

	mu     sync.RWMutex
	levels map[string]*Level
}

// NewStore creates a store over dir. Nothing is read until a level is loaded.
func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, logger: logger.With(slog.String("component", "world")), levels: map[string]*Level{}}
}

func key(name string) string { return cases.Fold().String(strings.TrimSpace(name)) }

func (s *Store) blocksPath(name string) string { return filepath.Join(s.dir, name+blocksExt) }
func (s *Store) propsPath(name string) string  { return filepath.Join(s.dir, name+propertiesExt) }

// Exists reports whether a saved level named name is on disk.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.blocksPath(name))
	return err == nil
}

// Get returns a loaded level.
func (s *Store) Get(name string) (*Level, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.levels[key(name)]
	return l, ok
}

// Loaded returns the names of the loaded levels, sorted.
func (s *Store) Loaded() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.levels))
	for _, l := range s.levels {
		out = append(out, l.name)
	}
	sort.Strings(out)
	return out
}

func (s *Store) add(l *Level) *Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.levels[key(l.name)]; ok {
		return existing
	}
	s.levels[key(l.name)] = l
	return l
}

// Load reads a saved level and adds it to the loaded set. A level already
// loaded is returned as is.
func (s *Store) Load(_ context.Context, name string) (*Level, error) {
	if l, ok := s.Get(name); ok {
		return l, nil
	}
	props, err := s.readProperties(name)
	if err != nil {
		return nil, err
	}
	blocks, err := s.readBlocks(name)
	if err != nil {
		return nil, err
	}
	if want := props.Width * props.Height * props.Length; len(blocks) != want {
		return nil, ferrors.FileSystemError(fmt.Sprintf("level %s has %d blocks, expected %d", name, len(blocks), want)).
			WithContext("path", s.blocksPath(name)).Build()
	}
	l := s.add(newLevel(name, props, blocks))
	s.logger.Info("Loaded level", slog.String("level", name))
	return l, nil
}

// LoadOrGenerate loads name, generating and saving a flat level when none is saved.
func (s *Store) LoadOrGenerate(ctx context.Context, name string) (*Level, bool, error) {
	if !s.Exists(name) {
		s.logger.Info("Level not found, generating", slog.String("level", name))
		l := s.add(GenerateFlat(name, DefaultSize[0], DefaultSize[1], DefaultSize[2]))
		if err := s.Save(ctx, l); err != nil {
			return l, true, err
		}
		return l, true, nil
	}
	l, err := s.Load(ctx, name)
	return l, false, err
}

// Unload saves and removes a level from the loaded set.
func (s *Store) Unload(ctx context.Context, name string) error {
	l, ok := s.Get(name)
	if !ok {
		return ferrors.NotFound(fmt.Sprintf("level %s is not loaded", name)).Build()
	}
	if err := s.Save(ctx, l); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.levels, key(name))
	s.mu.Unlock()
	return nil
}

// Save writes l when it has unsaved changes.
func (s *Store) Save(_ context.Context, l *Level) error {
	if !l.changed.Swap(false) {
		return nil
	}
	props, blocks := l.snapshot()
	if err := s.write(l.name, props, blocks); err != nil {
		l.changed.Store(true)
		return err
	}
	return nil
}

// SaveAll saves every loaded level with unsaved changes.
func (s *Store) SaveAll(ctx context.Context) error {
	s.mu.RLock()
	levels := make([]*Level, 0, len(s.levels))
	for _, l := range s.levels {
		levels = append(levels, l)
	}
	s.mu.RUnlock()

	var errs []error
	for _, l := range levels {
		if err := s.Save(ctx, l); err != nil {
			s.logger.Error("Failed to save level", slog.String("level", l.name), logfields.Error(err))
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return ferrors.WrapError(errors.Join(errs...), ferrors.CategoryFileSystem, "save levels").Build()
	}
	return nil
}

// Autoload loads every level named in the manifest. Entries may carry a
// physics level as "name=physics". Failures are logged and skipped.
func (s *Store) Autoload(ctx context.Context, manifestPath string) (int, error) {
	entries, _, err := manifest.Read(manifestPath)
	if err != nil {
		return 0, err
	}
	loaded := 0
	for _, entry := range entries {
		name, physics := manifest.SplitPair(entry)
		l, err := s.Load(ctx, name)
		if err != nil {
			s.logger.Warn("AUTOLOAD: failed to load level", slog.String("level", name), logfields.Error(err))
			continue
		}
		if physics != "" {
			if p, err := strconv.Atoi(physics); err == nil {
				l.mu.Lock()
				l.props.Physics = p
				l.mu.Unlock()
			}
		}
		loaded++
	}
	return loaded, nil
}

func (s *Store) readProperties(name string) (Properties, error) {
	data, err := os.ReadFile(s.propsPath(name))
	if errors.Is(err, fs.ErrNotExist) {
		return Properties{}, ferrors.NotFound(fmt.Sprintf("level %s not found", name)).
			WithContext("path", s.propsPath(name)).Build()
	}
	if err != nil {
		return Properties{}, ferrors.WrapError(err, ferrors.CategoryFileSystem, "read level properties").
			WithContext("path", s.propsPath(name)).Build()
	}
	var props Properties
	if err := yaml.Unmarshal(data, &props); err != nil {
		return Properties{}, ferrors.WrapError(err, ferrors.CategoryFileSystem, "parse level properties").
			WithContext("path", s.propsPath(name)).Build()
	}
	return props, nil
}

func (s *Store) readBlocks(name string) ([]byte, error) {
	path := s.blocksPath(name)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ferrors.NotFound(fmt.Sprintf("level %s not found", name)).WithContext("path", path).Build()
	}
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "open level").WithContext("path", path).Build()
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "decompress level").WithContext("path", path).Build()
	}
	defer zr.Close()
	blocks, err := io.ReadAll(zr)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "read level").WithContext("path", path).Build()
	}
	return blocks, nil
}

// write stores both files through temporary names so a crash never leaves a
// truncated level.
func (s *Store) write(name string, props Properties, blocks []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "create levels directory").WithContext("path", s.dir).Build()
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(blocks); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryInternal, "compress level").Build()
	}
	if err := zw.Close(); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryInternal, "compress level").Build()
	}
	meta, err := yaml.Marshal(props)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryInternal, "encode level properties").Build()
	}
	if err := writeAtomic(s.blocksPath(name), buf.Bytes()); err != nil {
		return err
	}
	return writeAtomic(s.propsPath(name), meta)
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "write level file").WithContext("path", path).Build()
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "replace level file").WithContext("path", path).Build()
	}
	return nil
}
