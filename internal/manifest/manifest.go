// Package manifest reads the line-oriented text files the server keeps under
// text/ and ranks/: one entry per line, blank lines and '#' comments ignored.
package manifest

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	ferrors "github.com/RandomStrangers/MCGalaxy-Extended/internal/foundation/errors"
)

// CommentPrefix starts a comment line.
const CommentPrefix = "#"

// Read returns the entries of path. A missing file is created empty and reads
// as no entries; created reports that case.
func Read(path string) (entries []string, created bool, err error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := Write(path, nil); err != nil {
			return nil, false, err
		}
		return nil, true, nil
	}
	if err != nil {
		return nil, false, ferrors.WrapError(err, ferrors.CategoryFileSystem, "open manifest").
			WithContext("path", path).Build()
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, CommentPrefix) {
			continue
		}
		entries = append(entries, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, false, ferrors.WrapError(err, ferrors.CategoryFileSystem, "read manifest").
			WithContext("path", path).Build()
	}
	return entries, false, nil
}

// Write replaces path with one entry per line, creating parent directories.
func Write(path string, entries []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "create manifest directory").
			WithContext("path", path).Build()
	}
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e)
		b.WriteByte('\n')
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "write manifest").
			WithContext("path", path).Build()
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "replace manifest").
			WithContext("path", path).Build()
	}
	return nil
}

// SplitPair splits "key=value" on the first '='. Without '=' the whole line is the key.
func SplitPair(entry string) (key, value string) {
	k, v, _ := strings.Cut(entry, "=")
	return strings.TrimSpace(k), strings.TrimSpace(v)
}
