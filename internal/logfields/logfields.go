package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyDomain     = "domain"
	KeyTask       = "task"
	KeyTaskID     = "task_id"
	KeyStep       = "step"
	KeyModule     = "module"
	KeyCommand    = "command"
	KeyPlugin     = "plugin"
	KeyCapability = "capability"
	KeyVersion    = "version"
	KeyState      = "state"
	KeyPath       = "path"
	KeyURL        = "url"
	KeySession    = "session"
	KeyCategory   = "category"
	KeyDurationMS = "duration_ms"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Domain(name string) slog.Attr     { return slog.String(KeyDomain, name) }
func Task(name string) slog.Attr       { return slog.String(KeyTask, name) }
func TaskID(id string) slog.Attr       { return slog.String(KeyTaskID, id) }
func Step(name string) slog.Attr       { return slog.String(KeyStep, name) }
func Module(path string) slog.Attr     { return slog.String(KeyModule, path) }
func Command(name string) slog.Attr    { return slog.String(KeyCommand, name) }
func Plugin(name string) slog.Attr     { return slog.String(KeyPlugin, name) }
func Capability(name string) slog.Attr { return slog.String(KeyCapability, name) }
func Version(v string) slog.Attr       { return slog.String(KeyVersion, v) }
func State(s string) slog.Attr         { return slog.String(KeyState, s) }
func Path(p string) slog.Attr          { return slog.String(KeyPath, p) }
func URL(u string) slog.Attr           { return slog.String(KeyURL, u) }
func Session(name string) slog.Attr    { return slog.String(KeySession, name) }
func Category(c string) slog.Attr      { return slog.String(KeyCategory, c) }
func Duration(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMS, float64(d.Microseconds())/1000)
}
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
