// Package plugin provides the plugin capability: long-lived extensions that
// hook into the server when loaded and detach when unloaded.
package plugin

import "github.com/RandomStrangers/MCGalaxy-Extended/pkg/api"

type (
	// Plugin is implemented by plugin modules.
	Plugin = api.Plugin
	// Host is the part of the server a plugin may use.
	Host = api.Host
)

// State is a plugin's lifecycle state.
type State int

const (
	StateUnloaded State = iota
	StateLoaded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	default:
		return "unloaded"
	}
}
