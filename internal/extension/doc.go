// Package extension loads externally supplied modules and registers the
// commands and plugins they provide.
//
// A module is a Go plugin (.so built with -buildmode=plugin) that exports the
// entry symbols described in package api. Modules depend only on that package.
//
// The Go runtime cannot unload shared objects. Unloading a module removes its
// instances from the registries; loading the same path again reuses the image
// already mapped into the process and calls its entry point afresh.
package extension
