package extension

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"

	ferrors "github.com/RandomStrangers/MCGalaxy-Extended/internal/foundation/errors"
	"github.com/RandomStrangers/MCGalaxy-Extended/pkg/api"
)

// Capability names an extension role and the symbol modules export for it.
type Capability[T any] struct {
	Name   string
	Symbol string
}

var (
	// CommandCapability discovers commands through the exported "Commands" symbol.
	CommandCapability = Capability[api.Command]{Name: "command", Symbol: api.CommandsSymbol}
	// PluginCapability discovers plugins through the exported "Plugins" symbol.
	PluginCapability = Capability[api.Plugin]{Name: "plugin", Symbol: api.PluginsSymbol}
)

// LoadModule opens path and returns the capability instances it exports.
//
// Errors are classified: NotFound when path does not exist, MalformedModule when
// the file cannot be opened or lacks a usable entry symbol, ConstructionFailure
// when the entry point fails, panics or yields a nil instance, and EmptyModule
// when it yields nothing.
func LoadModule[T any](opener Opener, path string, capability Capability[T]) ([]T, error) {
	file := filepath.Base(path)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ferrors.NotFound(fmt.Sprintf("file %s not found", path)).
				WithContext("path", path).Build()
		}
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "cannot access module").
			WithContext("path", path).Build()
	}

	syms, err := opener.Open(path)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryMalformedModule,
			fmt.Sprintf("%s is not a valid module, or has an invalid dependency", file)).
			UserAction().WithContext("path", path).Build()
	}
	sym, err := syms.Lookup(capability.Symbol)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryMalformedModule,
			fmt.Sprintf("%s does not export %s", file, capability.Symbol)).
			UserAction().WithContext("path", path).Build()
	}

	instances, err := construct(sym, capability)
	if err != nil {
		if ce, ok := ferrors.AsClassified(err); ok {
			return nil, ce.WithContext("path", path)
		}
		return nil, err
	}
	for i, inst := range instances {
		if isNil(inst) {
			return nil, ferrors.ConstructionFailure(fmt.Sprintf("%s %d in %s could not be constructed", capability.Name, i, file)).
				UserAction().WithContext("path", path).Build()
		}
	}
	if len(instances) == 0 {
		return nil, ferrors.EmptyModule(fmt.Sprintf("no %ss in %s", capability.Name, path)).
			WithContext("path", path).Build()
	}
	return instances, nil
}

// construct invokes the entry symbol in whichever supported form it was exported.
func construct[T any](sym any, capability Capability[T]) (instances []T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ferrors.ConstructionFailure(fmt.Sprintf("%s entry point panicked: %v", capability.Symbol, r)).
				UserAction().Build()
		}
	}()

	switch entry := sym.(type) {
	case func() []T:
		if entry == nil {
			break
		}
		return entry(), nil
	case func() ([]T, error):
		if entry == nil {
			break
		}
		out, err := entry()
		if err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryConstructionFailure,
				fmt.Sprintf("%s entry point failed", capability.Symbol)).UserAction().Build()
		}
		return out, nil
	case *[]T:
		if entry == nil {
			break
		}
		return append([]T(nil), (*entry)...), nil
	case []T:
		return append([]T(nil), entry...), nil
	}
	return nil, ferrors.MalformedModule(fmt.Sprintf("%s has type %T, want func() []%s", capability.Symbol, sym, capability.Name)).
		UserAction().Build()
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func:
		return rv.IsNil()
	}
	return false
}
