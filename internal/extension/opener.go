package extension

import (
	goplugin "plugin"
)

// Symbols resolves exported names of an opened module.
type Symbols interface {
	Lookup(name string) (any, error)
}

// Opener maps a module file into the process.
type Opener interface {
	Open(path string) (Symbols, error)
}

// NativeOpener opens modules with the Go runtime's plugin mechanism.
type NativeOpener struct{}

// Open loads the shared object at path.
func (NativeOpener) Open(path string) (Symbols, error) {
	so, err := goplugin.Open(path)
	if err != nil {
		return nil, err
	}
	return nativeSymbols{so}, nil
}

type nativeSymbols struct{ so *goplugin.Plugin }

func (n nativeSymbols) Lookup(name string) (any, error) {
	sym, err := n.so.Lookup(name)
	if err != nil {
		return nil, err
	}
	return sym, nil
}
