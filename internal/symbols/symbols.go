// Package symbols reads function addresses from object file symbol tables.
package symbols

import (
	"fmt"
	"io"
	"os"
)

type rawFile interface {
	Symbols() (map[string]uintptr, error)
	Close() error
}

var objType = []func(io.ReaderAt) (rawFile, error){
	openElf,
	openMacho,
	openPE,
}

// Read returns the symbol table of the object file name, keyed by symbol
// name, valued by link-time address.
func Read(name string) (map[string]uintptr, error) {
	r, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return ReadFrom(r, name)
}

// ReadFrom is Read over an already opened object file.
func ReadFrom(r io.ReaderAt, name string) (map[string]uintptr, error) {
	for _, try := range objType {
		if raw, err := try(r); err == nil {
			defer raw.Close()
			return raw.Symbols()
		}
	}
	return nil, fmt.Errorf("open %s: unrecognized object file", name)
}
