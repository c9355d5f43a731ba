package prot

import (
	"fmt"
	"os"
)

// Mappings returns the current process mappings.
func Mappings() ([]Mapping, error) {
	data, err := os.ReadFile("/proc/self/maps")
	if err != nil {
		return nil, fmt.Errorf("could not read '/proc/self/maps': %w", err)
	}
	return ParseMaps(data)
}

func current(addr uintptr) (Perm, error) {
	mappings, err := Mappings()
	if err != nil {
		return None, err
	}
	m, ok := Find(mappings, addr)
	if !ok {
		return None, fmt.Errorf("address %#x is not mapped", addr)
	}
	return m.Perm, nil
}

// Readable returns how many of the n bytes at addr can be read. When the
// maps cannot be read it trusts the caller and returns n.
func Readable(addr uintptr, n int) int {
	mappings, err := Mappings()
	if err != nil {
		return n
	}
	return Extent(mappings, addr, n)
}
