//go:build !linux && !windows

package prot

// There is no portable way to read a page's protection here, code pages are
// assumed to be read-execute.
func current(addr uintptr) (Perm, error) {
	return ExecuteRead, nil
}

// Readable returns n, mappings cannot be listed here.
func Readable(addr uintptr, n int) int {
	return n
}
