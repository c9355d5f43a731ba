//go:build 386 || amd64

// Package native calls machine code that was put together at run time.
package native

// Call runs the code at fn with no arguments and returns the accumulator.
// The code must return with RET and preserve the stack pointer; every other
// register may be clobbered.
func Call(fn uintptr) uintptr
