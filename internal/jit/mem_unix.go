//go:build !windows

package jit

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// osMap maps size bytes, at hint when that range is free. A zero hint lets
// the kernel choose.
func osMap(hint uintptr, size int) ([]byte, error) {
	p, err := unix.MmapPtr(-1, 0, unsafe.Pointer(hint), uintptr(size),
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(p), size), nil
}

func osUnmap(data []byte) error {
	return unix.MunmapPtr(unsafe.Pointer(&data[0]), uintptr(len(data)))
}
