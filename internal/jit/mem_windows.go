package jit

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// osMap commits size bytes. A non-zero hint must be free and aligned to the
// allocation granularity or the call fails.
func osMap(hint uintptr, size int) ([]byte, error) {
	addr, err := windows.VirtualAlloc(hint, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_EXECUTE_READWRITE)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

func osUnmap(data []byte) error {
	return windows.VirtualFree(uintptr(unsafe.Pointer(&data[0])), 0, windows.MEM_RELEASE)
}
