//go:build !windows

package prot

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

func toProt(p Perm) (int, error) {
	switch p {
	case None:
		return unix.PROT_NONE, nil
	case Read:
		return unix.PROT_READ, nil
	case ReadWrite, WriteCopy:
		return unix.PROT_READ | unix.PROT_WRITE, nil
	case Execute:
		return unix.PROT_EXEC, nil
	case ExecuteRead:
		return unix.PROT_READ | unix.PROT_EXEC, nil
	case ExecuteReadWrite, ExecuteWriteCopy:
		return unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC, nil
	}
	return 0, ErrUnsupportedPerm
}

func change(addr, size uintptr, p Perm) error {
	flags, err := toProt(p)
	if err != nil {
		return err
	}
	start, length := PageRange(addr, size)
	page := unsafe.Slice((*byte)(unsafe.Pointer(start)), length)
	return unix.Mprotect(page, flags)
}

func set(addr, size uintptr, p Perm) (Perm, error) {
	old, err := current(addr)
	if err != nil {
		return None, err
	}
	if err := change(addr, size, p); err != nil {
		return None, err
	}
	return old, nil
}
