package prot

import (
	"golang.org/x/sys/windows"
)

func change(addr, size uintptr, p Perm) error {
	_, err := set(addr, size, p)
	return err
}

func set(addr, size uintptr, p Perm) (Perm, error) {
	var old uint32
	if err := windows.VirtualProtect(addr, size, uint32(p), &old); err != nil {
		return None, err
	}
	return Perm(old), nil
}
