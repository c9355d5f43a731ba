package prot

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// Readable returns how many of the n bytes at addr lie in committed,
// accessible regions without a gap.
func Readable(addr uintptr, n int) int {
	end := addr
	for end < addr+uintptr(n) {
		var info windows.MemoryBasicInformation
		if err := windows.VirtualQuery(end, &info, unsafe.Sizeof(info)); err != nil {
			break
		}
		if info.State != windows.MEM_COMMIT || info.Protect&(uint32(None)|uint32(Guard)) != 0 {
			break
		}
		end = info.BaseAddress + info.RegionSize
	}
	if end-addr > uintptr(n) {
		return n
	}
	return int(end - addr)
}
