package detour

import "strconv"

func hex(addr uintptr) string {
	return "0x" + strconv.FormatUint(uint64(addr), 16)
}
