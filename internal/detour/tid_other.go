//go:build !linux && !windows

package detour

// CurrentThread returns 0, thread ids are not exposed on this OS.
func CurrentThread() int {
	return 0
}
