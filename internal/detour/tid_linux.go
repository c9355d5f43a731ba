package detour

import "golang.org/x/sys/unix"

// CurrentThread returns the OS id of the calling thread.
func CurrentThread() int {
	return unix.Gettid()
}
