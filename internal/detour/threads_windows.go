package detour

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

const threadSuspendResume = 0x0002

var (
	modkernel32       = windows.NewLazySystemDLL("kernel32.dll")
	procSuspendThread = modkernel32.NewProc("SuspendThread")
	procResumeThread  = modkernel32.NewProc("ResumeThread")
)

// CurrentThread returns the OS id of the calling thread.
func CurrentThread() int {
	return int(windows.GetCurrentThreadId())
}

// suspend pauses every registered thread except the caller's.
func suspend(tids []int) (func(), error) {
	self := CurrentThread()
	var handles []windows.Handle
	resume := func() {
		for _, h := range handles {
			procResumeThread.Call(uintptr(h))
			windows.CloseHandle(h)
		}
	}
	for _, tid := range tids {
		if tid == self {
			continue
		}
		h, err := windows.OpenThread(threadSuspendResume, false, uint32(tid))
		if err != nil {
			resume()
			return nil, errors.Wrapf(err, "open thread %d", tid)
		}
		if r, _, err := procSuspendThread.Call(uintptr(h)); uint32(r) == ^uint32(0) {
			windows.CloseHandle(h)
			resume()
			return nil, errors.Wrapf(err, "suspend thread %d", tid)
		}
		handles = append(handles, h)
	}
	return resume, nil
}
