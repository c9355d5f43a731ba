package sunset

import (
	"errors"
	"sync"

	"github.com/k2io/sunset/internal/prot"
	"github.com/k2io/sunset/internal/reloc"
)

var (
	// hooked target addresses
	hooks map[uintptr]struct{}
	// protect the hooks map
	lock sync.Mutex
)

var (
	// ErrDoubleHook means the target already carries a hook
	ErrDoubleHook = errors.New("double hook")
	// ErrAlreadyInstalled means the hook is installed somewhere already
	ErrAlreadyInstalled = errors.New("hook already installed")
	// ErrNotInstalled means the hook has no target
	ErrNotInstalled = errors.New("hook not installed")
	// ErrInputType means the callback is not a func
	ErrInputType = errors.New("callback is not a func")
	// ErrInsufficientRoom means fewer than 5 bytes can be taken at the target
	ErrInsufficientRoom = errors.New("not enough room for a jump at target")
	// ErrUnsupportedArch means inline hooks need GOARCH=386
	ErrUnsupportedArch = errors.New("register context capture needs a 386 process")
	// ErrRelocation means the original instructions cannot be moved
	ErrRelocation = reloc.ErrRelocation
	// ErrPermission means the OS refused a protection change
	ErrPermission = prot.ErrPermission
)

func init() {
	hooks = make(map[uintptr]struct{})
}

// claim reserves target for one hook.
func claim(target uintptr) error {
	lock.Lock()
	defer lock.Unlock()
	if _, ok := hooks[target]; ok {
		return ErrDoubleHook
	}
	hooks[target] = struct{}{}
	return nil
}

func unclaim(target uintptr) {
	lock.Lock()
	delete(hooks, target)
	lock.Unlock()
}

// Hooked reports whether a hook is installed at target.
func Hooked(target uintptr) bool {
	lock.Lock()
	defer lock.Unlock()
	_, ok := hooks[target]
	return ok
}
