package sunset

import (
	"reflect"
	"runtime"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// funcval is the runtime layout a Go func value points to.
type funcval struct {
	fn uintptr
}

// ReplacementHook redirects every call of a function to a callback of the
// same type F. While installed, Original returns a func that runs the
// unmodified function.
//
// The callback must be a top-level function or a func literal that
// captures nothing: only its code address is patched into the target.
type ReplacementHook[F any] struct {
	mu        sync.Mutex
	callback  F
	detour    uintptr
	target    uintptr
	slot      uintptr
	original  F
	installed bool
	opts      options
}

// NewReplacementHook returns an uninstalled hook that will call callback.
// F has to be a func type.
func NewReplacementHook[F any](callback F, opts ...Option) (*ReplacementHook[F], error) {
	if reflect.TypeOf((*F)(nil)).Elem().Kind() != reflect.Func {
		return nil, errors.Wrapf(ErrInputType, "%T", callback)
	}
	v := reflect.ValueOf(callback)
	if v.IsNil() {
		return nil, errors.Wrap(ErrInputType, "nil callback")
	}
	return &ReplacementHook[F]{
		callback: callback,
		detour:   v.Pointer(),
		opts:     newOptions(opts),
	}, nil
}

// InstallAtFuncPtr hooks fn.
func (h *ReplacementHook[F]) InstallAtFuncPtr(fn F) error {
	v := reflect.ValueOf(fn)
	if v.IsNil() {
		return errors.Wrap(ErrInputType, "nil target")
	}
	return h.InstallAtPtr(v.Pointer())
}

// InstallAtPtr hooks the function whose code starts at addr. The function
// must have the signature F.
//
// Other threads must not execute the first bytes of the target while it is
// patched. On Windows the interceptor suspends the threads registered with
// it; elsewhere that is up to the caller.
func (h *ReplacementHook[F]) InstallAtPtr(addr uintptr) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.installed {
		return ErrAlreadyInstalled
	}
	if err := claim(addr); err != nil {
		return err
	}
	slot := addr
	err := h.transact(func(i Interceptor) error {
		return i.Attach(&slot, h.detour)
	})
	if err != nil {
		unclaim(addr)
		log().Warn("replacement hook install failed", hexField("target", addr), zap.Error(err))
		return err
	}
	h.target = addr
	h.slot = slot
	h.original = makeFunc[F](slot)
	h.installed = true
	log().Debug("replacement hook installed",
		hexField("target", addr), hexField("callback", h.detour), hexField("original", slot))
	return nil
}

// Uninstall restores the target.
func (h *ReplacementHook[F]) Uninstall() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.installed {
		return ErrNotInstalled
	}
	slot := h.slot
	err := h.transact(func(i Interceptor) error {
		return i.Detach(&slot, h.detour)
	})
	if err != nil {
		log().Warn("replacement hook uninstall failed", hexField("target", h.target), zap.Error(err))
		return err
	}
	unclaim(h.target)
	log().Debug("replacement hook uninstalled", hexField("target", h.target))
	var zero F
	h.original = zero
	h.slot = 0
	h.target = 0
	h.installed = false
	return nil
}

// transact runs fn inside one interceptor transaction on a locked thread.
func (h *ReplacementHook[F]) transact(fn func(Interceptor) error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	i := h.opts.interceptor
	if err := i.Begin(); err != nil {
		return err
	}
	if err := i.UpdateThread(CurrentThread()); err != nil {
		_ = i.Abort()
		return err
	}
	if err := fn(i); err != nil {
		_ = i.Abort()
		return err
	}
	return i.Commit()
}

// Original returns a func running the unhooked target.
func (h *ReplacementHook[F]) Original() (F, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.installed {
		var zero F
		return zero, ErrNotInstalled
	}
	return h.original, nil
}

// MustOriginal is like Original but panics when the hook is not installed.
func (h *ReplacementHook[F]) MustOriginal() F {
	f, err := h.Original()
	if err != nil {
		panic(err)
	}
	return f
}

// Installed reports whether the hook is active.
func (h *ReplacementHook[F]) Installed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.installed
}

// Target returns the hooked address, 0 when not installed.
func (h *ReplacementHook[F]) Target() uintptr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.target
}

// makeFunc builds a func value of type F calling code at pc. F must be a
// func type.
func makeFunc[F any](pc uintptr) F {
	var f F
	fv := &funcval{fn: pc}
	*(*unsafe.Pointer)(unsafe.Pointer(&f)) = unsafe.Pointer(fv)
	return f
}
