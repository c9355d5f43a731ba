package sunset

import (
	"github.com/k2io/sunset/internal/detour"
	"github.com/k2io/sunset/internal/jit"
	"github.com/k2io/sunset/internal/reloc"
)

// Interceptor attaches detours in transactions, in the manner of the
// Detours API. A replacement hook installs and removes itself through one.
//
// Attach replaces *slot, the address of the function to detour, with the
// address of a trampoline that runs the original. Detach puts it back.
type Interceptor interface {
	Begin() error
	UpdateThread(tid int) error
	Attach(slot *uintptr, detour uintptr) error
	Detach(slot *uintptr, detour uintptr) error
	Commit() error
	Abort() error
}

// Relocator measures and moves the instructions an inline hook overwrites.
type Relocator interface {
	// MinimumCopyLength returns the length of the whole instructions at
	// addr covering a jump, and an upper bound on their relocated size.
	MinimumCopyLength(addr uintptr) (originalLen, paddedLen int, err error)
	// Relocate returns the n bytes at addr rewritten to run at newAddr.
	Relocate(addr uintptr, n int, newAddr uintptr) ([]byte, error)
}

// Pool keeps executable blocks alive for the life of the process.
type Pool = jit.Pool

type options struct {
	interceptor Interceptor
	relocator   Relocator
	pool        *Pool
}

// Option configures a hook.
type Option func(*options)

// WithInterceptor sets the interception layer of a replacement hook.
func WithInterceptor(i Interceptor) Option {
	return func(o *options) {
		o.interceptor = i
	}
}

// WithRelocator sets the relocator of an inline hook.
func WithRelocator(r Relocator) Option {
	return func(o *options) {
		o.relocator = r
	}
}

// WithPool sets the pool an inline hook retains its trampoline in.
func WithPool(p *Pool) Option {
	return func(o *options) {
		o.pool = p
	}
}

func newOptions(opts []Option) options {
	o := options{
		interceptor: detour.Default,
		relocator:   reloc.New(32),
		pool:        jit.Default,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// CurrentThread returns the OS id of the calling thread, for
// Interceptor.UpdateThread.
func CurrentThread() int {
	return detour.CurrentThread()
}
