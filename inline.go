package sunset

import (
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/k2io/sunset/internal/jit"
	"github.com/k2io/sunset/internal/patch"
	"github.com/k2io/sunset/internal/prot"
)

// Trampoline layout of an inline hook. The prologue saves the registers,
// passes their address to the callback and restores them.
const (
	prologueLen = 11
	callOffset  = 3
	// relocated instructions start here, followed by a jump back
	relocOffset = prologueLen
)

// InlineHook splices a call to a native callback into the instruction
// stream at a target address. The callback receives a *Context with the
// registers of the interrupted thread and may change them. Once installed
// the hook stays for the life of the process.
type InlineHook struct {
	mu         sync.Mutex
	callback   uintptr
	target     uintptr
	trampoline uintptr
	installed  bool
	opts       options
}

// NewInlineHook returns a hook calling the cdecl function at callback with
// a single *Context argument. On Windows NewCallback builds one from a Go
// func.
func NewInlineHook(callback uintptr, opts ...Option) (*InlineHook, error) {
	if callback == 0 {
		return nil, errors.Wrap(ErrInputType, "nil callback")
	}
	return &InlineHook{
		callback: callback,
		opts:     newOptions(opts),
	}, nil
}

// InstallAtPtr hooks the instruction at addr. Whole instructions covering
// at least 5 bytes are moved into the trampoline and the target jumps there
// instead.
//
// Other threads must not execute the overwritten bytes while the target is
// patched.
func (h *InlineHook) InstallAtPtr(addr uintptr) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.installed {
		return ErrAlreadyInstalled
	}

	n, padded, err := h.opts.relocator.MinimumCopyLength(addr)
	if err != nil {
		return errors.Wrapf(err, "analyse %#x", addr)
	}
	if n < patch.JmpLen {
		return errors.Wrapf(ErrInsufficientRoom, "%d bytes at %#x", n, addr)
	}
	if runtime.GOARCH != "386" {
		return errors.Wrap(ErrUnsupportedArch, runtime.GOARCH)
	}
	if err := claim(addr); err != nil {
		return err
	}
	block, err := h.install(addr, n, padded)
	if err != nil {
		_ = block.Release()
		unclaim(addr)
		log().Warn("inline hook install failed", hexField("target", addr), zap.Error(err))
		return err
	}

	h.trampoline = block.Addr()
	h.opts.pool.Retain(block)
	h.target = addr
	h.installed = true
	log().Debug("inline hook installed",
		hexField("target", addr), hexField("callback", h.callback),
		hexField("trampoline", h.trampoline), zap.Int("copied", n))
	return nil
}

// install builds the trampoline and patches the target. The returned block
// is owned by the caller also on error.
func (h *InlineHook) install(addr uintptr, n, padded int) (*jit.Memory, error) {
	block, err := jit.AllocateNear(addr, prologueLen+padded+patch.JmpLen)
	if err != nil {
		return nil, err
	}
	base := block.Addr()

	relocated, err := h.opts.relocator.Relocate(addr, n, base+relocOffset)
	if err != nil {
		if errors.Is(err, ErrRelocation) {
			return block, errors.Wrapf(err, "relocate %#x", addr)
		}
		return block, errors.Wrapf(ErrRelocation, "relocate %#x: %v", addr, err)
	}
	if len(relocated) > padded {
		return block, errors.Wrapf(ErrRelocation, "%d relocated bytes exceed bound %d", len(relocated), padded)
	}
	if err := buildInlineTrampoline(block.Bytes(), base, h.callback, relocated, addr+uintptr(n)); err != nil {
		return block, err
	}

	site := make([]byte, n)
	patch.EncodeNop(site)
	if err := patch.EncodeJmp(site, addr, base); err != nil {
		return block, err
	}
	restore, err := elevate(addr, uintptr(n), prot.ExecuteReadWrite)
	if err != nil {
		return block, err
	}
	if err := patch.Write(addr, site); err != nil {
		_ = restore()
		return block, err
	}
	if err := restore(); err != nil {
		// the jump is in place, keep the trampoline alive
		log().Warn("protection not restored", hexField("target", addr), zap.Error(err))
	}
	return block, nil
}

// replaced in tests
var elevate = prot.Elevate

// buildInlineTrampoline lays out an inline hook trampoline at base in buf:
//
//	0  60          pushad
//	1  9C          pushfd
//	2  54          push esp
//	3  E8 rel32    call callback
//	8  58          pop eax
//	9  9D          popfd
//	10 61          popad
//	11 ...         relocated instructions
//	   E9 rel32    jmp resume
func buildInlineTrampoline(buf []byte, base, callback uintptr, relocated []byte, resume uintptr) error {
	end := relocOffset + len(relocated)
	if len(buf) < end+patch.JmpLen {
		return errors.Wrapf(patch.ErrShortBuffer, "trampoline needs %d bytes, have %d", end+patch.JmpLen, len(buf))
	}
	buf[0] = 0x60
	buf[1] = 0x9C
	buf[2] = 0x54
	if err := patch.EncodeCall(buf[callOffset:], base+callOffset, callback); err != nil {
		return err
	}
	buf[8] = 0x58
	buf[9] = 0x9D
	buf[10] = 0x61
	copy(buf[relocOffset:], relocated)
	return patch.EncodeJmp(buf[end:], base+uintptr(end), resume)
}

// Installed reports whether the hook is active.
func (h *InlineHook) Installed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.installed
}

// Target returns the hooked address, 0 when not installed.
func (h *InlineHook) Target() uintptr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.target
}

// Trampoline returns the address of the trampoline, 0 when not installed.
func (h *InlineHook) Trampoline() uintptr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.trampoline
}
