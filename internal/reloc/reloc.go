// Package reloc measures and rewrites the leading instructions of a function
// so they can run from a trampoline at another address.
package reloc

import (
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/arch/x86/x86asm"

	"github.com/k2io/sunset/internal/patch"
	"github.com/k2io/sunset/internal/prot"
)

const (
	// DefaultMinLength is the room a JMP rel32 needs
	DefaultMinLength = patch.JmpLen
	// maxInstLen is the architectural limit of one x86 instruction
	maxInstLen = 15
)

var (
	// ErrDecode means the bytes are not a valid instruction stream
	ErrDecode = errors.New("cannot decode instruction")
	// ErrRelocation means an instruction cannot be rewritten for the new address
	ErrRelocation = errors.New("instruction cannot be relocated")
)

// NativeMode is the decoder mode of the running process.
var NativeMode = int(unsafe.Sizeof(uintptr(0)) * 8)

// Relocator analyses and relocates code in the current process.
type Relocator struct {
	mode   int
	minLen int
}

// Option configures a Relocator.
type Option func(*Relocator)

// WithMinLength sets how many bytes must be covered by copied instructions.
func WithMinLength(n int) Option {
	return func(r *Relocator) {
		r.minLen = n
	}
}

// New returns a relocator decoding in mode (32 or 64).
func New(mode int, opts ...Option) *Relocator {
	r := &Relocator{mode: mode, minLen: DefaultMinLength}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Mode returns the decoder mode.
func (r *Relocator) Mode() int {
	return r.mode
}

// MinimumCopyLength returns the length of the whole instructions at addr
// covering the minimum length, and an upper bound of their relocated size.
func (r *Relocator) MinimumCopyLength(addr uintptr) (int, int, error) {
	n := prot.Readable(addr, r.minLen+maxInstLen)
	return Analyze(patch.Slice(addr, n), r.mode, r.minLen)
}

// Relocate rewrites the n bytes at addr to run from newAddr.
func (r *Relocator) Relocate(addr uintptr, n int, newAddr uintptr) ([]byte, error) {
	return Rewrite(patch.Slice(addr, n), r.mode, addr, newAddr)
}

// Analyze decodes whole instructions from the start of code until at least
// min bytes are covered. It returns the covered length and the worst case
// size of the same instructions after Rewrite.
func Analyze(code []byte, mode, min int) (n, padded int, err error) {
	for n < min {
		if n >= len(code) {
			return n, padded, errors.Wrapf(ErrDecode, "truncated after %d bytes", n)
		}
		inst, err := x86asm.Decode(code[n:], mode)
		if err != nil {
			return n, padded, errors.Wrapf(ErrDecode, "offset %d: %v", n, err)
		}
		n += inst.Len
		padded += worstCase(inst, mode)
	}
	return n, padded, nil
}

func worstCase(inst x86asm.Inst, mode int) int {
	if _, ok := relArg(inst); !ok {
		return inst.Len
	}
	switch {
	case inst.Op == x86asm.JMP && mode == 64:
		return patch.AbsJmpLen
	case inst.Op == x86asm.JMP:
		return patch.JmpLen
	case inst.Op == x86asm.CALL && mode == 64:
		return farCallLen
	case inst.Op == x86asm.CALL:
		return patch.JmpLen
	}
	if _, ok := condCodes[inst.Op]; ok {
		if mode == 64 {
			return farJccLen
		}
		return nearJccLen
	}
	return inst.Len
}

// Rewrite relocates code, located at from, to run at to. Relative branches
// are widened to rel32 or turned into absolute jumps, RIP-relative operands
// are rebased. Everything else is copied as is.
func Rewrite(code []byte, mode int, from, to uintptr) ([]byte, error) {
	out := make([]byte, 0, len(code)+farJccLen)
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], mode)
		if err != nil {
			return nil, errors.Wrapf(ErrDecode, "at %#x: %v", from+uintptr(off), err)
		}
		raw := code[off : off+inst.Len]
		src := from + uintptr(off)
		dst := to + uintptr(len(out))
		if rel, ok := relArg(inst); ok {
			target := src + uintptr(inst.Len) + uintptr(int64(rel))
			if target >= from && target < from+uintptr(len(code)) {
				// lands in bytes the patch overwrites
				return nil, errors.Wrapf(ErrRelocation, "%v at %#x branches into copied code at %#x", inst, src, target)
			}
			out, err = appendBranch(out, inst, mode, dst, target)
		} else if mem, ok := ripArg(inst); ok {
			out, err = appendRIP(out, inst, raw, mem, src, dst)
		} else {
			out = append(out, raw...)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "%v at %#x", inst, src)
		}
		off += inst.Len
	}
	return out, nil
}

func relArg(inst x86asm.Inst) (x86asm.Rel, bool) {
	for _, a := range inst.Args {
		if a == nil {
			break
		}
		if rel, ok := a.(x86asm.Rel); ok {
			return rel, true
		}
	}
	return 0, false
}

func ripArg(inst x86asm.Inst) (x86asm.Mem, bool) {
	for _, a := range inst.Args {
		if a == nil {
			break
		}
		if mem, ok := a.(x86asm.Mem); ok && mem.Base == x86asm.RIP {
			return mem, true
		}
	}
	return x86asm.Mem{}, false
}

// rel32 is the displacement of an n-byte instruction at src reaching dst.
// 32-bit code wraps around the address space so it always reaches.
func rel32(mode int, src, dst uintptr, n int) (int32, bool) {
	if mode == 32 {
		return int32(uint32(dst) - uint32(src) - uint32(n)), true
	}
	disp, err := patch.RelN(src, dst, n)
	return disp, err == nil
}

func appendRIP(out []byte, inst x86asm.Inst, raw []byte, mem x86asm.Mem, src, dst uintptr) ([]byte, error) {
	off := inst.PCRelOff
	if inst.PCRel != 4 || off == 0 {
		for _, a := range inst.Args {
			if _, ok := a.(x86asm.Imm); ok {
				return nil, errors.Wrap(ErrRelocation, "cannot locate displacement")
			}
		}
		off = inst.Len - 4
	}
	if off <= 0 || off+4 > len(raw) || int64(int32(binary.LittleEndian.Uint32(raw[off:]))) != mem.Disp {
		return nil, errors.Wrap(ErrRelocation, "cannot locate displacement")
	}
	disp := mem.Disp + int64(src) - int64(dst)
	if disp < math.MinInt32 || disp > math.MaxInt32 {
		return nil, errors.Wrap(ErrRelocation, "rip-relative operand out of range")
	}
	start := len(out)
	out = append(out, raw...)
	binary.LittleEndian.PutUint32(out[start+off:], uint32(int32(disp)))
	return out, nil
}
