package sunset

import (
	"fmt"
	"math"
	"unsafe"
)

// Register is one 32-bit general purpose register slot.
type Register uint32

func (r Register) Uint32() uint32   { return uint32(r) }
func (r Register) Int32() int32     { return int32(r) }
func (r Register) Float32() float32 { return math.Float32frombits(uint32(r)) }

// Pointer returns the register as an address.
func (r Register) Pointer() uintptr { return uintptr(r) }

func (r *Register) SetUint32(v uint32)   { *r = Register(v) }
func (r *Register) SetInt32(v int32)     { *r = Register(v) }
func (r *Register) SetFloat32(v float32) { *r = Register(math.Float32bits(v)) }

// SetPointer stores the low 32 bits of p.
func (r *Register) SetPointer(p uintptr) { *r = Register(uint32(p)) }

// Context is the CPU state saved by an inline hook trampoline, laid out the
// way pushad followed by pushfd leaves it on the stack. Field order and size
// must not change.
//
// Writes to a Context from the callback are loaded back into the CPU when
// the trampoline resumes, except Esp which popad skips.
type Context struct {
	Eflags Register
	Edi    Register
	Esi    Register
	Ebp    Register
	Esp    Register
	Ebx    Register
	Edx    Register
	Ecx    Register
	Eax    Register
}

// ContextSize is the size of Context in bytes.
const ContextSize = 36

var _ = [1]struct{}{}[unsafe.Sizeof(Context{})-ContextSize]

func (c *Context) String() string {
	return fmt.Sprintf("eax: %#X\necx: %#X\nedx: %#X\nebx: %#X\nesp: %#X\nebp: %#X\nesi: %#X\nedi: %#X\neflags: %#X\n",
		uint32(c.Eax), uint32(c.Ecx), uint32(c.Edx), uint32(c.Ebx), uint32(c.Esp),
		uint32(c.Ebp), uint32(c.Esi), uint32(c.Edi), uint32(c.Eflags))
}
