package sunset

import (
	"math"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestContextLayout(t *testing.T) {
	var c Context
	assert.Equal(t, uintptr(ContextSize), unsafe.Sizeof(c))
	assert.Equal(t, uintptr(0), unsafe.Offsetof(c.Eflags))
	assert.Equal(t, uintptr(4), unsafe.Offsetof(c.Edi))
	assert.Equal(t, uintptr(8), unsafe.Offsetof(c.Esi))
	assert.Equal(t, uintptr(12), unsafe.Offsetof(c.Ebp))
	assert.Equal(t, uintptr(16), unsafe.Offsetof(c.Esp))
	assert.Equal(t, uintptr(20), unsafe.Offsetof(c.Ebx))
	assert.Equal(t, uintptr(24), unsafe.Offsetof(c.Edx))
	assert.Equal(t, uintptr(28), unsafe.Offsetof(c.Ecx))
	assert.Equal(t, uintptr(32), unsafe.Offsetof(c.Eax))
}

func TestContextString(t *testing.T) {
	c := Context{
		Eax: 0x2A, Ecx: 1, Edx: 2, Ebx: 3, Esp: 0xFFF0,
		Ebp: 0xFFFC, Esi: 6, Edi: 7, Eflags: 0x246,
	}
	want := "eax: 0X2A\necx: 0X1\nedx: 0X2\nebx: 0X3\nesp: 0XFFF0\n" +
		"ebp: 0XFFFC\nesi: 0X6\nedi: 0X7\neflags: 0X246\n"
	assert.Equal(t, want, c.String())
}

func TestRegister(t *testing.T) {
	var r Register
	r.SetInt32(-1)
	assert.Equal(t, uint32(math.MaxUint32), r.Uint32())
	assert.Equal(t, int32(-1), r.Int32())

	r.SetFloat32(1.5)
	assert.Equal(t, float32(1.5), r.Float32())
	assert.Equal(t, uint32(0x3FC00000), r.Uint32())

	r.SetPointer(0x1000)
	assert.Equal(t, uintptr(0x1000), r.Pointer())

	r.SetUint32(7)
	assert.Equal(t, int32(7), r.Int32())
}

func TestRegisterWritesThroughContext(t *testing.T) {
	var c Context
	p := (*[9]uint32)(unsafe.Pointer(&c))
	c.Eax.SetUint32(0xDEADBEEF)
	c.Eflags.SetUint32(0x202)
	assert.Equal(t, uint32(0xDEADBEEF), p[8])
	assert.Equal(t, uint32(0x202), p[0])
}
