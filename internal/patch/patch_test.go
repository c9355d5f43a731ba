package patch

import (
	"bytes"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k2io/sunset/internal/jit"
	"github.com/k2io/sunset/internal/prot"
)

func TestRel32Displacement(t *testing.T) {
	cases := []struct {
		src, dst uintptr
	}{
		{0x1000, 0x2000},
		{0x2000, 0x1000},
		{0x1000, 0x1005},
		{0x1000, 0x1000},
		{0x7fff0000, 0x10},
		{0x10, 0x7fff0000},
	}
	for _, c := range cases {
		buf := make([]byte, JmpLen)
		require.NoError(t, EncodeJmp(buf, c.src, c.dst))
		assert.Equal(t, byte(0xE9), buf[0])
		got, ok := Target(buf, c.src)
		require.True(t, ok)
		assert.Equal(t, c.dst, got, "jmp %#x -> %#x", c.src, c.dst)

		require.NoError(t, EncodeCall(buf, c.src, c.dst))
		assert.Equal(t, byte(0xE8), buf[0])
		got, ok = Target(buf, c.src)
		require.True(t, ok)
		assert.Equal(t, c.dst, got, "call %#x -> %#x", c.src, c.dst)
	}
}

func TestRel32Encoding(t *testing.T) {
	buf := make([]byte, JmpLen)
	require.NoError(t, EncodeJmp(buf, 0x1000, 0x1000))
	assert.Equal(t, []byte{0xE9, 0xFB, 0xFF, 0xFF, 0xFF}, buf)

	require.NoError(t, EncodeCall(buf, 0x1000, 0x1105))
	assert.Equal(t, []byte{0xE8, 0x00, 0x01, 0x00, 0x00}, buf)
}

func TestRel32OutOfRange(t *testing.T) {
	if unsafe.Sizeof(uintptr(0)) != 8 {
		t.Skip("every displacement fits on 32-bit")
	}
	shift := 40
	far := uintptr(1) << shift
	_, err := Rel32(0x1000, far)
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.False(t, Fits(0x1000, far))
	assert.ErrorIs(t, EncodeJmp(make([]byte, JmpLen), 0x1000, far), ErrOutOfRange)
}

func TestEncodePushAndNop(t *testing.T) {
	buf := make([]byte, JmpLen)
	require.NoError(t, EncodePush(buf, 0xDEADBEEF))
	assert.Equal(t, []byte{0x68, 0xEF, 0xBE, 0xAD, 0xDE}, buf)

	EncodeNop(buf)
	assert.Equal(t, bytes.Repeat([]byte{0x90}, JmpLen), buf)
}

func TestShortBuffer(t *testing.T) {
	assert.ErrorIs(t, EncodeJmp(make([]byte, 4), 0, 0), ErrShortBuffer)
	assert.ErrorIs(t, EncodePush(make([]byte, 2), 0), ErrShortBuffer)
	assert.ErrorIs(t, EncodeAbsJmp(make([]byte, 13), 0), ErrShortBuffer)
	_, ok := Target([]byte{0x90, 0, 0, 0, 0}, 0)
	assert.False(t, ok)
}

func TestEncodeAbsJmp(t *testing.T) {
	buf := make([]byte, AbsJmpLen)
	require.NoError(t, EncodeAbsJmp(buf, 0x11223344))
	assert.Equal(t, []byte{
		0xFF, 0x25, 0x00, 0x00, 0x00, 0x00,
		0x44, 0x33, 0x22, 0x11, 0x00, 0x00, 0x00, 0x00,
	}, buf)
}

func TestLiveWrites(t *testing.T) {
	m, err := jit.Allocate(64)
	require.NoError(t, err)
	defer m.Release()
	base := m.Addr()

	require.NoError(t, WriteJmp(base, base+40))
	got, ok := Target(m.Bytes()[:JmpLen], base)
	require.True(t, ok)
	assert.Equal(t, base+40, got)

	require.NoError(t, WriteCall(base+5, base))
	got, ok = Target(m.Bytes()[5:10], base+5)
	require.True(t, ok)
	assert.Equal(t, base, got)

	require.NoError(t, WritePush(base+10, 0x12345678))
	assert.Equal(t, []byte{0x68, 0x78, 0x56, 0x34, 0x12}, m.Bytes()[10:15])
}

func TestWriteNopIdempotent(t *testing.T) {
	m, err := jit.Allocate(32)
	require.NoError(t, err)
	defer m.Release()
	copy(m.Bytes(), []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})

	require.NoError(t, WriteNop(m.Addr()+2, 6))
	first := append([]byte(nil), m.Bytes()[:10]...)
	assert.Equal(t, []byte{1, 2, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 9, 10}, first)

	require.NoError(t, WriteNop(m.Addr()+2, 6))
	assert.Equal(t, first, m.Bytes()[:10])
}

func TestReplace(t *testing.T) {
	m, err := jit.Allocate(32)
	require.NoError(t, err)
	defer m.Release()
	base := m.Addr()
	copy(m.Bytes(), []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})

	require.NoError(t, ReplaceWithCall(base, base+0x10, 7))
	assert.Equal(t, []byte{0xE8, 0x0B, 0x00, 0x00, 0x00, 0x90, 0x90, 8}, m.Bytes()[:8])

	require.NoError(t, ReplaceWithJmp(base, base+0x10, 8))
	assert.Equal(t, []byte{0xE9, 0x0B, 0x00, 0x00, 0x00, 0x90, 0x90, 0x90, 9}, m.Bytes()[:9])

	assert.ErrorIs(t, ReplaceWithJmp(base, base+0x10, 4), ErrShortBuffer)
	assert.Equal(t, byte(0xE9), m.Bytes()[0])
}

func TestWritersOnUnmappedMemory(t *testing.T) {
	m, err := jit.Allocate(int(prot.PageSize()))
	require.NoError(t, err)
	addr := m.Addr()
	require.NoError(t, m.Release())

	// nothing may touch the range once the protection change failed
	assert.ErrorIs(t, WriteJmp(addr, addr+0x40), prot.ErrPermission)
	assert.ErrorIs(t, WriteCall(addr, addr+0x40), prot.ErrPermission)
	assert.ErrorIs(t, WritePush(addr, 1), prot.ErrPermission)
	assert.ErrorIs(t, WriteNop(addr, 8), prot.ErrPermission)
	assert.ErrorIs(t, Write(addr, []byte{0xC3}), prot.ErrPermission)
	assert.ErrorIs(t, ReplaceWithCall(addr, addr+0x40, 6), prot.ErrPermission)
}
