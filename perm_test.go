package sunset

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetPermission(t *testing.T) {
	m := newCode(t, nil)

	old, err := SetPermission(m.Addr(), uintptr(m.Len()), PermExecuteRead)
	require.NoError(t, err)
	if runtime.GOOS == "linux" || runtime.GOOS == "windows" {
		assert.Equal(t, PermExecuteReadWrite, old)
	}

	old, err = SetPermission(m.Addr(), uintptr(m.Len()), PermExecuteReadWrite)
	require.NoError(t, err)
	if runtime.GOOS == "linux" || runtime.GOOS == "windows" {
		assert.Equal(t, PermExecuteRead, old)
	}
}

func TestWriters(t *testing.T) {
	m := newCode(t, nil)
	base := m.Addr()
	_, err := SetPermission(base, uintptr(m.Len()), PermExecuteRead)
	require.NoError(t, err)

	require.NoError(t, WriteJmp(base, base+0x20))
	require.NoError(t, WriteCall(base+5, base+0x20))
	require.NoError(t, WritePush(base+10, 0xCAFEBABE))
	require.NoError(t, WriteNop(base+15, 3))

	assert.Equal(t, []byte{
		0xE9, 0x1B, 0x00, 0x00, 0x00,
		0xE8, 0x16, 0x00, 0x00, 0x00,
		0x68, 0xBE, 0xBA, 0xFE, 0xCA,
		0x90, 0x90, 0x90,
	}, m.Bytes()[:18])
}

func TestInlineReplace(t *testing.T) {
	m := newCode(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9})
	base := m.Addr()

	require.NoError(t, InlineReplace(base, base+0x20, 7))
	assert.Equal(t, []byte{0xE8, 0x1B, 0x00, 0x00, 0x00, 0x90, 0x90, 8}, m.Bytes()[:8])

	require.NoError(t, InlineReplaceJump(base, base+0x20, 6))
	assert.Equal(t, []byte{0xE9, 0x1B, 0x00, 0x00, 0x00, 0x90, 0x90, 8}, m.Bytes()[:8])
}

func TestWritersRefuseUnmappedMemory(t *testing.T) {
	m := newCode(t, nil)
	addr := m.Addr()
	require.NoError(t, m.Release())

	assert.ErrorIs(t, WriteJmp(addr, addr+0x20), ErrPermission)
	assert.ErrorIs(t, WriteNop(addr, 4), ErrPermission)
	assert.ErrorIs(t, InlineReplace(addr, addr+0x20, 5), ErrPermission)
	_, err := SetPermission(addr, 4, PermExecuteReadWrite)
	assert.ErrorIs(t, err, ErrPermission)
}
