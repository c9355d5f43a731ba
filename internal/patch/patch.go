// Package patch encodes the x86 branch, push and nop instructions used to
// redirect code, and writes them into live process memory.
package patch

import (
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/pkg/errors"
)

const (
	// JmpLen is the length of JMP rel32, CALL rel32 and PUSH imm32
	JmpLen = 5
	// AbsJmpLen is the length of JMP [RIP+0] followed by the 64-bit target
	AbsJmpLen = 14

	opJmp  = 0xE9
	opCall = 0xE8
	opPush = 0x68
	opNop  = 0x90
)

var (
	// ErrOutOfRange means the branch target is beyond a 32-bit displacement
	ErrOutOfRange = errors.New("branch target out of rel32 range")
	// ErrShortBuffer means the destination cannot hold the instruction
	ErrShortBuffer = errors.New("buffer too short for instruction")
)

// Rel32 returns the displacement of a 5-byte branch at src reaching dst.
func Rel32(src, dst uintptr) (int32, error) {
	return RelN(src, dst, JmpLen)
}

// RelN returns the displacement of an n-byte branch at src reaching dst.
func RelN(src, dst uintptr, n int) (int32, error) {
	disp := dst - (src + uintptr(n))
	if unsafe.Sizeof(disp) == 8 {
		d := int64(disp)
		if d < math.MinInt32 || d > math.MaxInt32 {
			return 0, errors.Wrapf(ErrOutOfRange, "%#x -> %#x", src, dst)
		}
	}
	return int32(disp), nil
}

// Fits reports whether a 5-byte branch at src can reach dst.
func Fits(src, dst uintptr) bool {
	_, err := Rel32(src, dst)
	return err == nil
}

func encodeRel(buf []byte, op byte, src, dst uintptr) error {
	if len(buf) < JmpLen {
		return ErrShortBuffer
	}
	disp, err := Rel32(src, dst)
	if err != nil {
		return err
	}
	buf[0] = op
	binary.LittleEndian.PutUint32(buf[1:], uint32(disp))
	return nil
}

// EncodeJmp writes JMP rel32 into buf, which is located at src.
func EncodeJmp(buf []byte, src, dst uintptr) error {
	return encodeRel(buf, opJmp, src, dst)
}

// EncodeCall writes CALL rel32 into buf, which is located at src.
func EncodeCall(buf []byte, src, dst uintptr) error {
	return encodeRel(buf, opCall, src, dst)
}

// EncodePush writes PUSH imm32.
func EncodePush(buf []byte, imm uint32) error {
	if len(buf) < JmpLen {
		return ErrShortBuffer
	}
	buf[0] = opPush
	binary.LittleEndian.PutUint32(buf[1:], imm)
	return nil
}

// EncodeNop fills buf with NOP.
func EncodeNop(buf []byte) {
	for i := range buf {
		buf[i] = opNop
	}
}

// EncodeAbsJmp writes JMP [RIP+0] with the 64-bit target right behind it.
// It clobbers no register and is only valid in 64-bit mode.
func EncodeAbsJmp(buf []byte, dst uintptr) error {
	if len(buf) < AbsJmpLen {
		return ErrShortBuffer
	}
	copy(buf, []byte{0xFF, 0x25, 0x00, 0x00, 0x00, 0x00})
	binary.LittleEndian.PutUint64(buf[6:], uint64(dst))
	return nil
}

// Target decodes the destination of the JMP/CALL rel32 in buf located at src.
func Target(buf []byte, src uintptr) (uintptr, bool) {
	if len(buf) < JmpLen || (buf[0] != opJmp && buf[0] != opCall) {
		return 0, false
	}
	disp := int32(binary.LittleEndian.Uint32(buf[1:]))
	return src + JmpLen + uintptr(int64(disp)), true
}

// Slice views n bytes of memory at addr.
func Slice(addr uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}
