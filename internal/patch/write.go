package patch

import (
	"github.com/k2io/sunset/internal/prot"
)

// The writers below make their range writable and executable first and
// never write when that fails. They do not restore the protection, callers
// chain several writes under one elevated window and restore it themselves.

// WriteJmp writes JMP rel32 at src targeting dst.
func WriteJmp(src, dst uintptr) error {
	var code [JmpLen]byte
	if err := EncodeJmp(code[:], src, dst); err != nil {
		return err
	}
	return Write(src, code[:])
}

// WriteCall writes CALL rel32 at src targeting dst.
func WriteCall(src, dst uintptr) error {
	var code [JmpLen]byte
	if err := EncodeCall(code[:], src, dst); err != nil {
		return err
	}
	return Write(src, code[:])
}

// WritePush writes PUSH imm32 at src.
func WritePush(src uintptr, imm uint32) error {
	var code [JmpLen]byte
	if err := EncodePush(code[:], imm); err != nil {
		return err
	}
	return Write(src, code[:])
}

// WriteNop fills n bytes at addr with NOP.
func WriteNop(addr uintptr, n int) error {
	if n <= 0 {
		return nil
	}
	if err := prot.Change(addr, uintptr(n), prot.ExecuteReadWrite); err != nil {
		return err
	}
	EncodeNop(Slice(addr, n))
	return nil
}

// Write copies code to addr.
func Write(addr uintptr, code []byte) error {
	if len(code) == 0 {
		return nil
	}
	if err := prot.Change(addr, uintptr(len(code)), prot.ExecuteReadWrite); err != nil {
		return err
	}
	copy(Slice(addr, len(code)), code)
	return nil
}

// ReplaceWithCall NOP-fills size bytes at src and puts a CALL rel32 to dst
// at their start, in one write.
func ReplaceWithCall(src, dst uintptr, size int) error {
	return replace(opCall, src, dst, size)
}

// ReplaceWithJmp is ReplaceWithCall with a JMP rel32.
func ReplaceWithJmp(src, dst uintptr, size int) error {
	return replace(opJmp, src, dst, size)
}

func replace(op byte, src, dst uintptr, size int) error {
	if size < JmpLen {
		return ErrShortBuffer
	}
	code := make([]byte, size)
	EncodeNop(code)
	if err := encodeRel(code, op, src, dst); err != nil {
		return err
	}
	return Write(src, code)
}
