package sunset

import (
	"go.uber.org/zap"

	"github.com/k2io/sunset/internal/patch"
)

// The writers make the target range writable and executable before
// writing and leave it that way. Nothing is written when the protection
// change fails.

// WriteJmp writes a 5 byte JMP rel32 at src that lands on dst.
func WriteJmp(src, dst uintptr) error {
	log().Debug("write jmp", hexField("src", src), hexField("dst", dst))
	return patch.WriteJmp(src, dst)
}

// WriteCall writes a 5 byte CALL rel32 at src that calls dst.
func WriteCall(src, dst uintptr) error {
	log().Debug("write call", hexField("src", src), hexField("dst", dst))
	return patch.WriteCall(src, dst)
}

// WritePush writes a 5 byte PUSH imm32 at src.
func WritePush(src uintptr, imm uint32) error {
	log().Debug("write push", hexField("src", src), zap.Uint32("imm", imm))
	return patch.WritePush(src, imm)
}

// WriteNop fills n bytes at addr with 0x90.
func WriteNop(addr uintptr, n int) error {
	log().Debug("write nop", hexField("addr", addr), zap.Int("n", n))
	return patch.WriteNop(addr, n)
}

// InlineReplace overwrites size bytes at src with a CALL to dst followed by
// NOPs. The called code returns behind the replaced bytes.
func InlineReplace(src, dst uintptr, size int) error {
	log().Debug("inline replace", hexField("src", src), hexField("dst", dst), zap.Int("size", size))
	return patch.ReplaceWithCall(src, dst, size)
}

// InlineReplaceJump overwrites size bytes at src with a JMP to dst followed
// by NOPs.
func InlineReplaceJump(src, dst uintptr, size int) error {
	log().Debug("inline replace jump", hexField("src", src), hexField("dst", dst), zap.Int("size", size))
	return patch.ReplaceWithJmp(src, dst, size)
}
