package reloc

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"golang.org/x/arch/x86/x86asm"

	"github.com/k2io/sunset/internal/patch"
)

const (
	nearJccLen = 6
	// inverted Jcc rel8 over an absolute jump
	farJccLen = 2 + patch.AbsJmpLen
	// CALL [RIP+2]; JMP +8; target
	farCallLen = 6 + 2 + 8
)

// condition code nibble of each Jcc
var condCodes = map[x86asm.Op]byte{
	x86asm.JO:  0x0,
	x86asm.JNO: 0x1,
	x86asm.JB:  0x2,
	x86asm.JAE: 0x3,
	x86asm.JE:  0x4,
	x86asm.JNE: 0x5,
	x86asm.JBE: 0x6,
	x86asm.JA:  0x7,
	x86asm.JS:  0x8,
	x86asm.JNS: 0x9,
	x86asm.JP:  0xA,
	x86asm.JNP: 0xB,
	x86asm.JL:  0xC,
	x86asm.JGE: 0xD,
	x86asm.JLE: 0xE,
	x86asm.JG:  0xF,
}

func appendBranch(out []byte, inst x86asm.Inst, mode int, dst, target uintptr) ([]byte, error) {
	if inst.Op == x86asm.JMP {
		if disp, ok := rel32(mode, dst, target, patch.JmpLen); ok {
			return appendRel32(out, 0xE9, disp), nil
		}
		return appendAbsJmp(out, target), nil
	}
	if inst.Op == x86asm.CALL {
		if disp, ok := rel32(mode, dst, target, patch.JmpLen); ok {
			return appendRel32(out, 0xE8, disp), nil
		}
		out = append(out, 0xFF, 0x15, 0x02, 0x00, 0x00, 0x00, 0xEB, 0x08)
		return binary.LittleEndian.AppendUint64(out, uint64(target)), nil
	}
	cc, ok := condCodes[inst.Op]
	if !ok {
		// JCXZ, LOOP and friends only exist with rel8
		return nil, errors.Wrapf(ErrRelocation, "short-only branch %v", inst.Op)
	}
	if disp, ok := rel32(mode, dst, target, nearJccLen); ok {
		out = append(out, 0x0F, 0x80|cc)
		return binary.LittleEndian.AppendUint32(out, uint32(disp)), nil
	}
	out = append(out, 0x70|(cc^1), patch.AbsJmpLen)
	return appendAbsJmp(out, target), nil
}

func appendRel32(out []byte, op byte, disp int32) []byte {
	out = append(out, op)
	return binary.LittleEndian.AppendUint32(out, uint32(disp))
}

func appendAbsJmp(out []byte, target uintptr) []byte {
	var buf [patch.AbsJmpLen]byte
	// buf is exactly AbsJmpLen long
	_ = patch.EncodeAbsJmp(buf[:], target)
	return append(out, buf[:]...)
}
