package disasm

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// Call instruction detection. Statepoint and patchpoint records usually sit
// on the return address of a call, so the call ending at a site tells which
// callee the safepoint belongs to.

// CallInfo describes a decoded call instruction.
type CallInfo struct {
	Target   uint64 // absolute target address; 0 if indirect
	Indirect bool
	Reg      string // register operand for indirect calls, when known
}

// x86Call reports direct and indirect CALL instructions.
func x86Call(inst x86asm.Inst, pc uint64) *CallInfo {
	if inst.Op != x86asm.CALL {
		return nil
	}
	switch a := inst.Args[0].(type) {
	case x86asm.Rel:
		return &CallInfo{Target: uint64(int64(pc) + int64(inst.Len) + int64(a))}
	case x86asm.Reg:
		return &CallInfo{Indirect: true, Reg: a.String()}
	default:
		return &CallInfo{Indirect: true}
	}
}

// arm64Call detects BL and BLR from the raw 32-bit encoding.
func arm64Call(raw uint32, pc uint64) *CallInfo {
	if target, ok := isBL(raw, pc); ok {
		return &CallInfo{Target: target}
	}
	if rn, ok := isBLR(raw); ok {
		return &CallInfo{Indirect: true, Reg: fmt.Sprintf("X%d", rn)}
	}
	return nil
}

// isBL detects ARM64 BL (branch with link) instructions.
// Encoding: 1 | 00101 | imm26
// Mask: 0xFC000000, Value: 0x94000000
// Returns the target address (sign-extended imm26 * 4 + PC).
func isBL(raw uint32, pc uint64) (target uint64, ok bool) {
	if raw&0xFC000000 != 0x94000000 {
		return 0, false
	}
	offset := signExtend(raw&0x03FFFFFF, 26) * 4
	return uint64(int64(pc) + int64(offset)), true
}

// isBLR detects ARM64 BLR (branch with link to register) instructions.
// Encoding: 1101011 | 0 | 0 | 01 | 11111 | 0000 | 0 | 0 | Rn | 00000
// Mask: 0xFFFFFC1F, Value: 0xD63F0000
func isBLR(raw uint32) (rn int, ok bool) {
	if raw&0xFFFFFC1F != 0xD63F0000 {
		return 0, false
	}
	return int((raw >> 5) & 0x1F), true
}

// signExtend sign-extends a value from the given bit width to int32.
func signExtend(val uint32, bits int) int32 {
	sign := uint32(1) << (bits - 1)
	mask := sign - 1
	if val&sign != 0 {
		return int32(val | ^mask) // negative
	}
	return int32(val & mask)
}
