package x86

import "github.com/wasmback/wasmback/internal/ir"

// encodeModRM returns the ModR/M byte (and optional SIB) for a
// register-or-memory r/m operand plus a reg-field operand, along with any
// displacement bytes required. regField carries either the instruction's
// second register operand or an opcode-extension digit (/0../7), per
// Intel's encoding tables.
//
// memBase/hasMem selects between a pure register r/m (hasMem=false) and a
// [memBase+disp] r/m (hasMem=true). disp is only consulted when hasMem.
func encodeModRM(regField byte, rm byte, hasMem bool, disp int32) (modrm byte, sib []byte, dispBytes []byte) {
	regField &= 0x7
	rmLow := rm & 0x7

	if !hasMem {
		modrm = 0b11_000_000 | regField<<3 | rmLow
		return modrm, nil, nil
	}

	// [base] addressing modes. base low3==100 (SP/R12) requires a SIB byte
	// with no index; base low3==101 (BP/R13) cannot use mod=00 (that
	// encodes RIP-relative/disp32-only in 64-bit mode, or disp32-absolute
	// addressing in 32-bit mode) so disp0 is forced to the 8-bit-disp form.
	mod := byte(0b01) // default: 8-bit displacement
	var dispSize int = 1
	if disp == 0 && rmLow != 0b101 {
		mod = 0b00
		dispSize = 0
	} else if disp < -128 || disp > 127 {
		mod = 0b10
		dispSize = 4
	}

	modrm = mod<<6 | regField<<3 | rmLow
	if rmLow == 0b100 {
		sib = []byte{0x24} // scale=00, index=100 (none), base=rmLow via REX.B separately
		// SIB's base field also needs the low3 bits of the real base register;
		// since rmLow already equals 0b100 for SP/R12, the SIB base field
		// below must carry the same low3 bits (100), matching Intel's table.
		sib[0] = 0<<6 | 0b100<<3 | rmLow
	}
	switch dispSize {
	case 1:
		dispBytes = []byte{byte(int8(disp))}
	case 4:
		dispBytes = le32(uint32(disp))
	}
	return modrm, sib, dispBytes
}

// rm16Field maps a base register to its 16-bit-addressing ModR/M r/m
// encoding. Real addressing mode has eight r/m forms: four base-plus-index
// pairs ([BX+SI], [BX+DI], [BP+SI], [BP+DI]) and four single-register forms
// ([SI], [DI], [BP] (or disp16-only under mod=00), [BX]). ir.Mem carries a
// single base register with no index, so only the four single-register
// forms are reachable; every other base register is simply not encodable
// as 16-bit real-mode r/m, reported via the bool result.
func rm16Field(base ir.Register) (byte, bool) {
	switch base {
	case SI:
		return 0b100, true
	case DI:
		return 0b101, true
	case BP:
		return 0b110, true
	case BX:
		return 0b111, true
	default:
		return 0, false
	}
}

// encodeModRM16 returns the ModR/M byte and little-endian displacement
// bytes for a 16-bit-addressing [base+disp] r/m operand, or ok=false if
// base has no 16-bit r/m encoding. There is no SIB byte in 16-bit
// addressing, and mod=00/rm=110 is reserved for a base-less disp16-only
// operand, so a zero-displacement [BP] access is forced to the 8-bit-disp
// form exactly as encodeModRM forces it for base register BP/R13 in
// 32/64-bit addressing.
func encodeModRM16(regField byte, base ir.Register, disp int32) (modrm byte, dispBytes []byte, ok bool) {
	regField &= 0x7
	rm, ok := rm16Field(base)
	if !ok {
		return 0, nil, false
	}

	mod := byte(0b01)
	dispSize := 1
	if disp == 0 && rm != 0b110 {
		mod = 0b00
		dispSize = 0
	} else if disp < -128 || disp > 127 {
		mod = 0b10
		dispSize = 2
	}

	modrm = mod<<6 | regField<<3 | rm
	switch dispSize {
	case 1:
		dispBytes = []byte{byte(int8(disp))}
	case 2:
		dispBytes = le16(uint16(disp))
	}
	return modrm, dispBytes, true
}

func le16(v uint16) []byte { return []byte{byte(v), byte(v >> 8)} }
func le32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}
func le64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

// fits8 reports whether v is representable as a sign-extended 8-bit
// immediate, the x86 immediate-size-reduction rule. This is a
// pure function of the already-known value, never of a label distance, so
// it never breaks the estimator/encoder agreement.
func fits8(v int64) bool { return v >= -128 && v <= 127 }
