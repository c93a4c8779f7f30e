package cpu

// Flags holds the architectural flag bits as booleans; FlagsWord/
// SetFlagsWord marshal to/from the packed representation, which
// always carries bit 1 set.
type Flags struct {
	CF, PF, AF, ZF, SF, TF, IF, DF, OF bool
}

const (
	flagCF uint16 = 1 << 0
	flagPF uint16 = 1 << 2
	flagAF uint16 = 1 << 4
	flagZF uint16 = 1 << 6
	flagSF uint16 = 1 << 7
	flagTF uint16 = 1 << 8
	flagIF uint16 = 1 << 9
	flagDF uint16 = 1 << 10
	flagOF uint16 = 1 << 11
)

// FlagsWord packs the flags into the 80286 FLAGS register layout.
// Bit 1 is always 1; IOPL and NT are not modeled and read as 0.
func (f *Flags) FlagsWord() uint16 {
	w := uint16(0x0002)
	if f.CF {
		w |= flagCF
	}
	if f.PF {
		w |= flagPF
	}
	if f.AF {
		w |= flagAF
	}
	if f.ZF {
		w |= flagZF
	}
	if f.SF {
		w |= flagSF
	}
	if f.TF {
		w |= flagTF
	}
	if f.IF {
		w |= flagIF
	}
	if f.DF {
		w |= flagDF
	}
	if f.OF {
		w |= flagOF
	}
	return w
}

// SetFlagsWord unpacks a FLAGS value, e.g. after POPF or IRET.
func (f *Flags) SetFlagsWord(w uint16) {
	f.CF = w&flagCF != 0
	f.PF = w&flagPF != 0
	f.AF = w&flagAF != 0
	f.ZF = w&flagZF != 0
	f.SF = w&flagSF != 0
	f.TF = w&flagTF != 0
	f.IF = w&flagIF != 0
	f.DF = w&flagDF != 0
	f.OF = w&flagOF != 0
}

var parityTable [256]bool

func init() {
	for v := 0; v < 256; v++ {
		bits := 0
		for b := v; b != 0; b &= b - 1 {
			bits++
		}
		parityTable[v] = bits%2 == 0
	}
}

func (f *Flags) szp8(value uint8) {
	f.ZF = value == 0
	f.SF = value&0x80 != 0
	f.PF = parityTable[value]
}

func (f *Flags) szp16(value uint16) {
	f.ZF = value == 0
	f.SF = value&0x8000 != 0
	f.PF = parityTable[value&0xFF]
}

// Log8/Log16 apply the flags AND/OR/XOR/TEST/NOT leave behind:
// SZP from the result, CF and OF always cleared.
func (f *Flags) Log8(result uint8) {
	f.szp8(result)
	f.CF, f.OF = false, false
}

func (f *Flags) Log16(result uint16) {
	f.szp16(result)
	f.CF, f.OF = false, false
}

// Add8/Add16 compute the flags for dst+src (ADD, INC without carry-in).
func (f *Flags) Add8(v1, v2 uint8) uint8 {
	dst := uint16(v1) + uint16(v2)
	f.szp8(uint8(dst))
	f.CF = dst&0xFF00 != 0
	f.OF = (dst^uint16(v1))&(dst^uint16(v2))&0x80 == 0x80
	f.AF = (uint16(v1)^uint16(v2)^dst)&0x10 != 0
	return uint8(dst)
}

func (f *Flags) Add16(v1, v2 uint16) uint16 {
	dst := uint32(v1) + uint32(v2)
	f.szp16(uint16(dst))
	f.CF = dst&0xFFFF0000 != 0
	f.OF = (dst^uint32(v1))&(dst^uint32(v2))&0x8000 == 0x8000
	f.AF = (uint32(v1)^uint32(v2)^dst)&0x10 != 0
	return uint16(dst)
}

// Adc8/Adc16 compute v1+v2+carryIn (ADC).
func (f *Flags) Adc8(v1, v2 uint8, carryIn bool) uint8 {
	var c3 uint16
	if carryIn {
		c3 = 1
	}
	dst := uint16(v1) + uint16(v2) + c3
	f.szp8(uint8(dst))
	f.OF = ((dst^uint16(v1))&(dst^uint16(v2)))&0x80 == 0x80
	f.CF = dst&0xFF00 != 0
	f.AF = (uint16(v1)^uint16(v2)^dst)&0x10 != 0
	return uint8(dst)
}

func (f *Flags) Adc16(v1, v2 uint16, carryIn bool) uint16 {
	var c3 uint32
	if carryIn {
		c3 = 1
	}
	dst := uint32(v1) + uint32(v2) + c3
	f.szp16(uint16(dst))
	f.OF = ((dst^uint32(v1))&(dst^uint32(v2)))&0x8000 == 0x8000
	f.CF = dst&0xFFFF0000 != 0
	f.AF = (uint32(v1)^uint32(v2)^dst)&0x10 != 0
	return uint16(dst)
}

// Sub8/Sub16 compute v1-v2 (SUB, CMP, DEC without borrow-in).
func (f *Flags) Sub8(v1, v2 uint8) uint8 {
	dst := uint16(v1) - uint16(v2)
	f.szp8(uint8(dst))
	f.CF = dst&0xFF00 != 0
	f.OF = (dst^uint16(v1))&(uint16(v1)^uint16(v2))&0x80 != 0
	f.AF = (uint16(v1)^uint16(v2)^dst)&0x10 != 0
	return uint8(dst)
}

func (f *Flags) Sub16(v1, v2 uint16) uint16 {
	dst := uint32(v1) - uint32(v2)
	f.szp16(uint16(dst))
	f.CF = dst&0xFFFF0000 != 0
	f.OF = (dst^uint32(v1))&(uint32(v1)^uint32(v2))&0x8000 != 0
	f.AF = (uint32(v1)^uint32(v2)^dst)&0x10 != 0
	return uint16(dst)
}

// Sbb8/Sbb16 compute v1-(v2+borrowIn) (SBB).
func (f *Flags) Sbb8(v1, v2 uint8, borrowIn bool) uint8 {
	if borrowIn {
		v2++
	}
	dst := uint16(v1) - uint16(v2)
	f.szp8(uint8(dst))
	f.CF = dst&0xFF00 != 0
	f.OF = (dst^uint16(v1))&(uint16(v1)^uint16(v2))&0x80 != 0
	f.AF = (uint16(v1)^uint16(v2)^dst)&0x10 != 0
	return uint8(dst)
}

func (f *Flags) Sbb16(v1, v2 uint16, borrowIn bool) uint16 {
	if borrowIn {
		v2++
	}
	dst := uint32(v1) - uint32(v2)
	f.szp16(uint16(dst))
	f.CF = dst&0xFFFF0000 != 0
	f.OF = (dst^uint32(v1))&(uint32(v1)^uint32(v2))&0x8000 != 0
	f.AF = (uint32(v1)^uint32(v2)^dst)&0x10 != 0
	return uint16(dst)
}

// daa implements DAA (0x27): adjusts AL back to packed BCD after an
// addition. AF is only ever set here, never cleared; CF may be set by
// the low-nibble correction and is then recomputed (set or cleared)
// by the high-nibble correction whenever that step runs.
func (f *Flags) daa(al uint8) uint8 {
	oldAL := al
	if al&0x0F > 9 || f.AF {
		oper1 := uint16(al) + 0x06
		al = uint8(oper1)
		if oper1&0xFF00 != 0 {
			f.CF = true
		}
		if oper1&0x000F < uint16(oldAL&0x0F) {
			f.AF = true
		}
	}
	if al&0xF0 > 0x90 || f.CF {
		oper1 := uint16(al) + 0x60
		al = uint8(oper1)
		if oper1&0xFF00 != 0 {
			f.CF = true
		} else {
			f.CF = false
		}
	}
	f.szp8(al)
	return al
}

// das implements DAS (0x2F): the subtractive counterpart of daa.
func (f *Flags) das(al uint8) uint8 {
	oldAL := al
	if al&0x0F > 9 || f.AF {
		oper1 := uint16(al) - 0x06
		al = uint8(oper1)
		if oper1&0xFF00 != 0 {
			f.CF = true
		}
		if oper1&0x000F >= uint16(oldAL&0x0F) {
			f.AF = true
		}
	}
	if al&0xF0 > 0x90 || f.CF {
		oper1 := uint16(al) - 0x60
		al = uint8(oper1)
		if oper1&0xFF00 != 0 {
			f.CF = true
		} else {
			f.CF = false
		}
	}
	f.szp8(al)
	return al
}

// aaa implements AAA (0x37): adjusts AX so AL holds an unpacked BCD
// digit after an addition. Unlike daa/das, AF/CF are unconditionally
// set or cleared together.
func (f *Flags) aaa(ax uint16) uint16 {
	al := uint8(ax)
	if al&0x0F > 9 || f.AF {
		ax += 0x106
		f.AF = true
		f.CF = true
	} else {
		f.AF = false
		f.CF = false
	}
	return (ax & 0xFF00) | uint16(uint8(ax)&0x0F)
}

// aas implements AAS (0x3F): the subtractive counterpart of aaa.
func (f *Flags) aas(ax uint16) uint16 {
	al := uint8(ax)
	if al&0x0F > 9 || f.AF {
		ax -= 6
		ah := uint8(ax>>8) - 1
		ax = uint16(ah)<<8 | (ax & 0x00FF)
		f.AF = true
		f.CF = true
	} else {
		f.AF = false
		f.CF = false
	}
	return (ax & 0xFF00) | uint16(uint8(ax)&0x0F)
}

// aam implements the division half of AAM (0xD4): divisor must already
// be confirmed nonzero by the caller, which raises INT 0 itself. AH
// gets the quotient, AL the remainder; SZP is set from the resulting
// AX.
func (f *Flags) aam(al, divisor uint8) uint16 {
	ah := al / divisor
	al = al % divisor
	ax := uint16(ah)<<8 | uint16(al)
	f.szp16(ax)
	return ax
}

// aad implements AAD (0xD5): folds AH*base+AL down into AL before a
// division, zeroing AH. Unlike aam this has no zero-divisor case — the
// immediate is a multiplier, not a divisor.
func (f *Flags) aad(ax uint16, base uint8) uint16 {
	ah := uint8(ax >> 8)
	al := uint8(ax)
	newAL := uint8(uint16(ah)*uint16(base) + uint16(al))
	f.szp16(uint16(newAL))
	f.SF = false
	return uint16(newAL)
}
