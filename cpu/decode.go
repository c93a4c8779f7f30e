package cpu

import "fmt"

// maxPrefixBytes bounds the prefix walk: an instruction carrying more
// than this many prefix bytes in a row is treated as malformed and
// raises INT 13, mirroring the reference decoder's guard against a
// runaway prefix chain (e.g. a repeated segment-override byte).
const maxPrefixBytes = 10

const segNone = -1

// resetPrefixState clears the per-instruction prefix scratch at the top
// of every fetch-decode-execute cycle.
func (c *CPU) resetPrefixState() {
	c.segmentOverride = segNone
	c.repPrefix = 0
	c.prefixCount = 0
}

func (c *CPU) fetchByte() (byte, error) {
	var b byte
	var err error
	if c.ProtectedMode() {
		b, err = c.Memory.ReadBytePM(c.segMemDescriptor(SegCS), uint32(c.Regs.IP))
	} else {
		b, err = c.Memory.ReadByteReal(c.Regs.Seg[SegCS], c.Regs.IP)
	}
	if err != nil {
		return 0, err
	}
	c.Regs.IP++
	return b, nil
}

func (c *CPU) fetchWord() (uint16, error) {
	lo, err := c.fetchByte()
	if err != nil {
		return 0, err
	}
	hi, err := c.fetchByte()
	if err != nil {
		return 0, err
	}
	return uint16(lo) | uint16(hi)<<8, nil
}

// consumePrefixes walks leading segment-override/LOCK/REP bytes,
// leaving the opcode byte itself unread. LOCK is accepted and
// discarded (no bus-lock semantics to emulate); REP/REPNE are
// recorded for the string-primitive executors in strings.go.
func (c *CPU) consumePrefixes() (opcode byte, err error) {
	c.resetPrefixState()
	for {
		b, err := c.fetchByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case 0x26:
			c.segmentOverride = SegES
		case 0x2E:
			c.segmentOverride = SegCS
		case 0x36:
			c.segmentOverride = SegSS
		case 0x3E:
			c.segmentOverride = SegDS
		case 0xF0:
			// LOCK: accepted, no effect.
		case 0xF2, 0xF3:
			c.repPrefix = b
		default:
			return b, nil
		}
		c.prefixCount++
		if c.prefixCount > maxPrefixBytes {
			return 0, &segFault{vector: 13}
		}
	}
}

// dataSegment returns the segment register an operand-fetch should use:
// the prefix override if one was given, else DS. Unlike real 8086
// hardware, no implicit SS override is applied for BP-based effective
// addresses; this is a documented, deliberately preserved behavior.
func (c *CPU) dataSegment() int {
	if c.segmentOverride != segNone {
		return c.segmentOverride
	}
	return SegDS
}

// modRM holds a decoded mod/reg/rm byte plus, for memory forms, the
// resolved 16-bit effective offset.
type modRM struct {
	mod    uint8
	reg    uint8
	rm     uint8
	isMem  bool
	offset uint16
}

func (c *CPU) readModRM() (modRM, error) {
	b, err := c.fetchByte()
	if err != nil {
		return modRM{}, err
	}
	m := modRM{mod: b >> 6, reg: (b >> 3) & 0x07, rm: b & 0x07}
	if m.mod == 3 {
		return m, nil
	}
	m.isMem = true
	offset, err := c.effectiveAddress(m.mod, m.rm)
	if err != nil {
		return modRM{}, err
	}
	m.offset = offset
	return m, nil
}

// effectiveAddress computes the 16-bit offset for a memory-form rm
// field per the classic base+index+displacement table. mod=00,rm=110
// is the direct-address special case (16-bit displacement, no base
// register).
func (c *CPU) effectiveAddress(mod, rm uint8) (uint16, error) {
	var base uint16
	switch rm {
	case 0:
		base = c.Regs.Word[RegBX] + c.Regs.Word[RegSI]
	case 1:
		base = c.Regs.Word[RegBX] + c.Regs.Word[RegDI]
	case 2:
		base = c.Regs.Word[RegBP] + c.Regs.Word[RegSI]
	case 3:
		base = c.Regs.Word[RegBP] + c.Regs.Word[RegDI]
	case 4:
		base = c.Regs.Word[RegSI]
	case 5:
		base = c.Regs.Word[RegDI]
	case 6:
		if mod == 0 {
			disp, err := c.fetchWord()
			if err != nil {
				return 0, err
			}
			return disp, nil
		}
		base = c.Regs.Word[RegBP]
	case 7:
		base = c.Regs.Word[RegBX]
	default:
		return 0, fmt.Errorf("cpu: impossible rm field %d", rm)
	}

	switch mod {
	case 0:
		return base, nil
	case 1:
		d, err := c.fetchByte()
		if err != nil {
			return 0, err
		}
		return base + uint16(int16(int8(d))), nil
	case 2:
		d, err := c.fetchWord()
		if err != nil {
			return 0, err
		}
		return base + d, nil
	default:
		return 0, fmt.Errorf("cpu: impossible mod field %d for memory rm", mod)
	}
}

// readRM8/writeRM8/readRM16/writeRM16 dispatch a decoded modRM to
// either a general register or a memory operand addressed through the
// resolved data segment (or the explicit override).
func (c *CPU) readRM8(m modRM) (uint8, error) {
	if !m.isMem {
		return c.Regs.GetByte(int(m.rm)), nil
	}
	return c.readMemByte(c.dataSegment(), m.offset)
}

func (c *CPU) writeRM8(m modRM, v uint8) error {
	if !m.isMem {
		c.Regs.SetByte(int(m.rm), v)
		return nil
	}
	return c.writeMemByte(c.dataSegment(), m.offset, v)
}

func (c *CPU) readRM16(m modRM) (uint16, error) {
	if !m.isMem {
		return c.Regs.Word[m.rm], nil
	}
	return c.readMemWord(c.dataSegment(), m.offset)
}

func (c *CPU) writeRM16(m modRM, v uint16) error {
	if !m.isMem {
		c.Regs.Word[m.rm] = v
		return nil
	}
	return c.writeMemWord(c.dataSegment(), m.offset, v)
}

// readMemByte/writeMemByte/readMemWord/writeMemWord route through
// protected- or real-mode addressing depending on MSW.PE, using the
// segment cache for seg (already loaded via LoadSegment or reset).
func (c *CPU) readMemByte(seg int, offset uint16) (uint8, error) {
	if c.ProtectedMode() {
		return c.Memory.ReadBytePM(c.segMemDescriptor(seg), uint32(offset))
	}
	return c.Memory.ReadByteReal(c.Regs.Seg[seg], offset)
}

func (c *CPU) writeMemByte(seg int, offset uint16, v uint8) error {
	if c.ProtectedMode() {
		return c.Memory.WriteBytePM(c.segMemDescriptor(seg), uint32(offset), v)
	}
	return c.Memory.WriteByteReal(c.Regs.Seg[seg], offset, v)
}

func (c *CPU) readMemWord(seg int, offset uint16) (uint16, error) {
	if c.ProtectedMode() {
		return c.Memory.ReadWordPM(c.segMemDescriptor(seg), uint32(offset))
	}
	return c.Memory.ReadWordReal(c.Regs.Seg[seg], offset)
}

func (c *CPU) writeMemWord(seg int, offset uint16, v uint16) error {
	if c.ProtectedMode() {
		return c.Memory.WriteWordPM(c.segMemDescriptor(seg), uint32(offset), v)
	}
	return c.Memory.WriteWordReal(c.Regs.Seg[seg], offset, v)
}
