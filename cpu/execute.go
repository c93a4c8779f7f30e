package cpu

// Step executes exactly one instruction: the deferred single-step
// trap from the previous instruction, prefix consumption, dispatch,
// and re-arming the trap for the instruction that follows — mirroring
// the reference's trap_toggle/tf interplay, which delivers INT 1 one
// instruction after TF was set rather than immediately.
func (c *CPU) Step() error {
	if c.TrapPending {
		c.TrapPending = false
		if err := c.IntCall(1); err != nil {
			return err
		}
	}
	c.TrapPending = c.Flags.TF

	if c.Halted {
		return nil
	}

	instrStart := c.Regs.IP
	opcode, err := c.consumePrefixes()
	if err != nil {
		if sf, ok := err.(*segFault); ok {
			return c.IntCall(sf.vector)
		}
		return err
	}
	return c.dispatch(opcode, instrStart)
}

func (c *CPU) invalidOpcode() error { return c.IntCall(6) }

func (c *CPU) alu8(op uint8, a, b uint8) uint8 {
	switch op {
	case 0:
		return c.Flags.Add8(a, b)
	case 1:
		r := a | b
		c.Flags.Log8(r)
		return r
	case 2:
		return c.Flags.Adc8(a, b, c.Flags.CF)
	case 3:
		return c.Flags.Sbb8(a, b, c.Flags.CF)
	case 4:
		r := a & b
		c.Flags.Log8(r)
		return r
	case 5:
		return c.Flags.Sub8(a, b)
	case 6:
		r := a ^ b
		c.Flags.Log8(r)
		return r
	default: // 7: CMP, result discarded
		c.Flags.Sub8(a, b)
		return a
	}
}

func (c *CPU) alu16(op uint8, a, b uint16) uint16 {
	switch op {
	case 0:
		return c.Flags.Add16(a, b)
	case 1:
		r := a | b
		c.Flags.Log16(r)
		return r
	case 2:
		return c.Flags.Adc16(a, b, c.Flags.CF)
	case 3:
		return c.Flags.Sbb16(a, b, c.Flags.CF)
	case 4:
		r := a & b
		c.Flags.Log16(r)
		return r
	case 5:
		return c.Flags.Sub16(a, b)
	case 6:
		r := a ^ b
		c.Flags.Log16(r)
		return r
	default:
		c.Flags.Sub16(a, b)
		return a
	}
}

// dispatch is the primary-opcode switch. Anything it does not
// recognize raises the documented invalid-opcode fault (#6) rather
// than silently misbehaving.
func (c *CPU) dispatch(opcode byte, instrStart uint16) error {
	if opcode <= 0x3D && opcode&0xC7 <= 0x05 && opcode != 0x0F {
		return c.execALUGroup(opcode>>3, opcode&0x07)
	}

	switch {
	case opcode >= 0x50 && opcode <= 0x57:
		return c.pushReg(int(opcode - 0x50))
	case opcode >= 0x58 && opcode <= 0x5F:
		return c.popReg(int(opcode - 0x58))
	case opcode >= 0x40 && opcode <= 0x47:
		return c.incDecReg(int(opcode-0x40), true)
	case opcode >= 0x48 && opcode <= 0x4F:
		return c.incDecReg(int(opcode-0x48), false)
	case opcode >= 0x70 && opcode <= 0x7F:
		return c.jcc(opcode)
	case opcode >= 0x91 && opcode <= 0x97:
		return c.xchgAXReg(int(opcode - 0x90))
	case opcode >= 0xB0 && opcode <= 0xB7:
		return c.movRegImm8(int(opcode - 0xB0))
	case opcode >= 0xB8 && opcode <= 0xBF:
		return c.movRegImm16(int(opcode - 0xB8))
	case opcode >= 0xE0 && opcode <= 0xE3:
		return c.loopGroup(opcode)
	}

	switch opcode {
	case 0x06:
		return c.push(c.Regs.Seg[SegES])
	case 0x07:
		return c.popSeg(SegES)
	case 0x0E:
		return c.push(c.Regs.Seg[SegCS])
	case 0x16:
		return c.push(c.Regs.Seg[SegSS])
	case 0x17:
		return c.popSeg(SegSS)
	case 0x1E:
		return c.push(c.Regs.Seg[SegDS])
	case 0x1F:
		return c.popSeg(SegDS)
	case 0x27:
		c.Regs.SetByte(RegAL, c.Flags.daa(c.Regs.GetByte(RegAL)))
		return nil
	case 0x2F:
		c.Regs.SetByte(RegAL, c.Flags.das(c.Regs.GetByte(RegAL)))
		return nil
	case 0x37:
		c.Regs.Word[RegAX] = c.Flags.aaa(c.Regs.Word[RegAX])
		return nil
	case 0x3F:
		c.Regs.Word[RegAX] = c.Flags.aas(c.Regs.Word[RegAX])
		return nil
	case 0x0F:
		return c.dispatch0F()
	case 0x62:
		return c.boundOp()
	case 0x63:
		return c.arplOp()
	case 0x68:
		v, err := c.fetchWord()
		if err != nil {
			return err
		}
		return c.push(v)
	case 0x69:
		return c.imulImm(false)
	case 0x6A:
		b, err := c.fetchByte()
		if err != nil {
			return err
		}
		return c.push(uint16(int16(int8(b))))
	case 0x6B:
		return c.imulImm(true)
	case 0x6C:
		return c.ExecInsb(instrStart)
	case 0x6D:
		return c.ExecInsw(instrStart)
	case 0x6E:
		return c.ExecOutsb(instrStart)
	case 0x6F:
		return c.ExecOutsw(instrStart)
	case 0x80:
		return c.aluImmGroup(true, false)
	case 0x81:
		return c.aluImmGroup(false, false)
	case 0x83:
		return c.aluImmGroup(false, true)
	case 0x84:
		return c.testEbGb()
	case 0x85:
		return c.testEvGv()
	case 0x86:
		return c.xchgEbGb()
	case 0x87:
		return c.xchgEvGv()
	case 0x88:
		return c.movEbGb(false)
	case 0x89:
		return c.movEvGv(false)
	case 0x8A:
		return c.movEbGb(true)
	case 0x8B:
		return c.movEvGv(true)
	case 0x8C:
		return c.movEwSw()
	case 0x8D:
		return c.leaOp()
	case 0x8E:
		return c.movSwEw()
	case 0x8F:
		return c.popEv()
	case 0x90:
		return nil // NOP
	case 0x98:
		al := c.Regs.GetByte(RegAL)
		c.Regs.Word[RegAX] = uint16(int16(int8(al)))
		return nil
	case 0x99:
		if c.Regs.Word[RegAX]&0x8000 != 0 {
			c.Regs.Word[RegDX] = 0xFFFF
		} else {
			c.Regs.Word[RegDX] = 0
		}
		return nil
	case 0x9A:
		return c.callFarImm()
	case 0x9C:
		return c.push(c.Flags.FlagsWord())
	case 0x9D:
		v, err := c.pop()
		if err != nil {
			return err
		}
		c.Flags.SetFlagsWord(v)
		return nil
	case 0xA4:
		return c.ExecMovsb(instrStart)
	case 0xA5:
		return c.ExecMovsw(instrStart)
	case 0xA6:
		return c.ExecCmpsb(instrStart)
	case 0xA7:
		return c.ExecCmpsw(instrStart)
	case 0xA8:
		al := c.Regs.GetByte(RegAL)
		ib, err := c.fetchByte()
		if err != nil {
			return err
		}
		c.Flags.Log8(al & ib)
		return nil
	case 0xA9:
		ax := c.Regs.Word[RegAX]
		iv, err := c.fetchWord()
		if err != nil {
			return err
		}
		c.Flags.Log16(ax & iv)
		return nil
	case 0xAA:
		return c.ExecStosb(instrStart)
	case 0xAB:
		return c.ExecStosw(instrStart)
	case 0xAC:
		return c.ExecLodsb(instrStart)
	case 0xAD:
		return c.ExecLodsw(instrStart)
	case 0xAE:
		return c.ExecScasb(instrStart)
	case 0xAF:
		return c.ExecScasw(instrStart)
	case 0xC2:
		return c.retNear(true)
	case 0xC3:
		return c.retNear(false)
	case 0xC6:
		return c.movImmGroup(true)
	case 0xC7:
		return c.movImmGroup(false)
	case 0xCA:
		return c.retFar(true)
	case 0xCB:
		return c.retFar(false)
	case 0xCC:
		return c.IntCall(3)
	case 0xCD:
		n, err := c.fetchByte()
		if err != nil {
			return err
		}
		return c.IntCall(n)
	case 0xCE:
		if c.Flags.OF {
			return c.IntCall(4)
		}
		return nil
	case 0xCF:
		return c.IRET()
	case 0xC0:
		return c.shiftGroup(true, true)
	case 0xC1:
		return c.shiftGroup(false, true)
	case 0xD0:
		return c.shiftGroupFixed(true, 1)
	case 0xD1:
		return c.shiftGroupFixed(false, 1)
	case 0xD2:
		return c.shiftGroupFixed(true, uint8(c.Regs.GetByte(RegCL)))
	case 0xD3:
		return c.shiftGroupFixed(false, uint8(c.Regs.GetByte(RegCL)))
	case 0xD4:
		return c.aamOp()
	case 0xD5:
		return c.aadOp()
	case 0xD8, 0xD9, 0xDA, 0xDB, 0xDC, 0xDD, 0xDE, 0xDF:
		return c.escapeOp(opcode)
	case 0xE4:
		n, err := c.fetchByte()
		if err != nil {
			return err
		}
		c.Regs.SetByte(RegAL, c.Ports.In8(uint16(n)))
		return nil
	case 0xE5:
		n, err := c.fetchByte()
		if err != nil {
			return err
		}
		c.Regs.Word[RegAX] = c.Ports.In16(uint16(n))
		return nil
	case 0xE6:
		n, err := c.fetchByte()
		if err != nil {
			return err
		}
		c.Ports.Out8(uint16(n), c.Regs.GetByte(RegAL))
		return nil
	case 0xE7:
		n, err := c.fetchByte()
		if err != nil {
			return err
		}
		c.Ports.Out16(uint16(n), c.Regs.Word[RegAX])
		return nil
	case 0xE8:
		return c.callNearRel()
	case 0xE9:
		return c.jmpNearRel()
	case 0xEA:
		return c.jmpFarImm()
	case 0xEB:
		return c.jmpShortRel()
	case 0xEC:
		c.Regs.SetByte(RegAL, c.Ports.In8(c.Regs.Word[RegDX]))
		return nil
	case 0xED:
		c.Regs.Word[RegAX] = c.Ports.In16(c.Regs.Word[RegDX])
		return nil
	case 0xEE:
		c.Ports.Out8(c.Regs.Word[RegDX], c.Regs.GetByte(RegAL))
		return nil
	case 0xEF:
		c.Ports.Out16(c.Regs.Word[RegDX], c.Regs.Word[RegAX])
		return nil
	case 0xF4:
		c.Halted = true
		return nil
	case 0xF5:
		c.Flags.CF = !c.Flags.CF
		return nil
	case 0xF6:
		return c.grp3(true)
	case 0xF7:
		return c.grp3(false)
	case 0xF8:
		c.Flags.CF = false
		return nil
	case 0xF9:
		c.Flags.CF = true
		return nil
	case 0xFA:
		c.Flags.IF = false
		return nil
	case 0xFB:
		c.Flags.IF = true
		return nil
	case 0xFC:
		c.Flags.DF = false
		return nil
	case 0xFD:
		c.Flags.DF = true
		return nil
	case 0xFE:
		return c.incDecEb()
	case 0xFF:
		return c.incDecCallGroup()
	}
	return c.invalidOpcode()
}

// execALUGroup implements the six ALU forms (Eb,Gb / Ev,Gv / Gb,Eb /
// Gv,Ev / AL,Ib / AX,Iv) for opcodes 0x00-0x3D, where op is
// (opcode>>3)&7 selecting ADD/OR/ADC/SBB/AND/SUB/XOR/CMP.
func (c *CPU) execALUGroup(op, variant uint8) error {
	switch variant {
	case 0:
		m, err := c.readModRM()
		if err != nil {
			return err
		}
		a, err := c.readRM8(m)
		if err != nil {
			return err
		}
		b := c.Regs.GetByte(int(m.reg))
		r := c.alu8(op, a, b)
		if op != 7 {
			return c.writeRM8(m, r)
		}
		return nil
	case 1:
		m, err := c.readModRM()
		if err != nil {
			return err
		}
		a, err := c.readRM16(m)
		if err != nil {
			return err
		}
		b := c.Regs.Word[m.reg]
		r := c.alu16(op, a, b)
		if op != 7 {
			return c.writeRM16(m, r)
		}
		return nil
	case 2:
		m, err := c.readModRM()
		if err != nil {
			return err
		}
		a := c.Regs.GetByte(int(m.reg))
		b, err := c.readRM8(m)
		if err != nil {
			return err
		}
		r := c.alu8(op, a, b)
		if op != 7 {
			c.Regs.SetByte(int(m.reg), r)
		}
		return nil
	case 3:
		m, err := c.readModRM()
		if err != nil {
			return err
		}
		a := c.Regs.Word[m.reg]
		b, err := c.readRM16(m)
		if err != nil {
			return err
		}
		r := c.alu16(op, a, b)
		if op != 7 {
			c.Regs.Word[m.reg] = r
		}
		return nil
	case 4:
		b, err := c.fetchByte()
		if err != nil {
			return err
		}
		r := c.alu8(op, c.Regs.GetByte(RegAL), b)
		if op != 7 {
			c.Regs.SetByte(RegAL, r)
		}
		return nil
	default: // 5
		b, err := c.fetchWord()
		if err != nil {
			return err
		}
		r := c.alu16(op, c.Regs.Word[RegAX], b)
		if op != 7 {
			c.Regs.Word[RegAX] = r
		}
		return nil
	}
}

func (c *CPU) aluImmGroup(byteForm, signExtendImm bool) error {
	m, err := c.readModRM()
	if err != nil {
		return err
	}
	op := m.reg
	if byteForm {
		imm, err := c.fetchByte()
		if err != nil {
			return err
		}
		a, err := c.readRM8(m)
		if err != nil {
			return err
		}
		r := c.alu8(op, a, imm)
		if op != 7 {
			return c.writeRM8(m, r)
		}
		return nil
	}
	var imm uint16
	if signExtendImm {
		b, err := c.fetchByte()
		if err != nil {
			return err
		}
		imm = uint16(int16(int8(b)))
	} else {
		v, err := c.fetchWord()
		if err != nil {
			return err
		}
		imm = v
	}
	a, err := c.readRM16(m)
	if err != nil {
		return err
	}
	r := c.alu16(op, a, imm)
	if op != 7 {
		return c.writeRM16(m, r)
	}
	return nil
}

func (c *CPU) pushReg(i int) error  { return c.push(c.Regs.Word[i]) }
func (c *CPU) popReg(i int) error {
	v, err := c.pop()
	if err != nil {
		return err
	}
	c.Regs.Word[i] = v
	return nil
}

func (c *CPU) popSeg(seg int) error {
	v, err := c.pop()
	if err != nil {
		return err
	}
	return c.LoadSegment(seg, v)
}

func (c *CPU) incDecReg(i int, inc bool) error {
	v := c.Regs.Word[i]
	savedCF := c.Flags.CF
	if inc {
		v = c.Flags.Add16(v, 1)
	} else {
		v = c.Flags.Sub16(v, 1)
	}
	c.Flags.CF = savedCF // INC/DEC never touch CF
	c.Regs.Word[i] = v
	return nil
}

func conditionTrue(f *Flags, cc byte) bool {
	switch cc & 0x0F {
	case 0x0:
		return f.OF
	case 0x1:
		return !f.OF
	case 0x2:
		return f.CF
	case 0x3:
		return !f.CF
	case 0x4:
		return f.ZF
	case 0x5:
		return !f.ZF
	case 0x6:
		return f.CF || f.ZF
	case 0x7:
		return !f.CF && !f.ZF
	case 0x8:
		return f.SF
	case 0x9:
		return !f.SF
	case 0xA:
		return f.PF
	case 0xB:
		return !f.PF
	case 0xC:
		return f.SF != f.OF
	case 0xD:
		return f.SF == f.OF
	case 0xE:
		return f.ZF || f.SF != f.OF
	default: // 0xF
		return !f.ZF && f.SF == f.OF
	}
}

func (c *CPU) jcc(opcode byte) error {
	d, err := c.fetchByte()
	if err != nil {
		return err
	}
	if conditionTrue(&c.Flags, opcode) {
		c.Regs.IP += uint16(int16(int8(d)))
	}
	return nil
}

func (c *CPU) jmpShortRel() error {
	d, err := c.fetchByte()
	if err != nil {
		return err
	}
	c.Regs.IP += uint16(int16(int8(d)))
	return nil
}

func (c *CPU) jmpNearRel() error {
	d, err := c.fetchWord()
	if err != nil {
		return err
	}
	c.Regs.IP += d
	return nil
}

func (c *CPU) callNearRel() error {
	d, err := c.fetchWord()
	if err != nil {
		return err
	}
	if err := c.push(c.Regs.IP); err != nil {
		return err
	}
	c.Regs.IP += d
	return nil
}

func (c *CPU) retNear(hasImm bool) error {
	ip, err := c.pop()
	if err != nil {
		return err
	}
	c.Regs.IP = ip
	if hasImm {
		n, err := c.fetchWord()
		if err != nil {
			return err
		}
		c.Regs.Word[RegSP] += n
	}
	return nil
}

func (c *CPU) retFar(hasImm bool) error {
	ip, err := c.pop()
	if err != nil {
		return err
	}
	cs, err := c.pop()
	if err != nil {
		return err
	}
	c.Regs.IP = ip
	if err := c.LoadSegment(SegCS, cs); err != nil {
		return err
	}
	if hasImm {
		n, err := c.fetchWord()
		if err != nil {
			return err
		}
		c.Regs.Word[RegSP] += n
	}
	return nil
}

func (c *CPU) jmpFarImm() error {
	ip, err := c.fetchWord()
	if err != nil {
		return err
	}
	cs, err := c.fetchWord()
	if err != nil {
		return err
	}
	if err := c.LoadSegment(SegCS, cs); err != nil {
		return err
	}
	c.Regs.IP = ip
	return nil
}

func (c *CPU) callFarImm() error {
	ip, err := c.fetchWord()
	if err != nil {
		return err
	}
	cs, err := c.fetchWord()
	if err != nil {
		return err
	}
	if err := c.push(c.Regs.Seg[SegCS]); err != nil {
		return err
	}
	if err := c.push(c.Regs.IP); err != nil {
		return err
	}
	if err := c.LoadSegment(SegCS, cs); err != nil {
		return err
	}
	c.Regs.IP = ip
	return nil
}

func (c *CPU) loopGroup(opcode byte) error {
	d, err := c.fetchByte()
	if err != nil {
		return err
	}
	cx := c.Regs.Word[RegCX] - 1
	if opcode != 0xE3 { // E3 (JCXZ) does not touch CX
		c.Regs.Word[RegCX] = cx
	}
	var take bool
	switch opcode {
	case 0xE0: // LOOPNE/LOOPNZ
		take = cx != 0 && !c.Flags.ZF
	case 0xE1: // LOOPE/LOOPZ
		take = cx != 0 && c.Flags.ZF
	case 0xE2: // LOOP
		take = cx != 0
	case 0xE3: // JCXZ
		take = c.Regs.Word[RegCX] == 0
	}
	if take {
		c.Regs.IP += uint16(int16(int8(d)))
	}
	return nil
}

func (c *CPU) xchgAXReg(i int) error {
	c.Regs.Word[RegAX], c.Regs.Word[i] = c.Regs.Word[i], c.Regs.Word[RegAX]
	return nil
}

func (c *CPU) movRegImm8(i int) error {
	v, err := c.fetchByte()
	if err != nil {
		return err
	}
	c.Regs.SetByte(i, v)
	return nil
}

func (c *CPU) movRegImm16(i int) error {
	v, err := c.fetchWord()
	if err != nil {
		return err
	}
	c.Regs.Word[i] = v
	return nil
}

func (c *CPU) testEbGb() error {
	m, err := c.readModRM()
	if err != nil {
		return err
	}
	a, err := c.readRM8(m)
	if err != nil {
		return err
	}
	c.Flags.Log8(a & c.Regs.GetByte(int(m.reg)))
	return nil
}

func (c *CPU) testEvGv() error {
	m, err := c.readModRM()
	if err != nil {
		return err
	}
	a, err := c.readRM16(m)
	if err != nil {
		return err
	}
	c.Flags.Log16(a & c.Regs.Word[m.reg])
	return nil
}

func (c *CPU) xchgEbGb() error {
	m, err := c.readModRM()
	if err != nil {
		return err
	}
	a, err := c.readRM8(m)
	if err != nil {
		return err
	}
	b := c.Regs.GetByte(int(m.reg))
	if err := c.writeRM8(m, b); err != nil {
		return err
	}
	c.Regs.SetByte(int(m.reg), a)
	return nil
}

func (c *CPU) xchgEvGv() error {
	m, err := c.readModRM()
	if err != nil {
		return err
	}
	a, err := c.readRM16(m)
	if err != nil {
		return err
	}
	b := c.Regs.Word[m.reg]
	if err := c.writeRM16(m, b); err != nil {
		return err
	}
	c.Regs.Word[m.reg] = a
	return nil
}

func (c *CPU) movEbGb(toReg bool) error {
	m, err := c.readModRM()
	if err != nil {
		return err
	}
	if toReg {
		v, err := c.readRM8(m)
		if err != nil {
			return err
		}
		c.Regs.SetByte(int(m.reg), v)
		return nil
	}
	return c.writeRM8(m, c.Regs.GetByte(int(m.reg)))
}

func (c *CPU) movEvGv(toReg bool) error {
	m, err := c.readModRM()
	if err != nil {
		return err
	}
	if toReg {
		v, err := c.readRM16(m)
		if err != nil {
			return err
		}
		c.Regs.Word[m.reg] = v
		return nil
	}
	return c.writeRM16(m, c.Regs.Word[m.reg])
}

func (c *CPU) movEwSw() error {
	m, err := c.readModRM()
	if err != nil {
		return err
	}
	return c.writeRM16(m, c.Regs.Seg[m.reg&0x03])
}

func (c *CPU) movSwEw() error {
	m, err := c.readModRM()
	if err != nil {
		return err
	}
	v, err := c.readRM16(m)
	if err != nil {
		return err
	}
	return c.LoadSegment(int(m.reg&0x03), v)
}

func (c *CPU) leaOp() error {
	m, err := c.readModRM()
	if err != nil {
		return err
	}
	c.Regs.Word[m.reg] = m.offset
	return nil
}

func (c *CPU) popEv() error {
	m, err := c.readModRM()
	if err != nil {
		return err
	}
	v, err := c.pop()
	if err != nil {
		return err
	}
	return c.writeRM16(m, v)
}

func (c *CPU) movImmGroup(byteForm bool) error {
	m, err := c.readModRM()
	if err != nil {
		return err
	}
	if byteForm {
		v, err := c.fetchByte()
		if err != nil {
			return err
		}
		return c.writeRM8(m, v)
	}
	v, err := c.fetchWord()
	if err != nil {
		return err
	}
	return c.writeRM16(m, v)
}

// shiftGroup implements 0xC0/0xC1 (shift Eb/Ev by an immediate count).
func (c *CPU) shiftGroup(byteForm bool, _ bool) error {
	m, err := c.readModRM()
	if err != nil {
		return err
	}
	cnt, err := c.fetchByte()
	if err != nil {
		return err
	}
	return c.applyShift(m, byteForm, cnt)
}

// shiftGroupFixed implements 0xD0-0xD3 (shift by 1 or by CL).
func (c *CPU) shiftGroupFixed(byteForm bool, cnt uint8) error {
	m, err := c.readModRM()
	if err != nil {
		return err
	}
	return c.applyShift(m, byteForm, cnt)
}

func (c *CPU) applyShift(m modRM, byteForm bool, cnt uint8) error {
	cnt &= 0x1F
	if byteForm {
		v, err := c.readRM8(m)
		if err != nil {
			return err
		}
		r := c.shift8(m.reg, v, cnt)
		return c.writeRM8(m, r)
	}
	v, err := c.readRM16(m)
	if err != nil {
		return err
	}
	r := c.shift16(m.reg, v, cnt)
	return c.writeRM16(m, r)
}

func (c *CPU) shift8(op uint8, v uint8, cnt uint8) uint8 {
	for i := uint8(0); i < cnt; i++ {
		switch op {
		case 0: // ROL
			carry := v&0x80 != 0
			v = v<<1 | boolBit(carry)
			c.Flags.CF = carry
		case 1: // ROR
			carry := v&0x01 != 0
			v = v>>1 | boolBit(carry)<<7
			c.Flags.CF = carry
		case 2: // RCL
			carry := v&0x80 != 0
			v = v<<1 | boolBit(c.Flags.CF)
			c.Flags.CF = carry
		case 3: // RCR
			carry := v&0x01 != 0
			v = v>>1 | boolBit(c.Flags.CF)<<7
			c.Flags.CF = carry
		case 4, 6: // SHL/SAL
			c.Flags.CF = v&0x80 != 0
			v <<= 1
			c.Flags.Log8(v)
		case 5: // SHR
			c.Flags.CF = v&0x01 != 0
			v >>= 1
			c.Flags.Log8(v)
		case 7: // SAR
			c.Flags.CF = v&0x01 != 0
			v = uint8(int8(v) >> 1)
			c.Flags.Log8(v)
		}
	}
	return v
}

func (c *CPU) shift16(op uint8, v uint16, cnt uint8) uint16 {
	for i := uint8(0); i < cnt; i++ {
		switch op {
		case 0:
			carry := v&0x8000 != 0
			v = v<<1 | uint16(boolBit(carry))
			c.Flags.CF = carry
		case 1:
			carry := v&0x0001 != 0
			v = v>>1 | uint16(boolBit(carry))<<15
			c.Flags.CF = carry
		case 2:
			carry := v&0x8000 != 0
			v = v<<1 | uint16(boolBit(c.Flags.CF))
			c.Flags.CF = carry
		case 3:
			carry := v&0x0001 != 0
			v = v>>1 | uint16(boolBit(c.Flags.CF))<<15
			c.Flags.CF = carry
		case 4, 6:
			c.Flags.CF = v&0x8000 != 0
			v <<= 1
			c.Flags.Log16(v)
		case 5:
			c.Flags.CF = v&0x0001 != 0
			v >>= 1
			c.Flags.Log16(v)
		case 7:
			c.Flags.CF = v&0x0001 != 0
			v = uint16(int16(v) >> 1)
			c.Flags.Log16(v)
		}
	}
	return v
}

func boolBit(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

func (c *CPU) grp3(byteForm bool) error {
	m, err := c.readModRM()
	if err != nil {
		return err
	}
	if byteForm {
		v, err := c.readRM8(m)
		if err != nil {
			return err
		}
		switch m.reg {
		case 0, 1:
			imm, err := c.fetchByte()
			if err != nil {
				return err
			}
			c.Flags.Log8(v & imm)
		case 2:
			return c.writeRM8(m, ^v)
		case 3:
			r := c.Flags.Sub8(0, v)
			c.Flags.CF = r != 0
			return c.writeRM8(m, r)
		case 4:
			result := uint16(v) * uint16(c.Regs.GetByte(RegAL))
			c.Regs.Word[RegAX] = result
			c.Flags.szp8(uint8(result))
			high := result>>8 != 0
			c.Flags.CF, c.Flags.OF = high, high
		case 5:
			return c.imul8(v)
		case 6:
			return c.div8(v)
		case 7:
			return c.idiv8(v)
		}
		return nil
	}
	v, err := c.readRM16(m)
	if err != nil {
		return err
	}
	switch m.reg {
	case 0, 1:
		imm, err := c.fetchWord()
		if err != nil {
			return err
		}
		c.Flags.Log16(v & imm)
	case 2:
		return c.writeRM16(m, ^v)
	case 3:
		r := c.Flags.Sub16(0, v)
		c.Flags.CF = r != 0
		return c.writeRM16(m, r)
	case 4:
		result := uint32(v) * uint32(c.Regs.Word[RegAX])
		c.Regs.Word[RegAX] = uint16(result)
		c.Regs.Word[RegDX] = uint16(result >> 16)
		c.Flags.szp16(uint16(result))
		high := c.Regs.Word[RegDX] != 0
		c.Flags.CF, c.Flags.OF = high, high
	case 5:
		return c.imul16(v)
	case 6:
		return c.div16(v)
	case 7:
		return c.idiv16(v)
	}
	return nil
}

func (c *CPU) imul8(v uint8) error {
	product := int32(int8(v)) * int32(int8(c.Regs.GetByte(RegAL)))
	c.Regs.Word[RegAX] = uint16(product)
	overflow := product < -128 || product > 127
	c.Flags.CF, c.Flags.OF = overflow, overflow
	return nil
}

func (c *CPU) imul16(v uint16) error {
	product := int64(int16(v)) * int64(int16(c.Regs.Word[RegAX]))
	c.Regs.Word[RegAX] = uint16(product)
	c.Regs.Word[RegDX] = uint16(product >> 16)
	overflow := product < -32768 || product > 32767
	c.Flags.CF, c.Flags.OF = overflow, overflow
	return nil
}

// aamOp implements AAM (0xD4): the immediate byte following the
// opcode is the divisor. A zero divisor raises the divide-error
// interrupt (#0) and leaves AX untouched.
func (c *CPU) aamOp() error {
	divisor, err := c.fetchByte()
	if err != nil {
		return err
	}
	if divisor == 0 {
		return c.IntCall(0)
	}
	c.Regs.Word[RegAX] = c.Flags.aam(c.Regs.GetByte(RegAL), divisor)
	return nil
}

// aadOp implements AAD (0xD5): the immediate byte following the
// opcode is the multiplier AH is folded into AL by.
func (c *CPU) aadOp() error {
	base, err := c.fetchByte()
	if err != nil {
		return err
	}
	c.Regs.Word[RegAX] = c.Flags.aad(c.Regs.Word[RegAX], base)
	return nil
}

func (c *CPU) div8(divisor uint8) error {
	if divisor == 0 {
		return c.IntCall(0)
	}
	valdiv := c.Regs.Word[RegAX]
	if valdiv/uint16(divisor) > 0xFF {
		return c.IntCall(0)
	}
	c.Regs.SetByte(RegAL, uint8(valdiv/uint16(divisor)))
	c.Regs.SetByte(RegAH, uint8(valdiv%uint16(divisor)))
	return nil
}

func (c *CPU) idiv8(divisor uint8) error {
	if divisor == 0 {
		return c.IntCall(0)
	}
	valdiv := int16(c.Regs.Word[RegAX])
	d := int16(int8(divisor))
	q := valdiv / d
	r := valdiv % d
	if q > 127 || q < -128 {
		return c.IntCall(0)
	}
	c.Regs.SetByte(RegAL, uint8(q))
	c.Regs.SetByte(RegAH, uint8(r))
	return nil
}

func (c *CPU) div16(divisor uint16) error {
	if divisor == 0 {
		return c.IntCall(0)
	}
	valdiv := uint32(c.Regs.Word[RegDX])<<16 | uint32(c.Regs.Word[RegAX])
	if valdiv/uint32(divisor) > 0xFFFF {
		return c.IntCall(0)
	}
	c.Regs.Word[RegAX] = uint16(valdiv / uint32(divisor))
	c.Regs.Word[RegDX] = uint16(valdiv % uint32(divisor))
	return nil
}

func (c *CPU) idiv16(divisor uint16) error {
	if divisor == 0 {
		return c.IntCall(0)
	}
	valdiv := int32(uint32(c.Regs.Word[RegDX])<<16 | uint32(c.Regs.Word[RegAX]))
	d := int32(int16(divisor))
	q := valdiv / d
	r := valdiv % d
	if q > 32767 || q < -32768 {
		return c.IntCall(0)
	}
	c.Regs.Word[RegAX] = uint16(q)
	c.Regs.Word[RegDX] = uint16(r)
	return nil
}

// imulImm implements IMUL Gv,Ev,Iv/Ib (0x69/0x6B). Preserved literally
// from the reference: CF/OF are set whenever the 32-bit product's
// upper half is nonzero, which is not the correct signed-fit test and
// can misflag values in [-32768,-1].
func (c *CPU) imulImm(byteImm bool) error {
	m, err := c.readModRM()
	if err != nil {
		return err
	}
	rm, err := c.readRM16(m)
	if err != nil {
		return err
	}
	var imm int32
	if byteImm {
		b, err := c.fetchByte()
		if err != nil {
			return err
		}
		imm = int32(int8(b))
	} else {
		v, err := c.fetchWord()
		if err != nil {
			return err
		}
		imm = int32(int16(v))
	}
	product := uint32(int32(int16(rm)) * imm)
	c.Regs.Word[m.reg] = uint16(product)
	overflow := product&0xFFFF0000 != 0
	c.Flags.CF, c.Flags.OF = overflow, overflow
	return nil
}

// boundOp implements BOUND Gv,Ma. Preserved literally from the
// reference: the bounds-table address is computed as ea>>4 (segment)
// and ea&15 (offset) rather than a proper segment:offset pair.
func (c *CPU) boundOp() error {
	m, err := c.readModRM()
	if err != nil {
		return err
	}
	index := c.Regs.Word[m.reg]
	seg := m.offset >> 4
	off := m.offset & 15
	lower, err := c.Memory.ReadWordReal(seg, off)
	if err != nil {
		return err
	}
	upper, err := c.Memory.ReadWordReal(seg, off+2)
	if err != nil {
		return err
	}
	if int16(index) < int16(lower) || int16(index) > int16(upper) {
		return c.IntCall(5)
	}
	return nil
}

// arplOp implements ARPL Ew,Gw: raises #6 in real mode (the 286
// privilege-level mechanism does not exist there), otherwise adjusts
// the target's RPL up to the source's RPL when lower.
func (c *CPU) arplOp() error {
	if !c.ProtectedMode() {
		return c.IntCall(6)
	}
	m, err := c.readModRM()
	if err != nil {
		return err
	}
	dst, err := c.readRM16(m)
	if err != nil {
		return err
	}
	src := c.Regs.Word[m.reg]
	if dst&0x03 < src&0x03 {
		dst = (dst &^ 0x03) | (src & 0x03)
		c.Flags.ZF = true
		return c.writeRM16(m, dst)
	}
	c.Flags.ZF = false
	return nil
}

func (c *CPU) incDecEb() error {
	m, err := c.readModRM()
	if err != nil {
		return err
	}
	v, err := c.readRM8(m)
	if err != nil {
		return err
	}
	savedCF := c.Flags.CF
	var r uint8
	if m.reg == 0 {
		r = c.Flags.Add8(v, 1)
	} else {
		r = c.Flags.Sub8(v, 1)
	}
	c.Flags.CF = savedCF
	return c.writeRM8(m, r)
}

// incDecCallGroup implements 0xFF /0 INC Ev, /1 DEC Ev, /2 CALL Ev
// (near, indirect), /3 CALL Mp (far, indirect), /6 PUSH Ev. CALL
// Mp reads a far pointer from the operand's memory location.
func (c *CPU) incDecCallGroup() error {
	m, err := c.readModRM()
	if err != nil {
		return err
	}
	switch m.reg {
	case 0, 1:
		v, err := c.readRM16(m)
		if err != nil {
			return err
		}
		savedCF := c.Flags.CF
		var r uint16
		if m.reg == 0 {
			r = c.Flags.Add16(v, 1)
		} else {
			r = c.Flags.Sub16(v, 1)
		}
		c.Flags.CF = savedCF
		return c.writeRM16(m, r)
	case 2:
		target, err := c.readRM16(m)
		if err != nil {
			return err
		}
		if err := c.push(c.Regs.IP); err != nil {
			return err
		}
		c.Regs.IP = target
		return nil
	case 3:
		if !m.isMem {
			return c.invalidOpcode()
		}
		ip, err := c.readMemWord(c.dataSegment(), m.offset)
		if err != nil {
			return err
		}
		cs, err := c.readMemWord(c.dataSegment(), m.offset+2)
		if err != nil {
			return err
		}
		if err := c.push(c.Regs.Seg[SegCS]); err != nil {
			return err
		}
		if err := c.push(c.Regs.IP); err != nil {
			return err
		}
		if err := c.LoadSegment(SegCS, cs); err != nil {
			return err
		}
		c.Regs.IP = ip
		return nil
	case 6:
		v, err := c.readRM16(m)
		if err != nil {
			return err
		}
		return c.push(v)
	}
	return c.invalidOpcode()
}

func (c *CPU) escapeOp(opcode byte) error {
	if c.MSW&0x08 != 0 { // TS
		return c.IntCall(7)
	}
	m, err := c.readModRM()
	if err != nil {
		return err
	}
	if !m.isMem {
		c.FPU.Execute(opcode, int(m.reg), int(m.rm), false, nil)
		return nil
	}
	operand := &fpuMemOperand{c: c, seg: c.dataSegment(), offset: m.offset}
	c.FPU.Execute(opcode, int(m.reg), int(m.rm), true, operand)
	return nil
}

// dispatch0F handles the 0x0F extended opcode page: Group 6/7 system
// instructions, LAR/LSL, STOREALL, LOADALL, and CLTS.
func (c *CPU) dispatch0F() error {
	opcode, err := c.fetchByte()
	if err != nil {
		return err
	}
	switch opcode {
	case 0x00:
		return c.group6()
	case 0x01:
		return c.group7()
	case 0x02, 0x03:
		return c.larLsl(opcode)
	case 0x04: // STOREALL
		c.Halted = true
		return nil
	case 0x05:
		return c.loadall()
	case 0x06: // CLTS
		c.MSW &^= 0x08
		return nil
	}
	return c.invalidOpcode()
}

func (c *CPU) group6() error {
	if !c.ProtectedMode() {
		return c.IntCall(6)
	}
	m, err := c.readModRM()
	if err != nil {
		return err
	}
	switch m.reg {
	case 0: // SLDT
		return c.writeRM16(m, c.LDTR)
	case 1: // STR
		return c.writeRM16(m, c.TR)
	case 2: // LLDT
		sel, err := c.readRM16(m)
		if err != nil {
			return err
		}
		if err := c.LoadLDTR(sel); err != nil {
			if sf, ok := err.(*segFault); ok {
				return c.IntCall(sf.vector)
			}
			return err
		}
		return nil
	case 3: // LTR
		if c.CPL() != 0 {
			return c.IntCall(13)
		}
		sel, err := c.readRM16(m)
		if err != nil {
			return err
		}
		if err := c.LoadTR(sel); err != nil {
			if sf, ok := err.(*segFault); ok {
				return c.IntCall(sf.vector)
			}
			return err
		}
		return nil
	case 4, 5: // VERR/VERW
		sel, err := c.readRM16(m)
		if err != nil {
			return err
		}
		c.Flags.ZF = c.verifySegment(sel, m.reg == 4)
		return nil
	}
	return c.IntCall(6)
}

func (c *CPU) verifySegment(selector uint16, forRead bool) bool {
	if selector&0xFFFC == 0 {
		return false
	}
	desc, err := c.readDescriptor(selector)
	if err != nil {
		return false
	}
	cpl := c.CPL()
	rpl := uint8(selector & 0x03)
	dpl := accessDPL(desc.Access)
	if dpl < cpl || dpl < rpl {
		return false
	}
	if forRead {
		return accessIsCode(desc.Access) && accessReadable(desc.Access) || accessIsData(desc.Access)
	}
	return accessIsData(desc.Access) && accessWritable(desc.Access)
}

func (c *CPU) group7() error {
	m, err := c.readModRM()
	if err != nil {
		return err
	}
	switch m.reg {
	case 0: // SGDT
		if err := c.writeMemWord(c.dataSegment(), m.offset, c.GDTRLimit); err != nil {
			return err
		}
		return c.writeLinear24(m.offset+2, c.GDTRBase)
	case 1: // SIDT
		if err := c.writeMemWord(c.dataSegment(), m.offset, c.IDTRLimit); err != nil {
			return err
		}
		return c.writeLinear24(m.offset+2, c.IDTRBase)
	case 2: // LGDT
		limit, err := c.readMemWord(c.dataSegment(), m.offset)
		if err != nil {
			return err
		}
		base, err := c.readLinear24(m.offset + 2)
		if err != nil {
			return err
		}
		c.GDTRLimit, c.GDTRBase = limit, base
		return nil
	case 3: // LIDT
		limit, err := c.readMemWord(c.dataSegment(), m.offset)
		if err != nil {
			return err
		}
		base, err := c.readLinear24(m.offset + 2)
		if err != nil {
			return err
		}
		c.IDTRLimit, c.IDTRBase = limit, base
		return nil
	case 4: // SMSW
		return c.writeRM16(m, c.MSW)
	case 6: // LMSW — PE sticky; priming handled in the CPU's own path
		v, err := c.readRM16(m)
		if err != nil {
			return err
		}
		return c.lmsw(v)
	}
	return c.IntCall(6)
}

// writeLinear24/readLinear24 handle the 24-bit base field GDTR/IDTR
// carry on a 286 (the 32-bit register exists but the top byte is
// unused architecturally); addressed relative to the current data
// segment, matching cpu_write's byte-at-a-time style in the reference.
func (c *CPU) writeLinear24(offset uint16, base uint32) error {
	seg := c.dataSegment()
	if err := c.writeMemByte(seg, offset, byte(base)); err != nil {
		return err
	}
	if err := c.writeMemByte(seg, offset+1, byte(base>>8)); err != nil {
		return err
	}
	return c.writeMemByte(seg, offset+2, byte(base>>16))
}

func (c *CPU) readLinear24(offset uint16) (uint32, error) {
	seg := c.dataSegment()
	b0, err := c.readMemByte(seg, offset)
	if err != nil {
		return 0, err
	}
	b1, err := c.readMemByte(seg, offset+1)
	if err != nil {
		return 0, err
	}
	b2, err := c.readMemByte(seg, offset+2)
	if err != nil {
		return 0, err
	}
	return uint32(b0) | uint32(b1)<<8 | uint32(b2)<<16, nil
}

// lmsw implements LMSW's documented semantics: PE may be set but never
// cleared, and the real-to-protected transition primes all four
// segment caches from their current real-mode shifted selectors
// (access 0x93) rather than walking descriptor tables.
func (c *CPU) lmsw(v uint16) error {
	wasPM := c.MSW&0x01 != 0
	if wasPM {
		v |= 0x01
	}
	c.MSW = (c.MSW & 0xFFF0) | (v & 0x000F)
	if wasPM || c.MSW&0x01 == 0 {
		return nil
	}
	for _, seg := range []int{SegCS, SegDS, SegES, SegSS} {
		c.segCache[seg] = SegmentCache{
			Base:   uint32(c.Regs.Seg[seg]) << 4,
			Limit:  0xFFFF,
			Access: 0x93,
			Valid:  true,
		}
	}
	return nil
}

func (c *CPU) larLsl(opcode byte) error {
	m, err := c.readModRM()
	if err != nil {
		return err
	}
	sel, err := c.readRM16(m)
	if err != nil {
		return err
	}
	cpl := c.CPL()
	rpl := uint8(sel & 0x03)
	c.Flags.ZF = false
	desc, err := c.readDescriptor(sel)
	if err != nil {
		return nil
	}
	dpl := accessDPL(desc.Access)
	if dpl < cpl || dpl < rpl {
		return nil
	}
	typ := accessSystemType(desc.Access) | (desc.Access & 0x10)
	if opcode == 0x02 { // LAR
		if typ != 0x00 && typ != 0x08 && typ != 0x0A && typ != 0x0D {
			c.Flags.ZF = true
			c.Regs.Word[m.reg] = uint16(desc.Access) << 8
		}
		return nil
	}
	if typ != 0x00 && typ != 0x04 && typ != 0x05 && typ != 0x06 &&
		typ != 0x07 && typ != 0x0C && typ != 0x0E && typ != 0x0F {
		c.Flags.ZF = true
		c.Regs.Word[m.reg] = uint16(desc.Limit)
	}
	return nil
}

// loadall implements the 286 LOADALL (0F 05): reloads the full
// architectural state from the fixed linear frame at 0x800. Attempting
// it in protected mode raises #6. MSW is restored last and
// protected-mode status is re-derived from it, so a frame whose MSW
// lacks PE silently drops protected mode even if it was active before
// — preserved literally per the documented Open Question.
func (c *CPU) loadall() error {
	if c.ProtectedMode() {
		return c.IntCall(6)
	}
	const base = 0x800
	read24 := func(off uint32) (uint32, error) {
		b0, err := c.Memory.ReadByteLinear(base + off)
		if err != nil {
			return 0, err
		}
		b1, err := c.Memory.ReadByteLinear(base + off + 1)
		if err != nil {
			return 0, err
		}
		b2, err := c.Memory.ReadByteLinear(base + off + 2)
		if err != nil {
			return 0, err
		}
		return uint32(b0) | uint32(b1)<<8 | uint32(b2)<<16, nil
	}
	readw := func(off uint32) (uint16, error) { return c.Memory.ReadWordLinear(base + off) }
	readb := func(off uint32) (byte, error) { return c.Memory.ReadByteLinear(base + off) }

	loadSeg := func(seg int, accessOff, baseOff, limitOff uint32) error {
		access, err := readb(accessOff)
		if err != nil {
			return err
		}
		b, err := read24(baseOff)
		if err != nil {
			return err
		}
		lim, err := readw(limitOff)
		if err != nil {
			return err
		}
		c.segCache[seg] = SegmentCache{Base: b, Limit: uint32(lim), Access: access, Valid: true}
		return nil
	}

	if err := loadSeg(SegES, 0x1A, 0x1B, 0x1E); err != nil {
		return err
	}
	if err := loadSeg(SegCS, 0x20, 0x21, 0x24); err != nil {
		return err
	}
	if err := loadSeg(SegSS, 0x26, 0x27, 0x2A); err != nil {
		return err
	}
	if err := loadSeg(SegDS, 0x2C, 0x2D, 0x30); err != nil {
		return err
	}

	for off, idx := range map[uint32]int{0x32: RegDI, 0x34: RegSI, 0x36: RegBP, 0x38: RegSP, 0x3A: RegBX, 0x3C: RegDX, 0x3E: RegCX, 0x40: RegAX} {
		v, err := readw(off)
		if err != nil {
			return err
		}
		c.Regs.Word[idx] = v
	}

	flagsWord, err := readw(0x42)
	if err != nil {
		return err
	}
	c.Flags.SetFlagsWord(flagsWord)

	ip, err := readw(0x44)
	if err != nil {
		return err
	}
	c.Regs.IP = ip

	ldtr, err := readw(0x46)
	if err != nil {
		return err
	}
	c.LDTR = ldtr

	tr, err := readw(0x54)
	if err != nil {
		return err
	}
	c.TR = tr

	ds, err := readw(0x48)
	if err != nil {
		return err
	}
	ss, err := readw(0x4A)
	if err != nil {
		return err
	}
	cs, err := readw(0x4C)
	if err != nil {
		return err
	}
	es, err := readw(0x4E)
	if err != nil {
		return err
	}
	c.Regs.Seg[SegDS], c.Regs.Seg[SegSS], c.Regs.Seg[SegCS], c.Regs.Seg[SegES] = ds, ss, cs, es

	gdtrLimit, err := readw(0x56)
	if err != nil {
		return err
	}
	gdtrBase, err := read24(0x58)
	if err != nil {
		return err
	}
	idtrLimit, err := readw(0x5C)
	if err != nil {
		return err
	}
	idtrBase, err := read24(0x5E)
	if err != nil {
		return err
	}
	c.GDTRLimit, c.GDTRBase = gdtrLimit, gdtrBase
	c.IDTRLimit, c.IDTRBase = idtrLimit, idtrBase

	msw, err := readw(0x66)
	if err != nil {
		return err
	}
	c.MSW = msw
	return nil
}
