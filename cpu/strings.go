package cpu

// repType decodes the active REP-family prefix into the reference's
// reptype encoding: 0 none, 1 REP/REPE (0xF3), 2 REPNE (0xF2).
func (c *CPU) repType() int {
	switch c.repPrefix {
	case 0xF3:
		return 1
	case 0xF2:
		return 2
	}
	return 0
}

func (c *CPU) indexStep(size uint16) uint16 {
	if c.Flags.DF {
		return ^size + 1 // two's-complement negative step
	}
	return size
}

// runStringOp implements the shared REP-prefixed control flow: skip
// entirely when CX is already zero under a REP prefix, run one
// iteration of body, decrement CX, optionally test ZF for CMPS/SCAS's
// REPE/REPNE early exit, and rewind IP to instrStart (the address of
// the prefix byte(s), i.e. the start of this same instruction) so the
// outer fetch-decode-execute loop re-enters it — mirroring the
// reference's firstip rewind instead of looping internally.
func (c *CPU) runStringOp(instrStart uint16, zfExit bool, body func() error) error {
	rep := c.repType()
	if rep != 0 && c.Regs.Word[RegCX] == 0 {
		return nil
	}
	if err := body(); err != nil {
		return err
	}
	if rep != 0 {
		c.Regs.Word[RegCX]--
	}
	if zfExit {
		if rep == 1 && !c.Flags.ZF {
			return nil
		}
		if rep == 2 && c.Flags.ZF {
			return nil
		}
	}
	if rep == 0 {
		return nil
	}
	c.Regs.IP = instrStart
	return nil
}

func (c *CPU) ExecMovsb(instrStart uint16) error {
	return c.runStringOp(instrStart, false, func() error {
		v, err := c.readMemByte(c.dataSegment(), c.Regs.Word[RegSI])
		if err != nil {
			return err
		}
		if err := c.writeMemByte(SegES, c.Regs.Word[RegDI], v); err != nil {
			return err
		}
		step := c.indexStep(1)
		c.Regs.Word[RegSI] += step
		c.Regs.Word[RegDI] += step
		return nil
	})
}

func (c *CPU) ExecMovsw(instrStart uint16) error {
	return c.runStringOp(instrStart, false, func() error {
		v, err := c.readMemWord(c.dataSegment(), c.Regs.Word[RegSI])
		if err != nil {
			return err
		}
		if err := c.writeMemWord(SegES, c.Regs.Word[RegDI], v); err != nil {
			return err
		}
		step := c.indexStep(2)
		c.Regs.Word[RegSI] += step
		c.Regs.Word[RegDI] += step
		return nil
	})
}

func (c *CPU) ExecStosb(instrStart uint16) error {
	return c.runStringOp(instrStart, false, func() error {
		if err := c.writeMemByte(SegES, c.Regs.Word[RegDI], c.Regs.GetByte(RegAL)); err != nil {
			return err
		}
		c.Regs.Word[RegDI] += c.indexStep(1)
		return nil
	})
}

func (c *CPU) ExecStosw(instrStart uint16) error {
	return c.runStringOp(instrStart, false, func() error {
		if err := c.writeMemWord(SegES, c.Regs.Word[RegDI], c.Regs.Word[RegAX]); err != nil {
			return err
		}
		c.Regs.Word[RegDI] += c.indexStep(2)
		return nil
	})
}

func (c *CPU) ExecLodsb(instrStart uint16) error {
	return c.runStringOp(instrStart, false, func() error {
		v, err := c.readMemByte(c.dataSegment(), c.Regs.Word[RegSI])
		if err != nil {
			return err
		}
		c.Regs.SetByte(RegAL, v)
		c.Regs.Word[RegSI] += c.indexStep(1)
		return nil
	})
}

func (c *CPU) ExecLodsw(instrStart uint16) error {
	return c.runStringOp(instrStart, false, func() error {
		v, err := c.readMemWord(c.dataSegment(), c.Regs.Word[RegSI])
		if err != nil {
			return err
		}
		c.Regs.Word[RegAX] = v
		c.Regs.Word[RegSI] += c.indexStep(2)
		return nil
	})
}

func (c *CPU) ExecCmpsb(instrStart uint16) error {
	return c.runStringOp(instrStart, true, func() error {
		a, err := c.readMemByte(c.dataSegment(), c.Regs.Word[RegSI])
		if err != nil {
			return err
		}
		b, err := c.readMemByte(SegES, c.Regs.Word[RegDI])
		if err != nil {
			return err
		}
		step := c.indexStep(1)
		c.Regs.Word[RegSI] += step
		c.Regs.Word[RegDI] += step
		c.Flags.Sub8(a, b)
		return nil
	})
}

func (c *CPU) ExecCmpsw(instrStart uint16) error {
	return c.runStringOp(instrStart, true, func() error {
		a, err := c.readMemWord(c.dataSegment(), c.Regs.Word[RegSI])
		if err != nil {
			return err
		}
		b, err := c.readMemWord(SegES, c.Regs.Word[RegDI])
		if err != nil {
			return err
		}
		step := c.indexStep(2)
		c.Regs.Word[RegSI] += step
		c.Regs.Word[RegDI] += step
		c.Flags.Sub16(a, b)
		return nil
	})
}

func (c *CPU) ExecScasb(instrStart uint16) error {
	return c.runStringOp(instrStart, true, func() error {
		b, err := c.readMemByte(SegES, c.Regs.Word[RegDI])
		if err != nil {
			return err
		}
		c.Regs.Word[RegDI] += c.indexStep(1)
		c.Flags.Sub8(c.Regs.GetByte(RegAL), b)
		return nil
	})
}

func (c *CPU) ExecScasw(instrStart uint16) error {
	return c.runStringOp(instrStart, true, func() error {
		b, err := c.readMemWord(SegES, c.Regs.Word[RegDI])
		if err != nil {
			return err
		}
		c.Regs.Word[RegDI] += c.indexStep(2)
		c.Flags.Sub16(c.Regs.Word[RegAX], b)
		return nil
	})
}

func (c *CPU) ExecInsb(instrStart uint16) error {
	return c.runStringOp(instrStart, false, func() error {
		v := c.Ports.In8(c.Regs.Word[RegDX])
		if err := c.writeMemByte(SegES, c.Regs.Word[RegDI], v); err != nil {
			return err
		}
		c.Regs.Word[RegDI] += c.indexStep(1)
		return nil
	})
}

func (c *CPU) ExecInsw(instrStart uint16) error {
	return c.runStringOp(instrStart, false, func() error {
		v := c.Ports.In16(c.Regs.Word[RegDX])
		if err := c.writeMemWord(SegES, c.Regs.Word[RegDI], v); err != nil {
			return err
		}
		c.Regs.Word[RegDI] += c.indexStep(2)
		return nil
	})
}

func (c *CPU) ExecOutsb(instrStart uint16) error {
	return c.runStringOp(instrStart, false, func() error {
		v, err := c.readMemByte(c.dataSegment(), c.Regs.Word[RegSI])
		if err != nil {
			return err
		}
		c.Ports.Out8(c.Regs.Word[RegDX], v)
		c.Regs.Word[RegSI] += c.indexStep(1)
		return nil
	})
}

func (c *CPU) ExecOutsw(instrStart uint16) error {
	return c.runStringOp(instrStart, false, func() error {
		v, err := c.readMemWord(c.dataSegment(), c.Regs.Word[RegSI])
		if err != nil {
			return err
		}
		c.Ports.Out16(c.Regs.Word[RegDX], v)
		c.Regs.Word[RegSI] += c.indexStep(2)
		return nil
	})
}
