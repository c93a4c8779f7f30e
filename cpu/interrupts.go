package cpu

// isFaultVector reports whether vector is one of the exceptions that
// arms double/triple-fault tracking (#DF, #TS, #NP, #SS, #GP).
func isFaultVector(vector uint8) bool {
	return vector == 8 || vector == 10 || vector == 11 || vector == 12 || vector == 13
}

// pushesErrorCode reports whether the 286 architecture pushes a
// (always-zero, since we never distinguish causes) error code word
// for this vector.
func pushesErrorCode(vector uint8) bool {
	return vector == 8 || (vector >= 10 && vector <= 13)
}

func (c *CPU) push(v uint16) error {
	c.Regs.Word[RegSP] -= 2
	return c.writeMemWord(SegSS, c.Regs.Word[RegSP], v)
}

func (c *CPU) pop() (uint16, error) {
	v, err := c.readMemWord(SegSS, c.Regs.Word[RegSP])
	if err != nil {
		return 0, err
	}
	c.Regs.Word[RegSP] += 2
	return v, nil
}

// IntCall delivers software or hardware interrupt vector intnum,
// escalating to a double fault (#8) or, on a fault raised while
// already handling #8, a full CPU reset (triple fault) — mirroring
// the reference's handling_fault latch exactly.
func (c *CPU) IntCall(intnum uint8) error {
	if c.HandlingFault {
		if intnum == 8 {
			c.Reset()
			return nil
		}
		return c.IntCall(8)
	}

	if isFaultVector(intnum) {
		c.HandlingFault = true
	}

	if intnum == 0x15 {
		if handled, err := c.biosExtendedMemoryService(); err != nil {
			return err
		} else if handled {
			return nil
		}
	}

	if hook := c.interruptHooks[intnum]; hook != nil {
		if hook(c) {
			c.HandlingFault = false
			return nil
		}
	}

	var err error
	if c.ProtectedMode() {
		err = c.intcallProtected(intnum)
	} else {
		err = c.intcallReal(intnum)
	}
	c.HandlingFault = false
	return err
}

// biosExtendedMemoryService implements the two high-level INT 15h
// services (AH=87h block move, AH=88h extended memory size) the
// reference hard-codes in software rather than modeling a real BIOS.
func (c *CPU) biosExtendedMemoryService() (handled bool, err error) {
	ah := c.Regs.GetByte(RegAH)
	switch ah {
	case 0x88:
		c.Regs.Word[RegAX] = 15360
		c.Flags.CF = false
		return true, nil
	case 0x87:
		count := c.Regs.Word[RegCX]
		numBytes := uint32(count) * 2
		tableAddr := c.Memory2RealAddress(SegES, c.Regs.Word[RegSI])
		src0, err := c.Memory.ReadByteLinear(tableAddr + 10)
		if err != nil {
			return false, err
		}
		src1, err := c.Memory.ReadByteLinear(tableAddr + 11)
		if err != nil {
			return false, err
		}
		src2, err := c.Memory.ReadByteLinear(tableAddr + 12)
		if err != nil {
			return false, err
		}
		dst0, err := c.Memory.ReadByteLinear(tableAddr + 18)
		if err != nil {
			return false, err
		}
		dst1, err := c.Memory.ReadByteLinear(tableAddr + 19)
		if err != nil {
			return false, err
		}
		dst2, err := c.Memory.ReadByteLinear(tableAddr + 20)
		if err != nil {
			return false, err
		}
		srcBase := uint32(src0) | uint32(src1)<<8 | uint32(src2)<<16
		dstBase := uint32(dst0) | uint32(dst1)<<8 | uint32(dst2)<<16
		for i := uint32(0); i < numBytes; i++ {
			b, err := c.Memory.ReadByteLinear(srcBase + i)
			if err != nil {
				return false, err
			}
			if err := c.Memory.WriteByteLinear(dstBase+i, b); err != nil {
				return false, err
			}
		}
		c.Flags.CF = false
		c.Regs.SetByte(RegAH, 0x00)
		c.Flags.ZF = true
		return true, nil
	}
	return false, nil
}

// Memory2RealAddress resolves a segment:offset pair to a real-mode
// linear address without going through A20 masking's interface
// indirection — used only by the fixed BIOS services above, which
// operate on raw host-side tables regardless of protected-mode state.
func (c *CPU) Memory2RealAddress(seg int, offset uint16) uint32 {
	return (uint32(c.Regs.Seg[seg]) << 4) + uint32(offset)
}

func (c *CPU) intcallReal(intnum uint8) error {
	flags := c.Flags.FlagsWord()
	c.Flags.IF = false
	c.Flags.TF = false
	if err := c.push(flags); err != nil {
		return err
	}
	if err := c.push(c.Regs.Seg[SegCS]); err != nil {
		return err
	}
	if err := c.push(c.Regs.IP); err != nil {
		return err
	}
	ip, err := c.Memory.ReadWordLinear(uint32(intnum) * 4)
	if err != nil {
		return err
	}
	cs, err := c.Memory.ReadWordLinear(uint32(intnum)*4 + 2)
	if err != nil {
		return err
	}
	c.Regs.Seg[SegCS] = cs
	c.Regs.IP = ip
	return nil
}

func (c *CPU) intcallProtected(intnum uint8) error {
	gateOffset := uint32(intnum) * 8
	if gateOffset+7 > uint32(c.IDTRLimit) {
		return c.IntCall(8)
	}
	gateAddr := c.IDTRBase + gateOffset
	access, err := c.Memory.ReadByteLinear(gateAddr + 5)
	if err != nil {
		return err
	}
	if !accessPresent(access) {
		return c.IntCall(11)
	}
	newIP, err := c.Memory.ReadWordLinear(gateAddr)
	if err != nil {
		return err
	}
	newCS, err := c.Memory.ReadWordLinear(gateAddr + 2)
	if err != nil {
		return err
	}
	gateType := access & 0x1F

	targetDesc, err := c.readDescriptor(newCS)
	if err != nil {
		return c.IntCall(13)
	}
	targetDPL := accessDPL(targetDesc.Access)
	cpl := c.CPL()

	oldFlags := c.Flags.FlagsWord()
	oldCS := c.Regs.Seg[SegCS]
	oldIP := c.Regs.IP

	if targetDPL < cpl {
		if !c.trCache.Valid {
			return c.IntCall(8)
		}
		newSP, newSS := c.tssSP0, c.tssSS0
		oldSS := c.Regs.Seg[SegSS]
		oldSP := c.Regs.Word[RegSP]

		if err := c.LoadSegment(SegSS, newSS); err != nil {
			return err
		}
		c.Regs.Word[RegSP] = newSP

		if err := c.push(oldSS); err != nil {
			return err
		}
		if err := c.push(oldSP); err != nil {
			return err
		}
		if err := c.push(oldFlags); err != nil {
			return err
		}
		if err := c.push(oldCS); err != nil {
			return err
		}
		if err := c.push(oldIP); err != nil {
			return err
		}
		if pushesErrorCode(intnum) {
			if err := c.push(0); err != nil {
				return err
			}
		}
	} else {
		if err := c.push(oldFlags); err != nil {
			return err
		}
		if err := c.push(oldCS); err != nil {
			return err
		}
		if err := c.push(oldIP); err != nil {
			return err
		}
		if pushesErrorCode(intnum) {
			if err := c.push(0); err != nil {
				return err
			}
		}
	}

	if err := c.LoadSegment(SegCS, newCS); err != nil {
		return err
	}
	c.Regs.IP = newIP

	c.Flags.TF = false
	if gateType == 0x06 {
		c.Flags.IF = false
	}
	return nil
}

// IRET pops IP/CS/FLAGS (and, across a privilege change in protected
// mode, SS/SP) restoring the interrupted context.
func (c *CPU) IRET() error {
	ip, err := c.pop()
	if err != nil {
		return err
	}
	cs, err := c.pop()
	if err != nil {
		return err
	}
	flags, err := c.pop()
	if err != nil {
		return err
	}
	c.Regs.IP = ip
	if c.ProtectedMode() {
		priorCPL := c.CPL()
		if err := c.LoadSegment(SegCS, cs); err != nil {
			return err
		}
		c.Flags.SetFlagsWord(flags)
		if c.CPL() > priorCPL {
			sp, err := c.pop()
			if err != nil {
				return err
			}
			ss, err := c.pop()
			if err != nil {
				return err
			}
			if err := c.LoadSegment(SegSS, ss); err != nil {
				return err
			}
			c.Regs.Word[RegSP] = sp
		}
		return nil
	}
	c.Regs.Seg[SegCS] = cs
	c.Flags.SetFlagsWord(flags)
	return nil
}

// PollInterrupts is the outer-loop hook: deliver a pending PIC vector
// when IF is set and no trap is armed, matching cpu_interruptCheck.
func (c *CPU) PollInterrupts() error {
	if c.PIC == nil || c.TrapPending || !c.Flags.IF {
		return nil
	}
	if !c.PIC.HasPendingInterrupt() {
		return nil
	}
	vector, ok := c.PIC.NextVector()
	if !ok {
		return nil
	}
	c.Halted = false
	return c.IntCall(vector)
}
