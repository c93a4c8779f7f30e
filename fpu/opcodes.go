package fpu

import "math"

// Execute dispatches one escape-opcode instruction. opcode is the low
// byte of 0xD8-0xDF; reg and rm come from the already-decoded ModRM
// byte; isMemory is false when ModRM selects a register-direct (ST(i))
// operand. mem is nil when isMemory is false. This mirrors the
// DISP(opcode,class,reg) switch of the reference interpreter, with the
// register-form sub-dispatch on rm folded into the same switch.
func (f *FPU) Execute(opcode byte, reg, rm int, isMemory bool, mem MemoryOperand) {
	switch opcode {
	case 0xD8:
		f.execD8(reg, rm, isMemory, mem)
	case 0xD9:
		f.execD9(reg, rm, isMemory, mem)
	case 0xDA:
		f.execDA(reg, rm, isMemory, mem)
	case 0xDB:
		f.execDB(reg, rm, isMemory, mem)
	case 0xDC:
		f.execDC(reg, rm, isMemory, mem)
	case 0xDD:
		f.execDD(reg, rm, isMemory, mem)
	case 0xDE:
		f.execDE(reg, rm, isMemory, mem)
	case 0xDF:
		f.execDF(reg, rm, isMemory, mem)
	}
}

func (f *FPU) execD8(reg, rm int, isMemory bool, mem MemoryOperand) {
	if !isMemory {
		switch reg {
		case 0:
			f.setSt0(f.st0() + f.stRm(rm))
		case 1:
			f.setSt0(f.st0() * f.stRm(rm))
		case 2:
			f.compare(f.stRm(rm))
		case 3:
			f.compare(f.stRm(rm))
			f.Pop()
		case 4:
			f.setSt0(f.st0() - f.stRm(rm))
		case 5:
			f.setSt0(f.stRm(rm) - f.st0())
		case 6:
			f.setSt0(f.st0() / f.stRm(rm))
		case 7:
			f.setSt0(f.stRm(rm) / f.st0())
		}
		return
	}
	v := float64(mem.ReadFloat())
	switch reg {
	case 0:
		f.setSt0(f.st0() + v)
	case 1:
		f.setSt0(f.st0() * v)
	case 2:
		f.compare(v)
	case 3:
		f.compare(v)
		f.Pop()
	case 4:
		f.setSt0(f.st0() - v)
	case 5:
		f.setSt0(v - f.st0())
	case 6:
		f.setSt0(f.st0() / v)
	case 7:
		f.setSt0(v / f.st0())
	}
}

func (f *FPU) execD9(reg, rm int, isMemory bool, mem MemoryOperand) {
	if isMemory {
		switch reg {
		case 0:
			f.Push(float64(mem.ReadFloat()))
		case 2:
			mem.WriteFloat(float32(f.st0()))
		case 3:
			mem.WriteFloat(float32(f.st0()))
			f.Pop()
		case 5:
			f.cw = uint16(mem.ReadShort())
		case 7:
			mem.WriteShort(int16(f.cw))
		}
		return
	}
	switch reg {
	case 0:
		f.Push(f.stRm(rm))
	case 1:
		t := f.stRm(rm)
		f.setStRm(rm, f.st0())
		f.setSt0(t)
	case 2:
		// FNOP
	case 3:
		f.setStPop(rm, f.st0())
	case 4:
		switch rm {
		case 0:
			f.setSt0(-f.st0())
		case 1:
			f.setSt0(math.Abs(f.st0()))
		case 4:
			f.compare(0.0)
		case 5:
			f.fxam()
		}
	case 5:
		if rm < len(constants) {
			f.Push(constants[rm])
		} else {
			f.Push(math.NaN())
		}
	case 6:
		switch rm {
		case 0:
			f.f2xm1()
		case 1:
			f.setStPop(1, f.st1()*math.Log2(f.st0()))
		case 2:
			f.fptan()
		case 3:
			f.fpatan()
		case 6:
			f.setSP(f.sp() - 1)
		case 7:
			f.setSP(f.sp() + 1)
		}
	case 7:
		switch rm {
		case 1:
			f.fyl2xp1()
		case 2:
			f.setSt0(math.Sqrt(f.st0()))
		case 6:
			f.fsin()
		}
	}
}

func (f *FPU) execDA(reg, rm int, isMemory bool, mem MemoryOperand) {
	if isMemory {
		v := float64(mem.ReadInt())
		switch reg {
		case 0:
			f.setSt0(f.st0() + v)
		case 1:
			f.setSt0(f.st0() * v)
		case 2:
			f.compare(v)
		case 3:
			f.compare(v)
			f.Pop()
		case 4:
			f.setSt0(f.st0() - v)
		case 5:
			f.setSt0(v - f.st0())
		case 6:
			f.setSt0(f.st0() / v)
		case 7:
			f.setSt0(v / f.st0())
		}
		return
	}
	if reg == 5 && rm == 1 { // FUCOMPP, treated as FCOMPP here
		f.compare(f.st1())
		f.Pop()
		f.Pop()
	}
}

func (f *FPU) execDB(reg, rm int, isMemory bool, mem MemoryOperand) {
	if isMemory {
		switch reg {
		case 0:
			f.Push(float64(mem.ReadInt()))
		case 2:
			mem.WriteInt(int32(math.Round(f.st0())))
		case 3:
			mem.WriteInt(int32(math.Round(f.st0())))
			f.Pop()
		case 5:
			f.Push(mem.ReadExtended())
		case 7:
			mem.WriteExtended(f.Pop())
		}
		return
	}
	if reg == 4 {
		switch rm {
		case 2:
			f.sw &^= SwIE | SwDE | SwZE | SwOE | SwUE | SwPE | SwES | SwSF | SwBF
		case 3:
			f.Init()
		case 4:
			// FSETPM: no-op on this implementation
		}
	}
}

func (f *FPU) execDC(reg, rm int, isMemory bool, mem MemoryOperand) {
	if isMemory {
		v := mem.ReadDouble()
		switch reg {
		case 0:
			f.setSt0(f.st0() + v)
		case 1:
			f.setSt0(f.st0() * v)
		case 2:
			f.compare(v)
		case 3:
			f.compare(v)
			f.Pop()
		case 4:
			f.setSt0(f.st0() - v)
		case 5:
			f.setSt0(v - f.st0())
		case 6:
			f.setSt0(f.st0() / v)
		case 7:
			f.setSt0(v / f.st0())
		}
		return
	}
	switch reg {
	case 0:
		f.setStRm(rm, f.stRm(rm)+f.st0())
	case 1:
		f.setStRm(rm, f.stRm(rm)*f.st0())
	case 4:
		f.setStRm(rm, f.st0()-f.stRm(rm))
	case 5:
		f.setStRm(rm, f.stRm(rm)-f.st0())
	case 6:
		f.setStRm(rm, f.stRm(rm)/f.st0())
	case 7:
		f.setStRm(rm, f.st0()/f.stRm(rm))
	}
}

func (f *FPU) execDD(reg, rm int, isMemory bool, mem MemoryOperand) {
	if isMemory {
		switch reg {
		case 0:
			f.Push(mem.ReadDouble())
		case 2:
			mem.WriteDouble(f.st0())
		case 3:
			mem.WriteDouble(f.st0())
			f.Pop()
		case 4:
			// FRSTOR: the save-area image spans CW/SW/TW, the last
			// instruction/data pointers, and all 8 registers at a
			// fixed byte stride. That doesn't fit the one-operand
			// MemoryOperand shape, so the CPU decodes this opcode
			// form itself and calls RestoreFromWords directly
			// instead of reaching this case.
		case 7:
			mem.WriteShort(int16(f.sw))
		}
		return
	}
	switch reg {
	case 0:
		f.SetTag(rm, TagEmpty)
	case 2:
		f.setStRm(rm, f.st0())
	case 3:
		f.setStPop(rm, f.st0())
	}
}

// RestoreFromWords implements FRSTOR: wordAt(off) must return the
// 16-bit little-endian word at byte offset off of the save-area image
// starting at the instruction's effective address. Each of the 8 registers occupies a
// 10-byte (5-word) slot starting at byte offset 14, of which only the
// first 8 bytes (4 words) are consumed — the reference implementation
// widens 80-bit extended precision to float64 and never touches the
// slot's last two bytes.
func (f *FPU) RestoreFromWords(wordAt func(byteOffset uint32) uint16) {
	f.cw = wordAt(0)
	f.sw = wordAt(2)
	f.tw = wordAt(4)
	f.ip = uint32(wordAt(6))
	f.cs = wordAt(8)
	for i := 0; i < 8; i++ {
		base := uint32(14 + i*10)
		bits := uint64(wordAt(base)) |
			uint64(wordAt(base+2))<<16 |
			uint64(wordAt(base+4))<<32 |
			uint64(wordAt(base+6))<<48
		f.st[i] = math.Float64frombits(bits)
	}
}

func (f *FPU) execDE(reg, rm int, isMemory bool, mem MemoryOperand) {
	if isMemory {
		v := float64(mem.ReadShort())
		switch reg {
		case 0:
			f.setSt0(f.st0() + v)
		case 1:
			f.setSt0(f.st0() * v)
		case 2:
			f.compare(v)
		case 3:
			f.compare(v)
			f.Pop()
		case 4:
			f.setSt0(f.st0() - v)
		case 5:
			f.setSt0(v - f.st0())
		case 6:
			f.setSt0(f.st0() / v)
		case 7:
			f.setSt0(v / f.st0())
		}
		return
	}
	switch reg {
	case 0:
		f.setStPop(rm, f.stRm(rm)+f.st0())
	case 1:
		f.setStPop(rm, f.stRm(rm)*f.st0())
	case 3:
		f.compare(f.st1())
		f.Pop()
		f.Pop()
	case 4:
		f.setStPop(1, f.st0()-f.st1())
	case 5:
		f.setStPop(rm, f.stRm(rm)-f.st0())
	case 6:
		f.setStPop(rm, f.st0()/f.stRm(rm))
	case 7:
		f.setStPop(rm, f.stRm(rm)/f.st0())
	}
}

func (f *FPU) execDF(reg, rm int, isMemory bool, mem MemoryOperand) {
	if isMemory {
		switch reg {
		case 3:
			mem.WriteShort(int16(math.Round(f.Pop())))
		case 5:
			f.Push(float64(mem.ReadLong()))
		case 7:
			mem.WriteLong(int64(math.Round(f.Pop())))
		}
		return
	}
	// DISP(0xDF, FPUREG, 4) is FSTSW AX: the CPU calls StswAX() and
	// writes AX itself rather than routing through Execute, since this
	// form has no register-stack or memory effect for FPU to own.
}

func (f *FPU) fxam() {
	x := f.st0()
	f.sw &^= SwC0 | SwC1 | SwC2 | SwC3
	if math.Signbit(x) {
		f.sw |= SwC1
	}
	if f.Tag(0) == TagEmpty {
		f.sw |= SwC0 | SwC3
		return
	}
	switch {
	case math.IsNaN(x):
		f.sw |= SwC0
	case math.IsInf(x, 0):
		f.sw |= SwC0 | SwC2
	case x == 0:
		f.sw |= SwC3
	default:
		f.sw |= SwC2
	}
}

func (f *FPU) f2xm1() {
	x := f.st0()
	if x < 0.0 || x > 0.5 {
		f.sw |= SwIE
		return
	}
	f.setSt0(math.Exp2(x) - 1.0)
}

func (f *FPU) fyl2xp1() {
	x := f.st0()
	if math.Abs(x) >= (1.0 - math.Sqrt(0.5)) {
		f.sw |= SwIE
		return
	}
	f.setStPop(1, f.st1()*math.Log2(x+1.0))
}

func (f *FPU) fptan() {
	x := f.st0()
	if math.Abs(x) >= (math.Pi / 4.0) {
		f.sw |= SwIE
		return
	}
	f.sw &^= SwC2
	f.setSt0(math.Tan(x))
	f.Push(1.0)
}

func (f *FPU) fpatan() {
	y := f.st1()
	x := f.st0()
	if math.Abs(y) > math.Abs(x) {
		f.sw |= SwIE
		return
	}
	f.setStPop(1, math.Atan2(y, x))
}

func (f *FPU) fsin() {
	x := f.st0()
	if math.IsInf(x, 0) || math.IsNaN(x) {
		f.sw |= SwC2
		return
	}
	f.sw &^= SwC2
	f.setSt0(math.Sin(x))
}
