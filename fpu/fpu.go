// Package fpu implements the 8-register floating point stack attached
// to the CPU's escape opcodes (0xD8-0xDF): control/status/tag words,
// arithmetic and transcendental operations, and the memory-operand
// load/store forms. 80-bit extended precision is widened to float64,
// per the component's documented precision trade-off.
package fpu

import "math"

// Status word bits.
const (
	SwIE uint16 = 0x0001 // invalid operation
	SwDE uint16 = 0x0002 // denormalized operand
	SwZE uint16 = 0x0004 // zero divide
	SwOE uint16 = 0x0008 // overflow
	SwUE uint16 = 0x0010 // underflow
	SwPE uint16 = 0x0020 // precision
	SwSF uint16 = 0x0040 // stack fault
	SwES uint16 = 0x0080 // exception summary
	SwC0 uint16 = 0x0100
	SwC1 uint16 = 0x0200
	SwC2 uint16 = 0x0400
	SwSP uint16 = 0x3800 // top-of-stack pointer field
	SwC3 uint16 = 0x4000
	SwBF uint16 = 0x8000
)

// Tag word values, two bits per physical stack slot.
const (
	TagValid   = 0
	TagZero    = 1
	TagSpecial = 2
	TagEmpty   = 3
)

// FPU is the 80287-class coprocessor state: the 8-deep register stack,
// control/status/tag words, and the last-instruction pointer pair used
// by FSAVE/FRSTOR.
type FPU struct {
	st [8]float64
	cw uint16
	sw uint16
	tw uint16

	ip uint32
	cs uint16
	dp uint32
	ds uint16
}

// New returns an FPU in its post-FINIT reset state.
func New() *FPU {
	f := &FPU{}
	f.Init()
	return f
}

// Init implements FINIT: CW=0x037F, SW=0, TW=0xFFFF (all slots empty).
func (f *FPU) Init() {
	f.cw = 0x037F
	f.sw = 0
	f.tw = 0xFFFF
}

func (f *FPU) sp() int { return int((f.sw & SwSP) >> 11) }

func (f *FPU) setSP(sp int) {
	f.sw = (f.sw &^ SwSP) | (uint16(sp&7) << 11)
}

func (f *FPU) phys(logical int) int {
	return (logical + f.sp()) & 7
}

// Tag returns the tag of logical stack slot i (0 = top of stack).
func (f *FPU) Tag(i int) int {
	shift := uint(f.phys(i)) * 2
	return int((f.tw >> shift) & 3)
}

// SetTag sets the tag of logical stack slot i.
func (f *FPU) SetTag(i int, t int) {
	shift := uint(f.phys(i)) * 2
	f.tw &^= 3 << shift
	f.tw |= uint16(t&3) << shift
}

func (f *FPU) stSlot(i int) *float64 {
	return &f.st[f.phys(i)]
}

func (f *FPU) onStackOverflow() {
	f.sw |= SwIE | SwC1 | SwSF
}

func (f *FPU) onStackUnderflow() float64 {
	f.sw |= SwIE | SwSF
	f.sw &^= SwC1
	return math.NaN()
}

// St reads logical stack slot i, triggering the underflow response if
// empty.
func (f *FPU) St(i int) float64 {
	if f.Tag(i) == TagEmpty {
		return f.onStackUnderflow()
	}
	return *f.stSlot(i)
}

func (f *FPU) st0() float64  { return f.St(0) }
func (f *FPU) st1() float64  { return f.St(1) }
func (f *FPU) stRm(rm int) float64 { return f.St(rm) }

// Push decrements SP (mod 8) and stores x at the new top, flagging
// overflow if the destination slot wasn't empty.
func (f *FPU) Push(x float64) {
	if f.Tag(-1) != TagEmpty {
		f.onStackOverflow()
	}
	f.setSP(f.sp() - 1)
	*f.stSlot(0) = x
	f.SetTag(0, TagValid)
}

// Pop reads the top of stack, marks it empty, and increments SP.
func (f *FPU) Pop() float64 {
	var x float64
	if f.Tag(0) != TagEmpty {
		x = *f.stSlot(0)
		f.SetTag(0, TagEmpty)
	} else {
		x = f.onStackUnderflow()
	}
	f.setSP(f.sp() + 1)
	return x
}

func (f *FPU) setSt0(x float64)        { *f.stSlot(0) = x }
func (f *FPU) setStRm(rm int, x float64) { *f.stSlot(rm) = x }
func (f *FPU) setStPop(i int, x float64) {
	*f.stSlot(i) = x
	f.Pop()
}

// ControlWord / StatusWord / TagWord expose the raw 16-bit registers
// for FLDCW/FSTCW/FSTSW and FSAVE/FRSTOR.
func (f *FPU) ControlWord() uint16     { return f.cw }
func (f *FPU) SetControlWord(v uint16) { f.cw = v }
func (f *FPU) StatusWord() uint16      { return f.sw }
func (f *FPU) SetStatusWord(v uint16)  { f.sw = v }
func (f *FPU) TagWord() uint16         { return f.tw }
func (f *FPU) SetTagWord(v uint16)     { f.tw = v }

// StswAX returns the status word as FSTSW AX delivers it.
func (f *FPU) StswAX() uint16 { return f.sw }

// Register returns the raw (unordered) value of physical slot i, for
// FSAVE image construction.
func (f *FPU) Register(physicalSlot int) float64 { return f.st[physicalSlot&7] }

// SetRegister sets physical slot i directly, for FRSTOR.
func (f *FPU) SetRegister(physicalSlot int, v float64) { f.st[physicalSlot&7] = v }

// LastInstructionPointer/LastDataPointer track the instruction/data
// pointers FSAVE records.
func (f *FPU) LastInstructionPointer() (uint32, uint16) { return f.ip, f.cs }
func (f *FPU) LastDataPointer() (uint32, uint16)        { return f.dp, f.ds }

func (f *FPU) SetLastInstructionPointer(ip uint32, cs uint16) { f.ip, f.cs = ip, cs }
func (f *FPU) SetLastDataPointer(dp uint32, ds uint16)        { f.dp, f.ds = dp, ds }

func (f *FPU) compare(y float64) {
	x := f.st0()
	f.sw &^= SwC0 | SwC1 | SwC2 | SwC3
	if math.IsNaN(x) || math.IsNaN(y) {
		f.sw |= SwC0 | SwC2 | SwC3 | SwIE
		return
	}
	if x < y {
		f.sw |= SwC0
	}
	if x == y {
		f.sw |= SwC3
	}
}

var constants = [8]float64{
	1.0,
	math.Log10(2),
	math.Log2(math.E),
	math.Pi,
	math.Log2(10),
	math.Ln2,
	0.0,
	math.NaN(),
}
