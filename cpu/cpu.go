// Package cpu implements the 80286-class instruction interpreter:
// decode, execute, flag computation, segmentation with the descriptor
// cache, interrupt delivery, and REP-prefixed string primitives. The
// FPU (package fpu) is invoked for escape opcodes; memory and port I/O
// are reached through the Memory and PortBus interfaces so this
// package never imports the concrete memory/devices types.
package cpu

import (
	"fmt"

	"core_engine/fpu"
)

// Memory is the subset of memory.RAM the CPU needs: real- and
// protected-mode byte/word access plus A20-aware segment:offset
// addressing, decoupled from the concrete RAM type.
type Memory interface {
	ReadByteReal(segment, offset uint16) (byte, error)
	WriteByteReal(segment, offset uint16, val byte) error
	ReadWordReal(segment, offset uint16) (uint16, error)
	WriteWordReal(segment, offset uint16, val uint16) error
	ReadBytePM(desc MemDescriptor, offset uint32) (byte, error)
	WriteBytePM(desc MemDescriptor, offset uint32, val byte) error
	ReadWordPM(desc MemDescriptor, offset uint32) (uint16, error)
	WriteWordPM(desc MemDescriptor, offset uint32, val uint16) error
	ReadByteLinear(addr uint32) (byte, error)
	WriteByteLinear(addr uint32, val byte) error
	ReadWordLinear(addr uint32) (uint16, error)
	WriteWordLinear(addr uint32, val uint16) error
}

// MemDescriptor mirrors memory.Descriptor without an import cycle; CPU
// converts its own SegmentCache into this shape at each access.
type MemDescriptor struct {
	Base  uint32
	Limit uint32
}

// PortBus is the subset of devices.IOBus the CPU needs for IN/OUT.
type PortBus interface {
	In8(port uint16) byte
	Out8(port uint16, val byte)
	In16(port uint16) uint16
	Out16(port uint16, val uint16)
}

// PICPoller is implemented by the PIC pair: the driver loop and the
// CPU's own interrupt-polling step consult it without importing the
// concrete devices.PICDevice type.
type PICPoller interface {
	HasPendingInterrupt() bool
	NextVector() (uint8, bool)
}

// InterruptHook lets the host short-circuit a software interrupt
// before the default real/protected-mode delivery runs, mirroring the
// reference's 256-entry int_callback table (used for INT 15h 87h/88h).
type InterruptHook func(c *CPU) (handled bool)

// CPU is the complete 80286 interpreter state.
type CPU struct {
	Regs  Regs
	Flags Flags

	segCache [4]SegmentCache // indexed by SegES/SegCS/SegSS/SegDS

	LDTR      uint16
	ldtrCache SegmentCache
	TR        uint16
	trCache   SegmentCache
	tssSP0    uint16
	tssSS0    uint16

	MSW uint16

	GDTRBase  uint32
	GDTRLimit uint16
	IDTRBase  uint32
	IDTRLimit uint16

	Halted        bool
	TrapPending   bool
	HandlingFault bool

	// Prefix scratch, reset at the top of every instruction.
	segmentOverride int // -1 = none, else SegES/SegCS/SegSS/SegDS
	repPrefix       byte
	prefixCount     int

	interruptHooks [256]InterruptHook

	Memory Memory
	Ports  PortBus
	FPU    *fpu.FPU
	PIC    PICPoller
}

// New builds a CPU wired to its memory, port bus, FPU, and PIC poller,
// then resets it to the documented boot state.
func New(mem Memory, ports PortBus, fpuUnit *fpu.FPU, pic PICPoller) *CPU {
	c := &CPU{Memory: mem, Ports: ports, FPU: fpuUnit, PIC: pic}
	c.Reset()
	return c
}

// Reset rebuilds the register file, clears descriptor caches, and sets
// CS:IP = F000:FFF0, MSW = FFF0, GDTR.limit = 0xFFFF, IDTR.limit =
// 0x03FF, per the documented lifecycle.
func (c *CPU) Reset() {
	c.Regs = Regs{}
	c.Flags = Flags{}
	c.segCache = [4]SegmentCache{}
	c.ldtrCache = SegmentCache{}
	c.trCache = SegmentCache{}
	c.LDTR, c.TR, c.tssSP0, c.tssSS0 = 0, 0, 0, 0

	c.MSW = 0xFFF0
	c.GDTRBase, c.GDTRLimit = 0, 0xFFFF
	c.IDTRBase, c.IDTRLimit = 0, 0x03FF

	c.HandlingFault = false
	c.Halted = false
	c.TrapPending = false
	c.resetPrefixState()

	if c.FPU != nil {
		c.FPU.Init()
	}

	c.Regs.Seg[SegCS] = 0xF000
	c.Regs.IP = 0xFFF0
}

// ProtectedMode reports whether MSW.PE (bit 0) is set.
func (c *CPU) ProtectedMode() bool { return c.MSW&0x01 != 0 }

// CPL is the current privilege level: the low two bits of the CS
// selector in protected mode, or 0 in real mode.
func (c *CPU) CPL() uint8 {
	if !c.ProtectedMode() {
		return 0
	}
	return uint8(c.Regs.Seg[SegCS] & 0x03)
}

// SetInterruptHook installs a host callback for interrupt vector n,
// short-circuiting default delivery when it returns true.
func (c *CPU) SetInterruptHook(n uint8, hook InterruptHook) {
	c.interruptHooks[n] = hook
}

func (c *CPU) faultf(format string, args ...any) error {
	return fmt.Errorf("cpu: %s", fmt.Sprintf(format, args...))
}
