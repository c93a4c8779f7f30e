// Package system wires physical memory, the port-mapped peripherals,
// the FPU, and the CPU interpreter into one runnable machine. The
// wiring shape (construct devices, register ports, run loop, service
// IRQs) follows the teacher's virtual-machine construction, adapted
// from KVM ioctls to a pure-software call sequence.
package system

import (
	"context"
	"fmt"
	"log"

	"core_engine/cpu"
	"core_engine/devices"
	"core_engine/fpu"
	"core_engine/memory"
)

// MachineConfig carries everything NewMachine needs to build a
// runnable machine, mirroring the teacher's explicit-struct-of-
// parameters constructor style (no env/flag parsing here).
type MachineConfig struct {
	MemorySize     int    // guest RAM in bytes
	ExtendedMemKB  uint32 // CMOS extended-memory size, equipment byte seed
	PITTickQuantum uint16 // PIT counter decrement applied per Step
	Debug          bool
}

// memoryAdapter implements cpu.Memory over memory.RAM, converting
// between cpu.MemDescriptor and memory.Descriptor at the boundary so
// neither package has to import the other.
type memoryAdapter struct {
	ram *memory.RAM
}

func (a memoryAdapter) ReadByteReal(segment, offset uint16) (byte, error) {
	return a.ram.ReadByteReal(segment, offset)
}
func (a memoryAdapter) WriteByteReal(segment, offset uint16, val byte) error {
	return a.ram.WriteByteReal(segment, offset, val)
}
func (a memoryAdapter) ReadWordReal(segment, offset uint16) (uint16, error) {
	return a.ram.ReadWordReal(segment, offset)
}
func (a memoryAdapter) WriteWordReal(segment, offset uint16, val uint16) error {
	return a.ram.WriteWordReal(segment, offset, val)
}
func (a memoryAdapter) ReadBytePM(desc cpu.MemDescriptor, offset uint32) (byte, error) {
	return a.ram.ReadBytePM(memory.Descriptor{Base: desc.Base, Limit: desc.Limit}, offset)
}
func (a memoryAdapter) WriteBytePM(desc cpu.MemDescriptor, offset uint32, val byte) error {
	return a.ram.WriteBytePM(memory.Descriptor{Base: desc.Base, Limit: desc.Limit}, offset, val)
}
func (a memoryAdapter) ReadWordPM(desc cpu.MemDescriptor, offset uint32) (uint16, error) {
	return a.ram.ReadWordPM(memory.Descriptor{Base: desc.Base, Limit: desc.Limit}, offset)
}
func (a memoryAdapter) WriteWordPM(desc cpu.MemDescriptor, offset uint32, val uint16) error {
	return a.ram.WriteWordPM(memory.Descriptor{Base: desc.Base, Limit: desc.Limit}, offset, val)
}
func (a memoryAdapter) ReadByteLinear(addr uint32) (byte, error)  { return a.ram.ReadByteLinear(addr) }
func (a memoryAdapter) WriteByteLinear(addr uint32, val byte) error {
	return a.ram.WriteByteLinear(addr, val)
}
func (a memoryAdapter) ReadWordLinear(addr uint32) (uint16, error) {
	return a.ram.ReadWordLinear(addr)
}
func (a memoryAdapter) WriteWordLinear(addr uint32, val uint16) error {
	return a.ram.WriteWordLinear(addr, val)
}

// Machine owns the port registry, physical memory, PIC pair, keyboard
// controller, CMOS/RTC, PIT, and CPU. It is not safe for concurrent
// use except through InjectScancode, the sole cross-thread surface —
// the driver loop owns the CPU and its memory for the duration of a
// Step, per the single-owner concurrency model.
type Machine struct {
	mem      *memory.RAM
	ports    *devices.IOBus
	pic      *devices.PICDevice
	keyboard *devices.KeyboardDevice
	rtc      *devices.RTCDevice
	pit      *devices.PITDevice
	fpu      *fpu.FPU
	cpu      *cpu.CPU

	tickQuantum uint16
	logger      *log.Logger
}

// NewMachine constructs and wires a complete machine: devices first
// (so the keyboard's reset line can close over the not-yet-built CPU),
// then memory (A20-gated by the keyboard), then the CPU itself.
func NewMachine(cfg MachineConfig) (*Machine, error) {
	if cfg.MemorySize <= 0 {
		return nil, fmt.Errorf("system: memory size must be positive, got %d", cfg.MemorySize)
	}

	var logger *log.Logger
	if cfg.Debug {
		logger = log.Default()
	}

	m := &Machine{tickQuantum: cfg.PITTickQuantum, logger: logger}

	m.pic = devices.NewPICDevice()

	// The keyboard's reset-pulse callback needs to reach the CPU, but
	// the CPU needs the keyboard (as the memory package's A20 gate)
	// before it exists. Close over m.cpu, which is assigned below.
	resetLine := func() {
		if m.cpu != nil {
			m.cpu.Reset()
		}
	}
	m.keyboard = devices.NewKeyboardDevice(m.pic, resetLine)
	m.rtc = devices.NewRTCDevice(cfg.ExtendedMemKB)
	m.pit = devices.NewPITDevice(m.pic)

	m.ports = devices.NewIOBus(logger)
	m.ports.RegisterDevice(devices.PIC_MASTER_CMD_PORT, devices.PIC_MASTER_DATA_PORT, m.pic)
	m.ports.RegisterDevice(devices.PIC_SLAVE_CMD_PORT, devices.PIC_SLAVE_DATA_PORT, m.pic)
	m.ports.RegisterDevice(devices.KEYBOARD_PORT_DATA, devices.KEYBOARD_PORT_DATA, m.keyboard)
	m.ports.RegisterDevice(devices.KEYBOARD_PORT_STATUS, devices.KEYBOARD_PORT_STATUS, m.keyboard)
	m.ports.RegisterDevice(devices.A20_PORT_92, devices.A20_PORT_92, m.keyboard)
	m.ports.RegisterDevice(devices.RTC_PORT_INDEX, devices.RTC_PORT_DATA, m.rtc)
	m.ports.RegisterDevice(devices.PIT_PORT_COUNTER0, devices.PIT_PORT_COMMAND, m.pit)
	m.ports.RegisterDevice(devices.PIT_PORT_PPI_B, devices.PIT_PORT_PPI_B, m.pit)

	m.mem = memory.New(cfg.MemorySize, m.keyboard)
	m.fpu = fpu.New()
	m.cpu = cpu.New(memoryAdapter{ram: m.mem}, m.ports, m.fpu, m.pic)

	m.logf("system: machine ready, %d bytes RAM, CS:IP=%04X:%04X", cfg.MemorySize, m.cpu.Regs.Seg[cpu.SegCS], m.cpu.Regs.IP)
	return m, nil
}

// CPU exposes the underlying interpreter for tests and host tooling
// that need direct register/flag access (e.g. loading a boot image
// before the first Step).
func (m *Machine) CPU() *cpu.CPU { return m.cpu }

// Memory exposes the flat RAM for image loading.
func (m *Machine) Memory() *memory.RAM { return m.mem }

// LoadImage copies a boot image into RAM at the given linear address.
func (m *Machine) LoadImage(base uint32, data []byte) error {
	return m.mem.LoadImage(base, data)
}

// InjectScancode is the host's single entry point into the keyboard
// controller; the sole cross-thread surface per the concurrency model.
func (m *Machine) InjectScancode(b byte) {
	m.keyboard.InjectScancode(b)
}

// Step executes up to n instructions, polling for a deliverable PIC
// interrupt and ticking the PIT once per instruction. It returns early
// — before n instructions have run — if the CPU halts with no pending
// IRQ to wake it.
func (m *Machine) Step(n int) error {
	for i := 0; i < n; i++ {
		if m.cpu.Halted && !m.pic.HasPendingInterrupt() {
			return nil
		}
		if err := m.cpu.PollInterrupts(); err != nil {
			return fmt.Errorf("system: interrupt delivery: %w", err)
		}
		if err := m.cpu.Step(); err != nil {
			return fmt.Errorf("system: step: %w", err)
		}
		m.pit.Tick(m.tickQuantum)
	}
	return nil
}

// Run drives Step in a loop until ctx is done or the CPU reaches a
// halt with interrupts disabled — a state no IRQ can ever recover
// from, the software equivalent of a triple fault.
func (m *Machine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := m.Step(1); err != nil {
			return err
		}
		if m.cpu.Halted && !m.cpu.Flags.IF {
			m.logf("system: halted with interrupts disabled, no recovery path")
			return fmt.Errorf("system: machine halted with no recovery path")
		}
	}
}

func (m *Machine) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}
