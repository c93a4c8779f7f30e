// Package memory implements the machine's flat physical RAM and the
// two addressing modes the CPU translates through it: real-mode
// segment:offset with the A20 gate, and protected-mode descriptor-
// bounded base+offset.
package memory

import "fmt"

// A20Gate reports whether the keyboard controller's A20 line is
// enabled, decoupling this package from the devices package.
type A20Gate interface {
	A20Enabled() bool
}

// Descriptor is the subset of a segment descriptor cache entry memory
// needs to bounds-check a protected-mode access: linear base and the
// segment's byte limit.
type Descriptor struct {
	Base  uint32
	Limit uint32
}

// RAM is a flat byte-addressable array with real- and protected-mode
// translation helpers. It has no locking of its own: the driver loop
// owns the CPU and its memory for the duration of a Step, per the
// single-owner concurrency model.
type RAM struct {
	bytes []byte
	a20   A20Gate
}

// New allocates size bytes of RAM. gate may be nil, in which case the
// A20 line behaves as permanently enabled (no masking).
func New(size int, gate A20Gate) *RAM {
	return &RAM{bytes: make([]byte, size), a20: gate}
}

func (m *RAM) Size() int { return len(m.bytes) }

// a20Mask returns the linear-address mask to apply in real mode: all
// bits when A20 is enabled, or bit 20 cleared (wraparound) when it
// isn't.
func (m *RAM) a20Mask() uint32 {
	if m.a20 == nil || m.a20.A20Enabled() {
		return 0xFFFFFFFF
	}
	return 0xFFEFFFFF
}

// RealModeAddress computes the real-mode linear address for a
// segment:offset pair, applying the A20 mask.
func (m *RAM) RealModeAddress(segment, offset uint16) uint32 {
	linear := (uint32(segment) << 4) + uint32(offset)
	return linear & m.a20Mask()
}

func (m *RAM) checkBounds(addr uint32, size int) error {
	if addr+uint32(size) > uint32(len(m.bytes)) {
		return fmt.Errorf("memory: address 0x%x+%d out of bounds (size %d)", addr, size, len(m.bytes))
	}
	return nil
}

// ReadByteReal / WriteByteReal / ReadWordReal / WriteWordReal access
// RAM through real-mode segment:offset addressing.
func (m *RAM) ReadByteReal(segment, offset uint16) (byte, error) {
	addr := m.RealModeAddress(segment, offset)
	if err := m.checkBounds(addr, 1); err != nil {
		return 0, err
	}
	return m.bytes[addr], nil
}

func (m *RAM) WriteByteReal(segment, offset uint16, val byte) error {
	addr := m.RealModeAddress(segment, offset)
	if err := m.checkBounds(addr, 1); err != nil {
		return err
	}
	m.bytes[addr] = val
	return nil
}

// ReadWordReal reads a little-endian 16-bit value that need not be
// aligned; it may straddle the 20-bit real-mode wraparound boundary,
// matching real hardware's byte-at-a-time bus behavior.
func (m *RAM) ReadWordReal(segment, offset uint16) (uint16, error) {
	lo, err := m.ReadByteReal(segment, offset)
	if err != nil {
		return 0, err
	}
	hi, err := m.ReadByteReal(segment, offset+1)
	if err != nil {
		return 0, err
	}
	return uint16(lo) | uint16(hi)<<8, nil
}

func (m *RAM) WriteWordReal(segment, offset uint16, val uint16) error {
	if err := m.WriteByteReal(segment, offset, byte(val)); err != nil {
		return err
	}
	return m.WriteByteReal(segment, offset+1, byte(val>>8))
}

// protectedModeAddress bounds-checks offset against desc.Limit and
// returns the resulting linear address.
func (m *RAM) protectedModeAddress(desc Descriptor, offset uint32, size int) (uint32, error) {
	if offset+uint32(size)-1 > desc.Limit {
		return 0, fmt.Errorf("memory: offset 0x%x exceeds segment limit 0x%x", offset, desc.Limit)
	}
	return desc.Base + offset, nil
}

// ReadBytePM / WriteBytePM / ReadWordPM / WriteWordPM access RAM
// through a protected-mode descriptor's base+offset, after a limit
// check. A limit violation is a guest-visible general-protection
// condition; callers translate the returned error into INT 13.
func (m *RAM) ReadBytePM(desc Descriptor, offset uint32) (byte, error) {
	addr, err := m.protectedModeAddress(desc, offset, 1)
	if err != nil {
		return 0, err
	}
	if err := m.checkBounds(addr, 1); err != nil {
		return 0, err
	}
	return m.bytes[addr], nil
}

func (m *RAM) WriteBytePM(desc Descriptor, offset uint32, val byte) error {
	addr, err := m.protectedModeAddress(desc, offset, 1)
	if err != nil {
		return err
	}
	if err := m.checkBounds(addr, 1); err != nil {
		return err
	}
	m.bytes[addr] = val
	return nil
}

func (m *RAM) ReadWordPM(desc Descriptor, offset uint32) (uint16, error) {
	addr, err := m.protectedModeAddress(desc, offset, 2)
	if err != nil {
		return 0, err
	}
	if err := m.checkBounds(addr, 2); err != nil {
		return 0, err
	}
	return uint16(m.bytes[addr]) | uint16(m.bytes[addr+1])<<8, nil
}

func (m *RAM) WriteWordPM(desc Descriptor, offset uint32, val uint16) error {
	addr, err := m.protectedModeAddress(desc, offset, 2)
	if err != nil {
		return err
	}
	if err := m.checkBounds(addr, 2); err != nil {
		return err
	}
	m.bytes[addr] = byte(val)
	m.bytes[addr+1] = byte(val >> 8)
	return nil
}

// ReadByteLinear / WriteByteLinear / ReadWordLinear / WriteWordLinear
// access RAM at a raw linear address, bypassing segment translation.
// The CPU uses these for descriptor-table reads (GDT/LDT/IDT entries
// are addressed by GDTR/IDTR/LDTR base, not by a segment register) and
// for the fixed-address LOADALL/STOREALL frame.
func (m *RAM) ReadByteLinear(addr uint32) (byte, error) {
	if err := m.checkBounds(addr, 1); err != nil {
		return 0, err
	}
	return m.bytes[addr], nil
}

func (m *RAM) WriteByteLinear(addr uint32, val byte) error {
	if err := m.checkBounds(addr, 1); err != nil {
		return err
	}
	m.bytes[addr] = val
	return nil
}

func (m *RAM) ReadWordLinear(addr uint32) (uint16, error) {
	if err := m.checkBounds(addr, 2); err != nil {
		return 0, err
	}
	return uint16(m.bytes[addr]) | uint16(m.bytes[addr+1])<<8, nil
}

func (m *RAM) WriteWordLinear(addr uint32, val uint16) error {
	if err := m.checkBounds(addr, 2); err != nil {
		return err
	}
	m.bytes[addr] = byte(val)
	m.bytes[addr+1] = byte(val >> 8)
	return nil
}

// LoadImage copies data into RAM starting at linear address base, for
// host-side BIOS/ROM image loading at boot.
func (m *RAM) LoadImage(base uint32, data []byte) error {
	if err := m.checkBounds(base, len(data)); err != nil {
		return err
	}
	copy(m.bytes[base:], data)
	return nil
}

// Bytes exposes the backing slice directly for bulk host-side access
// (e.g. a debugger or a disassembler); callers must not retain it
// across a Reset.
func (m *RAM) Bytes() []byte { return m.bytes }
