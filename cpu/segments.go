package cpu

import "fmt"

// These constants enumerate the interrupt vectors the descriptor loader can
// raise directly, so callers can decide whether to push an error code.
const (
	faultGP = 13
	faultNP = 11
	faultSS = 12
)

// segFault is returned by the descriptor loader; callers translate it
// into the matching software interrupt via IntCall.
type segFault struct {
	vector    uint8
	selector  uint16
	pushError bool
}

func (e *segFault) Error() string {
	return fmt.Sprintf("cpu: segment fault #%d (selector 0x%04x)", e.vector, e.selector)
}

func (c *CPU) descriptorTableFor(selector uint16) (base uint32, limit uint16, err error) {
	if selector&0x04 != 0 {
		if !c.ldtrCache.Valid {
			return 0, 0, &segFault{vector: faultGP, selector: selector, pushError: true}
		}
		return c.ldtrCache.Base, uint16(c.ldtrCache.Limit), nil
	}
	return c.GDTRBase, c.GDTRLimit, nil
}

func (c *CPU) readDescriptor(selector uint16) (SegmentCache, error) {
	base, limit, err := c.descriptorTableFor(selector)
	if err != nil {
		return SegmentCache{}, err
	}
	index := selector &^ 0x07
	if uint32(index)+7 > uint32(limit) {
		return SegmentCache{}, &segFault{vector: faultGP, selector: selector, pushError: true}
	}
	addr := base + uint32(index)
	var raw [8]byte
	for i := range raw {
		b, err := c.Memory.ReadByteLinear(addr + uint32(i))
		if err != nil {
			return SegmentCache{}, err
		}
		raw[i] = b
	}
	return descriptorFromBytes(raw), nil
}

func (c *CPU) writeDescriptorAccessByte(selector uint16, access uint8) error {
	base, _, err := c.descriptorTableFor(selector)
	if err != nil {
		return err
	}
	addr := base + uint32(selector&^0x07) + 5
	return c.Memory.WriteByteLinear(addr, access)
}

// LoadSegment implements the seven-step descriptor loader every
// post-PE segment register load goes through. seg identifies which
// register is being loaded (SegCS/SegDS/SegES/SegSS); selector is the
// new value.
func (c *CPU) LoadSegment(seg int, selector uint16) error {
	if !c.ProtectedMode() {
		c.Regs.Seg[seg] = selector
		c.segCache[seg] = SegmentCache{Base: uint32(selector) << 4, Limit: 0xFFFF, Access: 0x93, Valid: true}
		return nil
	}

	// Step 1: null selector.
	if selector&0xFFFC == 0 {
		if seg == SegSS {
			return &segFault{vector: faultGP, selector: selector, pushError: true}
		}
		c.Regs.Seg[seg] = selector
		c.segCache[seg] = SegmentCache{Valid: false}
		return nil
	}

	cpl := c.CPL()
	rpl := uint8(selector & 0x03)

	desc, err := c.readDescriptor(selector)
	if err != nil {
		return err
	}

	// Step 4: present bit.
	if !accessPresent(desc.Access) {
		return &segFault{vector: faultNP, selector: selector, pushError: true}
	}

	switch seg {
	case SegSS:
		if rpl != cpl || accessDPL(desc.Access) != cpl || !accessIsData(desc.Access) || !accessWritable(desc.Access) {
			return &segFault{vector: faultGP, selector: selector, pushError: true}
		}
	case SegCS:
		if !accessIsCode(desc.Access) {
			return &segFault{vector: faultGP, selector: selector, pushError: true}
		}
		if accessDPL(desc.Access) > cpl {
			return &segFault{vector: faultGP, selector: selector, pushError: true}
		}
	default: // DS, ES
		isReadableCode := accessIsCode(desc.Access) && accessReadable(desc.Access)
		if !accessIsData(desc.Access) && !isReadableCode {
			return &segFault{vector: faultGP, selector: selector, pushError: true}
		}
		dpl := accessDPL(desc.Access)
		if cpl > dpl || rpl > dpl {
			return &segFault{vector: faultGP, selector: selector, pushError: true}
		}
	}

	desc.Valid = true
	c.Regs.Seg[seg] = selector
	c.segCache[seg] = desc
	return nil
}

// LoadLDTR implements LLDT: requires CPL=0 and a valid LDT-type
// descriptor (access low nibble 0x02).
func (c *CPU) LoadLDTR(selector uint16) error {
	if c.CPL() != 0 {
		return &segFault{vector: faultGP, selector: selector}
	}
	if selector&0xFFFC == 0 {
		c.LDTR = 0
		c.ldtrCache = SegmentCache{}
		return nil
	}
	desc, err := c.readDescriptor(selector)
	if err != nil {
		return err
	}
	if accessSystemType(desc.Access) != 0x02 {
		return &segFault{vector: faultGP, selector: selector, pushError: true}
	}
	desc.Valid = true
	c.LDTR = selector
	c.ldtrCache = desc
	return nil
}

// LoadTR implements LTR: requires CPL=0 and a 286 TSS descriptor type
// (0x01 available, 0x03 busy); sets the busy bit in the in-memory
// descriptor and caches base/limit/access plus SP0/SS0 read from
// offsets 2 and 4 of the task state segment.
func (c *CPU) LoadTR(selector uint16) error {
	if c.CPL() != 0 {
		return &segFault{vector: faultGP, selector: selector}
	}
	if selector&0xFFFC == 0 {
		return &segFault{vector: faultGP, selector: selector, pushError: true}
	}
	desc, err := c.readDescriptor(selector)
	if err != nil {
		return err
	}
	sysType := accessSystemType(desc.Access)
	if sysType != 0x01 && sysType != 0x03 {
		return &segFault{vector: faultGP, selector: selector, pushError: true}
	}

	sp0, err := c.Memory.ReadWordLinear(desc.Base + 2)
	if err != nil {
		return err
	}
	ss0, err := c.Memory.ReadWordLinear(desc.Base + 4)
	if err != nil {
		return err
	}

	if err := c.writeDescriptorAccessByte(selector, desc.Access|0x02); err != nil {
		return err
	}

	desc.Access |= 0x02
	desc.Valid = true
	c.TR = selector
	c.trCache = desc
	c.tssSP0, c.tssSS0 = sp0, ss0
	return nil
}

// segMemDescriptor converts a segment's cache into the form the
// Memory interface's protected-mode accessors expect.
func (c *CPU) segMemDescriptor(seg int) MemDescriptor {
	sc := c.segCache[seg]
	return MemDescriptor{Base: sc.Base, Limit: sc.Limit}
}
