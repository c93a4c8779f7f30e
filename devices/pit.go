package devices

import "fmt"

// counterState is one of the PIT's three independent down-counters.
type counterState struct {
	value, reload, latch uint16
	rwMode               byte
	mode                 byte
	bcd                  bool
	latched              bool
	latchStep            byte // 0 = expect LSB next, 1 = expect MSB next
	writeStep            byte
}

// PITDevice is the 8253/8254 Programmable Interval Timer: three
// counters at 0x40-0x42, a command register at 0x43, and the PPI port
// B alias at 0x61. Channel 0 drives IRQ0, per SPEC_FULL.md §4.E2; this
// is a coarse loop-driven decrement, not a free-running oscillator,
// consistent with the spec's cycle-accurate-timing Non-goal.
type PITDevice struct {
	counters [3]counterState
	pic      InterruptRaiser
	ppiB     byte
}

// NewPITDevice wires channel 0's terminal count to irqRaiser's IRQ0.
func NewPITDevice(irqRaiser InterruptRaiser) *PITDevice {
	p := &PITDevice{pic: irqRaiser}
	for i := range p.counters {
		p.counters[i].rwMode = PIT_RW_LOHI
		p.counters[i].mode = 3
	}
	return p
}

// HandleIO implements PioDevice for ports 0x40-0x43 and 0x61.
func (p *PITDevice) HandleIO(port uint16, direction uint8, size uint8, data []byte) error {
	if size != 1 {
		return fmt.Errorf("pit: unsupported I/O size %d on port 0x%x", size, port)
	}

	switch port {
	case PIT_PORT_COUNTER0, PIT_PORT_COUNTER1, PIT_PORT_COUNTER2:
		idx := int(port - PIT_PORT_COUNTER0)
		if direction == IODirectionOut {
			p.writeCounter(idx, data[0])
		} else {
			data[0] = p.readCounter(idx)
		}
	case PIT_PORT_COMMAND:
		if direction == IODirectionOut {
			p.writeCommand(data[0])
		} else {
			data[0] = 0
		}
	case PIT_PORT_PPI_B:
		if direction == IODirectionOut {
			p.ppiB = data[0]
		} else {
			data[0] = p.ppiB & 0xDF // bit 5 (refresh toggle) reads low
		}
	default:
		return fmt.Errorf("pit: unhandled I/O to port 0x%x", port)
	}
	return nil
}

func (p *PITDevice) writeCommand(value byte) {
	sel := int((value >> 6) & 0x3)
	if sel == 3 {
		return // read-back command: unimplemented, accepted as a no-op
	}
	rw := (value >> 4) & 0x3
	mode := (value >> 1) & 0x7
	bcd := value&0x1 != 0

	c := &p.counters[sel]
	if rw == PIT_RW_LATCH {
		c.latch = c.value
		c.latched = true
		c.latchStep = 0
		return
	}
	c.rwMode = rw
	c.mode = mode
	c.bcd = bcd
	c.writeStep = 0
}

func (p *PITDevice) writeCounter(idx int, val byte) {
	c := &p.counters[idx]
	switch c.rwMode {
	case PIT_RW_LSB:
		c.reload = uint16(val)
		c.value = c.reload
	case PIT_RW_MSB:
		c.reload = uint16(val) << 8
		c.value = c.reload
	default: // LOHI
		if c.writeStep == 0 {
			c.reload = uint16(val)
			c.writeStep = 1
		} else {
			c.reload |= uint16(val) << 8
			c.value = c.reload
			c.writeStep = 0
		}
	}
}

func (p *PITDevice) readCounter(idx int) byte {
	c := &p.counters[idx]
	if c.latched {
		if c.latchStep == 0 {
			c.latchStep = 1
			return byte(c.latch)
		}
		c.latched = false
		c.latchStep = 0
		return byte(c.latch >> 8)
	}
	switch c.rwMode {
	case PIT_RW_LSB:
		return byte(c.value)
	case PIT_RW_MSB:
		return byte(c.value >> 8)
	default: // LOHI
		if c.writeStep == 0 {
			c.writeStep = 1
			return byte(c.value)
		}
		c.writeStep = 0
		return byte(c.value >> 8)
	}
}

// Tick decrements channel 0 by n counts, raising IRQ0 on the PIC each
// time it reaches zero and reloads. Called by the driver loop once per
// scheduling quantum rather than once per real oscillator cycle.
func (p *PITDevice) Tick(n uint16) {
	c := &p.counters[0]
	if n == 0 {
		return
	}
	for ; n > 0; n-- {
		if c.value == 0 {
			break // reload of 0 means "never retrigger"; avoid spinning
		}
		c.value--
		if c.value == 0 {
			c.value = c.reload
			if p.pic != nil {
				p.pic.RaiseIRQ(PIT_IRQ)
			}
		}
	}
}
