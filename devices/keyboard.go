package devices

import (
	"fmt"
	"sync"
)

const kbcBufferSize = 16

// KeyboardDevice is the i8042 keyboard controller: a command-byte state
// machine on ports 0x60/0x64 fronting a 16-entry scancode FIFO, plus
// the A20 gate (output-port bit 1, and its port-0x92 shortcut) and the
// CPU reset pulse (command 0xFE). Ported from the reference i8042
// implementation; see SPEC_FULL.md §4.D for the supplemental commands
// (0xC0/0xE0/0xD3/0xD4) the distilled spec only names in passing.
type KeyboardDevice struct {
	mu sync.Mutex

	buffer     [kbcBufferSize]byte
	head, tail int

	outputBuffer byte
	status       byte
	commandByte  byte
	outputPort   byte
	pendingCmd   byte // last command written to 0x64; cleared by the next 0x60 write, which it consumes

	port92    byte
	a20Enable bool

	pic       InterruptRaiser
	resetLine func()
}

// NewKeyboardDevice wires the controller to the PIC (for IRQ1) and a
// CPU reset hook (invoked by command 0xFE). Defaults match §3
// Lifecycle: status 0x14, command byte 0x45, output port 0xDD.
func NewKeyboardDevice(pic InterruptRaiser, resetLine func()) *KeyboardDevice {
	return &KeyboardDevice{
		status:      0x14,
		commandByte: 0x45,
		outputPort:  0xDD,
		pic:         pic,
		resetLine:   resetLine,
	}
}

// A20Enabled reports the gate state driven by output-port bit 1 or the
// port-0x92 shortcut, whichever was set last.
func (k *KeyboardDevice) A20Enabled() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.a20Enable
}

// InjectScancode is the host's single entry point into the controller;
// it is the cross-thread surface described in §5 Concurrency.
func (k *KeyboardDevice) InjectScancode(b byte) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.sendScancode(b)
}

// sendScancode pushes b into the FIFO; if the output register was
// empty, b is promoted immediately and IRQ1 is raised when enabled.
// A full FIFO silently drops the byte, matching the reference
// implementation.
func (k *KeyboardDevice) sendScancode(b byte) {
	nextHead := (k.head + 1) % kbcBufferSize
	if nextHead == k.tail {
		return
	}
	k.buffer[k.head] = b
	k.head = nextHead
	if k.status&0x01 == 0 {
		k.outputBuffer = b
		k.status |= 0x01
		if k.commandByte&0x01 != 0 && k.pic != nil {
			k.pic.RaiseIRQ(KEYBOARD_IRQ)
		}
	}
}

// HandleIO implements PioDevice for ports 0x60, 0x64, and 0x92.
func (k *KeyboardDevice) HandleIO(port uint16, direction uint8, size uint8, data []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if size != 1 {
		return fmt.Errorf("keyboard: unsupported I/O size %d on port 0x%x", size, port)
	}

	switch port {
	case KEYBOARD_PORT_STATUS:
		if direction == IODirectionOut {
			k.writeCommandPort(data[0])
		} else {
			data[0] = k.status
		}
	case KEYBOARD_PORT_DATA:
		if direction == IODirectionOut {
			k.writeDataPort(data[0])
		} else {
			data[0] = k.readDataPort()
		}
	case A20_PORT_92:
		if direction == IODirectionOut {
			k.port92 = data[0]
			k.a20Enable = (k.port92>>1)&1 != 0
		} else {
			data[0] = k.port92
		}
	default:
		return fmt.Errorf("keyboard: unhandled I/O to port 0x%x", port)
	}
	return nil
}

func (k *KeyboardDevice) writeCommandPort(value byte) {
	k.status |= 0x02
	k.pendingCmd = value
	switch value {
	case 0x20: // read command byte
		k.sendScancode(k.commandByte)
	case 0xAA: // self-test
		k.sendScancode(0x55)
	case 0xAD: // disable keyboard
		k.commandByte |= 0x10
	case 0xAE: // enable keyboard
		k.commandByte &^= 0x10
	case 0xA7: // disable mouse
		k.commandByte |= 0x20
	case 0xA8: // enable mouse
		k.commandByte &^= 0x20
	case 0xC0: // read input port
		k.sendScancode(0x00)
	case 0xD0: // read output port
		k.sendScancode(k.outputPort)
	case 0xE0: // read test inputs
		k.sendScancode(0x00)
	case 0xFE: // pulse CPU reset
		if k.resetLine != nil {
			k.resetLine()
		}
	}
	// Commands expecting a follow-up byte on 0x60 keep input-full set.
	if value != 0x60 && value != 0xD1 && value != 0xD3 && value != 0xD4 {
		k.status &^= 0x02
	}
}

func (k *KeyboardDevice) writeDataPort(value byte) {
	if k.pendingCmd != 0 {
		switch k.pendingCmd {
		case 0x60: // write command byte
			k.commandByte = value
		case 0xD1: // write output port
			k.outputPort = value
			k.a20Enable = (value>>1)&1 != 0
		case 0xD3: // write mouse output buffer: accepted, no visible effect
		case 0xD4: // write to mouse
			k.sendScancode(0xFA)
			if value == 0xFF {
				k.sendScancode(0xAA)
				k.sendScancode(0x00)
			}
		}
		k.pendingCmd = 0
		k.status &^= 0x02
		return
	}
	k.sendScancode(0xFA)
}

func (k *KeyboardDevice) readDataPort() byte {
	data := k.outputBuffer
	if k.head != k.tail {
		k.outputBuffer = k.buffer[k.tail]
		k.tail = (k.tail + 1) % kbcBufferSize
	} else {
		k.status &^= 0x01
	}
	if k.head != k.tail && k.commandByte&0x01 != 0 && k.pic != nil {
		k.pic.RaiseIRQ(KEYBOARD_IRQ)
	}
	// The output-full status bit clears on every read of 0x60, even
	// when a new byte was just promoted from the FIFO (matches §4.D).
	k.status &^= 0x01
	return data
}
