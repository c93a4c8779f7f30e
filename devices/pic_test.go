package devices

import "testing"

func programICW(t *testing.T, p *PICDevice) {
	t.Helper()
	// Master: ICW1 (cascade, ICW4 needed), ICW2 vector base 0x08, ICW3 cascade mask, ICW4.
	p.HandleIO(PIC_MASTER_CMD_PORT, IODirectionOut, 1, []byte{0x11})
	p.HandleIO(PIC_MASTER_DATA_PORT, IODirectionOut, 1, []byte{0x08})
	p.HandleIO(PIC_MASTER_DATA_PORT, IODirectionOut, 1, []byte{0x04})
	p.HandleIO(PIC_MASTER_DATA_PORT, IODirectionOut, 1, []byte{0x01})
	// Slave: ICW1, ICW2 vector base 0x70, ICW3 identity 2, ICW4.
	p.HandleIO(PIC_SLAVE_CMD_PORT, IODirectionOut, 1, []byte{0x11})
	p.HandleIO(PIC_SLAVE_DATA_PORT, IODirectionOut, 1, []byte{0x70})
	p.HandleIO(PIC_SLAVE_DATA_PORT, IODirectionOut, 1, []byte{0x02})
	p.HandleIO(PIC_SLAVE_DATA_PORT, IODirectionOut, 1, []byte{0x01})
}

func TestPICProgrammingAndUnmask(t *testing.T) {
	p := NewPICDevice()
	programICW(t, p)

	// Unmask everything on both controllers (property 7 in spec.md §8).
	p.HandleIO(PIC_MASTER_DATA_PORT, IODirectionOut, 1, []byte{0x00})
	p.HandleIO(PIC_SLAVE_DATA_PORT, IODirectionOut, 1, []byte{0x00})

	p.RaiseIRQ(0)
	p.RaiseIRQ(1)
	vec, ok := p.NextVector()
	if !ok || vec != 0x08 {
		t.Fatalf("expected vector 0x08 for IRQ0, got 0x%02x ok=%v", vec, ok)
	}
	vec, ok = p.NextVector()
	if !ok || vec != 0x09 {
		t.Fatalf("expected vector 0x09 for IRQ1, got 0x%02x ok=%v", vec, ok)
	}
}

func TestPICNonSpecificEOIClearsHighestISRBitOnly(t *testing.T) {
	p := NewPICDevice()
	programICW(t, p)
	p.HandleIO(PIC_MASTER_DATA_PORT, IODirectionOut, 1, []byte{0x00})

	p.RaiseIRQ(0)
	p.RaiseIRQ(3)
	if _, ok := p.NextVector(); !ok {
		t.Fatal("expected IRQ0 to be pending")
	}
	if _, ok := p.NextVector(); !ok {
		t.Fatal("expected IRQ3 to be pending")
	}
	if p.master.isr != (1<<0 | 1<<3) {
		t.Fatalf("expected ISR bits 0 and 3 set, got 0x%02x", p.master.isr)
	}

	// Non-specific EOI (0x20) must clear only the highest-priority (lowest bit) ISR entry.
	p.HandleIO(PIC_MASTER_CMD_PORT, IODirectionOut, 1, []byte{0x20})
	if p.master.isr != (1 << 3) {
		t.Fatalf("expected only bit 0 cleared, ISR=0x%02x", p.master.isr)
	}
}

func TestPICCascadeViaSlave(t *testing.T) {
	p := NewPICDevice()
	programICW(t, p)
	p.HandleIO(PIC_MASTER_DATA_PORT, IODirectionOut, 1, []byte{0x00})
	p.HandleIO(PIC_SLAVE_DATA_PORT, IODirectionOut, 1, []byte{0x00})

	p.RaiseIRQ(10) // slave IRQ2 -> system IRQ 8+2
	if !p.HasPendingInterrupt() {
		t.Fatal("expected pending interrupt via cascade")
	}
	vec, ok := p.NextVector()
	if !ok || vec != 0x72 {
		t.Fatalf("expected vector 0x72 (0x70 base + 2), got 0x%02x ok=%v", vec, ok)
	}
}
