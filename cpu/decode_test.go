package cpu

import "testing"

func seedCode(t *testing.T, c *CPU, code []byte) {
	t.Helper()
	for i, b := range code {
		if err := c.Memory.WriteByteReal(c.Regs.Seg[SegCS], c.Regs.IP+uint16(i), b); err != nil {
			t.Fatalf("seedCode: %v", err)
		}
	}
}

func TestConsumePrefixesStopsAtOpcode(t *testing.T) {
	c, _ := newTestCPU()
	c.Regs.Seg[SegCS], c.Regs.IP = 0x1000, 0
	seedCode(t, c, []byte{0x3E, 0xF3, 0x90}) // DS override, REP, NOP
	op, err := c.consumePrefixes()
	if err != nil {
		t.Fatalf("consumePrefixes: %v", err)
	}
	if op != 0x90 {
		t.Fatalf("expected opcode 0x90, got 0x%02x", op)
	}
	if c.segmentOverride != SegDS {
		t.Fatalf("expected DS override recorded, got %d", c.segmentOverride)
	}
	if c.repPrefix != 0xF3 {
		t.Fatalf("expected REP prefix recorded, got 0x%02x", c.repPrefix)
	}
}

func TestConsumePrefixesTooManyFaults(t *testing.T) {
	c, _ := newTestCPU()
	c.Regs.Seg[SegCS], c.Regs.IP = 0x1000, 0
	code := make([]byte, maxPrefixBytes+2)
	for i := range code {
		code[i] = 0x26
	}
	seedCode(t, c, code)
	if _, err := c.consumePrefixes(); err == nil {
		t.Fatal("expected fault for excessive prefix chain")
	}
}

func TestEffectiveAddressDirectMode(t *testing.T) {
	c, _ := newTestCPU()
	c.Regs.Seg[SegCS], c.Regs.IP = 0x1000, 0
	seedCode(t, c, []byte{0x34, 0x12}) // disp16 = 0x1234
	offset, err := c.effectiveAddress(0, 6)
	if err != nil {
		t.Fatalf("effectiveAddress: %v", err)
	}
	if offset != 0x1234 {
		t.Fatalf("expected 0x1234, got 0x%04x", offset)
	}
}

func TestEffectiveAddressBPModeNeverOverridesToSS(t *testing.T) {
	c, _ := newTestCPU()
	c.Regs.Word[RegBP] = 0x0050
	c.Regs.IP = 0
	c.Regs.Seg[SegCS] = 0x2000
	seedCode(t, c, []byte{0x04}) // disp8 = 4
	off, err := c.effectiveAddress(1, 6)
	if err != nil {
		t.Fatalf("effectiveAddress: %v", err)
	}
	if off != 0x0054 {
		t.Fatalf("expected 0x0054, got 0x%04x", off)
	}
	if c.dataSegment() != SegDS {
		t.Fatalf("expected default data segment DS even for BP-based EA, got %d", c.dataSegment())
	}
}

func TestReadWriteRM16MemoryForm(t *testing.T) {
	c, _ := newTestCPU()
	c.Regs.Seg[SegDS] = 0x3000
	if err := c.writeMemWord(SegDS, 0x0010, 0xABCD); err != nil {
		t.Fatalf("writeMemWord: %v", err)
	}
	m := modRM{isMem: true, offset: 0x0010}
	got, err := c.readRM16(m)
	if err != nil {
		t.Fatalf("readRM16: %v", err)
	}
	if got != 0xABCD {
		t.Fatalf("expected 0xABCD, got 0x%04x", got)
	}
}
