package cpu

import "testing"

func TestIntCallRealModePushesFlagsCSIPAndLoadsVector(t *testing.T) {
	c, ram := newTestCPU()
	c.Regs.Seg[SegCS], c.Regs.IP = 0x1000, 0x0010
	c.Regs.Seg[SegSS] = 0x2000
	c.Regs.Word[RegSP] = 0x0100
	c.Flags.IF = true

	if err := ram.WriteWordLinear(0x21*4, 0x4000); err != nil {
		t.Fatalf("seed IVT IP: %v", err)
	}
	if err := ram.WriteWordLinear(0x21*4+2, 0x5000); err != nil {
		t.Fatalf("seed IVT CS: %v", err)
	}

	if err := c.IntCall(0x21); err != nil {
		t.Fatalf("IntCall: %v", err)
	}
	if c.Regs.Seg[SegCS] != 0x5000 || c.Regs.IP != 0x4000 {
		t.Fatalf("expected CS:IP 5000:4000, got %04x:%04x", c.Regs.Seg[SegCS], c.Regs.IP)
	}
	if c.Flags.IF {
		t.Fatal("expected IF cleared on interrupt entry")
	}
	if c.Regs.Word[RegSP] != 0x0100-6 {
		t.Fatalf("expected SP decremented by 6, got 0x%04x", c.Regs.Word[RegSP])
	}
}

func TestIRETRealModeRestoresContext(t *testing.T) {
	c, _ := newTestCPU()
	c.Regs.Seg[SegCS], c.Regs.IP = 0x1000, 0x0010
	c.Regs.Seg[SegSS] = 0x2000
	c.Regs.Word[RegSP] = 0x0100
	c.Flags.IF = true

	if err := c.IntCall(0x21); err != nil {
		t.Fatalf("IntCall: %v", err)
	}
	if err := c.IRET(); err != nil {
		t.Fatalf("IRET: %v", err)
	}
	if c.Regs.Seg[SegCS] != 0x1000 || c.Regs.IP != 0x0010 {
		t.Fatalf("expected restored CS:IP 1000:0010, got %04x:%04x", c.Regs.Seg[SegCS], c.Regs.IP)
	}
	if !c.Flags.IF {
		t.Fatal("expected IF restored by IRET")
	}
	if c.Regs.Word[RegSP] != 0x0100 {
		t.Fatalf("expected SP restored to 0x0100, got 0x%04x", c.Regs.Word[RegSP])
	}
}

func TestIntCallDoubleFaultEscalatesToReset(t *testing.T) {
	// A fault raised while handling_fault is already latched recurses
	// into IntCall(8) without clearing the latch first, so it always
	// lands on the triple-fault reset branch — preserved literally
	// from the reference's cpu_intcall nesting.
	c, _ := newTestCPU()
	c.Regs.Seg[SegCS], c.Regs.IP = 0x1000, 0x0010
	c.Regs.Seg[SegSS] = 0x2000
	c.Regs.Word[RegSP] = 0x0100
	c.HandlingFault = true
	c.Regs.Word[RegAX] = 0x1234

	if err := c.IntCall(13); err != nil {
		t.Fatalf("IntCall: %v", err)
	}
	if c.Regs.Word[RegAX] != 0 {
		t.Fatal("expected reset to clear the register file")
	}
	if c.Regs.Seg[SegCS] != 0xF000 || c.Regs.IP != 0xFFF0 {
		t.Fatal("expected reset vector CS:IP")
	}
}

func TestIntCallTripleFaultResetsCPU(t *testing.T) {
	c, _ := newTestCPU()
	c.HandlingFault = true
	c.Regs.Word[RegAX] = 0x1234

	if err := c.IntCall(8); err != nil {
		t.Fatalf("IntCall: %v", err)
	}
	if c.Regs.Word[RegAX] != 0 {
		t.Fatal("expected register file cleared by triple-fault reset")
	}
	if c.Regs.Seg[SegCS] != 0xF000 || c.Regs.IP != 0xFFF0 {
		t.Fatal("expected reset vector CS:IP after triple fault")
	}
}

func TestInterruptHookShortCircuitsDelivery(t *testing.T) {
	c, _ := newTestCPU()
	c.Regs.Seg[SegCS], c.Regs.IP = 0x1000, 0x0010
	called := false
	c.SetInterruptHook(0x40, func(cpu *CPU) bool {
		called = true
		return true
	})
	if err := c.IntCall(0x40); err != nil {
		t.Fatalf("IntCall: %v", err)
	}
	if !called {
		t.Fatal("expected hook to run")
	}
	if c.Regs.Seg[SegCS] != 0x1000 || c.Regs.IP != 0x0010 {
		t.Fatal("expected hook to short-circuit default delivery")
	}
}

func TestBIOSExtendedMemorySizeService(t *testing.T) {
	c, _ := newTestCPU()
	c.Regs.Seg[SegCS], c.Regs.IP = 0x1000, 0x0010
	c.Regs.Seg[SegSS] = 0x2000
	c.Regs.Word[RegSP] = 0x0100
	c.Regs.SetByte(RegAH, 0x88)
	if err := c.IntCall(0x15); err != nil {
		t.Fatalf("IntCall: %v", err)
	}
	if c.Regs.Word[RegAX] != 15360 {
		t.Fatalf("expected AX=15360, got %d", c.Regs.Word[RegAX])
	}
	if c.Flags.CF {
		t.Fatal("expected CF cleared")
	}
}
