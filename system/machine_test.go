package system

import (
	"context"
	"testing"
	"time"

	"core_engine/cpu"
)

func newTestMachine(t *testing.T) *Machine {
	t.Helper()
	m, err := NewMachine(MachineConfig{MemorySize: 1 << 20, ExtendedMemKB: 63 * 1024, PITTickQuantum: 1})
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	return m
}

// gdtEntry packs one 8-byte descriptor in the documented layout: base
// split across three fields, limit split low/high, access byte, and a
// flags/limit-high nibble byte (left 0 here — no granularity bit, byte
// limits only, matching the small test segments below).
func gdtEntry(base uint32, limit uint16, access byte) [8]byte {
	var e [8]byte
	e[0] = byte(limit)
	e[1] = byte(limit >> 8)
	e[2] = byte(base)
	e[3] = byte(base >> 8)
	e[4] = byte(base >> 16)
	e[5] = access
	e[6] = 0
	e[7] = byte(base >> 24)
	return e
}

// TestRealModeHaltStopsStepping boots the reset vector with a single
// HLT at F000:FFF0 and confirms Step halts the CPU without requiring
// the full instruction budget.
func TestRealModeHaltStopsStepping(t *testing.T) {
	m := newTestMachine(t)
	if err := m.LoadImage(0xFFFF0, []byte{0xF4}); err != nil {
		t.Fatalf("LoadImage: %v", err)
	}
	if err := m.Step(10); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !m.CPU().Halted {
		t.Fatal("expected CPU halted after executing HLT")
	}
}

// TestProtectedModeBootEntersPMAndHalts assembles a minimal boot image
// that builds a flat code/data GDT, loads GDTR, sets MSW.PE via LMSW,
// far-jumps into the code segment, reloads the data segments, and
// halts — the same jmp-to-PM-then-halt shape as the teacher's boot
// test, rebuilt without a serial device to observe (dropped per
// DESIGN.md) and instead asserting on CPU-visible state directly.
func TestProtectedModeBootEntersPMAndHalts(t *testing.T) {
	m := newTestMachine(t)

	const gdtBase = 0x00000600
	const codeBase = 0x00001000
	const codeSel = 0x08 // index 1
	const dataSel = 0x10 // index 2

	null := gdtEntry(0, 0, 0)
	code := gdtEntry(codeBase, 0xFFFF, 0x9A) // present, DPL0, code, execute/read
	data := gdtEntry(0, 0xFFFF, 0x92)        // present, DPL0, data, read/write
	var gdtBytes []byte
	for _, e := range [][8]byte{null, code, data} {
		gdtBytes = append(gdtBytes, e[:]...)
	}
	if err := m.LoadImage(gdtBase, gdtBytes); err != nil {
		t.Fatalf("LoadImage GDT: %v", err)
	}

	pseudo := make([]byte, 6)
	limit := uint16(len(gdtBytes) - 1)
	pseudo[0] = byte(limit)
	pseudo[1] = byte(limit >> 8)
	pseudo[2] = byte(gdtBase & 0xFF)
	pseudo[3] = byte(gdtBase >> 8)
	pseudo[4] = byte(gdtBase >> 16)
	pseudo[5] = byte(gdtBase >> 24)
	if err := m.LoadImage(0x00000700, pseudo); err != nil {
		t.Fatalf("LoadImage pseudo-descriptor: %v", err)
	}

	// Real-mode entry point at the reset vector, F000:FFF0 -> linear
	// 0xFFFF0: LGDT [DS:0x0700] (DS=0 by reset default), then set
	// MSW.PE via LMSW from a word in memory, then far jump to the code
	// segment, which reloads data segments and halts.
	realEntry := []byte{
		0x0F, 0x01, 0x16, 0x00, 0x07, // LGDT [0x0700] (modrm disp16, mod=00 rm=110)
		0xB8, 0x01, 0x00, // MOV AX, 1
		0x0F, 0x01, 0xF0, // LMSW AX (modrm 11 110 000 = 0xF0)
		0xEA, 0x00, 0x00, byte(codeSel), byte(codeSel >> 8), // JMP FAR 0008:0000
	}
	if err := m.LoadImage(0xFFFF0, realEntry); err != nil {
		t.Fatalf("LoadImage real-mode entry: %v", err)
	}

	// Protected-mode code at codeBase: reload DS/ES/SS from dataSel,
	// then HLT.
	pmCode := []byte{
		0xB8, byte(dataSel), 0x00, // MOV AX, dataSel
		0x8E, 0xD8, // MOV DS, AX
		0x8E, 0xC0, // MOV ES, AX
		0x8E, 0xD0, // MOV SS, AX
		0xF4, // HLT
	}
	if err := m.LoadImage(codeBase, pmCode); err != nil {
		t.Fatalf("LoadImage PM code: %v", err)
	}

	for i := 0; i < 50 && !m.CPU().Halted; i++ {
		if err := m.Step(1); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
	if !m.CPU().Halted {
		t.Fatal("expected machine to reach HLT in protected mode")
	}
	if !m.CPU().ProtectedMode() {
		t.Fatal("expected MSW.PE set after LMSW")
	}
	if m.CPU().Regs.Seg[cpu.SegDS] != dataSel {
		t.Fatalf("expected DS selector 0x%x, got 0x%x", dataSel, m.CPU().Regs.Seg[cpu.SegDS])
	}
}

// TestInjectScancodeReachesKeyboardBuffer exercises the sole
// cross-thread surface: a scancode injected from outside a Step call
// becomes readable from port 0x60.
func TestInjectScancodeReachesKeyboardBuffer(t *testing.T) {
	m := newTestMachine(t)
	m.InjectScancode(0x1E) // 'A' make code
	got := m.ports.In8(0x60)
	if got != 0x1E {
		t.Fatalf("expected scancode 0x1E from port 0x60, got 0x%02x", got)
	}
}

// TestRunStopsOnContextCancellation confirms Run respects ctx
// cancellation rather than spinning forever on a CPU that never
// halts.
func TestRunStopsOnContextCancellation(t *testing.T) {
	m := newTestMachine(t)
	// NOP forever: 0x90 at the reset vector, never halting.
	if err := m.LoadImage(0xFFFF0, []byte{0x90}); err != nil {
		t.Fatalf("LoadImage: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.Run(ctx)
	if err != context.DeadlineExceeded {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}
