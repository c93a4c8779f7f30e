package memory

import "testing"

type fakeGate struct{ enabled bool }

func (f *fakeGate) A20Enabled() bool { return f.enabled }

func TestRealModeAddressComputation(t *testing.T) {
	m := New(1<<20, &fakeGate{enabled: true})
	if got := m.RealModeAddress(0xF000, 0xFFF0); got != 0xFFFF0 {
		t.Fatalf("expected 0xFFFF0, got 0x%x", got)
	}
}

func TestA20MaskingWrapsAboveOneMeg(t *testing.T) {
	gate := &fakeGate{enabled: false}
	m := New(2<<20, gate)

	// FFFF:0010 = 0x100000, bit 20 set; with A20 disabled this must wrap to 0.
	addr := m.RealModeAddress(0xFFFF, 0x0010)
	if addr != 0x00000 {
		t.Fatalf("expected wraparound to 0x00000 with A20 disabled, got 0x%x", addr)
	}

	gate.enabled = true
	addr = m.RealModeAddress(0xFFFF, 0x0010)
	if addr != 0x100000 {
		t.Fatalf("expected 0x100000 with A20 enabled, got 0x%x", addr)
	}
}

func TestReadWriteByteAndWordReal(t *testing.T) {
	m := New(1<<16, nil)
	if err := m.WriteWordReal(0x0000, 0x0100, 0xBEEF); err != nil {
		t.Fatalf("WriteWordReal: %v", err)
	}
	lo, err := m.ReadByteReal(0x0000, 0x0100)
	if err != nil {
		t.Fatalf("ReadByteReal: %v", err)
	}
	if lo != 0xEF {
		t.Fatalf("expected low byte 0xEF, got 0x%02x", lo)
	}
	word, err := m.ReadWordReal(0x0000, 0x0100)
	if err != nil {
		t.Fatalf("ReadWordReal: %v", err)
	}
	if word != 0xBEEF {
		t.Fatalf("expected 0xBEEF, got 0x%04x", word)
	}
}

func TestProtectedModeLimitCheck(t *testing.T) {
	m := New(1<<20, nil)
	desc := Descriptor{Base: 0x1000, Limit: 0x0F}

	if err := m.WriteBytePM(desc, 0x0F, 0x42); err != nil {
		t.Fatalf("expected offset at limit to succeed: %v", err)
	}
	if _, err := m.ReadBytePM(desc, 0x10); err == nil {
		t.Fatal("expected offset past limit to fail")
	}
}

func TestProtectedModeWordStraddlingLimitFails(t *testing.T) {
	m := New(1<<20, nil)
	desc := Descriptor{Base: 0, Limit: 0x0F}
	if err := m.WriteWordPM(desc, 0x0F, 0x1234); err == nil {
		t.Fatal("expected word write straddling the limit to fail")
	}
}

func TestOutOfBoundsPhysicalAddressFails(t *testing.T) {
	m := New(16, nil)
	if _, err := m.ReadByteReal(0x0002, 0x0000); err == nil {
		t.Fatal("expected read past end of physical RAM to fail")
	}
}

func TestLinearAccessBypassesSegmentTranslation(t *testing.T) {
	m := New(1<<20, nil)
	if err := m.WriteWordLinear(0x1000, 0xCAFE); err != nil {
		t.Fatalf("WriteWordLinear: %v", err)
	}
	got, err := m.ReadWordLinear(0x1000)
	if err != nil {
		t.Fatalf("ReadWordLinear: %v", err)
	}
	if got != 0xCAFE {
		t.Fatalf("expected 0xCAFE, got 0x%04x", got)
	}
}

func TestLoadImageCopiesIntoRAM(t *testing.T) {
	m := New(1<<20, nil)
	img := []byte{0xEA, 0x5B, 0xE0, 0x00, 0xF0}
	if err := m.LoadImage(0xFE05B, img); err != nil {
		t.Fatalf("LoadImage: %v", err)
	}
	got := m.Bytes()[0xFE05B : 0xFE05B+len(img)]
	for i, b := range img {
		if got[i] != b {
			t.Fatalf("byte %d: expected 0x%02x, got 0x%02x", i, b, got[i])
		}
	}
}
