package fpu

import (
	"math"
	"testing"
)

type stubOperand struct {
	s        int16
	i        int32
	l        int64
	f32      float32
	f64      float64
	ext      float64
	writesS  []int16
	writesI  []int32
	writesF  []float32
	writesD  []float64
}

func (o *stubOperand) ReadShort() int16         { return o.s }
func (o *stubOperand) WriteShort(v int16)       { o.writesS = append(o.writesS, v) }
func (o *stubOperand) ReadInt() int32           { return o.i }
func (o *stubOperand) WriteInt(v int32)         { o.writesI = append(o.writesI, v) }
func (o *stubOperand) ReadLong() int64          { return o.l }
func (o *stubOperand) WriteLong(v int64)        { o.l = v }
func (o *stubOperand) ReadFloat() float32       { return o.f32 }
func (o *stubOperand) WriteFloat(v float32)     { o.writesF = append(o.writesF, v) }
func (o *stubOperand) ReadDouble() float64      { return o.f64 }
func (o *stubOperand) WriteDouble(v float64)    { o.writesD = append(o.writesD, v) }
func (o *stubOperand) ReadExtended() float64    { return o.ext }
func (o *stubOperand) WriteExtended(v float64)  { o.ext = v }

func TestInitMatchesFinit(t *testing.T) {
	f := New()
	if f.ControlWord() != 0x037F || f.StatusWord() != 0 || f.TagWord() != 0xFFFF {
		t.Fatalf("unexpected reset state cw=0x%04x sw=0x%04x tw=0x%04x", f.ControlWord(), f.StatusWord(), f.TagWord())
	}
}

func TestPushPopStackDiscipline(t *testing.T) {
	f := New()
	f.Push(3.5)
	f.Push(2.0)
	if got := f.St(0); got != 2.0 {
		t.Fatalf("expected top of stack 2.0, got %v", got)
	}
	if got := f.St(1); got != 3.5 {
		t.Fatalf("expected ST(1) 3.5, got %v", got)
	}
	if got := f.Pop(); got != 2.0 {
		t.Fatalf("expected pop 2.0, got %v", got)
	}
	if f.Tag(0) != TagValid {
		t.Fatalf("expected remaining slot valid, got tag %d", f.Tag(0))
	}
}

func TestPopUnderflowSetsIEAndClearsC1(t *testing.T) {
	f := New()
	f.sw |= SwC1
	got := f.Pop()
	if !math.IsNaN(got) {
		t.Fatalf("expected NaN from empty pop, got %v", got)
	}
	if f.sw&SwIE == 0 {
		t.Fatal("expected IE set on underflow")
	}
	if f.sw&SwC1 != 0 {
		t.Fatal("expected C1 cleared on underflow")
	}
}

func TestPushOverflowSetsIEC1SF(t *testing.T) {
	f := New()
	for i := 0; i < 8; i++ {
		f.Push(float64(i))
	}
	f.Push(99.0) // 9th push overflows the 8-deep stack
	if f.sw&(SwIE|SwC1|SwSF) != SwIE|SwC1|SwSF {
		t.Fatalf("expected IE|C1|SF set on overflow, got 0x%04x", f.sw)
	}
}

func TestFaddStEstRegisterForm(t *testing.T) {
	f := New()
	f.Push(1.0)
	f.Push(2.0)
	f.Execute(0xD8, 0, 1, false, nil) // FADD ST,ST(1): ST0 += ST1
	if got := f.St(0); got != 3.0 {
		t.Fatalf("expected 3.0, got %v", got)
	}
}

func TestFaddsMemoryForm(t *testing.T) {
	f := New()
	f.Push(1.5)
	mem := &stubOperand{f32: 2.5}
	f.Execute(0xD8, 0, 0, true, mem)
	if got := f.St(0); got != 4.0 {
		t.Fatalf("expected 4.0, got %v", got)
	}
}

func TestF2xm1DomainCheck(t *testing.T) {
	f := New()
	f.Push(0.25)
	f.Execute(0xD9, 6, 0, false, nil)
	want := math.Exp2(0.25) - 1.0
	if got := f.St(0); math.Abs(got-want) > 1e-12 {
		t.Fatalf("expected %v, got %v", want, got)
	}

	f2 := New()
	f2.Push(0.75) // outside [0, 0.5]
	f2.Execute(0xD9, 6, 0, false, nil)
	if f2.sw&SwIE == 0 {
		t.Fatal("expected IE set for out-of-domain F2XM1")
	}
}

func TestFptanDomainCheck(t *testing.T) {
	f := New()
	f.Push(10.0) // well outside |x| < pi/4
	f.Execute(0xD9, 6, 2, false, nil)
	if f.sw&SwIE == 0 {
		t.Fatal("expected IE set for out-of-domain FPTAN")
	}
}

func TestFsinNonFiniteSetsC2(t *testing.T) {
	f := New()
	f.Push(math.Inf(1))
	f.Execute(0xD9, 7, 6, false, nil)
	if f.sw&SwC2 == 0 {
		t.Fatal("expected C2 set for non-finite FSIN operand")
	}
}

func TestFldConstantTable(t *testing.T) {
	f := New()
	f.Execute(0xD9, 5, 3, false, nil) // load pi
	if got := f.St(0); math.Abs(got-math.Pi) > 1e-15 {
		t.Fatalf("expected pi, got %v", got)
	}
}

func TestFcomSetsC3OnEqual(t *testing.T) {
	f := New()
	f.Push(5.0)
	f.Push(5.0)
	f.Execute(0xD8, 2, 0, false, nil)
	if f.sw&SwC3 == 0 {
		t.Fatal("expected C3 set for equal compare")
	}
}

func TestFxamClassifiesEmptySlot(t *testing.T) {
	f := New()
	f.Execute(0xD9, 4, 5, false, nil)
	if f.sw&(SwC0|SwC3) != SwC0|SwC3 {
		t.Fatalf("expected C0|C3 for empty-slot FXAM, got 0x%04x", f.sw)
	}
}

func TestFstswAX(t *testing.T) {
	f := New()
	f.sw = 0x1234
	if f.StswAX() != 0x1234 {
		t.Fatalf("expected status word passthrough, got 0x%04x", f.StswAX())
	}
}

func TestRestoreFromWords(t *testing.T) {
	f := New()
	words := map[uint32]uint16{0: 0x0000, 2: 0x0001, 4: 0x0003}
	bits := math.Float64bits(7.5)
	for i := 0; i < 4; i++ {
		words[14+uint32(i*2)] = uint16(bits >> (uint(i) * 16))
	}
	f.RestoreFromWords(func(off uint32) uint16 { return words[off] })
	if f.ControlWord() != 0 || f.StatusWord() != 1 || f.TagWord() != 3 {
		t.Fatalf("unexpected restored control words: cw=%d sw=%d tw=%d", f.ControlWord(), f.StatusWord(), f.TagWord())
	}
	if f.Register(0) != 7.5 {
		t.Fatalf("expected restored register 7.5, got %v", f.Register(0))
	}
}
