package fpu

// MemoryOperand is implemented by the CPU to fetch and store the
// memory-form operands of escape opcodes. The CPU resolves the
// effective address once per instruction and hands the FPU a narrow
// accessor rather than the whole address space.
type MemoryOperand interface {
	ReadShort() int16
	WriteShort(int16)
	ReadInt() int32
	WriteInt(int32)
	ReadLong() int64
	WriteLong(int64)
	ReadFloat() float32
	WriteFloat(float32)
	ReadDouble() float64
	WriteDouble(float64)
	// Extended is the 80-bit ten-byte form, widened to/from float64.
	ReadExtended() float64
	WriteExtended(float64)
}
