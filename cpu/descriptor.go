package cpu

// SegmentCache is a segment register's decoded descriptor shadow:
// base/limit/access shadow the in-memory GDT/LDT entry so address
// translation never re-walks the descriptor table per access.
type SegmentCache struct {
	Base   uint32
	Limit  uint32
	Access uint8
	Valid  bool
}

// descriptorFromBytes decodes an 8-byte GDT/LDT descriptor (the same
// field layout the hypervisor GDT builder used for the reverse
// direction) read from guest memory into a SegmentCache. Byte 6 is
// unused on the 286: the limit is a plain 16-bit value, with no
// granularity bit or scaled extension (that's a 386+ descriptor form
// this machine doesn't implement).
func descriptorFromBytes(raw [8]byte) SegmentCache {
	limit := uint32(raw[0]) | uint32(raw[1])<<8
	baseLow := uint32(raw[2]) | uint32(raw[3])<<8
	baseMid := uint32(raw[4])
	access := raw[5]
	baseHigh := uint32(raw[7])

	base := baseLow | baseMid<<16 | baseHigh<<24
	return SegmentCache{Base: base, Limit: limit, Access: access}
}

// descriptorToBytes is the inverse of descriptorFromBytes; the tests
// use it to build descriptor tables in guest memory.
// Byte 6 is left zero, matching the 286's unused reserved byte.
func descriptorToBytes(sc SegmentCache) [8]byte {
	var raw [8]byte
	raw[0] = byte(sc.Limit)
	raw[1] = byte(sc.Limit >> 8)
	raw[2] = byte(sc.Base)
	raw[3] = byte(sc.Base >> 8)
	raw[4] = byte(sc.Base >> 16)
	raw[5] = sc.Access
	raw[7] = byte(sc.Base >> 24)
	return raw
}

// Access byte field helpers.
func accessPresent(access uint8) bool     { return access&0x80 != 0 }
func accessDPL(access uint8) uint8        { return (access >> 5) & 0x03 }
func accessIsCode(access uint8) bool      { return access&0x18 == 0x18 }
func accessIsData(access uint8) bool      { return access&0x18 == 0x10 }
func accessReadable(access uint8) bool    { return access&0x0A != 0 }
func accessWritable(access uint8) bool    { return access&0x0A != 0 }
func accessSystemType(access uint8) uint8 { return access & 0x0F }
