package ondisk

// PutVarint encodes v as a SQLite variable-length integer into dst (which
// must have at least 9 bytes of room) and returns the number of bytes
// written. SQLite varints are big-endian base-128: each of the first 8
// output bytes uses its high bit as a continuation marker; if 56 bits
// weren't enough a 9th byte carries the remaining 8 bits unencoded.
func PutVarint(dst []byte, v uint64) int {
	if v <= 0x7f {
		dst[0] = byte(v)
		return 1
	}
	if v&(uint64(0xff)<<56) != 0 {
		// 9-byte case: the low 8 bits go out raw in the last byte, not
		// chunked into 7-bit groups, so the remaining 56 bits always split
		// evenly into exactly 8 continuation-marked groups.
		last := byte(v)
		v >>= 8
		for i := 7; i >= 0; i-- {
			dst[i] = byte(v&0x7f) | 0x80
			v >>= 7
		}
		dst[8] = last
		return 9
	}
	var tmp [9]byte
	n := 0
	for {
		tmp[n] = byte(v&0x7f) | 0x80
		v >>= 7
		n++
		if v == 0 {
			break
		}
	}
	tmp[0] &= 0x7f // least-significant chunk ends the encoding, no continuation bit
	for i, j := 0, n-1; j >= 0; i, j = i+1, j-1 {
		dst[i] = tmp[j]
	}
	return n
}

// GetVarint decodes a SQLite varint from the front of src and returns the
// value and the number of bytes consumed (1..9).
func GetVarint(src []byte) (uint64, int) {
	var v uint64
	for i := 0; i < 8 && i < len(src); i++ {
		b := src[i]
		v = (v << 7) | uint64(b&0x7f)
		if b&0x80 == 0 {
			return v, i + 1
		}
	}
	if len(src) > 8 {
		v = (v << 8) | uint64(src[8])
		return v, 9
	}
	return v, len(src)
}

// VarintLen returns the number of bytes PutVarint would write for v.
func VarintLen(v uint64) int {
	var buf [9]byte
	return PutVarint(buf[:], v)
}
