package vdbe

import (
	"fmt"
	"math"

	"github.com/tuannm99/novasql/internal/storage/ondisk"
)

// Record encoding follows SQLite's record format: a varint header length,
// one varint "serial type" per column, then the column values back to
// back. Serial types used here: 0=NULL, 6=8-byte big-endian signed 64-bit
// integer (this port always uses the widest integer encoding rather than
// SQLite's 1/2/3/4/6/8-byte minimal encodings -- a deliberate
// simplification, since on-disk compatibility matters at the page/WAL
// format level here, not minimal integer packing), 7=big-endian float64,
// n>=13 odd=TEXT of length (n-13)/2, n>=12 even=BLOB of length (n-12)/2.
const (
	serialNull    = 0
	serialInteger = 6
	serialFloat   = 7
)

// EncodeRecord serializes values into a SQLite-style record payload.
func EncodeRecord(values []Value) []byte {
	serials := make([]uint64, len(values))
	bodies := make([][]byte, len(values))
	for i, v := range values {
		switch v.Kind {
		case KindNull:
			serials[i] = serialNull
		case KindInteger:
			serials[i] = serialInteger
			b := make([]byte, 8)
			putInt64(b, v.Integer)
			bodies[i] = b
		case KindFloat:
			serials[i] = serialFloat
			b := make([]byte, 8)
			putFloat64(b, v.Float)
			bodies[i] = b
		case KindText:
			b := []byte(v.Text)
			serials[i] = uint64(len(b)*2 + 13)
			bodies[i] = b
		case KindBlob:
			serials[i] = uint64(len(v.Blob)*2 + 12)
			bodies[i] = v.Blob
		default:
			serials[i] = serialNull
		}
	}

	headerBody := make([]byte, 0, len(values)*2)
	for _, s := range serials {
		tmp := make([]byte, 9)
		n := ondisk.PutVarint(tmp, s)
		headerBody = append(headerBody, tmp[:n]...)
	}

	// headerLen includes its own varint encoding, a fixed point: start from
	// a guess and grow until the varint length of headerLen stops changing.
	headerLen := len(headerBody) + 1
	for {
		need := ondisk.VarintLen(uint64(headerLen)) + len(headerBody)
		if need == headerLen {
			break
		}
		headerLen = need
	}
	out := make([]byte, 0, headerLen+len(headerBody))
	hlTmp := make([]byte, 9)
	hn := ondisk.PutVarint(hlTmp, uint64(headerLen))
	out = append(out, hlTmp[:hn]...)
	out = append(out, headerBody...)
	for _, b := range bodies {
		out = append(out, b...)
	}
	return out
}

// DecodeRecord parses a SQLite-style record payload back into Values.
func DecodeRecord(b []byte) ([]Value, error) {
	headerLen, n := ondisk.GetVarint(b)
	if n == 0 {
		return nil, fmt.Errorf("vdbe: bad record header-length varint")
	}
	if int(headerLen) > len(b) {
		return nil, fmt.Errorf("vdbe: record header length exceeds payload")
	}
	var serials []uint64
	pos := n
	for pos < int(headerLen) {
		s, sn := ondisk.GetVarint(b[pos:])
		if sn == 0 {
			return nil, fmt.Errorf("vdbe: bad record serial-type varint")
		}
		serials = append(serials, s)
		pos += sn
	}

	values := make([]Value, len(serials))
	dataPos := int(headerLen)
	for i, s := range serials {
		switch {
		case s == serialNull:
			values[i] = NullValue()
		case s == serialInteger:
			if dataPos+8 > len(b) {
				return nil, fmt.Errorf("vdbe: record integer truncated")
			}
			values[i] = IntegerValue(getInt64(b[dataPos:]))
			dataPos += 8
		case s == serialFloat:
			if dataPos+8 > len(b) {
				return nil, fmt.Errorf("vdbe: record float truncated")
			}
			values[i] = FloatValue(getFloat64(b[dataPos:]))
			dataPos += 8
		case s >= 13 && s%2 == 1:
			length := int((s - 13) / 2)
			if dataPos+length > len(b) {
				return nil, fmt.Errorf("vdbe: record text truncated")
			}
			values[i] = TextValue(string(b[dataPos : dataPos+length]))
			dataPos += length
		case s >= 12 && s%2 == 0:
			length := int((s - 12) / 2)
			if dataPos+length > len(b) {
				return nil, fmt.Errorf("vdbe: record blob truncated")
			}
			blob := make([]byte, length)
			copy(blob, b[dataPos:dataPos+length])
			values[i] = BlobValue(blob)
			dataPos += length
		default:
			return nil, fmt.Errorf("vdbe: unsupported serial type %d", s)
		}
	}
	return values, nil
}

func putInt64(b []byte, v int64) {
	u := uint64(v)
	for i := 0; i < 8; i++ {
		b[7-i] = byte(u >> (8 * i))
	}
}

func getInt64(b []byte) int64 {
	var u uint64
	for i := 0; i < 8; i++ {
		u = u<<8 | uint64(b[i])
	}
	return int64(u)
}

func putFloat64(b []byte, f float64) {
	bits := math.Float64bits(f)
	for i := 0; i < 8; i++ {
		b[7-i] = byte(bits >> (8 * i))
	}
}

func getFloat64(b []byte) float64 {
	var bits uint64
	for i := 0; i < 8; i++ {
		bits = bits<<8 | uint64(b[i])
	}
	return math.Float64frombits(bits)
}
