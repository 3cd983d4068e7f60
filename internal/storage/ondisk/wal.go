package ondisk

import (
	"encoding/binary"
	"fmt"
)

const (
	// WALHeaderSize is the size, in bytes, of the WAL file header.
	WALHeaderSize = 32
	// WALFrameHeaderSize is the size, in bytes, of a single frame header.
	WALFrameHeaderSize = 24

	// WALMagicLE and WALMagicBE tag the byte order the running checksum was
	// computed in. The host's native order is always used when writing a
	// new WAL file.
	WALMagicLE uint32 = 0x377f0682
	WALMagicBE uint32 = 0x377f0683
)

// NativeMagic returns the WAL magic value for the host's native byte order.
func NativeMagic() uint32 {
	if binary.NativeEndian.Uint16([]byte{1, 0}) == 1 {
		return WALMagicLE
	}
	return WALMagicBE
}

// IsBigEndianMagic reports whether magic indicates a big-endian-computed
// checksum chain, and whether magic is recognized at all.
func IsBigEndianMagic(magic uint32) (isBE bool, ok bool) {
	switch magic {
	case WALMagicLE:
		return false, true
	case WALMagicBE:
		return true, true
	default:
		return false, false
	}
}

// WALHeader mirrors the 32-byte WAL file header.
type WALHeader struct {
	Magic         uint32
	FileFormat    uint32
	PageSize      uint32
	CheckpointSeq uint32
	Salt1         uint32
	Salt2         uint32
	Checksum1     uint32
	Checksum2     uint32
}

// DecodeWALHeader parses the 32-byte WAL header. Fields are always stored
// big-endian regardless of which checksum byte order Magic indicates.
func DecodeWALHeader(b []byte) (*WALHeader, error) {
	if len(b) < WALHeaderSize {
		return nil, fmt.Errorf("%w: wal header truncated", ErrCorrupt)
	}
	h := &WALHeader{
		Magic:         binary.BigEndian.Uint32(b[0:4]),
		FileFormat:    binary.BigEndian.Uint32(b[4:8]),
		PageSize:      binary.BigEndian.Uint32(b[8:12]),
		CheckpointSeq: binary.BigEndian.Uint32(b[12:16]),
		Salt1:         binary.BigEndian.Uint32(b[16:20]),
		Salt2:         binary.BigEndian.Uint32(b[20:24]),
		Checksum1:     binary.BigEndian.Uint32(b[24:28]),
		Checksum2:     binary.BigEndian.Uint32(b[28:32]),
	}
	if _, ok := IsBigEndianMagic(h.Magic); !ok {
		return nil, fmt.Errorf("%w: bad wal magic %#x", ErrCorrupt, h.Magic)
	}
	return h, nil
}

// EncodeWALHeader serializes h into the first 32 bytes of dst.
func EncodeWALHeader(h *WALHeader, dst []byte) {
	binary.BigEndian.PutUint32(dst[0:4], h.Magic)
	binary.BigEndian.PutUint32(dst[4:8], h.FileFormat)
	binary.BigEndian.PutUint32(dst[8:12], h.PageSize)
	binary.BigEndian.PutUint32(dst[12:16], h.CheckpointSeq)
	binary.BigEndian.PutUint32(dst[16:20], h.Salt1)
	binary.BigEndian.PutUint32(dst[20:24], h.Salt2)
	binary.BigEndian.PutUint32(dst[24:28], h.Checksum1)
	binary.BigEndian.PutUint32(dst[28:32], h.Checksum2)
}

// WALFrameHeader mirrors the 24-byte per-frame header.
type WALFrameHeader struct {
	PageNumber       uint32
	DBSizeAfterCommit uint32 // non-zero marks this the commit frame
	Salt1            uint32
	Salt2            uint32
	Checksum1        uint32
	Checksum2        uint32
}

func DecodeWALFrameHeader(b []byte) (*WALFrameHeader, error) {
	if len(b) < WALFrameHeaderSize {
		return nil, fmt.Errorf("%w: wal frame header truncated", ErrCorrupt)
	}
	return &WALFrameHeader{
		PageNumber:        binary.BigEndian.Uint32(b[0:4]),
		DBSizeAfterCommit: binary.BigEndian.Uint32(b[4:8]),
		Salt1:             binary.BigEndian.Uint32(b[8:12]),
		Salt2:             binary.BigEndian.Uint32(b[12:16]),
		Checksum1:         binary.BigEndian.Uint32(b[16:20]),
		Checksum2:         binary.BigEndian.Uint32(b[20:24]),
	}, nil
}

func EncodeWALFrameHeader(h *WALFrameHeader, dst []byte) {
	binary.BigEndian.PutUint32(dst[0:4], h.PageNumber)
	binary.BigEndian.PutUint32(dst[4:8], h.DBSizeAfterCommit)
	binary.BigEndian.PutUint32(dst[8:12], h.Salt1)
	binary.BigEndian.PutUint32(dst[12:16], h.Salt2)
	binary.BigEndian.PutUint32(dst[16:20], h.Checksum1)
	binary.BigEndian.PutUint32(dst[20:24], h.Checksum2)
}

// ChecksumWAL computes SQLite's running Fibonacci-style checksum over data,
// seeded by (s0, s1), treating data as a sequence of 32-bit words in the
// byte order indicated by bigEndian. data's length must be a multiple of 8
// bytes (two words at a time). The result is the new (s0, s1) pair, carried
// forward to the next frame (or returned as the header's own checksum when
// checksumming the WAL header itself).
func ChecksumWAL(data []byte, s0, s1 uint32, bigEndian bool) (uint32, uint32) {
	get := binary.BigEndian.Uint32
	if !bigEndian {
		get = binary.LittleEndian.Uint32
	}
	for i := 0; i+8 <= len(data); i += 8 {
		s0 += get(data[i:]) + s1
		s1 += get(data[i+4:]) + s0
	}
	return s0, s1
}
