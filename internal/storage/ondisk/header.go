package ondisk

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the fixed size, in bytes, of the database header that lives
// at the start of page 1.
const HeaderSize = 100

// magic is the 16-byte SQLite file-format magic string.
var magic = [16]byte{
	'S', 'Q', 'L', 'i', 't', 'e', ' ', 'f', 'o', 'r', 'm', 'a', 't', ' ', '3', 0,
}

// ErrCorrupt signals an on-disk invariant violation: bad magic, an
// out-of-range field, a checksum mismatch, or any other structural
// defect. It is the sole error kind this package returns.
var ErrCorrupt = errors.New("ondisk: corrupt")

// Header mirrors the 100-byte database header.
type Header struct {
	PageSize                 uint32 // stored on disk as u16, except 1 meaning 65536
	FileFormatWriteVersion   uint8
	FileFormatReadVersion    uint8
	ReservedSpace            uint8
	MaxEmbeddedFraction      uint8
	MinEmbeddedFraction      uint8
	LeafPayloadFraction      uint8
	FileChangeCounter        uint32
	DatabaseSize             uint32
	FreelistTrunkPage        uint32
	FreelistPages            uint32
	SchemaCookie             uint32
	SchemaFormat             uint32
	DefaultCacheSize         uint32
	VacuumModeLargestRoot    uint32
	TextEncoding             uint32
	UserVersion              uint32
	IncrementalVacuumMode    uint32
	ApplicationID            uint32
	VersionValidFor          uint32
	SQLiteVersionNumber      uint32
}

// DecodeHeader parses the first 100 bytes of page 1. It fails with
// ErrCorrupt on a bad magic or an out-of-range field.
func DecodeHeader(b []byte) (*Header, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: header truncated", ErrCorrupt)
	}
	if string(b[0:16]) != string(magic[:]) {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	h := &Header{}
	ps := binary.BigEndian.Uint16(b[16:18])
	switch {
	case ps == 1:
		h.PageSize = 65536
	case ps >= 512 && (ps&(ps-1)) == 0:
		h.PageSize = uint32(ps)
	default:
		return nil, fmt.Errorf("%w: bad page size %d", ErrCorrupt, ps)
	}
	h.FileFormatWriteVersion = b[18]
	h.FileFormatReadVersion = b[19]
	h.ReservedSpace = b[20]
	h.MaxEmbeddedFraction = b[21]
	h.MinEmbeddedFraction = b[22]
	h.LeafPayloadFraction = b[23]
	h.FileChangeCounter = binary.BigEndian.Uint32(b[24:28])
	h.DatabaseSize = binary.BigEndian.Uint32(b[28:32])
	h.FreelistTrunkPage = binary.BigEndian.Uint32(b[32:36])
	h.FreelistPages = binary.BigEndian.Uint32(b[36:40])
	h.SchemaCookie = binary.BigEndian.Uint32(b[40:44])
	h.SchemaFormat = binary.BigEndian.Uint32(b[44:48])
	h.DefaultCacheSize = binary.BigEndian.Uint32(b[48:52])
	h.VacuumModeLargestRoot = binary.BigEndian.Uint32(b[52:56])
	h.TextEncoding = binary.BigEndian.Uint32(b[56:60])
	h.UserVersion = binary.BigEndian.Uint32(b[60:64])
	h.IncrementalVacuumMode = binary.BigEndian.Uint32(b[64:68])
	h.ApplicationID = binary.BigEndian.Uint32(b[68:72])
	// bytes 72..92 reserved for expansion, must be zero; not validated here.
	h.VersionValidFor = binary.BigEndian.Uint32(b[92:96])
	h.SQLiteVersionNumber = binary.BigEndian.Uint32(b[96:100])

	if usable := int(h.PageSize) - int(h.ReservedSpace); usable < 480 {
		return nil, fmt.Errorf("%w: usable space %d below minimum", ErrCorrupt, usable)
	}
	return h, nil
}

// EncodeHeader serializes h into the first 100 bytes of dst, which must be
// at least HeaderSize long. EncodeHeader(DecodeHeader(b)) == b for every
// well-formed header.
func EncodeHeader(h *Header, dst []byte) {
	copy(dst[0:16], magic[:])
	if h.PageSize == 65536 {
		binary.BigEndian.PutUint16(dst[16:18], 1)
	} else {
		binary.BigEndian.PutUint16(dst[16:18], uint16(h.PageSize))
	}
	dst[18] = h.FileFormatWriteVersion
	dst[19] = h.FileFormatReadVersion
	dst[20] = h.ReservedSpace
	dst[21] = h.MaxEmbeddedFraction
	dst[22] = h.MinEmbeddedFraction
	dst[23] = h.LeafPayloadFraction
	binary.BigEndian.PutUint32(dst[24:28], h.FileChangeCounter)
	binary.BigEndian.PutUint32(dst[28:32], h.DatabaseSize)
	binary.BigEndian.PutUint32(dst[32:36], h.FreelistTrunkPage)
	binary.BigEndian.PutUint32(dst[36:40], h.FreelistPages)
	binary.BigEndian.PutUint32(dst[40:44], h.SchemaCookie)
	binary.BigEndian.PutUint32(dst[44:48], h.SchemaFormat)
	binary.BigEndian.PutUint32(dst[48:52], h.DefaultCacheSize)
	binary.BigEndian.PutUint32(dst[52:56], h.VacuumModeLargestRoot)
	binary.BigEndian.PutUint32(dst[56:60], h.TextEncoding)
	binary.BigEndian.PutUint32(dst[60:64], h.UserVersion)
	binary.BigEndian.PutUint32(dst[64:68], h.IncrementalVacuumMode)
	binary.BigEndian.PutUint32(dst[68:72], h.ApplicationID)
	for i := 72; i < 92; i++ {
		dst[i] = 0
	}
	binary.BigEndian.PutUint32(dst[92:96], h.VersionValidFor)
	binary.BigEndian.PutUint32(dst[96:100], h.SQLiteVersionNumber)
}

// UsableSpace returns page_size - reserved_space.
func (h *Header) UsableSpace() int {
	return int(h.PageSize) - int(h.ReservedSpace)
}

// DefaultHeader returns a freshly initialized header for a new database of
// the given page size.
func DefaultHeader(pageSize uint32) *Header {
	return &Header{
		PageSize:               pageSize,
		FileFormatWriteVersion: 1,
		FileFormatReadVersion:  1,
		MaxEmbeddedFraction:    64,
		MinEmbeddedFraction:    32,
		LeafPayloadFraction:    32,
		FileChangeCounter:      1,
		DatabaseSize:           1,
		SchemaFormat:           4,
		DefaultCacheSize:       0,
		TextEncoding:           1, // UTF-8
		VersionValidFor:        1,
		SQLiteVersionNumber:    3045000,
	}
}
