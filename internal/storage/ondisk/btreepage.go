package ondisk

import (
	"encoding/binary"
	"fmt"
)

// PageKind identifies the four B-tree page shapes SQLite's format 4 layout
// supports, encoded as the first byte of a page's B-tree header.
type PageKind uint8

const (
	KindIndexInterior PageKind = 0x02
	KindTableInterior PageKind = 0x05
	KindIndexLeaf     PageKind = 0x0a
	KindTableLeaf     PageKind = 0x0d
)

func (k PageKind) IsLeaf() bool {
	return k == KindIndexLeaf || k == KindTableLeaf
}

func (k PageKind) IsTable() bool {
	return k == KindTableLeaf || k == KindTableInterior
}

func (k PageKind) HeaderSize() int {
	if k.IsLeaf() {
		return 8
	}
	return 12
}

// BTreePageHeader is the fixed-layout header that begins every B-tree page
// (at offset 0, or offset 100 on page 1 where it follows the database
// header).
type BTreePageHeader struct {
	Kind             PageKind
	FirstFreeblock   uint16
	NumCells         uint16
	CellContentStart uint16 // 0 means 65536
	FragmentedBytes  uint8
	RightmostPointer uint32 // interior pages only
}

// DecodeBTreePageHeader parses the B-tree header starting at b[0].
func DecodeBTreePageHeader(b []byte) (*BTreePageHeader, error) {
	if len(b) < 8 {
		return nil, fmt.Errorf("%w: page header truncated", ErrCorrupt)
	}
	kind := PageKind(b[0])
	switch kind {
	case KindIndexInterior, KindTableInterior, KindIndexLeaf, KindTableLeaf:
	default:
		return nil, fmt.Errorf("%w: bad page kind %#x", ErrCorrupt, b[0])
	}
	h := &BTreePageHeader{
		Kind:             kind,
		FirstFreeblock:   binary.BigEndian.Uint16(b[1:3]),
		NumCells:         binary.BigEndian.Uint16(b[3:5]),
		CellContentStart: binary.BigEndian.Uint16(b[5:7]),
		FragmentedBytes:  b[7],
	}
	if !kind.IsLeaf() {
		if len(b) < 12 {
			return nil, fmt.Errorf("%w: interior page header truncated", ErrCorrupt)
		}
		h.RightmostPointer = binary.BigEndian.Uint32(b[8:12])
	}
	return h, nil
}

// EncodeBTreePageHeader serializes h into b[0:h.Kind.HeaderSize()].
func EncodeBTreePageHeader(h *BTreePageHeader, b []byte) {
	b[0] = byte(h.Kind)
	binary.BigEndian.PutUint16(b[1:3], h.FirstFreeblock)
	binary.BigEndian.PutUint16(b[3:5], h.NumCells)
	binary.BigEndian.PutUint16(b[5:7], h.CellContentStart)
	b[7] = h.FragmentedBytes
	if !h.Kind.IsLeaf() {
		binary.BigEndian.PutUint32(b[8:12], h.RightmostPointer)
	}
}

// CellPointerArray reads the n big-endian u16 cell pointers immediately
// following a page header that starts at headerOffset.
func CellPointerArray(page []byte, headerOffset, headerSize int, n uint16) []uint16 {
	out := make([]uint16, n)
	off := headerOffset + headerSize
	for i := range out {
		out[i] = binary.BigEndian.Uint16(page[off+i*2:])
	}
	return out
}

// PutCellPointerArray writes ptrs back into page at the same location
// CellPointerArray reads from.
func PutCellPointerArray(page []byte, headerOffset, headerSize int, ptrs []uint16) {
	off := headerOffset + headerSize
	for i, p := range ptrs {
		binary.BigEndian.PutUint16(page[off+i*2:], p)
	}
}

// TableLeafCell is a decoded table-leaf cell: [varint payload_len] [varint
// rowid] [payload] [4-byte overflow page, if payload overflowed].
type TableLeafCell struct {
	RowID        int64
	PayloadLen   uint64
	LocalPayload []byte
	OverflowPage uint32 // 0 if payload fit entirely inline
}

// TableInteriorCell is [4-byte left child page][varint rowid].
type TableInteriorCell struct {
	LeftChild uint32
	RowID     int64
}

// MaxLocal and MinLocal compute the inline-payload thresholds SQLite uses to
// decide when a cell's payload must spill to an overflow chain, per the
// embedded/min fractions in the database header.
func MaxLocal(usable int, maxFrac uint8) int {
	return ((usable-12)*int(maxFrac))/255 - 23
}

func MinLocal(usable int, minFrac uint8) int {
	return ((usable-12)*int(minFrac))/255 - 23
}

// LocalPayloadSize computes how many bytes of a payload of length
// payloadLen are stored inline on a table-leaf cell, given the page's
// usable size and the header's embedded-payload fractions, following
// SQLite's cellSizePtr algorithm.
func LocalPayloadSize(payloadLen, usable int, maxFrac, minFrac, leafFrac uint8) int {
	// Table-leaf cells are bounded by usable-35, not by MaxLocal's fraction.
	maxLocal := usable - 35
	if payloadLen <= maxLocal {
		return payloadLen
	}
	minLocal := MinLocal(usable, minFrac)
	surplus := minLocal + (payloadLen-minLocal)%(usable-4)
	if surplus <= maxLocal {
		return surplus
	}
	return minLocal
}

// DecodeTableLeafCell decodes a table-leaf cell at b (the cell's own
// sub-slice, starting at its cell-pointer-array offset).
func DecodeTableLeafCell(b []byte, usable int, maxFrac, minFrac, leafFrac uint8) (*TableLeafCell, int, error) {
	payloadLen, n1 := GetVarint(b)
	if n1 == 0 {
		return nil, 0, fmt.Errorf("%w: bad cell payload-length varint", ErrCorrupt)
	}
	rowid, n2 := GetVarint(b[n1:])
	if n2 == 0 {
		return nil, 0, fmt.Errorf("%w: bad cell rowid varint", ErrCorrupt)
	}
	off := n1 + n2
	local := LocalPayloadSize(int(payloadLen), usable, maxFrac, minFrac, leafFrac)
	if off+local > len(b) {
		return nil, 0, fmt.Errorf("%w: cell payload extends past page", ErrCorrupt)
	}
	cell := &TableLeafCell{
		RowID:        int64(rowid),
		PayloadLen:   payloadLen,
		LocalPayload: b[off : off+local],
	}
	consumed := off + local
	if local < int(payloadLen) {
		if consumed+4 > len(b) {
			return nil, 0, fmt.Errorf("%w: missing overflow pointer", ErrCorrupt)
		}
		cell.OverflowPage = binary.BigEndian.Uint32(b[consumed:])
		consumed += 4
	}
	return cell, consumed, nil
}

// EncodeTableLeafCell serializes a rowid+payload pair into dst, spilling to
// overflow (via overflowPage, already allocated by the caller) when the
// payload doesn't fit inline. Returns the number of bytes written.
func EncodeTableLeafCell(dst []byte, rowid int64, payload []byte, usable int, maxFrac, minFrac, leafFrac uint8, overflowPage uint32) int {
	off := PutVarint(dst, uint64(len(payload)))
	off += PutVarint(dst[off:], uint64(rowid))
	local := LocalPayloadSize(len(payload), usable, maxFrac, minFrac, leafFrac)
	copy(dst[off:], payload[:local])
	off += local
	if local < len(payload) {
		binary.BigEndian.PutUint32(dst[off:], overflowPage)
		off += 4
	}
	return off
}

// DecodeTableInteriorCell decodes an interior table cell at b.
func DecodeTableInteriorCell(b []byte) (*TableInteriorCell, int, error) {
	if len(b) < 4 {
		return nil, 0, fmt.Errorf("%w: interior cell truncated", ErrCorrupt)
	}
	left := binary.BigEndian.Uint32(b[0:4])
	rowid, n := GetVarint(b[4:])
	if n == 0 {
		return nil, 0, fmt.Errorf("%w: bad interior cell rowid varint", ErrCorrupt)
	}
	return &TableInteriorCell{LeftChild: left, RowID: int64(rowid)}, 4 + n, nil
}

// EncodeTableInteriorCell serializes an interior table cell.
func EncodeTableInteriorCell(dst []byte, leftChild uint32, rowid int64) int {
	binary.BigEndian.PutUint32(dst[0:4], leftChild)
	n := PutVarint(dst[4:], uint64(rowid))
	return 4 + n
}

// OverflowPageHeaderSize is the 4-byte "next overflow page" pointer at the
// start of every overflow page; the remainder of the page is payload bytes.
const OverflowPageHeaderSize = 4

// NextOverflowPage reads the next-page pointer from an overflow page; 0
// means this is the last page in the chain.
func NextOverflowPage(b []byte) uint32 {
	return binary.BigEndian.Uint32(b[0:4])
}

func PutNextOverflowPage(b []byte, next uint32) {
	binary.BigEndian.PutUint32(b[0:4], next)
}
