package vdbe

import (
	"errors"
	"fmt"

	"github.com/tuannm99/novasql/internal/pager"
	"github.com/tuannm99/novasql/internal/storage/ondisk"
	"github.com/tuannm99/novasql/internal/storage/page"
)

// CursorType names what a cursor is positioned over.
type CursorType int

const (
	CursorBTreeTable CursorType = iota
	CursorBTreeIndex
	CursorPseudo
	CursorSorter
	CursorVirtualTable
)

// CursorResult is the {Ok, IO} contract at the cursor-operation boundary,
// letting the interpreter translate a page fault into StepResult::IO
// without advancing the program counter.
type CursorResult int

const (
	CursorOK CursorResult = iota
	CursorIO
)

var ErrCursorEOF = errors.New("vdbe: cursor past end")

type leafCell struct {
	rowid   int64
	payload []byte // full logical payload (no overflow support, see doc below)
}

// Cursor is one VM-level cursor: a positioned iterator over a single
// B-tree table leaf page. Multi-level interior-page traversal, page
// splitting and overflow chains belong to an external B-tree collaborator
// reached only through this interface -- this cursor walks the single
// root leaf a small table occupies, which is enough to exercise every
// opcode contract end to end against a real Pager and WAL.
type Cursor struct {
	ID       int
	Type     CursorType
	RootPage page.ID
	ReadOnly bool

	pager *pager.Pager

	cellIndex int
	cells     []leafCell
	nullRow   bool
	loaded    bool

	// deferred seek support, driven by OpDeferredSeek: the table-cursor
	// seek is postponed until a table column is actually read.
	deferredRowID *int64
}

// NewCursor opens a cursor over rootPage.
func NewCursor(id int, typ CursorType, root page.ID, p *pager.Pager, readOnly bool) *Cursor {
	return &Cursor{ID: id, Type: typ, RootPage: root, pager: p, ReadOnly: readOnly, cellIndex: -1}
}

func (c *Cursor) fractions() (usable int, maxFrac, minFrac, leafFrac uint8) {
	h := c.pager.Header()
	return c.pager.UsableSpace(), uint8(h.MaxEmbeddedFraction), uint8(h.MinEmbeddedFraction), uint8(h.LeafPayloadFraction)
}

func (c *Cursor) headerOffset() int {
	if c.RootPage == 1 {
		return ondisk.HeaderSize
	}
	return 0
}

func (c *Cursor) loadLeaf() (CursorResult, error) {
	if c.loaded {
		return CursorOK, nil
	}
	pg, err := c.pager.ReadPage(c.RootPage)
	if err != nil {
		if errors.Is(err, pager.ErrCacheFull) {
			return CursorIO, nil
		}
		return CursorOK, err
	}
	hdrOffset := c.headerOffset()
	hdr, err := ondisk.DecodeBTreePageHeader(pg.Buf[hdrOffset:])
	if err != nil {
		return CursorOK, err
	}
	usable, maxFrac, minFrac, leafFrac := c.fractions()
	ptrs := ondisk.CellPointerArray(pg.Buf, hdrOffset, hdr.Kind.HeaderSize(), hdr.NumCells)
	cells := make([]leafCell, 0, len(ptrs))
	for _, off := range ptrs {
		cell, _, err := ondisk.DecodeTableLeafCell(pg.Buf[off:], usable, maxFrac, minFrac, leafFrac)
		if err != nil {
			return CursorOK, err
		}
		if cell.OverflowPage != 0 {
			return CursorOK, fmt.Errorf("vdbe: overflow payloads are not supported by this cursor")
		}
		payload := make([]byte, len(cell.LocalPayload))
		copy(payload, cell.LocalPayload)
		cells = append(cells, leafCell{rowid: cell.RowID, payload: payload})
	}
	c.cells = cells
	c.loaded = true
	return CursorOK, nil
}

// Rewind positions the cursor at the first row, driven by OpRewind.
func (c *Cursor) Rewind() (CursorResult, bool, error) {
	if res, err := c.loadLeaf(); res != CursorOK || err != nil {
		return res, false, err
	}
	if len(c.cells) == 0 {
		c.cellIndex = -1
		return CursorOK, true, nil // empty
	}
	c.cellIndex = 0
	return CursorOK, false, nil
}

// Last positions the cursor at the final row.
func (c *Cursor) Last() (CursorResult, bool, error) {
	if res, err := c.loadLeaf(); res != CursorOK || err != nil {
		return res, false, err
	}
	if len(c.cells) == 0 {
		c.cellIndex = -1
		return CursorOK, true, nil
	}
	c.cellIndex = len(c.cells) - 1
	return CursorOK, false, nil
}

func (c *Cursor) Next() (CursorResult, bool, error) {
	if res, err := c.loadLeaf(); res != CursorOK || err != nil {
		return res, false, err
	}
	c.cellIndex++
	if c.cellIndex >= len(c.cells) {
		return CursorOK, true, nil
	}
	return CursorOK, false, nil
}

func (c *Cursor) Prev() (CursorResult, bool, error) {
	if res, err := c.loadLeaf(); res != CursorOK || err != nil {
		return res, false, err
	}
	c.cellIndex--
	if c.cellIndex < 0 {
		return CursorOK, true, nil
	}
	return CursorOK, false, nil
}

// SeekRowid positions the cursor at the row with the given rowid, or
// reports EOF if no exact match exists (the B-tree's binary-search seek
// collapses to a linear scan at this single-leaf scope).
func (c *Cursor) SeekRowid(rowid int64) (CursorResult, bool, error) {
	if res, err := c.loadLeaf(); res != CursorOK || err != nil {
		return res, false, err
	}
	for i, cell := range c.cells {
		if cell.rowid == rowid {
			c.cellIndex = i
			return CursorOK, false, nil
		}
	}
	c.cellIndex = -1
	return CursorOK, true, nil
}

// DeferredSeek records that idxCur found a match and tblCur's seek should
// happen lazily, the first time a table column is actually read.
func (c *Cursor) DeferredSeek(from *Cursor, rowid int64) {
	_ = from
	c.deferredRowID = &rowid
}

func (c *Cursor) resolveDeferred() error {
	if c.deferredRowID == nil {
		return nil
	}
	rowid := *c.deferredRowID
	c.deferredRowID = nil
	_, eof, err := c.SeekRowid(rowid)
	if err != nil {
		return err
	}
	if eof {
		return fmt.Errorf("vdbe: deferred seek target rowid %d missing", rowid)
	}
	return nil
}

// NullRow sets the cursor to the "all NULL" state used for LEFT JOIN fill,
// driven by OpNullRow.
func (c *Cursor) NullRow() {
	c.nullRow = true
	c.cellIndex = -1
}

func (c *Cursor) current() (*leafCell, error) {
	if err := c.resolveDeferred(); err != nil {
		return nil, err
	}
	if c.nullRow {
		return nil, nil
	}
	if c.cellIndex < 0 || c.cellIndex >= len(c.cells) {
		return nil, ErrCursorEOF
	}
	return &c.cells[c.cellIndex], nil
}

// RowID returns the current row's integer key.
func (c *Cursor) RowID() (int64, error) {
	cell, err := c.current()
	if err != nil {
		return 0, err
	}
	if cell == nil {
		return 0, nil
	}
	return cell.rowid, nil
}

// Column decodes column idx of the current row's record, driven by
// OpColumn; respects the NullRow flag.
func (c *Cursor) Column(idx int) (Value, error) {
	cell, err := c.current()
	if err != nil {
		return Value{}, err
	}
	if cell == nil {
		return NullValue(), nil
	}
	rec, err := DecodeRecord(cell.payload)
	if err != nil {
		return Value{}, err
	}
	if idx < 0 || idx >= len(rec) {
		return NullValue(), nil
	}
	return rec[idx], nil
}

// Insert writes a new row (rowid, columns) into the cursor's leaf page,
// driven by OpInsert. Returns an error if the row would overflow the
// page's free space -- splitting a full leaf into two is out of scope
// (see the package doc comment above).
func (c *Cursor) Insert(rowid int64, values []Value) error {
	if res, err := c.loadLeaf(); res != CursorOK || err != nil {
		if err != nil {
			return err
		}
		return fmt.Errorf("vdbe: insert requires a loaded page")
	}
	payload := EncodeRecord(values)
	usable, maxFrac, minFrac, leafFrac := c.fractions()
	if ondisk.LocalPayloadSize(len(payload), usable, maxFrac, minFrac, leafFrac) != len(payload) {
		return fmt.Errorf("vdbe: overflow payloads are not supported by this cursor")
	}

	cell := leafCell{rowid: rowid, payload: payload}
	replaced := false
	for i, existing := range c.cells {
		if existing.rowid == rowid {
			c.cells[i] = cell
			replaced = true
			break
		}
	}
	if !replaced {
		c.cells = append(c.cells, cell)
		for i := len(c.cells) - 1; i > 0 && c.cells[i-1].rowid > c.cells[i].rowid; i-- {
			c.cells[i-1], c.cells[i] = c.cells[i], c.cells[i-1]
		}
	}
	return c.writeLeaf()
}

// Delete removes the row currently positioned on, driven by OpDelete.
func (c *Cursor) Delete() error {
	if c.cellIndex < 0 || c.cellIndex >= len(c.cells) {
		return ErrCursorEOF
	}
	c.cells = append(c.cells[:c.cellIndex], c.cells[c.cellIndex+1:]...)
	return c.writeLeaf()
}

// writeLeaf re-serializes every cell back into the root page in rowid
// order and marks the page dirty. The lack of overflow/split handling
// means this only works while the page has room -- acceptable for a
// cursor whose job is to exercise the opcode contract, not to be a
// production B-tree.
func (c *Cursor) writeLeaf() error {
	pg, err := c.pager.ReadPage(c.RootPage)
	if err != nil {
		return err
	}
	hdrOffset := c.headerOffset()
	usable, maxFrac, minFrac, leafFrac := c.fractions()
	hdr := &ondisk.BTreePageHeader{Kind: ondisk.KindTableLeaf, NumCells: uint16(len(c.cells))}

	cellAreaStart := hdrOffset + hdr.Kind.HeaderSize() + len(c.cells)*2
	cursor := hdrOffset + usable
	ptrs := make([]uint16, len(c.cells))
	scratch := make([]byte, usable)
	for i, cell := range c.cells {
		n := ondisk.EncodeTableLeafCell(scratch, cell.rowid, cell.payload, usable, maxFrac, minFrac, leafFrac, 0)
		cursor -= n
		if cursor < cellAreaStart {
			return fmt.Errorf("vdbe: leaf page %d full, splitting is not supported", c.RootPage)
		}
		copy(pg.Buf[cursor:], scratch[:n])
		ptrs[i] = uint16(cursor - hdrOffset)
	}
	hdr.CellContentStart = uint16(cursor - hdrOffset)
	if hdr.CellContentStart == 0 {
		hdr.CellContentStart = uint16(usable)
	}
	ondisk.EncodeBTreePageHeader(hdr, pg.Buf[hdrOffset:])
	ondisk.PutCellPointerArray(pg.Buf, hdrOffset, hdr.Kind.HeaderSize(), ptrs)

	c.pager.MarkDirty(pg)
	return nil
}

// CursorTable is the interpreter's CursorID -> *Cursor registry.
type CursorTable struct {
	cursors map[int]*Cursor
	next    int
}

func NewCursorTable() *CursorTable {
	return &CursorTable{cursors: make(map[int]*Cursor)}
}

func (t *CursorTable) Open(typ CursorType, root page.ID, p *pager.Pager, readOnly bool) *Cursor {
	id := t.next
	t.next++
	c := NewCursor(id, typ, root, p, readOnly)
	t.cursors[id] = c
	return c
}

func (t *CursorTable) Get(id int) (*Cursor, bool) {
	c, ok := t.cursors[id]
	return c, ok
}

func (t *CursorTable) Close(id int) {
	delete(t.cursors, id)
}
