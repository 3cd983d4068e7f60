package pager

import (
	"encoding/binary"
	"fmt"

	"github.com/tuannm99/novasql/internal/storage/page"
)

// PtrmapType is the kind of back-pointer recorded for a page under
// auto-vacuum.
type PtrmapType uint8

const (
	PtrmapRootPage PtrmapType = iota + 1
	PtrmapFreePage
	PtrmapOverflow1
	PtrmapOverflow2
	PtrmapBTree
)

// ptrmapEntrySize is 1 type byte + 4 parent-page-number bytes.
const ptrmapEntrySize = 5

// PtrmapEntry is one pointer-map record.
type PtrmapEntry struct {
	Type   PtrmapType
	Parent uint32
}

// entriesPerPtrmapPage mirrors sqlite's PTRMAP logic: the usable bytes of
// a ptrmap page are packed with 5-byte entries.
func (p *Pager) entriesPerPtrmapPage() int {
	return p.UsableSpace() / ptrmapEntrySize
}

// ptrmapPageNo returns the page number of the ptrmap page that would
// record pgno's back-pointer, following sqlite's layout: page 1 is the
// header, page 2 is the first ptrmap page, then entriesPerPtrmapPage
// regular pages, then another ptrmap page, and so on.
func (p *Pager) ptrmapPageNo(pgno uint32) uint32 {
	perPage := uint32(p.entriesPerPtrmapPage())
	if pgno <= 2 {
		return 2
	}
	cycle := perPage + 1
	offsetIntoCycle := (pgno - 2) % cycle
	cycleStart := pgno - offsetIntoCycle
	if offsetIntoCycle == 0 {
		return pgno
	}
	return cycleStart
}

// IsPtrmapPage reports whether pgno is itself a ptrmap page (and therefore
// must never be allocated as a content page).
func (p *Pager) IsPtrmapPage(pgno uint32) bool {
	return p.autoVacuum != AutoVacuumNone && p.ptrmapPageNo(pgno) == pgno
}

// PtrmapPut records pgno's back-pointer. A no-op outside auto-vacuum
// mode.
func (p *Pager) PtrmapPut(pgno uint32, typ PtrmapType, parent uint32) error {
	if p.autoVacuum == AutoVacuumNone {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ptrmapPutLocked(pgno, typ, parent)
}

func (p *Pager) ptrmapPutLocked(pgno uint32, typ PtrmapType, parent uint32) error {
	mapPage := p.ptrmapPageNo(pgno)
	pg, err := p.readPageLocked(page.ID(mapPage))
	if err != nil {
		return err
	}
	perPage := uint32(p.entriesPerPtrmapPage())
	cycle := perPage + 1
	idx := (pgno - mapPage - 1) % cycle
	off := int(idx) * ptrmapEntrySize
	if off+ptrmapEntrySize > len(pg.Buf) {
		return fmt.Errorf("pager: ptrmap offset out of range for page %d", pgno)
	}
	pg.Buf[off] = byte(typ)
	binary.BigEndian.PutUint32(pg.Buf[off+1:], parent)
	p.markDirtyLocked(pg)
	return nil
}

// PtrmapGet reads back pgno's pointer-map entry. A cache miss on the
// ptrmap page itself collapses into the same ReadPage call that every
// other page load uses in this synchronous port (see DESIGN.md), so
// PtrmapGet never itself blocks on anything the caller must drive.
func (p *Pager) PtrmapGet(pgno uint32) (*PtrmapEntry, error) {
	if p.autoVacuum == AutoVacuumNone {
		return nil, fmt.Errorf("pager: ptrmap disabled (auto_vacuum=NONE)")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	mapPage := p.ptrmapPageNo(pgno)
	pg, err := p.readPageLocked(page.ID(mapPage))
	if err != nil {
		return nil, err
	}
	perPage := uint32(p.entriesPerPtrmapPage())
	cycle := perPage + 1
	idx := (pgno - mapPage - 1) % cycle
	off := int(idx) * ptrmapEntrySize
	if off+ptrmapEntrySize > len(pg.Buf) {
		return nil, fmt.Errorf("pager: ptrmap offset out of range for page %d", pgno)
	}
	return &PtrmapEntry{Type: PtrmapType(pg.Buf[off]), Parent: binary.BigEndian.Uint32(pg.Buf[off+1:])}, nil
}
