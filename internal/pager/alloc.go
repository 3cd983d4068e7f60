package pager

import (
	"log/slog"

	"github.com/tuannm99/novasql/internal/storage/ondisk"
	"github.com/tuannm99/novasql/internal/storage/page"
)

// AllocatePage prefers reclaiming a free-list page; otherwise extends
// the database by one page. Pages that double as ptrmap pages under
// auto-vacuum are skipped and the page after them allocated instead,
// since ptrmap pages are never handed out as content pages.
func (p *Pager) AllocatePage() (*page.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocatePageLocked()
}

func (p *Pager) allocatePageLocked() (*page.Page, error) {
	if p.header.FreelistPages > 0 {
		id, ok, err := p.allocateFromFreeListLocked()
		if err != nil {
			return nil, err
		}
		if ok {
			pg, err := p.readPageLocked(id)
			if err != nil {
				return nil, err
			}
			p.clearPageLocked(pg)
			p.markDirtyLocked(pg)
			slog.Debug(logPrefix+"allocate_page_from_freelist", "id", id)
			return pg, nil
		}
	}

	next := page.ID(p.header.DatabaseSize + 1)
	for p.IsPtrmapPage(uint32(next)) {
		next++
	}
	p.header.DatabaseSize = uint32(next)

	pg := page.New(next)
	buf := p.pool.Acquire()
	pg.Attach(p.pool, buf)
	pg.MarkLoaded()
	if err := p.cache.Insert(next, pg); err != nil {
		return nil, err
	}
	p.markDirtyLocked(pg)
	slog.Debug(logPrefix+"allocate_page_new", "id", next)
	return pg, nil
}

// CreateFlags selects the shape of a fresh B-tree root.
type CreateFlags struct {
	IsTable bool
}

// BtreeCreate allocates and initializes a new, empty B-tree root page,
// recording its ptrmap entry when auto-vacuum is enabled.
func (p *Pager) BtreeCreate(flags CreateFlags) (page.ID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pg, err := p.allocatePageLocked()
	if err != nil {
		return 0, err
	}

	kind := ondisk.KindTableLeaf
	if !flags.IsTable {
		kind = ondisk.KindIndexLeaf
	}
	hdrOffset := 0
	if pg.ID() == 1 {
		hdrOffset = ondisk.HeaderSize
	}
	hdr := &ondisk.BTreePageHeader{Kind: kind, CellContentStart: uint16(len(pg.Buf) - hdrOffset)}
	ondisk.EncodeBTreePageHeader(hdr, pg.Buf[hdrOffset:])
	p.markDirtyLocked(pg)

	if p.autoVacuum != AutoVacuumNone {
		if err := p.ptrmapPutLocked(uint32(pg.ID()), PtrmapRootPage, 0); err != nil {
			return 0, err
		}
	}
	slog.Debug(logPrefix+"btree_create", "root", pg.ID(), "table", flags.IsTable)
	return pg.ID(), nil
}
