package pager

import (
	"encoding/binary"

	"github.com/tuannm99/novasql/internal/storage/page"
)

// Free-list pages come in two shapes: a trunk page whose body is
// [next_trunk_u32][count_u32][leaf_page_u32 * count], and leaf pages that
// carry no structure at all -- they are just reserved, unused pages.
const (
	trunkNextOffset  = 0
	trunkCountOffset = 4
	trunkLeavesStart = 8
)

func (p *Pager) trunkCapacity() int {
	return (p.UsableSpace() - trunkLeavesStart) / 4
}

// FreePage returns id to the free list: appended as a leaf to the
// current trunk if it has room, otherwise id itself becomes the new
// trunk page.
func (p *Pager) FreePage(id page.ID) error {
	if id <= 1 {
		return ErrInvalidPage
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if uint32(id) > p.header.DatabaseSize {
		return ErrInvalidPage
	}

	pg, err := p.readPageLocked(id)
	if err != nil {
		return err
	}

	if p.header.FreelistTrunkPage != 0 {
		trunk, err := p.readPageLocked(page.ID(p.header.FreelistTrunkPage))
		if err != nil {
			return err
		}
		count := int(binary.BigEndian.Uint32(trunk.Buf[trunkCountOffset:]))
		if count < p.trunkCapacity() {
			binary.BigEndian.PutUint32(trunk.Buf[trunkLeavesStart+count*4:], uint32(id))
			binary.BigEndian.PutUint32(trunk.Buf[trunkCountOffset:], uint32(count+1))
			p.markDirtyLocked(trunk)
			p.clearPageLocked(pg)
			p.markDirtyLocked(pg)
			p.header.FreelistPages++
			return nil
		}
	}

	// id becomes the new trunk, pointing at the previous one.
	for i := range pg.Buf {
		pg.Buf[i] = 0
	}
	binary.BigEndian.PutUint32(pg.Buf[trunkNextOffset:], p.header.FreelistTrunkPage)
	binary.BigEndian.PutUint32(pg.Buf[trunkCountOffset:], 0)
	p.markDirtyLocked(pg)
	p.header.FreelistTrunkPage = uint32(id)
	p.header.FreelistPages++
	return nil
}

// allocateFromFreeList pops one page off the free list, preferring the
// trunk's trailing leaf (cheapest: no trunk rewrite needed beyond the
// count) and falling back to consuming the trunk page itself when it has
// no leaves left.
func (p *Pager) allocateFromFreeListLocked() (page.ID, bool, error) {
	if p.header.FreelistTrunkPage == 0 {
		return 0, false, nil
	}
	trunkID := page.ID(p.header.FreelistTrunkPage)
	trunk, err := p.readPageLocked(trunkID)
	if err != nil {
		return 0, false, err
	}
	count := int(binary.BigEndian.Uint32(trunk.Buf[trunkCountOffset:]))
	if count > 0 {
		leaf := binary.BigEndian.Uint32(trunk.Buf[trunkLeavesStart+(count-1)*4:])
		binary.BigEndian.PutUint32(trunk.Buf[trunkCountOffset:], uint32(count-1))
		p.markDirtyLocked(trunk)
		p.header.FreelistPages--
		return page.ID(leaf), true, nil
	}
	next := binary.BigEndian.Uint32(trunk.Buf[trunkNextOffset:])
	p.header.FreelistTrunkPage = next
	p.header.FreelistPages--
	return trunkID, true, nil
}

func (p *Pager) clearPageLocked(pg *page.Page) {
	for i := range pg.Buf {
		pg.Buf[i] = 0
	}
}

func (p *Pager) markDirtyLocked(pg *page.Page) {
	pg.SetDirty()
	p.dirty[pg.ID()] = struct{}{}
}
