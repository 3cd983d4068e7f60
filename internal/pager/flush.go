package pager

import (
	"fmt"
	"log/slog"

	"go.uber.org/multierr"

	"github.com/tuannm99/novasql/internal/storage/ondisk"
	"github.com/tuannm99/novasql/internal/storage/page"
	"github.com/tuannm99/novasql/internal/wal"
)

// FlushResult is the outcome of a CacheFlush call, naming every phase of
// the dirty-page-to-WAL-to-checkpoint pipeline. In this synchronous port
// the whole pipeline always runs to completion in one call (see
// DESIGN.md); FlushResult still names every phase so callers and logs can
// report exactly where a flush is without collapsing them into one
// opaque "done".
type FlushResult int

const (
	FlushNone FlushResult = iota
	FlushStart
	FlushSyncWal
	FlushCheckpointed
	FlushDone
)

// CacheFlush appends every dirty page as a WAL frame (the last one
// carrying the post-commit database size), syncs the WAL, bumps the file
// change counter, and -- if the WAL has grown past its checkpoint
// threshold -- runs a checkpoint and syncs the database file.
func (p *Pager) CacheFlush() (FlushResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.dirty) == 0 {
		return FlushNone, nil
	}

	ids := make([]page.ID, 0, len(p.dirty))
	for id := range p.dirty {
		ids = append(ids, id)
	}
	sortPageIDs(ids)

	p.header.FileChangeCounter++
	p.header.VersionValidFor = p.header.FileChangeCounter

	slog.Debug(logPrefix+"flush_start", "dirty_pages", len(ids))
	for i, id := range ids {
		pg, ok := p.cache.Get(id)
		if !ok {
			return FlushStart, fmt.Errorf("pager: dirty page %d missing from cache", id)
		}
		dbSize := uint32(0)
		if i == len(ids)-1 {
			dbSize = p.header.DatabaseSize
		}
		if err := p.wal.AppendFrame(uint32(id), pg.Buf, dbSize); err != nil {
			return FlushStart, err
		}
	}

	if err := p.wal.Sync(); err != nil {
		return FlushSyncWal, err
	}
	p.cache.UnsetDirtyAll()
	p.dirty = make(map[page.ID]struct{})

	if !p.wal.ShouldCheckpoint() {
		return FlushDone, nil
	}

	for {
		status, err := p.wal.Checkpoint(p)
		if err != nil {
			return FlushCheckpointed, err
		}
		if status == wal.CheckpointDone {
			break
		}
	}
	return FlushDone, nil
}

// WriteDBPage implements wal.PageWriter: checkpoint backfill writes
// directly to the database file, bypassing the page cache.
func (p *Pager) WriteDBPage(pageNo uint32, data []byte) error {
	off := int64(pageNo-1) * int64(p.pageSize)
	_, err := p.file.WriteAt(data, off)
	return err
}

// SyncDB implements wal.PageWriter: fsync the database file and persist
// the header (file change counter bump from the flush that triggered this
// checkpoint).
func (p *Pager) SyncDB() error {
	buf := make([]byte, ondisk.HeaderSize)
	ondisk.EncodeHeader(p.header, buf)
	if _, err := p.file.WriteAt(buf, 0); err != nil {
		return err
	}
	return multierr.Combine(p.file.Sync())
}

func sortPageIDs(ids []page.ID) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}
