// Package pager is the single owner of database-file I/O and the dirty
// page set: the transactional page cache, flush pipeline, free-list and
// pointer-map manager. B-tree code and the VDBE cursor layer call the
// Pager; they never touch the file or the cache directly.
package pager

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/tuannm99/novasql/internal/storage/ondisk"
	"github.com/tuannm99/novasql/internal/storage/page"
	"github.com/tuannm99/novasql/internal/storage/pagecache"
	"github.com/tuannm99/novasql/internal/wal"
)

const logPrefix = "pager: "

// TxState is the per-connection transaction state.
type TxState int

const (
	TxNone TxState = iota
	TxRead
	TxWrite
)

// AutoVacuumMode selects whether the pointer-map is kept: under
// AutoVacuumFull, BtreeCreate records root entries and page allocation
// skips ptrmap pages. FreePage does not touch the pointer-map.
type AutoVacuumMode int

const (
	AutoVacuumNone AutoVacuumMode = iota
	AutoVacuumFull
	AutoVacuumIncremental // declared, rejected at Open -- not yet implemented
)

var (
	// ErrCacheFull means every cache entry is pinned (LOCKED) or DIRTY. The
	// caller's contract is to drive a flush (CacheFlush, which clears DIRTY
	// pages) and retry -- never to spin silently.
	ErrCacheFull = errors.New("pager: cache full")
	// ErrCorrupt wraps ondisk.ErrCorrupt at the pager boundary.
	ErrCorrupt = ondisk.ErrCorrupt
	// ErrBusy surfaces a WAL lock contention failure; the caller retries.
	ErrBusy = errors.New("pager: busy")
	// ErrIncrementalVacuumUnsupported rejects enabling incremental
	// auto-vacuum, left unimplemented (see DESIGN.md).
	ErrIncrementalVacuumUnsupported = errors.New("pager: incremental auto-vacuum is not implemented")
	// ErrInvalidPage is Corrupt-adjacent: an out-of-range page id was named
	// by a caller (e.g. free_page on page 1).
	ErrInvalidPage = errors.New("pager: invalid page id")
)

// Config configures a freshly opened Pager.
type Config struct {
	PageSize            int
	CacheCapacity       int
	CheckpointThreshold int
	AutoVacuum          AutoVacuumMode
}

func (c Config) withDefaults() Config {
	if c.PageSize == 0 {
		c.PageSize = 4096
	}
	if c.CacheCapacity == 0 {
		c.CacheCapacity = 2000
	}
	if c.CheckpointThreshold == 0 {
		c.CheckpointThreshold = 1000
	}
	return c
}

// Pager owns the database file, the page cache, the dirty set and the WAL
// handle for a single connection.
type Pager struct {
	mu sync.Mutex

	file     *os.File
	path     string
	pageSize int

	header *ondisk.Header
	cache  *pagecache.Cache
	pool   *page.BufferPool
	wal    *wal.Wal

	dirty      map[page.ID]struct{}
	txState    TxState
	autoVacuum AutoVacuumMode
}

// Open combines what would otherwise be separate begin-open/finish-open
// steps into one call: Go's os.File I/O is synchronous, so there is no
// intervening suspension point between reading the header and finishing
// initialization (see DESIGN.md).
func Open(path string, cfg Config) (*Pager, error) {
	cfg = cfg.withDefaults()
	if cfg.AutoVacuum == AutoVacuumIncremental {
		return nil, ErrIncrementalVacuumUnsupported
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("pager: open %s: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("pager: stat %s: %w", path, err)
	}

	var header *ondisk.Header
	if fi.Size() == 0 {
		header = ondisk.DefaultHeader(uint32(cfg.PageSize))
		buf := make([]byte, cfg.PageSize)
		ondisk.EncodeHeader(header, buf)
		if _, err := f.WriteAt(buf, 0); err != nil {
			return nil, fmt.Errorf("pager: write header: %w", err)
		}
	} else {
		buf := make([]byte, ondisk.HeaderSize)
		if _, err := f.ReadAt(buf, 0); err != nil {
			return nil, fmt.Errorf("pager: read header: %w", err)
		}
		header, err = ondisk.DecodeHeader(buf)
		if err != nil {
			return nil, err
		}
		cfg.PageSize = int(header.PageSize)
	}

	shared, err := wal.OpenShared(path+"-wal", cfg.PageSize)
	if err != nil {
		return nil, err
	}

	p := &Pager{
		file:       f,
		path:       path,
		pageSize:   cfg.PageSize,
		header:     header,
		cache:      pagecache.New(cfg.CacheCapacity),
		pool:       page.NewBufferPool(cfg.PageSize),
		wal:        wal.Open(shared, cfg.CheckpointThreshold),
		dirty:      make(map[page.ID]struct{}),
		autoVacuum: cfg.AutoVacuum,
	}
	return p, nil
}

func (p *Pager) Close() error {
	return p.wal.Close()
}

func (p *Pager) PageSize() int       { return p.pageSize }
func (p *Pager) Header() ondisk.Header { return *p.header }
func (p *Pager) UsableSpace() int    { return p.header.UsableSpace() }
func (p *Pager) TxState() TxState    { return p.txState }

// BeginReadTx begins a read transaction via the WAL.
func (p *Pager) BeginReadTx() error {
	res, err := p.wal.BeginReadTx()
	if err != nil {
		return err
	}
	if res == wal.Busy {
		return ErrBusy
	}
	p.txState = TxRead
	return nil
}

func (p *Pager) EndReadTx() {
	p.wal.EndReadTx()
	if p.txState == TxRead {
		p.txState = TxNone
	}
}

// BeginWriteTx begins a write transaction.
func (p *Pager) BeginWriteTx() error {
	res, err := p.wal.BeginWriteTx()
	if err != nil {
		return err
	}
	if res == wal.Busy {
		return ErrBusy
	}
	p.txState = TxWrite
	return nil
}

func (p *Pager) EndWriteTx() {
	p.wal.EndWriteTx()
	if p.txState == TxWrite {
		p.txState = TxNone
	}
}

// EndTx ends whichever transaction is open, flushing first if it was a
// write transaction.
func (p *Pager) EndTx() (FlushResult, error) {
	if p.txState == TxWrite {
		res, err := p.CacheFlush()
		p.EndWriteTx()
		return res, err
	}
	if p.txState == TxRead {
		p.EndReadTx()
	}
	return FlushNone, nil
}

// ReadPage returns the page loaded from cache or disk. The page returned
// is always fully loaded in this synchronous port (see DESIGN.md): Go's
// os.File I/O has no async suspension point to cooperate with, so
// ReadPage never itself returns the IO control-flow state. CacheFull is
// the one case where the caller genuinely must intervene (flush, then
// retry) before the page can be installed in the cache.
func (p *Pager) ReadPage(id page.ID) (*page.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readPageLocked(id)
}

func (p *Pager) readPageLocked(id page.ID) (*page.Page, error) {
	if pg, ok := p.cache.Get(id); ok {
		if !pg.IsUpToDate() {
			return nil, fmt.Errorf("pager: page %d in error state, must reload", id)
		}
		return pg, nil
	}

	pg := page.New(id)
	pg.SetLocked()
	buf := p.pool.Acquire()
	pg.Attach(p.pool, buf)

	if frame, ok := p.wal.FindFrame(uint32(id)); ok {
		if err := p.wal.ReadFrame(frame, buf); err != nil {
			pg.SetError()
			return nil, err
		}
	} else if err := p.readFromDBFile(id, buf); err != nil {
		pg.SetError()
		return nil, err
	}
	pg.MarkLoaded()

	if err := p.cache.Insert(id, pg); err != nil {
		if errors.Is(err, pagecache.ErrFull) {
			slog.Debug(logPrefix+"cache full on read", "id", id)
			return nil, ErrCacheFull
		}
		return nil, err
	}
	return pg, nil
}

func (p *Pager) readFromDBFile(id page.ID, dst []byte) error {
	off := int64(id-1) * int64(p.pageSize)
	n, err := p.file.ReadAt(dst, off)
	if err != nil && n == 0 {
		// Reading past EOF (a page that was never written, e.g. freshly
		// allocated but not yet flushed) yields an all-zero page.
		for i := range dst {
			dst[i] = 0
		}
		return nil
	}
	return nil
}

// MarkDirty flips DIRTY on p and adds it to the pager's dirty set. The
// flush pipeline is the sole consumer of the dirty set.
func (p *Pager) MarkDirty(pg *page.Page) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pg.SetDirty()
	p.dirty[pg.ID()] = struct{}{}
}

// ClearPageCache drops every cached page. Used after a Corrupt error
// invalidates the cache.
func (p *Pager) ClearPageCache() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cache.Clear()
}

// Rollback discards the current write transaction's in-memory effects: the
// dirty set is dropped and every cached page's DIRTY flag is cleared,
// without writing anything to the WAL.
func (p *Pager) Rollback() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dirty = make(map[page.ID]struct{})
	p.cache.UnsetDirtyAll()
}
