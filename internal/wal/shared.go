package wal

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/atomic"

	"github.com/tuannm99/novasql/internal/storage/ondisk"
)

// numReadMarks is the number of concurrent reader generations the WAL can
// track at once, matching SQLite's default K=5 read-mark slots.
const numReadMarks = 5

// PageWriter is the callback surface the WAL needs from a Pager during
// checkpoint: "write this page's bytes to the database file at its page
// number". Keeping this as a narrow interface (rather than importing the
// pager package) avoids a Pager<->Wal cyclic ownership: the Wal holds no
// long-lived Pager reference, only a borrowed one for the duration of a
// single Checkpoint call.
type PageWriter interface {
	WriteDBPage(pageNo uint32, data []byte) error
	SyncDB() error
}

// Shared is the state one WAL file shares across every connection attached
// to the same database.
type Shared struct {
	file     *os.File
	pageSize int

	headerMu sync.Mutex
	header   ondisk.WALHeader

	maxFrame   atomic.Uint64
	nbackfills atomic.Uint64

	// frameCacheMu guards frameCache and pagesInFrames. Critical sections
	// here are short, so a plain Mutex is enough without a busy-wait
	// primitive.
	frameCacheMu   sync.Mutex
	frameCache     map[uint32][]uint64 // page_id -> ascending frame numbers
	pagesInFrames  []uint32

	checksumMu   sync.Mutex
	lastChecksum [2]uint32

	readLocks [numReadMarks]*rwSlot
	writeLock *rwSlot
}

// OpenShared opens (or creates) the WAL file at path for a database with the
// given page size, returning the state block every connection will attach
// to.
func OpenShared(path string, pageSize int) (*Shared, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	s := &Shared{
		file:          f,
		pageSize:      pageSize,
		frameCache:    make(map[uint32][]uint64),
		pagesInFrames: make([]uint32, 0),
	}
	for i := range s.readLocks {
		init := readmarkNotUsed
		if i == 0 {
			init = 0 // slot 0 is reserved for "up to newest"
		}
		s.readLocks[i] = newSlot(init)
	}
	s.writeLock = newSlot(readmarkNotUsed)

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("wal: stat %s: %w", path, err)
	}
	if fi.Size() >= ondisk.WALHeaderSize {
		if err := s.loadHeader(); err != nil {
			return nil, err
		}
		if err := s.indexExistingFrames(fi.Size()); err != nil {
			return nil, err
		}
	} else if err := s.writeNewHeader(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Shared) loadHeader() error {
	buf := make([]byte, ondisk.WALHeaderSize)
	if _, err := s.file.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("wal: read header: %w", err)
	}
	h, err := ondisk.DecodeWALHeader(buf)
	if err != nil {
		return err
	}
	s.headerMu.Lock()
	s.header = *h
	s.headerMu.Unlock()
	s.lastChecksum = [2]uint32{h.Checksum1, h.Checksum2}
	return nil
}

func (s *Shared) writeNewHeader() error {
	var salt1, salt2 uint32
	saltBytes := make([]byte, 8)
	if _, err := randRead(saltBytes); err == nil {
		salt1 = be32(saltBytes[0:4])
		salt2 = be32(saltBytes[4:8])
	}
	h := ondisk.WALHeader{
		Magic:      ondisk.NativeMagic(),
		FileFormat: 3007000,
		PageSize:   uint32(s.pageSize),
		Salt1:      salt1,
		Salt2:      salt2,
	}
	buf := make([]byte, ondisk.WALHeaderSize)
	ondisk.EncodeWALHeader(&h, buf)
	bigEndian, _ := ondisk.IsBigEndianMagic(h.Magic)
	c0, c1 := ondisk.ChecksumWAL(buf[:ondisk.WALHeaderSize-8], 0, 0, bigEndian)
	h.Checksum1, h.Checksum2 = c0, c1
	ondisk.EncodeWALHeader(&h, buf)

	if _, err := s.file.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("wal: write header: %w", err)
	}
	s.headerMu.Lock()
	s.header = h
	s.headerMu.Unlock()
	s.lastChecksum = [2]uint32{c0, c1}
	return nil
}

// indexExistingFrames re-reads every frame already on disk (e.g. from a
// prior process) and rebuilds frameCache/pagesInFrames/maxFrame, stopping at
// the first frame whose checksum doesn't match the running chain, so a
// torn trailing frame left by a crash mid-sync is simply invisible.
func (s *Shared) indexExistingFrames(fileSize int64) error {
	s.headerMu.Lock()
	h := s.header
	s.headerMu.Unlock()
	bigEndian, _ := ondisk.IsBigEndianMagic(h.Magic)

	frameSize := int64(ondisk.WALFrameHeaderSize + s.pageSize)
	n := (fileSize - ondisk.WALHeaderSize) / frameSize
	s0, s1 := h.Checksum1, h.Checksum2

	hdrBuf := make([]byte, ondisk.WALFrameHeaderSize)
	pageBuf := make([]byte, s.pageSize)
	var lastCommit uint64

	for i := int64(0); i < n; i++ {
		off := ondisk.WALHeaderSize + i*frameSize
		if _, err := s.file.ReadAt(hdrBuf, off); err != nil {
			break
		}
		if _, err := s.file.ReadAt(pageBuf, off+ondisk.WALFrameHeaderSize); err != nil {
			break
		}
		fh, err := ondisk.DecodeWALFrameHeader(hdrBuf)
		if err != nil {
			break
		}
		cs0, cs1 := ondisk.ChecksumWAL(hdrBuf[0:8], s0, s1, bigEndian)
		cs0, cs1 = ondisk.ChecksumWAL(pageBuf, cs0, cs1, bigEndian)
		if cs0 != fh.Checksum1 || cs1 != fh.Checksum2 || fh.Salt1 != h.Salt1 || fh.Salt2 != h.Salt2 {
			break // torn/partial write; everything from here on is discarded
		}
		s0, s1 = cs0, cs1
		frameID := uint64(i + 1)
		s.frameCacheAppend(fh.PageNumber, frameID)
		if fh.DBSizeAfterCommit != 0 {
			lastCommit = frameID
		}
	}
	if lastCommit == 0 {
		// No valid commit frame recovered: nothing in the WAL is visible.
		s.frameCache = make(map[uint32][]uint64)
		s.pagesInFrames = s.pagesInFrames[:0]
		return nil
	}
	s.maxFrame.Store(lastCommit)
	s.lastChecksum = [2]uint32{s0, s1}
	return nil
}

func (s *Shared) frameCacheAppend(pageNo uint32, frameID uint64) {
	s.frameCacheMu.Lock()
	defer s.frameCacheMu.Unlock()
	if _, ok := s.frameCache[pageNo]; !ok {
		s.pagesInFrames = append(s.pagesInFrames, pageNo)
	}
	s.frameCache[pageNo] = append(s.frameCache[pageNo], frameID)
}

func (s *Shared) Close() error {
	return s.file.Close()
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
