// Package wal implements the write-ahead log: a shared, append-only frame
// log with per-connection reader marks, a single writer mark, frame
// indexing and a stepped passive-checkpoint state machine. On-disk layout
// is bit-exact with SQLite.
package wal

import (
	"errors"
	"fmt"
	"log/slog"

	"go.uber.org/multierr"

	"github.com/tuannm99/novasql/internal/storage/ondisk"
)

const logPrefix = "wal: "

// Result mirrors the two outcomes a WAL lock acquisition can have.
type Result int

const (
	OK Result = iota
	Busy
)

var ErrBusy = errors.New("wal: busy")

// Wal is one connection's handle onto a database's shared WAL state.
type Wal struct {
	shared *Shared

	minFrame      uint64
	maxFrame      uint64
	readLockIndex int

	checkpointThreshold int
	ongoing             *ongoingCheckpoint
}

// Open attaches a new per-connection Wal handle to shared.
func Open(shared *Shared, checkpointThreshold int) *Wal {
	if checkpointThreshold <= 0 {
		checkpointThreshold = 1000
	}
	return &Wal{shared: shared, checkpointThreshold: checkpointThreshold}
}

// BeginReadTx acquires a read mark at the current max frame, so later
// reads see a stable snapshot even as writers keep appending.
func (w *Wal) BeginReadTx() (Result, error) {
	maxFrameInWAL := w.shared.maxFrame.Load()

	var maxReadMark uint32
	maxReadMarkIdx := -1
	for i, slot := range w.shared.readLocks {
		v := slot.value.Load()
		if v > maxReadMark && uint64(v) <= maxFrameInWAL {
			maxReadMark = v
			maxReadMarkIdx = i
		}
	}

	if uint64(maxReadMark) < maxFrameInWAL || maxReadMarkIdx == -1 {
		for i, slot := range w.shared.readLocks {
			if slot.tryWrite() {
				slot.value.Store(uint32(maxFrameInWAL))
				maxReadMark = uint32(maxFrameInWAL)
				maxReadMarkIdx = i
				slot.unlock()
				break
			}
		}
	}

	if maxReadMarkIdx == -1 {
		return Busy, nil
	}

	slot := w.shared.readLocks[maxReadMarkIdx]
	if !slot.tryRead() {
		return Busy, nil
	}

	w.minFrame = w.shared.nbackfills.Load() + 1
	w.readLockIndex = maxReadMarkIdx
	w.maxFrame = uint64(maxReadMark)
	slog.Debug(logPrefix+"begin_read_tx", "min_frame", w.minFrame, "max_frame", w.maxFrame, "lock", w.readLockIndex)
	return OK, nil
}

func (w *Wal) EndReadTx() {
	w.shared.readLocks[w.readLockIndex].unlock()
}

// BeginWriteTx acquires the single write lock, failing with Busy if
// another writer already holds it.
func (w *Wal) BeginWriteTx() (Result, error) {
	if !w.shared.writeLock.tryWrite() {
		return Busy, nil
	}
	return OK, nil
}

func (w *Wal) EndWriteTx() {
	w.shared.writeLock.unlock()
}

// FindFrame returns the newest frame number <= w.maxFrame containing
// pageID, if any.
func (w *Wal) FindFrame(pageID uint32) (uint64, bool) {
	w.shared.frameCacheMu.Lock()
	frames := w.shared.frameCache[pageID]
	w.shared.frameCacheMu.Unlock()
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i] <= w.maxFrame {
			return frames[i], true
		}
	}
	return 0, false
}

func (w *Wal) frameOffset(frameID uint64) int64 {
	frameSize := int64(ondisk.WALFrameHeaderSize + w.shared.pageSize)
	return ondisk.WALHeaderSize + int64(frameID-1)*frameSize
}

// ReadFrame reads frame frameID's page payload into dst (len(dst) ==
// page_size).
func (w *Wal) ReadFrame(frameID uint64, dst []byte) error {
	off := w.frameOffset(frameID) + ondisk.WALFrameHeaderSize
	if _, err := w.shared.file.ReadAt(dst, off); err != nil {
		return fmt.Errorf("wal: read frame %d: %w", frameID, err)
	}
	return nil
}

// AppendFrame builds the frame header (with dbSizeAfterCommit non-zero
// only on the commit frame), writes header+payload, updates the running
// checksum, and publishes the new max_frame and frame_cache entry.
func (w *Wal) AppendFrame(pageID uint32, data []byte, dbSizeAfterCommit uint32) error {
	s := w.shared
	maxFrame := s.maxFrame.Load()
	frameID := maxFrame + 1

	s.headerMu.Lock()
	h := s.header
	s.headerMu.Unlock()
	bigEndian, _ := ondisk.IsBigEndianMagic(h.Magic)

	fh := &ondisk.WALFrameHeader{
		PageNumber:        pageID,
		DBSizeAfterCommit: dbSizeAfterCommit,
		Salt1:             h.Salt1,
		Salt2:             h.Salt2,
	}
	hdrBuf := make([]byte, ondisk.WALFrameHeaderSize)
	ondisk.EncodeWALFrameHeader(fh, hdrBuf)

	s.checksumMu.Lock()
	s0, s1 := s.lastChecksum[0], s.lastChecksum[1]
	s0, s1 = ondisk.ChecksumWAL(hdrBuf[0:8], s0, s1, bigEndian)
	s0, s1 = ondisk.ChecksumWAL(data, s0, s1, bigEndian)
	fh.Checksum1, fh.Checksum2 = s0, s1
	ondisk.EncodeWALFrameHeader(fh, hdrBuf)
	s.lastChecksum = [2]uint32{s0, s1}
	s.checksumMu.Unlock()

	off := w.frameOffset(frameID)
	if _, err := s.file.WriteAt(hdrBuf, off); err != nil {
		return fmt.Errorf("wal: write frame header: %w", err)
	}
	if _, err := s.file.WriteAt(data, off+ondisk.WALFrameHeaderSize); err != nil {
		return fmt.Errorf("wal: write frame payload: %w", err)
	}

	s.maxFrame.Store(frameID)
	s.frameCacheAppend(pageID, frameID)
	slog.Debug(logPrefix+"append_frame", "frame", frameID, "page", pageID, "commit", dbSizeAfterCommit != 0)
	return nil
}

// Sync fsyncs the WAL file.
func (w *Wal) Sync() error {
	return w.shared.file.Sync()
}

// ShouldCheckpoint reports whether the WAL has grown past the checkpoint
// threshold.
func (w *Wal) ShouldCheckpoint() bool {
	return w.shared.maxFrame.Load() >= uint64(w.checkpointThreshold)
}

func (w *Wal) MaxFrameInWAL() uint64 { return w.shared.maxFrame.Load() }
func (w *Wal) MaxFrame() uint64      { return w.maxFrame }
func (w *Wal) MinFrame() uint64      { return w.minFrame }

// --- Checkpoint state machine ---

type checkpointState int

const (
	cpStart checkpointState = iota
	cpReadFrame
	cpDone
)

type ongoingCheckpoint struct {
	state       checkpointState
	minFrame    uint64
	maxFrame    uint64
	currentPage int
	scratch     []byte
}

// CheckpointStatus is returned by each Checkpoint step.
type CheckpointStatus int

const (
	CheckpointIO CheckpointStatus = iota
	CheckpointDone
)

// Checkpoint drives the passive checkpoint state machine one step further,
// writing eligible frames to the database file via writer. Call repeatedly
// until it returns CheckpointDone. Only passive mode is implemented; full
// and restart checkpoints are left for a future connection API (see
// DESIGN.md).
func (w *Wal) Checkpoint(writer PageWriter) (CheckpointStatus, error) {
	if w.ongoing == nil {
		w.ongoing = &ongoingCheckpoint{scratch: make([]byte, w.shared.pageSize)}
	}
	oc := w.ongoing
	s := w.shared

	for {
		switch oc.state {
		case cpStart:
			oc.minFrame = w.minFrame
			maxSafeFrame := s.maxFrame.Load()
			for i, slot := range s.readLocks {
				v := slot.value.Load()
				if uint64(v) >= maxSafeFrame {
					continue
				}
				if slot.tryWrite() {
					newMark := readmarkNotUsed
					if i == 0 {
						newMark = uint32(maxSafeFrame)
					}
					slot.value.Store(newMark)
					slot.unlock()
				} else {
					// busy reader clamps the ceiling
					if uint64(v) < maxSafeFrame {
						maxSafeFrame = uint64(v)
					}
				}
			}
			oc.maxFrame = maxSafeFrame
			oc.currentPage = 0
			oc.state = cpReadFrame
			slog.Debug(logPrefix+"checkpoint_start", "min_frame", oc.minFrame, "max_frame", oc.maxFrame)

		case cpReadFrame:
			s.frameCacheMu.Lock()
			pages := append([]uint32(nil), s.pagesInFrames...)
			s.frameCacheMu.Unlock()

			if oc.currentPage >= len(pages) {
				oc.state = cpDone
				continue
			}
			pageNo := pages[oc.currentPage]

			s.frameCacheMu.Lock()
			frames := s.frameCache[pageNo]
			s.frameCacheMu.Unlock()

			var targetFrame uint64
			found := false
			for i := len(frames) - 1; i >= 0; i-- {
				if f := frames[i]; f >= oc.minFrame && f <= oc.maxFrame {
					targetFrame = f
					found = true
					break
				}
			}
			oc.currentPage++
			if !found {
				continue
			}
			// ReadFrame+WriteDBPage collapse what would otherwise be separate
			// wait-for-read/wait-for-write states into one step: os.File I/O
			// is synchronous here, so there is nothing to suspend on between
			// them (see DESIGN.md).
			if err := w.ReadFrame(targetFrame, oc.scratch); err != nil {
				return CheckpointIO, err
			}
			if err := writer.WriteDBPage(pageNo, oc.scratch); err != nil {
				return CheckpointIO, err
			}
			oc.state = cpReadFrame

		case cpDone:
			if err := writer.SyncDB(); err != nil {
				return CheckpointIO, err
			}
			everythingBackfilled := s.maxFrame.Load() == oc.maxFrame
			if everythingBackfilled {
				s.frameCacheMu.Lock()
				s.frameCache = make(map[uint32][]uint64)
				s.pagesInFrames = s.pagesInFrames[:0]
				s.frameCacheMu.Unlock()
				s.maxFrame.Store(0)
				s.nbackfills.Store(0)
			} else {
				s.nbackfills.Store(oc.maxFrame)
			}
			w.ongoing = nil
			return CheckpointDone, nil
		}
	}
}

// Close fsyncs and closes the underlying WAL file, combining both potential
// failures instead of reporting only the first, via multierr.
func (w *Wal) Close() error {
	syncErr := w.shared.file.Sync()
	closeErr := w.shared.Close()
	return multierr.Combine(syncErr, closeErr)
}
