package wal

import "go.uber.org/atomic"

// lock states for rwSlot, mirroring SQLite's WAL-index read/write marks.
const (
	noLock     uint32 = 0
	sharedLock uint32 = 1
	writeLock_ uint32 = 2
)

// readmarkNotUsed is the sentinel value meaning "this read-mark slot holds
// no valid frame ceiling."
const readmarkNotUsed uint32 = 0xffffffff

// rwSlot is one of the WAL's K shared read-mark slots, or its single write
// slot. It supports many concurrent shared holders or one exclusive holder,
// mirroring SQLite's WAL-index locking scheme.
type rwSlot struct {
	lock    atomic.Uint32
	nreads  atomic.Uint32
	value   atomic.Uint32
}

func newSlot(initial uint32) *rwSlot {
	s := &rwSlot{}
	s.value.Store(initial)
	return s
}

// tryRead attempts to acquire the slot in shared mode. Returns false if it
// is currently held exclusively.
func (s *rwSlot) tryRead() bool {
	switch s.lock.Load() {
	case noLock:
		if s.lock.CompareAndSwap(noLock, sharedLock) {
			s.nreads.Add(1)
			return true
		}
		return s.tryRead() // lost the race; retry until acquired or write-locked
	case sharedLock:
		s.nreads.Add(1)
		return true
	default: // writeLock_
		return false
	}
}

// tryWrite attempts to acquire the slot exclusively. Returns false if any
// reader or writer currently holds it.
func (s *rwSlot) tryWrite() bool {
	switch s.lock.Load() {
	case noLock:
		return s.lock.CompareAndSwap(noLock, writeLock_)
	default:
		return false
	}
}

// unlock releases whichever mode this goroutine is presumed to hold.
func (s *rwSlot) unlock() {
	switch s.lock.Load() {
	case noLock:
		return
	case sharedLock:
		if s.nreads.Sub(1) == 0 {
			s.lock.CompareAndSwap(sharedLock, noLock)
		}
	default: // writeLock_
		s.lock.CompareAndSwap(writeLock_, noLock)
	}
}
