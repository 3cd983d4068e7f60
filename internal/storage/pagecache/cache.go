// Package pagecache implements the bounded, LRU-ordered page cache shared by
// a Pager's read path.
package pagecache

import (
	"container/list"
	"errors"
	"log/slog"
	"sync"

	"github.com/tuannm99/novasql/internal/storage/page"
)

const logPrefix = "pagecache: "

var (
	// ErrFull is returned by Insert when no evictable entry exists.
	ErrFull = errors.New("pagecache: full")
	// ErrKeyExists is returned by Insert when the key is already present;
	// callers must Get before Insert.
	ErrKeyExists = errors.New("pagecache: key exists")
	// ErrPendingEvictions is returned by Resize when shrinking would require
	// evicting a LOCKED or DIRTY page.
	ErrPendingEvictions = errors.New("pagecache: resize would require evicting a locked page")
	// ErrLocked is returned by Clear when a page is still LOCKED, and by
	// Delete when the page is LOCKED or DIRTY.
	ErrLocked = errors.New("pagecache: page is locked")
)

type entry struct {
	id   page.ID
	page *page.Page
	elem *list.Element
}

// Cache is a bounded map page.ID -> *page.Page with LRU eviction ordering.
// The zero value is not usable; use New.
type Cache struct {
	mu       sync.Mutex
	capacity int
	byID     map[page.ID]*entry
	order    *list.List // front = most recently used
}

func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		byID:     make(map[page.ID]*entry, capacity),
		order:    list.New(),
	}
}

// Get returns the page for id, marking it most-recently-used.
func (c *Cache) Get(id page.ID) (*page.Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byID[id]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(e.elem)
	return e.page, true
}

// Insert adds p under id. Fails KeyExists if id is already present, or Full
// if the cache is at capacity and no evictable entry (not LOCKED, not DIRTY)
// exists.
func (c *Cache) Insert(id page.ID, p *page.Page) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byID[id]; ok {
		return ErrKeyExists
	}
	if len(c.byID) >= c.capacity {
		if !c.evictLocked() {
			slog.Debug(logPrefix+"insert failed: full", "id", id)
			return ErrFull
		}
	}
	e := &entry{id: id, page: p}
	e.elem = c.order.PushFront(e)
	c.byID[id] = e
	return nil
}

// evictLocked removes the least-recently-used entry that is neither LOCKED
// nor DIRTY. Caller must hold c.mu. Returns false if no entry qualifies.
func (c *Cache) evictLocked() bool {
	for e := c.order.Back(); e != nil; e = e.Prev() {
		ent := e.Value.(*entry)
		if ent.page.IsLocked() || ent.page.IsDirty() {
			continue
		}
		c.order.Remove(e)
		delete(c.byID, ent.id)
		slog.Debug(logPrefix+"evicted", "id", ent.id)
		return true
	}
	return false
}

// Delete removes id if its page is not LOCKED and not DIRTY.
func (c *Cache) Delete(id page.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byID[id]
	if !ok {
		return nil
	}
	if e.page.IsLocked() || e.page.IsDirty() {
		return ErrLocked
	}
	c.order.Remove(e.elem)
	delete(c.byID, id)
	return nil
}

// Clear removes every page, DIRTY ones included. If any page is LOCKED it
// returns ErrLocked and removes nothing.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.byID {
		if e.page.IsLocked() {
			return ErrLocked
		}
	}
	c.byID = make(map[page.ID]*entry, c.capacity)
	c.order.Init()
	return nil
}

// UnsetDirtyAll clears the DIRTY flag on every cached page; used after a
// rollback to discard pending writes without evicting anything.
func (c *Cache) UnsetDirtyAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.byID {
		e.page.ClearDirty()
	}
}

// Resize changes the cache's capacity. Shrinking that would require evicting
// a LOCKED or DIRTY page fails with ErrPendingEvictions and keeps the old
// capacity; entries evicted before the failure stay evicted.
func (c *Cache) Resize(n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n <= 0 {
		n = 1
	}
	for len(c.byID) > n {
		if !c.evictLocked() {
			return ErrPendingEvictions
		}
	}
	c.capacity = n
	return nil
}

// Len reports the number of entries currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byID)
}
