package roots

import (
	"errors"
	"sync"
)

var errClosed = errors.New("root backend closed")

// slotBackend stores entries in a slice indexed by slot. Released slots go
// on a free list and come back with a bumped generation.
type slotBackend struct {
	slots    []slot
	freeList []uint32
	mu       sync.RWMutex
	closed   bool
}

type slot struct {
	entry Entry
	gen   uint32
	valid bool
}

func newSlotBackend() *slotBackend {
	return &slotBackend{
		slots:    make([]slot, 0, 64),
		freeList: make([]uint32, 0, 16),
	}
}

func (b *slotBackend) create(e Entry) (ID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, errClosed
	}

	if n := len(b.freeList); n > 0 {
		idx := b.freeList[n-1]
		b.freeList = b.freeList[:n-1]
		s := &b.slots[idx-1]
		s.gen++
		s.entry = e
		s.valid = true
		return newID(idx, s.gen), nil
	}

	b.slots = append(b.slots, slot{entry: e, gen: 1, valid: true})
	return newID(uint32(len(b.slots)), 1), nil
}

// lookup returns the live slot for id. Callers hold mu.
func (b *slotBackend) lookup(id ID) *slot {
	idx := id.slot()
	if idx == 0 || int(idx) > len(b.slots) {
		return nil
	}
	s := &b.slots[idx-1]
	if !s.valid || s.gen != id.gen() {
		return nil
	}
	return s
}

func (b *slotBackend) get(id ID) (Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := b.lookup(id)
	if s == nil {
		return Entry{}, false
	}
	return s.entry, true
}

func (b *slotBackend) set(id ID, e Entry) (Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.lookup(id)
	if s == nil {
		return Entry{}, false
	}
	old := s.entry
	s.entry = e
	return old, true
}

func (b *slotBackend) drop(id ID) (Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.lookup(id)
	if s == nil {
		return Entry{}, false
	}
	e := s.entry
	s.valid = false
	s.entry = Entry{}
	b.freeList = append(b.freeList, id.slot())
	return e, true
}

func (b *slotBackend) len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.slots) - len(b.freeList)
}

func (b *slotBackend) each(fn func(ID, Entry) bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for i := range b.slots {
		s := &b.slots[i]
		if s.valid && !fn(newID(uint32(i+1), s.gen), s.entry) {
			return
		}
	}
}

// close invalidates every slot and returns what was live.
func (b *slotBackend) close() map[ID]Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	live := make(map[ID]Entry)
	for i := range b.slots {
		s := &b.slots[i]
		if s.valid {
			live[newID(uint32(i+1), s.gen)] = s.entry
		}
	}
	b.slots = nil
	b.freeList = nil
	return live
}
