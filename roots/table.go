package roots

import (
	"sync"

	"github.com/belagoesr/mun/errors"
	"github.com/belagoesr/mun/types"
)

// Table holds the roots of one runtime instance.
type Table struct {
	backend   *slotBackend
	observers []Observer
	obsMu     sync.RWMutex
}

func NewTable() *Table {
	return &Table{backend: newSlotBackend()}
}

// Insert roots the object at addr.
func (t *Table) Insert(desc *types.Descriptor, addr uint32, serial uint64) (ID, error) {
	e := Entry{Desc: desc, Addr: addr, Serial: serial}
	id, err := t.backend.create(e)
	if err != nil {
		return 0, errors.NotInitialized(errors.PhaseRoot, "root table")
	}
	t.notify(Event{Type: EventRooted, ID: id, Entry: e})
	return id, nil
}

// Get returns the entry for id, or RootNotFound once it was released.
func (t *Table) Get(id ID) (Entry, error) {
	e, ok := t.backend.get(id)
	if !ok {
		return Entry{}, errors.RootNotFound(uint64(id))
	}
	return e, nil
}

// Retarget points a root at another object, as when its layout migrates.
func (t *Table) Retarget(id ID, desc *types.Descriptor, addr uint32, serial uint64) error {
	e := Entry{Desc: desc, Addr: addr, Serial: serial}
	if _, ok := t.backend.set(id, e); !ok {
		return errors.RootNotFound(uint64(id))
	}
	t.notify(Event{Type: EventRetargeted, ID: id, Entry: e})
	return nil
}

// Release removes a root. Releasing twice fails with RootNotFound.
func (t *Table) Release(id ID) error {
	e, ok := t.backend.drop(id)
	if !ok {
		return errors.RootNotFound(uint64(id))
	}
	t.notify(Event{Type: EventReleased, ID: id, Entry: e})
	return nil
}

func (t *Table) Len() int {
	return t.backend.len()
}

// Each calls fn for every live root until fn returns false.
func (t *Table) Each(fn func(ID, Entry) bool) {
	t.backend.each(fn)
}

// Addrs yields the address of every live root.
func (t *Table) Addrs(yield func(uint32) bool) {
	t.backend.each(func(_ ID, e Entry) bool {
		return yield(e.Addr)
	})
}

// Drain releases every root and closes the table. It returns the number
// of roots that were still live.
func (t *Table) Drain() int {
	live := t.backend.close()
	for id, e := range live {
		t.notify(Event{Type: EventReleased, ID: id, Entry: e})
	}
	return len(live)
}

func (t *Table) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Unsubscribe removes an observer added with Subscribe. ObserverFunc
// values cannot be compared and are never removed.
func (t *Table) Unsubscribe(o Observer) {
	if _, ok := o.(ObserverFunc); ok {
		return
	}
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	for i, obs := range t.observers {
		if _, ok := obs.(ObserverFunc); ok {
			continue
		}
		if obs == o {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnRootEvent(e)
	}
}
