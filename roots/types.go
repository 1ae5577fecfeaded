package roots

import (
	"fmt"

	"github.com/belagoesr/mun/types"
)

// ID identifies a root. The low 32 bits select a slot, the high 32 bits
// hold the slot's generation, so a released ID is never valid again even
// after its slot is reused. ID 0 is reserved and always invalid.
type ID uint64

func newID(slot, gen uint32) ID {
	return ID(uint64(gen)<<32 | uint64(slot))
}

func (id ID) slot() uint32 { return uint32(id) }
func (id ID) gen() uint32  { return uint32(id >> 32) }

func (id ID) String() string {
	return fmt.Sprintf("root#%d.%d", id.slot(), id.gen())
}

// Entry is the object a root keeps alive.
type Entry struct {
	Desc   *types.Descriptor
	Serial uint64
	Addr   uint32
}

// EventType distinguishes root lifecycle notifications.
type EventType uint8

const (
	EventRooted EventType = iota
	EventReleased
	EventRetargeted
)

func (e EventType) String() string {
	switch e {
	case EventRooted:
		return "rooted"
	case EventReleased:
		return "released"
	default:
		return "retargeted"
	}
}

// Event describes a root lifecycle change.
type Event struct {
	Entry Entry
	ID    ID
	Type  EventType
}

// Observer receives root lifecycle events.
type Observer interface {
	OnRootEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnRootEvent(e Event) { f(e) }
