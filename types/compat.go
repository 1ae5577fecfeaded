package types

import (
	"fmt"
	"slices"

	"github.com/belagoesr/mun/errors"
)

type ChangeKind uint8

const (
	Added ChangeKind = iota
	Removed
	Changed
)

func (c ChangeKind) String() string {
	switch c {
	case Added:
		return "added"
	case Removed:
		return "removed"
	default:
		return "changed"
	}
}

// Change is one named type that differs between two snapshots.
type Change struct {
	Old  *Descriptor
	New  *Descriptor
	Name string
	Kind ChangeKind
}

// Diff lists the types added, removed or re-laid-out between old and next,
// sorted by name.
func Diff(old, next *Snapshot) []Change {
	var changes []Change
	for name, o := range old.named {
		n, ok := next.named[name]
		switch {
		case !ok:
			changes = append(changes, Change{Name: name, Kind: Removed, Old: o})
		case !o.SameLayout(n):
			changes = append(changes, Change{Name: name, Kind: Changed, Old: o, New: n})
		}
	}
	for name, n := range next.named {
		if _, ok := old.named[name]; !ok {
			changes = append(changes, Change{Name: name, Kind: Added, New: n})
		}
	}
	slices.SortFunc(changes, func(a, b Change) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return changes
}

// CheckCompatible rejects a reload that changes the meaning of data native
// code may still hold. A struct may gain or lose fields, and reorder them,
// but it may not switch between by-value and by-reference, and a field kept
// under the same name must keep its type.
func CheckCompatible(old, next *Snapshot) error {
	for _, c := range Diff(old, next) {
		if c.Kind != Changed {
			continue
		}
		if err := compatible(c.Old, c.New); err != nil {
			return err
		}
	}
	return nil
}

func compatible(o, n *Descriptor) error {
	if o.StructKind != n.StructKind {
		return errors.IncompatibleLayoutChange(o.Name,
			fmt.Sprintf("struct kind changed from %s to %s", o.StructKind, n.StructKind))
	}
	for i := range o.Fields {
		of := &o.Fields[i]
		nf, err := n.Field(of.Name)
		if err != nil {
			continue
		}
		if !sameShape(of.Type, nf.Type) {
			return errors.IncompatibleLayoutChange(o.Name,
				fmt.Sprintf("field %q changed type from %s to %s", of.Name, of.Type.Name, nf.Type.Name))
		}
	}
	return nil
}

// sameShape compares types by kind and name only; a struct's own layout
// change is judged separately.
func sameShape(a, b *Descriptor) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindStruct:
		return a.Name == b.Name
	case KindArray:
		return sameShape(a.Elem, b.Elem)
	}
	return true
}
