package runtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/belagoesr/mun/errors"
	"github.com/belagoesr/mun/roots"
	"github.com/belagoesr/mun/types"
)

func (r ref) root() (roots.ID, error) {
	if err := r.check(errors.PhaseRoot); err != nil {
		return 0, err
	}
	return r.rt.roots.Insert(r.desc, r.addr, r.serial)
}

// root is a registration in the root table. It keeps its object alive
// across collections and reloads until released.
type root struct {
	rt *Runtime
	id roots.ID
}

func (r root) ID() roots.ID {
	return r.id
}

// Release removes the registration. The object becomes collectable unless
// something else keeps it alive.
func (r root) Release() error {
	if r.rt == nil {
		return errors.RootNotFound(uint64(r.id))
	}
	return r.rt.roots.Release(r.id)
}

// redeem turns the root into a handle bound to the current instance.
func (r root) redeem(rt *Runtime) (ref, error) {
	if rt == nil || r.rt != rt {
		return ref{}, errors.RootNotFound(uint64(r.id))
	}
	e, err := rt.roots.Get(r.id)
	if err != nil {
		return ref{}, err
	}
	inst, err := rt.instance(errors.PhaseRoot)
	if err != nil {
		return ref{}, err
	}
	if !inst.snap.Current(e.Desc) {
		return ref{}, errors.StaleTypeLayout(e.Desc.Name, "layout changed by a reload; migrate the root first")
	}
	return ref{rt: rt, desc: e.Desc, id: inst.id, serial: e.Serial, addr: e.Addr}, nil
}

func (r root) rootID() roots.ID { return r.id }
func (r root) owner() *Runtime  { return r.rt }

// ArrayRoot is a rooted array. Redeem it with AsRef after every reload.
type ArrayRoot[T any] struct {
	root
}

// AsRef returns a handle to the rooted array valid for the current
// instance.
func (r ArrayRoot[T]) AsRef(rt *Runtime) (ArrayRef[T], error) {
	h, err := r.redeem(rt)
	if err != nil {
		return ArrayRef[T]{}, err
	}
	if h.desc.Kind != types.KindArray {
		return ArrayRef[T]{}, errors.InvalidData(errors.PhaseRoot, nil, "root does not hold an array")
	}
	if gt := typeFor[T](); !matches(gt, h.desc.Elem) {
		return ArrayRef[T]{}, errors.New(errors.PhaseRoot, errors.KindFieldTypeMismatch).
			GoType(gt.String()).
			Type(h.desc.Elem.Name).
			Build()
	}
	return ArrayRef[T]{r: h}, nil
}

// StructRoot is a rooted struct.
type StructRoot struct {
	root
}

// AsRef returns a handle to the rooted struct valid for the current
// instance.
func (r StructRoot) AsRef(rt *Runtime) (StructRef, error) {
	h, err := r.redeem(rt)
	if err != nil {
		return StructRef{}, err
	}
	if h.desc.Kind != types.KindStruct {
		return StructRef{}, errors.InvalidData(errors.PhaseRoot, nil, "root does not hold a struct")
	}
	return StructRef{r: h}, nil
}

// Migratable is implemented by ArrayRoot and StructRoot.
type Migratable interface {
	rootID() roots.ID
	owner() *Runtime
}

// MigrateRoot rewrites a rooted object whose layout a reload changed into a
// new allocation with the current layout. Fields are matched by name;
// fields that no longer exist are dropped and new fields start zeroed. A
// rooted array of structs has its elements rewritten too, whether they are
// stored inline or referenced. Structs referenced from struct fields keep
// their layout, and reading them fails with StaleTypeLayout until they are
// rooted and migrated themselves. Migrating a root that is already current
// does nothing.
func (rt *Runtime) MigrateRoot(ctx context.Context, r Migratable) error {
	if err := rt.lock(ctx, errors.PhaseRoot); err != nil {
		return err
	}
	defer rt.mu.Unlock()

	if r.owner() != rt {
		return errors.RootNotFound(uint64(r.rootID()))
	}
	inst, err := rt.instance(errors.PhaseRoot)
	if err != nil {
		return err
	}
	e, err := rt.roots.Get(r.rootID())
	if err != nil {
		return err
	}
	snap := inst.snap
	if snap.Current(e.Desc) {
		return nil
	}

	var addr uint32
	switch e.Desc.Kind {
	case types.KindStruct:
		next, ok := snap.Lookup(e.Desc.Name)
		if !ok {
			return errors.StaleTypeLayout(e.Desc.Name, "type was removed by a reload")
		}
		if addr, err = rt.heap.Alloc(next); err != nil {
			return err
		}
		if err := rt.migrateFields(addr, next, e.Addr, e.Desc); err != nil {
			return err
		}
	case types.KindArray:
		if addr, err = rt.migrateArray(snap, e); err != nil {
			return err
		}
	default:
		return nil
	}

	obj, _ := rt.heap.Lookup(addr)
	if err := rt.roots.Retarget(r.rootID(), obj.Desc, addr, obj.Serial); err != nil {
		return err
	}
	rt.logger.Debug("root migrated",
		zap.Stringer("root", r.rootID()),
		zap.String("type", e.Desc.Name),
		zap.Uint32("from", e.Addr),
		zap.Uint32("to", addr))
	return nil
}

func (rt *Runtime) migrateArray(snap *types.Snapshot, e roots.Entry) (uint32, error) {
	prev := e.Desc.Elem
	if prev.Kind != types.KindStruct {
		return 0, errors.StaleTypeLayout(e.Desc.Name, "element type cannot be migrated")
	}
	next, ok := snap.Lookup(prev.Name)
	if !ok {
		return 0, errors.StaleTypeLayout(e.Desc.Name, "element type was removed by a reload")
	}
	arr, err := snap.Resolve("[" + next.Name + "]")
	if err != nil {
		return 0, err
	}
	length, capacity, err := rt.heap.ArrayHeader(e.Addr)
	if err != nil {
		return 0, err
	}
	addr, err := rt.heap.AllocArray(arr, length, capacity)
	if err != nil {
		return 0, err
	}
	// Element allocations below may collect; the new array is not rooted yet.
	rt.heap.Pin(addr)
	defer rt.heap.Unpin(addr)

	for i := range int(length) {
		src, err := rt.heap.ElemAddr(e.Addr, i)
		if err != nil {
			return 0, err
		}
		dst, err := rt.heap.ElemAddr(addr, i)
		if err != nil {
			return 0, err
		}
		if prev.IsValueStruct() {
			if err := rt.migrateFields(dst, next, src, prev); err != nil {
				return 0, err
			}
			continue
		}
		bits, err := rt.heap.Load(src, prev)
		if err != nil {
			return 0, err
		}
		obj, err := rt.migrateObject(snap, uint32(bits))
		if err != nil {
			return 0, err
		}
		if err := rt.heap.Store(dst, next, uint64(obj)); err != nil {
			return 0, err
		}
	}
	return addr, nil
}

// migrateObject returns the address of a current-layout copy of the struct
// at addr. Current objects and null are returned as they are.
func (rt *Runtime) migrateObject(snap *types.Snapshot, addr uint32) (uint32, error) {
	if addr == 0 {
		return 0, nil
	}
	obj, ok := rt.heap.Lookup(addr)
	if !ok {
		return 0, errors.StaleHandle(errors.PhaseRoot, "array element was reclaimed")
	}
	if snap.Current(obj.Desc) {
		return addr, nil
	}
	next, ok := snap.Lookup(obj.Desc.Name)
	if !ok {
		return 0, errors.StaleTypeLayout(obj.Desc.Name, "type was removed by a reload")
	}
	to, err := rt.heap.Alloc(next)
	if err != nil {
		return 0, err
	}
	if err := rt.migrateFields(to, next, addr, obj.Desc); err != nil {
		return 0, err
	}
	return to, nil
}

// migrateFields copies the fields next shares with prev from src to dst.
func (rt *Runtime) migrateFields(dst uint32, next *types.Descriptor, src uint32, prev *types.Descriptor) error {
	for i := range next.Fields {
		nf := &next.Fields[i]
		pf, err := prev.Field(nf.Name)
		if err != nil {
			continue
		}
		if nf.Type.IsValueStruct() && !nf.Type.SameLayout(pf.Type) {
			if err := rt.migrateFields(dst+nf.Offset, nf.Type, src+pf.Offset, pf.Type); err != nil {
				return err
			}
			continue
		}
		if err := rt.heap.Copy(dst+nf.Offset, src+pf.Offset, nf.Type.InlineSize()); err != nil {
			return err
		}
	}
	return nil
}
