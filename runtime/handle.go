package runtime

import (
	"reflect"

	"github.com/google/uuid"

	"github.com/belagoesr/mun/errors"
	"github.com/belagoesr/mun/types"
)

// ref is the state shared by all handles: the object address, the serial it
// was allocated with and the identity of the instance that issued it.
type ref struct {
	rt     *Runtime
	desc   *types.Descriptor
	id     uuid.UUID
	serial uint64
	addr   uint32
}

type handle interface {
	handleRef() ref
}

type arrayHandle interface {
	handle
	elemType() reflect.Type
	withRef(r ref) any
}

func (r ref) null() bool {
	return r.rt == nil || r.addr == 0
}

// check fails when the handle can no longer be dereferenced: it is empty,
// its runtime is closed, a reload replaced the instance that issued it, or
// the object was reclaimed.
func (r ref) check(phase errors.Phase) error {
	if r.null() {
		return errors.NotInitialized(phase, "handle")
	}
	if r.rt.closed.Load() {
		return errors.NotInitialized(phase, "runtime")
	}
	if inst := r.rt.cur.Load(); inst == nil || inst.id != r.id {
		return errors.New(phase, errors.KindStaleTypeLayout).
			Type(r.desc.Name).
			Detail("handle was issued before a reload; root it to keep it across reloads").
			Build()
	}
	if !r.rt.heap.Valid(r.addr, r.serial) {
		return errors.StaleHandle(phase, "object was reclaimed")
	}
	return nil
}

// objectRef builds a handle for the live object at addr, typed with the
// layout the object was allocated with. Objects whose layout inst no
// longer has fail with StaleTypeLayout.
func (rt *Runtime) objectRef(inst *instance, addr uint32) (ref, error) {
	if addr == 0 {
		return ref{}, errors.NotInitialized(errors.PhaseMarshal, "null reference")
	}
	obj, ok := rt.heap.Lookup(addr)
	if !ok {
		return ref{}, errors.StaleHandle(errors.PhaseMarshal, "no object at the given address")
	}
	if err := currentObject(inst, obj.Desc); err != nil {
		return ref{}, err
	}
	return ref{rt: rt, desc: obj.Desc, id: inst.id, serial: obj.Serial, addr: addr}, nil
}

func currentObject(inst *instance, d *types.Descriptor) error {
	if inst.snap.Current(d) {
		return nil
	}
	return errors.New(errors.PhaseMarshal, errors.KindStaleTypeLayout).
		Type(d.Name).
		Detail("object was allocated with a layout from before a reload").
		Build()
}

// refTo builds a handle for a reference read from memory or returned by
// compiled code. A null reference yields an empty handle of the declared
// type.
func (rt *Runtime) refTo(inst *instance, addr uint32, declared *types.Descriptor) (ref, error) {
	if addr == 0 {
		return ref{rt: rt, desc: declared, id: inst.id}, nil
	}
	obj, ok := rt.heap.Lookup(addr)
	if !ok {
		return ref{}, errors.InvalidData(errors.PhaseMarshal, []string{declared.Name}, "dangling reference")
	}
	if !sameType(obj.Desc, declared) {
		return ref{}, errors.InvalidData(errors.PhaseMarshal, []string{declared.Name},
			"reference points to an object of type "+obj.Desc.Name)
	}
	if err := currentObject(inst, obj.Desc); err != nil {
		return ref{}, err
	}
	return ref{rt: rt, desc: obj.Desc, id: inst.id, serial: obj.Serial, addr: addr}, nil
}

// sameType compares a heap object's type with a declared reference type.
// Structs compare by name because an object keeps the layout it was
// allocated with; arrays compare by layout.
func sameType(obj, declared *types.Descriptor) bool {
	if obj.Kind != declared.Kind {
		return false
	}
	if obj.Kind == types.KindStruct {
		return obj.Name == declared.Name
	}
	return obj.SameLayout(declared)
}

// surface wraps a reference in the handle type gt asks for.
func surface(r ref, gt reflect.Type) any {
	if r.desc.Kind == types.KindStruct {
		return StructRef{r: r}
	}
	if ah, ok := zeroArrayHandle(gt); ok {
		return ah.withRef(r)
	}
	return ArrayRef[any]{r: r}
}

// load reads the value of type t embedded at addr inside the object owner.
// By-value structs come back as boxed copies.
func (rt *Runtime) load(inst *instance, owner, addr uint32, t *types.Descriptor, gt reflect.Type) (any, error) {
	switch {
	case t.Kind.IsPrimitive():
		bits, err := rt.heap.Load(addr, t)
		if err != nil {
			return nil, err
		}
		return fromBits(t.Kind, bits), nil
	case t.IsValueStruct():
		box, err := rt.heap.Box(owner, addr, t)
		if err != nil {
			return nil, err
		}
		r, err := rt.objectRef(inst, box)
		if err != nil {
			return nil, err
		}
		return StructRef{r: r}, nil
	default:
		bits, err := rt.heap.Load(addr, t)
		if err != nil {
			return nil, err
		}
		r, err := rt.refTo(inst, uint32(bits), t)
		if err != nil {
			return nil, err
		}
		return surface(r, gt), nil
	}
}

// storable reports whether v can be written where a value of t lives.
func (rt *Runtime) storable(t *types.Descriptor, v any) bool {
	switch {
	case t.Kind.IsPrimitive():
		_, ok := toBits(t.Kind, v)
		return ok
	case t.IsValueStruct():
		s, ok := v.(StructRef)
		return ok && s.r.rt == rt && s.r.desc.SameLayout(t)
	default:
		h, ok := v.(handle)
		if !ok {
			return false
		}
		r := h.handleRef()
		if r.rt == nil {
			return true
		}
		return r.rt == rt && sameType(r.desc, t)
	}
}

// store writes v where a value of t lives. Callers check storable first.
func (rt *Runtime) store(phase errors.Phase, addr uint32, t *types.Descriptor, v any) error {
	switch {
	case t.Kind.IsPrimitive():
		bits, _ := toBits(t.Kind, v)
		return rt.heap.Store(addr, t, bits)
	case t.IsValueStruct():
		s := v.(StructRef)
		if err := s.r.check(phase); err != nil {
			return err
		}
		return rt.heap.Copy(addr, s.r.addr, t.Size)
	default:
		r := v.(handle).handleRef()
		if r.null() {
			return rt.heap.Store(addr, t, 0)
		}
		if err := r.check(phase); err != nil {
			return err
		}
		if err := current(phase, r.desc, t); err != nil {
			return err
		}
		return rt.heap.Store(addr, t, uint64(r.addr))
	}
}

// current fails when a struct object still has a layout from before a
// reload while the slot it is written to expects the new one.
func current(phase errors.Phase, obj, declared *types.Descriptor) error {
	if obj.Kind != types.KindStruct || obj.SameLayout(declared) {
		return nil
	}
	return errors.New(phase, errors.KindStaleTypeLayout).
		Type(obj.Name).
		Detail("object was allocated with a layout from before a reload").
		Build()
}
