package runtime

import (
	"reflect"

	"github.com/belagoesr/mun/errors"
	"github.com/belagoesr/mun/types"
)

// StructRef is a handle to a struct owned by the runtime heap. By-value
// structs read out of fields or arrays are boxed: the handle refers to a
// private copy.
type StructRef struct {
	r ref
}

func (s StructRef) handleRef() ref {
	return s.r
}

// Type returns the layout the struct was allocated with.
func (s StructRef) Type() *types.Descriptor {
	return s.r.desc
}

func (s StructRef) Name() string {
	if s.r.desc == nil {
		return ""
	}
	return s.r.desc.Name
}

func (s StructRef) Addr() uint32 {
	return s.r.addr
}

func (s StructRef) IsNull() bool {
	return s.r.null()
}

// Valid returns the error any access through the handle would fail with.
func (s StructRef) Valid() error {
	return s.r.check(errors.PhaseField)
}

// Get reads a field as its natural Go type.
func (s StructRef) Get(name string) (any, error) {
	return s.get(name, anyType)
}

func (s StructRef) get(name string, gt reflect.Type) (any, error) {
	if err := s.r.check(errors.PhaseField); err != nil {
		return nil, err
	}
	f, err := s.r.desc.Field(name)
	if err != nil {
		return nil, err
	}
	if !matches(gt, f.Type) {
		return nil, errors.FieldTypeMismatch(s.r.desc.Name, name, gt.String(), f.Type.Name)
	}
	rt := s.r.rt
	return rt.load(rt.cur.Load(), s.r.addr, s.r.addr+f.Offset, f.Type, gt)
}

// Set writes a field. v must have the field's exact Go type.
func (s StructRef) Set(name string, v any) error {
	if err := s.r.check(errors.PhaseField); err != nil {
		return err
	}
	f, err := s.r.desc.Field(name)
	if err != nil {
		return err
	}
	if f.ReadOnly {
		return errors.ReadOnlyField(s.r.desc.Name, name)
	}
	rt := s.r.rt
	if !rt.storable(f.Type, v) {
		return errors.FieldTypeMismatch(s.r.desc.Name, name, goTypeName(v), f.Type.Name)
	}
	return rt.store(errors.PhaseField, s.r.addr+f.Offset, f.Type, v)
}

// Root registers the struct in the root table.
func (s StructRef) Root() (StructRoot, error) {
	id, err := s.r.root()
	if err != nil {
		return StructRoot{}, err
	}
	return StructRoot{root{rt: s.r.rt, id: id}}, nil
}

// Field reads a field of s as T.
func Field[T any](s StructRef, name string) (T, error) {
	var zero T
	v, err := s.get(name, typeFor[T]())
	if err != nil {
		return zero, err
	}
	out, _ := v.(T)
	return out, nil
}

// SetField writes a field of s.
func SetField[T any](s StructRef, name string, v T) error {
	return s.Set(name, v)
}

// NewStruct allocates a zeroed struct of the named type.
func NewStruct(rt *Runtime, typeName string) (StructRef, error) {
	inst, err := rt.instance(errors.PhaseAlloc)
	if err != nil {
		return StructRef{}, err
	}
	d, err := inst.snap.Resolve(typeName)
	if err != nil {
		return StructRef{}, err
	}
	if d.Kind != types.KindStruct {
		return StructRef{}, errors.InvalidInput(errors.PhaseAlloc, typeName+" is not a struct type")
	}
	addr, err := rt.heap.Alloc(d)
	if err != nil {
		return StructRef{}, err
	}
	r, err := rt.objectRef(inst, addr)
	if err != nil {
		return StructRef{}, err
	}
	return StructRef{r: r}, nil
}
