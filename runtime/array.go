package runtime

import (
	"iter"
	"math"
	"reflect"
	"slices"

	"github.com/belagoesr/mun/errors"
	"github.com/belagoesr/mun/types"
)

// ArrayRef is a handle to an array owned by the runtime heap. T is the Go
// type of the elements: the exact primitive type, StructRef for struct
// elements, another ArrayRef for nested arrays, or any.
//
// A handle is invalidated by a reload and by the collector reclaiming the
// array. Root it to keep it across both.
type ArrayRef[T any] struct {
	r ref
}

func (a ArrayRef[T]) handleRef() ref {
	return a.r
}

func (ArrayRef[T]) elemType() reflect.Type {
	return typeFor[T]()
}

func (ArrayRef[T]) withRef(r ref) any {
	return ArrayRef[T]{r: r}
}

// Type returns the array's layout, or nil for an empty handle.
func (a ArrayRef[T]) Type() *types.Descriptor {
	return a.r.desc
}

// Addr returns the array's heap address.
func (a ArrayRef[T]) Addr() uint32 {
	return a.r.addr
}

// IsNull reports whether the handle refers to no array.
func (a ArrayRef[T]) IsNull() bool {
	return a.r.null()
}

// Valid returns the error any access through the handle would fail with.
func (a ArrayRef[T]) Valid() error {
	return a.r.check(errors.PhaseIndex)
}

func (a ArrayRef[T]) header() (length, capacity uint32, err error) {
	if err := a.r.check(errors.PhaseIndex); err != nil {
		return 0, 0, err
	}
	return a.r.rt.heap.ArrayHeader(a.r.addr)
}

// Size returns the array's length and capacity, or the error the handle
// fails with.
func (a ArrayRef[T]) Size() (length, capacity int, err error) {
	n, c, err := a.header()
	if err != nil {
		return 0, 0, err
	}
	return int(n), int(c), nil
}

// Len returns the number of elements. An invalid handle reports 0, so an
// empty array and a stale handle look alike; use Size or Valid to tell
// them apart.
func (a ArrayRef[T]) Len() int {
	n, _, err := a.header()
	if err != nil {
		return 0
	}
	return int(n)
}

// Cap returns the number of elements the current allocation can hold, or 0
// for an invalid handle.
func (a ArrayRef[T]) Cap() int {
	_, c, err := a.header()
	if err != nil {
		return 0
	}
	return int(c)
}

// At returns element i. By-value struct elements are returned as copies.
func (a ArrayRef[T]) At(i int) (T, error) {
	var zero T
	if err := a.r.check(errors.PhaseIndex); err != nil {
		return zero, err
	}
	rt := a.r.rt
	at, err := rt.heap.ElemAddr(a.r.addr, i)
	if err != nil {
		return zero, err
	}
	v, err := rt.load(rt.cur.Load(), a.r.addr, at, a.r.desc.Elem, typeFor[T]())
	if err != nil {
		return zero, err
	}
	out, _ := v.(T)
	return out, nil
}

// Set overwrites element i.
func (a ArrayRef[T]) Set(i int, v T) error {
	if err := a.r.check(errors.PhaseIndex); err != nil {
		return err
	}
	rt, elem := a.r.rt, a.r.desc.Elem
	if !rt.storable(elem, v) {
		return errors.New(errors.PhaseIndex, errors.KindFieldTypeMismatch).
			Path(a.r.desc.Name).
			GoType(goTypeName(v)).
			Type(elem.Name).
			Build()
	}
	at, err := rt.heap.ElemAddr(a.r.addr, i)
	if err != nil {
		return err
	}
	return rt.store(errors.PhaseIndex, at, elem, v)
}

// Append adds v at the end of the array. When the capacity is exhausted the
// elements move to a larger allocation; the returned handle refers to it
// and a handle still naming the old allocation keeps seeing the old
// elements.
func (a ArrayRef[T]) Append(v T) (ArrayRef[T], error) {
	if err := a.r.check(errors.PhaseIndex); err != nil {
		return a, err
	}
	rt, elem := a.r.rt, a.r.desc.Elem
	if !rt.storable(elem, v) {
		return a, errors.New(errors.PhaseIndex, errors.KindFieldTypeMismatch).
			Path(a.r.desc.Name).
			GoType(goTypeName(v)).
			Type(elem.Name).
			Build()
	}
	if h, ok := any(v).(handle); ok {
		r := h.handleRef()
		if !r.null() {
			rt.heap.Pin(r.addr)
			defer rt.heap.Unpin(r.addr)
		}
	}

	arr, at, err := rt.heap.Append(a.r.addr)
	if err != nil {
		return a, err
	}
	out := a
	if arr != a.r.addr {
		obj, _ := rt.heap.Lookup(arr)
		out.r.addr, out.r.serial = arr, obj.Serial
	}
	if err := rt.store(errors.PhaseIndex, at, elem, v); err != nil {
		return out, err
	}
	return out, nil
}

// All iterates over the elements. It yields nothing for an invalid handle
// and stops at the first element that cannot be read, without reporting
// why. Use Elements or Values when the error matters.
func (a ArrayRef[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		n := a.Len()
		for i := range n {
			v, err := a.At(i)
			if err != nil || !yield(i, v) {
				return
			}
		}
	}
}

// Elements iterates over the elements, pairing each with the error reading
// it failed with. An invalid handle yields its error once. Iteration ends
// after the first error.
func (a ArrayRef[T]) Elements() iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		n, _, err := a.header()
		if err != nil {
			yield(zero, err)
			return
		}
		for i := range int(n) {
			v, err := a.At(i)
			if !yield(v, err) || err != nil {
				return
			}
		}
	}
}

// Values copies the elements into a Go slice.
func (a ArrayRef[T]) Values() ([]T, error) {
	n, _, err := a.header()
	if err != nil {
		return nil, err
	}
	out := make([]T, n)
	for i := range out {
		if out[i], err = a.At(i); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Root registers the array in the root table.
func (a ArrayRef[T]) Root() (ArrayRoot[T], error) {
	id, err := a.r.root()
	if err != nil {
		return ArrayRoot[T]{}, err
	}
	return ArrayRoot[T]{root{rt: a.r.rt, id: id}}, nil
}

// ConstructArray allocates an array of elemType holding the values of seq.
// The array's length and capacity both equal the number of values.
func ConstructArray[T any](rt *Runtime, elemType string, seq iter.Seq[T]) (ArrayRef[T], error) {
	inst, err := rt.instance(errors.PhaseAlloc)
	if err != nil {
		return ArrayRef[T]{}, err
	}
	arr, err := inst.snap.Resolve("[" + elemType + "]")
	if err != nil {
		return ArrayRef[T]{}, err
	}
	if gt := typeFor[T](); !matches(gt, arr.Elem) {
		return ArrayRef[T]{}, errors.ArgumentTypeMismatch("construct_array", 0, gt.String(), elemType)
	}

	values := slices.Collect(seq)
	if uint64(len(values)) > math.MaxUint32 {
		return ArrayRef[T]{}, errors.InvalidInput(errors.PhaseAlloc, "too many elements")
	}
	for i, v := range values {
		if !rt.storable(arr.Elem, v) {
			return ArrayRef[T]{}, errors.ArgumentTypeMismatch("construct_array", i, goTypeName(v), elemType)
		}
		if h, ok := any(v).(handle); ok {
			if r := h.handleRef(); !r.null() {
				rt.heap.Pin(r.addr)
				defer rt.heap.Unpin(r.addr)
			}
		}
	}

	n := uint32(len(values))
	addr, err := rt.heap.AllocArray(arr, n, n)
	if err != nil {
		return ArrayRef[T]{}, err
	}
	for i, v := range values {
		at, err := rt.heap.ElemAddr(addr, i)
		if err != nil {
			return ArrayRef[T]{}, err
		}
		if err := rt.store(errors.PhaseAlloc, at, arr.Elem, v); err != nil {
			return ArrayRef[T]{}, err
		}
	}
	r, err := rt.objectRef(inst, addr)
	if err != nil {
		return ArrayRef[T]{}, err
	}
	return ArrayRef[T]{r: r}, nil
}
