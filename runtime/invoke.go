package runtime

import (
	"context"
	"reflect"

	"go.uber.org/zap"

	"github.com/belagoesr/mun/errors"
	"github.com/belagoesr/mun/types"
)

// Invoke calls a function of the loaded module and converts its result to
// R. Arguments must have the exact Go type of their parameter: int32 for
// i32, int for isize, a StructRef for a struct, an ArrayRef for an array.
// Use struct{} as R for functions that return nothing.
func Invoke[R any](ctx context.Context, rt *Runtime, name string, args ...any) (R, error) {
	var zero R
	v, err := rt.invoke(ctx, name, typeFor[R](), args)
	if err != nil || v == nil {
		return zero, err
	}
	out, _ := v.(R)
	return out, nil
}

// Call invokes a function and returns its result as the natural Go value:
// a primitive, a StructRef, an ArrayRef[any], or nil for no result.
func (rt *Runtime) Call(ctx context.Context, name string, args ...any) (any, error) {
	return rt.invoke(ctx, name, anyType, args)
}

func (rt *Runtime) invoke(ctx context.Context, name string, want reflect.Type, args []any) (any, error) {
	if err := rt.lock(ctx, errors.PhaseInvoke); err != nil {
		return nil, err
	}
	defer rt.mu.Unlock()

	if rt.closed.Load() {
		return nil, errors.NotInitialized(errors.PhaseInvoke, "runtime")
	}
	if _, err := rt.applyPending(ctx); err != nil {
		rt.logger.Debug("invoking previous module", zap.String("function", name))
	}

	inst := rt.cur.Load()
	fn, ok := inst.funcs[name]
	if !ok {
		return nil, errors.FunctionNotFound(name)
	}
	sig := fn.sig
	if len(args) != len(sig.params) {
		return nil, errors.ArgumentCountMismatch(name, len(sig.params), len(args))
	}
	if err := checkReturn(name, sig.ret, want); err != nil {
		return nil, err
	}

	slots := make([]uint64, 0, len(sig.paramSlots))
	var pinned []uint32
	defer func() {
		for _, addr := range pinned {
			rt.heap.Unpin(addr)
		}
	}()
	for i, p := range sig.params {
		var err error
		slots, pinned, err = rt.marshalArg(name, i, p, args[i], slots, pinned)
		if err != nil {
			return nil, err
		}
	}

	if rt.heap.NeedsCollect() {
		if _, err := rt.collect(); err != nil {
			return nil, err
		}
	}

	// Results are converted before the invocation ends: boxing a returned
	// value must not collect what its slots refer to.
	rt.heap.BeginInvocation()
	defer rt.heap.EndInvocation()
	results, err := fn.fn.Call(context.WithValue(ctx, invocationKey{}, rt), slots...)
	if err != nil {
		return nil, errors.Trap(name, err)
	}
	if sig.ret == nil || want == unitType {
		return nil, nil
	}
	return rt.unmarshal(inst, name, sig.ret, want, results)
}

func checkReturn(name string, ret *types.Descriptor, want reflect.Type) error {
	if want == anyType || want == unitType {
		return nil
	}
	if ret == nil {
		return errors.ReturnTypeMismatch(name, want.String(), "void")
	}
	if !matches(want, ret) {
		return errors.ReturnTypeMismatch(name, want.String(), ret.Name)
	}
	return nil
}

// marshalArg appends the slots of one argument. Referenced objects are
// pinned until the invocation returns.
func (rt *Runtime) marshalArg(name string, i int, p *types.Descriptor, v any, slots []uint64, pinned []uint32) ([]uint64, []uint32, error) {
	if !rt.storable(p, v) {
		return slots, pinned, errors.ArgumentTypeMismatch(name, i, goTypeName(v), p.Name)
	}
	switch {
	case p.Kind.IsPrimitive():
		bits, _ := toBits(p.Kind, v)
		return append(slots, bitsToSlot(p.Kind, bits)), pinned, nil
	case p.IsValueStruct():
		s := v.(StructRef)
		if err := s.r.check(errors.PhaseMarshal); err != nil {
			return slots, pinned, err
		}
		slots, err := rt.flattenFrom(s.r.addr, p, slots)
		return slots, pinned, err
	default:
		r := v.(handle).handleRef()
		if r.null() {
			return append(slots, 0), pinned, nil
		}
		if err := r.check(errors.PhaseMarshal); err != nil {
			return slots, pinned, err
		}
		if err := current(errors.PhaseMarshal, r.desc, p); err != nil {
			return slots, pinned, err
		}
		rt.heap.Pin(r.addr)
		return append(slots, uint64(r.addr)), append(pinned, r.addr), nil
	}
}

// flattenFrom appends the slots of the by-value struct t stored at addr.
func (rt *Runtime) flattenFrom(addr uint32, t *types.Descriptor, slots []uint64) ([]uint64, error) {
	for i := range t.Fields {
		f := &t.Fields[i]
		if f.Type.IsValueStruct() {
			var err error
			if slots, err = rt.flattenFrom(addr+f.Offset, f.Type, slots); err != nil {
				return nil, err
			}
			continue
		}
		bits, err := rt.heap.Load(addr+f.Offset, f.Type)
		if err != nil {
			return nil, err
		}
		if f.Type.Kind.IsPrimitive() {
			bits = bitsToSlot(f.Type.Kind, bits)
		}
		slots = append(slots, bits)
	}
	return slots, nil
}

// unflattenTo stores the slots of a by-value struct at addr and returns the
// slots left over.
func (rt *Runtime) unflattenTo(addr uint32, t *types.Descriptor, slots []uint64) ([]uint64, error) {
	for i := range t.Fields {
		f := &t.Fields[i]
		if f.Type.IsValueStruct() {
			var err error
			if slots, err = rt.unflattenTo(addr+f.Offset, f.Type, slots); err != nil {
				return nil, err
			}
			continue
		}
		if len(slots) == 0 {
			return nil, errors.InvalidData(errors.PhaseMarshal, []string{t.Name, f.Name}, "missing result slot")
		}
		bits := slots[0]
		if f.Type.Kind.IsPrimitive() {
			bits = slotToBits(f.Type.Kind, bits)
		} else {
			bits &= 0xffffffff
		}
		if err := rt.heap.Store(addr+f.Offset, f.Type, bits); err != nil {
			return nil, err
		}
		slots = slots[1:]
	}
	return slots, nil
}

func (rt *Runtime) unmarshal(inst *instance, name string, ret *types.Descriptor, want reflect.Type, results []uint64) (any, error) {
	if len(results) == 0 {
		return nil, errors.InvalidData(errors.PhaseMarshal, []string{name}, "missing result")
	}
	switch {
	case ret.Kind.IsPrimitive():
		return fromBits(ret.Kind, slotToBits(ret.Kind, results[0])), nil
	case ret.IsValueStruct():
		box, err := rt.heap.Alloc(ret)
		if err != nil {
			return nil, err
		}
		if _, err := rt.unflattenTo(box, ret, results); err != nil {
			return nil, err
		}
		r, err := rt.objectRef(inst, box)
		if err != nil {
			return nil, err
		}
		return StructRef{r: r}, nil
	default:
		r, err := rt.refTo(inst, uint32(results[0]), ret)
		if err != nil {
			return nil, err
		}
		return surface(r, want), nil
	}
}
