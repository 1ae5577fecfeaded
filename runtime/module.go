package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero/api"

	"github.com/belagoesr/mun/errors"
	"github.com/belagoesr/mun/types"
)

// NativeFunc implements a compiled function in Go. stack holds the flattened
// parameter slots on entry and receives the result slots, the same way the
// engine passes values to host functions. A returned error aborts the
// invocation as a trap. Runtime methods called with ctx fail with KindBusy
// while the invocation runs.
type NativeFunc func(ctx context.Context, f *Frame, stack []uint64) error

// Module is one compiled unit handed to Load or Reload: its type layout
// table, its function signature table and the code.
//
// Code is either a core wasm binary or a set of native functions. A wasm
// module imports its memory from the heap module and may import the
// allocation intrinsics. When Types and Functions are both empty the tables
// are read from the binary's metadata section.
type Module struct {
	Native    map[string]NativeFunc
	Name      string
	Types     []types.Def
	Functions []types.FuncDef
	// TypeRefs lists the types compiled code allocates through the
	// intrinsics; alloc_struct and alloc_array take an index into it.
	TypeRefs []string
	Wasm     []byte
}

// signature is a function's declared types together with the engine level
// slots they flatten to.
type signature struct {
	def         types.FuncDef
	params      []*types.Descriptor
	ret         *types.Descriptor
	paramSlots  []api.ValueType
	resultSlots []api.ValueType
}

func newSignature(def types.FuncDef, snap *types.Snapshot) (*signature, error) {
	if def.Name == "" {
		return nil, errors.InvalidInput(errors.PhaseLoad, "function without a name")
	}
	sig := &signature{def: def, params: make([]*types.Descriptor, len(def.Params))}
	for i, p := range def.Params {
		d, err := snap.Resolve(p.Type)
		if err != nil {
			return nil, errors.New(errors.PhaseLoad, errors.KindUnknownType).
				Path(def.Name, p.Name).
				Type(p.Type).
				Cause(err).
				Build()
		}
		sig.params[i] = d
		sig.paramSlots = flatten(d, sig.paramSlots)
	}
	if def.Return != "" {
		d, err := snap.Resolve(def.Return)
		if err != nil {
			return nil, errors.New(errors.PhaseLoad, errors.KindUnknownType).
				Path(def.Name, "return").
				Type(def.Return).
				Cause(err).
				Build()
		}
		sig.ret = d
		sig.resultSlots = flatten(d, nil)
	}
	return sig, nil
}

func (s *signature) String() string {
	var b strings.Builder
	b.WriteString("fn ")
	b.WriteString(s.def.Name)
	b.WriteByte('(')
	for i, p := range s.def.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %s", p.Name, s.params[i].Name)
	}
	b.WriteByte(')')
	if s.ret != nil {
		b.WriteString(" -> ")
		b.WriteString(s.ret.Name)
	}
	return b.String()
}

// flatten appends the slots a value of type t occupies in a call. By-value
// structs are passed field by field; references are addresses.
func flatten(t *types.Descriptor, out []api.ValueType) []api.ValueType {
	switch {
	case t.Kind.IsPrimitive():
		return append(out, slotType(t.Kind))
	case t.IsValueStruct():
		for i := range t.Fields {
			out = flatten(t.Fields[i].Type, out)
		}
		return out
	default:
		return append(out, api.ValueTypeI32)
	}
}

// Frame gives a native function access to the heap and type table of the
// module it belongs to.
type Frame struct {
	rt   *Runtime
	inst *instance
}

// Resolve looks up a type in the layout table of the calling module.
func (f *Frame) Resolve(name string) (*types.Descriptor, error) {
	return f.inst.snap.Resolve(name)
}

// NewStruct allocates a zeroed struct and returns its address slot.
func (f *Frame) NewStruct(typeName string) (uint64, error) {
	d, err := f.Resolve(typeName)
	if err != nil {
		return 0, err
	}
	if d.Kind != types.KindStruct {
		return 0, errors.InvalidInput(errors.PhaseAlloc, typeName+" is not a struct type")
	}
	addr, err := f.rt.heap.Alloc(d)
	return uint64(addr), err
}

// NewArray allocates an array of elemType with the given length and capacity
// and returns its address slot.
func (f *Frame) NewArray(elemType string, length, capacity uint32) (uint64, error) {
	d, err := f.Resolve("[" + elemType + "]")
	if err != nil {
		return 0, err
	}
	addr, err := f.rt.heap.AllocArray(d, length, capacity)
	return uint64(addr), err
}

// Struct wraps the struct whose address is in slot.
func (f *Frame) Struct(slot uint64) (StructRef, error) {
	r, err := f.rt.objectRef(f.inst, uint32(slot))
	if err != nil {
		return StructRef{}, err
	}
	if r.desc.Kind != types.KindStruct {
		return StructRef{}, errors.InvalidData(errors.PhaseMarshal, nil, "slot does not hold a struct: "+r.desc.Name)
	}
	return StructRef{r: r}, nil
}

// FrameArray wraps the array whose address is in slot.
func FrameArray[T any](f *Frame, slot uint64) (ArrayRef[T], error) {
	r, err := f.rt.objectRef(f.inst, uint32(slot))
	if err != nil {
		return ArrayRef[T]{}, err
	}
	if r.desc.Kind != types.KindArray {
		return ArrayRef[T]{}, errors.InvalidData(errors.PhaseMarshal, nil, "slot does not hold an array: "+r.desc.Name)
	}
	if gt := typeFor[T](); !matches(gt, r.desc.Elem) {
		return ArrayRef[T]{}, errors.New(errors.PhaseMarshal, errors.KindArgumentTypeMismatch).
			GoType(gt.String()).
			Type(r.desc.Name).
			Build()
	}
	return ArrayRef[T]{r: r}, nil
}
