package runtime

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"testing"

	"github.com/tetratelabs/wazero/api"

	"github.com/belagoesr/mun/errors"
	"github.com/belagoesr/mun/types"
)

func numberDef(fields ...types.FieldDef) types.Def {
	if len(fields) == 0 {
		fields = []types.FieldDef{{Name: "value", Type: "i32"}}
	}
	return types.Def{Name: "Number", Fields: fields}
}

func valueDef(fields ...types.FieldDef) types.Def {
	if len(fields) == 0 {
		fields = []types.FieldDef{{Name: "value", Type: "i64"}, {Name: "other", Type: "i64"}}
	}
	return types.Def{Name: "Value", Value: true, Fields: fields}
}

var pairDef = types.Def{Name: "Pair", Fields: []types.FieldDef{
	{Name: "id", Type: "u32", ReadOnly: true},
	{Name: "left", Type: "Number"},
	{Name: "pos", Type: "Value"},
	{Name: "items", Type: "[i32]"},
}}

var testFunctions = []types.FuncDef{
	{Name: "arrays", Return: "[i32]"},
	{Name: "numbers", Return: "[Number]"},
	{Name: "values", Return: "[Value]"},
	{Name: "add_one", Params: []types.ParamDef{{Name: "xs", Type: "[i32]"}, {Name: "n", Type: "usize"}}},
	{Name: "sum", Return: "i64", Params: []types.ParamDef{{Name: "xs", Type: "[i32]"}}},
	{Name: "new_number", Return: "Number", Params: []types.ParamDef{{Name: "value", Type: "i32"}}},
	{Name: "make_value", Return: "Value", Params: []types.ParamDef{{Name: "value", Type: "i64"}, {Name: "other", Type: "i64"}}},
	{Name: "value_sum", Return: "i64", Params: []types.ParamDef{{Name: "v", Type: "Value"}}},
	{Name: "fail", Return: "i32"},
}

func i32Array(f *Frame, vals ...int32) (uint64, error) {
	slot, err := f.NewArray("i32", uint32(len(vals)), uint32(len(vals)))
	if err != nil {
		return 0, err
	}
	xs, err := FrameArray[int32](f, slot)
	if err != nil {
		return 0, err
	}
	for i, v := range vals {
		if err := xs.Set(i, v); err != nil {
			return 0, err
		}
	}
	return slot, nil
}

func structArray(f *Frame, typeName string, fill func(s StructRef, i int) error, n int) (uint64, error) {
	slot, err := f.NewArray(typeName, uint32(n), uint32(n))
	if err != nil {
		return 0, err
	}
	xs, err := FrameArray[StructRef](f, slot)
	if err != nil {
		return 0, err
	}
	for i := range n {
		ss, err := f.NewStruct(typeName)
		if err != nil {
			return 0, err
		}
		s, err := f.Struct(ss)
		if err != nil {
			return 0, err
		}
		if err := fill(s, i); err != nil {
			return 0, err
		}
		if err := xs.Set(i, s); err != nil {
			return 0, err
		}
	}
	return slot, nil
}

var testNative = map[string]NativeFunc{
	"arrays": func(_ context.Context, f *Frame, stack []uint64) error {
		slot, err := i32Array(f, 5, 4, 3, 2, 1)
		stack[0] = slot
		return err
	},
	"numbers": func(_ context.Context, f *Frame, stack []uint64) error {
		vals := []int32{2351, 18571}
		slot, err := structArray(f, "Number", func(s StructRef, i int) error {
			return s.Set("value", vals[i])
		}, len(vals))
		stack[0] = slot
		return err
	},
	"values": func(_ context.Context, f *Frame, stack []uint64) error {
		slot, err := structArray(f, "Value", func(s StructRef, i int) error {
			if err := s.Set("value", int64(253+i)); err != nil {
				return err
			}
			return s.Set("other", int64(123+i))
		}, 2)
		stack[0] = slot
		return err
	},
	"add_one": func(_ context.Context, f *Frame, stack []uint64) error {
		xs, err := FrameArray[int32](f, stack[0])
		if err != nil {
			return err
		}
		for i := range int(stack[1]) {
			v, err := xs.At(i)
			if err != nil {
				return err
			}
			if err := xs.Set(i, v+1); err != nil {
				return err
			}
		}
		return nil
	},
	"sum": func(_ context.Context, f *Frame, stack []uint64) error {
		xs, err := FrameArray[int32](f, stack[0])
		if err != nil {
			return err
		}
		var total int64
		for _, v := range xs.All() {
			total += int64(v)
		}
		stack[0] = api.EncodeI64(total)
		return nil
	},
	"new_number": func(_ context.Context, f *Frame, stack []uint64) error {
		slot, err := f.NewStruct("Number")
		if err != nil {
			return err
		}
		s, err := f.Struct(slot)
		if err != nil {
			return err
		}
		if err := s.Set("value", api.DecodeI32(stack[0])); err != nil {
			return err
		}
		stack[0] = slot
		return nil
	},
	"make_value": func(context.Context, *Frame, []uint64) error {
		// The flattened parameters already are the flattened result.
		return nil
	},
	"value_sum": func(_ context.Context, _ *Frame, stack []uint64) error {
		stack[0] = api.EncodeI64(int64(stack[0]) + int64(stack[1]))
		return nil
	},
	"fail": func(context.Context, *Frame, []uint64) error {
		return fmt.Errorf("boom")
	},
}

func testModule(defs ...types.Def) *Module {
	if len(defs) == 0 {
		defs = []types.Def{numberDef(), valueDef(), pairDef}
	}
	return &Module{
		Name:      "test",
		Types:     defs,
		Functions: testFunctions,
		Native:    testNative,
	}
}

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	ctx := context.Background()
	rt, err := New(ctx, DefaultConfig())
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	t.Cleanup(func() { rt.Close(ctx) })
	if err := rt.Load(ctx, testModule()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return rt
}

func wantKind(t *testing.T, err error, kind errors.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := errors.KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %s: %v", kind, got, err)
	}
}

func TestInvokeArray(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t)

	xs, err := Invoke[ArrayRef[int32]](ctx, rt, "arrays")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if xs.Len() != 5 || xs.Cap() < xs.Len() {
		t.Fatalf("len %d cap %d", xs.Len(), xs.Cap())
	}
	vals, err := xs.Values()
	if err != nil {
		t.Fatalf("values: %v", err)
	}
	if want := []int32{5, 4, 3, 2, 1}; !slices.Equal(vals, want) {
		t.Fatalf("got %v, want %v", vals, want)
	}
}

func TestCallReturnsNaturalValues(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t)

	v, err := rt.Call(ctx, "arrays")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	xs, ok := v.(ArrayRef[any])
	if !ok {
		t.Fatalf("got %T", v)
	}
	first, err := xs.At(0)
	if err != nil {
		t.Fatalf("at: %v", err)
	}
	if first != any(int32(5)) {
		t.Fatalf("first = %#v", first)
	}

	v, err = rt.Call(ctx, "add_one", xs, uint(0))
	if err != nil || v != nil {
		t.Fatalf("void call = %v, %v", v, err)
	}
}

func TestStructArray(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t)

	ns, err := Invoke[ArrayRef[StructRef]](ctx, rt, "numbers")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if ns.Len() != 2 {
		t.Fatalf("len = %d", ns.Len())
	}
	n, err := ns.At(1)
	if err != nil {
		t.Fatalf("at: %v", err)
	}
	v, err := Field[int32](n, "value")
	if err != nil {
		t.Fatalf("field: %v", err)
	}
	if v != 18571 {
		t.Fatalf("value = %d", v)
	}

	// Elements of a by-reference struct array alias.
	if err := n.Set("value", int32(1)); err != nil {
		t.Fatalf("set: %v", err)
	}
	again, _ := ns.At(1)
	if v, _ := Field[int32](again, "value"); v != 1 {
		t.Fatalf("aliased value = %d", v)
	}
}

func TestValueStructArray(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t)

	vs, err := Invoke[ArrayRef[StructRef]](ctx, rt, "values")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	v, err := vs.At(0)
	if err != nil {
		t.Fatalf("at: %v", err)
	}
	value, _ := Field[int64](v, "value")
	other, _ := Field[int64](v, "other")
	if value != 253 || other != 123 {
		t.Fatalf("got {%d %d}", value, other)
	}

	// Elements of a by-value struct array are copies.
	if err := v.Set("value", int64(1)); err != nil {
		t.Fatalf("set: %v", err)
	}
	again, _ := vs.At(0)
	if value, _ := Field[int64](again, "value"); value != 253 {
		t.Fatalf("element changed through a copy: %d", value)
	}

	// Writing the copy back stores it.
	if err := vs.Set(0, v); err != nil {
		t.Fatalf("set element: %v", err)
	}
	again, _ = vs.At(0)
	if value, _ := Field[int64](again, "value"); value != 1 {
		t.Fatalf("element = %d after write back", value)
	}
}

func TestArgumentAliasing(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t)

	xs, err := Invoke[ArrayRef[int32]](ctx, rt, "arrays")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if _, err := Invoke[struct{}](ctx, rt, "add_one", xs, uint(5)); err != nil {
		t.Fatalf("add_one: %v", err)
	}
	vals, _ := xs.Values()
	if want := []int32{6, 5, 4, 3, 2}; !slices.Equal(vals, want) {
		t.Fatalf("got %v, want %v", vals, want)
	}
}

func TestValueStructArgumentAndResult(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t)

	v, err := Invoke[StructRef](ctx, rt, "make_value", int64(253), int64(123))
	if err != nil {
		t.Fatalf("make_value: %v", err)
	}
	if v.Name() != "Value" {
		t.Fatalf("type = %s", v.Name())
	}
	if got, _ := Field[int64](v, "other"); got != 123 {
		t.Fatalf("other = %d", got)
	}
	sum, err := Invoke[int64](ctx, rt, "value_sum", v)
	if err != nil {
		t.Fatalf("value_sum: %v", err)
	}
	if sum != 376 {
		t.Fatalf("sum = %d", sum)
	}
}

func TestStructFields(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t)

	n, err := Invoke[StructRef](ctx, rt, "new_number", int32(7))
	if err != nil {
		t.Fatalf("new_number: %v", err)
	}
	v, err := n.Get("value")
	if err != nil || v != any(int32(7)) {
		t.Fatalf("get = %#v, %v", v, err)
	}
	if err := SetField(n, "value", int32(8)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got, _ := Field[int32](n, "value"); got != 8 {
		t.Fatalf("value = %d", got)
	}

	_, err = n.Get("missing")
	wantKind(t, err, errors.KindUnknownField)
	_, err = Field[int64](n, "value")
	wantKind(t, err, errors.KindFieldTypeMismatch)
	wantKind(t, n.Set("value", 8), errors.KindFieldTypeMismatch)
	wantKind(t, n.Set("missing", int32(1)), errors.KindUnknownField)
}

func TestNestedFields(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t)

	p, err := NewStruct(rt, "Pair")
	if err != nil {
		t.Fatalf("new struct: %v", err)
	}
	wantKind(t, p.Set("id", uint32(1)), errors.KindReadOnlyField)

	left, err := Field[StructRef](p, "left")
	if err != nil {
		t.Fatalf("left: %v", err)
	}
	if !left.IsNull() {
		t.Fatal("fresh reference field should be null")
	}

	n, _ := Invoke[StructRef](ctx, rt, "new_number", int32(3))
	if err := p.Set("left", n); err != nil {
		t.Fatalf("set left: %v", err)
	}
	if err := n.Set("value", int32(4)); err != nil {
		t.Fatalf("set value: %v", err)
	}
	left, _ = Field[StructRef](p, "left")
	if v, _ := Field[int32](left, "value"); v != 4 {
		t.Fatalf("left.value = %d", v)
	}

	pos, _ := Field[StructRef](p, "pos")
	if err := pos.Set("value", int64(9)); err != nil {
		t.Fatalf("set pos: %v", err)
	}
	again, _ := Field[StructRef](p, "pos")
	if v, _ := Field[int64](again, "value"); v != 0 {
		t.Fatalf("embedded value changed through a copy: %d", v)
	}
	if err := p.Set("pos", pos); err != nil {
		t.Fatalf("store pos: %v", err)
	}
	again, _ = Field[StructRef](p, "pos")
	if v, _ := Field[int64](again, "value"); v != 9 {
		t.Fatalf("pos.value = %d", v)
	}

	xs, _ := ConstructArray(rt, "i32", slices.Values([]int32{1, 2}))
	if err := p.Set("items", xs); err != nil {
		t.Fatalf("set items: %v", err)
	}
	items, err := Field[ArrayRef[int32]](p, "items")
	if err != nil {
		t.Fatalf("items: %v", err)
	}
	if items.Addr() != xs.Addr() || items.Len() != 2 {
		t.Fatalf("items = %#x len %d", items.Addr(), items.Len())
	}
	wantKind(t, p.Set("items", n), errors.KindFieldTypeMismatch)
}

func TestInvokeErrors(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t)
	xs, _ := Invoke[ArrayRef[int32]](ctx, rt, "arrays")

	tests := []struct {
		name string
		call func() error
		kind errors.Kind
	}{
		{"unknown function", func() error {
			_, err := rt.Call(ctx, "missing")
			return err
		}, errors.KindFunctionNotFound},
		{"too many arguments", func() error {
			_, err := rt.Call(ctx, "arrays", int32(1))
			return err
		}, errors.KindArgumentCountMismatch},
		{"int for usize", func() error {
			_, err := rt.Call(ctx, "add_one", xs, 5)
			return err
		}, errors.KindArgumentTypeMismatch},
		{"primitive for array", func() error {
			_, err := rt.Call(ctx, "add_one", int32(1), uint(5))
			return err
		}, errors.KindArgumentTypeMismatch},
		{"wrong return type", func() error {
			_, err := Invoke[int32](ctx, rt, "arrays")
			return err
		}, errors.KindReturnTypeMismatch},
		{"wrong element type", func() error {
			_, err := Invoke[ArrayRef[int64]](ctx, rt, "arrays")
			return err
		}, errors.KindReturnTypeMismatch},
		{"result from void", func() error {
			_, err := Invoke[int32](ctx, rt, "add_one", xs, uint(0))
			return err
		}, errors.KindReturnTypeMismatch},
		{"trap", func() error {
			_, err := rt.Call(ctx, "fail")
			return err
		}, errors.KindTrap},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wantKind(t, tt.call(), tt.kind)
		})
	}

	// The runtime stays usable after every failure.
	if _, err := Invoke[int64](ctx, rt, "sum", xs); err != nil {
		t.Fatalf("sum after errors: %v", err)
	}
}

func TestConstructArrayRoundTrip(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t)

	seqs := [][]int32{
		{},
		{42},
		{3, 1, 2},
		make([]int32, 100),
	}
	for i := range seqs[3] {
		seqs[3][i] = int32(i * i)
	}
	for _, seq := range seqs {
		xs, err := ConstructArray(rt, "i32", slices.Values(seq))
		if err != nil {
			t.Fatalf("construct %v: %v", seq, err)
		}
		if xs.Len() != len(seq) || xs.Cap() < xs.Len() {
			t.Fatalf("len %d cap %d for %d values", xs.Len(), xs.Cap(), len(seq))
		}
		var got []int32
		for _, v := range xs.All() {
			got = append(got, v)
		}
		if !slices.Equal(got, seq) {
			t.Fatalf("got %v, want %v", got, seq)
		}
	}

	xs, _ := ConstructArray(rt, "i32", slices.Values([]int32{1, 2, 3}))
	sum, err := Invoke[int64](ctx, rt, "sum", xs)
	if err != nil || sum != 6 {
		t.Fatalf("sum = %d, %v", sum, err)
	}

	_, err = ConstructArray(rt, "i32", slices.Values([]int64{1}))
	wantKind(t, err, errors.KindArgumentTypeMismatch)
	_, err = ConstructArray(rt, "Missing", slices.Values([]StructRef{}))
	wantKind(t, err, errors.KindUnknownType)
}

func TestConstructStructArray(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t)

	a, _ := Invoke[StructRef](ctx, rt, "new_number", int32(1))
	b, _ := Invoke[StructRef](ctx, rt, "new_number", int32(2))
	ns, err := ConstructArray(rt, "Number", slices.Values([]StructRef{a, b}))
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	second, _ := ns.At(1)
	if second.Addr() != b.Addr() {
		t.Fatalf("element does not alias the struct it was built from")
	}

	v, _ := Invoke[StructRef](ctx, rt, "make_value", int64(1), int64(2))
	_, err = ConstructArray(rt, "Number", slices.Values([]StructRef{v}))
	wantKind(t, err, errors.KindArgumentTypeMismatch)
}

func TestAppendGrowth(t *testing.T) {
	rt := newTestRuntime(t)

	xs, err := ConstructArray(rt, "i32", slices.Values([]int32{}))
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	reallocs := 0
	for i := range 100 {
		prevCap, prevAddr := xs.Cap(), xs.Addr()
		xs, err = xs.Append(int32(i))
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if xs.Cap() < prevCap {
			t.Fatalf("capacity shrank from %d to %d", prevCap, xs.Cap())
		}
		if xs.Len() > xs.Cap() {
			t.Fatalf("len %d > cap %d", xs.Len(), xs.Cap())
		}
		if xs.Addr() != prevAddr {
			reallocs++
		}
	}
	if reallocs > 15 {
		t.Fatalf("%d reallocations for 100 appends", reallocs)
	}
	vals, _ := xs.Values()
	for i, v := range vals {
		if v != int32(i) {
			t.Fatalf("vals[%d] = %d", i, v)
		}
	}
}

func TestAppendLeavesOldAllocation(t *testing.T) {
	rt := newTestRuntime(t)

	a, _ := ConstructArray(rt, "i32", slices.Values([]int32{1, 2, 3, 4}))
	b, err := a.Append(5)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if a.Addr() == b.Addr() {
		t.Fatal("full array was not reallocated")
	}
	if err := b.Set(0, 9); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, _ := a.At(0); v != 1 || a.Len() != 4 {
		t.Fatalf("old handle sees %d, len %d", v, a.Len())
	}
	_, err = b.At(5)
	wantKind(t, err, errors.KindIndexOutOfBounds)
	wantKind(t, b.Set(-1, 0), errors.KindIndexOutOfBounds)
}

func TestRootSurvivesScope(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t)

	var root ArrayRoot[int32]
	func() {
		xs, err := Invoke[ArrayRef[int32]](ctx, rt, "arrays")
		if err != nil {
			t.Fatalf("invoke: %v", err)
		}
		if root, err = xs.Root(); err != nil {
			t.Fatalf("root: %v", err)
		}
	}()
	unrooted, _ := Invoke[ArrayRef[int32]](ctx, rt, "arrays")

	if _, err := rt.GC(ctx); err != nil {
		t.Fatalf("gc: %v", err)
	}

	xs, err := root.AsRef(rt)
	if err != nil {
		t.Fatalf("as ref: %v", err)
	}
	vals, _ := xs.Values()
	if want := []int32{5, 4, 3, 2, 1}; !slices.Equal(vals, want) {
		t.Fatalf("got %v, want %v", vals, want)
	}
	wantKind(t, unrooted.Valid(), errors.KindStaleHandle)

	if err := root.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	_, err = root.AsRef(rt)
	wantKind(t, err, errors.KindRootNotFound)
	wantKind(t, root.Release(), errors.KindRootNotFound)
}

func TestGCReclaimsUnrooted(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t)

	ns, _ := Invoke[ArrayRef[StructRef]](ctx, rt, "numbers")
	first, _ := ns.At(0)
	root, err := first.Root()
	if err != nil {
		t.Fatalf("root: %v", err)
	}

	cs, err := rt.GC(ctx)
	if err != nil {
		t.Fatalf("gc: %v", err)
	}
	if cs.FreedObjects < 2 {
		t.Fatalf("freed %d objects, want the array and one struct", cs.FreedObjects)
	}
	if err := ns.Valid(); err == nil {
		t.Fatal("unrooted array survived")
	}
	n, err := root.AsRef(rt)
	if err != nil {
		t.Fatalf("as ref: %v", err)
	}
	if v, _ := Field[int32](n, "value"); v != 2351 {
		t.Fatalf("value = %d", v)
	}
	if rt.Stats().Roots != 1 {
		t.Fatalf("roots = %d", rt.Stats().Roots)
	}
}

func TestCloseReleasesRoots(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t)

	xs, _ := Invoke[ArrayRef[int32]](ctx, rt, "arrays")
	root, _ := xs.Root()
	if err := rt.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	_, err := root.AsRef(rt)
	wantKind(t, err, errors.KindRootNotFound)
	_, err = rt.Call(ctx, "arrays")
	wantKind(t, err, errors.KindNotInitialized)
	wantKind(t, xs.Valid(), errors.KindNotInitialized)
}

func TestRuntimeIntrospection(t *testing.T) {
	rt := newTestRuntime(t)

	if got := rt.Functions(); !slices.Contains(got, "add_one") || len(got) != len(testFunctions) {
		t.Fatalf("functions = %v", got)
	}
	sig, ok := rt.Signature("add_one")
	if !ok || sig != "fn add_one(xs: [i32], n: usize)" {
		t.Fatalf("signature = %q", sig)
	}
	if sig, _ := rt.Signature("new_number"); sig != "fn new_number(value: i32) -> Number" {
		t.Fatalf("signature = %q", sig)
	}
	st := rt.Stats()
	if st.Module != "test" || st.Types != 3 || st.Reloads != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestNativeModuleUnderDefaultEngine(t *testing.T) {
	ctx := context.Background()
	rt, err := New(ctx, Config{})
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer rt.Close(ctx)

	for gen := 1; gen <= 3; gen++ {
		if err := rt.Reload(ctx, testModule()); err != nil {
			t.Fatalf("load %d: %v", gen, err)
		}
		xs, err := ConstructArray(rt, "i32", slices.Values([]int32{1, 2, 3}))
		if err != nil {
			t.Fatalf("construct: %v", err)
		}
		if total, err := Invoke[int64](ctx, rt, "sum", xs); err != nil || total != 6 {
			t.Fatalf("sum = %d, %v", total, err)
		}
		v, err := Invoke[StructRef](ctx, rt, "make_value", int64(-3), int64(40))
		if err != nil {
			t.Fatalf("make_value: %v", err)
		}
		if total, err := Invoke[int64](ctx, rt, "value_sum", v); err != nil || total != 37 {
			t.Fatalf("value_sum = %d, %v", total, err)
		}

		for _, name := range []string{fmt.Sprintf("mun_native_%d", gen), fmt.Sprintf("mun_code_%d", gen)} {
			if rt.engine.Module(name) == nil {
				t.Fatalf("%s not instantiated", name)
			}
		}
		if gen > 1 {
			for _, name := range []string{fmt.Sprintf("mun_native_%d", gen-1), fmt.Sprintf("mun_code_%d", gen-1)} {
				if rt.engine.Module(name) != nil {
					t.Fatalf("%s still open after reload", name)
				}
			}
		}
	}
}

func TestNativeImplementationMismatch(t *testing.T) {
	ctx := context.Background()
	rt := newEmptyRuntime(t)

	missing := testModule()
	missing.Native = maps.Clone(testNative)
	delete(missing.Native, "sum")
	wantKind(t, rt.Load(ctx, missing), errors.KindInvalidData)

	extra := testModule()
	extra.Native = maps.Clone(testNative)
	extra.Native["unused"] = testNative["fail"]
	wantKind(t, rt.Load(ctx, extra), errors.KindInvalidData)

	if len(rt.Functions()) != 0 {
		t.Fatalf("rejected module became active: %v", rt.Functions())
	}
}

func TestArraySizeReportsInvalidHandles(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t)

	xs, _ := Invoke[ArrayRef[int32]](ctx, rt, "arrays")
	if n, c, err := xs.Size(); err != nil || n != 5 || c != 5 {
		t.Fatalf("size = %d, %d, %v", n, c, err)
	}
	var got []int32
	for v, err := range xs.Elements() {
		if err != nil {
			t.Fatalf("element: %v", err)
		}
		got = append(got, v)
	}
	if !slices.Equal(got, []int32{5, 4, 3, 2, 1}) {
		t.Fatalf("elements = %v", got)
	}

	if err := rt.Reload(ctx, testModule()); err != nil {
		t.Fatalf("reload: %v", err)
	}

	// Len and Cap cannot tell a stale handle from an empty array.
	if xs.Len() != 0 || xs.Cap() != 0 {
		t.Fatalf("len %d cap %d", xs.Len(), xs.Cap())
	}
	_, _, err := xs.Size()
	wantKind(t, err, errors.KindStaleTypeLayout)
	for range xs.All() {
		t.Fatal("All yielded from a stale handle")
	}
	var errs []error
	for _, err := range xs.Elements() {
		errs = append(errs, err)
	}
	if len(errs) != 1 {
		t.Fatalf("elements yielded %d times", len(errs))
	}
	wantKind(t, errs[0], errors.KindStaleTypeLayout)
	_, err = xs.Values()
	wantKind(t, err, errors.KindStaleTypeLayout)
}
