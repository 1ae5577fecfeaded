package runtime

import (
	"context"
	"fmt"
	"slices"
	"testing"
)

func TestHandleString(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t)

	xs, err := Invoke[ArrayRef[int32]](ctx, rt, "arrays")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if got := xs.String(); got != "[5, 4, 3, 2, 1]" {
		t.Errorf("array = %q", got)
	}

	p, err := NewStruct(rt, "Pair")
	if err != nil {
		t.Fatalf("new struct: %v", err)
	}
	if got := fmt.Sprint(p); got != "Pair{id: 0, left: null, pos: Value{value: 0, other: 0}, items: null}" {
		t.Errorf("fresh pair = %q", got)
	}

	n, _ := Invoke[StructRef](ctx, rt, "new_number", int32(3))
	items, _ := ConstructArray(rt, "i32", slices.Values([]int32{1, 2}))
	if err := p.Set("left", n); err != nil {
		t.Fatalf("set left: %v", err)
	}
	if err := p.Set("items", items); err != nil {
		t.Fatalf("set items: %v", err)
	}
	want := "Pair{id: 0, left: Number{value: 3}, pos: Value{value: 0, other: 0}, items: [1, 2]}"
	if got := p.String(); got != want {
		t.Errorf("pair = %q, want %q", got, want)
	}

	if got := (StructRef{}).String(); got != "null" {
		t.Errorf("empty handle = %q", got)
	}
}

func TestHandleStringAfterReload(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t)

	xs, _ := Invoke[ArrayRef[int32]](ctx, rt, "arrays")
	if err := rt.Reload(ctx, testModule()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	got := xs.String()
	if len(got) < 2 || got[0] != '<' || got[len(got)-1] != '>' {
		t.Errorf("stale handle = %q, want the access error", got)
	}
}
