package heap

import (
	"testing"

	"github.com/belagoesr/mun/errors"
	"github.com/belagoesr/mun/types"
)

func TestAppendGrowth(t *testing.T) {
	h := newHeap(t, 1, 0, Options{})
	i32 := types.Primitive(types.KindI32)
	arr := types.ArrayOf(i32)

	addr, err := h.AllocArray(arr, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	h.Pin(addr)

	var caps []uint32
	reallocs := 0
	for i := 0; i < 100; i++ {
		next, elem, err := h.Append(addr)
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		if next != addr {
			reallocs++
			h.Unpin(addr)
			h.Pin(next)
			addr = next
		}
		if err := h.Store(elem, i32, uint64(i)); err != nil {
			t.Fatal(err)
		}
		l, c, err := h.ArrayHeader(addr)
		if err != nil {
			t.Fatal(err)
		}
		if l != uint32(i+1) || l > c {
			t.Fatalf("after %d appends: len %d cap %d", i+1, l, c)
		}
		if n := len(caps); n > 0 && c < caps[n-1] {
			t.Fatalf("capacity shrank from %d to %d", caps[n-1], c)
		}
		caps = append(caps, c)
	}
	if reallocs > 15 {
		t.Errorf("%d reallocations for 100 appends", reallocs)
	}

	for i := 0; i < 100; i++ {
		at, err := h.ElemAddr(addr, i)
		if err != nil {
			t.Fatal(err)
		}
		v, _ := h.Load(at, i32)
		if v != uint64(i) {
			t.Fatalf("element %d = %d", i, v)
		}
	}
}

func TestAppendLeavesOldAllocation(t *testing.T) {
	h := newHeap(t, 1, 0, Options{})
	i32 := types.Primitive(types.KindI32)
	arr := types.ArrayOf(i32)

	old, _ := h.AllocArray(arr, 1, 1)
	at, _ := h.ElemAddr(old, 0)
	_ = h.Store(at, i32, 7)

	next, elem, err := h.Append(old)
	if err != nil {
		t.Fatal(err)
	}
	if next == old {
		t.Fatal("full array should move")
	}
	_ = h.Store(elem, i32, 8)

	if l, _, _ := h.ArrayHeader(old); l != 1 {
		t.Errorf("old length changed to %d", l)
	}
	if l, c, _ := h.ArrayHeader(next); l != 2 || c < 2 {
		t.Errorf("new header %d/%d", l, c)
	}
	first, _ := h.ElemAddr(next, 0)
	if v, _ := h.Load(first, i32); v != 7 {
		t.Errorf("copied element = %d", v)
	}
}

func TestElemAddrBounds(t *testing.T) {
	h := newHeap(t, 1, 0, Options{})
	arr := types.ArrayOf(types.Primitive(types.KindI64))
	addr, _ := h.AllocArray(arr, 2, 8)

	for _, i := range []int{-1, 2, 7, 8} {
		_, err := h.ElemAddr(addr, i)
		if !errors.Is(err, errors.ErrIndexOutOfBounds) {
			t.Errorf("ElemAddr(%d): got %v", i, err)
		}
	}
	at, err := h.ElemAddr(addr, 1)
	if err != nil || at != addr+types.ArrayHeaderSize+8 {
		t.Errorf("ElemAddr(1) = %d, %v", at, err)
	}
}

func TestCollectFollowsReferences(t *testing.T) {
	h := newHeap(t, 1, 0, Options{})
	named := buildTypes(t)
	node := named["Node"]
	next, _ := node.Field("next")

	var rooted uint32
	h.SetRoots(func(yield func(uint32) bool) {
		yield(rooted)
	})

	// rooted array of Node -> a -> b; c is garbage.
	list := types.ArrayOf(node)
	rooted, _ = h.AllocArray(list, 1, 1)
	a, _ := h.Alloc(node)
	b, _ := h.Alloc(node)
	c, _ := h.Alloc(node)

	slot, _ := h.ElemAddr(rooted, 0)
	_ = h.Store(slot, node, uint64(a))
	_ = h.Store(a+next.Offset, node, uint64(b))
	_ = h.Store(b+next.Offset, node, uint64(b))

	cs, err := h.Collect()
	if err != nil {
		t.Fatal(err)
	}
	if cs.FreedObjects != 1 || cs.Marked != 3 {
		t.Errorf("collect stats: %+v", cs)
	}
	for _, addr := range []uint32{rooted, a, b} {
		if _, ok := h.Lookup(addr); !ok {
			t.Errorf("reachable object %d was reclaimed", addr)
		}
	}
	if _, ok := h.Lookup(c); ok {
		t.Error("unreachable object survived")
	}

	var refs []uint32
	if err := h.Trace(a, node, func(r uint32) { refs = append(refs, r) }); err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 || refs[0] != b {
		t.Errorf("Trace(a) = %v", refs)
	}
}

func TestBoxValueStruct(t *testing.T) {
	h := newHeap(t, 1, 0, Options{})
	value := buildTypes(t)["Value"]
	i64 := types.Primitive(types.KindI64)

	arr, _ := h.AllocArray(types.ArrayOf(value), 1, 1)
	elem, _ := h.ElemAddr(arr, 0)
	_ = h.Store(elem, i64, 253)
	_ = h.Store(elem+8, i64, 123)

	box, err := h.Box(arr, elem, value)
	if err != nil {
		t.Fatal(err)
	}
	_ = h.Store(box, i64, 1)

	if v, _ := h.Load(elem, i64); v != 253 {
		t.Errorf("boxing must copy, origin = %d", v)
	}
	if v, _ := h.Load(box+8, i64); v != 123 {
		t.Errorf("box other = %d", v)
	}

	census := h.Census()
	if e := census[value.Fingerprint]; e.Objects != 1 {
		t.Errorf("census for Value: %+v", e)
	}
	if !h.Holds(value) {
		t.Error("Holds(Value) should see the array element type")
	}
}
