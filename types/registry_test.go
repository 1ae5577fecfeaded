package types

import (
	"sync"
	"testing"

	"github.com/belagoesr/mun/errors"
)

func numberDefs(fieldType string) []Def {
	return []Def{{Name: "Number", Fields: []FieldDef{{Name: "value", Type: fieldType}}}}
}

func TestRegistryDefineResolve(t *testing.T) {
	r := NewRegistry()
	if err := r.Define(numberDefs("i32")); err != nil {
		t.Fatalf("Define: %v", err)
	}

	d, err := r.Resolve("Number")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	off, err := r.FieldOffset(d, "value")
	if err != nil || off != 0 {
		t.Errorf("FieldOffset: got %d, %v", off, err)
	}
	if _, err := r.FieldOffset(d, "nope"); !errors.Is(err, errors.ErrUnknownField) {
		t.Errorf("FieldOffset unknown: got %v", err)
	}
	if _, err := r.Resolve("Missing"); !errors.Is(err, errors.ErrUnknownType) {
		t.Errorf("Resolve missing: got %v", err)
	}

	a1, err := r.Resolve("[Number]")
	if err != nil {
		t.Fatalf("Resolve array: %v", err)
	}
	a2, _ := r.Resolve("[Number]")
	if a1 != a2 {
		t.Error("array descriptors should be cached per snapshot")
	}
}

func TestRegistryDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Define(numberDefs("i32")); err != nil {
		t.Fatal(err)
	}
	v := r.Snapshot().Version()

	if err := r.Define(numberDefs("i32")); err != nil {
		t.Fatalf("identical re-registration: %v", err)
	}
	if r.Snapshot().Version() != v {
		t.Error("no-op registration should not publish a snapshot")
	}

	err := r.Define(numberDefs("i64"))
	if !errors.Is(err, errors.ErrDuplicateType) {
		t.Fatalf("got %v, want DuplicateType", err)
	}
}

func TestRegistryTxn(t *testing.T) {
	r := NewRegistry()
	if err := r.Define(append(numberDefs("i32"), Def{Name: "Gone"})); err != nil {
		t.Fatal(err)
	}
	old, _ := r.Resolve("Number")
	oldArr, err := r.Resolve("[Number]")
	if err != nil {
		t.Fatalf("Resolve array: %v", err)
	}

	txn := r.Begin()
	if err := txn.Define([]Def{{Name: "Number", Fields: []FieldDef{
		{Name: "value", Type: "i32"},
		{Name: "extra", Type: "f64"},
	}}}); err != nil {
		t.Fatalf("txn Define: %v", err)
	}

	changes := txn.Diff()
	if len(changes) != 2 || changes[0].Name != "Gone" || changes[0].Kind != Removed ||
		changes[1].Name != "Number" || changes[1].Kind != Changed {
		t.Fatalf("unexpected diff: %+v", changes)
	}
	if err := CheckCompatible(txn.Base(), txn.Snapshot()); err != nil {
		t.Fatalf("adding a field should be compatible: %v", err)
	}

	if cur, _ := r.Resolve("Number"); cur != old {
		t.Error("staged types must not be visible before Commit")
	}

	retired, err := txn.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if len(retired) != 2 {
		t.Errorf("retired: got %d, want 2", len(retired))
	}
	if cur, _ := r.Resolve("Number"); cur.SameLayout(old) {
		t.Error("Commit should publish the new layout")
	}
	if r.Snapshot().Current(old) {
		t.Error("old layout should no longer be current")
	}
	if r.Snapshot().Current(oldArr) {
		t.Error("an array of references follows its element layout")
	}
	for _, name := range []string{"[Number]", "[i32]", "[[Number]]"} {
		d, err := r.Resolve(name)
		if err != nil {
			t.Fatalf("Resolve(%s): %v", name, err)
		}
		if !r.Snapshot().Current(d) {
			t.Errorf("%s resolved after Commit is not current", name)
		}
	}
	if n := len(r.Retired()); n != 2 {
		t.Errorf("Retired: got %d", n)
	}
	if n := r.Prune(func(d *Descriptor) bool { return d.Name == "Number" }); n != 1 {
		t.Errorf("Prune: got %d, want 1", n)
	}

	if _, err := txn.Commit(); err == nil {
		t.Error("second Commit should fail")
	}
}

func TestRegistryTxnConflict(t *testing.T) {
	r := NewRegistry()
	txn := r.Begin()
	if err := r.Define(numberDefs("i32")); err != nil {
		t.Fatal(err)
	}
	if _, err := txn.Commit(); errors.KindOf(err) != errors.KindBusy {
		t.Fatalf("got %v, want busy", err)
	}
}

func TestCheckCompatible(t *testing.T) {
	base := []Def{
		{Name: "Value", Value: true, Fields: []FieldDef{{Name: "v", Type: "i64"}}},
		{Name: "Number", Fields: []FieldDef{{Name: "value", Type: "i32"}, {Name: "list", Type: "[Value]"}}},
	}

	tests := []struct {
		name string
		next []Def
		ok   bool
	}{
		{
			name: "reorder",
			next: []Def{
				base[0],
				{Name: "Number", Fields: []FieldDef{{Name: "list", Type: "[Value]"}, {Name: "value", Type: "i32"}}},
			},
			ok: true,
		},
		{
			name: "field type change",
			next: []Def{
				base[0],
				{Name: "Number", Fields: []FieldDef{{Name: "value", Type: "f32"}, {Name: "list", Type: "[Value]"}}},
			},
		},
		{
			name: "struct kind flip",
			next: []Def{
				{Name: "Value", Fields: []FieldDef{{Name: "v", Type: "i64"}}},
				base[1],
			},
		},
		{
			name: "array element change",
			next: []Def{
				base[0],
				{Name: "Number", Fields: []FieldDef{{Name: "value", Type: "i32"}, {Name: "list", Type: "[i64]"}}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			if err := r.Define(base); err != nil {
				t.Fatal(err)
			}
			txn := r.Begin()
			defer txn.Abort()
			if err := txn.Define(tt.next); err != nil {
				t.Fatal(err)
			}
			err := CheckCompatible(txn.Base(), txn.Snapshot())
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, errors.ErrIncompatibleLayoutChange) {
				t.Fatalf("got %v, want IncompatibleLayoutChange", err)
			}
		})
	}
}

func TestRegistryConcurrentReads(t *testing.T) {
	r := NewRegistry()
	if err := r.Define(numberDefs("i32")); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if _, err := r.Resolve("[Number]"); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	for i := 0; i < 10; i++ {
		txn := r.Begin()
		_ = txn.Define(numberDefs("i32"))
		_, _ = txn.Commit()
	}
	wg.Wait()
}
