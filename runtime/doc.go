// Package runtime hosts compiled modules and lets Go code call into them
// while exchanging arrays and structs that live on a shared, garbage
// collected heap.
//
// # Quick Start
//
//	ctx := context.Background()
//	rt, err := runtime.New(ctx, runtime.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	if err := rt.Load(ctx, mod); err != nil {
//	    log.Fatal(err)
//	}
//
//	xs, err := runtime.Invoke[runtime.ArrayRef[int32]](ctx, rt, "arrays")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	vals, _ := xs.Values() // [5 4 3 2 1]
//
// # Modules
//
// A Module carries a type layout table, a function signature table and
// code. Code is a core wasm binary that imports its memory from the heap
// module ("mun_heap"."memory") and allocates through the intrinsics module
// ("mun_rt"), or a map of NativeFunc implemented in Go. Wasm binaries may
// carry both tables in a custom section; see package metadata.
//
// # Type Mapping
//
//	Compiled type    Go type
//	───────────────────────────
//	bool             bool
//	i8/u8 ... i64    int8/uint8 ... int64
//	isize/usize      int/uint
//	f32/f64          float32/float64
//	struct           StructRef
//	[T]              ArrayRef[T]
//
// The mapping is exact: passing an int where an i32 is expected fails with
// ArgumentTypeMismatch.
//
// # Handles and Roots
//
// Handles (ArrayRef, StructRef) are cheap views of heap objects. They alias:
// a write through one handle is visible through every other handle to the
// same object, including the compiled code's. By-value structs read out of a
// field or an array element are copies.
//
// A handle does not keep its object alive and does not survive a reload.
// Root it to do both:
//
//	root, _ := xs.Root()
//	defer root.Release()
//	// ... reload ...
//	xs, err = root.AsRef(rt)
//
// When a reload changes the layout of a rooted struct, AsRef fails with
// StaleTypeLayout until the root is migrated with MigrateRoot.
//
// # Reloading
//
// Reload compiles and validates the new module without blocking
// invocations, then swaps it in between two invocations. StageReload and
// Watcher defer the swap to the start of the next invocation. A reload that
// would reinterpret live data is rejected with IncompatibleLayoutChange and
// the previous module stays active.
//
// # Thread Safety
//
// A Runtime is safe for concurrent use. Invocations are serialized. Native
// functions must not call Invoke, Reload, GC or MigrateRoot on the runtime
// that called them.
package runtime
