// Package mun is an embeddable execution runtime for an ahead-of-time compiled,
// statically typed scripting language with live code hot-swapping.
//
// Compiled code and native Go code share one garbage-collected heap that lives
// in a WebAssembly linear memory managed by wazero. Native code allocates,
// inspects and mutates heap arrays and structs through typed handles, keeps
// them alive across calls and hot reloads through roots, and calls compiled
// functions through a marshaling invoker.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	mun/                Root package with core Memory and Allocator interfaces
//	├── types/          Type descriptor registry, layouts, type-name parsing
//	├── memory/         wazero linear memory adapter and heap memory module
//	├── heap/           Allocator, array and struct stores, mark-sweep collector
//	├── roots/          Root table keeping native-held objects alive
//	├── runtime/        Handles, invoker, modules, hot reload, watcher
//	├── metadata/       Type and signature tables carried in compiled modules
//	├── manifest/       TOML module manifests and runtime configuration
//	├── errors/         Structured error types
//	├── wasm/           Core module types and binary encoder
//	├── wat/            Text format subset compiled to binaries
//	└── cmd/munrun/     CLI and interactive runner
//
// # Quick Start
//
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
//	arr, err := runtime.Invoke[runtime.ArrayRef[int32]](ctx, rt, "main")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, v := range arr.All() {
//	    fmt.Println(v)
//	}
//
// # Handles and Roots
//
// Handles (ArrayRef, StructRef) are borrowed views bound to one runtime
// instance identity. Objects reachable only from handles may be reclaimed by
// the next collection; call Root to keep an object alive and AsRef to turn the
// root back into a handle, possibly after a hot reload.
//
// # Thread Safety
//
// A Runtime executes one invocation at a time. Hot reloads may be prepared
// concurrently and are applied at the next safe point between invocations.
// Handles are not safe for use concurrently with an invocation that mutates
// the same object.
package mun
