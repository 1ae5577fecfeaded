// Package wat compiles the WebAssembly text format into binary modules.
//
// It covers the subset used to write test modules and small host shims by
// hand:
//
//	bin, err := wat.Compile(`(module
//		(import "mun_heap" "memory" (memory 0))
//		(func (export "add") (param i32 i32) (result i32)
//			(i32.add (local.get 0) (local.get 1))))`)
//
// Supported:
//   - Function and memory imports
//   - Memory declarations with inline exports
//   - Functions with named or indexed params, results and locals
//   - Inline and standalone exports
//   - Flat and folded instructions: locals, calls, constants, loads and
//     stores with offset/align, integer and float arithmetic, conversions
//   - Line (;;) and block (; ;) comments
//
// Control flow other than return and unreachable is not supported.
package wat
