// Package types describes the memory layout of compiled types.
//
// A Descriptor gives the size, alignment and field offsets of a struct, or
// the element type and stride of an array. Field types are primitives
// (bool, i8..i64, u8..u64, isize, usize, f32, f64), named structs, or arrays
// spelled "[T]". Structs are either by-reference (heap allocated, copies
// alias) or by-value (embedded inline, copied on assignment).
//
// Layouts follow natural alignment:
//
//	struct(value) Value { value: i64, other: i64 }   size 16, align 8
//	struct Number { value: i32 }                      size 4,  align 4
//	[Number]                                          stride 4 (a reference)
//	[Value]                                           stride 16 (inline)
//
// The Registry publishes an immutable Snapshot per committed change, so
// lookups on the marshaling path never take a lock. A hot reload stages the
// complete replacement table in a Txn, checks it with CheckCompatible and
// commits it in one step.
package types
