// Package heap implements the garbage collected object heap shared by
// compiled and native code.
//
// Objects live in linear memory and are addressed by uint32; address 0 is
// the null reference. Every allocation is tagged with the types.Descriptor
// it was created with and a serial number, so a stale address can be told
// apart from a reused one.
//
// Arrays start with a {length u32, capacity u32} header followed by the
// elements at types.ArrayHeaderSize with the descriptor's stride.
// Reference elements are stored as u32 addresses; by-value struct elements
// are stored inline.
//
// Collection is mark and sweep. The roots are the addresses produced by the
// installed RootSource plus everything pinned. Collect refuses to run while
// an invocation is in flight; allocation falls back to growing memory
// instead.
package heap
