// Package memory adapts wazero linear memory for the heap.
//
// The heap lives in a memory exported by a small module instantiated under
// HeapModuleName. Compiled code modules import that memory, so compiled and
// native code read and write the same bytes:
//
//	mod, err := memory.NewHeapModule(ctx, rt, 1)
//	mem := memory.Wrap(mod.ExportedMemory(memory.ExportName))
//	// mem implements mun.LinearMemory
package memory
