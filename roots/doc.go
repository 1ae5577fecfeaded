// Package roots implements the root table of a runtime instance.
//
// A root is a strong reference held by native code independently of any
// call stack. The collector treats every rooted address as live, so the
// object and everything reachable from it survive collections and hot
// reloads until the root is released.
//
//	table := roots.NewTable()
//	id, _ := table.Insert(desc, addr, serial)
//	entry, err := table.Get(id)   // RootNotFound after Release
//	_ = table.Release(id)
//
// IDs carry a generation, so an ID is never valid again once released.
// Drain releases everything at runtime teardown.
package roots
