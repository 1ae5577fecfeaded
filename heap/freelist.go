package heap

import (
	"slices"

	"github.com/belagoesr/mun"
	"github.com/belagoesr/mun/errors"
	"github.com/belagoesr/mun/types"
)

var _ mun.Allocator = (*freeList)(nil)

type span struct {
	addr uint32
	size uint32
}

func (s span) end() uint32 { return s.addr + s.size }

// freeList is a first-fit allocator over a range of linear memory. Spans
// are kept sorted by address and coalesced on free.
type freeList struct {
	spans []span
	free  uint32
}

// Alloc takes size bytes aligned to align from the first span that fits.
func (f *freeList) Alloc(size, align uint32) (uint32, error) {
	for i, s := range f.spans {
		start := types.AlignTo(s.addr, align)
		if start < s.addr || start-s.addr > s.size || s.size-(start-s.addr) < size {
			continue
		}
		f.carve(i, start, size)
		return start, nil
	}
	return 0, errors.OutOfMemory(size, nil)
}

// carve removes [start, start+size) from span i, keeping any leading and
// trailing remainder.
func (f *freeList) carve(i int, start, size uint32) {
	s := f.spans[i]
	head := span{addr: s.addr, size: start - s.addr}
	tail := span{addr: start + size, size: s.end() - (start + size)}

	var repl []span
	if head.size > 0 {
		repl = append(repl, head)
	}
	if tail.size > 0 {
		repl = append(repl, tail)
	}
	f.spans = slices.Replace(f.spans, i, i+1, repl...)
	f.free -= size
}

// Free returns [ptr, ptr+size) to the list, merging with adjacent spans.
func (f *freeList) Free(ptr, size, _ uint32) {
	if size == 0 {
		return
	}
	f.free += size
	i, _ := slices.BinarySearchFunc(f.spans, ptr, func(s span, addr uint32) int {
		switch {
		case s.addr < addr:
			return -1
		case s.addr > addr:
			return 1
		}
		return 0
	})

	n := span{addr: ptr, size: size}
	mergePrev := i > 0 && f.spans[i-1].end() == ptr
	mergeNext := i < len(f.spans) && n.end() == f.spans[i].addr

	switch {
	case mergePrev && mergeNext:
		f.spans[i-1].size += size + f.spans[i].size
		f.spans = slices.Delete(f.spans, i, i+1)
	case mergePrev:
		f.spans[i-1].size += size
	case mergeNext:
		f.spans[i].addr = ptr
		f.spans[i].size += size
	default:
		f.spans = slices.Insert(f.spans, i, n)
	}
}

// largest returns the size of the biggest free span.
func (f *freeList) largest() uint32 {
	var m uint32
	for _, s := range f.spans {
		m = max(m, s.size)
	}
	return m
}
