package heap

import (
	"sync"

	"go.uber.org/zap"

	"github.com/belagoesr/mun"
	"github.com/belagoesr/mun/errors"
	"github.com/belagoesr/mun/types"
)

const (
	// Base is the lowest heap address. Address 0 is the null reference.
	Base = 16
	// Align is the alignment of every heap block.
	Align = 8

	DefaultGrowthFactor = 1.5
	DefaultMinArrayCap  = 4
)

// Options configures a Heap.
type Options struct {
	Logger *zap.Logger
	// GrowthFactor multiplies an array's capacity when an append overflows it.
	GrowthFactor float64
	// MinArrayCap is the smallest capacity an array grows to.
	MinArrayCap uint32
	// GCThreshold is the number of bytes allocated since the last collection
	// after which NeedsCollect reports true. Zero disables it.
	GCThreshold uint64
}

// RootSource yields the addresses the collector must treat as live.
type RootSource func(yield func(addr uint32) bool)

type block struct {
	desc   *types.Descriptor
	serial uint64
	size   uint32
	marked bool
}

// Object describes one live heap allocation.
type Object struct {
	Desc   *types.Descriptor
	Serial uint64
	Addr   uint32
	Size   uint32
}

// Heap is the garbage collected object heap in linear memory. Every object
// is tagged with the descriptor it was allocated with.
type Heap struct {
	mem     mun.LinearMemory
	logger  *zap.Logger
	objects map[uint32]*block
	pinned  map[uint32]int
	roots   RootSource
	free    freeList
	stats   Stats
	opts    Options
	serial  uint64
	limit   uint32
	sinceGC uint64
	depth   int
	mu      sync.Mutex
}

// New creates a heap over mem. Everything from Base to the end of mem is
// managed by the heap.
func New(mem mun.LinearMemory, opts Options) *Heap {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.GrowthFactor <= 1 {
		opts.GrowthFactor = DefaultGrowthFactor
	}
	if opts.MinArrayCap == 0 {
		opts.MinArrayCap = DefaultMinArrayCap
	}
	h := &Heap{
		mem:     mem,
		logger:  opts.Logger,
		opts:    opts,
		objects: make(map[uint32]*block),
		pinned:  make(map[uint32]int),
		limit:   Base,
	}
	h.extend(mem.Size())
	return h
}

// Memory returns the linear memory the heap lives in.
func (h *Heap) Memory() mun.LinearMemory {
	return h.mem
}

// SetRoots installs the root set used by Collect.
func (h *Heap) SetRoots(roots RootSource) {
	h.mu.Lock()
	h.roots = roots
	h.mu.Unlock()
}

// extend hands memory between the current limit and size to the free list.
func (h *Heap) extend(size uint32) {
	if size <= h.limit {
		return
	}
	h.free.Free(h.limit, size-h.limit, Align)
	h.limit = size
}

// Alloc allocates a zeroed struct of type desc.
func (h *Heap) Alloc(desc *types.Descriptor) (uint32, error) {
	if desc.Kind != types.KindStruct {
		return 0, errors.InvalidInput(errors.PhaseAlloc, "Alloc requires a struct type, got "+desc.Name)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.allocate(desc, desc.Size)
}

// allocate obtains a zeroed block. When the free list is exhausted it
// collects (only at a safe point), then grows memory, then gives up.
func (h *Heap) allocate(desc *types.Descriptor, size uint32) (uint32, error) {
	size = types.AlignTo(max(size, Align), Align)
	if size < Align {
		return 0, errors.OutOfMemory(size, nil)
	}

	addr, err := h.free.Alloc(size, Align)
	if err != nil && h.depth == 0 {
		h.collect()
		addr, err = h.free.Alloc(size, Align)
	}
	if err != nil {
		if gerr := h.grow(size); gerr != nil {
			h.logger.Debug("heap exhausted", zap.Uint32("size", size), zap.Error(gerr))
			return 0, errors.OutOfMemory(size, gerr)
		}
		addr, err = h.free.Alloc(size, Align)
		if err != nil {
			return 0, errors.OutOfMemory(size, err)
		}
	}

	if err := h.zero(addr, size); err != nil {
		h.free.Free(addr, size, Align)
		return 0, errors.OutOfMemory(size, err)
	}

	h.serial++
	h.objects[addr] = &block{desc: desc, size: size, serial: h.serial}
	h.stats.Allocations++
	h.stats.AllocatedBytes += uint64(size)
	h.sinceGC += uint64(size)
	return addr, nil
}

func (h *Heap) grow(size uint32) error {
	// The free span at the end of memory, if any, counts toward size.
	need := size
	if n := len(h.free.spans); n > 0 {
		last := h.free.spans[n-1]
		if last.end() == h.limit && last.size < need {
			need -= last.size
		}
	}
	pages := (uint64(need) + mun.PageSize - 1) / mun.PageSize
	if pages > uint64(^uint32(0)/mun.PageSize) {
		return errors.InvalidInput(errors.PhaseAlloc, "allocation exceeds the address space")
	}
	prev, ok := h.mem.Grow(uint32(pages))
	if !ok {
		return errors.New(errors.PhaseAlloc, errors.KindOutOfMemory).
			Detail("linear memory cannot grow by %d pages from %d", pages, prev).
			Build()
	}
	h.extend(h.mem.Size())
	h.logger.Debug("heap grown",
		zap.Uint32("from_pages", prev),
		zap.Uint64("delta_pages", pages))
	return nil
}

type zeroer interface {
	Zero(offset, length uint32) error
}

type copier interface {
	Copy(dst, src, length uint32) error
}

func (h *Heap) zero(addr, size uint32) error {
	if z, ok := h.mem.(zeroer); ok {
		return z.Zero(addr, size)
	}
	return h.mem.Write(addr, make([]byte, size))
}

func (h *Heap) copyBytes(dst, src, size uint32) error {
	if size == 0 {
		return nil
	}
	if c, ok := h.mem.(copier); ok {
		return c.Copy(dst, src, size)
	}
	data, err := h.mem.Read(src, size)
	if err != nil {
		return err
	}
	return h.mem.Write(dst, data)
}

// Lookup returns the object allocated at addr.
func (h *Heap) Lookup(addr uint32) (Object, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.objects[addr]
	if !ok {
		return Object{}, false
	}
	return Object{Addr: addr, Desc: b.desc, Size: b.size, Serial: b.serial}, true
}

// Valid reports whether addr still holds the allocation with the given
// serial.
func (h *Heap) Valid(addr uint32, serial uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.objects[addr]
	return ok && b.serial == serial
}

// Pin keeps addr alive across collections until the matching Unpin.
func (h *Heap) Pin(addr uint32) {
	if addr == 0 {
		return
	}
	h.mu.Lock()
	h.pin(addr)
	h.mu.Unlock()
}

func (h *Heap) Unpin(addr uint32) {
	if addr == 0 {
		return
	}
	h.mu.Lock()
	h.unpin(addr)
	h.mu.Unlock()
}

func (h *Heap) pin(addr uint32) {
	h.pinned[addr]++
}

func (h *Heap) unpin(addr uint32) {
	if n := h.pinned[addr]; n > 1 {
		h.pinned[addr] = n - 1
	} else {
		delete(h.pinned, addr)
	}
}

// BeginInvocation marks the start of a call into compiled code. No
// collection runs until the matching EndInvocation.
func (h *Heap) BeginInvocation() {
	h.mu.Lock()
	h.depth++
	h.mu.Unlock()
}

func (h *Heap) EndInvocation() {
	h.mu.Lock()
	if h.depth > 0 {
		h.depth--
	}
	h.mu.Unlock()
}

// InFlight reports whether an invocation is running.
func (h *Heap) InFlight() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.depth > 0
}

// NeedsCollect reports whether the allocation threshold has been crossed.
func (h *Heap) NeedsCollect() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.opts.GCThreshold > 0 && h.sinceGC >= h.opts.GCThreshold
}

// Stats reports heap usage.
type Stats struct {
	Objects        int
	Pinned         int
	LiveBytes      uint64
	FreeBytes      uint64
	LargestFree    uint64
	Pages          uint32
	Allocations    uint64
	AllocatedBytes uint64
	Collections    uint64
	FreedObjects   uint64
	FreedBytes     uint64
}

func (h *Heap) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.stats
	s.Objects = len(h.objects)
	s.Pinned = len(h.pinned)
	s.LiveBytes = 0
	for _, b := range h.objects {
		s.LiveBytes += uint64(b.size)
	}
	s.FreeBytes = uint64(h.free.free)
	s.LargestFree = uint64(h.free.largest())
	s.Pages = h.mem.Size() / mun.PageSize
	return s
}
