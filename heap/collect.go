package heap

import (
	"time"

	"go.uber.org/zap"

	"github.com/belagoesr/mun/errors"
	"github.com/belagoesr/mun/types"
)

// CollectStats summarizes one collection.
type CollectStats struct {
	Duration     time.Duration
	Marked       int
	FreedObjects int
	FreedBytes   uint64
	Roots        int
}

// Collect reclaims every object unreachable from the root source and the
// pinned set. It fails with KindBusy while an invocation is in flight.
func (h *Heap) Collect() (CollectStats, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.depth > 0 {
		return CollectStats{}, errors.New(errors.PhaseCollect, errors.KindBusy).
			Detail("collection requested while an invocation is in flight").
			Build()
	}
	return h.collect(), nil
}

func (h *Heap) collect() CollectStats {
	start := time.Now()
	var cs CollectStats

	var work []uint32
	push := func(addr uint32) {
		b, ok := h.objects[addr]
		if !ok || b.marked {
			return
		}
		b.marked = true
		cs.Marked++
		work = append(work, addr)
	}

	if h.roots != nil {
		h.roots(func(addr uint32) bool {
			cs.Roots++
			push(addr)
			return true
		})
	}
	for addr := range h.pinned {
		cs.Roots++
		push(addr)
	}

	for len(work) > 0 {
		addr := work[len(work)-1]
		work = work[:len(work)-1]
		b := h.objects[addr]
		if err := h.trace(addr, b.desc, push); err != nil {
			h.logger.Warn("trace failed", zap.Uint32("addr", addr), zap.String("type", b.desc.Name), zap.Error(err))
		}
	}

	for addr, b := range h.objects {
		if b.marked {
			b.marked = false
			continue
		}
		delete(h.objects, addr)
		h.free.Free(addr, b.size, Align)
		cs.FreedObjects++
		cs.FreedBytes += uint64(b.size)
	}

	h.sinceGC = 0
	h.stats.Collections++
	h.stats.FreedObjects += uint64(cs.FreedObjects)
	h.stats.FreedBytes += cs.FreedBytes
	cs.Duration = time.Since(start)

	h.logger.Debug("heap collected",
		zap.Int("roots", cs.Roots),
		zap.Int("marked", cs.Marked),
		zap.Int("freed", cs.FreedObjects),
		zap.Uint64("freed_bytes", cs.FreedBytes),
		zap.Duration("took", cs.Duration))
	return cs
}

// Trace calls visit with every non-null reference stored in the object at
// addr, laid out as desc. Only elements below an array's length are
// visited.
func (h *Heap) Trace(addr uint32, desc *types.Descriptor, visit func(uint32)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.trace(addr, desc, visit)
}

func (h *Heap) trace(addr uint32, desc *types.Descriptor, visit func(uint32)) error {
	if !desc.HasPointers() {
		return nil
	}
	switch desc.Kind {
	case types.KindStruct:
		return h.traceFields(addr, desc, visit)
	case types.KindArray:
		n, err := h.mem.ReadU32(addr)
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			at := addr + types.ArrayHeaderSize + i*desc.Stride
			if err := h.traceValue(at, desc.Elem, visit); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *Heap) traceFields(addr uint32, desc *types.Descriptor, visit func(uint32)) error {
	for i := range desc.Fields {
		f := &desc.Fields[i]
		if err := h.traceValue(addr+f.Offset, f.Type, visit); err != nil {
			return err
		}
	}
	return nil
}

// traceValue follows a value embedded at addr: a reference or an inline
// by-value struct.
func (h *Heap) traceValue(addr uint32, t *types.Descriptor, visit func(uint32)) error {
	switch {
	case t.IsRef():
		ref, err := h.mem.ReadU32(addr)
		if err != nil {
			return err
		}
		if ref != 0 {
			visit(ref)
		}
	case t.IsValueStruct() && t.HasPointers():
		return h.traceFields(addr, t, visit)
	}
	return nil
}

// CensusEntry counts the live objects of one layout.
type CensusEntry struct {
	Desc    *types.Descriptor
	Objects int
	Bytes   uint64
}

// Census groups live objects by layout.
func (h *Heap) Census() map[types.Fingerprint]CensusEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[types.Fingerprint]CensusEntry)
	for _, b := range h.objects {
		e := out[b.desc.Fingerprint]
		e.Desc = b.desc
		e.Objects++
		e.Bytes += uint64(b.size)
		out[b.desc.Fingerprint] = e
	}
	return out
}

// Holds reports whether any live object was allocated with layout desc,
// either directly or as the element type of an array.
func (h *Heap) Holds(desc *types.Descriptor) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, b := range h.objects {
		if b.desc.SameLayout(desc) || (b.desc.Kind == types.KindArray && b.desc.Elem.SameLayout(desc)) {
			return true
		}
	}
	return false
}
