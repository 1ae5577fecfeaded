package heap

import (
	"math"

	"go.uber.org/zap"

	"github.com/belagoesr/mun/errors"
	"github.com/belagoesr/mun/types"
)

// AllocArray allocates an array of type arr with the given length and
// capacity. Elements are zeroed.
func (h *Heap) AllocArray(arr *types.Descriptor, length, capacity uint32) (uint32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.allocArray(arr, length, capacity)
}

func (h *Heap) allocArray(arr *types.Descriptor, length, capacity uint32) (uint32, error) {
	if arr.Kind != types.KindArray {
		return 0, errors.InvalidInput(errors.PhaseAlloc, "AllocArray requires an array type, got "+arr.Name)
	}
	if length > capacity {
		return 0, errors.InvalidInput(errors.PhaseAlloc, "array length exceeds capacity")
	}
	size, ok := arr.AllocSize(capacity)
	if !ok {
		return 0, errors.OutOfMemory(math.MaxUint32, nil)
	}
	addr, err := h.allocate(arr, size)
	if err != nil {
		return 0, err
	}
	if err := h.writeHeader(addr, length, capacity); err != nil {
		return 0, err
	}
	return addr, nil
}

func (h *Heap) writeHeader(addr, length, capacity uint32) error {
	if err := h.mem.WriteU32(addr, length); err != nil {
		return err
	}
	return h.mem.WriteU32(addr+4, capacity)
}

func (h *Heap) header(addr uint32) (length, capacity uint32, desc *types.Descriptor, err error) {
	b, ok := h.objects[addr]
	if !ok {
		return 0, 0, nil, errors.StaleHandle(errors.PhaseIndex, "no object at address")
	}
	if b.desc.Kind != types.KindArray {
		return 0, 0, nil, errors.InvalidInput(errors.PhaseIndex, b.desc.Name+" is not an array")
	}
	if length, err = h.mem.ReadU32(addr); err != nil {
		return 0, 0, nil, err
	}
	if capacity, err = h.mem.ReadU32(addr + 4); err != nil {
		return 0, 0, nil, err
	}
	if length > capacity {
		return 0, 0, nil, errors.InvalidData(errors.PhaseIndex, []string{b.desc.Name},
			"array length exceeds capacity")
	}
	return length, capacity, b.desc, nil
}

// ArrayHeader returns the length and capacity of the array at addr.
func (h *Heap) ArrayHeader(addr uint32) (length, capacity uint32, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	length, capacity, _, err = h.header(addr)
	return length, capacity, err
}

// ElemAddr returns the address of element i. It fails with
// IndexOutOfBounds for i >= length.
func (h *Heap) ElemAddr(addr uint32, i int) (uint32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	length, _, desc, err := h.header(addr)
	if err != nil {
		return 0, err
	}
	if i < 0 || uint64(i) >= uint64(length) {
		return 0, errors.IndexOutOfBounds(i, int(length))
	}
	return addr + types.ArrayHeaderSize + uint32(i)*desc.Stride, nil
}

// grownCap is the capacity an array of capacity c grows to on overflow.
func (h *Heap) grownCap(c uint32) uint32 {
	n := uint64(float64(c) * h.opts.GrowthFactor)
	n = max(n, uint64(c)+1, uint64(h.opts.MinArrayCap))
	return uint32(min(n, math.MaxUint32))
}

// Append adds one zeroed element to the array at addr. When the array is
// full its contents move to a new allocation with a larger capacity; the
// old allocation is left as it was. It returns the array's address after
// the append and the address of the new element.
func (h *Heap) Append(addr uint32) (arr, elem uint32, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	length, capacity, desc, err := h.header(addr)
	if err != nil {
		return 0, 0, err
	}
	if length == math.MaxUint32 {
		return 0, 0, errors.OutOfMemory(math.MaxUint32, nil)
	}

	arr = addr
	if length == capacity {
		h.pin(addr)
		arr, err = h.allocArray(desc, length, h.grownCap(capacity))
		h.unpin(addr)
		if err != nil {
			return 0, 0, err
		}
		if err := h.copyBytes(arr+types.ArrayHeaderSize, addr+types.ArrayHeaderSize, length*desc.Stride); err != nil {
			return 0, 0, err
		}
		h.logger.Debug("array grown",
			zap.String("type", desc.Name),
			zap.Uint32("from", addr),
			zap.Uint32("to", arr),
			zap.Uint32("cap", capacity))
	}

	elem = arr + types.ArrayHeaderSize + length*desc.Stride
	if err := h.zero(elem, desc.Stride); err != nil {
		return 0, 0, err
	}
	if err := h.mem.WriteU32(arr, length+1); err != nil {
		return 0, 0, err
	}
	return arr, elem, nil
}
