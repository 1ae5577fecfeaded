package heap

import (
	"github.com/belagoesr/mun/types"
)

// Load reads the value embedded at addr as raw bits. t must be a primitive
// or a reference type; references come back as their address.
func (h *Heap) Load(addr uint32, t *types.Descriptor) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.load(addr, t.InlineSize())
}

func (h *Heap) load(addr, width uint32) (uint64, error) {
	switch width {
	case 1:
		v, err := h.mem.ReadU8(addr)
		return uint64(v), err
	case 2:
		v, err := h.mem.ReadU16(addr)
		return uint64(v), err
	case 4:
		v, err := h.mem.ReadU32(addr)
		return uint64(v), err
	default:
		return h.mem.ReadU64(addr)
	}
}

// Store writes raw bits as the value embedded at addr.
func (h *Heap) Store(addr uint32, t *types.Descriptor, bits uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch t.InlineSize() {
	case 1:
		return h.mem.WriteU8(addr, uint8(bits))
	case 2:
		return h.mem.WriteU16(addr, uint16(bits))
	case 4:
		return h.mem.WriteU32(addr, uint32(bits))
	default:
		return h.mem.WriteU64(addr, bits)
	}
}

// Copy copies size bytes from src to dst.
func (h *Heap) Copy(dst, src, size uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.copyBytes(dst, src, size)
}

// Box copies the by-value struct embedded at addr, inside the object at
// owner, into a new heap allocation of the same type.
func (h *Heap) Box(owner, addr uint32, t *types.Descriptor) (uint32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pin(owner)
	box, err := h.allocate(t, t.Size)
	h.unpin(owner)
	if err != nil {
		return 0, err
	}
	if err := h.copyBytes(box, addr, t.Size); err != nil {
		return 0, err
	}
	return box, nil
}
