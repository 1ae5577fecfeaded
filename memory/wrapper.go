package memory

import (
	"github.com/tetratelabs/wazero/api"

	"github.com/belagoesr/mun"
	"github.com/belagoesr/mun/errors"
)

var _ mun.LinearMemory = (*Wrapper)(nil)

// Wrap adapts the heap module's exported memory. A nil memory yields nil.
func Wrap(mem api.Memory) *Wrapper {
	if mem == nil {
		return nil
	}
	return &Wrapper{Mem: mem}
}

// Wrapper is a mun.LinearMemory over a wazero memory. Multi-byte values are
// little endian, as wasm loads and stores them.
type Wrapper struct {
	Mem api.Memory
}

func outOfBounds(op string, offset, length uint32) error {
	return errors.New(errors.PhaseMemory, errors.KindInvalidData).
		Value(offset).
		Detail("%s of %d bytes at %#x is outside linear memory", op, length, offset).
		Build()
}

func (m *Wrapper) Size() uint32 {
	return m.Mem.Size()
}

func (m *Wrapper) Pages() uint32 {
	return m.Mem.Size() / mun.PageSize
}

// Grow adds deltaPages pages and returns the previous page count. It
// reports false when the memory limit would be exceeded.
func (m *Wrapper) Grow(deltaPages uint32) (uint32, bool) {
	return m.Mem.Grow(deltaPages)
}

// view returns the live bytes backing [offset, offset+length).
func (m *Wrapper) view(op string, offset, length uint32) ([]byte, error) {
	b, ok := m.Mem.Read(offset, length)
	if !ok {
		return nil, outOfBounds(op, offset, length)
	}
	return b, nil
}

// Read returns a copy of length bytes at offset.
func (m *Wrapper) Read(offset uint32, length uint32) ([]byte, error) {
	b, err := m.view("read", offset, length)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

func (m *Wrapper) Write(offset uint32, data []byte) error {
	if !m.Mem.Write(offset, data) {
		return outOfBounds("write", offset, uint32(len(data)))
	}
	return nil
}

// Zero clears length bytes at offset.
func (m *Wrapper) Zero(offset, length uint32) error {
	b, err := m.view("zero", offset, length)
	if err != nil {
		return err
	}
	clear(b)
	return nil
}

// Copy moves length bytes from src to dst. The ranges may overlap.
func (m *Wrapper) Copy(dst, src, length uint32) error {
	from, err := m.view("copy", src, length)
	if err != nil {
		return err
	}
	to, err := m.view("copy", dst, length)
	if err != nil {
		return err
	}
	copy(to, from)
	return nil
}

func (m *Wrapper) ReadU8(offset uint32) (uint8, error) {
	if v, ok := m.Mem.ReadByte(offset); ok {
		return v, nil
	}
	return 0, outOfBounds("read", offset, 1)
}

func (m *Wrapper) ReadU16(offset uint32) (uint16, error) {
	if v, ok := m.Mem.ReadUint16Le(offset); ok {
		return v, nil
	}
	return 0, outOfBounds("read", offset, 2)
}

func (m *Wrapper) ReadU32(offset uint32) (uint32, error) {
	if v, ok := m.Mem.ReadUint32Le(offset); ok {
		return v, nil
	}
	return 0, outOfBounds("read", offset, 4)
}

func (m *Wrapper) ReadU64(offset uint32) (uint64, error) {
	if v, ok := m.Mem.ReadUint64Le(offset); ok {
		return v, nil
	}
	return 0, outOfBounds("read", offset, 8)
}

func (m *Wrapper) WriteU8(offset uint32, value uint8) error {
	if m.Mem.WriteByte(offset, value) {
		return nil
	}
	return outOfBounds("write", offset, 1)
}

func (m *Wrapper) WriteU16(offset uint32, value uint16) error {
	if m.Mem.WriteUint16Le(offset, value) {
		return nil
	}
	return outOfBounds("write", offset, 2)
}

func (m *Wrapper) WriteU32(offset uint32, value uint32) error {
	if m.Mem.WriteUint32Le(offset, value) {
		return nil
	}
	return outOfBounds("write", offset, 4)
}

func (m *Wrapper) WriteU64(offset uint32, value uint64) error {
	if m.Mem.WriteUint64Le(offset, value) {
		return nil
	}
	return outOfBounds("write", offset, 8)
}
