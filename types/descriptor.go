package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"

	"github.com/belagoesr/mun/errors"
)

const (
	// RefSize is the inline size of a heap reference (a linear memory address).
	RefSize = 4
	// ArrayHeaderSize is the size of the {len, cap} header preceding array elements.
	ArrayHeaderSize = 8
)

// Fingerprint identifies a layout. Two descriptors with the same fingerprint
// can be used interchangeably to read the same bytes.
type Fingerprint [32]byte

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:8])
}

// Field describes one field of a struct layout.
type Field struct {
	Type     *Descriptor
	Name     string
	Offset   uint32
	Ref      bool // holds a heap address the collector follows
	ReadOnly bool
}

// Descriptor is the published layout of one compiled type. Descriptors are
// immutable once published; a hot reload publishes new ones.
type Descriptor struct {
	Elem        *Descriptor
	fieldIndex  map[string]int
	Name        string
	Fields      []Field
	Fingerprint Fingerprint
	Size        uint32
	Align       uint32
	Stride      uint32
	Kind        Kind
	StructKind  StructKind
}

func (d *Descriptor) String() string {
	return d.Name
}

// IsRef reports whether values of this type are stored as heap addresses.
func (d *Descriptor) IsRef() bool {
	return d.Kind == KindArray || (d.Kind == KindStruct && d.StructKind == ByRef)
}

// IsValueStruct reports whether d is a by-value struct.
func (d *Descriptor) IsValueStruct() bool {
	return d.Kind == KindStruct && d.StructKind == ByValue
}

// InlineSize is the number of bytes a value of this type occupies where it
// is embedded: a field, an array element or a by-value struct.
func (d *Descriptor) InlineSize() uint32 {
	if d.IsRef() {
		return RefSize
	}
	return d.Size
}

// InlineAlign is the alignment of an embedded value of this type.
func (d *Descriptor) InlineAlign() uint32 {
	if d.IsRef() {
		return RefSize
	}
	return d.Align
}

// SameLayout reports whether o has the same layout as d.
func (d *Descriptor) SameLayout(o *Descriptor) bool {
	return o != nil && d.Fingerprint == o.Fingerprint
}

// Field returns the named field of a struct layout.
func (d *Descriptor) Field(name string) (*Field, error) {
	i, ok := d.fieldIndex[name]
	if !ok {
		return nil, errors.UnknownField(d.Name, name)
	}
	return &d.Fields[i], nil
}

// AllocSize returns the heap allocation size of an object of this type.
// capacity is ignored for structs.
func (d *Descriptor) AllocSize(capacity uint32) (uint32, bool) {
	switch d.Kind {
	case KindArray:
		data, ok := SafeMulU32(capacity, d.Stride)
		if !ok {
			return 0, false
		}
		return SafeAddU32(ArrayHeaderSize, data)
	case KindStruct:
		return d.Size, true
	default:
		return d.Size, true
	}
}

// HasPointers reports whether objects of this type contain references the
// collector has to follow.
func (d *Descriptor) HasPointers() bool {
	switch d.Kind {
	case KindArray:
		return d.Elem.IsRef() || (d.Elem.IsValueStruct() && d.Elem.HasPointers())
	case KindStruct:
		for i := range d.Fields {
			f := &d.Fields[i]
			if f.Ref || (f.Type.IsValueStruct() && f.Type.HasPointers()) {
				return true
			}
		}
	}
	return false
}

// ArrayOf returns the descriptor of an array with the given element type.
func ArrayOf(elem *Descriptor) *Descriptor {
	d := &Descriptor{
		Name:   "[" + elem.Name + "]",
		Kind:   KindArray,
		Size:   ArrayHeaderSize,
		Align:  8,
		Elem:   elem,
		Stride: AlignTo(elem.InlineSize(), elem.InlineAlign()),
	}
	d.Fingerprint = fingerprint(d)
	return d
}

var primitiveDescs = buildPrimitives()

func buildPrimitives() []*Descriptor {
	descs := make([]*Descriptor, KindF64+1)
	for name, k := range primitiveNames {
		d := &Descriptor{Name: name, Kind: k, Size: k.Width(), Align: k.Width()}
		d.Fingerprint = fingerprint(d)
		descs[k] = d
	}
	return descs
}

// Primitive returns the shared descriptor of a primitive kind, or nil.
func Primitive(k Kind) *Descriptor {
	if !k.IsPrimitive() {
		return nil
	}
	return primitiveDescs[k]
}

func fingerprint(d *Descriptor) Fingerprint {
	h := sha256.New()
	writeLayout(h, d)
	var f Fingerprint
	copy(f[:], h.Sum(nil))
	return f
}

// writeLayout serializes everything that determines how the bytes of d are
// read. By-reference field types contribute their name only.
func writeLayout(h hash.Hash, d *Descriptor) {
	fmt.Fprintf(h, "%s|%d|%d|%d|%d;", d.Name, d.Kind, d.StructKind, d.Size, d.Align)
	switch d.Kind {
	case KindStruct:
		for i := range d.Fields {
			f := &d.Fields[i]
			fmt.Fprintf(h, "%s:%d:%s:%t:%t;", f.Name, f.Offset, f.Type.Name, f.Ref, f.ReadOnly)
			if f.Type.IsValueStruct() {
				writeLayout(h, f.Type)
			}
		}
	case KindArray:
		fmt.Fprintf(h, "elem:%s:%d;", d.Elem.Name, d.Stride)
		if d.Elem.IsValueStruct() {
			writeLayout(h, d.Elem)
		}
	}
}
