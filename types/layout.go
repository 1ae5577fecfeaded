package types

import (
	"math"

	"github.com/belagoesr/mun/errors"
)

// Def is a struct type as published by the compiler's type layout table.
type Def struct {
	Name   string     `cbor:"name" toml:"name"`
	Fields []FieldDef `cbor:"fields" toml:"fields"`
	Value  bool       `cbor:"value,omitempty" toml:"value"`
}

// FieldDef is one field of a Def. Type is a type name: a primitive, a struct
// name or an array such as "[i32]".
type FieldDef struct {
	Name     string `cbor:"name" toml:"name"`
	Type     string `cbor:"type" toml:"type"`
	ReadOnly bool   `cbor:"read_only,omitempty" toml:"read-only"`
}

// FuncDef is one entry of the compiler's function signature table. An empty
// Return means the function returns nothing.
type FuncDef struct {
	Name   string     `cbor:"name" toml:"name"`
	Return string     `cbor:"return,omitempty" toml:"return"`
	Params []ParamDef `cbor:"params" toml:"params"`
}

// ParamDef is one parameter of a FuncDef.
type ParamDef struct {
	Name string `cbor:"name" toml:"name"`
	Type string `cbor:"type" toml:"type"`
}

func AlignTo(offset, align uint32) uint32 {
	if align == 0 {
		return offset
	}
	return (offset + align - 1) &^ (align - 1)
}

func SafeMulU32(a, b uint32) (uint32, bool) {
	if b != 0 && a > math.MaxUint32/b {
		return 0, false
	}
	return a * b, true
}

func SafeAddU32(a, b uint32) (uint32, bool) {
	if a > math.MaxUint32-b {
		return 0, false
	}
	return a + b, true
}

const (
	stateVisiting = iota + 1
	stateDone
)

// Build lays out a set of struct definitions. Field types may name other
// definitions in defs, primitives, or arrays of either. By-value structs may
// not contain themselves inline.
func Build(defs []Def) (map[string]*Descriptor, error) {
	b := &builder{
		defs:  make(map[string]*Def, len(defs)),
		named: make(map[string]*Descriptor, len(defs)),
		state: make(map[string]int, len(defs)),
	}

	for i := range defs {
		def := &defs[i]
		if def.Name == "" {
			return nil, errors.InvalidInput(errors.PhaseRegister, "type definition without a name")
		}
		if _, ok := parsePrimitive(def.Name); ok || IsArrayName(def.Name) {
			return nil, errors.InvalidInput(errors.PhaseRegister, "reserved type name "+def.Name)
		}
		if prev, ok := b.defs[def.Name]; ok {
			if !sameDef(prev, def) {
				return nil, errors.DuplicateType(def.Name)
			}
			continue
		}
		b.defs[def.Name] = def
		kind := ByRef
		if def.Value {
			kind = ByValue
		}
		b.named[def.Name] = &Descriptor{Name: def.Name, Kind: KindStruct, StructKind: kind}
	}

	for _, d := range b.named {
		if err := b.layout(d); err != nil {
			return nil, err
		}
	}

	// Array field types need the element layouts computed above.
	for name, def := range b.defs {
		d := b.named[name]
		for i, fd := range def.Fields {
			if !IsArrayName(fd.Type) {
				continue
			}
			t, err := b.resolve(fd.Type)
			if err != nil {
				return nil, err
			}
			d.Fields[i].Type = t
		}
	}

	for _, d := range b.named {
		d.Fingerprint = fingerprint(d)
	}
	return b.named, nil
}

type builder struct {
	defs  map[string]*Def
	named map[string]*Descriptor
	state map[string]int
}

func (b *builder) layout(d *Descriptor) error {
	switch b.state[d.Name] {
	case stateDone:
		return nil
	case stateVisiting:
		return errors.InvalidInput(errors.PhaseRegister, "value struct "+d.Name+" contains itself")
	}
	b.state[d.Name] = stateVisiting

	def := b.defs[d.Name]
	d.Fields = make([]Field, len(def.Fields))
	d.fieldIndex = make(map[string]int, len(def.Fields))

	offset := uint32(0)
	maxAlign := uint32(1)
	for i, fd := range def.Fields {
		if _, dup := d.fieldIndex[fd.Name]; dup || fd.Name == "" {
			return errors.New(errors.PhaseRegister, errors.KindInvalidInput).
				Path(d.Name, fd.Name).
				Detail("duplicate or empty field name").
				Build()
		}

		size, align, ref := uint32(RefSize), uint32(RefSize), true
		if !IsArrayName(fd.Type) {
			t, err := b.lookup(fd.Type)
			if err != nil {
				return err
			}
			if t.IsValueStruct() {
				if err := b.layout(t); err != nil {
					return err
				}
			}
			d.Fields[i].Type = t
			size, align, ref = t.InlineSize(), t.InlineAlign(), t.IsRef()
		}

		offset = AlignTo(offset, align)
		d.Fields[i].Name = fd.Name
		d.Fields[i].Offset = offset
		d.Fields[i].Ref = ref
		d.Fields[i].ReadOnly = fd.ReadOnly
		d.fieldIndex[fd.Name] = i

		if align > maxAlign {
			maxAlign = align
		}
		offset += size
	}

	d.Size = AlignTo(offset, maxAlign)
	d.Align = maxAlign
	b.state[d.Name] = stateDone
	return nil
}

func (b *builder) resolve(name string) (*Descriptor, error) {
	if inner, ok := arrayElemName(name); ok {
		elem, err := b.resolve(inner)
		if err != nil {
			return nil, err
		}
		return ArrayOf(elem), nil
	}
	return b.lookup(name)
}

func (b *builder) lookup(name string) (*Descriptor, error) {
	if k, ok := parsePrimitive(name); ok {
		return Primitive(k), nil
	}
	if d, ok := b.named[name]; ok {
		return d, nil
	}
	return nil, errors.UnknownType(name)
}

func sameDef(a, b *Def) bool {
	if a.Value != b.Value || len(a.Fields) != len(b.Fields) {
		return false
	}
	for i := range a.Fields {
		if a.Fields[i] != b.Fields[i] {
			return false
		}
	}
	return true
}
