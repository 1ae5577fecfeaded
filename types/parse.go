package types

import (
	"strings"

	"go.bytecodealliance.org/wit"

	"github.com/belagoesr/mun/errors"
)

// IsArrayName reports whether name spells an array type, "[T]".
func IsArrayName(name string) bool {
	_, ok := arrayElemName(name)
	return ok
}

func arrayElemName(name string) (string, bool) {
	if len(name) < 3 || name[0] != '[' || name[len(name)-1] != ']' {
		return "", false
	}
	return strings.TrimSpace(name[1 : len(name)-1]), true
}

// parsePrimitive accepts the compiled language's primitive names and their
// WIT spellings (s32, u64, f32, ...).
func parsePrimitive(name string) (Kind, bool) {
	if k, ok := primitiveNames[name]; ok {
		return k, true
	}
	if name == "" || strings.ContainsAny(name, "[]") {
		return 0, false
	}
	t, err := wit.ParseType(name)
	if err != nil {
		return 0, false
	}
	switch t.(type) {
	case wit.Bool:
		return KindBool, true
	case wit.S8:
		return KindI8, true
	case wit.S16:
		return KindI16, true
	case wit.S32:
		return KindI32, true
	case wit.S64:
		return KindI64, true
	case wit.U8:
		return KindU8, true
	case wit.U16:
		return KindU16, true
	case wit.U32:
		return KindU32, true
	case wit.U64:
		return KindU64, true
	case wit.F32:
		return KindF32, true
	case wit.F64:
		return KindF64, true
	}
	return 0, false
}

// Parse resolves a type name. Named struct types are looked up through
// lookup; arrays are built on demand.
func Parse(name string, lookup func(string) (*Descriptor, bool)) (*Descriptor, error) {
	name = strings.TrimSpace(name)
	if inner, ok := arrayElemName(name); ok {
		elem, err := Parse(inner, lookup)
		if err != nil {
			return nil, err
		}
		return ArrayOf(elem), nil
	}
	if k, ok := parsePrimitive(name); ok {
		return Primitive(k), nil
	}
	if lookup != nil {
		if d, ok := lookup(name); ok {
			return d, nil
		}
	}
	return nil, errors.UnknownType(name)
}
