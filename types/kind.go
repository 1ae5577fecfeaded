package types

type Kind uint8

const (
	KindBool Kind = iota
	KindI8
	KindI16
	KindI32
	KindI64
	KindU8
	KindU16
	KindU32
	KindU64
	KindISize
	KindUSize
	KindF32
	KindF64
	KindStruct
	KindArray
)

var kindNames = [...]string{
	KindBool:   "bool",
	KindI8:     "i8",
	KindI16:    "i16",
	KindI32:    "i32",
	KindI64:    "i64",
	KindU8:     "u8",
	KindU16:    "u16",
	KindU32:    "u32",
	KindU64:    "u64",
	KindISize:  "isize",
	KindUSize:  "usize",
	KindF32:    "f32",
	KindF64:    "f64",
	KindStruct: "struct",
	KindArray:  "array",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

func (k Kind) IsPrimitive() bool {
	return k <= KindF64
}

func (k Kind) IsFloat() bool {
	return k == KindF32 || k == KindF64
}

// Width returns the storage size of a primitive kind in bytes.
// isize and usize are 64-bit.
func (k Kind) Width() uint32 {
	switch k {
	case KindBool, KindI8, KindU8:
		return 1
	case KindI16, KindU16:
		return 2
	case KindI32, KindU32, KindF32:
		return 4
	case KindI64, KindU64, KindISize, KindUSize, KindF64:
		return 8
	default:
		return 0
	}
}

// StructKind distinguishes heap-indirected structs from inline value structs.
type StructKind uint8

const (
	// ByRef structs live in their own heap allocation; copies alias.
	ByRef StructKind = iota
	// ByValue structs are embedded inline and copied on assignment.
	ByValue
)

func (s StructKind) String() string {
	if s == ByValue {
		return "value"
	}
	return "gc"
}

// primitiveNames maps compiled type names to primitive kinds.
var primitiveNames = map[string]Kind{
	"bool":  KindBool,
	"i8":    KindI8,
	"i16":   KindI16,
	"i32":   KindI32,
	"i64":   KindI64,
	"u8":    KindU8,
	"u16":   KindU16,
	"u32":   KindU32,
	"u64":   KindU64,
	"isize": KindISize,
	"usize": KindUSize,
	"f32":   KindF32,
	"f64":   KindF64,
}
