package wasm

// Module is the subset of a wasm module the runtime generates: function
// signatures and imports, a heap memory, exports, code, and custom sections.
type Module struct {
	Types          []FuncType
	Imports        []Import
	Funcs          []uint32 // type index of each defined function
	Memories       []MemoryType
	Exports        []Export
	Code           []FuncBody
	CustomSections []CustomSection
}

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Equal reports whether two signatures match exactly.
func (f FuncType) Equal(o FuncType) bool {
	return equalValTypes(f.Params, o.Params) && equalValTypes(f.Results, o.Results)
}

func equalValTypes(a, b []ValType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Import is a function or memory imported from another module.
type Import struct {
	Module string
	Name   string
	Desc   ImportDesc
}

// ImportDesc describes what is imported. TypeIdx applies to functions and
// Memory to memories.
type ImportDesc struct {
	Memory  *MemoryType
	TypeIdx uint32
	Kind    byte
}

// Limits bound a memory in pages.
type Limits struct {
	Max *uint32
	Min uint32
}

type MemoryType struct {
	Limits Limits
}

type Export struct {
	Name string
	Idx  uint32
	Kind byte
}

// FuncBody is one entry of the code section. Code holds the encoded
// instructions including the final end opcode.
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte
}

// LocalEntry declares Count locals of one type.
type LocalEntry struct {
	Count   uint32
	ValType ValType
}

type CustomSection struct {
	Name string
	Data []byte
}

// NumImportedFuncs returns how many function indices imports occupy. Defined
// functions are numbered after them.
func (m *Module) NumImportedFuncs() uint32 {
	var n uint32
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc {
			n++
		}
	}
	return n
}

// AddType returns the index of ft, appending it when no equal signature is
// present yet.
func (m *Module) AddType(ft FuncType) uint32 {
	for i, t := range m.Types {
		if t.Equal(ft) {
			return uint32(i)
		}
	}
	m.Types = append(m.Types, ft)
	return uint32(len(m.Types) - 1)
}
