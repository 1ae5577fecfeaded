package wasm

import (
	"bytes"
	"testing"
)

func TestEncodeEmptyModule(t *testing.T) {
	m := &Module{}
	want := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	if got := m.Encode(); !bytes.Equal(got, want) {
		t.Errorf("Encode() = %x, want %x", got, want)
	}
}

func TestEncodeMemoryExport(t *testing.T) {
	maxPages := uint32(2)
	m := &Module{
		Memories: []MemoryType{{Limits: Limits{Min: 1, Max: &maxPages}}},
		Exports:  []Export{{Name: "memory", Kind: KindMemory}},
	}
	want := []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
		0x05, 0x04, 0x01, 0x01, 0x01, 0x02,
		0x07, 0x0a, 0x01, 0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
	}
	if got := m.Encode(); !bytes.Equal(got, want) {
		t.Errorf("Encode() =\n%x\nwant\n%x", got, want)
	}
}

func TestEncodeFunctions(t *testing.T) {
	m := &Module{}
	sig := m.AddType(FuncType{Params: []ValType{ValI32, ValI32}, Results: []ValType{ValI32}})
	if again := m.AddType(FuncType{Params: []ValType{ValI32, ValI32}, Results: []ValType{ValI32}}); again != sig {
		t.Fatalf("AddType returned %d for an existing signature, want %d", again, sig)
	}
	m.Imports = []Import{
		{Module: "env", Name: "f", Desc: ImportDesc{Kind: KindFunc, TypeIdx: sig}},
		{Module: "env", Name: "mem", Desc: ImportDesc{Kind: KindMemory}},
	}
	m.Funcs = []uint32{sig}
	m.Exports = []Export{{Name: "g", Kind: KindFunc, Idx: m.NumImportedFuncs()}}
	m.Code = []FuncBody{{
		Locals: []LocalEntry{{Count: 1, ValType: ValI64}},
		Code:   []byte{OpLocalGet, 0, OpLocalGet, 1, OpCall, 0, OpEnd},
	}}

	want := []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
		0x01, 0x07, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,
		0x02, 0x14, 0x02,
		0x03, 'e', 'n', 'v', 0x01, 'f', 0x00, 0x00,
		0x03, 'e', 'n', 'v', 0x03, 'm', 'e', 'm', 0x02, 0x00, 0x00,
		0x03, 0x02, 0x01, 0x00,
		0x07, 0x05, 0x01, 0x01, 'g', 0x00, 0x01,
		0x0a, 0x0c, 0x01, 0x0a, 0x01, 0x01, 0x7e, 0x20, 0x00, 0x20, 0x01, 0x10, 0x00, 0x0b,
	}
	if got := m.Encode(); !bytes.Equal(got, want) {
		t.Errorf("Encode() =\n%x\nwant\n%x", got, want)
	}
}

func TestEncodeCustomSection(t *testing.T) {
	got := EncodeCustomSection(CustomSection{Name: "x", Data: []byte{1, 2}})
	want := []byte{0x00, 0x04, 0x01, 'x', 0x01, 0x02}
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeCustomSection = %x, want %x", got, want)
	}

	m := &Module{CustomSections: []CustomSection{{Name: "x", Data: []byte{1, 2}}}}
	if enc := m.Encode(); !bytes.Equal(enc[8:], want) {
		t.Errorf("custom section not appended: %x", enc)
	}
}
