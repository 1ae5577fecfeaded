// Package metadata encodes the type layout and function signature tables
// that compiled modules carry in a custom section.
package metadata

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/tetratelabs/wazero"

	"github.com/belagoesr/mun/errors"
	"github.com/belagoesr/mun/types"
	"github.com/belagoesr/mun/wasm"
)

// SectionName is the custom section holding the encoded Table.
const SectionName = "mun:types"

// Version is the table format this package writes.
const Version = 1

// Table is everything the runtime needs from the compiler to load a module.
// TypeRefs lists the types compiled code allocates through the runtime
// intrinsics, indexed by position.
type Table struct {
	Types     []types.Def     `cbor:"types"`
	Functions []types.FuncDef `cbor:"functions"`
	TypeRefs  []string        `cbor:"type_refs,omitempty"`
	Version   uint16          `cbor:"version"`
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("metadata: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Encode serializes t deterministically.
func Encode(t *Table) ([]byte, error) {
	if t.Version == 0 {
		t.Version = Version
	}
	return encMode.Marshal(t)
}

// Decode parses an encoded Table.
func Decode(data []byte) (*Table, error) {
	var t Table
	if err := cbor.Unmarshal(data, &t); err != nil {
		return nil, errors.ParseFailed("type metadata", err)
	}
	if t.Version == 0 || t.Version > Version {
		return nil, errors.InvalidData(errors.PhaseParse, []string{SectionName},
			fmt.Sprintf("unsupported metadata version %d", t.Version))
	}
	return &t, nil
}

// AppendSection returns bin with t appended as a custom section.
func AppendSection(bin []byte, t *Table) ([]byte, error) {
	data, err := Encode(t)
	if err != nil {
		return nil, err
	}
	sec := wasm.EncodeCustomSection(wasm.CustomSection{Name: SectionName, Data: data})
	out := make([]byte, 0, len(bin)+len(sec))
	return append(append(out, bin...), sec...), nil
}

// FromCompiled decodes the table carried by a compiled module. The runtime
// must be configured with custom sections enabled.
func FromCompiled(cm wazero.CompiledModule) (*Table, bool, error) {
	for _, s := range cm.CustomSections() {
		if s.Name() != SectionName {
			continue
		}
		t, err := Decode(s.Data())
		if err != nil {
			return nil, true, err
		}
		return t, true, nil
	}
	return nil, false, nil
}
