package memory

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/belagoesr/mun/wasm"
)

const (
	// HeapModuleName is the module compiled code imports the heap memory from.
	HeapModuleName = "mun_heap"
	// ExportName is the name the heap memory is exported under.
	ExportName = "memory"
)

// HeapModuleBinary returns a wasm module that only defines and exports a
// memory of minPages pages with no maximum.
func HeapModuleBinary(minPages uint32) []byte {
	mod := &wasm.Module{
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: minPages}}},
		Exports:  []wasm.Export{{Name: ExportName, Kind: wasm.KindMemory}},
	}
	return mod.Encode()
}

// NewHeapModule instantiates the heap memory module in rt under name.
func NewHeapModule(ctx context.Context, rt wazero.Runtime, name string, minPages uint32) (api.Module, error) {
	compiled, err := rt.CompileModule(ctx, HeapModuleBinary(minPages))
	if err != nil {
		return nil, fmt.Errorf("compile heap module: %w", err)
	}
	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		return nil, fmt.Errorf("instantiate heap module: %w", err)
	}
	if mod.ExportedMemory(ExportName) == nil {
		_ = mod.Close(ctx)
		return nil, fmt.Errorf("heap module exports no memory")
	}
	return mod, nil
}
