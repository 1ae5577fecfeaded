package runtime

import (
	"bytes"
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/belagoesr/mun/errors"
	"github.com/belagoesr/mun/metadata"
	"github.com/belagoesr/mun/types"
	"github.com/belagoesr/mun/wasm"
)

// instance is one loaded version of a module: its type table, its functions
// and the engine module running its code.
type instance struct {
	id       uuid.UUID
	snap     *types.Snapshot
	funcs    map[string]*function
	typeRefs []*types.Descriptor
	code     api.Module
	host     api.Module // native bodies the code module forwards to
	name     string
	codeName string
}

type function struct {
	sig *signature
	fn  api.Function
}

func (i *instance) close(ctx context.Context, rt *Runtime) {
	if i.codeName != "" {
		rt.code.Delete(i.codeName)
	}
	if i.code != nil {
		_ = i.code.Close(ctx)
	}
	if i.host != nil {
		_ = i.host.Close(ctx)
	}
}

// prepared is a module that is compiled, instantiated and verified but not
// yet active.
type prepared struct {
	inst    *instance
	txn     *types.Txn
	changes []types.Change
}

func (p *prepared) discard(ctx context.Context, rt *Runtime) {
	p.txn.Abort()
	p.inst.close(ctx, rt)
}

// prepare does all the work of a load that does not touch the active
// instance, so it can run while invocations proceed.
func (rt *Runtime) prepare(ctx context.Context, mod *Module) (_ *prepared, err error) {
	if mod == nil {
		return nil, errors.InvalidInput(errors.PhaseLoad, "nil module")
	}
	if rt.closed.Load() {
		return nil, errors.NotInitialized(errors.PhaseLoad, "runtime")
	}
	if len(mod.Wasm) > 0 && len(mod.Native) > 0 {
		return nil, errors.InvalidInput(errors.PhaseLoad, "module has both wasm and native code")
	}

	defs, funcs, refs := mod.Types, mod.Functions, mod.TypeRefs
	var compiled wazero.CompiledModule
	if len(mod.Wasm) > 0 {
		compiled, err = rt.engine.CompileModule(ctx, mod.Wasm)
		if err != nil {
			return nil, errors.Load("compile module", err)
		}
		defer compiled.Close(ctx)
		if len(defs) == 0 && len(funcs) == 0 {
			tbl, ok, err := metadata.FromCompiled(compiled)
			if err != nil {
				return nil, err
			}
			if ok {
				defs, funcs, refs = tbl.Types, tbl.Functions, tbl.TypeRefs
			}
		}
	}

	txn := rt.registry.Begin()
	defer func() {
		if err != nil {
			txn.Abort()
		}
	}()
	if err := txn.Define(defs); err != nil {
		return nil, err
	}
	if err := types.CheckCompatible(txn.Base(), txn.Snapshot()); err != nil {
		return nil, err
	}

	inst := &instance{
		id:    uuid.New(),
		snap:  txn.Snapshot(),
		funcs: make(map[string]*function, len(funcs)),
		name:  mod.Name,
	}
	for _, def := range funcs {
		if _, dup := inst.funcs[def.Name]; dup {
			return nil, errors.InvalidInput(errors.PhaseLoad, fmt.Sprintf("function %q declared twice", def.Name))
		}
		sig, err := newSignature(def, inst.snap)
		if err != nil {
			return nil, err
		}
		inst.funcs[def.Name] = &function{sig: sig}
	}
	for _, name := range refs {
		d, err := inst.snap.Resolve(name)
		if err != nil {
			return nil, err
		}
		inst.typeRefs = append(inst.typeRefs, d)
	}

	n := rt.seq.Add(1)
	switch {
	case compiled != nil:
		inst.codeName = fmt.Sprintf("mun_code_%d", n)
		err = rt.instantiateWasm(ctx, inst, compiled)
	case len(mod.Native) > 0:
		inst.codeName = fmt.Sprintf("mun_code_%d", n)
		err = rt.instantiateNative(ctx, inst, fmt.Sprintf("mun_native_%d", n), mod.Native)
	case len(inst.funcs) > 0:
		err = errors.Load("module declares functions but carries no code", nil)
	}
	if err != nil {
		inst.close(ctx, rt)
		return nil, err
	}

	return &prepared{inst: inst, txn: txn, changes: txn.Diff()}, nil
}

func (rt *Runtime) instantiateWasm(ctx context.Context, inst *instance, compiled wazero.CompiledModule) error {
	rt.code.Store(inst.codeName, inst)
	code, err := rt.engine.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(inst.codeName))
	if err != nil {
		return errors.Load("instantiate module", err)
	}
	inst.code = code
	for name, f := range inst.funcs {
		fn := code.ExportedFunction(name)
		if fn == nil {
			return errors.Load(fmt.Sprintf("function %q is not exported", name), nil)
		}
		def := fn.Definition()
		if !slices.Equal(def.ParamTypes(), f.sig.paramSlots) || !slices.Equal(def.ResultTypes(), f.sig.resultSlots) {
			return errors.Load(fmt.Sprintf("export %q does not match %s", name, f.sig), nil)
		}
		f.fn = fn
	}
	return nil
}

// instantiateNative registers the native bodies as a host module and links
// a generated wasm module that imports and re-exports them. Exports are
// only looked up on the wasm module; the engine does not allow it on host
// modules.
func (rt *Runtime) instantiateNative(ctx context.Context, inst *instance, hostName string, native map[string]NativeFunc) error {
	for name := range inst.funcs {
		if _, ok := native[name]; !ok {
			return errors.Load(fmt.Sprintf("function %q has no native implementation", name), nil)
		}
	}
	names := make([]string, 0, len(native))
	b := rt.engine.NewHostModuleBuilder(hostName)
	for name, body := range native {
		f, ok := inst.funcs[name]
		if !ok {
			return errors.Load(fmt.Sprintf("native function %q has no signature", name), nil)
		}
		b = b.NewFunctionBuilder().
			WithGoModuleFunction(rt.nativeFunc(inst, body), f.sig.paramSlots, f.sig.resultSlots).
			WithName(name).
			Export(name)
		names = append(names, name)
	}
	slices.Sort(names)

	host, err := b.Instantiate(ctx)
	if err != nil {
		return errors.Load("instantiate native module", err)
	}
	inst.host = host

	compiled, err := rt.engine.CompileModule(ctx, forwardingModule(hostName, names, inst.funcs))
	if err != nil {
		return errors.Load("compile native forwarding module", err)
	}
	defer compiled.Close(ctx)
	return rt.instantiateWasm(ctx, inst, compiled)
}

// forwardingModule builds a module whose exports call the same-named
// imports from hostName with their arguments unchanged.
func forwardingModule(hostName string, names []string, funcs map[string]*function) []byte {
	mod := &wasm.Module{}
	for i, name := range names {
		sig := funcs[name].sig
		ft := wasm.FuncType{
			Params:  make([]wasm.ValType, len(sig.paramSlots)),
			Results: make([]wasm.ValType, len(sig.resultSlots)),
		}
		for j, vt := range sig.paramSlots {
			ft.Params[j] = wasm.ValType(vt)
		}
		for j, vt := range sig.resultSlots {
			ft.Results[j] = wasm.ValType(vt)
		}
		typeIdx := mod.AddType(ft)
		mod.Imports = append(mod.Imports, wasm.Import{
			Module: hostName,
			Name:   name,
			Desc:   wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: typeIdx},
		})
		mod.Funcs = append(mod.Funcs, typeIdx)
		mod.Exports = append(mod.Exports, wasm.Export{Name: name, Kind: wasm.KindFunc, Idx: uint32(len(names) + i)})

		var code bytes.Buffer
		for j := range ft.Params {
			code.WriteByte(wasm.OpLocalGet)
			wasm.WriteLEB128u(&code, uint32(j))
		}
		code.WriteByte(wasm.OpCall)
		wasm.WriteLEB128u(&code, uint32(i))
		code.WriteByte(wasm.OpEnd)
		mod.Code = append(mod.Code, wasm.FuncBody{Code: code.Bytes()})
	}
	return mod.Encode()
}

// nativeFunc adapts a NativeFunc to the engine. An error is raised as a
// panic, which the engine turns into a failed call.
func (rt *Runtime) nativeFunc(inst *instance, body NativeFunc) api.GoModuleFunc {
	return func(ctx context.Context, _ api.Module, stack []uint64) {
		if err := body(ctx, &Frame{rt: rt, inst: inst}, stack); err != nil {
			panic(err)
		}
	}
}

// apply makes a prepared module active. It runs with rt.mu held, so no
// invocation is in flight.
func (rt *Runtime) apply(ctx context.Context, p *prepared) error {
	retired, err := p.txn.Commit()
	if err != nil {
		p.discard(ctx, rt)
		return err
	}
	old := rt.cur.Swap(p.inst)
	if old != nil {
		old.close(ctx, rt)
	}
	rt.reloads.Add(1)

	fields := []zap.Field{
		zap.String("module", p.inst.name),
		zap.Stringer("identity", p.inst.id),
		zap.Int("functions", len(p.inst.funcs)),
		zap.Int("types", p.inst.snap.Len()),
		zap.Int("retired", len(retired)),
	}
	for _, c := range p.changes {
		rt.logger.Debug("type layout "+c.Kind.String(), zap.String("type", c.Name))
	}
	rt.logger.Info("module loaded", fields...)

	if n := rt.registry.Prune(rt.heap.Holds); n > 0 {
		rt.logger.Debug("retired layouts pruned", zap.Int("count", n))
	}
	return nil
}
