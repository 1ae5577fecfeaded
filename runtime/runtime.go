package runtime

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/belagoesr/mun/errors"
	"github.com/belagoesr/mun/heap"
	"github.com/belagoesr/mun/memory"
	"github.com/belagoesr/mun/roots"
	"github.com/belagoesr/mun/types"
)

// IntrinsicsModuleName is the import module compiled wasm code uses to
// allocate on the runtime heap.
const IntrinsicsModuleName = "mun_rt"

// Runtime hosts one compiled module at a time together with the heap its
// objects live in. Invocations are serialized; a reload is applied between
// invocations.
type Runtime struct {
	engine   wazero.Runtime
	memMod   api.Module
	heap     *heap.Heap
	registry *types.Registry
	roots    *roots.Table
	logger   *zap.Logger
	cur      atomic.Pointer[instance]
	pending  atomic.Pointer[prepared]
	// code maps engine module names to the instance they belong to, so the
	// intrinsics can find the calling module's type references.
	code    sync.Map
	cfg     Config
	seq     atomic.Uint64
	reloads atomic.Uint64
	closed  atomic.Bool
	mu      sync.Mutex
}

// New creates a runtime with an empty heap and no module loaded.
func New(ctx context.Context, cfg Config) (*Runtime, error) {
	cfg = cfg.withDefaults()

	rc := wazero.NewRuntimeConfig().WithCustomSections(true)
	if cfg.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	engine := wazero.NewRuntimeWithConfig(ctx, rc)

	memMod, err := memory.NewHeapModule(ctx, engine, memory.HeapModuleName, cfg.InitialPages)
	if err != nil {
		_ = engine.Close(ctx)
		return nil, errors.Wrap(errors.PhaseRuntime, errors.KindInvalidData, err, "create heap memory")
	}
	mem := memMod.ExportedMemory(memory.ExportName)
	if mem == nil {
		_ = engine.Close(ctx)
		return nil, errors.NotInitialized(errors.PhaseRuntime, "heap memory")
	}

	rt := &Runtime{
		engine:   engine,
		memMod:   memMod,
		heap:     heap.New(memory.Wrap(mem), cfg.heapOptions()),
		registry: types.NewRegistry(),
		roots:    roots.NewTable(),
		logger:   cfg.Logger,
		cfg:      cfg,
	}
	rt.heap.SetRoots(rt.roots.Addrs)
	rt.roots.Subscribe(roots.ObserverFunc(func(e roots.Event) {
		rt.logger.Debug("root event",
			zap.Stringer("event", e.Type),
			zap.Stringer("root", e.ID),
			zap.String("type", e.Entry.Desc.Name))
	}))
	if err := rt.instantiateIntrinsics(ctx); err != nil {
		_ = engine.Close(ctx)
		return nil, err
	}
	rt.cur.Store(&instance{id: uuid.New(), snap: rt.registry.Snapshot(), funcs: map[string]*function{}})

	rt.logger.Debug("runtime created",
		zap.Uint32("pages", cfg.InitialPages),
		zap.Uint32("memory_limit_pages", cfg.MemoryLimitPages))
	return rt, nil
}

// Close releases the root table, the loaded code and the heap. Handles and
// roots fail afterwards.
func (rt *Runtime) Close(ctx context.Context) error {
	if err := rt.lock(ctx, errors.PhaseRuntime); err != nil {
		return err
	}
	defer rt.mu.Unlock()
	if rt.closed.Swap(true) {
		return nil
	}
	if p := rt.pending.Swap(nil); p != nil {
		p.discard(ctx, rt)
	}
	n := rt.roots.Drain()
	rt.logger.Debug("runtime closed", zap.Int("released_roots", n))
	return rt.engine.Close(ctx)
}

type invocationKey struct{}

// lock takes the invocation lock. The context a native function receives
// marks the runtime running it, so re-entering that runtime fails with
// KindBusy rather than waiting on itself.
func (rt *Runtime) lock(ctx context.Context, phase errors.Phase) error {
	if owner, _ := ctx.Value(invocationKey{}).(*Runtime); owner == rt {
		return errors.New(phase, errors.KindBusy).
			Detail("runtime entered from one of its own native functions").
			Build()
	}
	rt.mu.Lock()
	return nil
}

// instance returns the active instance.
func (rt *Runtime) instance(phase errors.Phase) (*instance, error) {
	if rt.closed.Load() {
		return nil, errors.NotInitialized(phase, "runtime")
	}
	return rt.cur.Load(), nil
}

// Identity changes with every applied load or reload. Handles remember the
// identity they were issued under.
func (rt *Runtime) Identity() uuid.UUID {
	return rt.cur.Load().id
}

// ModuleName returns the name of the loaded module.
func (rt *Runtime) ModuleName() string {
	return rt.cur.Load().name
}

// Functions lists the loaded module's functions in sorted order.
func (rt *Runtime) Functions() []string {
	inst := rt.cur.Load()
	names := make([]string, 0, len(inst.funcs))
	for name := range inst.funcs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Signature describes a loaded function, e.g. "fn add(a: i32, b: i32) -> i32".
func (rt *Runtime) Signature(name string) (string, bool) {
	fn, ok := rt.cur.Load().funcs[name]
	if !ok {
		return "", false
	}
	return fn.sig.String(), true
}

// FuncDef returns the declared signature of a loaded function.
func (rt *Runtime) FuncDef(name string) (types.FuncDef, bool) {
	fn, ok := rt.cur.Load().funcs[name]
	if !ok {
		return types.FuncDef{}, false
	}
	return fn.sig.def, true
}

// Types returns the type table of the loaded module.
func (rt *Runtime) Types() *types.Snapshot {
	return rt.cur.Load().snap
}

func (rt *Runtime) Registry() *types.Registry {
	return rt.registry
}

func (rt *Runtime) Heap() *heap.Heap {
	return rt.heap
}

func (rt *Runtime) Roots() *roots.Table {
	return rt.roots
}

// GC runs a collection now. Everything not reachable from a root or from an
// argument of a running invocation is reclaimed.
func (rt *Runtime) GC(ctx context.Context) (heap.CollectStats, error) {
	if err := rt.lock(ctx, errors.PhaseCollect); err != nil {
		return heap.CollectStats{}, err
	}
	defer rt.mu.Unlock()
	if rt.closed.Load() {
		return heap.CollectStats{}, errors.NotInitialized(errors.PhaseCollect, "runtime")
	}
	return rt.collect()
}

// collect runs with rt.mu held.
func (rt *Runtime) collect() (heap.CollectStats, error) {
	cs, err := rt.heap.Collect()
	if err != nil {
		return cs, err
	}
	if n := rt.registry.Prune(rt.heap.Holds); n > 0 {
		rt.logger.Debug("retired layouts pruned", zap.Int("count", n))
	}
	return cs, nil
}

// Stats is a point-in-time view of the runtime.
type Stats struct {
	Heap     heap.Stats
	Module   string
	Identity uuid.UUID
	Roots    int
	Types    int
	Retired  int
	Reloads  uint64
}

func (rt *Runtime) Stats() Stats {
	inst := rt.cur.Load()
	return Stats{
		Heap:     rt.heap.Stats(),
		Module:   inst.name,
		Identity: inst.id,
		Roots:    rt.roots.Len(),
		Types:    inst.snap.Len(),
		Retired:  len(rt.registry.Retired()),
		Reloads:  rt.reloads.Load(),
	}
}

func (rt *Runtime) instantiateIntrinsics(ctx context.Context) error {
	i32 := api.ValueTypeI32
	_, err := rt.engine.NewHostModuleBuilder(IntrinsicsModuleName).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(rt.allocStruct), []api.ValueType{i32}, []api.ValueType{i32}).
		WithParameterNames("type_ref").
		Export("alloc_struct").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(rt.allocArray), []api.ValueType{i32, i32, i32}, []api.ValueType{i32}).
		WithParameterNames("type_ref", "len", "cap").
		Export("alloc_array").
		Instantiate(ctx)
	if err != nil {
		return errors.Wrap(errors.PhaseRuntime, errors.KindInvalidData, err, "instantiate intrinsics")
	}
	return nil
}

func (rt *Runtime) typeRef(mod api.Module, idx uint32) *types.Descriptor {
	v, ok := rt.code.Load(mod.Name())
	if !ok {
		panic(errors.NotInitialized(errors.PhaseAlloc, "calling module"))
	}
	inst := v.(*instance)
	if int(idx) >= len(inst.typeRefs) {
		panic(errors.InvalidInput(errors.PhaseAlloc, "type reference out of range"))
	}
	return inst.typeRefs[idx]
}

func (rt *Runtime) allocStruct(_ context.Context, mod api.Module, stack []uint64) {
	d := rt.typeRef(mod, api.DecodeU32(stack[0]))
	if d.Kind != types.KindStruct {
		panic(errors.InvalidInput(errors.PhaseAlloc, d.Name+" is not a struct type"))
	}
	addr, err := rt.heap.Alloc(d)
	if err != nil {
		panic(err)
	}
	stack[0] = api.EncodeU32(addr)
}

func (rt *Runtime) allocArray(_ context.Context, mod api.Module, stack []uint64) {
	d := rt.typeRef(mod, api.DecodeU32(stack[0]))
	if d.Kind != types.KindArray {
		panic(errors.InvalidInput(errors.PhaseAlloc, d.Name+" is not an array type"))
	}
	addr, err := rt.heap.AllocArray(d, api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
	if err != nil {
		panic(err)
	}
	stack[0] = api.EncodeU32(addr)
}
