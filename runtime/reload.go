package runtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/belagoesr/mun/errors"
)

// Load makes mod the active module. It is Reload under another name: the
// first load of a runtime is a reload from the empty module.
func (rt *Runtime) Load(ctx context.Context, mod *Module) error {
	return rt.Reload(ctx, mod)
}

// Reload replaces the active module. The new module is compiled and checked
// before the runtime waits for the running invocation, if any, to finish.
// A rejected module leaves the previous one active.
//
// Called from inside a native function with the context it was given,
// Reload fails with KindBusy; use StageReload there.
func (rt *Runtime) Reload(ctx context.Context, mod *Module) error {
	p, err := rt.prepare(ctx, mod)
	if err != nil {
		rt.rejected(mod, err)
		return err
	}
	if err := rt.lock(ctx, errors.PhaseReload); err != nil {
		p.discard(ctx, rt)
		return err
	}
	defer rt.mu.Unlock()
	if rt.closed.Load() {
		p.discard(ctx, rt)
		return errors.NotInitialized(errors.PhaseReload, "runtime")
	}
	if err := rt.apply(ctx, p); err != nil {
		rt.rejected(mod, err)
		return err
	}
	return nil
}

// StageReload prepares mod and leaves it to be applied at the start of the
// next invocation or by ApplyPending. A module staged earlier and not yet
// applied is replaced.
func (rt *Runtime) StageReload(ctx context.Context, mod *Module) error {
	p, err := rt.prepare(ctx, mod)
	if err != nil {
		rt.rejected(mod, err)
		return err
	}
	if old := rt.pending.Swap(p); old != nil {
		old.discard(ctx, rt)
	}
	rt.logger.Debug("reload staged", zap.String("module", mod.Name))
	return nil
}

// ApplyPending applies a staged reload now. It reports whether there was
// one.
func (rt *Runtime) ApplyPending(ctx context.Context) (bool, error) {
	if err := rt.lock(ctx, errors.PhaseReload); err != nil {
		return false, err
	}
	defer rt.mu.Unlock()
	return rt.applyPending(ctx)
}

// applyPending runs with rt.mu held.
func (rt *Runtime) applyPending(ctx context.Context) (bool, error) {
	p := rt.pending.Swap(nil)
	if p == nil {
		return false, nil
	}
	if err := rt.apply(ctx, p); err != nil {
		rt.logger.Warn("staged reload rejected", zap.String("module", p.inst.name), zap.Error(err))
		return true, err
	}
	return true, nil
}

// Pending reports whether a staged reload is waiting.
func (rt *Runtime) Pending() bool {
	return rt.pending.Load() != nil
}

func (rt *Runtime) rejected(mod *Module, err error) {
	name := ""
	if mod != nil {
		name = mod.Name
	}
	rt.logger.Warn("module rejected",
		zap.String("module", name),
		zap.String("kind", string(errors.KindOf(err))),
		zap.Error(err))
}
