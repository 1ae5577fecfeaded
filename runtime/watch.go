package runtime

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Source produces the next version of a module. It reports false when
// nothing changed since the previous call.
type Source func(ctx context.Context) (*Module, bool, error)

// Watcher polls a Source and stages every new module it produces. Staged
// modules are applied at the next invocation, so a watcher never blocks on
// a running call.
type Watcher struct {
	rt       *Runtime
	source   Source
	logger   *zap.Logger
	interval time.Duration
	// OnReload, if set, is called after each staged module with the result
	// of staging it.
	OnReload func(mod *Module, err error)
}

func NewWatcher(rt *Runtime, source Source, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Watcher{
		rt:       rt,
		source:   source,
		interval: interval,
		logger:   rt.logger.Named("watch"),
	}
}

// Poll checks the source once. It reports whether a module was staged.
func (w *Watcher) Poll(ctx context.Context) (bool, error) {
	mod, changed, err := w.source(ctx)
	if err != nil {
		w.logger.Warn("module source failed", zap.Error(err))
		return false, err
	}
	if !changed {
		return false, nil
	}
	err = w.rt.StageReload(ctx, mod)
	if w.OnReload != nil {
		w.OnReload(mod, err)
	}
	return err == nil, err
}

// Run polls until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_, _ = w.Poll(ctx)
		}
	}
}
