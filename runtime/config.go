package runtime

import (
	"go.uber.org/zap"

	"github.com/belagoesr/mun/heap"
)

// Config controls a Runtime. The zero value is usable; DefaultConfig spells
// out the defaults.
type Config struct {
	Logger *zap.Logger
	// InitialPages is the size of the heap memory at startup, in 64KiB pages.
	InitialPages uint32
	// MemoryLimitPages caps heap growth. Zero leaves it at the engine maximum.
	MemoryLimitPages uint32
	// GrowthFactor multiplies an array's capacity when an append overflows it.
	GrowthFactor float64
	// MinArrayCap is the smallest capacity a growing array reaches.
	MinArrayCap uint32
	// GCThreshold triggers a collection before an invocation once this many
	// bytes were allocated since the previous one. Zero collects only when
	// the heap runs out of space or GC is called.
	GCThreshold uint64
}

func DefaultConfig() Config {
	return Config{
		InitialPages: 1,
		GrowthFactor: heap.DefaultGrowthFactor,
		MinArrayCap:  heap.DefaultMinArrayCap,
		GCThreshold:  1 << 20,
	}
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = Logger()
	}
	if c.InitialPages == 0 {
		c.InitialPages = 1
	}
	if c.MemoryLimitPages != 0 && c.MemoryLimitPages < c.InitialPages {
		c.MemoryLimitPages = c.InitialPages
	}
	if c.GrowthFactor <= 1 {
		c.GrowthFactor = heap.DefaultGrowthFactor
	}
	if c.MinArrayCap == 0 {
		c.MinArrayCap = heap.DefaultMinArrayCap
	}
	return c
}

func (c Config) heapOptions() heap.Options {
	return heap.Options{
		Logger:       c.Logger.Named("heap"),
		GrowthFactor: c.GrowthFactor,
		MinArrayCap:  c.MinArrayCap,
		GCThreshold:  c.GCThreshold,
	}
}
