// Package manifest handles mun.toml module manifests.
//
// A manifest describes one compiled module: its type layout table, its
// function signature table, the wasm binary holding the code and the
// runtime settings to host it with.
//
//	[module]
//	name = "arrays"
//	wasm = "arrays.wasm"
//
//	[runtime]
//	initial-pages = 1
//	gc-threshold = 1048576
//
//	[[types]]
//	name = "Number"
//	fields = [{ name = "value", type = "i32" }]
//
//	[[functions]]
//	name = "first"
//	return = "i32"
//	params = [{ name = "xs", type = "[i32]" }]
package manifest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/belagoesr/mun/errors"
	"github.com/belagoesr/mun/runtime"
	"github.com/belagoesr/mun/types"
)

// FileName is the manifest file looked up in a module directory.
const FileName = "mun.toml"

// Manifest represents a mun.toml file.
type Manifest struct {
	Module    ModuleConfig    `toml:"module"`
	Runtime   RuntimeConfig   `toml:"runtime"`
	Types     []types.Def     `toml:"types"`
	Functions []types.FuncDef `toml:"functions"`

	// Path is the manifest file (set at load time).
	Path string `toml:"-"`
}

// ModuleConfig names the module and its code.
type ModuleConfig struct {
	Name string `toml:"name"`
	// Wasm is the binary's path, relative to the manifest.
	Wasm     string   `toml:"wasm"`
	TypeRefs []string `toml:"type-refs"`
}

// RuntimeConfig mirrors runtime.Config. Zero values keep the defaults.
type RuntimeConfig struct {
	InitialPages     uint32  `toml:"initial-pages"`
	MemoryLimitPages uint32  `toml:"memory-limit-pages"`
	GrowthFactor     float64 `toml:"growth-factor"`
	MinArrayCap      uint32  `toml:"min-array-cap"`
	GCThreshold      uint64  `toml:"gc-threshold"`
	LogLevel         string  `toml:"log-level"`
	WatchInterval    string  `toml:"watch-interval"`
}

// Load parses the mun.toml file in dir.
func Load(dir string) (*Manifest, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses a manifest at an explicit path.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ParseFailed(path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if m.Path, err = filepath.Abs(path); err != nil {
		return nil, errors.ParseFailed(path, err)
	}
	return m, nil
}

// Parse decodes manifest text. Unknown keys are rejected so that a typo
// does not silently drop a field from a layout.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, errors.ParseFailed("manifest", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.InvalidData(errors.PhaseParse, nil, "unknown manifest keys: "+strings.Join(keys, ", "))
	}
	if _, err := m.Level(); err != nil {
		return nil, err
	}
	if _, err := m.Interval(); err != nil {
		return nil, err
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to the nearest mun.toml. It returns
// nil when there is none.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Dir returns the directory containing the manifest.
func (m *Manifest) Dir() string {
	return filepath.Dir(m.Path)
}

// WasmPath returns the absolute path of the wasm binary, or "" when the
// module has none.
func (m *Manifest) WasmPath() string {
	if m.Module.Wasm == "" {
		return ""
	}
	if filepath.IsAbs(m.Module.Wasm) {
		return m.Module.Wasm
	}
	return filepath.Join(m.Dir(), m.Module.Wasm)
}

// Level returns the configured log level, info by default.
func (m *Manifest) Level() (zapcore.Level, error) {
	if m.Runtime.LogLevel == "" {
		return zapcore.InfoLevel, nil
	}
	l, err := zapcore.ParseLevel(m.Runtime.LogLevel)
	if err != nil {
		return l, errors.ParseFailed("log-level", err)
	}
	return l, nil
}

// Interval returns how often a watcher polls the manifest, one second by
// default.
func (m *Manifest) Interval() (time.Duration, error) {
	if m.Runtime.WatchInterval == "" {
		return time.Second, nil
	}
	d, err := time.ParseDuration(m.Runtime.WatchInterval)
	if err != nil {
		return 0, errors.ParseFailed("watch-interval", err)
	}
	if d <= 0 {
		return 0, errors.InvalidData(errors.PhaseParse, []string{"runtime", "watch-interval"}, "must be positive")
	}
	return d, nil
}

// Config returns the runtime configuration with the manifest's settings
// applied over runtime.DefaultConfig.
func (m *Manifest) Config(logger *zap.Logger) runtime.Config {
	cfg := runtime.DefaultConfig()
	cfg.Logger = logger
	r := m.Runtime
	if r.InitialPages > 0 {
		cfg.InitialPages = r.InitialPages
	}
	if r.MemoryLimitPages > 0 {
		cfg.MemoryLimitPages = r.MemoryLimitPages
	}
	if r.GrowthFactor > 0 {
		cfg.GrowthFactor = r.GrowthFactor
	}
	if r.MinArrayCap > 0 {
		cfg.MinArrayCap = r.MinArrayCap
	}
	if r.GCThreshold > 0 {
		cfg.GCThreshold = r.GCThreshold
	}
	return cfg
}

// Build builds the runtime module the manifest describes. native supplies
// the code when the manifest names no wasm binary.
func (m *Manifest) Build(native map[string]runtime.NativeFunc) (*runtime.Module, error) {
	mod := &runtime.Module{
		Name:      m.Module.Name,
		Types:     slices.Clone(m.Types),
		Functions: slices.Clone(m.Functions),
		TypeRefs:  slices.Clone(m.Module.TypeRefs),
		Native:    native,
	}
	if mod.Name == "" {
		mod.Name = filepath.Base(m.Dir())
	}
	if path := m.WasmPath(); path != "" {
		wasm, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Load(fmt.Sprintf("read %s", path), err)
		}
		mod.Wasm = wasm
		mod.Native = nil
	}
	return mod, nil
}

// Source returns a runtime.Source that reloads the manifest at path
// whenever it or its wasm binary changes on disk.
func Source(path string, native map[string]runtime.NativeFunc) runtime.Source {
	var (
		last time.Time
		wasm string
	)
	return func(context.Context) (*runtime.Module, bool, error) {
		stamp, err := latest(path, wasm)
		if err != nil {
			return nil, false, err
		}
		if !stamp.After(last) {
			return nil, false, nil
		}
		m, err := LoadFile(path)
		if err != nil {
			return nil, false, err
		}
		mod, err := m.Build(native)
		if err != nil {
			return nil, false, err
		}
		wasm = m.WasmPath()
		if last, err = latest(path, wasm); err != nil {
			return nil, false, err
		}
		return mod, true, nil
	}
}

// latest returns the newest modification time among paths, skipping empty
// ones.
func latest(paths ...string) (time.Time, error) {
	var t time.Time
	for _, p := range paths {
		if p == "" {
			continue
		}
		m, err := modTime(p)
		if err != nil {
			return time.Time{}, err
		}
		if m.After(t) {
			t = m
		}
	}
	return t, nil
}

func modTime(path string) (time.Time, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}, errors.Load("stat "+path, err)
	}
	return fi.ModTime(), nil
}
