package manifest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/belagoesr/mun/errors"
	"github.com/belagoesr/mun/runtime"
	"github.com/belagoesr/mun/wat"
)

const numbersManifest = `
[module]
name = "numbers"
type-refs = ["Number", "[Number]"]

[runtime]
initial-pages = 2
memory-limit-pages = 64
growth-factor = 2.0
gc-threshold = 4096
log-level = "debug"
watch-interval = "250ms"

[[types]]
name = "Number"
fields = [{ name = "value", type = "i32" }]

[[types]]
name = "Value"
value = true
fields = [
  { name = "value", type = "i64" },
  { name = "other", type = "i64", read-only = true },
]

[[functions]]
name = "seven"
return = "Number"

[[functions]]
name = "add"
return = "i32"
params = [{ name = "a", type = "i32" }, { name = "b", type = "i32" }]
`

func writeManifest(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, numbersManifest)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.Module.Name != "numbers" {
		t.Errorf("module name = %q, want numbers", m.Module.Name)
	}
	if len(m.Module.TypeRefs) != 2 {
		t.Errorf("type refs = %v", m.Module.TypeRefs)
	}
	if len(m.Types) != 2 || m.Types[1].Name != "Value" || !m.Types[1].Value {
		t.Fatalf("types = %+v", m.Types)
	}
	if f := m.Types[1].Fields[1]; f.Name != "other" || f.Type != "i64" || !f.ReadOnly {
		t.Errorf("field = %+v", f)
	}
	if len(m.Functions) != 2 || len(m.Functions[1].Params) != 2 {
		t.Fatalf("functions = %+v", m.Functions)
	}
	if m.Functions[0].Return != "Number" {
		t.Errorf("return = %q", m.Functions[0].Return)
	}
	if lvl, _ := m.Level(); lvl != zapcore.DebugLevel {
		t.Errorf("level = %v", lvl)
	}
	if d, _ := m.Interval(); d != 250*time.Millisecond {
		t.Errorf("interval = %v", d)
	}
	if m.WasmPath() != "" {
		t.Errorf("wasm path = %q", m.WasmPath())
	}
}

func TestManifestConfig(t *testing.T) {
	m, err := Parse([]byte(numbersManifest))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	cfg := m.Config(zap.NewNop())
	if cfg.InitialPages != 2 || cfg.MemoryLimitPages != 64 || cfg.GrowthFactor != 2.0 || cfg.GCThreshold != 4096 {
		t.Errorf("config = %+v", cfg)
	}

	m, err = Parse([]byte("[module]\nname = \"bare\"\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got, want := m.Config(nil), runtime.DefaultConfig(); got != want {
		t.Errorf("defaults = %+v, want %+v", got, want)
	}
	if lvl, _ := m.Level(); lvl != zapcore.InfoLevel {
		t.Errorf("default level = %v", lvl)
	}
	if d, _ := m.Interval(); d != time.Second {
		t.Errorf("default interval = %v", d)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"syntax", "[module\nname = 1"},
		{"unknown key", "[module]\nnmae = \"x\"\n"},
		{"unknown field key", "[[types]]\nname = \"A\"\nfields = [{ name = \"a\", typ = \"i32\" }]\n"},
		{"bad log level", "[runtime]\nlog-level = \"loud\"\n"},
		{"bad interval", "[runtime]\nwatch-interval = \"soon\"\n"},
		{"negative interval", "[runtime]\nwatch-interval = \"-1s\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			if errors.KindOf(err) != errors.KindInvalidData {
				t.Fatalf("expected invalid data, got %v", err)
			}
		})
	}

	_, err := Load(t.TempDir())
	if errors.KindOf(err) != errors.KindInvalidData {
		t.Fatalf("missing file: %v", err)
	}
}

func TestFindAndLoad(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, numbersManifest)
	sub := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}

	m, err := FindAndLoad(sub)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil || m.Module.Name != "numbers" {
		t.Fatalf("manifest = %+v", m)
	}
	if want, _ := filepath.Abs(dir); m.Dir() != want {
		t.Errorf("dir = %q, want %q", m.Dir(), want)
	}
}

func TestBuildReadsWasm(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[module]\nwasm = \"code.wasm\"\n")
	bin, err := wat.Compile(`(module (func (export "noop")))`)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "code.wasm"), bin, 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	mod, err := m.Build(map[string]runtime.NativeFunc{"ignored": nil})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if string(mod.Wasm) != string(bin) || mod.Native != nil {
		t.Errorf("module = %+v", mod)
	}
	if mod.Name != filepath.Base(dir) {
		t.Errorf("name = %q", mod.Name)
	}

	if err := os.Remove(filepath.Join(dir, "code.wasm")); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Build(nil); errors.KindOf(err) != errors.KindInvalidData {
		t.Fatalf("missing wasm: %v", err)
	}
}

var numbersNative = map[string]runtime.NativeFunc{
	"seven": func(_ context.Context, f *runtime.Frame, stack []uint64) error {
		slot, err := f.NewStruct("Number")
		if err != nil {
			return err
		}
		n, err := f.Struct(slot)
		if err != nil {
			return err
		}
		stack[0] = slot
		return n.Set("value", int32(7))
	},
	"add": func(_ context.Context, _ *runtime.Frame, stack []uint64) error {
		stack[0] = uint64(uint32(int32(stack[0]) + int32(stack[1])))
		return nil
	},
}

func TestManifestDrivesRuntime(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeManifest(t, dir, numbersManifest)
	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	rt, err := runtime.New(ctx, m.Config(nil))
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}
	defer rt.Close(ctx)

	mod, err := m.Build(numbersNative)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if err := rt.Load(ctx, mod); err != nil {
		t.Fatalf("load: %v", err)
	}
	n, err := runtime.Invoke[runtime.StructRef](ctx, rt, "seven")
	if err != nil {
		t.Fatalf("seven: %v", err)
	}
	if v, _ := runtime.Field[int32](n, "value"); v != 7 {
		t.Errorf("value = %d", v)
	}
	sum, err := runtime.Invoke[int32](ctx, rt, "add", int32(2), int32(3))
	if err != nil || sum != 5 {
		t.Errorf("add = %d, %v", sum, err)
	}
}

func TestSourceReportsChanges(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := writeManifest(t, dir, numbersManifest)
	source := Source(path, numbersNative)

	mod, changed, err := source(ctx)
	if err != nil || !changed || mod.Name != "numbers" {
		t.Fatalf("first poll = %v, %v, %v", mod, changed, err)
	}
	if _, changed, err := source(ctx); err != nil || changed {
		t.Fatalf("unchanged poll = %v, %v", changed, err)
	}

	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}
	if _, changed, err := source(ctx); err != nil || !changed {
		t.Fatalf("poll after touch = %v, %v", changed, err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if _, _, err := source(ctx); err == nil {
		t.Fatal("expected an error for a missing manifest")
	}
}
