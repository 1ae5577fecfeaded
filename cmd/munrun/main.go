package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/belagoesr/mun/manifest"
	"github.com/belagoesr/mun/runtime"
)

func main() {
	var (
		dir         = flag.String("dir", ".", "Directory to search for "+manifest.FileName)
		funcName    = flag.String("func", "", "Function to call (arguments follow the flags)")
		list        = flag.Bool("list", false, "List functions and exit")
		watch       = flag.Bool("watch", false, "Reload when the module changes on disk")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
		verbose     = flag.Bool("v", false, "Debug logging")
	)
	flag.Parse()

	if *funcName == "" && !*list && !*interactive {
		fmt.Fprintln(os.Stderr, "Usage: munrun [-dir path] -func name [args...]")
		fmt.Fprintln(os.Stderr, "       munrun [-dir path] -list")
		fmt.Fprintln(os.Stderr, "       munrun [-dir path] -i  (interactive mode)")
		fmt.Fprintln(os.Stderr, "       munrun [-dir path] -watch -func name [args...]")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := open(ctx, *dir, *verbose && !*interactive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer s.close()

	switch {
	case *interactive:
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			err = fmt.Errorf("interactive mode needs a terminal")
			break
		}
		err = runInteractive(ctx, s, *watch)
	case *list:
		listFunctions(s.rt)
	case *watch:
		err = runWatch(ctx, s, *funcName, flag.Args())
	default:
		err = call(ctx, s.rt, *funcName, flag.Args())
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// session is a runtime loaded from a manifest together with the source that
// produced its module.
type session struct {
	rt       *runtime.Runtime
	manifest *manifest.Manifest
	source   runtime.Source
	logger   *zap.Logger
}

func open(ctx context.Context, dir string, verbose bool) (*session, error) {
	m, err := manifest.FindAndLoad(dir)
	if err != nil {
		return nil, err
	}
	level, err := m.Level()
	if err != nil {
		return nil, err
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	logger, err := newLogger(level, verbose)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	rt, err := runtime.New(ctx, m.Config(logger))
	if err != nil {
		return nil, err
	}
	s := &session{rt: rt, manifest: m, source: manifest.Source(m.Path, nil), logger: logger}
	mod, _, err := s.source(ctx)
	if err != nil {
		s.close()
		return nil, err
	}
	if err := rt.Load(ctx, mod); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

// newLogger writes development output to stderr. Without -v only warnings
// and errors are shown, so results on stdout stay readable.
func newLogger(level zapcore.Level, verbose bool) (*zap.Logger, error) {
	if !verbose && level < zapcore.WarnLevel {
		level = zapcore.WarnLevel
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.DisableStacktrace = !verbose
	return cfg.Build()
}

func (s *session) close() {
	_ = s.rt.Close(context.Background())
	_ = s.logger.Sync()
}

func listFunctions(rt *runtime.Runtime) {
	fmt.Printf("Module: %s\n", rt.ModuleName())
	fmt.Printf("Types: %d\n", rt.Types().Len())
	fmt.Println("\nFunctions:")
	for _, name := range rt.Functions() {
		sig, _ := rt.Signature(name)
		fmt.Printf("  %s\n", sig)
	}
}

func call(ctx context.Context, rt *runtime.Runtime, name string, raw []string) error {
	def, ok := rt.FuncDef(name)
	if !ok {
		return fmt.Errorf("function %q not found", name)
	}
	args, err := parseArgs(rt, def, raw)
	if err != nil {
		return err
	}
	result, err := rt.Call(ctx, name, args...)
	if err != nil {
		return fmt.Errorf("call %s: %w", name, err)
	}
	fmt.Println(formatResult(result))
	return nil
}

// runWatch calls the function once, then again after every reload until
// ctx is cancelled.
func runWatch(ctx context.Context, s *session, name string, raw []string) error {
	interval, err := s.manifest.Interval()
	if err != nil {
		return err
	}
	reloaded := make(chan struct{}, 1)
	w := runtime.NewWatcher(s.rt, s.source, interval)
	w.OnReload = func(_ *runtime.Module, err error) {
		if err != nil {
			fmt.Fprintf(os.Stderr, "Reload rejected: %v\n", err)
			return
		}
		select {
		case reloaded <- struct{}{}:
		default:
		}
	}
	go func() { _ = w.Run(ctx) }()

	for {
		if err := call(ctx, s.rt, name, raw); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-reloaded:
			fmt.Printf("--- reloaded %s ---\n", s.rt.ModuleName())
		}
	}
}

func formatResult(v any) string {
	if v == nil {
		return "Result: ()"
	}
	return fmt.Sprintf("Result: %v", v)
}
