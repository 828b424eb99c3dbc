// Package registry defines the static probe descriptor table: which
// probe implementations exist, how each one is discovered, and how it
// is invoked. Descriptors are immutable and built once at startup;
// discovery itself is lazy and happens in the runner.
package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"

	"codeberg.org/iklabib/vmsense/stats"
	"codeberg.org/iklabib/vmsense/util"
)

// Env abstracts the pieces of the host a strategy needs during
// discovery. The runner provides the real implementation; tests
// substitute fakes.
type Env interface {
	// LookPath resolves a bare command name via PATH.
	LookPath(file string) (string, error)

	// RunBuild executes a one-shot build command (compiled probes only)
	// in the given directory. A build failure makes the strategy, and
	// usually the probe, unavailable; it is never fatal to the run.
	RunBuild(ctx context.Context, dir string, argv []string) error
}

// Invocation is a resolved way to execute a probe.
type Invocation struct {
	Path string   // executable
	Args []string // arguments before the iteration count
	Dir  string   // working directory for the child
	// Method records how the probe was found, e.g. "portable: /x/vmtest"
	// or "source: python3 vmtest.py". It ends up in the report summary.
	Method string
}

// Strategy is one way of locating a runnable probe. Strategies are
// evaluated in declared order and the first success short-circuits.
type Strategy interface {
	Resolve(ctx context.Context, env Env) (*Invocation, error)
}

// PortableBinary locates a pre-built probe executable among candidate
// paths, in priority order.
type PortableBinary struct {
	Paths []string
}

func (s PortableBinary) Resolve(ctx context.Context, env Env) (*Invocation, error) {
	for _, path := range s.Paths {
		if util.IsExecutable(path) {
			return &Invocation{
				Path:   path,
				Dir:    filepath.Dir(path),
				Method: "portable: " + path,
			}, nil
		}
	}
	return nil, fmt.Errorf("no portable binary at %v", s.Paths)
}

// SourceInterpreter runs a probe from source through an interpreter, or
// builds it first when Build is set (compiled probes). The interpreter
// is taken from InterpreterPaths when one of them exists (bundled
// runtimes), falling back to a PATH lookup.
type SourceInterpreter struct {
	Interpreter      string   // command name, resolved via PATH
	InterpreterPaths []string // bundled interpreter candidates, tried first
	SourcePaths      []string // source file candidates, first existing wins
	Build            []string // compile argv, empty for interpreted probes
	Output           string   // binary produced by Build
}

func (s SourceInterpreter) Resolve(ctx context.Context, env Env) (*Invocation, error) {
	source := ""
	for _, path := range s.SourcePaths {
		if util.Exists(path) {
			source = path
			break
		}
	}
	if source == "" {
		return nil, fmt.Errorf("source not found at %v", s.SourcePaths)
	}
	dir := filepath.Dir(source)

	if len(s.Build) > 0 {
		if err := env.RunBuild(ctx, dir, s.Build); err != nil {
			return nil, fmt.Errorf("build failed: %w", err)
		}
		output := filepath.Join(dir, s.Output)
		if !util.IsExecutable(output) {
			return nil, fmt.Errorf("build produced no executable at %s", output)
		}
		return &Invocation{
			Path:   output,
			Dir:    dir,
			Method: "source: " + s.Build[0],
		}, nil
	}

	interpreter := ""
	for _, path := range s.InterpreterPaths {
		if util.IsExecutable(path) {
			interpreter = path
			break
		}
	}
	if interpreter == "" {
		resolved, err := env.LookPath(s.Interpreter)
		if err != nil {
			return nil, fmt.Errorf("interpreter %s not found: %w", s.Interpreter, err)
		}
		interpreter = resolved
	}
	return &Invocation{
		Path:   interpreter,
		Args:   []string{filepath.Base(source)},
		Dir:    dir,
		Method: fmt.Sprintf("source: %s %s", s.Interpreter, filepath.Base(source)),
	}, nil
}

// Descriptor is one probe implementation: its identity, which PMI
// convention its generation emits, whether its invocation takes the
// iteration count as an argument, and the ordered discovery strategies.
type Descriptor struct {
	ID            string
	PmiVariant    stats.PmiVariant
	IterationsArg bool
	Strategies    []Strategy
}

// Default returns the fixed descriptor table. searchDirs are the
// directories scanned for portable binaries and probe sources, in
// priority order; when empty, the current directory is used.
func Default(searchDirs ...string) []Descriptor {
	if len(searchDirs) == 0 {
		searchDirs = []string{"."}
	}
	suffix := ""
	if runtime.GOOS == "windows" {
		suffix = ".exe"
	}
	candidates := func(name string) []string {
		paths := make([]string, 0, len(searchDirs))
		for _, dir := range searchDirs {
			paths = append(paths, filepath.Join(dir, name))
		}
		return paths
	}

	compile := []string{"gcc", "-o", "vmtest" + suffix, "vmtest.c", "-lpthread", "-lm"}
	if runtime.GOOS == "linux" {
		compile = append(compile, "-lrt")
	}
	compile = append(compile, "-O2")

	return []Descriptor{
		{
			ID:         "c",
			PmiVariant: stats.PmiLogSentinel,
			// The compiled probe reads its iteration count from its own
			// defaults; it takes no argument.
			IterationsArg: false,
			Strategies: []Strategy{
				PortableBinary{Paths: candidates("vmtest" + suffix)},
				SourceInterpreter{
					SourcePaths: candidates("vmtest.c"),
					Build:       compile,
					Output:      "vmtest" + suffix,
				},
			},
		},
		{
			ID:            "python",
			PmiVariant:    stats.PmiRaw,
			IterationsArg: true,
			Strategies: []Strategy{
				PortableBinary{Paths: candidates("vmtest_python" + suffix)},
				SourceInterpreter{
					Interpreter: "python3",
					SourcePaths: candidates("vmtest.py"),
				},
			},
		},
		{
			ID:            "nodejs",
			PmiVariant:    stats.PmiRaw,
			IterationsArg: true,
			Strategies: []Strategy{
				PortableBinary{Paths: candidates("vmtest_node" + suffix)},
				SourceInterpreter{
					Interpreter:      "node",
					InterpreterPaths: candidates("node" + suffix),
					SourcePaths:      candidates("vmtest.js"),
				},
			},
		},
		{
			ID:            "ruby",
			PmiVariant:    stats.PmiRaw,
			IterationsArg: true,
			Strategies: []Strategy{
				PortableBinary{Paths: candidates("vmtest_ruby" + suffix)},
				SourceInterpreter{
					Interpreter: "ruby",
					SourcePaths: candidates("vmtest.rb"),
				},
			},
		},
	}
}

// ByID returns the descriptor with the given id from a table.
func ByID(table []Descriptor, id string) (Descriptor, bool) {
	for _, descriptor := range table {
		if descriptor.ID == id {
			return descriptor, true
		}
	}
	return Descriptor{}, false
}
