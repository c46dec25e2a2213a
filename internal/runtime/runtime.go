package runtime

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/compiler"
	"github.com/risor-io/risor/object"
	"github.com/risor-io/risor/parser"
	"github.com/risor-io/risor/vm"

	"github.com/jward/livescope/internal/dump"
	"github.com/jward/livescope/internal/protocol"
	"github.com/jward/livescope/internal/scope"
	"github.com/jward/livescope/internal/snapshot"
)

// Runtime embeds Risor and executes injected source against a Scope. Each
// Exec gets a fresh VM; state carries over only through the Scope and the
// ModuleCache.
type Runtime struct {
	modules  *ModuleCache
	dump     *dump.Channel
	out      *Output
	logger   *slog.Logger
	extra    map[string]any
	filter   func() snapshot.Filter
	input    *inputCursor
	current  atomic.Pointer[session]
	defaults map[string]object.Object
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithOutput sets where print writes. Defaults to io.Discard.
func WithOutput(w io.Writer) RuntimeOption {
	return func(r *Runtime) {
		r.out = NewOutput(w)
	}
}

// WithLogger sets the logger behind the log global and runtime diagnostics.
func WithLogger(l *slog.Logger) RuntimeOption {
	return func(r *Runtime) {
		r.logger = l
	}
}

// WithDumpChannel routes dump calls to c.
func WithDumpChannel(c *dump.Channel) RuntimeOption {
	return func(r *Runtime) {
		r.dump = c
	}
}

// WithModuleCache sets the importer and module registry.
func WithModuleCache(c *ModuleCache) RuntimeOption {
	return func(r *Runtime) {
		r.modules = c
	}
}

// WithGlobals exposes extra host values to every execution.
func WithGlobals(globals map[string]any) RuntimeOption {
	return func(r *Runtime) {
		for k, v := range globals {
			r.extra[k] = v
		}
	}
}

// WithDumpFilter supplies the filter used when dump snapshots a whole scope.
func WithDumpFilter(f func() snapshot.Filter) RuntimeOption {
	return func(r *Runtime) {
		r.filter = f
	}
}

// NewRuntime creates a Runtime. Risor's builtin modules and the dump helper
// module are registered with the module cache.
func NewRuntime(opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		out:      NewOutput(io.Discard),
		logger:   slog.Default(),
		extra:    make(map[string]any),
		input:    &inputCursor{},
		defaults: make(map[string]object.Object),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.modules == nil {
		r.modules = NewModuleCache()
	}
	for name, v := range risor.NewConfig().Globals() {
		obj, ok := v.(object.Object)
		if !ok {
			continue
		}
		r.defaults[name] = obj
		if m, ok := obj.(*object.Module); ok {
			r.modules.RegisterBuiltin(name, m)
		}
	}
	r.modules.RegisterHelper(dump.ModuleName, func() *object.Module {
		return object.NewBuiltinsModule(dump.ModuleName, map[string]object.Object{
			dumpBuiltin: r.makeDumpFn(dump.Site{}),
		})
	})
	return r
}

// Modules returns the module cache.
func (r *Runtime) Modules() *ModuleCache { return r.modules }

// Output returns the user output stream.
func (r *Runtime) Output() *Output { return r.out }

// IsHostName reports whether name is a builtin the runtime injects.
func (r *Runtime) IsHostName(name string) bool {
	switch name {
	case printBuiltin, inputBuiltin, helpBuiltin, raiseBuiltin, exitBuiltin,
		logBuiltin, dumpBuiltin, traceBuiltin, dumpAtBuiltin:
		return true
	}
	if _, ok := r.extra[name]; ok {
		return true
	}
	_, ok := r.defaults[name]
	return ok
}

// ResetInput rewinds the mocked standard input so the next run reads it
// from the start.
func (r *Runtime) ResetInput() {
	r.input.mu.Lock()
	r.input.lines = nil
	r.input.next = 0
	r.input.mu.Unlock()
}

// Exec runs src against sc. Bindings created or changed by src are written
// back into sc even when src fails partway. file labels traceback frames.
//
// Errors raised by src are returned as *ExecError. An *ExitError from
// exit(), a context error, or an internal failure is returned as is.
func (r *Runtime) Exec(ctx context.Context, src, file string, sc *scope.Scope) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := &session{rt: r, file: file, trace: newTracer(file, src)}
	r.current.Store(s)
	defer r.current.Store(nil)
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("runtime: panic in %s: %v", file, p)
		}
	}()

	text := src
	if instrumented, ierr := Instrument(src); ierr == nil {
		if _, perr := parser.Parse(ctx, instrumented); perr == nil {
			text = instrumented
		} else {
			r.logger.Debug("instrumented source does not parse", "file", file, "error", perr)
		}
	}

	prog, err := parser.Parse(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := syntaxLine(err)
		return &ExecError{
			Err:    &SyntaxError{Err: err, Line: line},
			Frames: []protocol.Frame{EngineFrame, frameAt(file, src, line)},
		}
	}

	hosts := s.hostGlobals()
	globals := make(map[string]any, len(hosts)+len(r.extra)+sc.Len())
	for k, v := range r.extra {
		globals[k] = v
	}
	for k, v := range hosts {
		globals[k] = v
	}
	sc.Each(func(name string, v object.Object) {
		if b, ok := v.(*object.Builtin); ok && r.IsHostName(name) && b.Name() == name {
			return
		}
		globals[name] = v
	})

	var opts []risor.Option
	names := make([]string, 0, len(globals))
	for name := range globals {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		opts = append(opts, risor.WithGlobal(name, globals[name]))
	}
	opts = append(opts, risor.WithImporter(r.modules))
	cfg := risor.NewConfig(opts...)
	visible := make([]string, 0, len(globals))
	for name := range cfg.Globals() {
		visible = append(visible, name)
	}
	sort.Strings(visible)
	r.modules.setGlobalNames(visible)

	code, err := compiler.Compile(prog, cfg.CompilerOpts()...)
	if err != nil {
		frames := []protocol.Frame{EngineFrame}
		if line := compileLine(err, text); line > 0 {
			frames = append(frames, frameAt(file, src, line))
		}
		return &ExecError{Err: &CompileError{Err: err}, Frames: frames}
	}

	machine := vm.New(code, cfg.VMOpts()...)
	s.machine = machine
	runErr := machine.Run(ctx)
	s.readBack(sc, hosts)

	switch {
	case runErr == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	}
	if exit, ok := IsExit(runErr); ok {
		return exit
	}
	frames := s.trace.stack()
	var raised *RaisedError
	if errors.As(HostError(runErr), &raised) && len(raised.Frames) > 0 {
		frames = raised.Frames
	}
	return &ExecError{Err: runErr, Frames: append([]protocol.Frame{EngineFrame}, frames...)}
}

func frameAt(file, src string, line int) protocol.Frame {
	f := protocol.Frame{File: file, Function: moduleFunction, Line: line}
	lines := strings.Split(src, "\n")
	if line > 0 && line <= len(lines) {
		f.Source = strings.TrimSpace(lines[line-1])
	}
	return f
}

// session is the state of one Exec.
type session struct {
	rt      *Runtime
	file    string
	trace   *tracer
	machine *vm.VirtualMachine
}

func (s *session) lookup(name string) (object.Object, bool) {
	if s.machine == nil {
		return nil, false
	}
	v, err := s.machine.Get(name)
	if err != nil || v == nil {
		return nil, false
	}
	return v, true
}

// currentScope snapshots the global bindings of the running program.
func (s *session) currentScope() *scope.Scope {
	out := scope.New()
	if s.machine == nil {
		return out
	}
	for _, name := range s.machine.GlobalNames() {
		if s.rt.IsHostName(name) {
			continue
		}
		if v, ok := s.lookup(name); ok {
			out.Set(name, v)
		}
	}
	return out
}

// readBack copies program globals into sc, skipping names still bound to
// the value the runtime injected.
func (s *session) readBack(sc *scope.Scope, hosts map[string]any) {
	if s.machine == nil {
		return
	}
	for _, name := range s.machine.GlobalNames() {
		v, ok := s.lookup(name)
		if !ok {
			continue
		}
		if h, isHost := hosts[name]; isHost && sameObject(h, v) {
			continue
		}
		if h, isExtra := s.rt.extra[name]; isExtra {
			// Go values are converted on the way in and cannot be compared.
			if _, isObj := h.(object.Object); !isObj || sameObject(h, v) {
				continue
			}
		}
		if d, isDefault := s.rt.defaults[name]; isDefault && d == v {
			continue
		}
		sc.Set(name, v)
	}
}

func sameObject(host any, v object.Object) bool {
	obj, ok := host.(object.Object)
	if !ok {
		return false
	}
	if obj == v {
		return true
	}
	// Proxies are re-wrapped on the way in.
	hp, ok1 := obj.(*object.Proxy)
	vp, ok2 := v.(*object.Proxy)
	return ok1 && ok2 && hp.Interface() == vp.Interface()
}

func (r *Runtime) dumpFilter() snapshot.Filter {
	if r.filter == nil {
		return snapshot.Filter{Hidden: r.IsHostName}
	}
	return r.filter()
}

type inputCursor struct {
	mu    sync.Mutex
	lines []object.Object
	next  int
}

// Output is the buffered user output stream. Writes are safe for concurrent
// use by goroutines started from injected code.
type Output struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewOutput wraps w.
func NewOutput(w io.Writer) *Output {
	return &Output{w: bufio.NewWriter(w)}
}

// WriteString buffers s.
func (o *Output) WriteString(s string) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.w.WriteString(s)
}

// Flush writes buffered output through.
func (o *Output) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.w.Flush()
}
