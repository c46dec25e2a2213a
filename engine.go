package livescope

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/risor-io/risor/object"

	"github.com/jward/livescope/internal/dump"
	"github.com/jward/livescope/internal/protocol"
	"github.com/jward/livescope/internal/runtime"
	"github.com/jward/livescope/internal/scope"
	"github.com/jward/livescope/internal/snapshot"
	"github.com/jward/livescope/internal/store"
)

// HiddenGlobalsStatus is the snapshot sent instead of the scope when the
// settings turn global variables off.
const HiddenGlobalsStatus = "livescope is configured to not show global vars"

// DefaultFile labels traceback frames when a request has no file path.
const DefaultFile = "<string>"

// Journal records completed runs.
type Journal interface {
	RecordRun(ctx context.Context, r *store.Run) error
}

// Engine runs requests one at a time against a single live execution
// context. It is not safe for concurrent use.
type Engine struct {
	runtime  *runtime.Runtime
	modules  *runtime.ModuleCache
	encoder  *snapshot.Encoder
	dump     *dump.Channel
	saved    *SavedScope
	oracle   Oracle
	journal  Journal
	logger   *slog.Logger
	defaults *protocol.Settings

	// Modules loaded before the first run; never evicted.
	baseline []string
	// The scope of the previous run, reused when requested, and the
	// declarations its functions and modules came from.
	current *scope.Scope
	decls   []runtime.Decl
	// Value of live_store carried into every fresh scope.
	liveStore object.Object
	// Settings of the run in progress, for dump filters.
	settings  *protocol.Settings
	sessionID string

	// Collected from options before the runtime is built.
	userOutput   io.Writer
	libraryPaths []string
	libraryNames []string
	globals      map[string]any
	maxDepth     int
	registry     *snapshot.Registry
	emitter      dump.Emitter
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithOracle replaces the library classifier used by the module janitor.
func WithOracle(o Oracle) Option {
	return func(e *Engine) {
		e.oracle = o
	}
}

// WithLibraryNames marks top-level module names as libraries in addition to
// those under the library paths.
func WithLibraryNames(names ...string) Option {
	return func(e *Engine) {
		e.libraryNames = append(e.libraryNames, names...)
	}
}

// WithJournal records every completed run.
func WithJournal(j Journal) Option {
	return func(e *Engine) {
		e.journal = j
	}
}

// WithSessionID tags journal entries with a serve session.
func WithSessionID(id string) Option {
	return func(e *Engine) {
		e.sessionID = id
	}
}

// WithUserOutput sets where print writes. Defaults to os.Stdout.
func WithUserOutput(w io.Writer) Option {
	return func(e *Engine) {
		e.userOutput = w
	}
}

// WithGlobals exposes extra host values to injected code.
func WithGlobals(globals map[string]any) Option {
	return func(e *Engine) {
		for k, v := range globals {
			e.globals[k] = v
		}
	}
}

// WithLibraryPaths adds directories whose modules are libraries: resolved
// after the script directory and kept cached across runs.
func WithLibraryPaths(paths ...string) Option {
	return func(e *Engine) {
		e.libraryPaths = append(e.libraryPaths, paths...)
	}
}

// WithMaxDepth sets the snapshot nesting ceiling.
func WithMaxDepth(depth int) Option {
	return func(e *Engine) {
		e.maxDepth = depth
	}
}

// WithRegistry replaces the snapshot adapter registry.
func WithRegistry(r *snapshot.Registry) Option {
	return func(e *Engine) {
		e.registry = r
	}
}

// WithEmitter sets where manual dumps are written mid-run.
func WithEmitter(emit dump.Emitter) Option {
	return func(e *Engine) {
		e.emitter = emit
	}
}

// WithSettings sets the settings applied when a request omits them.
func WithSettings(s *protocol.Settings) Option {
	return func(e *Engine) {
		e.defaults = s
	}
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger:     slog.Default(),
		liveStore:  object.Nil,
		globals:    make(map[string]any),
		maxDepth:   snapshot.DefaultMaxDepth,
		userOutput: os.Stdout,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = snapshot.DefaultRegistry()
	}
	if e.sessionID == "" {
		e.sessionID = uuid.NewString()
	}

	e.encoder = snapshot.NewEncoder(e.registry, snapshot.WithMaxDepth(e.maxDepth))
	e.dump = dump.NewChannel(e.encoder, e.emitter)
	e.modules = runtime.NewModuleCache(e.libraryPaths...)
	e.runtime = runtime.NewRuntime(
		runtime.WithOutput(e.userOutput),
		runtime.WithLogger(e.logger),
		runtime.WithDumpChannel(e.dump),
		runtime.WithModuleCache(e.modules),
		runtime.WithGlobals(e.globals),
		runtime.WithDumpFilter(func() snapshot.Filter { return e.filter(e.settings) }),
	)
	if e.oracle == nil {
		e.oracle = NewLibraryOracle(e.modules, e.libraryNames...)
	}
	e.saved = NewSavedScope(e.runtime, e.logger)
	e.baseline = e.modules.Names()
	return e
}

// SessionID identifies this Engine in the run journal.
func (e *Engine) SessionID() string { return e.sessionID }

// Modules returns the module cache.
func (e *Engine) Modules() *runtime.ModuleCache { return e.modules }

// SetEmitter replaces where manual dumps are written.
func (e *Engine) SetEmitter(emit dump.Emitter) {
	e.dump.SetEmitter(emit)
}

// Run executes one request and returns its Result. Failures of injected code
// are reported inside the Result. The returned error is non-nil only when
// the run was cancelled, when injected code called exit (*runtime.ExitError),
// or when the engine itself failed.
func (e *Engine) Run(ctx context.Context, req *protocol.Request) (*protocol.Result, error) {
	start := time.Now()
	settings := e.defaults.Merge(req.Settings)
	e.settings = settings
	filter := e.filter(settings)
	res := protocol.NewResult()

	file := req.FilePath
	if file == "" {
		file = DefaultFile
	}

	reuse := req.UsePreviousVariables && e.current != nil
	var (
		working *scope.Scope
		partial *scope.Scope
		elapsed time.Duration
	)
	err := WithScriptDirectory(scriptDir(req.FilePath), e.modules, e.logger, func() error {
		defer func() { e.cleanup(working, reuse) }()

		var prior []runtime.Decl
		if reuse {
			var dropped []string
			working, dropped = e.current.Portable()
			prior = e.decls
			e.logger.Debug("reusing scope", "bindings", working.Len(), "redeclared", dropped)
		} else {
			sc, err := e.saved.WorkingScope(ctx, req.SavedCode, file, e.identity(req.FilePath))
			if err != nil {
				partial = sc
				e.decls = nil
				return err
			}
			working = sc
		}
		setFile(working, req.FilePath)
		e.current = working

		carried, err := Carry(ctx, req.EvalCode, req.SavedCode, prior)
		if err != nil {
			var syntax *runtime.SyntaxError
			if errors.As(err, &syntax) {
				return &runtime.ExecError{Err: err, Frames: []protocol.Frame{
					runtime.EngineFrame, {File: file, Line: syntax.Line, Function: "<module>"},
				}}
			}
			return err
		}
		e.decls = carried.Decls

		partial = working
		execStart := time.Now()
		defer func() { elapsed = time.Since(execStart) }()
		err = e.runtime.Exec(ctx, carried.Source, file, working)
		var execErr *runtime.ExecError
		if errors.As(err, &execErr) {
			carried.remap(file, execErr.Frames)
		}
		return err
	})
	if err != nil {
		return e.fail(ctx, req, res, err, partial, filter, elapsed, start, reuse)
	}

	res.ExecTime = elapsed.Seconds()
	if settings.ShowGlobals() {
		res.UserVariables = e.encoder.Encode(working, filter)
	} else {
		res.UserVariables = e.hiddenGlobals()
	}
	res.TotalTime = time.Since(start).Seconds()
	e.logger.Debug("run complete", "file", file, "exec", elapsed, "total", time.Since(start))
	e.record(ctx, req, res, start, reuse)
	return res, nil
}

// fail turns err into the Result of a failed run, or returns it when it is
// not a failure of injected code.
func (e *Engine) fail(ctx context.Context, req *protocol.Request, res *protocol.Result, err error,
	partial *scope.Scope, filter snapshot.Filter, elapsed time.Duration, start time.Time, reuse bool,
) (*protocol.Result, error) {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil, err
	}
	if exit, ok := runtime.IsExit(err); ok {
		return nil, exit
	}
	var execErr *runtime.ExecError
	if !errors.As(err, &execErr) {
		return nil, fmt.Errorf("livescope: run: %w", err)
	}

	ue := Normalize(err, partial, e.encoder, filter, elapsed)
	res.UserError = ue.Report
	res.UserErrorMsg = &ue.Message
	res.UserVariables = ue.Variables
	if !e.settings.ShowGlobals() {
		res.UserVariables = e.hiddenGlobals()
	}
	res.ExecTime = elapsed.Seconds()
	res.TotalTime = time.Since(start).Seconds()
	e.record(ctx, req, res, start, reuse)
	return res, nil
}

// cleanup runs after every run, whatever its outcome.
func (e *Engine) cleanup(working *scope.Scope, reuse bool) {
	if err := e.runtime.Output().Flush(); err != nil {
		e.logger.Warn("flush user output", "error", err)
	}
	e.dump.Reset()
	e.runtime.ResetInput()
	if !reuse && working != nil {
		if v, ok := working.Get(snapshot.StoreBinding); ok {
			e.liveStore = v
		} else {
			e.liveStore = object.Nil
		}
	}
	evicted := EvictUserModules(e.baseline, e.modules.Names(), e.oracle, e.modules)
	if len(evicted) > 0 {
		e.logger.Debug("evicted user modules", "modules", evicted)
	}
}

// record writes the run to the journal. Journal failures are logged only.
func (e *Engine) record(ctx context.Context, req *protocol.Request, res *protocol.Result, start time.Time, reuse bool) {
	if e.journal == nil {
		return
	}
	r := &store.Run{
		SessionID:   &e.sessionID,
		FilePath:    req.FilePath,
		EvalHash:    store.CodeHash(req.EvalCode),
		SavedHash:   store.CodeHash(req.SavedCode),
		ReusedScope: reuse,
		StartedAt:   start,
		ExecTime:    res.ExecTime,
		TotalTime:   res.TotalTime,
		Variables:   res.UserVariables,
	}
	if res.UserError != nil {
		r.ErrorType = &res.UserError.Type
		r.ErrorMessage = &res.UserError.Message
	}
	r.InternalError = res.InternalError
	if err := e.journal.RecordRun(context.WithoutCancel(ctx), r); err != nil {
		e.logger.Warn("record run", "error", err)
	}
}

func (e *Engine) filter(settings *protocol.Settings) snapshot.Filter {
	f := snapshot.Filter{
		Hidden: func(name string) bool {
			return isIdentityBinding(name) || e.runtime.IsHostName(name)
		},
	}
	if settings != nil {
		f.Vars = settings.DefaultFilterVars
		f.Types = settings.DefaultFilterTypes
	}
	return f
}

func (e *Engine) hiddenGlobals() string {
	return e.encoder.EncodeFields(snapshot.Fields{{Key: "zz status", Value: HiddenGlobalsStatus}})
}

func scriptDir(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Dir(path)
}
