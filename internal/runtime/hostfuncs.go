package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/risor-io/risor/object"

	"github.com/jward/livescope/internal/dump"
)

// Host builtin names. Read-back never copies these into the scope while
// they still hold the host value.
const (
	printBuiltin = "print"
	inputBuiltin = "input"
	helpBuiltin  = "help"
	raiseBuiltin = "raise"
	exitBuiltin  = "exit"
	logBuiltin   = "log"

	// InputBinding holds the mocked standard input consumed by input().
	InputBinding = "standard_input"
)

// ErrNoMoreInput is raised by input() once the mocked input is exhausted.
var ErrNoMoreInput = errors.New("There is no more input")

// hostGlobals builds the builtins exposed to one execution.
func (s *session) hostGlobals() map[string]any {
	return map[string]any{
		printBuiltin:  s.makePrintFn(),
		inputBuiltin:  s.makeInputFn(),
		helpBuiltin:   s.makeHelpFn(),
		raiseBuiltin:  s.makeRaiseFn(),
		exitBuiltin:   makeExitFn(),
		dumpBuiltin:   s.rt.makeDumpFn(dump.Site{}),
		traceBuiltin:  s.makeTraceFn(),
		dumpAtBuiltin: s.makeDumpAtFn(),
		logBuiltin:    mustProxy(&logObject{logger: s.rt.logger.With("file", s.file)}),
	}
}

// makePrintFn creates "print", writing to the user output stream.
//
// print(args...) → nil
func (s *session) makePrintFn() *object.Builtin {
	return object.NewBuiltin(printBuiltin, func(ctx context.Context, args ...object.Object) object.Object {
		parts := make([]string, len(args))
		for i, arg := range args {
			parts[i] = display(arg)
		}
		if _, err := s.rt.out.WriteString(strings.Join(parts, " ") + "\n"); err != nil {
			return object.Errorf("print: %v", err)
		}
		return object.Nil
	})
}

// makeInputFn creates "input". Lines come from standard_input, a string
// split on newlines or a list of values, consumed one per call.
//
// input(prompt?) → string
func (s *session) makeInputFn() *object.Builtin {
	return object.NewBuiltin(inputBuiltin, func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) > 1 {
			return object.NewArgsError(inputBuiltin, 1, len(args))
		}
		if len(args) == 1 {
			if _, err := s.rt.out.WriteString(display(args[0])); err != nil {
				return object.Errorf("input: %v", err)
			}
		}

		cursor := s.rt.input
		cursor.mu.Lock()
		defer cursor.mu.Unlock()

		if cursor.lines == nil {
			src, ok := s.lookup(InputBinding)
			if !ok || src == object.Nil {
				_, _ = s.rt.out.WriteString("to use input() set " + InputBinding + ", e.g. " + InputBinding + " := \"line1\\nline2\"\n")
				return object.Nil
			}
			switch v := src.(type) {
			case *object.String:
				for _, line := range strings.Split(v.Value(), "\n") {
					cursor.lines = append(cursor.lines, object.NewString(line))
				}
			case *object.List:
				cursor.lines = append([]object.Object{}, v.Value()...)
			default:
				return object.Errorf("input: %s must be a string or list, got %s", InputBinding, src.Type())
			}
		}
		if cursor.next >= len(cursor.lines) {
			return object.NewError(ErrNoMoreInput)
		}
		line := cursor.lines[cursor.next]
		cursor.next++
		return line
	})
}

// makeHelpFn creates "help".
//
// help(value?) → nil
func (s *session) makeHelpFn() *object.Builtin {
	return object.NewBuiltin(helpBuiltin, func(ctx context.Context, args ...object.Object) object.Object {
		var msg string
		switch len(args) {
		case 0:
			msg = "livescope evaluates your code as you type. Use print() for output, " +
				"dump(value, at) to snapshot a value at a chosen call, and " +
				InputBinding + " to feed input()."
		case 1:
			msg = fmt.Sprintf("%s: %s", args[0].Type(), args[0].Inspect())
		default:
			return object.NewArgsError(helpBuiltin, 1, len(args))
		}
		if _, err := s.rt.out.WriteString(msg + "\n"); err != nil {
			return object.Errorf("help: %v", err)
		}
		return object.Nil
	})
}

// makeRaiseFn creates "raise", which fails the run with a user error. The
// optional cause is reported as the error's cause chain.
//
// raise(message, cause?) → error
func (s *session) makeRaiseFn() *object.Builtin {
	return object.NewBuiltin(raiseBuiltin, func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) < 1 || len(args) > 2 {
			return object.NewArgsError(raiseBuiltin, 1, len(args))
		}
		err := &RaisedError{Message: display(args[0]), Frames: s.trace.stack()}
		if len(args) == 2 && args[1] != object.Nil {
			switch c := args[1].(type) {
			case *object.Error:
				err.Cause = c.Value()
			default:
				err.Cause = errors.New(display(c))
			}
		}
		return object.NewError(err)
	})
}

// makeExitFn creates "exit".
//
// exit(code?) → never returns
func makeExitFn() *object.Builtin {
	return object.NewBuiltin(exitBuiltin, func(ctx context.Context, args ...object.Object) object.Object {
		code := 0
		if len(args) > 1 {
			return object.NewArgsError(exitBuiltin, 1, len(args))
		}
		if len(args) == 1 {
			n, ok := args[0].(*object.Int)
			if !ok {
				return object.Errorf("exit: code must be an int, got %s", args[0].Type())
			}
			code = int(n.Value())
		}
		return object.NewError(&ExitError{Code: code})
	})
}

// makeTraceFn creates the statement hook called by instrumented source.
//
// __trace(line, function, entry) → nil
func (s *session) makeTraceFn() *object.Builtin {
	return object.NewBuiltin(traceBuiltin, func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 3 {
			return object.NewArgsError(traceBuiltin, 3, len(args))
		}
		line, ok1 := args[0].(*object.Int)
		fn, ok2 := args[1].(*object.String)
		entry, ok3 := args[2].(*object.Int)
		if !ok1 || !ok2 || !ok3 {
			return object.Errorf("%s: invalid arguments", traceBuiltin)
		}
		s.trace.event(int(line.Value()), fn.Value(), entry.Value() != 0)
		return object.Nil
	})
}

// makeDumpAtFn creates the factory instrumented source calls in place of
// dump, binding the call site.
//
// __dump_at(function, line) → builtin
func (s *session) makeDumpAtFn() *object.Builtin {
	return object.NewBuiltin(dumpAtBuiltin, func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError(dumpAtBuiltin, 2, len(args))
		}
		fn, ok1 := args[0].(*object.String)
		line, ok2 := args[1].(*object.Int)
		if !ok1 || !ok2 {
			return object.Errorf("%s: invalid arguments", dumpAtBuiltin)
		}
		return s.rt.makeDumpFn(dump.Site{File: s.file, Function: fn.Value(), Line: int(line.Value())})
	})
}

// makeDumpFn creates "dump". A zero site is filled from the tracer of the
// running session, for calls that instrumentation could not bind.
//
// dump(value?, at?) → map when the call fires, else nil
func (r *Runtime) makeDumpFn(site dump.Site) *object.Builtin {
	return object.NewBuiltin(dumpBuiltin, func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) > 2 {
			return object.NewArgsError(dumpBuiltin, 2, len(args))
		}
		s := r.current.Load()
		if s == nil {
			return object.Errorf("dump: no run in progress")
		}
		if r.dump == nil {
			return object.Nil
		}

		req := dump.Request{Site: site, Filter: r.dumpFilter()}
		if req.Site.Line == 0 {
			req.Site = dump.Site{File: s.file, Function: moduleFunction, Line: s.trace.line()}
			if frames := s.trace.stack(); len(frames) > 0 {
				req.Site.Function = frames[len(frames)-1].Function
			}
		}
		if len(args) > 0 && args[0] != object.Nil {
			req.Value = args[0]
		} else {
			req.Scope = s.currentScope
		}
		if len(args) == 2 {
			at, err := counts(args[1])
			if err != nil {
				return object.Errorf("dump: %v", err)
			}
			req.At = at
		}
		res, err := r.dump.Dump(req)
		if err != nil {
			r.logger.Warn("dump emit failed", "error", err)
		}
		if res == nil {
			return object.Nil
		}
		return object.NewMap(map[string]object.Object{
			"caller":        object.NewString(res.Caller),
			"lineno":        object.NewInt(int64(res.LineNo)),
			"count":         object.NewInt(int64(res.Count)),
			"userVariables": object.NewString(res.UserVariables),
			"done":          object.False,
		})
	})
}

func counts(v object.Object) ([]int, error) {
	switch at := v.(type) {
	case *object.Int:
		return []int{int(at.Value())}, nil
	case *object.List:
		out := make([]int, 0, len(at.Value()))
		for _, item := range at.Value() {
			n, ok := item.(*object.Int)
			if !ok {
				return nil, fmt.Errorf("at must hold ints, got %s", item.Type())
			}
			out = append(out, int(n.Value()))
		}
		return out, nil
	}
	return nil, fmt.Errorf("at must be an int or list, got %s", v.Type())
}

func display(v object.Object) string {
	if s, ok := v.(*object.String); ok {
		return s.Value()
	}
	return v.Inspect()
}

func mustProxy(v any) object.Object {
	p, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Sprintf("runtime: proxy error: %v", err))
	}
	return p
}

// logObject provides log.info/warn/error methods for injected code.
type logObject struct {
	logger *slog.Logger
}

func (l *logObject) Info(msg string) {
	l.logger.Info(msg)
}

func (l *logObject) Warn(msg string) {
	l.logger.Warn(msg)
}

func (l *logObject) Error(msg string) {
	l.logger.Error(msg)
}
