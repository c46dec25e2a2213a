package livescope

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jward/livescope/internal/protocol"
	"github.com/jward/livescope/internal/runtime"
	"github.com/jward/livescope/internal/scope"
	"github.com/jward/livescope/internal/snapshot"
)

// maxCauseDepth bounds how many chained causes an error report follows.
const maxCauseDepth = 10

// UserError is a failure of injected code, normalized for the presentation
// layer. It carries the snapshot of the bindings that existed when the code
// failed.
type UserError struct {
	Report    *protocol.ErrorReport
	Message   string
	Variables string
	Elapsed   time.Duration
	Err       error
}

func (e *UserError) Error() string { return e.Message }
func (e *UserError) Unwrap() error { return e.Err }

// Normalize converts err into a UserError. The engine's own frame is
// stripped from the traceback and sc, which may be nil, is encoded as the
// variables at failure time.
func Normalize(err error, sc *scope.Scope, enc *snapshot.Encoder, f snapshot.Filter, elapsed time.Duration) *UserError {
	var frames []protocol.Frame
	var execErr *runtime.ExecError
	if errors.As(err, &execErr) {
		frames = execErr.Frames
	}
	if len(frames) > 0 && frames[0] == runtime.EngineFrame {
		frames = frames[1:]
	}

	report := buildReport(err, frames, 0)
	vars := "{}"
	if sc != nil {
		vars = enc.Encode(sc, f)
	}
	return &UserError{
		Report:    report,
		Message:   Traceback(report),
		Variables: vars,
		Elapsed:   elapsed,
		Err:       err,
	}
}

func buildReport(err error, frames []protocol.Frame, depth int) *protocol.ErrorReport {
	r := &protocol.ErrorReport{
		Type:    runtime.ErrorType(err),
		Message: runtime.ErrorMessage(err),
		Stack:   frames,
	}
	if r.Stack == nil {
		r.Stack = []protocol.Frame{}
	}
	if depth >= maxCauseDepth {
		return r
	}
	if cause := causeOf(err, depth); cause != nil {
		var raised *runtime.RaisedError
		var causeFrames []protocol.Frame
		if errors.As(cause, &raised) {
			causeFrames = raised.Frames
		}
		r.Cause = buildReport(cause, causeFrames, depth+1)
	}
	return r
}

func causeOf(err error, depth int) error {
	var raised *runtime.RaisedError
	if errors.As(runtime.HostError(err), &raised) || errors.As(err, &raised) {
		return raised.Cause
	}
	if depth == 0 {
		// Wrapping added by the interpreter is not a cause.
		return nil
	}
	return errors.Unwrap(err)
}

// Traceback renders r the way an interactive interpreter prints an uncaught
// error, causes first.
func Traceback(r *protocol.ErrorReport) string {
	var b strings.Builder
	writeTraceback(&b, r, 0)
	return b.String()
}

func writeTraceback(b *strings.Builder, r *protocol.ErrorReport, depth int) {
	if r.Cause != nil && depth < maxCauseDepth {
		writeTraceback(b, r.Cause, depth+1)
		b.WriteString("\nThe above exception was the direct cause of the following exception:\n\n")
	}
	if len(r.Stack) > 0 {
		b.WriteString("Traceback (most recent call last):\n")
		for _, f := range r.Stack {
			fmt.Fprintf(b, "  File %q, line %d, in %s\n", f.File, f.Line, f.Function)
			if f.Source != "" {
				fmt.Fprintf(b, "    %s\n", f.Source)
			}
		}
	}
	if r.Message == "" {
		fmt.Fprintf(b, "%s\n", r.Type)
		return
	}
	fmt.Fprintf(b, "%s: %s\n", r.Type, r.Message)
}
