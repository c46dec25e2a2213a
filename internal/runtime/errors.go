package runtime

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/risor-io/risor/token"

	"github.com/jward/livescope/internal/protocol"
)

// EngineFrame marks the outermost traceback frame, the engine's own call into
// the interpreter. Error normalization strips it.
var EngineFrame = protocol.Frame{File: "<livescope>", Function: "Runtime.Exec"}

// ExecError is an error raised by injected code, with the traceback at the
// point it was raised. Frames[0] is EngineFrame.
type ExecError struct {
	Err    error
	Frames []protocol.Frame
}

func (e *ExecError) Error() string { return e.Err.Error() }
func (e *ExecError) Unwrap() error { return e.Err }

// SyntaxError reports source that does not parse.
type SyntaxError struct {
	Err  error
	Line int
}

func (e *SyntaxError) Error() string { return e.Err.Error() }
func (e *SyntaxError) Unwrap() error { return e.Err }

// CompileError reports source that parses but does not compile, such as a
// reference to an undefined name.
type CompileError struct {
	Err error
}

func (e *CompileError) Error() string { return e.Err.Error() }
func (e *CompileError) Unwrap() error { return e.Err }

// RaisedError is produced by the raise builtin.
type RaisedError struct {
	Message string
	Cause   error
	Frames  []protocol.Frame
}

func (e *RaisedError) Error() string { return e.Message }
func (e *RaisedError) Unwrap() error { return e.Cause }

// ExitError is produced by the exit builtin. It ends the run and is not
// reported as a user error.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return fmt.Sprintf("exit status %d", e.Code) }

// positioned is implemented by Risor parse errors.
type positioned interface {
	StartPosition() token.Position
}

// valued is implemented by Risor error objects that carry a Go error.
type valued interface {
	Value() error
}

// HostError unwraps Risor error objects to the Go error they carry.
func HostError(err error) error {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if v, ok := e.(valued); ok && v.Value() != nil && v.Value() != e {
			return v.Value()
		}
	}
	return err
}

// IsExit reports whether err ends the run by request of injected code.
func IsExit(err error) (*ExitError, bool) {
	var exit *ExitError
	if errors.As(err, &exit) || errors.As(HostError(err), &exit) {
		return exit, true
	}
	return nil, false
}

// ErrorType names the kind of err for error reports.
func ErrorType(err error) string {
	var (
		syntax  *SyntaxError
		compile *CompileError
		raised  *RaisedError
		exec    *ExecError
	)
	switch {
	case errors.As(err, &syntax):
		return "SyntaxError"
	case errors.As(err, &compile):
		return "CompileError"
	case errors.As(err, &raised):
		return "Exception"
	case errors.As(err, &exec):
		return ErrorType(HostError(exec.Err))
	}
	name := fmt.Sprintf("%T", err)
	name = strings.TrimLeft(name, "*")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	switch name {
	case "", "errorString", "wrapError", "wrapErrors", "joinError", "Error":
		return "Error"
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// ErrorMessage returns the message of err without the wrapping added by the
// interpreter.
func ErrorMessage(err error) string {
	var exec *ExecError
	if errors.As(err, &exec) {
		err = exec.Err
	}
	var raised *RaisedError
	if errors.As(err, &raised) {
		return raised.Message
	}
	return HostError(err).Error()
}

var (
	compileLocation = regexp.MustCompile(`location: .*:(\d+):\d+`)
	quotedName      = regexp.MustCompile(`"([A-Za-z_][A-Za-z0-9_]*)"`)
)

// compileLine returns the 1-based line a compile error points at: the
// location the compiler reports, or else the first use of the name the
// message quotes. It returns 0 when neither is found.
func compileLine(err error, src string) int {
	msg := err.Error()
	if m := compileLocation.FindStringSubmatch(msg); m != nil {
		if n, convErr := strconv.Atoi(m[1]); convErr == nil && n > 0 {
			return n
		}
	}
	m := quotedName.FindStringSubmatch(msg)
	if m == nil {
		return 0
	}
	toks, lexErr := tokens(src)
	if lexErr != nil {
		return 0
	}
	for _, tok := range toks {
		if tok.Type == token.IDENT && tok.Literal == m[1] {
			return tok.StartPosition.Line + 1
		}
	}
	return 0
}

func syntaxLine(err error) int {
	var p positioned
	if errors.As(err, &p) {
		return p.StartPosition().Line + 1
	}
	return 0
}
