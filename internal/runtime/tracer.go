package runtime

import (
	"strings"
	"sync"

	"github.com/jward/livescope/internal/protocol"
)

// maxTraceDepth caps the recorded call depth. Deeper frames are folded into
// the innermost recorded one.
const maxTraceDepth = 256

// tracer follows the statements reported by instrumented code and keeps an
// approximate call stack. A function entry pushes a frame; a statement in a
// function further down the stack pops back to it. Recursive calls that
// return into the same function are not distinguished.
type tracer struct {
	mu     sync.Mutex
	file   string
	lines  []string
	frames []protocol.Frame
}

func newTracer(file, src string) *tracer {
	return &tracer{
		file:   file,
		lines:  strings.Split(src, "\n"),
		frames: []protocol.Frame{{File: file, Function: moduleFunction}},
	}
}

func (t *tracer) event(line int, fn string, entry bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry {
		if len(t.frames) < maxTraceDepth {
			t.frames = append(t.frames, protocol.Frame{File: t.file, Function: fn, Line: line})
			return
		}
		top := &t.frames[len(t.frames)-1]
		top.Function, top.Line = fn, line
		return
	}
	for i := len(t.frames) - 1; i > 0; i-- {
		if t.frames[i].Function == fn {
			t.frames = t.frames[:i+1]
			t.frames[i].Line = line
			return
		}
	}
	if fn == moduleFunction {
		t.frames = t.frames[:1]
		t.frames[0].Line = line
		return
	}
	// A function whose entry was missed, e.g. one defined by an earlier run.
	t.frames = append(t.frames, protocol.Frame{File: t.file, Function: fn, Line: line})
}

// line returns the line of the innermost frame.
func (t *tracer) line() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frames[len(t.frames)-1].Line
}

// stack returns the recorded frames outermost first, with source text
// attached.
func (t *tracer) stack() []protocol.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]protocol.Frame, len(t.frames))
	for i, f := range t.frames {
		if f.Line > 0 && f.Line <= len(t.lines) {
			f.Source = strings.TrimSpace(t.lines[f.Line-1])
		}
		out[i] = f
	}
	return out
}
