package livescope

import (
	"context"
	"strings"

	"github.com/jward/livescope/internal/protocol"
	"github.com/jward/livescope/internal/runtime"
)

// Carried is the source of one run: the body preceded by the declarations it
// inherits from code that ran before it.
type Carried struct {
	// Source is what gets executed.
	Source string
	// Decls are the declarations Source makes, with file lines, for a later
	// run that reuses its scope.
	Decls []runtime.Decl

	preludeLines int
	// File lines of the declarations inserted between prelude and body.
	inserted []int
}

// Carry re-declares the top-level imports and functions of prelude at their
// own lines ahead of body, so that line k of body lands on line P+k, P being
// the number of prelude lines. Imports and functions cannot be served from
// the cached prelude scope and have to be declared again by every run.
//
// prior holds the declarations of a run whose scope is being reused. Those
// not declared again by prelude or body are inserted between the prelude
// lines and body; FileLine maps lines of Source back to the file.
//
// A prelude that does not parse returns a *runtime.SyntaxError. A body that
// does not parse is left for the run to report.
func Carry(ctx context.Context, body, prelude string, prior []runtime.Decl) (*Carried, error) {
	pre := &runtime.Declarations{}
	c := &Carried{}
	if strings.TrimSpace(prelude) != "" {
		var err error
		if pre, err = runtime.TopLevelDecls(ctx, prelude); err != nil {
			return nil, err
		}
		c.preludeLines = len(strings.Split(strings.TrimSuffix(prelude, "\n"), "\n"))
	}
	own, err := runtime.TopLevelDecls(ctx, body)
	if err != nil {
		own = &runtime.Declarations{}
	}

	region := make([]string, c.preludeLines)
	for _, d := range pre.Decls {
		for k, line := range strings.Split(d.Text, "\n") {
			i := d.Line - 1 + k
			if i >= len(region) {
				break
			}
			if region[i] != "" {
				region[i] += "; " + line
			} else {
				region[i] = line
			}
		}
	}
	c.Decls = append(c.Decls, pre.Decls...)

	imported := make(map[string]bool)
	for _, d := range append(append([]runtime.Decl{}, pre.Decls...), own.Decls...) {
		if d.Name == "" {
			imported[d.Text] = true
		}
	}
	for _, d := range prior {
		if d.Name == "" && imported[d.Text] {
			continue
		}
		if d.Name != "" && (pre.Declares(d.Name) || own.Declares(d.Name)) {
			continue
		}
		if d.Name == "" {
			imported[d.Text] = true
		}
		for k, line := range strings.Split(d.Text, "\n") {
			region = append(region, line)
			c.inserted = append(c.inserted, d.Line+k)
		}
		c.Decls = append(c.Decls, d)
	}

	for _, d := range own.Decls {
		d.Line += c.preludeLines
		c.Decls = append(c.Decls, d)
	}

	if len(region) == 0 {
		c.Source = body
		return c, nil
	}
	c.Source = strings.Join(append(region, body), "\n")
	return c, nil
}

// FileLine maps a line of Source to the line of the file it came from.
func (c *Carried) FileLine(line int) int {
	shift := len(c.inserted)
	switch {
	case line <= c.preludeLines:
		return line
	case line <= c.preludeLines+shift:
		return c.inserted[line-c.preludeLines-1]
	default:
		return line - shift
	}
}

// remap rewrites the lines of frames in file from Source lines to file lines.
func (c *Carried) remap(file string, frames []protocol.Frame) {
	if len(c.inserted) == 0 {
		return
	}
	for i := range frames {
		if frames[i].File == file && frames[i].Line > 0 {
			frames[i].Line = c.FileLine(frames[i].Line)
		}
	}
}
