package runtime

import (
	"fmt"
	"sort"
	"strings"

	"github.com/risor-io/risor/lexer"
	"github.com/risor-io/risor/token"
)

// Names of the hidden builtins that instrumented source calls.
const (
	traceBuiltin  = "__trace"
	dumpAtBuiltin = "__dump_at"
	dumpBuiltin   = "dump"

	moduleFunction    = "<module>"
	anonymousFunction = "<anonymous>"
)

// nonStarters never begin a statement when they open a line.
var nonStarters = map[string]bool{
	"}": true, ")": true, "]": true, "{": true, ";": true,
	".": true, ",": true, ":": true, "?": true,
	"else": true, "case": true, "default": true, "in": true,
	"=": true, ":=": true, "+=": true, "-=": true, "*=": true, "/=": true,
	"==": true, "!=": true, "<": true, ">": true, "<=": true, ">=": true,
	"&&": true, "||": true, "+": true, "-": true, "*": true, "/": true,
	"%": true, "|": true, "&": true, "^": true, "<<": true, ">>": true,
	"=>": true,
}

// continuations at the end of a line carry the expression onto the next.
var continuations = map[string]bool{
	"(": true, "[": true, ",": true, ".": true, "!": true, "?": true,
	"=": true, ":=": true, "+=": true, "-=": true, "*=": true, "/=": true,
	"==": true, "!=": true, "<": true, ">": true, "<=": true, ">=": true,
	"&&": true, "||": true, "+": true, "-": true, "*": true, "/": true,
	"%": true, "|": true, "&": true, "^": true, "<<": true, ">>": true,
	"=>": true, "in": true,
}

// expressionOpeners precede a "{" that starts a map literal rather than a
// block.
var expressionOpeners = map[string]bool{
	"(": true, "[": true, "{": true, ",": true, ":": true, "return": true,
	"=": true, ":=": true, "+=": true, "-=": true, "*=": true, "/=": true,
	"==": true, "!=": true, "<": true, ">": true, "<=": true, ">=": true,
	"&&": true, "||": true, "+": true, "-": true, "*": true, "/": true,
	"%": true, "!": true, "?": true, "=>": true, "in": true,
}

type bracket struct {
	open  string
	block bool
	fn    string // function name when this block is a function body
	entry bool   // next statement is the first of the function body
}

type pendingFunc struct {
	name  string
	depth int
}

type edit struct {
	line, col int // 0-based, rune column
	remove    int // runes replaced at col
	text      string
}

// Instrument rewrites src so that the start of every statement reports its
// line and enclosing function to the tracer, and every dump( call carries
// its call site. Insertions never add or remove newlines, so line numbers
// of the result match src.
//
// Instrument is token based and does not build a syntax tree; callers must
// parse the result and fall back to src if it does not parse.
func Instrument(src string) (string, error) {
	toks, err := tokens(src)
	if err != nil {
		return src, err
	}
	rewriteDump := !redefinesDump(toks)

	var (
		edits   []edit
		stack   []*bracket
		pending []pendingFunc
		prev    *token.Token
	)
	enclosing := func() *bracket {
		for i := len(stack) - 1; i >= 0; i-- {
			if stack[i].fn != "" {
				return stack[i]
			}
		}
		return nil
	}

	for i := range toks {
		tok := &toks[i]
		lit := tok.Literal

		inBlock := len(stack) == 0 || stack[len(stack)-1].block
		if inBlock && isStatementStart(prev, tok, stack) {
			fn, entry := moduleFunction, 0
			if b := enclosing(); b != nil {
				fn = b.fn
				if b.entry {
					entry = 1
					b.entry = false
				}
			}
			edits = append(edits, edit{
				line: tok.StartPosition.Line,
				col:  tok.StartPosition.Column,
				text: fmt.Sprintf("%s(%d, %q, %d); ", traceBuiltin, tok.StartPosition.Line+1, fn, entry),
			})
		}

		switch {
		case lit == "func":
			name := anonymousFunction
			if i+1 < len(toks) && toks[i+1].Type == token.IDENT {
				name = toks[i+1].Literal
			}
			pending = append(pending, pendingFunc{name: name, depth: len(stack)})
		case lit == "(" || lit == "[":
			stack = append(stack, &bracket{open: lit})
		case lit == "{":
			b := &bracket{open: lit, block: prev != nil && !expressionOpeners[prev.Literal]}
			if n := len(pending); b.block && n > 0 && pending[n-1].depth == len(stack) {
				b.fn = pending[n-1].name
				b.entry = true
				pending = pending[:n-1]
			}
			stack = append(stack, b)
		case lit == ")" || lit == "]" || lit == "}":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			for len(pending) > 0 && pending[len(pending)-1].depth > len(stack) {
				pending = pending[:len(pending)-1]
			}
		case rewriteDump && tok.Type == token.IDENT && lit == dumpBuiltin:
			if i+1 < len(toks) && toks[i+1].Literal == "(" && (prev == nil || prev.Literal != ".") {
				fn := moduleFunction
				if b := enclosing(); b != nil {
					fn = b.fn
				}
				edits = append(edits, edit{
					line:   tok.StartPosition.Line,
					col:    tok.StartPosition.Column,
					remove: len([]rune(dumpBuiltin)),
					text:   fmt.Sprintf("%s(%q, %d)", dumpAtBuiltin, fn, tok.StartPosition.Line+1),
				})
			}
		}
		prev = tok
	}
	return applyEdits(src, edits)
}

// tokens lexes src, dropping newline tokens: statement boundaries are
// derived from token positions instead.
func tokens(src string) ([]token.Token, error) {
	l := lexer.New(src)
	var out []token.Token
	for {
		tok, err := l.Next()
		if err != nil {
			return nil, fmt.Errorf("runtime: lex: %w", err)
		}
		if tok.Type == token.EOF {
			return out, nil
		}
		if tok.Type == token.NEWLINE {
			continue
		}
		out = append(out, tok)
	}
}

func isStatementStart(prev, tok *token.Token, stack []*bracket) bool {
	if nonStarters[tok.Literal] {
		return false
	}
	if prev == nil {
		return true
	}
	// First token inside a block opened on the same line.
	if prev.Literal == "{" && len(stack) > 0 && stack[len(stack)-1].block {
		return true
	}
	if tok.StartPosition.Line <= prev.EndPosition.Line {
		return false
	}
	return !continuations[prev.Literal]
}

// redefinesDump reports whether the source declares its own dump, in which
// case call sites are left alone.
func redefinesDump(toks []token.Token) bool {
	for i := range toks {
		if toks[i].Literal != dumpBuiltin || toks[i].Type != token.IDENT {
			continue
		}
		if i > 0 && toks[i-1].Literal == "func" {
			return true
		}
		if i+1 < len(toks) {
			switch toks[i+1].Literal {
			case "=", ":=":
				return true
			}
		}
	}
	return false
}

func applyEdits(src string, edits []edit) (string, error) {
	if len(edits) == 0 {
		return src, nil
	}
	lines := strings.Split(src, "\n")
	sort.SliceStable(edits, func(i, j int) bool {
		if edits[i].line != edits[j].line {
			return edits[i].line < edits[j].line
		}
		if edits[i].col != edits[j].col {
			return edits[i].col > edits[j].col
		}
		// Replace before inserting in front of the same column.
		return edits[i].remove > edits[j].remove
	})
	for _, e := range edits {
		if e.line < 0 || e.line >= len(lines) {
			return src, fmt.Errorf("runtime: instrument: line %d out of range", e.line+1)
		}
		runes := []rune(lines[e.line])
		if e.col < 0 || e.col+e.remove > len(runes) {
			return src, fmt.Errorf("runtime: instrument: column %d out of range on line %d", e.col, e.line+1)
		}
		out := make([]rune, 0, len(runes)+len(e.text))
		out = append(out, runes[:e.col]...)
		out = append(out, []rune(e.text)...)
		out = append(out, runes[e.col+e.remove:]...)
		lines[e.line] = string(out)
	}
	return strings.Join(lines, "\n"), nil
}
