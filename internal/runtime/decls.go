package runtime

import (
	"context"

	"github.com/risor-io/risor/ast"
	"github.com/risor-io/risor/parser"
	"github.com/risor-io/risor/token"
)

// Decl is a top-level statement that has to be re-declared before a value
// it produced can be used by a later Exec: an import, or a function bound
// to a name. Functions and modules belong to the VM that created them.
type Decl struct {
	// Name is the bound name, empty for imports.
	Name string
	// Line is the 1-based line of the statement's first token.
	Line int
	// Text is the statement as written.
	Text string
}

// Declarations is the result of TopLevelDecls.
type Declarations struct {
	Decls []Decl
	// Names holds every name declared at the top level, carried or not.
	Names []string
}

// Declares reports whether name is declared at the top level.
func (d *Declarations) Declares(name string) bool {
	for _, n := range d.Names {
		if n == name {
			return true
		}
	}
	return false
}

// TopLevelDecls returns the imports and named functions at the top level of
// src in source order. Statements nested in functions or blocks are not
// returned. Source that does not parse returns a *SyntaxError.
func TopLevelDecls(ctx context.Context, src string) (*Declarations, error) {
	prog, err := parser.Parse(ctx, src)
	if err != nil {
		return nil, &SyntaxError{Err: err, Line: syntaxLine(err)}
	}
	toks, err := tokens(src)
	if err != nil {
		return nil, err
	}
	at := make(map[int]int, len(toks))
	for i := range toks {
		at[toks[i].StartPosition.Char] = i
	}
	runes := []rune(src)

	out := &Declarations{}
	carry := func(name string, first token.Token, end int) {
		start := first.StartPosition.Char
		if end <= start || end > len(runes) {
			return
		}
		out.Decls = append(out.Decls, Decl{
			Name: name,
			Line: first.StartPosition.Line + 1,
			Text: string(runes[start:end]),
		})
	}
	funcEnd := func(fn *ast.Func) int {
		i, ok := at[fn.Token().StartPosition.Char]
		if !ok {
			return -1
		}
		return blockEnd(toks, i)
	}

	for _, stmt := range prog.Statements() {
		switch s := stmt.(type) {
		case *ast.Import, *ast.FromImport:
			if i, ok := at[s.Token().StartPosition.Char]; ok {
				carry("", toks[i], statementEnd(toks, i))
			}
		case *ast.Func:
			if s.Name() == nil {
				continue
			}
			name := s.Name().Literal()
			out.Names = append(out.Names, name)
			carry(name, s.Token(), funcEnd(s))
		case *ast.Var:
			name, value := s.Value()
			out.Names = append(out.Names, name)
			if fn, ok := value.(*ast.Func); ok {
				carry(name, s.Token(), funcEnd(fn))
			}
		case *ast.Const:
			name, value := s.Value()
			out.Names = append(out.Names, name)
			if fn, ok := value.(*ast.Func); ok {
				carry(name, s.Token(), funcEnd(fn))
			}
		case *ast.MultiVar:
			names, _ := s.Value()
			out.Names = append(out.Names, names...)
		}
	}
	return out, nil
}

// blockEnd returns the rune offset just past the "}" closing the first
// block opened at bracket depth zero from toks[i] on.
func blockEnd(toks []token.Token, i int) int {
	depth, body := 0, false
	for ; i < len(toks); i++ {
		switch toks[i].Type {
		case token.LBRACE:
			if depth == 0 {
				body = true
			}
			depth++
		case token.LPAREN, token.LBRACKET:
			depth++
		case token.RPAREN, token.RBRACKET:
			depth--
		case token.RBRACE:
			depth--
			if depth == 0 && body {
				return tokenEnd(toks[i])
			}
		}
	}
	return -1
}

// statementEnd returns the rune offset just past the last token of the
// single-line statement starting at toks[i]. Brackets may span lines.
func statementEnd(toks []token.Token, i int) int {
	depth := 0
	for ; i < len(toks); i++ {
		switch toks[i].Type {
		case token.LPAREN, token.LBRACKET, token.LBRACE:
			depth++
		case token.RPAREN, token.RBRACKET, token.RBRACE:
			depth--
		}
		last := i == len(toks)-1
		if !last && depth <= 0 {
			next := toks[i+1]
			last = next.Type == token.SEMICOLON || next.StartPosition.Line > toks[i].EndPosition.Line
		}
		if last {
			return tokenEnd(toks[i])
		}
	}
	return -1
}

// tokenEnd returns the rune offset just past tok. EndPosition is inclusive.
func tokenEnd(tok token.Token) int {
	return tok.EndPosition.Char + 1
}
