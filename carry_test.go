package livescope

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/livescope/internal/runtime"
)

func TestCarry_BlankPrelude(t *testing.T) {
	t.Parallel()
	got, err := Carry(context.Background(), "x := 1", "  \n", nil)
	require.NoError(t, err)
	assert.Equal(t, "x := 1", got.Source)
	assert.Empty(t, got.Decls)
}

func TestCarry_DeclarationsKeepTheirLines(t *testing.T) {
	t.Parallel()
	prelude := "import strings\nx := 1\nfunc f(a) {\n  return a\n}\ny := 2"
	got, err := Carry(context.Background(), "z := f(3)\nw := 4", prelude, nil)
	require.NoError(t, err)

	lines := strings.Split(got.Source, "\n")
	require.Len(t, lines, 8)
	assert.Equal(t, "import strings", lines[0])
	assert.Equal(t, "", lines[1])
	assert.Equal(t, []string{"func f(a) {", "  return a", "}"}, lines[2:5])
	assert.Equal(t, "", lines[5])
	assert.Equal(t, "z := f(3)", lines[6])
	assert.Equal(t, 7, got.FileLine(7))

	require.Len(t, got.Decls, 2)
	assert.Equal(t, "f", got.Decls[1].Name)
}

func TestCarry_NoDeclarations(t *testing.T) {
	t.Parallel()
	got, err := Carry(context.Background(), "z := 3", "x := 1\ny := 2\n", nil)
	require.NoError(t, err)
	assert.Equal(t, "\n\nz := 3", got.Source)
}

func TestCarry_SharedLineJoined(t *testing.T) {
	t.Parallel()
	got, err := Carry(context.Background(), "z := 3", "import a; import b", nil)
	require.NoError(t, err)
	assert.Equal(t, "import a; import b\nz := 3", got.Source)
}

func TestCarry_PriorDeclarationsInserted(t *testing.T) {
	t.Parallel()
	prior := []runtime.Decl{
		{Line: 1, Text: "import math"},
		{Name: "f", Line: 4, Text: "func f() {\n  return 1\n}"},
		{Name: "g", Line: 7, Text: "func g() { return 2 }"},
	}
	got, err := Carry(context.Background(), "func g() { return 3 }\nx := f()", "import math", prior)
	require.NoError(t, err)

	assert.Equal(t, "import math\nfunc f() {\n  return 1\n}\nfunc g() { return 3 }\nx := f()", got.Source)
	// Prelude line, then the inserted f, then the body.
	assert.Equal(t, 1, got.FileLine(1))
	assert.Equal(t, 4, got.FileLine(2))
	assert.Equal(t, 6, got.FileLine(4))
	assert.Equal(t, 2, got.FileLine(5))
	assert.Equal(t, 3, got.FileLine(6))

	names := make([]string, 0, len(got.Decls))
	for _, d := range got.Decls {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"", "f", "g"}, names)
}

func TestCarry_PreludeSyntaxError(t *testing.T) {
	t.Parallel()
	_, err := Carry(context.Background(), "z := 3", "x := (", nil)
	require.Error(t, err)

	var syntax *runtime.SyntaxError
	assert.True(t, errors.As(err, &syntax))
}

func TestCarry_BodySyntaxErrorLeftToRun(t *testing.T) {
	t.Parallel()
	got, err := Carry(context.Background(), "z := (", "func f() { return 1 }", nil)
	require.NoError(t, err)
	assert.Equal(t, "func f() { return 1 }\nz := (", got.Source)
}
