package runtime

import (
	"context"
	"strings"
	"testing"

	"github.com/risor-io/risor/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrument_StatementsAndFunctions(t *testing.T) {
	t.Parallel()

	src := `x := 1
func f(a) {
  return a + 1
}
y := f(x)`

	got, err := Instrument(src)
	require.NoError(t, err)

	want := `__trace(1, "<module>", 0); x := 1
__trace(2, "<module>", 0); func f(a) {
  __trace(3, "f", 1); return a + 1
}
__trace(5, "<module>", 0); y := f(x)`
	assert.Equal(t, want, got)
}

func TestInstrument_PreservesLineCount(t *testing.T) {
	t.Parallel()

	src := "a := [\n  1,\n  2,\n]\nb := {\n  \"k\": a,\n}\nc := a[0] +\n  2\n"
	got, err := Instrument(src)
	require.NoError(t, err)
	assert.Equal(t, strings.Count(src, "\n"), strings.Count(got, "\n"))

	lines := strings.Split(got, "\n")
	assert.True(t, strings.HasPrefix(lines[0], traceBuiltin))
	assert.Equal(t, "  1,", lines[1], "list elements are not statements")
	assert.True(t, strings.HasPrefix(lines[4], traceBuiltin))
	assert.Equal(t, `  "k": a,`, lines[5], "map entries are not statements")
	assert.True(t, strings.HasPrefix(lines[7], traceBuiltin))
	assert.Equal(t, "  2", lines[8], "continued expressions are not statements")
}

func TestInstrument_ElseAndClosingBraces(t *testing.T) {
	t.Parallel()

	src := `if true {
  x := 1
} else {
  x := 2
}`
	got, err := Instrument(src)
	require.NoError(t, err)

	lines := strings.Split(got, "\n")
	assert.Equal(t, "} else {", lines[2])
	assert.Equal(t, "}", lines[4])
	assert.Contains(t, lines[1], `__trace(2, "<module>", 0); x := 1`)
}

func TestInstrument_AnonymousFunction(t *testing.T) {
	t.Parallel()

	src := `g := func(n) {
  return n
}`
	got, err := Instrument(src)
	require.NoError(t, err)
	assert.Contains(t, got, `__trace(2, "<anonymous>", 1); return n`)
}

func TestInstrument_DumpCallSites(t *testing.T) {
	t.Parallel()

	src := `func g(x) {
  y := x
  dump(y, 2)
}`
	got, err := Instrument(src)
	require.NoError(t, err)
	assert.Contains(t, got, `__trace(3, "g", 0); __dump_at("g", 3)(y, 2)`)
}

func TestInstrument_DumpAttributeNotRewritten(t *testing.T) {
	t.Parallel()

	got, err := Instrument("live_dump.dump(1)")
	require.NoError(t, err)
	assert.NotContains(t, got, dumpAtBuiltin)
}

func TestInstrument_UserDefinedDumpNotRewritten(t *testing.T) {
	t.Parallel()

	src := "func dump(x) {\n  return x\n}\ndump(1)"
	got, err := Instrument(src)
	require.NoError(t, err)
	assert.NotContains(t, got, dumpAtBuiltin)
}

func TestInstrument_ResultParses(t *testing.T) {
	t.Parallel()

	src := `nums := [1, 2, 3]
total := 0
for i := 0; i < len(nums); i++ {
  total += nums[i]
}
func square(n) {
  if n < 0 {
    return 0
  }
  return n * n
}
result := square(total)`

	got, err := Instrument(src)
	require.NoError(t, err)
	_, err = parser.Parse(context.Background(), got)
	require.NoError(t, err, "instrumented source:\n%s", got)
}
