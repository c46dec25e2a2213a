package livescope

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/risor-io/risor/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/livescope/internal/protocol"
	"github.com/jward/livescope/internal/runtime"
	"github.com/jward/livescope/internal/store"
)

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	opts = append([]Option{WithUserOutput(&out)}, opts...)
	return New(opts...), &out
}

func run(t *testing.T, e *Engine, req *protocol.Request) *protocol.Result {
	t.Helper()
	res, err := e.Run(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func vars(t *testing.T, res *protocol.Result) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.UserVariables), &m))
	return m
}

// writeModule writes name.risor under dir.
func writeModule(t *testing.T, dir, name, src string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+runtime.ModuleExtension), []byte(src), 0o644))
}

type memJournal struct {
	mu   sync.Mutex
	runs []*store.Run
}

func (j *memJournal) RecordRun(_ context.Context, r *store.Run) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runs = append(j.runs, r)
	return nil
}

func TestNew_Defaults(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NotNil(t, e.runtime)
	require.NotNil(t, e.Modules())
	assert.NotEmpty(t, e.SessionID())

	e2, _ := newTestEngine(t, WithSessionID("fixed"))
	assert.Equal(t, "fixed", e2.SessionID())
}

func TestRun_PrimitivesRoundTrip(t *testing.T) {
	e, _ := newTestEngine(t)
	res := run(t, e, &protocol.Request{
		EvalCode: "a := 1\nb := \"s\"\nc := [1, 2.5, nil]\nd := {\"k\": true}",
	})

	assert.Nil(t, res.UserError)
	assert.Nil(t, res.UserErrorMsg)
	assert.True(t, res.Done)
	assert.Equal(t, map[string]any{
		"a": float64(1),
		"b": "s",
		"c": []any{float64(1), 2.5, nil},
		"d": map[string]any{"k": true},
	}, vars(t, res))
}

func TestRun_IdentityBindingsHidden(t *testing.T) {
	e, _ := newTestEngine(t)
	res := run(t, e, &protocol.Request{
		EvalCode: "f := __file__\nn := __name__",
		FilePath: filepath.Join(t.TempDir(), "main.risor"),
	})

	v := vars(t, res)
	assert.NotContains(t, v, FileBinding)
	assert.NotContains(t, v, NameBinding)
	assert.NotContains(t, v, "print")
	assert.Equal(t, "__main__", v["n"])
	assert.Contains(t, v["f"], "main.risor")
}

func TestRun_DefaultFileLabelsFrames(t *testing.T) {
	e, _ := newTestEngine(t)
	res := run(t, e, &protocol.Request{EvalCode: "raise(\"boom\")"})

	require.NotNil(t, res.UserError)
	require.NotEmpty(t, res.UserError.Stack)
	assert.Equal(t, DefaultFile, res.UserError.Stack[0].File)
}

func TestRun_PreludeCachedUntilChanged(t *testing.T) {
	calls := 0
	tick := object.NewBuiltin("tick", func(ctx context.Context, args ...object.Object) object.Object {
		calls++
		return object.NewInt(int64(calls))
	})
	e, _ := newTestEngine(t, WithGlobals(map[string]any{"tick": tick}))

	req := &protocol.Request{SavedCode: "n := tick()", EvalCode: "m := n * 10"}
	first := run(t, e, req)
	second := run(t, e, req)

	assert.Equal(t, 1, calls)
	assert.Equal(t, float64(10), vars(t, first)["m"])
	assert.Equal(t, float64(10), vars(t, second)["m"])

	req.SavedCode = "n := tick()\n"
	third := run(t, e, req)
	assert.Equal(t, 2, calls)
	assert.Equal(t, float64(20), vars(t, third)["m"])
}

func TestRun_PreludeFailureReportsPartialScope(t *testing.T) {
	e, _ := newTestEngine(t)
	res := run(t, e, &protocol.Request{
		SavedCode: "a := 1\nraise(\"prelude\")",
		EvalCode:  "b := 2",
	})

	require.NotNil(t, res.UserError)
	assert.Equal(t, "prelude", res.UserError.Message)
	v := vars(t, res)
	assert.Equal(t, float64(1), v["a"])
	assert.NotContains(t, v, "b")
}

func TestRun_BodyLinesFollowPrelude(t *testing.T) {
	e, _ := newTestEngine(t)
	res := run(t, e, &protocol.Request{
		SavedCode: "x := 1\ny := 2",
		EvalCode:  "raise(\"boom\")",
	})

	require.NotNil(t, res.UserError)
	stack := res.UserError.Stack
	require.NotEmpty(t, stack)
	assert.Equal(t, 3, stack[len(stack)-1].Line)
}

func TestRun_PreludeImportsCarriedIntoBody(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "helper", "value := 41")
	e, _ := newTestEngine(t)

	res := run(t, e, &protocol.Request{
		SavedCode: "import helper\nbase := 1",
		EvalCode:  "total := helper.value + base",
		FilePath:  filepath.Join(dir, "main.risor"),
	})

	require.Nil(t, res.UserError, "%v", res.UserErrorMsg)
	assert.Equal(t, float64(42), vars(t, res)["total"])
}

func TestRun_NonFiniteFloats(t *testing.T) {
	e, _ := newTestEngine(t, WithGlobals(map[string]any{"inf": math.Inf(1), "nan": math.NaN()}))
	res := run(t, e, &protocol.Request{EvalCode: "up := inf\ndown := -inf\nodd := nan\nxs := [inf]"})

	v := vars(t, res)
	assert.Equal(t, "Infinity", v["up"])
	assert.Equal(t, "-Infinity", v["down"])
	assert.Equal(t, "NaN", v["odd"])
	assert.Equal(t, []any{"Infinity"}, v["xs"])
}

func TestRun_ScopeIsolationBetweenRuns(t *testing.T) {
	e, _ := newTestEngine(t)
	prelude := "items := [1]"

	first := run(t, e, &protocol.Request{SavedCode: prelude, EvalCode: "items.append(2)\nleaked := true"})
	assert.Equal(t, []any{float64(1), float64(2)}, vars(t, first)["items"])

	second := run(t, e, &protocol.Request{SavedCode: prelude, EvalCode: "n := len(items)"})
	v := vars(t, second)
	assert.Equal(t, float64(1), v["n"])
	assert.NotContains(t, v, "leaked")
}

func TestRun_UsePreviousVariables(t *testing.T) {
	e, _ := newTestEngine(t)
	run(t, e, &protocol.Request{EvalCode: "x := 1"})

	res := run(t, e, &protocol.Request{EvalCode: "y := x + 1", UsePreviousVariables: true})
	v := vars(t, res)
	assert.Equal(t, float64(1), v["x"])
	assert.Equal(t, float64(2), v["y"])
}

func TestRun_ErrorKeepsBindingsUpToFailure(t *testing.T) {
	e, _ := newTestEngine(t)
	res := run(t, e, &protocol.Request{EvalCode: "dumpOut := dump(\"x\")\nraise(\"boom\")\nnever := 1"})

	require.NotNil(t, res.UserError)
	require.NotNil(t, res.UserErrorMsg)
	assert.Equal(t, "boom", res.UserError.Message)
	assert.Contains(t, *res.UserErrorMsg, "boom")

	v := vars(t, res)
	assert.Contains(t, v, "dumpOut")
	assert.NotContains(t, v, "never")
}

func TestRun_EngineFrameStripped(t *testing.T) {
	e, _ := newTestEngine(t)
	res := run(t, e, &protocol.Request{EvalCode: "func f() {\n  raise(\"inner\")\n}\nf()"})

	require.NotNil(t, res.UserError)
	for _, f := range res.UserError.Stack {
		assert.NotEqual(t, runtime.EngineFrame.File, f.File)
	}
	require.Len(t, res.UserError.Stack, 2)
	assert.Equal(t, 4, res.UserError.Stack[0].Line)
	assert.Equal(t, "f", res.UserError.Stack[1].Function)
	assert.NotContains(t, *res.UserErrorMsg, runtime.EngineFrame.File)
}

func TestRun_SyntaxErrorReported(t *testing.T) {
	e, _ := newTestEngine(t)
	res := run(t, e, &protocol.Request{EvalCode: "x := 1\ny := (", SavedCode: ""})

	require.NotNil(t, res.UserError)
	assert.Equal(t, "SyntaxError", res.UserError.Type)
}

func TestRun_HiddenGlobals(t *testing.T) {
	e, _ := newTestEngine(t)
	off := false
	res := run(t, e, &protocol.Request{
		EvalCode: "x := 1",
		Settings: &protocol.Settings{ShowGlobalVars: &off},
	})

	assert.Equal(t, map[string]any{"zz status": HiddenGlobalsStatus}, vars(t, res))
}

func TestRun_SettingsFilters(t *testing.T) {
	on := true
	e, _ := newTestEngine(t, WithSettings(&protocol.Settings{ShowGlobalVars: &on, DefaultFilterVars: []string{"secret"}}))

	res := run(t, e, &protocol.Request{EvalCode: "secret := 1\nxs := [1]\nkeep := 2"})
	v := vars(t, res)
	assert.NotContains(t, v, "secret")
	assert.Contains(t, v, "xs")

	res = run(t, e, &protocol.Request{
		EvalCode: "secret := 1\nxs := [1]\nkeep := 2",
		Settings: &protocol.Settings{DefaultFilterTypes: []string{"list"}},
	})
	v = vars(t, res)
	assert.NotContains(t, v, "secret")
	assert.NotContains(t, v, "xs")
	assert.Contains(t, v, "keep")
}

func TestRun_LiveFilterBinding(t *testing.T) {
	e, _ := newTestEngine(t)
	res := run(t, e, &protocol.Request{EvalCode: "a := 1\nb := 2\nlive_filter := [\"b\"]"})

	v := vars(t, res)
	assert.Contains(t, v, "a")
	assert.NotContains(t, v, "b")
	assert.NotContains(t, v, "live_filter")
}

func TestRun_LiveStorePersists(t *testing.T) {
	e, _ := newTestEngine(t)
	run(t, e, &protocol.Request{EvalCode: "live_store := {\"hits\": 1}"})

	res := run(t, e, &protocol.Request{EvalCode: "hits := live_store[\"hits\"]"})
	v := vars(t, res)
	assert.Equal(t, float64(1), v["hits"])
	assert.Equal(t, map[string]any{"hits": float64(1)}, v["live_store"])
}

func TestRun_UserModuleReloadedLibraryKept(t *testing.T) {
	dir := t.TempDir()
	lib := t.TempDir()
	writeModule(t, dir, "mine", "value := 1")
	writeModule(t, lib, "shared", "value := 1")
	e, _ := newTestEngine(t, WithLibraryPaths(lib))

	req := &protocol.Request{
		EvalCode: "import mine\nimport shared\na := mine.value\nb := shared.value",
		FilePath: filepath.Join(dir, "main.risor"),
	}
	first := vars(t, run(t, e, req))
	assert.Equal(t, float64(1), first["a"])
	assert.Equal(t, float64(1), first["b"])

	writeModule(t, dir, "mine", "value := 2")
	writeModule(t, lib, "shared", "value := 2")

	second := vars(t, run(t, e, req))
	assert.Equal(t, float64(2), second["a"])
	assert.Equal(t, float64(1), second["b"])

	assert.False(t, e.Modules().Has("mine"))
	assert.True(t, e.Modules().Has("shared"))
}

func TestRun_WorkingDirectoryRestored(t *testing.T) {
	before, err := os.Getwd()
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.txt"), []byte("hi"), 0o644))
	e, _ := newTestEngine(t)
	res := run(t, e, &protocol.Request{
		EvalCode: "data := string(os.read_file(\"data.txt\"))",
		FilePath: filepath.Join(dir, "main.risor"),
	})
	require.Nil(t, res.UserError, "%v", res.UserErrorMsg)
	assert.Equal(t, "hi", vars(t, res)["data"])

	after, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRun_DumpEmitsMidRun(t *testing.T) {
	var emitted []*protocol.Result
	e, _ := newTestEngine(t, WithEmitter(func(r *protocol.Result) error {
		emitted = append(emitted, r)
		return nil
	}))

	src := "for i := 0; i < 3; i++ {\n  dump(i, [0, 2])\n}"
	res := run(t, e, &protocol.Request{EvalCode: src})
	require.Nil(t, res.UserError)
	require.Len(t, emitted, 2)
	assert.False(t, emitted[0].Done)
	assert.Equal(t, 0, emitted[0].Count)
	assert.Equal(t, 2, emitted[1].Count)
	assert.Equal(t, 2, emitted[1].LineNo)
	assert.JSONEq(t, `{"dump output":2}`, emitted[1].UserVariables)

	// Counters start over on the next run.
	emitted = nil
	run(t, e, &protocol.Request{EvalCode: src})
	assert.Len(t, emitted, 2)
}

func TestRun_PrintGoesToUserOutput(t *testing.T) {
	e, out := newTestEngine(t)
	run(t, e, &protocol.Request{EvalCode: "print(\"hello\", 2)"})
	assert.Equal(t, "hello 2\n", out.String())
}

func TestRun_ExitPropagates(t *testing.T) {
	e, _ := newTestEngine(t)
	res, err := e.Run(context.Background(), &protocol.Request{EvalCode: "x := 1\nexit(3)"})

	require.Error(t, err)
	assert.Nil(t, res)
	exit, ok := runtime.IsExit(err)
	require.True(t, ok)
	assert.Equal(t, 3, exit.Code)
}

func TestRun_CancelledContext(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := e.Run(ctx, &protocol.Request{EvalCode: "x := 1"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
}

func TestRun_RecordsJournal(t *testing.T) {
	j := &memJournal{}
	e, _ := newTestEngine(t, WithJournal(j), WithSessionID("s1"))

	run(t, e, &protocol.Request{EvalCode: "x := 1", FilePath: "/work/main.risor"})
	run(t, e, &protocol.Request{EvalCode: "raise(\"boom\")", UsePreviousVariables: true})

	require.Len(t, j.runs, 2)
	ok, failed := j.runs[0], j.runs[1]
	assert.Equal(t, "/work/main.risor", ok.FilePath)
	assert.Equal(t, store.CodeHash("x := 1"), ok.EvalHash)
	require.NotNil(t, ok.SessionID)
	assert.Equal(t, "s1", *ok.SessionID)
	assert.False(t, ok.Failed())
	assert.JSONEq(t, `{"x":1}`, ok.Variables)

	assert.True(t, failed.ReusedScope)
	assert.True(t, failed.Failed())
	require.NotNil(t, failed.ErrorMessage)
	assert.Equal(t, "boom", *failed.ErrorMessage)
}

func TestRun_PreludeFunctionCallable(t *testing.T) {
	e, _ := newTestEngine(t)
	res := run(t, e, &protocol.Request{
		SavedCode: "func add(a, b) { return a + b }",
		EvalCode:  "x := add(2, 3)",
	})
	require.Nil(t, res.UserError, "%v", res.UserErrorMsg)
	assert.Equal(t, float64(5), vars(t, res)["x"])

	// Served from the cache the second time.
	require.True(t, e.saved.Cached("func add(a, b) { return a + b }"))
	res = run(t, e, &protocol.Request{
		SavedCode: "func add(a, b) { return a + b }",
		EvalCode:  "x := add(4, 5)",
	})
	require.Nil(t, res.UserError, "%v", res.UserErrorMsg)
	assert.Equal(t, float64(9), vars(t, res)["x"])
}

func TestRun_PreludeFunctionSeesPreludeBindings(t *testing.T) {
	e, _ := newTestEngine(t)
	for i := 0; i < 2; i++ {
		res := run(t, e, &protocol.Request{
			SavedCode: "k := 10\nfunc f() { return k }",
			EvalCode:  "y := f()",
		})
		require.Nil(t, res.UserError, "%v", res.UserErrorMsg)
		assert.Equal(t, float64(10), vars(t, res)["y"])
	}
}

func TestRun_PreludeFunctionUsesPreludeImport(t *testing.T) {
	e, _ := newTestEngine(t)
	prelude := "import math\nfunc g(x) {\n  return math.abs(x)\n}\nh := func() { return g(-2) }"
	for i := 0; i < 2; i++ {
		res := run(t, e, &protocol.Request{SavedCode: prelude, EvalCode: "a := g(-3)\nb := h()"})
		require.Nil(t, res.UserError, "%v", res.UserErrorMsg)
		v := vars(t, res)
		assert.Equal(t, float64(3), v["a"])
		assert.Equal(t, float64(2), v["b"])
	}
}

func TestRun_PreludeFunctionErrorLines(t *testing.T) {
	e, _ := newTestEngine(t)
	res := run(t, e, &protocol.Request{
		SavedCode: "x := 1\nfunc f() {\n  raise(\"inner\")\n}",
		EvalCode:  "y := 2\nf()",
		FilePath:  filepath.Join(t.TempDir(), "main.risor"),
	})
	require.NotNil(t, res.UserError)
	assert.Equal(t, "inner", res.UserError.Message)

	lines := map[string]int{}
	for _, f := range res.UserError.Stack {
		lines[f.Source] = f.Line
	}
	assert.Equal(t, 3, lines[`raise("inner")`])
	assert.Equal(t, 6, lines["f()"])
}

func TestRun_FunctionReusedAcrossRuns(t *testing.T) {
	e, _ := newTestEngine(t)
	run(t, e, &protocol.Request{EvalCode: "func f() { return 7 }\nn := 1"})

	res := run(t, e, &protocol.Request{EvalCode: "b := f() + n", UsePreviousVariables: true})
	require.Nil(t, res.UserError, "%v", res.UserErrorMsg)
	assert.Equal(t, float64(8), vars(t, res)["b"])

	// Carried again into a third run.
	res = run(t, e, &protocol.Request{EvalCode: "c := f()", UsePreviousVariables: true})
	require.Nil(t, res.UserError, "%v", res.UserErrorMsg)
	assert.Equal(t, float64(7), vars(t, res)["c"])
}

func TestRun_ReusedFunctionRedeclared(t *testing.T) {
	e, _ := newTestEngine(t)
	run(t, e, &protocol.Request{EvalCode: "import math\nfunc f() { return 1 }"})

	res := run(t, e, &protocol.Request{
		EvalCode:             "func f() { return 2 }\nb := f()\nc := math.abs(-1)",
		UsePreviousVariables: true,
	})
	require.Nil(t, res.UserError, "%v", res.UserErrorMsg)
	v := vars(t, res)
	assert.Equal(t, float64(2), v["b"])
	assert.Equal(t, float64(1), v["c"])
}

func TestRun_ReusedFunctionErrorLines(t *testing.T) {
	e, _ := newTestEngine(t)
	run(t, e, &protocol.Request{EvalCode: "func f() {\n  raise(\"inner\")\n}"})

	res := run(t, e, &protocol.Request{EvalCode: "x := 1\ny := 2\nf()", UsePreviousVariables: true})
	require.NotNil(t, res.UserError)

	lines := map[string]int{}
	for _, f := range res.UserError.Stack {
		lines[f.Source] = f.Line
	}
	assert.Equal(t, 2, lines[`raise("inner")`])
	assert.Equal(t, 3, lines["f()"])
}

func TestRun_HiddenGlobalsOnError(t *testing.T) {
	e, _ := newTestEngine(t)
	off := false
	res := run(t, e, &protocol.Request{
		EvalCode: "secret := 42\nraise(\"boom\")",
		Settings: &protocol.Settings{ShowGlobalVars: &off},
	})

	require.NotNil(t, res.UserError)
	assert.Equal(t, map[string]any{"zz status": HiddenGlobalsStatus}, vars(t, res))
	assert.NotContains(t, res.UserVariables, "secret")
}

func TestRun_MissingScriptDirectory(t *testing.T) {
	e, _ := newTestEngine(t)
	res := run(t, e, &protocol.Request{EvalCode: "x := __file__", FilePath: "/no/such/dir/main.risor"})

	require.Nil(t, res.UserError)
	assert.Nil(t, res.InternalError)
	assert.Equal(t, "/no/such/dir/main.risor", vars(t, res)["x"])
}

func TestRun_UndefinedNameLine(t *testing.T) {
	e, _ := newTestEngine(t)
	res := run(t, e, &protocol.Request{EvalCode: "func f() {\n  return undefined_name\n}\nf()"})

	require.NotNil(t, res.UserError)
	assert.Equal(t, "CompileError", res.UserError.Type)
	require.Len(t, res.UserError.Stack, 1)
	assert.Equal(t, 2, res.UserError.Stack[0].Line)
	assert.Equal(t, "return undefined_name", res.UserError.Stack[0].Source)
}

func TestRun_DumpAtSingleCount(t *testing.T) {
	var emitted []*protocol.Result
	e, _ := newTestEngine(t, WithEmitter(func(r *protocol.Result) error {
		emitted = append(emitted, r)
		return nil
	}))

	res := run(t, e, &protocol.Request{EvalCode: "for i := 0; i < 10; i++ {\n  dump(i, 3)\n}"})
	require.Nil(t, res.UserError)
	require.Len(t, emitted, 1)
	assert.Equal(t, 3, emitted[0].Count)
	assert.Equal(t, 2, emitted[0].LineNo)
	assert.JSONEq(t, `{"dump output":3}`, emitted[0].UserVariables)
}
