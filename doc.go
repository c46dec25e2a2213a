// Package livescope is an incremental code-execution engine for live coding.
// As a user edits a Risor script, the presentation layer sends one request per
// edit; the engine re-executes the script and answers with the resulting
// variable state, timing and errors.
//
// # Two-tier scope
//
// A request carries a saved prelude and a live body. The prelude changes
// rarely: its bindings are cached and only rebuilt when its text changes.
// The body runs on every request against an independent copy of those
// bindings, so nothing the body does leaks into the next run unless the
// request asks to reuse the previous scope.
//
// Functions and imported modules only work inside the VM that created them.
// They are never cached; the imports and function declarations of the
// prelude, or of a reused run, are declared again ahead of the body.
//
// # Usage
//
//	e := livescope.New(livescope.WithUserOutput(os.Stderr))
//
//	res, err := e.Run(ctx, &livescope.Request{
//		SavedCode: "rate := 2",
//		EvalCode:  "total := rate * 21",
//		FilePath:  "/work/main.risor",
//	})
//	if err != nil { ... } // cancelled, exit() called, or engine failure
//	fmt.Println(res.UserVariables) // {"rate":2,"total":42}
//
// # Isolation
//
// Every run gets a fresh Risor VM. The directory of the request's file is
// prepended to the module search path and made the working directory for the
// duration of the run, or left alone with a warning when the directory cannot
// be entered. Modules imported from user code are evicted after the
// run so edits to them are picked up; library modules stay cached. Mocked
// standard input and manual-dump counters are reset.
//
// # Globals
//
// Injected code sees the Risor builtins plus print, input, help, raise, exit,
// dump and log, and the identity bindings __file__, __name__ and argv. The
// live_store binding survives across fresh scopes; live_filter lists names to
// leave out of the snapshot. See the internal/runtime package for the host
// functions.
package livescope
