package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jward/livescope"
	"github.com/jward/livescope/internal/protocol"
	"github.com/jward/livescope/internal/runtime"
)

var (
	flagPrelude  string
	flagHideVars bool
)

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Run a script once and print its result",
	Long:  "Executes a Risor file the way serve would, prints the result and exits non-zero when the script fails.",
	Args:  cobra.ExactArgs(1),
	RunE:  runOnce,
}

func init() {
	runCmd.Flags().StringVar(&flagPrelude, "prelude", "", "file run first as the cached prelude")
	runCmd.Flags().BoolVar(&flagHideVars, "hide-vars", false, "omit variables from the result")
}

func runOnce(cmd *cobra.Command, args []string) error {
	req, err := buildRequest(args[0], flagPrelude)
	if err != nil {
		return outputError("run", err)
	}
	if flagHideVars {
		off := false
		req.Settings = &protocol.Settings{ShowGlobalVars: &off}
	}

	opts := append(engineOptions(cfg, logger), livescope.WithUserOutput(os.Stderr))
	st, sess, err := openJournal(cmd.Context(), cfg)
	if err != nil {
		return outputError("run", err)
	}
	if st != nil {
		defer st.Close()
		opts = append(opts, livescope.WithJournal(st), livescope.WithSessionID(sess.ID))
	}

	res, err := livescope.New(opts...).Run(cmd.Context(), req)
	if exit, ok := runtime.IsExit(err); ok {
		exitCode = exit.Code
		return nil
	}
	if err != nil {
		return outputError("run", err)
	}

	if res.UserError != nil {
		exitCode = 1
	}
	if flagFormat == "text" {
		return formatResultText(os.Stdout, res)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(CLIResult{Command: "run", Results: resultToCLI(res)})
}

// buildRequest reads the script and optional prelude into a Request.
func buildRequest(file, prelude string) (*protocol.Request, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return nil, fmt.Errorf("resolving file path %q: %w", file, err)
	}
	body, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	req := &protocol.Request{EvalCode: string(body), FilePath: abs}
	if prelude != "" {
		saved, err := os.ReadFile(prelude)
		if err != nil {
			return nil, fmt.Errorf("reading prelude: %w", err)
		}
		req.SavedCode = string(saved)
	}
	return req, nil
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error is written to stdout as a
// CLIResult envelope. In text mode it goes to stderr.
func outputError(command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(CLIResult{Command: command, Error: err.Error()})
	return err
}
