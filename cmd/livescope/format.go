package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jward/livescope/internal/protocol"
	"github.com/jward/livescope/internal/store"
)

// formatResultText prints the variables as indented JSON followed by the
// traceback, if any.
func formatResultText(w io.Writer, r *protocol.Result) error {
	var vars bytes.Buffer
	if err := json.Indent(&vars, []byte(r.UserVariables), "", "  "); err != nil {
		vars.Reset()
		vars.WriteString(r.UserVariables)
	}
	fmt.Fprintln(w, vars.String())
	if r.UserErrorMsg != nil {
		fmt.Fprintln(w)
		fmt.Fprint(w, *r.UserErrorMsg)
	}
	if r.InternalError != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, *r.InternalError)
	}
	fmt.Fprintf(w, "\nexec %s, total %s\n", seconds(r.ExecTime), seconds(r.TotalTime))
	return nil
}

// formatRunsText formats journal entries as aligned columns.
func formatRunsText(w io.Writer, runs []*store.Run) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tFILE\tEXEC\tTOTAL\tSTATUS")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.FilePath,
			seconds(r.ExecTime),
			seconds(r.TotalTime),
			runStatus(r))
	}
	tw.Flush()
}

func runStatus(r *store.Run) string {
	switch {
	case r.InternalError != nil:
		return "internal error"
	case r.ErrorType != nil:
		msg := deref(r.ErrorMessage)
		if i := strings.IndexByte(msg, '\n'); i >= 0 {
			msg = msg[:i]
		}
		return fmt.Sprintf("%s: %s", *r.ErrorType, msg)
	}
	return "ok"
}

func seconds(s float64) string {
	return time.Duration(s * float64(time.Second)).Round(time.Microsecond).String()
}
