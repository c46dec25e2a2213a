package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jward/livescope/internal/store"
)

var (
	flagHistLimit   int
	flagHistFile    string
	flagHistSession string
	flagHistFailed  bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List journaled runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&flagHistLimit, "limit", 20, "maximum runs to list")
	historyCmd.Flags().StringVar(&flagHistFile, "file", "", "only runs of files under this path")
	historyCmd.Flags().StringVar(&flagHistSession, "session", "", "only runs of this serve session")
	historyCmd.Flags().BoolVar(&flagHistFailed, "failed", false, "only failed runs")
}

func runHistory(cmd *cobra.Command, args []string) error {
	if cfg.Journal == "" {
		return outputError("history", errors.New("no journal configured: set journal in the config file or pass --journal"))
	}
	if _, err := os.Stat(cfg.Journal); os.IsNotExist(err) {
		return outputError("history", errors.New("journal not found: "+cfg.Journal))
	}
	st, err := store.NewStore(cfg.Journal)
	if err != nil {
		return outputError("history", err)
	}
	defer st.Close()

	filter := store.RunFilter{
		SessionID:  flagHistSession,
		FailedOnly: flagHistFailed,
		Limit:      flagHistLimit,
	}
	if flagHistFile != "" {
		abs, err := filepath.Abs(flagHistFile)
		if err != nil {
			return outputError("history", err)
		}
		filter.FilePath = abs
	}

	runs, err := st.RecentRuns(cmd.Context(), filter)
	if err != nil {
		return outputError("history", err)
	}

	if flagFormat == "text" {
		formatRunsText(os.Stdout, runs)
		return nil
	}
	out := make([]CLIRun, 0, len(runs))
	for _, r := range runs {
		out = append(out, runToCLI(r))
	}
	total := len(out)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(CLIResult{Command: "history", Results: out, TotalCount: &total})
}
