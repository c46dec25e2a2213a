package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jward/livescope"
	"github.com/jward/livescope/internal/config"
	"github.com/jward/livescope/internal/store"
)

var (
	flagConfig   string
	flagFormat   string
	flagLogLevel string
	flagNoColor  bool
	flagJournal  string
	flagLibPaths []string
)

// Loaded in PersistentPreRunE.
var (
	cfg    *config.Config
	logger *slog.Logger
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

// exitCode is the process status when a command finishes without error.
var exitCode int

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
	os.Exit(exitCode)
}

var rootCmd = &cobra.Command{
	Use:           "livescope",
	Short:         "Live re-execution engine for Risor scripts",
	Long:          "livescope re-runs a Risor script on every edit and reports the resulting variables, output timing and errors as JSON lines.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := validateFormat(flagFormat); err != nil {
			return err
		}
		return setup(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", config.DefaultPath(), "configuration file")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "json", "output format: json|text")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug|info|warn|error (default from config)")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "disable colored logs")
	rootCmd.PersistentFlags().StringVar(&flagJournal, "journal", "", "run journal database (default from config)")
	rootCmd.PersistentFlags().StringSliceVar(&flagLibPaths, "library-path", nil, "directory of library modules (repeatable)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(historyCmd)
}

// setup loads the configuration file and applies flag overrides.
func setup(cmd *cobra.Command) error {
	loaded, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		loaded.LogLevel = flagLogLevel
	}
	if flags.Changed("journal") {
		loaded.Journal = flagJournal
	}
	if flags.Changed("library-path") {
		loaded.LibraryPaths = append(loaded.LibraryPaths, flagLibPaths...)
	}
	level, err := config.ParseLevel(loaded.LogLevel)
	if err != nil {
		return err
	}

	cfg = loaded
	logger = config.NewLogger(os.Stderr, level, flagNoColor)
	slog.SetDefault(logger)
	return nil
}

func validateFormat(format string) error {
	switch format {
	case "json", "text":
		return nil
	}
	return fmt.Errorf("invalid format %q: must be json or text", format)
}

// engineOptions builds the Engine options shared by serve and run.
func engineOptions(c *config.Config, l *slog.Logger) []livescope.Option {
	settings := c.Settings
	return []livescope.Option{
		livescope.WithLogger(l),
		livescope.WithSettings(&settings),
		livescope.WithLibraryPaths(c.LibraryPaths...),
		livescope.WithLibraryNames(c.Libraries...),
		livescope.WithMaxDepth(c.MaxDepth),
	}
}

// openJournal opens the configured journal and starts a session. It returns
// nil when no journal is configured.
func openJournal(ctx context.Context, c *config.Config) (*store.Store, *store.Session, error) {
	if c.Journal == "" {
		return nil, nil, nil
	}
	st, err := store.Open(c.Journal)
	if err != nil {
		return nil, nil, fmt.Errorf("opening journal: %w", err)
	}
	sess := &store.Session{PID: os.Getpid(), LibraryPaths: c.LibraryPaths}
	if err := st.InsertSession(ctx, sess); err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("starting journal session: %w", err)
	}
	if c.KeepRuns > 0 {
		if n, err := st.PruneRuns(ctx, c.KeepRuns); err != nil {
			logger.Warn("prune journal", "error", err)
		} else if n > 0 {
			logger.Debug("pruned journal", "runs", n)
		}
	}
	return st, sess, nil
}
