package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jward/livescope"
	"github.com/jward/livescope/internal/protocol"
	"github.com/jward/livescope/internal/runtime"
	"github.com/jward/livescope/internal/store"
)

// internalErrorPrefix opens every internalError sent to the presentation
// layer.
const internalErrorPrefix = "Sorry, livescope has ran into an error\n\n"

// maxRequestSize bounds one request line.
const maxRequestSize = 64 << 20

var (
	flagResultFD   int
	flagUserOutput string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve run requests from stdin",
	Long: "Reads one JSON request per line from stdin and writes one JSON result per line " +
		"to the result channel. Results go to fd --result-fd when set, otherwise to stdout " +
		"with user output sent to stderr.",
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&flagResultFD, "result-fd", 0, "file descriptor for results (e.g. 3)")
	serveCmd.Flags().StringVar(&flagUserOutput, "user-output", "", "where print writes: stdout|stderr (default stderr, or stdout with --result-fd)")
}

// outputs resolves the result channel and the user output stream. They are
// never the same stream.
func outputs(resultFD int, userOutput string) (results io.Writer, user io.Writer, err error) {
	if userOutput == "" {
		userOutput = "stderr"
		if resultFD > 0 {
			userOutput = "stdout"
		}
	}
	switch userOutput {
	case "stdout":
		user = os.Stdout
	case "stderr":
		user = os.Stderr
	default:
		return nil, nil, fmt.Errorf("invalid --user-output %q: must be stdout or stderr", userOutput)
	}

	if resultFD > 0 {
		f := os.NewFile(uintptr(resultFD), "results")
		if f == nil {
			return nil, nil, fmt.Errorf("invalid --result-fd %d", resultFD)
		}
		return f, user, nil
	}
	if userOutput == "stdout" {
		return nil, nil, errors.New("user output cannot share stdout with results: use --user-output stderr or --result-fd")
	}
	return os.Stdout, user, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	results, user, err := outputs(flagResultFD, flagUserOutput)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := append(engineOptions(cfg, logger), livescope.WithUserOutput(user))
	st, sess, err := openJournal(ctx, cfg)
	if err != nil {
		return err
	}
	var journal livescope.Journal
	if st != nil {
		defer st.Close()
		journal = st
		opts = append(opts, livescope.WithJournal(st), livescope.WithSessionID(sess.ID))
	}

	engine := livescope.New(opts...)
	srv := newServer(engine, results, logger, journal)
	logger.Info("serving", "session", engine.SessionID(), "library_paths", cfg.LibraryPaths)

	code, err := srv.serve(ctx, os.Stdin)
	exitCode = code
	return err
}

// server is the request loop: it decodes requests, runs them one at a time
// and writes results, recovering from engine failures.
type server struct {
	engine  *livescope.Engine
	logger  *slog.Logger
	journal livescope.Journal

	mu  sync.Mutex
	enc *json.Encoder
}

func newServer(engine *livescope.Engine, results io.Writer, logger *slog.Logger, journal livescope.Journal) *server {
	enc := json.NewEncoder(results)
	enc.SetEscapeHTML(false)
	s := &server{engine: engine, logger: logger, journal: journal, enc: enc}
	engine.SetEmitter(s.emit)
	return s
}

// emit writes one result line. Manual dumps call it from inside a run.
func (s *server) emit(r *protocol.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(r)
}

// serve runs until in is exhausted, ctx is cancelled or injected code calls
// exit. It returns the process exit status.
func (s *server) serve(ctx context.Context, in io.Reader) (int, error) {
	if err := s.emit(protocol.StartupResult()); err != nil {
		return 1, fmt.Errorf("writing startup result: %w", err)
	}

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64*1024), maxRequestSize)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("shutting down", "reason", context.Cause(ctx))
			return 0, nil
		case line, ok := <-lines:
			if !ok {
				if err := <-scanErr; err != nil {
					return 1, fmt.Errorf("reading requests: %w", err)
				}
				return 0, nil
			}
			if line == "" {
				continue
			}
			res, err := s.handle(ctx, line)
			if exit, isExit := runtime.IsExit(err); isExit {
				s.logger.Info("exit requested", "code", exit.Code)
				return exit.Code, nil
			}
			if err != nil {
				s.logger.Info("shutting down", "reason", err)
				return 0, nil
			}
			if err := s.emit(res); err != nil {
				return 1, fmt.Errorf("writing result: %w", err)
			}
		}
	}
}

// handle runs one request line. Failures that are not user errors become an
// internalError result; only cancellation and exit are returned.
func (s *server) handle(ctx context.Context, line string) (res *protocol.Result, err error) {
	start := time.Now()
	var req protocol.Request
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("run panicked", "panic", r)
			res, err = s.internalError(ctx, &req, start, fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())), nil
		}
	}()

	if err := json.Unmarshal([]byte(line), &req); err != nil {
		return s.internalError(ctx, &req, start, fmt.Sprintf("decoding request: %v", err)), nil
	}
	res, err = s.engine.Run(ctx, &req)
	if err == nil {
		return res, nil
	}
	if _, isExit := runtime.IsExit(err); isExit || ctx.Err() != nil {
		return nil, err
	}
	s.logger.Error("run failed", "file", req.FilePath, "error", err)
	return s.internalError(ctx, &req, start, err.Error()), nil
}

// internalError builds the result for an engine failure and records it.
func (s *server) internalError(ctx context.Context, req *protocol.Request, start time.Time, detail string) *protocol.Result {
	res := protocol.NewResult()
	msg := internalErrorPrefix + detail
	res.InternalError = &msg
	res.TotalTime = time.Since(start).Seconds()

	if s.journal != nil {
		sid := s.engine.SessionID()
		r := &store.Run{
			SessionID:     &sid,
			FilePath:      req.FilePath,
			EvalHash:      store.CodeHash(req.EvalCode),
			SavedHash:     store.CodeHash(req.SavedCode),
			ReusedScope:   req.UsePreviousVariables,
			StartedAt:     start,
			TotalTime:     res.TotalTime,
			InternalError: &msg,
			Variables:     res.UserVariables,
		}
		if err := s.journal.RecordRun(context.WithoutCancel(ctx), r); err != nil {
			s.logger.Warn("record run", "error", err)
		}
	}
	return res
}
