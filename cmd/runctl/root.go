package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/ErlanBelekov/script-runner/internal/domain"
	ctxlog "github.com/ErlanBelekov/script-runner/internal/log"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
)

// ExitError carries a process exit code out of a command. A nil Err means the
// failure was already reported on the event stream.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

var errRunFailed = &ExitError{Code: 1}

type submitFlags struct {
	contextFile string
	maxAttempts int
}

func (f *submitFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.contextFile, "context", "c", "", "JSON file with the job context")
	cmd.Flags().IntVarP(&f.maxAttempts, "max-attempts", "n", 0, "total executions allowed (default from MAX_ATTEMPTS)")
}

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "runctl",
		Short:         "Run scripts with automatic diagnosis and repair",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log engine activity to stderr")

	logger := func() *slog.Logger {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		return slog.New(ctxlog.NewContextHandler(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})))
	}

	root.AddCommand(newRunCmd(logger), newSubmitCmd(), newTokenCmd())
	return root
}

// readScript loads the script file; "-" reads stdin.
func readScript(path string, stdin io.Reader) (string, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read script: %w", err)
	}
	return string(b), nil
}

func readContext(path string) (domain.Context, error) {
	if path == "" {
		return domain.Context{}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read context: %w", err)
	}
	var c domain.Context
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("context must be a JSON object: %w", err)
	}
	return c, nil
}
