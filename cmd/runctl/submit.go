package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/ErlanBelekov/script-runner/internal/domain"
	"github.com/spf13/cobra"
)

// maxEventLine bounds one NDJSON event read from the server.
const maxEventLine = 16 << 20

type submitRequest struct {
	Script      string         `json:"script"`
	Context     domain.Context `json:"context,omitempty"`
	MaxAttempts int            `json:"max_attempts,omitempty"`
}

func newSubmitCmd() *cobra.Command {
	var (
		flags  submitFlags
		server string
		token  string
	)

	cmd := &cobra.Command{
		Use:   "submit FILE",
		Short: "Submit a script to a server and relay its event stream",
		Args:  cobra.ExactArgs(1),
		Example: `  runctl submit pipeline.py --server http://localhost:8080
  RUNCTL_TOKEN=... runctl submit - --context ctx.json < pipeline.py`,
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := readScript(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			jobCtx, err := readContext(flags.contextFile)
			if err != nil {
				return err
			}
			if token == "" {
				token = os.Getenv("RUNCTL_TOKEN")
			}

			body, err := json.Marshal(submitRequest{Script: script, Context: jobCtx, MaxAttempts: flags.maxAttempts})
			if err != nil {
				return err
			}
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost,
				strings.TrimRight(server, "/")+"/runs", bytes.NewReader(body))
			if err != nil {
				return fmt.Errorf("build request: %w", err)
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Accept", "application/x-ndjson")
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}

			// No client timeout: the stream lasts as long as the run.
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("do request: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode != http.StatusOK {
				msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
				return &ExitError{Code: 2, Err: fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))}
			}
			if id := resp.Header.Get("X-Run-ID"); id != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "run %s\n", id)
			}
			return exitFor(relay(resp.Body, cmd.OutOrStdout()))
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&server, "server", "s", "http://localhost:8080", "server base URL")
	cmd.Flags().StringVar(&token, "token", "", "Bearer token (default $RUNCTL_TOKEN)")
	return cmd
}

// relay copies NDJSON events from r to w unchanged and returns the terminal
// status it saw.
func relay(r io.Reader, w io.Writer) (domain.EventStatus, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxEventLine)

	var last domain.EventStatus
	for sc.Scan() {
		line := sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var ev struct {
			Status domain.EventStatus `json:"status"`
		}
		if err := json.Unmarshal(line, &ev); err != nil {
			return "", fmt.Errorf("malformed event %q: %w", line, err)
		}
		if ev.Status.Terminal() {
			last = ev.Status
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return "", fmt.Errorf("write event: %w", err)
		}
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("read stream: %w", err)
	}
	return last, nil
}
