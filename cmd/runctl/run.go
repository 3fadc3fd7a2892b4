package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/ErlanBelekov/script-runner/config"
	"github.com/ErlanBelekov/script-runner/internal/agent"
	"github.com/ErlanBelekov/script-runner/internal/domain"
	"github.com/ErlanBelekov/script-runner/internal/email"
	"github.com/ErlanBelekov/script-runner/internal/engine"
	"github.com/ErlanBelekov/script-runner/internal/infrastructure/memory"
	"github.com/ErlanBelekov/script-runner/internal/llm"
	"github.com/ErlanBelekov/script-runner/internal/usecase"
	"github.com/spf13/cobra"
)

func newRunCmd(logger func() *slog.Logger) *cobra.Command {
	var flags submitFlags

	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Run a script locally and print its events as NDJSON",
		Long: `Run a script in-process with the same engine the server uses.

Interpreter, timeouts and the LLM provider come from the environment,
exactly as for the server.

Exit codes:
  0: the script succeeded
  1: the run failed
  2: usage or setup error`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			script, err := readScript(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			jobCtx, err := readContext(flags.contextFile)
			if err != nil {
				return err
			}

			log := logger()
			client, err := llm.New(llm.Config{
				Provider: cfg.LLMProvider,
				BaseURL:  cfg.LLMAPIURL,
				Model:    cfg.LLMModel,
				APIKey:   cfg.LLMAPIKey,
				Timeout:  cfg.LLMTimeout(),
			})
			if err != nil {
				return err
			}

			attempts := memory.NewAttemptRepository()
			eng := engine.New(
				engine.NewExecutor(cfg.ExecutorConfig()),
				agent.NewErrorAnalyzer(client, log),
				agent.NewCodeRepairer(client, log),
				attempts,
				log,
				cfg.EngineConfig(),
			)
			uc := usecase.NewRunUsecase(eng, memory.NewRunRepository(), attempts,
				email.NewSender("local", "", "", log),
				usecase.RunUsecaseConfig{DefaultMaxAttempts: cfg.MaxAttempts}, log)

			_, events, err := uc.Submit(cmd.Context(), usecase.SubmitInput{
				Script:      script,
				Context:     jobCtx,
				MaxAttempts: flags.maxAttempts,
			})
			if err != nil {
				return err
			}
			return exitFor(printEvents(cmd.OutOrStdout(), events))
		},
	}
	flags.register(cmd)
	return cmd
}

// printEvents writes one JSON document per event and returns the terminal
// status, or "" when the stream ended without one.
func printEvents(w io.Writer, events <-chan domain.Event) (domain.EventStatus, error) {
	enc := json.NewEncoder(w)
	var last domain.EventStatus
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			return "", fmt.Errorf("write event: %w", err)
		}
		if ev.Status.Terminal() {
			last = ev.Status
		}
	}
	return last, nil
}

func exitFor(status domain.EventStatus, err error) error {
	if err != nil {
		return err
	}
	if status != domain.EventSuccess {
		return errRunFailed
	}
	return nil
}
