package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/quillworks/draftd/internal/checkpoint"
	"github.com/quillworks/draftd/internal/config"
	"github.com/quillworks/draftd/internal/logging"
	"github.com/quillworks/draftd/internal/orchestrator"
	"github.com/quillworks/draftd/internal/persona"
	"github.com/quillworks/draftd/internal/render"
	"github.com/quillworks/draftd/internal/retry"
	"github.com/quillworks/draftd/internal/review"
	"github.com/quillworks/draftd/internal/workflow"
)

var autoApprove bool

var runCmd = &cobra.Command{
	Use:   "run <request.yaml>",
	Short: "Run the pipeline for a business requirement file",
	Long: `Run the full pipeline locally. Gated phases suspend and prompt on the
terminal for approve/revise/inspect decisions; the finished document is
written to the configured output directory.

Examples:
  # Interactive run
  draftd run request.yaml

  # Skip review gates
  draftd run --auto-approve request.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "finalize gated phases without review")
}

// loadRequest reads a business requirement from a YAML file.
func loadRequest(path string) (*workflow.BusinessRequirement, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read request file: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to parse request file: %w", err)
	}

	var req workflow.BusinessRequirement
	if err := k.Unmarshal("", &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request: %w", err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// buildProvider selects the worker backend from config.
func buildProvider(cfg *config.Config) (persona.Provider, error) {
	if cfg.LLM.Provider != "openai" {
		return persona.DefaultProvider(), nil
	}

	model, err := openai.New(
		openai.WithModel(cfg.LLM.Model),
		openai.WithToken(cfg.LLM.APIKey.Value()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}

	workers := make([]persona.Worker, 0, 7)
	for _, role := range []workflow.Role{
		workflow.RoleSystemAnalyst,
		workflow.RoleUXDesigner,
		workflow.RoleQAEngineer,
		workflow.RoleInfrastructureEngineer,
		workflow.RoleSecuritySpecialist,
		workflow.RoleDataArchitect,
		workflow.RoleSolutionArchitect,
	} {
		w, err := persona.NewLLMWorker(role, model)
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return persona.NewStaticProvider(workers...), nil
}

func newRegistry(cfg *config.Config, logger *logging.Logger, auto bool) (*orchestrator.Registry, error) {
	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, err
	}

	cps, err := checkpoint.NewService(cfg.Output.CheckpointDir, logger.Underlying())
	if err != nil {
		return nil, err
	}

	return orchestrator.NewRegistry(orchestrator.Options{
		Provider: provider,
		Retry: retry.Policy{
			MaxAttempts:    cfg.Engine.Retry.MaxAttempts,
			BaseDelay:      cfg.Engine.Retry.BaseDelay.Duration(),
			MaxDelay:       cfg.Engine.Retry.MaxDelay.Duration(),
			JitterFraction: cfg.Engine.Retry.JitterFraction,
		},
		ErrorThreshold: cfg.Engine.ErrorThreshold,
		AutoApprove:    auto,
		Checkpoints:    cps,
		Logger:         logger,
	}), nil
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.Logging, nil)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	req, err := loadRequest(args[0])
	if err != nil {
		return err
	}

	reg, err := newRegistry(cfg, logger, autoApprove || cfg.Engine.AutoApprove)
	if err != nil {
		return err
	}

	run, err := reg.Start(req)
	if err != nil {
		return err
	}

	// Cancel the run on SIGINT/SIGTERM so it aborts cleanly and saves its
	// emergency snapshot.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		if sig, ok := <-sigCh; ok {
			fmt.Fprintf(os.Stderr, "received %v, aborting run\n", sig)
			run.Cancel()
		}
	}()

	console := review.NewConsole(os.Stdin, os.Stdout)
	superviseRun(run, console, os.Stdout, os.Stderr, 2*time.Second)

	snap := run.Snapshot()
	switch snap.Status {
	case workflow.StatusCompleted:
		path, err := render.WriteFile(cfg.Output.DocumentDir, snap)
		if err != nil {
			return err
		}
		fmt.Printf("document written to %s\n", path)
		return nil
	default:
		return fmt.Errorf("run aborted: %s", snap.AbortReason)
	}
}

// superviseRun drives a run to its terminal status, printing progress and
// prompting at review gates. Gate prompts trigger on events and on a
// periodic status poll: the event channel drops under backpressure, and a
// lost gate event must not strand a suspended run.
func superviseRun(run *orchestrator.Run, console *review.Console, out, errOut io.Writer, poll time.Duration) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	events := run.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				<-run.Done()
				return
			}
			switch ev.Type {
			case orchestrator.EventPhaseStarted:
				fmt.Fprintf(out, "-> %s\n", ev.Phase)
			case orchestrator.EventPhaseCompleted:
				fmt.Fprintf(out, "   %s done\n", ev.Phase)
			case orchestrator.EventPhaseFailed:
				fmt.Fprintf(errOut, "   %s failed: %s\n", ev.Phase, ev.Detail)
			case orchestrator.EventReviewRequested:
				if err := reviewPhase(console, run, ev.Phase); err != nil {
					run.Cancel()
				}
			}

		case <-ticker.C:
			if snap := run.Snapshot(); snap.Status == workflow.StatusAwaitingReview {
				if err := reviewPhase(console, run, snap.CurrentPhase); err != nil {
					run.Cancel()
				}
			}
		}
	}
}

// reviewPhase prompts until the gate resolves with approve or revise. A
// prompt that raced with the gate being decided already is skipped.
func reviewPhase(console *review.Console, run *orchestrator.Run, phase workflow.PhaseID) error {
	snap := run.Snapshot()
	if snap.Status != workflow.StatusAwaitingReview || snap.Pending[phase] == nil {
		return nil
	}

	decision, note, err := console.Decide(snap, phase)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := run.SubmitDecision(ctx, phase, decision, note); err != nil {
		if errors.Is(err, workflow.ErrInvalidDecision) {
			return nil
		}
		return err
	}
	return nil
}
