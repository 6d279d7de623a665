// Command reagent runs a task through the agent loop, either one-shot via
// -task or as an interactive session reading tasks from stdin.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ChamsBouzaiene/reagent/internal/builtins"
	"github.com/ChamsBouzaiene/reagent/internal/capability"
	"github.com/ChamsBouzaiene/reagent/internal/config"
	"github.com/ChamsBouzaiene/reagent/internal/engine"
	"github.com/ChamsBouzaiene/reagent/internal/executor"
	"github.com/ChamsBouzaiene/reagent/internal/memory"
	"github.com/ChamsBouzaiene/reagent/internal/model"
	"github.com/ChamsBouzaiene/reagent/internal/providers"
	"github.com/ChamsBouzaiene/reagent/internal/recall"
	"github.com/ChamsBouzaiene/reagent/internal/sandbox"
	"github.com/ChamsBouzaiene/reagent/internal/telemetry"
)

const version = "0.1.0"

func main() {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("reagent", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	task := fs.String("task", "", "task to run; empty starts an interactive session")
	workspace := fs.String("workspace", ".", "workspace root for the file capabilities")
	reviewPlans := fs.Bool("review-plans", false, "pause for plan approval on each planning step")
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *task, *workspace, *reviewPlans); err != nil {
		fmt.Fprintf(os.Stderr, "reagent: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, task, workspace string, reviewPlans bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logLevel := new(slog.LevelVar)
	log := newLogger(cfg.Log, logLevel)
	slog.SetDefault(log)

	if configPath != "" && task == "" {
		// Interactive sessions pick up log-level edits without a restart.
		watcher, err := config.NewWatcher(configPath, log, func(next *config.Config) {
			var level slog.Level
			if err := level.UnmarshalText([]byte(next.Log.Level)); err == nil {
				logLevel.Set(level)
			}
		})
		if err != nil {
			return err
		}
		if err := watcher.Start(); err != nil {
			return err
		}
		defer watcher.Stop()
	}

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Init(ctx, "reagent", version, telemetry.Config{
			Exporter: cfg.Telemetry.Exporter,
			Endpoint: cfg.Telemetry.Endpoint,
			Insecure: true,
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer shutdown(context.Background())
	}

	m, err := buildModel(cfg.LLM)
	if err != nil {
		return err
	}

	caps := builtins.All(workspace)

	var recallIndex *recall.Index
	if cfg.Recall.Enabled {
		recallIndex, err = recall.Open(cfg.Recall.IndexPath)
		if err != nil {
			return err
		}
		defer recallIndex.Close()
		caps = append(caps, recall.AsCapability(recallIndex))
	}

	registry, err := capability.NewRegistry(caps...)
	if err != nil {
		return err
	}

	exec, err := buildExecutor(cfg, registry)
	if err != nil {
		return err
	}

	hooks := []engine.Hook{engine.NewLoggerHook(log)}
	if cfg.Telemetry.Enabled {
		hooks = append(hooks, telemetry.NewTraceHook())
	}
	if recallIndex != nil {
		hooks = append(hooks, recall.NewHook(recallIndex, log))
	}
	capture := &runCapture{}
	hooks = append(hooks, capture)

	opts := []engine.Option{
		engine.WithConfig(engineConfig(cfg)),
		engine.WithHooks(hooks...),
	}
	if reviewPlans {
		opts = append(opts, engine.WithPlanReview(stdinPlanReview))
	}

	agent, err := engine.New(cfg.Agent.Name, m, registry, exec, opts...)
	if err != nil {
		return err
	}
	defer agent.Close()

	var transcripts *memory.TranscriptStore
	if cfg.Memory.TranscriptDB != "" {
		transcripts, err = memory.OpenTranscriptStore(ctx, cfg.Memory.TranscriptDB)
		if err != nil {
			return err
		}
		defer transcripts.Close()
	}

	save := func() {
		if transcripts == nil {
			return
		}
		// Save with a background context so an interrupt still persists the
		// transcript.
		if err := transcripts.SaveRun(context.Background(), capture.lastRunID(), agent.Name(), agent.Memory().Entries()); err != nil {
			log.Warn("transcript save failed", "error", err)
		}
	}

	if task != "" {
		final, err := agent.Run(ctx, task, true)
		save()
		if err != nil {
			return err
		}
		fmt.Println(final.Answer)
		return nil
	}
	return interactive(ctx, agent, save)
}

func interactive(ctx context.Context, agent *engine.Agent, save func()) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	first := true
	for {
		fmt.Print("task> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}

		final, err := agent.Run(ctx, line, first)
		first = false
		save()
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
			continue
		}
		fmt.Printf("\n%s\n\n", final.Answer)
	}
}

func buildModel(cfg config.LLMConfig) (model.Model, error) {
	opts := providers.Options{
		Model:           cfg.Model,
		BaseURL:         cfg.BaseURL,
		MaxOutputTokens: cfg.MaxOutputTokens,
		Temperature:     cfg.Temperature,
		Dispatch:        providers.Dispatch(cfg.Dispatch),
	}
	switch cfg.Provider {
	case "anthropic":
		opts.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	default:
		opts.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return providers.New(cfg.Provider, opts)
}

func buildExecutor(cfg *config.Config, registry *capability.Registry) (executor.Executor, error) {
	if cfg.LLM.Dispatch == "tool_call" {
		return executor.NewStructuredExecutor(registry)
	}

	sandboxCfg := sandbox.DefaultConfig()
	sandboxCfg.Image = cfg.Sandbox.Image
	sandboxCfg.Memory = cfg.Sandbox.Memory
	sandboxCfg.CPU = cfg.Sandbox.CPU
	sandboxCfg.RemoteBaseURL = cfg.Sandbox.RemoteBaseURL

	limits := sandbox.DefaultLimits()
	if cfg.Sandbox.WallClock > 0 {
		limits.WallClock = cfg.Sandbox.WallClock
	}
	if cfg.Sandbox.MaxOps > 0 {
		limits.MaxOps = cfg.Sandbox.MaxOps
	}

	return executor.NewCodeExecutor(
		sandbox.NewProvider(sandboxCfg),
		sandbox.Kind(cfg.Sandbox.Kind),
		limits,
		registry,
		cfg.Sandbox.AllowedImports,
	)
}

func engineConfig(cfg *config.Config) engine.Config {
	ec := engine.DefaultConfig()
	ec.MaxSteps = cfg.Agent.MaxSteps
	ec.PlanInterval = cfg.Agent.PlanInterval
	ec.MaxLimitRetries = cfg.Agent.MaxLimitRetries
	ec.MaxDelegationDepth = cfg.Agent.MaxDelegationDepth
	ec.Retention = memory.RetentionPolicy{
		Enabled:             cfg.Memory.RetentionEnabled,
		KeepRecentActions:   cfg.Memory.KeepRecentActions,
		MaxObservationChars: cfg.Memory.MaxObservationChars,
	}
	return ec
}

func newLogger(cfg config.LogConfig, levelVar *slog.LevelVar) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	levelVar.Set(level)
	opts := &slog.HandlerOptions{Level: levelVar}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// stdinPlanReview prompts the operator to approve, edit, or cancel a plan.
func stdinPlanReview(_ context.Context, step memory.PlanningStep) engine.PlanReview {
	fmt.Printf("\n--- proposed plan ---\n%s\n---------------------\n", step.Plan)
	fmt.Print("approve / edit / cancel [a]: ")

	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return engine.PlanReview{Decision: engine.PlanApprove}
	}
	switch strings.TrimSpace(strings.ToLower(scanner.Text())) {
	case "e", "edit":
		fmt.Println("enter the revised plan, end with an empty line:")
		var lines []string
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				break
			}
			lines = append(lines, line)
		}
		return engine.PlanReview{Decision: engine.PlanEdit, EditedPlan: strings.Join(lines, "\n")}
	case "c", "cancel":
		return engine.PlanReview{Decision: engine.PlanCancel}
	default:
		return engine.PlanReview{Decision: engine.PlanApprove}
	}
}

// runCapture remembers the most recent run ID for transcript persistence.
type runCapture struct {
	engine.NopHook
	mu   sync.Mutex
	last string
}

func (c *runCapture) OnRunStart(_ context.Context, info engine.RunInfo, _ string) {
	c.mu.Lock()
	c.last = info.RunID
	c.mu.Unlock()
}

func (c *runCapture) lastRunID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
