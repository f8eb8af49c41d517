package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nugget/forge-orchestrator/internal/api"
	"github.com/nugget/forge-orchestrator/internal/buildinfo"
	"github.com/nugget/forge-orchestrator/internal/config"
	"github.com/nugget/forge-orchestrator/internal/delegation"
	"github.com/nugget/forge-orchestrator/internal/events"
	"github.com/nugget/forge-orchestrator/internal/inference"
	"github.com/nugget/forge-orchestrator/internal/longmem"
	"github.com/nugget/forge-orchestrator/internal/orchestrator"
	"github.com/nugget/forge-orchestrator/internal/persona"
	"github.com/nugget/forge-orchestrator/internal/shortmem"
	"github.com/nugget/forge-orchestrator/internal/tracker"
)

// run is the real entry point for the forge command. All OS-level
// dependencies are injected as parameters so the full command tree can
// be driven from tests without touching process-global state:
//
//   - ctx controls the lifetime of the process. Cancelling it triggers
//     graceful shutdown of the server and any background goroutines.
//   - stdout and stderr receive all program output.
//   - args is os.Args[1:].
//
// Unlike a hand-rolled switch over argv, the subcommand tree (serve,
// task, personas, version) is built with cobra so flag parsing, help
// text, and usage errors follow the same conventions as the rest of
// the ecosystem forge's dependencies come from.
func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	root := newRootCommand()
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCommand() *cobra.Command {
	var configPath string
	var outputFmt string

	root := &cobra.Command{
		Use:           "forge",
		Short:         "Task-orchestration engine for locally-hosted language-model agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: auto-discover)")
	root.PersistentFlags().StringVarP(&outputFmt, "output", "o", "text", "output format: text or json")

	root.AddCommand(newServeCommand(&configPath))
	root.AddCommand(newTaskCommand(&configPath, &outputFmt))
	root.AddCommand(newPersonasCommand(&configPath, &outputFmt))
	root.AddCommand(newVersionCommand(&outputFmt))

	return root
}

func newVersionCommand(outputFmt *string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := buildinfo.Info()
			if *outputFmt == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String())
			for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch", "uptime"} {
				if v, ok := info[k]; ok {
					fmt.Fprintf(cmd.OutOrStdout(), "  %-12s %s\n", k+":", v)
				}
			}
			return nil
		},
	}
}

// newLogger builds the structured slog.Logger every subcommand uses.
// Level and TRACE rendering follow config.ParseLogLevel /
// config.ReplaceLogLevelNames, matching the rest of the ecosystem.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	})
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file, then
// layers environment-variable overrides on top per the precedence
// order documented in internal/config.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		// No config file is not fatal — forge runs on defaults.
		return config.Default(), "", nil
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// buildEnvironment wires every orchestration component into an
// orchestrator.Environment: the persona library, the state tracker,
// the event bus, long-term and short-term memory, the outcome
// learner, and the inference client. It returns the environment plus
// a closer that releases everything it opened.
func buildEnvironment(cfg *config.Config, logger *slog.Logger) (orchestrator.Environment, func() error, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return orchestrator.Environment{}, nil, fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	personas, err := persona.Open(filepath.Join(cfg.DataDir, "personas"), logger)
	if err != nil {
		return orchestrator.Environment{}, nil, fmt.Errorf("open persona library: %w", err)
	}

	longterm, err := longmem.Open(filepath.Join(cfg.DataDir, "longmem"))
	if err != nil {
		return orchestrator.Environment{}, nil, fmt.Errorf("open long-term memory: %w", err)
	}

	bus := events.New()

	tr, err := tracker.Open(filepath.Join(cfg.DataDir, "tracker.db"), bus)
	if err != nil {
		return orchestrator.Environment{}, nil, fmt.Errorf("open task tracker: %w", err)
	}

	preferred := make(map[inference.TaskClass]string, len(cfg.Inference.Preferred))
	for class, model := range cfg.Inference.Preferred {
		preferred[inference.TaskClass(class)] = model
	}
	client := inference.NewHTTPClient(cfg.Inference.Host, inference.ModelSelection{
		Preferred: preferred,
		Fallback:  cfg.Inference.Fallback,
	}, logger)

	env := orchestrator.Environment{
		Inference:       client,
		Personas:        personas,
		Tracker:         tr,
		Bus:             bus,
		LongTerm:        longterm,
		ShortTerm:       shortmem.New(0),
		Delegation:      delegation.New(personas),
		Logger:          logger,
		WorkerPoolSize:  cfg.Worker.PoolSize,
		WorkflowTimeout: time.Duration(cfg.Worker.WorkflowTimeoutSeconds) * time.Second,
	}

	closer := func() error {
		return tr.Close()
	}

	return env, closer, nil
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cmd.OutOrStdout(), *configPath)
		},
	}
}

// runServe is the primary operating mode: it loads config, wires the
// full orchestration environment, starts the HTTP server, and blocks
// until SIGINT/SIGTERM requests a graceful shutdown.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	cfg.ApplyEnv()

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := newLogger(stdout, level)
	logger.Info("starting forge", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)
	if cfgPath != "" {
		logger.Info("config loaded", "path", cfgPath)
	} else {
		logger.Info("no config file found, using defaults")
	}

	env, closeEnv, err := buildEnvironment(cfg, logger)
	if err != nil {
		return err
	}
	defer closeEnv()

	orch := orchestrator.New(env)
	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	server := api.NewServer(addr, orch, env.Inference, env.Personas, env.LongTerm, env.Bus, logger)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("listening", "addr", addr)
	if err := server.Start(); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("forge stopped")
	return nil
}

func newTaskCommand(configPath, outputFmt *string) *cobra.Command {
	return &cobra.Command{
		Use:   "task <text>",
		Short: "Run a single task to completion and print the workflow record",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := args[0]
			for _, a := range args[1:] {
				text += " " + a
			}
			return runTask(cmd.Context(), cmd.OutOrStdout(), *configPath, *outputFmt, text)
		},
	}
}

// runTask boots the full orchestration environment for a single task,
// runs it to completion, and prints the resulting taskmodel.WorkflowRecord.
// Useful for smoke-testing a persona library or inference backend
// without starting the HTTP server.
func runTask(ctx context.Context, stdout io.Writer, configPath, outputFmt, text string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	cfg.ApplyEnv()

	logger := newLogger(stdout, slog.LevelWarn)
	env, closeEnv, err := buildEnvironment(cfg, logger)
	if err != nil {
		return err
	}
	defer closeEnv()

	orch := orchestrator.New(env)
	record := orch.Execute(ctx, uuid.New().String(), text, nil)

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(record)
	}

	fmt.Fprintf(stdout, "task:   %s\n", record.TaskID)
	fmt.Fprintf(stdout, "status: %s\n", record.Status)
	for _, score := range record.Scores {
		fmt.Fprintf(stdout, "  subtask %s: %.2f\n", score.SubtaskID, score.Overall)
	}
	return nil
}

func newPersonasCommand(configPath, outputFmt *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "personas",
		Short: "Inspect and manage the persona library",
	}
	cmd.AddCommand(newPersonasListCommand(configPath, outputFmt))
	cmd.AddCommand(newPersonasShowCommand(configPath, outputFmt))
	cmd.AddCommand(newPersonasDeleteCommand(configPath))
	return cmd
}

func openPersonaStore(configPath string) (*persona.Store, error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return persona.Open(filepath.Join(cfg.DataDir, "personas"), logger)
}

func newPersonasListCommand(configPath, outputFmt *string) *cobra.Command {
	var domain string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List personas in the library",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openPersonaStore(*configPath)
			if err != nil {
				return err
			}
			list := store.List(persona.Filter{Domain: domain})
			if *outputFmt == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}
			for _, p := range list {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-20s  score=%.2f  uses=%d\n", p.ID, p.DNA.RoleSeniority, p.Score, p.UsageCount)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&domain, "domain", "", "filter by domain")
	return cmd
}

func newPersonasShowCommand(configPath, outputFmt *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one persona",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openPersonaStore(*configPath)
			if err != nil {
				return err
			}
			p, ok := store.Get(args[0])
			if !ok {
				return fmt.Errorf("persona not found: %s", args[0])
			}
			if *outputFmt == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(p)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "id:     %s\n", p.ID)
			fmt.Fprintf(cmd.OutOrStdout(), "role:   %s\n", p.DNA.RoleSeniority)
			fmt.Fprintf(cmd.OutOrStdout(), "domain: %s\n", p.DNA.Domain)
			fmt.Fprintf(cmd.OutOrStdout(), "score:  %.2f\n", p.Score)
			fmt.Fprintf(cmd.OutOrStdout(), "uses:   %d\n", p.UsageCount)
			return nil
		},
	}
}

func newPersonasDeleteCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a persona from the library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openPersonaStore(*configPath)
			if err != nil {
				return err
			}
			if err := store.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}
