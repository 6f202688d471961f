package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/toolify/perfgate/internal/baseline"
	"github.com/toolify/perfgate/internal/config"
	"github.com/toolify/perfgate/internal/orchestration"
)

func newRunCommand() *cobra.Command {
	var projectPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the regression gate against the recorded baseline",
		Long: `Run the full gate: bring the subject and its upstream simulator up, drive
every scenario for the planned number of rounds (extending on RPS jitter),
and compare the medians against the recorded baseline.

Tuning comes from PERF_* environment variables; binary paths, ports, and the
load profile come from perfgate.yaml. Exit code 1 means the gate completed
with a FAIL verdict; exit code 2 means the run itself could not complete.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommandE(cmd, projectPath)
		},
	}

	cmd.Flags().StringVar(&projectPath, "config", "perfgate.yaml", "Project configuration file")

	return cmd
}

func runCommandE(cmd *cobra.Command, projectPath string) error {
	project, env, err := loadConfiguration(projectPath)
	if err != nil {
		return err
	}

	base, err := baseline.Load(env.BaselineFile)
	if err != nil {
		return fmt.Errorf("loading baseline: %w", err)
	}

	scenarios := config.Scenarios(env.IncludeFC, project.Load.H2C())

	// Teardown must run even on Ctrl-C; the supervisor's deferred Stop fires
	// when the context cancellation unwinds the round loop.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	coordinator := &orchestration.Coordinator{
		Project:   project,
		Env:       env,
		Base:      base,
		Scenarios: scenarios,
		Logger:    slog.Default(),
		Out:       cmd.OutOrStdout(),
	}

	outcome, err := coordinator.Run(ctx)
	if err != nil {
		return err
	}

	printOutcome(cmd.OutOrStdout(), env, outcome)

	if !outcome.Pass {
		return &GateFailureError{Message: "performance gate FAILED against baseline " + env.BaselineFile}
	}
	return nil
}

func loadConfiguration(projectPath string) (*config.Project, *config.Env, error) {
	project, err := config.LoadProject(projectPath)
	if err != nil {
		return nil, nil, err
	}
	env, err := config.LoadEnvFromOS()
	if err != nil {
		return nil, nil, err
	}
	if _, err := os.Stat(project.Paths.SubjectBin); err != nil {
		return nil, nil, fmt.Errorf("subject binary %s: %w", project.Paths.SubjectBin, err)
	}
	if _, err := os.Stat(project.Paths.UpstreamBin); err != nil {
		return nil, nil, fmt.Errorf("upstream binary %s: %w", project.Paths.UpstreamBin, err)
	}
	return project, env, nil
}
