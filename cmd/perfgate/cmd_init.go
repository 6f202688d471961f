package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/toolify/perfgate/internal/config"
	"github.com/toolify/perfgate/internal/wizard"
)

func newInitCommand() *cobra.Command {
	var interactive bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Create a perfgate.yaml project file",
		Long: `Create a perfgate.yaml with binary paths, ports, and the load profile.

Use --interactive to answer a short guided form instead of taking the
defaults. If no directory is specified, the current directory is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return initCommandE(cmd, args, interactive)
		},
	}

	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Run the guided setup form")

	return cmd
}

func initCommandE(cmd *cobra.Command, args []string, interactive bool) error {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, "perfgate.yaml")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	project := config.New()
	if interactive {
		var err error
		project, err = wizard.RunProjectWizard(cmd.InOrStdin(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
	}

	content, err := yaml.Marshal(project)
	if err != nil {
		return fmt.Errorf("failed to render perfgate.yaml: %w", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", path) //nolint:errcheck
	fmt.Fprintln(cmd.OutOrStdout(), "\nNext: record a baseline with `perfgate baseline`, then gate with `perfgate run`.")
	return nil
}
