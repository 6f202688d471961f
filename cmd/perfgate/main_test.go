package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/toolify/perfgate/internal/config"
)

func TestGateFailureError_UnwrapsThroughWrapping(t *testing.T) {
	inner := &GateFailureError{Message: "gate FAILED"}
	wrapped := fmt.Errorf("run: %w", inner)

	var gateErr *GateFailureError
	require.True(t, errors.As(wrapped, &gateErr))
	require.Equal(t, "gate FAILED", gateErr.Error())
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	root := newRootCommand()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	require.Contains(t, names, "run")
	require.Contains(t, names, "baseline")
	require.Contains(t, names, "init")
}

func TestInitCommand_WritesProjectFile(t *testing.T) {
	dir := t.TempDir()

	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"init", dir})

	require.NoError(t, root.Execute())

	path := filepath.Join(dir, "perfgate.yaml")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var project config.Project
	require.NoError(t, yaml.Unmarshal(data, &project))
	require.Equal(t, config.DefaultSubjectPort, project.Ports.Subject)
	require.Equal(t, config.DefaultWrkBin, project.Paths.WrkBin)
}

func TestInitCommand_RefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "perfgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ports:\n  subject: 1234\n"), 0o644))

	root := newRootCommand()
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))
	root.SetArgs([]string{"init", dir})

	err := root.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), "already exists")
}

func TestRunCommand_MissingSubjectBinary(t *testing.T) {
	dir := t.TempDir()
	projectPath := filepath.Join(dir, "perfgate.yaml")
	require.NoError(t, os.WriteFile(projectPath, []byte(fmt.Sprintf(
		"paths:\n  subject_bin: %s/no-such-binary\n", dir)), 0o644))

	root := newRootCommand()
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))
	root.SetArgs([]string{"run", "--config", projectPath})

	err := root.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), "no-such-binary")

	var gateErr *GateFailureError
	require.False(t, errors.As(err, &gateErr), "setup errors must not classify as verdict failures")
}
