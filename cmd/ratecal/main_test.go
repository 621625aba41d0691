package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratecal/internal/exporter"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeDataset(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "experience.csv")
	body := "region,tier,actual,expected\n" +
		"X,A,110,100\n" +
		"Y,A,90,100\n" +
		"Y,B,95,100\n" +
		"X,B,\"1,050\",1000\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestVersionCommand(t *testing.T) {
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "ratecal v")
}

func TestRunCommand(t *testing.T) {
	input := writeDataset(t)
	outDir := t.TempDir()

	out, _, err := execute(t, "run", input,
		"-v", "region,tier",
		"--credibility=false",
		"--strategy", "neldermead",
		"--max-iterations", "200",
		"--seed", "1",
		"-o", outDir,
		"--log-level", "error")
	require.NoError(t, err)

	assert.Contains(t, out, "variable")
	assert.Contains(t, out, "region")
	assert.Contains(t, out, "tier")
	assert.Contains(t, out, "wrote ")

	factors, err := filepath.Glob(filepath.Join(outDir, "*", exporter.FactorsFile))
	require.NoError(t, err)
	assert.Len(t, factors, 1)
}

func TestRunCommand_NoExport(t *testing.T) {
	input := writeDataset(t)
	outDir := t.TempDir()

	out, _, err := execute(t, "run", input,
		"-v", "region",
		"--credibility=false",
		"--strategy", "guess",
		"--no-export",
		"-o", outDir,
		"--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "region")
	assert.NotContains(t, out, "wrote ")

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunCommand_Rejected(t *testing.T) {
	input := writeDataset(t)

	tests := []struct {
		name string
		args []string
	}{
		{"missing input", []string{"run"}},
		{"no rating variables", []string{"run", input}},
		{"unsupported input", []string{"run", "data.parquet", "-v", "region"}},
		{"unknown mode", []string{"run", input, "-v", "region", "--mode", "diagonal"}},
		{"unknown strategy", []string{"run", input, "-v", "region", "--strategy", "best1bin"}},
		{"missing column", []string{"run", input, "-v", "territory"}},
		{"input not found", []string{"run", filepath.Join(t.TempDir(), "none.csv"), "-v", "region"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, append(tt.args, "--log-level", "error")...)
			assert.Error(t, err)
		})
	}
}

func TestServeCommand_InvalidPort(t *testing.T) {
	_, _, err := execute(t, "serve", "--port", "70000")
	assert.Error(t, err)
}
