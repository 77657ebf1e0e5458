package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"mlir-eval/internal/model"
	"mlir-eval/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newWorkspace 写入只含 generation.root 的配置文件
func newWorkspace(t *testing.T) (configPath, root string) {
	t.Helper()
	dir := t.TempDir()
	root = filepath.Join(dir, "generated")
	configPath = filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(fmt.Sprintf("generation:\n  root: %s\n", root)), 0o644))
	return configPath, root
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

// persistSample linalg 实验：两个编译成功（其中一个含 linalg.generic），一个缺失
func persistSample(t *testing.T, root string, e model.Experiment) string {
	t.Helper()
	require.NoError(t, service.EnsureLayout(root))
	dir, err := e.Folder(root)
	require.NoError(t, err)

	a := service.SourcePath(dir, 0)
	b := service.SourcePath(dir, 2)
	require.NoError(t, os.WriteFile(a, []byte("%0 = linalg.generic\n"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("%0 = arith.constant 0 : i32\n"), 0o644))

	path, err := service.ResultsPath(root, e)
	require.NoError(t, err)
	require.NoError(t, service.Persist(model.Batch{
		model.CompiledRecord(a, 1, true, "", false),
		model.MissingRecord(),
		model.CompiledRecord(b, 1, true, "", false),
	}, path))
	return path
}

func TestExperimentsCommand(t *testing.T) {
	cfgPath, root := newWorkspace(t)
	out, err := execute(t, "--config", cfgPath, "experiments")
	require.NoError(t, err)

	assert.Contains(t, out, "NAME")
	for _, e := range model.Experiments() {
		assert.Contains(t, out, e.String())
		dir, _ := e.Folder(root)
		assert.Contains(t, out, dir)
	}
}

func TestSummarizeCommand(t *testing.T) {
	cfgPath, root := newWorkspace(t)
	persistSample(t, root, model.Linalg)

	out, err := execute(t, "--config", cfgPath, "-e", "linalg", "summarize", "--json")
	require.NoError(t, err)

	var s service.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.Generated)
	assert.Equal(t, 2, s.Compiled)

	report := filepath.Join(t.TempDir(), "summary.md")
	out, err = execute(t, "--config", cfgPath, "-e", "linalg", "summarize", "--report", report)
	require.NoError(t, err)
	assert.Contains(t, out, "# linalg")
	assert.FileExists(t, report)
}

func TestAnalyzeCommand(t *testing.T) {
	cfgPath, root := newWorkspace(t)
	path := persistSample(t, root, model.Linalg)

	out, err := execute(t, "--config", cfgPath, "analyze", path)
	require.NoError(t, err)
	assert.Contains(t, out, "1/2 of compiled files have 'linalg.generic' operation")

	out, err = execute(t, "--config", cfgPath, "-e", "linalg", "analyze", "--marker", "arith.constant", "--json")
	require.NoError(t, err)
	var report service.AnalysisReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "arith.constant", report.Marker)
	assert.Equal(t, 1, report.CompiledWithMarker)
}

func TestCompareCommand(t *testing.T) {
	cfgPath, root := newWorkspace(t)
	persistSample(t, root, model.Linalg)
	persistSample(t, root, model.Tensor)

	out, err := execute(t, "--config", cfgPath, "compare", "linalg", "tensor")
	require.NoError(t, err)
	assert.Contains(t, out, "# linalg vs tensor")

	_, err = execute(t, "--config", cfgPath, "compare", "linalg")
	assert.Error(t, err)
}

func TestUnknownExperimentFlag(t *testing.T) {
	cfgPath, _ := newWorkspace(t)
	_, err := execute(t, "--config", cfgPath, "-e", "vector", "summarize")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrUnknownExperiment)
}

func TestRunCommand_MissingGenerator(t *testing.T) {
	cfgPath, root := newWorkspace(t)
	t.Setenv("MLIREVAL_GENERATOR", filepath.Join(t.TempDir(), "build", "bin", "mlirsmith"))

	_, err := execute(t, "--config", cfgPath, "run")
	require.Error(t, err)
	assert.ErrorIs(t, err, service.ErrBinaryNotFound)

	path, _ := service.ResultsPath(root, model.MlirSmith)
	assert.NoFileExists(t, path)
}
