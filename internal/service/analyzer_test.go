package service

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"mlir-eval/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const genericOp = `%1 = linalg.generic {indexing_maps = [#map], iterator_types = ["parallel"]} ins(%0 : tensor<4xf32>)`

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestAnalyzeBatch_Scenario(t *testing.T) {
	dir := t.TempDir()
	a := writeSource(t, dir, "0.mlir", genericOp+"\n"+genericOp+"\n")
	b := writeSource(t, dir, "1.mlir", "func.func @f() { return }\n")

	batch := model.Batch{
		model.CompiledRecord(a, 2, true, "", false),
		model.CompiledRecord(b, 1, true, "", false),
	}
	report, err := NewAnalyzer("", nil).AnalyzeBatch(batch)
	require.NoError(t, err)

	assert.Equal(t, "linalg.generic", report.Marker)
	assert.Equal(t, 2, report.Compiled)
	assert.Equal(t, 1, report.CompiledWithMarker)
	assert.Equal(t, Metric(0.5), report.FractionWithMarker)
	assert.Equal(t, Metric(1.0), report.MeanCompiled)
	assert.Equal(t, Metric(1.0), report.MeanAll)
	assert.Equal(t, []string{a}, report.Examples)
}

func TestAnalyzeBatch_AllVersusCompiled(t *testing.T) {
	dir := t.TempDir()
	a := writeSource(t, dir, "0.mlir", genericOp+genericOp+genericOp)
	b := writeSource(t, dir, "1.mlir", genericOp)

	batch := model.Batch{
		model.CompiledRecord(a, 1, false, "error", false),
		model.CompiledRecord(b, 1, true, "", false),
		model.MissingRecord(),
	}
	report, err := NewAnalyzer("linalg.generic", nil).AnalyzeBatch(batch)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Analyzed, "records without a file are not analyzed")
	assert.Equal(t, Metric(2.0), report.MeanAll)
	assert.Equal(t, Metric(1.0), report.MeanCompiled)
	assert.Equal(t, Metric(1.0), report.FractionWithMarker)
}

func TestAnalyzeBatch_MissingFilesAreSkipped(t *testing.T) {
	dir := t.TempDir()
	a := writeSource(t, dir, "0.mlir", genericOp)
	gone := filepath.Join(dir, "elsewhere", "1.mlir")

	batch := model.Batch{
		model.CompiledRecord(a, 1, true, "", false),
		model.CompiledRecord(gone, 1, true, "", false),
	}
	report, err := NewAnalyzer("", nil).AnalyzeBatch(batch)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, []string{gone}, report.SkippedFiles)
	assert.Equal(t, 1, report.Compiled)
	assert.Equal(t, Metric(1.0), report.FractionWithMarker)
}

func TestAnalyzeBatch_NoCompiledRecords(t *testing.T) {
	report, err := NewAnalyzer("", nil).AnalyzeBatch(model.Batch{model.MissingRecord()})
	require.NoError(t, err)
	assert.False(t, report.FractionWithMarker.Defined())
	assert.False(t, report.MeanAll.Defined())
	assert.False(t, report.MeanCompiled.Defined())
}

func TestAnalyze_FromPersistedBatch(t *testing.T) {
	dir := t.TempDir()
	a := writeSource(t, dir, "0.mlir", genericOp)
	path := filepath.Join(dir, ResultsFileName)
	require.NoError(t, Persist(model.Batch{model.CompiledRecord(a, 1, true, "", false)}, path))

	report, err := NewAnalyzer("", nil).Analyze(path)
	require.NoError(t, err)
	assert.Equal(t, path, report.BatchPath)
	assert.Equal(t, 1, report.CompiledWithMarker)
}

func TestAnalyze_MalformedBatchIsFatal(t *testing.T) {
	path := writeSource(t, t.TempDir(), ResultsFileName, `[{"file": "/a.mlir"}]`)
	_, err := NewAnalyzer("", nil).Analyze(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedBatch))
}
