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

func TestPersistLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ResultsFileName)
	batch := model.Batch{
		model.CompiledRecord("/abs/0.mlir", 5, true, "", false),
		model.MissingRecord(),
		model.CompiledRecord("/abs/2.mlir", 12, false, "error: 'arith.addi' op requires \"same\" types\n\tat line 3", false),
		model.CompiledRecord("/abs/3.mlir", 1, false, "ünïcode ✓", true),
	}

	require.NoError(t, Persist(batch, path))
	loaded, err := LoadBatch(path)
	require.NoError(t, err)
	assert.Equal(t, batch, loaded)
}

func TestPersist_OverwritesAndLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ResultsFileName)

	require.NoError(t, Persist(model.Batch{model.MissingRecord(), model.MissingRecord()}, path))
	require.NoError(t, Persist(model.Batch{model.CompiledRecord("/a", 1, true, "", false)}, path))

	loaded, err := LoadBatch(path)
	require.NoError(t, err)
	assert.Len(t, loaded, 1)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPersist_EmptyBatchIsArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), ResultsFileName)
	require.NoError(t, Persist(nil, path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestDecodeBatch_AcceptsLegacyResultFiles(t *testing.T) {
	// 历史结果文件的字段顺序
	data := []byte(`[
		{"successfully_generated": true, "file_length": 3, "successfully_compiled": true,
		 "file": "/home/u/generated/linalg/0.mlir", "compiler_errors": ""},
		{"successfully_generated": false, "file_length": 0, "successfully_compiled": false,
		 "file": null, "compiler_errors": null}
	]`)
	batch, err := DecodeBatch(data)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "/home/u/generated/linalg/0.mlir", *batch[0].SourcePath)
	assert.False(t, batch[1].Generated)
}

func TestDecodeBatch_MinimalFields(t *testing.T) {
	batch, err := DecodeBatch([]byte(`[{"successfully_compiled": true, "file": "/a.mlir"}, {"successfully_compiled": false, "file": null}]`))
	require.NoError(t, err)
	assert.True(t, batch[0].Generated, "generated is inferred from file")
	assert.False(t, batch[1].Generated)
}

func TestDecodeBatch_SchemaDrift(t *testing.T) {
	cases := map[string]string{
		"not an array":       `{"successfully_compiled": true}`,
		"element not object": `[1, 2]`,
		"missing compiled":   `[{"file": "/a"}]`,
		"missing file":       `[{"successfully_compiled": true}]`,
		"wrong type":         `[{"successfully_compiled": "yes", "file": "/a"}]`,
		"null compiled":      `[{"successfully_compiled": null, "file": "/a"}]`,
		"truncated":          `[{"successfully_compiled": true, "file": "/a"`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeBatch([]byte(in))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedBatch), "got %v", err)
		})
	}
}

func TestEnsureLayout_Idempotent(t *testing.T) {
	root := filepath.Join(t.TempDir(), "generated")
	require.NoError(t, EnsureLayout(root))
	require.NoError(t, EnsureLayout(root))

	for _, e := range model.Experiments() {
		dir, _ := e.Folder(root)
		assert.DirExists(t, dir)
	}
}
