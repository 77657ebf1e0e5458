package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeExecutable 创建一个可执行占位文件，用于通过 CheckBinary
func writeExecutable(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755))
	return path
}

func TestExecRunner_CapturesStreamsAndExitCode(t *testing.T) {
	r := NewExecRunner(0)
	res, err := r.Run(context.Background(), "sh", "-c", "echo out; echo err >&2; exit 3")
	require.NoError(t, err)

	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	assert.False(t, res.TimedOut)
}

func TestExecRunner_ZeroExit(t *testing.T) {
	res, err := NewExecRunner(time.Minute).Run(context.Background(), "sh", "-c", "true")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
}

func TestExecRunner_InvalidUTF8IsReplaced(t *testing.T) {
	res, err := NewExecRunner(0).Run(context.Background(), "sh", "-c", `printf 'a\377b' >&2`)
	require.NoError(t, err)
	assert.Equal(t, "a\uFFFDb", res.Stderr)
}

func TestExecRunner_MissingBinary(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "no-such-binary")
	_, err := NewExecRunner(0).Run(context.Background(), missing)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBinaryNotFound))
	assert.Contains(t, err.Error(), missing)
}

func TestExecRunner_Timeout(t *testing.T) {
	r := NewExecRunner(100 * time.Millisecond)
	res, err := r.Run(context.Background(), "sh", "-c", "sleep 5")
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.NotEqual(t, 0, res.ExitCode)
}

func TestExecRunner_ExpiredDeadlineIsTimeoutNotSpawnFailure(t *testing.T) {
	// 截止时间在启动前后到期，无论进程是否已正常退出都记为超时
	for i := 0; i < 20; i++ {
		res, err := NewExecRunner(time.Nanosecond).Run(context.Background(), "sh", "-c", "exit 0")
		require.NoError(t, err)
		assert.True(t, res.TimedOut)
		assert.NotEqual(t, 0, res.ExitCode)
	}
}

func TestExecRunner_ParentCancelIsFatal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewExecRunner(0).Run(ctx, "sh", "-c", "true")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestCheckBinary(t *testing.T) {
	dir := t.TempDir()
	ok := writeExecutable(t, dir, "mlir-opt")
	assert.NoError(t, CheckBinary("compiler", ok))

	err := CheckBinary("generator", filepath.Join(dir, "mlirsmith"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBinaryNotFound))
	assert.Contains(t, err.Error(), "generator")
	assert.Contains(t, err.Error(), filepath.Join(dir, "mlirsmith"))

	assert.Error(t, CheckBinary("interpreter", ""))
}
