package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrBinaryNotFound 外部程序无法启动（不存在或不可执行），属于环境级错误，直接终止本次运行
var ErrBinaryNotFound = errors.New("外部程序无法启动")

// ProcessResult 一次外部进程调用的结果
//
// 非零退出码不是错误；只有无法启动进程时 Run 才返回 error。
type ProcessResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Duration time.Duration
}

// ProcessRunner 执行外部程序。所有 exec 调用都经过这里，测试中可替换。
type ProcessRunner interface {
	Run(ctx context.Context, name string, args ...string) (ProcessResult, error)
}

// ExecRunner 基于 os/exec 的实现，timeout 为 0 时不限时
type ExecRunner struct {
	Timeout time.Duration
}

func NewExecRunner(timeout time.Duration) *ExecRunner {
	return &ExecRunner{Timeout: timeout}
}

func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (ProcessResult, error) {
	runCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, name, args...)
	// 被杀掉的进程若留下子进程占用管道，最多再等 WaitDelay
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := ProcessResult{
		Stdout:   strings.ToValidUTF8(stdout.String(), "\uFFFD"),
		Stderr:   strings.ToValidUTF8(stderr.String(), "\uFFFD"),
		Duration: time.Since(start),
	}

	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		// 超时与进程退出几乎同时发生时 Run 返回的是 ctx 错误而非 ExitError
		if runCtx.Err() == context.DeadlineExceeded {
			res.ExitCode = -1
			res.TimedOut = true
			return res, nil
		}
		return res, fmt.Errorf("%w: %s: %v", ErrBinaryNotFound, name, err)
	}

	res.ExitCode = exitErr.ExitCode()
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if runCtx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
	}
	return res, nil
}

// CheckBinary 运行前检查外部程序是否存在且可执行
func CheckBinary(role, path string) error {
	if _, err := exec.LookPath(path); err != nil {
		shown := path
		if strings.ContainsRune(path, filepath.Separator) {
			if abs, absErr := filepath.Abs(path); absErr == nil {
				shown = abs
			}
		}
		return fmt.Errorf("%w: %s 期望位于 %s: %v", ErrBinaryNotFound, role, shown, err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// 测试替身
// -----------------------------------------------------------------------------

// FakeRunner 记录调用并通过 RunFunc 返回预设结果
type FakeRunner struct {
	RunFunc func(ctx context.Context, name string, args ...string) (ProcessResult, error)

	mu    sync.Mutex
	calls []ProcessCall
}

// ProcessCall 一次被记录的调用
type ProcessCall struct {
	Name string
	Args []string
}

func (f *FakeRunner) Run(ctx context.Context, name string, args ...string) (ProcessResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, ProcessCall{Name: name, Args: append([]string(nil), args...)})
	f.mu.Unlock()

	if f.RunFunc == nil {
		panic("FakeRunner.RunFunc not set")
	}
	return f.RunFunc(ctx, name, args...)
}

// Calls 返回调用记录副本
func (f *FakeRunner) Calls() []ProcessCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ProcessCall(nil), f.calls...)
}
