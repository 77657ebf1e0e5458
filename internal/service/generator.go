package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// GenerationReport 一次批量生成的统计
type GenerationReport struct {
	Directory   string `json:"directory"`
	Count       int    `json:"count"`
	Written     int    `json:"written"`
	NonZeroExit int    `json:"non_zero_exit"`
	TimedOut    int    `json:"timed_out"`
	// 因超时或严格模式下非零退出而未落盘的数量
	Dropped int `json:"dropped"`
}

// Generator 反复调用生成器，把 stderr 输出写到 <dir>/<i>.mlir
type Generator struct {
	binary  string
	runner  ProcessRunner
	strict  bool
	metrics *Metrics
	logger  *slog.Logger
}

func NewGenerator(binary string, runner ProcessRunner, strict bool, metrics *Metrics, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		binary:  binary,
		runner:  runner,
		strict:  strict,
		metrics: metrics,
		logger:  logger,
	}
}

// SourcePath 索引 i 对应的文件
func SourcePath(dir string, i int) string {
	return filepath.Join(dir, fmt.Sprintf("%d.mlir", i))
}

// Generate 重新生成 0..count-1 全部索引，已有文件会被覆盖
//
// 非严格模式下生成器的退出码只计数不处理，捕获到的内容（可能为空）照常写入。
// 严格模式或超时时不写文件，并删除该索引的旧文件，评测阶段记为缺失。
func (g *Generator) Generate(ctx context.Context, dir string, count int) (*GenerationReport, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建生成目录失败: %w", err)
	}

	report := &GenerationReport{Directory: dir, Count: count}
	target := filepath.Base(dir)

	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		res, err := g.runner.Run(ctx, g.binary)
		if err != nil {
			return report, fmt.Errorf("调用生成器失败: %w", err)
		}

		path := SourcePath(dir, i)
		status := "ok"
		switch {
		case res.TimedOut:
			report.TimedOut++
			status = "timeout"
		case res.ExitCode != 0:
			report.NonZeroExit++
			status = "non_zero_exit"
		}
		g.metrics.observeGenerate(target, status)

		if res.TimedOut || (g.strict && res.ExitCode != 0) {
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return report, fmt.Errorf("删除旧文件失败: %w", err)
			}
			report.Dropped++
			g.logger.Warn("generation dropped", "path", path, "exit_code", res.ExitCode, "timed_out", res.TimedOut)
			continue
		}

		if err := os.WriteFile(path, []byte(res.Stderr), 0o644); err != nil {
			return report, fmt.Errorf("写入生成文件失败: %w", err)
		}
		report.Written++
		g.logger.Debug("done", "path", path)
	}

	g.logger.Info("generation finished",
		"dir", dir,
		"written", report.Written,
		"non_zero_exit", report.NonZeroExit,
		"dropped", report.Dropped,
	)
	return report, nil
}
