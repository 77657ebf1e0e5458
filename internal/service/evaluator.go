package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"mlir-eval/internal/model"

	"golang.org/x/sync/errgroup"
)

// Evaluator 对每个期望索引检查文件并调用编译器
type Evaluator struct {
	root       string
	batchSize  int
	compiler   string
	runner     ProcessRunner
	workers    int
	splitFlags bool
	metrics    *Metrics
	logger     *slog.Logger
}

type EvaluatorOptions struct {
	Root      string
	BatchSize int
	Compiler  string
	// <=1 表示逐个同步执行
	Workers int
	// 将 pipeline 作为多个 argv 元素传入
	SplitFlags bool
	Metrics    *Metrics
	Logger     *slog.Logger
}

func NewEvaluator(runner ProcessRunner, opts EvaluatorOptions) *Evaluator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		root:       opts.Root,
		batchSize:  opts.BatchSize,
		compiler:   opts.Compiler,
		runner:     runner,
		workers:    opts.Workers,
		splitFlags: opts.SplitFlags,
		metrics:    opts.Metrics,
		logger:     logger,
	}
}

// Evaluate 返回恰好 batchSize 条记录，位置 i 即索引 i
func (ev *Evaluator) Evaluate(ctx context.Context, e model.Experiment) (model.Batch, error) {
	dir, err := e.Folder(ev.root)
	if err != nil {
		return nil, err
	}
	pipeline, err := e.Pipeline()
	if err != nil {
		return nil, err
	}

	batch := model.NewBatch(ev.batchSize)

	if ev.workers <= 1 {
		for i := range batch {
			rec, err := ev.evaluateIndex(ctx, e, dir, pipeline, i)
			if err != nil {
				return nil, err
			}
			batch[i] = rec
		}
		return batch, nil
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(ev.workers)
	for i := range batch {
		i := i
		g.Go(func() error {
			rec, err := ev.evaluateIndex(gCtx, e, dir, pipeline, i)
			if err != nil {
				return err
			}
			batch[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return batch, nil
}

func (ev *Evaluator) evaluateIndex(ctx context.Context, e model.Experiment, dir string, pipeline model.Pipeline, i int) (model.OutcomeRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.OutcomeRecord{}, err
	}

	path, err := filepath.Abs(SourcePath(dir, i))
	if err != nil {
		return model.OutcomeRecord{}, fmt.Errorf("解析路径失败: %w", err)
	}

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && info.IsDir()) {
		rec := model.MissingRecord()
		ev.metrics.observeOutcome(e, rec, 0)
		return rec, nil
	}
	if err != nil {
		return model.OutcomeRecord{}, fmt.Errorf("读取文件信息失败: %w", err)
	}

	lines, err := CountFileLines(path)
	if err != nil {
		return model.OutcomeRecord{}, err
	}

	res, err := ev.runner.Run(ctx, ev.compiler, ev.compilerArgs(pipeline, path)...)
	if err != nil {
		return model.OutcomeRecord{}, fmt.Errorf("调用编译器失败: %w", err)
	}

	rec := model.CompiledRecord(path, lines, res.ExitCode == 0, res.Stderr, res.TimedOut)
	ev.metrics.observeOutcome(e, rec, res.Duration)
	ev.logger.Debug("evaluated",
		"experiment", e.String(),
		"index", i,
		"lines", lines,
		"exit_code", res.ExitCode,
		"timed_out", res.TimedOut,
	)
	return rec, nil
}

// compilerArgs 默认：[pipeline 整体一个参数, 绝对路径]
func (ev *Evaluator) compilerArgs(pipeline model.Pipeline, path string) []string {
	if ev.splitFlags {
		return append(append([]string(nil), pipeline...), path)
	}
	return []string{pipeline.String(), path}
}

// CountFileLines 按行迭代的行数：\n、\r、\r\n 都算一个行尾，末尾不完整的一行也算一行
func CountFileLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("打开文件失败: %w", err)
	}
	defer f.Close()

	n, err := countLines(f)
	if err != nil {
		return 0, fmt.Errorf("读取文件失败: %w", err)
	}
	return n, nil
}

func countLines(r io.Reader) (int, error) {
	buf := make([]byte, 32*1024)
	n := 0
	// pendingCR 上一个字节是 \r，紧随的 \n 属于同一个行尾（可能跨读块）
	pendingCR := false
	atLineStart := true
	for {
		c, err := r.Read(buf)
		for _, b := range buf[:c] {
			if pendingCR {
				pendingCR = false
				if b == '\n' {
					continue
				}
			}
			switch b {
			case '\r':
				pendingCR = true
				fallthrough
			case '\n':
				n++
				atLineStart = true
			default:
				atLineStart = false
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
	}
	if !atLineStart {
		n++
	}
	return n, nil
}
