package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mlir-eval/internal/config"
	"mlir-eval/internal/db"
	"mlir-eval/internal/model"

	"github.com/google/uuid"
)

// ErrRunInProgress 同一实验已有运行在进行，两次运行会互相覆盖 <i>.mlir 与结果文件
var ErrRunInProgress = errors.New("实验正在运行")

type ExperimentRunRequest struct {
	Experiment model.Experiment `json:"experiment"`
	// 只评测已有文件，不重新生成
	SkipGeneration bool `json:"skip_generation"`
}

type ExperimentRunResult struct {
	RunID          string            `json:"run_id"`
	Experiment     model.Experiment  `json:"experiment"`
	BatchSize      int               `json:"batch_size"`
	Generation     *GenerationReport `json:"generation,omitempty"`
	Summary        Summary           `json:"summary"`
	ResultPath     string            `json:"result_path"`
	ElapsedSeconds float64           `json:"elapsed_seconds"`
	StartedAt      time.Time         `json:"started_at"`
	// 非致命错误（例如运行记录写入失败）
	Errors []string `json:"errors"`

	Batch model.Batch `json:"-"`
}

type ExperimentRunner struct {
	cfg       *config.Config
	generator *Generator
	evaluator *Evaluator
	ledger    *db.Ledger
	metrics   *Metrics
	logger    *slog.Logger

	mu       sync.Mutex
	inFlight map[model.Experiment]bool
}

func NewExperimentRunner(cfg *config.Config, generator *Generator, evaluator *Evaluator, ledger *db.Ledger, metrics *Metrics, logger *slog.Logger) *ExperimentRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExperimentRunner{
		cfg:       cfg,
		generator: generator,
		evaluator: evaluator,
		ledger:    ledger,
		metrics:   metrics,
		logger:    logger,
		inFlight:  make(map[model.Experiment]bool),
	}
}

// acquire 要么占用全部实验，要么一个都不占用
func (r *ExperimentRunner) acquire(exps ...model.Experiment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range exps {
		if r.inFlight[e] {
			return fmt.Errorf("%w: %s", ErrRunInProgress, e)
		}
	}
	for _, e := range exps {
		r.inFlight[e] = true
	}
	return nil
}

func (r *ExperimentRunner) release(exps ...model.Experiment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range exps {
		delete(r.inFlight, e)
	}
}

// Run 生成 -> 评测 -> 持久化 -> 汇总 -> 记录
//
// 外部程序缺失、磁盘写入失败、ctx 取消会直接返回错误；单个文件的失败只体现在记录里。
func (r *ExperimentRunner) Run(ctx context.Context, req ExperimentRunRequest) (*ExperimentRunResult, error) {
	e := req.Experiment
	dir, err := e.Folder(r.cfg.Generation.Root)
	if err != nil {
		return nil, err
	}
	resultPath, err := ResultsPath(r.cfg.Generation.Root, e)
	if err != nil {
		return nil, err
	}
	if err := r.acquire(e); err != nil {
		return nil, err
	}
	defer r.release(e)

	if err := EnsureLayout(r.cfg.Generation.Root); err != nil {
		return nil, err
	}
	if !req.SkipGeneration {
		if err := CheckBinary("generator", r.cfg.Binaries.Generator); err != nil {
			return nil, err
		}
	}
	if err := CheckBinary("compiler", r.cfg.Binaries.Compiler); err != nil {
		return nil, err
	}

	result := &ExperimentRunResult{
		RunID:      uuid.NewString(),
		Experiment: e,
		BatchSize:  r.cfg.Generation.BatchSize,
		ResultPath: resultPath,
		StartedAt:  time.Now(),
		Errors:     []string{},
	}
	log := r.logger.With("run_id", result.RunID, "experiment", e.String())
	log.Info("run started", "batch_size", result.BatchSize, "skip_generation", req.SkipGeneration)

	start := time.Now()
	if !req.SkipGeneration {
		gen, err := r.generator.Generate(ctx, dir, r.cfg.Generation.BatchSize)
		if err != nil {
			return nil, err
		}
		result.Generation = gen
	}

	batch, err := r.evaluator.Evaluate(ctx, e)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	if err := Persist(batch, resultPath); err != nil {
		return nil, err
	}

	result.Batch = batch
	result.Summary = Summarize(batch)
	result.ElapsedSeconds = elapsed.Seconds()
	r.metrics.observeRun(e, elapsed)

	run := &model.ExperimentRun{
		RunUUID:    result.RunID,
		Experiment: e.String(),
		BatchSize:  result.BatchSize,
		Generated:  result.Summary.Generated,
		Compiled:   result.Summary.Compiled,
		TimedOut:   result.Summary.TimedOut,
		DurationMS: elapsed.Milliseconds(),
		Workers:    r.cfg.Runner.Workers,
		Strict:     r.cfg.Runner.StrictGeneration,
		ResultPath: resultPath,
	}
	if err := r.ledger.Record(ctx, run); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("run=%s ledger failed: %v", result.RunID, err))
		log.Warn("ledger write failed", "error", err)
	}

	log.Info("run finished",
		"generated", result.Summary.Generated,
		"compiled", result.Summary.Compiled,
		"elapsed", elapsed,
	)
	return result, nil
}

// Generate 只生成单个实验
func (r *ExperimentRunner) Generate(ctx context.Context, e model.Experiment) (*GenerationReport, error) {
	dir, err := e.Folder(r.cfg.Generation.Root)
	if err != nil {
		return nil, err
	}
	if err := r.acquire(e); err != nil {
		return nil, err
	}
	defer r.release(e)

	if err := EnsureLayout(r.cfg.Generation.Root); err != nil {
		return nil, err
	}
	if err := CheckBinary("generator", r.cfg.Binaries.Generator); err != nil {
		return nil, err
	}
	return r.generator.Generate(ctx, dir, r.cfg.Generation.BatchSize)
}

// GenerateAll 为全部实验各生成 n 个文件
func (r *ExperimentRunner) GenerateAll(ctx context.Context, n int) ([]*GenerationReport, error) {
	all := model.Experiments()
	if err := r.acquire(all...); err != nil {
		return nil, err
	}
	defer r.release(all...)

	if err := EnsureLayout(r.cfg.Generation.Root); err != nil {
		return nil, err
	}
	if err := CheckBinary("generator", r.cfg.Binaries.Generator); err != nil {
		return nil, err
	}

	reports := make([]*GenerationReport, 0, len(model.Experiments()))
	for _, e := range model.Experiments() {
		dir, err := e.Folder(r.cfg.Generation.Root)
		if err != nil {
			return nil, err
		}
		rep, err := r.generator.Generate(ctx, dir, n)
		if err != nil {
			return reports, err
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

// LoadResults 读取实验最近一次持久化的 Batch
func (r *ExperimentRunner) LoadResults(e model.Experiment) (model.Batch, string, error) {
	path, err := ResultsPath(r.cfg.Generation.Root, e)
	if err != nil {
		return nil, "", err
	}
	batch, err := LoadBatch(path)
	if err != nil {
		return nil, path, err
	}
	return batch, path, nil
}

// History 运行记录，未启用数据库时为空
func (r *ExperimentRunner) History(ctx context.Context, e string, limit int) ([]model.ExperimentRun, error) {
	return r.ledger.List(ctx, e, limit)
}
