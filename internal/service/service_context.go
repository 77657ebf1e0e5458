package service

import (
	"log/slog"
	"path/filepath"
	"strings"

	"mlir-eval/internal/config"
	"mlir-eval/internal/db"
)

type ServiceContext struct {
	Config   *config.Config
	Runner   *ExperimentRunner
	Analyzer *Analyzer
	Generic  *GenericPrinter
	Metrics  *Metrics
}

// NewServiceContext 用真实进程执行器组装全部服务
func NewServiceContext(cfg *config.Config, ledger *db.Ledger, logger *slog.Logger) *ServiceContext {
	return NewServiceContextWithRunner(cfg, NewExecRunner(cfg.Runner.Timeout), ledger, logger)
}

// NewServiceContextWithRunner 供测试注入 ProcessRunner
func NewServiceContextWithRunner(cfg *config.Config, proc ProcessRunner, ledger *db.Ledger, logger *slog.Logger) *ServiceContext {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := NewMetrics("mlireval")

	generatorBin := absBinary(cfg.Binaries.Generator)
	compilerBin := absBinary(cfg.Binaries.Compiler)

	generator := NewGenerator(generatorBin, proc, cfg.Runner.StrictGeneration, metrics, logger)
	evaluator := NewEvaluator(proc, EvaluatorOptions{
		Root:       cfg.Generation.Root,
		BatchSize:  cfg.Generation.BatchSize,
		Compiler:   compilerBin,
		Workers:    cfg.Runner.Workers,
		SplitFlags: cfg.Runner.SplitPipelineFlags,
		Metrics:    metrics,
		Logger:     logger,
	})

	return &ServiceContext{
		Config:   cfg,
		Runner:   NewExperimentRunner(cfg, generator, evaluator, ledger, metrics, logger),
		Analyzer: NewAnalyzer(cfg.Analysis.Marker, logger),
		Generic: NewGenericPrinter(
			generator,
			proc,
			compilerBin,
			absBinary(cfg.Binaries.Interpreter),
			cfg.Generation.Root,
			cfg.Generic.BatchSize,
			cfg.Generic.EntryPoint,
			logger,
		),
		Metrics: metrics,
	}
}

// 带路径分隔符的相对路径转成绝对路径，裸命令名留给 PATH 查找
func absBinary(path string) string {
	if path == "" || !strings.ContainsRune(path, filepath.Separator) {
		return path
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
