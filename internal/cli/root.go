// Package cli mlir-eval 命令行入口
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"mlir-eval/internal/config"
	"mlir-eval/internal/db"
	"mlir-eval/internal/model"
	"mlir-eval/internal/service"

	"github.com/spf13/cobra"
)

// app 各子命令共享的状态，在 PersistentPreRunE 中初始化
type app struct {
	configPath string
	experiment string
	verbose    bool

	cfg    *config.Config
	logger *slog.Logger
}

// NewRootCommand 构建完整命令树
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "mlir-eval",
		Short: "Generate random MLIR programs and measure how many compile",
		Long: `mlir-eval drives a random MLIR program generator and the mlir-opt
compiler over a batch of programs, records per-file outcomes in
<root>/<experiment>/_results.json and reports summary statistics.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "config/config.yaml", "config file (missing file falls back to defaults)")
	root.PersistentFlags().StringVarP(&a.experiment, "experiment", "e", "", "experiment name: mlirsmith, arith, linalg or tensor")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		a.runCommand(),
		a.generateCommand(),
		a.evaluateCommand(),
		a.summarizeCommand(),
		a.analyzeCommand(),
		a.compareCommand(),
		a.genericCommand(),
		a.serveCommand(),
		a.experimentsCommand(),
	)
	return root
}

// Execute 供 main 调用
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

func (a *app) init(cmd *cobra.Command) error {
	level := slog.LevelInfo
	if a.verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(a.logger)

	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}
	if a.experiment != "" {
		cfg.Generation.Experiment = a.experiment
	}
	a.cfg = cfg
	a.logger.Debug("config loaded",
		"path", a.configPath,
		"root", cfg.Generation.Root,
		"experiment", cfg.Generation.Experiment,
	)
	return nil
}

// selectedExperiment --experiment 优先，否则取配置
func (a *app) selectedExperiment() (model.Experiment, error) {
	return model.ParseExperiment(a.cfg.Generation.Experiment)
}

// services 按需连接数据库
func (a *app) services(withLedger bool) (*service.ServiceContext, error) {
	var ledger *db.Ledger
	if withLedger {
		l, err := db.InitDB(a.cfg)
		if err != nil {
			return nil, fmt.Errorf("初始化数据库失败: %w", err)
		}
		ledger = l
	}
	return service.NewServiceContext(a.cfg, ledger, a.logger), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeReport(path, content string) error {
	if path == "" {
		return nil
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("写入报告失败: %w", err)
	}
	return nil
}
