package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	GenericPrintingFolder = "generic-printing"
	genericTmpFolder      = "tmp"
)

// 参考解释器要求块参数不以 %arg 命名
const (
	blockArgSigil      = "%arg"
	blockArgLegalSigil = "%99999"
)

var printGenericArgs = []string{"-mlir-print-op-generic"}

// GenericReport 通用格式打印 + 参考解释器执行的结果
type GenericReport struct {
	Converted int      `json:"converted"`
	Executed  []string `json:"executed"`
	Failed    []string `json:"failed"`
}

// GenericPrinter 生成程序，转换为通用格式后交给参考解释器执行
type GenericPrinter struct {
	generator   *Generator
	runner      ProcessRunner
	compiler    string
	interpreter string
	root        string
	count       int
	entryPoint  string
	logger      *slog.Logger
}

func NewGenericPrinter(generator *Generator, runner ProcessRunner, compiler, interpreter, root string, count int, entryPoint string, logger *slog.Logger) *GenericPrinter {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenericPrinter{
		generator:   generator,
		runner:      runner,
		compiler:    compiler,
		interpreter: interpreter,
		root:        root,
		count:       count,
		entryPoint:  entryPoint,
		logger:      logger,
	}
}

// LegalizeBlockArgs 把 %arg 替换为解释器可接受的名字
func LegalizeBlockArgs(ir string) string {
	return strings.ReplaceAll(ir, blockArgSigil, blockArgLegalSigil)
}

func (p *GenericPrinter) Run(ctx context.Context) (*GenericReport, error) {
	folder := filepath.Join(p.root, GenericPrintingFolder)
	tmp := filepath.Join(folder, genericTmpFolder)

	for _, bin := range []struct{ role, path string }{
		{"generator", p.generator.binary},
		{"compiler", p.compiler},
		{"interpreter", p.interpreter},
	} {
		if err := CheckBinary(bin.role, bin.path); err != nil {
			return nil, err
		}
	}

	if _, err := p.generator.Generate(ctx, tmp, p.count); err != nil {
		return nil, err
	}

	files, err := filepath.Glob(filepath.Join(tmp, "*.mlir"))
	if err != nil {
		return nil, fmt.Errorf("列出生成文件失败: %w", err)
	}
	sort.Strings(files)

	report := &GenericReport{Executed: []string{}, Failed: []string{}}
	for _, fn := range files {
		out := filepath.Join(folder, filepath.Base(fn))

		args := append(append([]string(nil), printGenericArgs...), fn)
		res, err := p.runner.Run(ctx, p.compiler, args...)
		if err != nil {
			return nil, fmt.Errorf("调用编译器失败: %w", err)
		}
		if err := os.WriteFile(out, []byte(LegalizeBlockArgs(res.Stdout)), 0o644); err != nil {
			return nil, fmt.Errorf("写入通用格式文件失败: %w", err)
		}
		report.Converted++
		p.logger.Debug("converted", "path", out)

		res, err = p.runner.Run(ctx, p.interpreter, "-f", out, "-m", p.entryPoint)
		if err != nil {
			return nil, fmt.Errorf("调用参考解释器失败: %w", err)
		}
		if res.ExitCode == 0 && !res.TimedOut {
			report.Executed = append(report.Executed, out)
		} else {
			report.Failed = append(report.Failed, out)
		}
	}

	p.logger.Info("generic printing finished",
		"converted", report.Converted,
		"executed", len(report.Executed),
	)
	return report, nil
}
