package service

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"mlir-eval/internal/model"
)

// DefaultMarker 统计的算子名
const DefaultMarker = "linalg.generic"

// 报告中列出的示例文件数
const analysisExamples = 3

// AnalysisReport 标记子串在源文件中的出现情况
type AnalysisReport struct {
	BatchPath string `json:"batch_path,omitempty"`
	Marker    string `json:"marker"`

	Total    int `json:"total"`
	Analyzed int `json:"analyzed"`
	Compiled int `json:"compiled"`

	CompiledWithMarker int    `json:"compiled_with_marker"`
	FractionWithMarker Metric `json:"fraction_with_marker"`
	MeanAll            Metric `json:"mean_occurrences_all"`
	MeanCompiled       Metric `json:"mean_occurrences_compiled"`

	Examples     []string `json:"examples"`
	Skipped      int      `json:"skipped"`
	SkippedFiles []string `json:"skipped_files"`
}

type Analyzer struct {
	marker string
	logger *slog.Logger
}

func NewAnalyzer(marker string, logger *slog.Logger) *Analyzer {
	if marker == "" {
		marker = DefaultMarker
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{marker: marker, logger: logger}
}

// Analyze 读取结果文件后统计；格式错误为致命错误
func (a *Analyzer) Analyze(batchPath string) (*AnalysisReport, error) {
	batch, err := LoadBatch(batchPath)
	if err != nil {
		return nil, err
	}
	report, err := a.AnalyzeBatch(batch)
	if err != nil {
		return nil, err
	}
	report.BatchPath = batchPath
	return report, nil
}

// AnalyzeBatch 对 file 非空的记录读取源文件计数
//
// 文件已不存在（例如结果来自另一台机器）时跳过并计入 Skipped。
// 均值与比例只以成功读取的记录为分母，分母为 0 时为 NaN。
func (a *Analyzer) AnalyzeBatch(batch model.Batch) (*AnalysisReport, error) {
	report := &AnalysisReport{
		Marker:       a.marker,
		Total:        len(batch),
		Examples:     []string{},
		SkippedFiles: []string{},
	}

	sumAll, sumCompiled := 0, 0
	for _, r := range batch {
		if r.SourcePath == nil {
			continue
		}
		path := *r.SourcePath

		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			report.Skipped++
			report.SkippedFiles = append(report.SkippedFiles, path)
			a.logger.Warn("referenced file not found", "path", path)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("读取源文件失败: %w", err)
		}

		n := strings.Count(string(data), a.marker)
		report.Analyzed++
		sumAll += n

		if !r.Compiled {
			continue
		}
		report.Compiled++
		sumCompiled += n
		if n > 0 {
			report.CompiledWithMarker++
			if len(report.Examples) < analysisExamples {
				report.Examples = append(report.Examples, path)
			}
		}
	}

	report.FractionWithMarker = ratio(report.CompiledWithMarker, report.Compiled)
	report.MeanAll = ratio(sumAll, report.Analyzed)
	report.MeanCompiled = ratio(sumCompiled, report.Compiled)
	return report, nil
}

func ratio(num, den int) Metric {
	if den == 0 {
		return nan
	}
	return Metric(float64(num) / float64(den))
}
