package service

import (
	"fmt"
	"strings"
	"time"
)

func formatMetric(m Metric, prec int) string {
	if !m.Defined() {
		return "NaN"
	}
	return fmt.Sprintf("%.*f", prec, float64(m))
}

func writeSummaryTables(b *strings.Builder, s Summary) {
	b.WriteString("| total | generated | compiled | timed_out | compile_rate | CI95 |\n")
	b.WriteString("| ---: | ---: | ---: | ---: | ---: | --- |\n")
	b.WriteString(fmt.Sprintf("| %d | %d | %d | %d | %s | [%s, %s] |\n\n",
		s.Total, s.Generated, s.Compiled, s.TimedOut,
		formatMetric(s.CompileRate, 3), formatMetric(s.CI95Low, 3), formatMetric(s.CI95High, 3)))

	b.WriteString("| field | count | mean | std | min | 25% | 50% | 75% | max |\n")
	b.WriteString("| --- | ---: | ---: | ---: | ---: | ---: | ---: | ---: | ---: |\n")
	for _, name := range SummaryFieldNames() {
		f, ok := s.Fields[name]
		if !ok {
			continue
		}
		b.WriteString(fmt.Sprintf("| %s | %d | %s | %s | %s | %s | %s | %s | %s |\n",
			name, f.Count,
			formatMetric(f.Mean, 3), formatMetric(f.Std, 3),
			formatMetric(f.Min, 2), formatMetric(f.P25, 2), formatMetric(f.P50, 2),
			formatMetric(f.P75, 2), formatMetric(f.Max, 2)))
	}
	b.WriteString("\n")
}

// RenderRunMarkdown 一次运行的报告
func RenderRunMarkdown(result *ExperimentRunResult) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("# %s results\n\n", result.Experiment))
	b.WriteString(fmt.Sprintf("- run_id: %s\n", result.RunID))
	b.WriteString(fmt.Sprintf("- batch_size: %d\n", result.BatchSize))
	b.WriteString(fmt.Sprintf("- started_at: %s\n", result.StartedAt.Format(time.RFC3339)))
	b.WriteString(fmt.Sprintf("- result_path: %s\n", result.ResultPath))
	b.WriteString(fmt.Sprintf("- time elapsed: %.2fs\n\n", result.ElapsedSeconds))

	if g := result.Generation; g != nil {
		b.WriteString("## Generation\n\n")
		b.WriteString(fmt.Sprintf("- written: %d/%d\n", g.Written, g.Count))
		b.WriteString(fmt.Sprintf("- non-zero exit: %d\n", g.NonZeroExit))
		b.WriteString(fmt.Sprintf("- timed out: %d\n", g.TimedOut))
		b.WriteString(fmt.Sprintf("- dropped: %d\n\n", g.Dropped))
	}

	b.WriteString("## Summary\n\n")
	writeSummaryTables(&b, result.Summary)

	if len(result.Errors) > 0 {
		b.WriteString("## Errors\n\n")
		for _, e := range result.Errors {
			b.WriteString(fmt.Sprintf("- %s\n", e))
		}
	}
	return b.String()
}

// RenderSummaryMarkdown 只有汇总统计（来自已持久化的结果）
func RenderSummaryMarkdown(title string, s Summary) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("# %s\n\n", title))
	writeSummaryTables(&b, s)
	return b.String()
}

func RenderAnalysisMarkdown(r *AnalysisReport) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("# '%s' occurrences\n\n", r.Marker))
	if r.BatchPath != "" {
		b.WriteString(fmt.Sprintf("- batch: %s\n", r.BatchPath))
	}
	b.WriteString(fmt.Sprintf("- %d/%d of compiled files have '%s' operation (%s)\n",
		r.CompiledWithMarker, r.Compiled, r.Marker, formatMetric(r.FractionWithMarker, 3)))
	b.WriteString(fmt.Sprintf("- average number of '%s' operations in all files: %s\n", r.Marker, formatMetric(r.MeanAll, 2)))
	b.WriteString(fmt.Sprintf("- average number of '%s' operations in compiled files: %s\n", r.Marker, formatMetric(r.MeanCompiled, 2)))

	if len(r.Examples) > 0 {
		b.WriteString(fmt.Sprintf("\nfor instance (first %d):\n\n", len(r.Examples)))
		for _, e := range r.Examples {
			b.WriteString(fmt.Sprintf("- %s\n", e))
		}
	}
	if r.Skipped > 0 {
		b.WriteString(fmt.Sprintf("\nskipped %d missing file(s):\n\n", r.Skipped))
		max := len(r.SkippedFiles)
		if max > 20 {
			max = 20
		}
		for _, f := range r.SkippedFiles[:max] {
			b.WriteString(fmt.Sprintf("- %s\n", f))
		}
		if len(r.SkippedFiles) > max {
			b.WriteString(fmt.Sprintf("- ...(%d more)\n", len(r.SkippedFiles)-max))
		}
	}
	return b.String()
}

func RenderComparisonMarkdown(c Comparison) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("# %s vs %s\n\n", c.A, c.B))
	b.WriteString("| batch | total | compiled | compile_rate |\n")
	b.WriteString("| --- | ---: | ---: | ---: |\n")
	b.WriteString(fmt.Sprintf("| %s | %d | %d | %s |\n", c.A, c.ASum.Total, c.ASum.Compiled, formatMetric(c.ARate, 3)))
	b.WriteString(fmt.Sprintf("| %s | %d | %d | %s |\n\n", c.B, c.BSum.Total, c.BSum.Compiled, formatMetric(c.BRate, 3)))
	b.WriteString(fmt.Sprintf("- z: %.3f\n- p_value: %.4f\n", c.Z, c.PValue))
	return b.String()
}

func RenderGenericMarkdown(r *GenericReport) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("successfully executed: %d/%d\n", len(r.Executed), r.Converted))
	for _, f := range r.Executed {
		b.WriteString(fmt.Sprintf("- %s\n", f))
	}
	return b.String()
}
