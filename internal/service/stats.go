package service

import (
	"encoding/json"
	"math"
	"sort"

	"mlir-eval/internal/model"
)

// Metric 浮点统计量；NaN/Inf 在 JSON 中输出为 null
type Metric float64

func (m Metric) MarshalJSON() ([]byte, error) {
	f := float64(m)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(f)
}

func (m *Metric) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = Metric(math.NaN())
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*m = Metric(f)
	return nil
}

func (m Metric) Defined() bool {
	f := float64(m)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

var nan = Metric(math.NaN())

// FieldStats 单个字段的描述统计，键名沿用 describe 表格的列名
type FieldStats struct {
	Count int    `json:"count"`
	Mean  Metric `json:"mean"`
	Std   Metric `json:"std"`
	Min   Metric `json:"min"`
	P25   Metric `json:"25%"`
	P50   Metric `json:"50%"`
	P75   Metric `json:"75%"`
	Max   Metric `json:"max"`
}

// Summary 一个 Batch 的汇总统计，按需计算不持久化
type Summary struct {
	Total     int `json:"total"`
	Generated int `json:"generated"`
	Compiled  int `json:"compiled"`
	TimedOut  int `json:"timed_out"`

	CompileRate Metric `json:"compile_rate"`
	CI95Low     Metric `json:"compile_rate_ci95_low"`
	CI95High    Metric `json:"compile_rate_ci95_high"`

	Fields map[string]FieldStats `json:"fields"`
}

// 参与描述统计的字段，布尔值按 0/1 计
var summaryFields = []struct {
	name  string
	value func(model.OutcomeRecord) float64
}{
	{"successfully_generated", func(r model.OutcomeRecord) float64 { return boolToFloat(r.Generated) }},
	{"file_length", func(r model.OutcomeRecord) float64 { return float64(r.Length) }},
	{"successfully_compiled", func(r model.OutcomeRecord) float64 { return boolToFloat(r.Compiled) }},
}

// SummaryFieldNames 描述统计的字段顺序
func SummaryFieldNames() []string {
	names := make([]string, 0, len(summaryFields))
	for _, f := range summaryFields {
		names = append(names, f.name)
	}
	return names
}

// Summarize 计算计数、编译率及各字段描述统计
func Summarize(batch model.Batch) Summary {
	s := Summary{
		Total:       len(batch),
		Generated:   batch.GeneratedCount(),
		Compiled:    batch.CompiledCount(),
		TimedOut:    batch.TimedOutCount(),
		CompileRate: nan,
		CI95Low:     nan,
		CI95High:    nan,
		Fields:      make(map[string]FieldStats, len(summaryFields)),
	}

	if s.Total > 0 {
		s.CompileRate = Metric(float64(s.Compiled) / float64(s.Total))
		low, high := wilsonCI(s.Compiled, s.Total, 1.96)
		s.CI95Low, s.CI95High = Metric(low), Metric(high)
	}

	for _, f := range summaryFields {
		values := make([]float64, len(batch))
		for i, r := range batch {
			values[i] = f.value(r)
		}
		s.Fields[f.name] = Describe(values)
	}
	return s
}

// Describe 样本标准差（n-1），分位数线性插值
func Describe(values []float64) FieldStats {
	fs := FieldStats{
		Count: len(values),
		Mean:  nan, Std: nan, Min: nan, P25: nan, P50: nan, P75: nan, Max: nan,
	}
	n := len(values)
	if n == 0 {
		return fs
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(n)
	fs.Mean = Metric(mean)

	if n > 1 {
		ss := 0.0
		for _, v := range sorted {
			ss += (v - mean) * (v - mean)
		}
		fs.Std = Metric(math.Sqrt(ss / float64(n-1)))
	}

	fs.Min = Metric(sorted[0])
	fs.Max = Metric(sorted[n-1])
	fs.P25 = Metric(quantile(sorted, 0.25))
	fs.P50 = Metric(quantile(sorted, 0.50))
	fs.P75 = Metric(quantile(sorted, 0.75))
	return fs
}

// sorted 必须已升序
func quantile(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// Comparison 两个 Batch 编译率的双比例 z 检验
type Comparison struct {
	A      string  `json:"a"`
	B      string  `json:"b"`
	ARate  Metric  `json:"a_compile_rate"`
	BRate  Metric  `json:"b_compile_rate"`
	Z      float64 `json:"z"`
	PValue float64 `json:"p_value"`
	ASum   Summary `json:"a_summary"`
	BSum   Summary `json:"b_summary"`
}

// CompareBatches z > 0 表示 b 的编译率更高
func CompareBatches(aName string, a model.Batch, bName string, b model.Batch) Comparison {
	sa, sb := Summarize(a), Summarize(b)
	p, z := twoPropZTest(sa.Compiled, sa.Total, sb.Compiled, sb.Total)
	return Comparison{
		A:      aName,
		B:      bName,
		ARate:  sa.CompileRate,
		BRate:  sb.CompileRate,
		Z:      z,
		PValue: p,
		ASum:   sa,
		BSum:   sb,
	}
}

// Wilson score interval for proportion
func wilsonCI(k int, n int, z float64) (float64, float64) {
	if n == 0 {
		return 0, 0
	}
	p := float64(k) / float64(n)
	zz := z * z
	den := 1 + zz/float64(n)
	center := (p + zz/(2*float64(n))) / den
	half := (z / den) * math.Sqrt((p*(1-p)+zz/(4*float64(n)))/float64(n))
	low := math.Max(0, center-half)
	high := math.Min(1, center+half)
	return low, high
}

// two-proportion z-test (two-sided)
func twoPropZTest(x1, n1, x2, n2 int) (pValue float64, z float64) {
	if n1 == 0 || n2 == 0 {
		return 1, 0
	}
	p1 := float64(x1) / float64(n1)
	p2 := float64(x2) / float64(n2)
	p := float64(x1+x2) / float64(n1+n2)
	se := math.Sqrt(p * (1 - p) * (1/float64(n1) + 1/float64(n2)))
	if se == 0 {
		return 1, 0
	}
	z = (p2 - p1) / se
	pValue = 2 * (1 - normCDF(math.Abs(z)))
	return pValue, z
}

// standard normal CDF approximation via erf
func normCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
