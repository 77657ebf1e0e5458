package model

// OutcomeRecord 单个索引的生成/编译结果，创建后不可变
//
// JSON 字段名与历史结果文件保持一致，下游脚本依赖这些名字。
type OutcomeRecord struct {
	Generated   bool    `json:"successfully_generated"`
	Length      int     `json:"file_length"`
	Compiled    bool    `json:"successfully_compiled"`
	SourcePath  *string `json:"file"`
	Diagnostics *string `json:"compiler_errors"`
	// 编译器因超时被终止（此时 Compiled 为 false）
	TimedOut bool `json:"timed_out,omitempty"`
}

// MissingRecord 源文件不存在时的记录
func MissingRecord() OutcomeRecord {
	return OutcomeRecord{}
}

// CompiledRecord 源文件存在时的记录
func CompiledRecord(path string, length int, compiled bool, diagnostics string, timedOut bool) OutcomeRecord {
	return OutcomeRecord{
		Generated:   true,
		Length:      length,
		Compiled:    compiled && !timedOut,
		SourcePath:  &path,
		Diagnostics: &diagnostics,
		TimedOut:    timedOut,
	}
}

// Batch 一次实验的全部记录，位置即索引
type Batch []OutcomeRecord

// NewBatch 预分配 n 个位置，只能按索引赋值
func NewBatch(n int) Batch {
	return make(Batch, n)
}

func (b Batch) GeneratedCount() int {
	n := 0
	for _, r := range b {
		if r.Generated {
			n++
		}
	}
	return n
}

func (b Batch) CompiledCount() int {
	n := 0
	for _, r := range b {
		if r.Compiled {
			n++
		}
	}
	return n
}

func (b Batch) TimedOutCount() int {
	n := 0
	for _, r := range b {
		if r.TimedOut {
			n++
		}
	}
	return n
}
