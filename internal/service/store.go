package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"mlir-eval/internal/model"
)

// ResultsFileName 每个实验目录下的结果文件
const ResultsFileName = "_results.json"

// ErrMalformedBatch 结果文件与记录格式不符
var ErrMalformedBatch = errors.New("结果文件格式错误")

// ResultsPath <root>/<experiment>/_results.json
func ResultsPath(root string, e model.Experiment) (string, error) {
	dir, err := e.Folder(root)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ResultsFileName), nil
}

// EnsureLayout 幂等地创建根目录及全部实验目录
func EnsureLayout(root string) error {
	for _, e := range model.Experiments() {
		dir, err := e.Folder(root)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("创建实验目录失败: %w", err)
		}
	}
	return nil
}

// Persist 把整个 Batch 写成 JSON 数组，覆盖旧文件
//
// 先写临时文件再 rename，中断时旧结果保持完整。
func Persist(batch model.Batch, path string) error {
	if batch == nil {
		batch = model.Batch{}
	}
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("序列化结果失败: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".results-*.json")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("写入结果失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("写入结果失败: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("写入结果失败: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("替换结果文件失败: %w", err)
	}
	return nil
}

// 用指针区分字段缺失与零值
type persistedRecord struct {
	Generated   *bool   `json:"successfully_generated"`
	Length      *int    `json:"file_length"`
	Compiled    *bool   `json:"successfully_compiled"`
	SourcePath  *string `json:"file"`
	Diagnostics *string `json:"compiler_errors"`
	TimedOut    bool    `json:"timed_out"`
}

// LoadBatch 读取结果文件；每个元素必须包含 successfully_compiled 与 file 字段
func LoadBatch(path string) (model.Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取结果文件失败: %w", err)
	}
	return DecodeBatch(data)
}

func DecodeBatch(data []byte) (model.Batch, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: 顶层必须是记录数组: %v", ErrMalformedBatch, err)
	}

	batch := model.NewBatch(len(raw))
	for i, elem := range raw {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(elem, &fields); err != nil {
			return nil, fmt.Errorf("%w: 第 %d 条记录不是对象: %v", ErrMalformedBatch, i, err)
		}
		for _, key := range []string{"successfully_compiled", "file"} {
			if _, ok := fields[key]; !ok {
				return nil, fmt.Errorf("%w: 第 %d 条记录缺少字段 %q", ErrMalformedBatch, i, key)
			}
		}

		var pr persistedRecord
		if err := json.Unmarshal(elem, &pr); err != nil {
			return nil, fmt.Errorf("%w: 第 %d 条记录: %v", ErrMalformedBatch, i, err)
		}
		if pr.Compiled == nil {
			return nil, fmt.Errorf("%w: 第 %d 条记录 successfully_compiled 为 null", ErrMalformedBatch, i)
		}

		rec := model.OutcomeRecord{
			Compiled:    *pr.Compiled,
			SourcePath:  pr.SourcePath,
			Diagnostics: pr.Diagnostics,
			TimedOut:    pr.TimedOut,
		}
		if pr.Generated != nil {
			rec.Generated = *pr.Generated
		} else {
			rec.Generated = pr.SourcePath != nil
		}
		if pr.Length != nil {
			rec.Length = *pr.Length
		}
		batch[i] = rec
	}
	return batch, nil
}
