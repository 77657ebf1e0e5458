package model

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnknownExperiment 实验标识不在注册表中
var ErrUnknownExperiment = errors.New("未知实验")

// Experiment 固定的实验枚举
type Experiment int

const (
	MlirSmith Experiment = iota
	Arith
	Linalg
	Tensor

	experimentCount
)

type experimentDef struct {
	name     string
	pipeline Pipeline
}

// 数组长度由 experimentCount 决定，新增枚举值必须同时补全此表（见 TestRegistryIsComplete）
var experimentTable = [experimentCount]experimentDef{
	MlirSmith: {
		name:     "mlirsmith",
		pipeline: Pipeline{"--canonicalize"},
	},
	// mlir/test/Integration/Dialect/Arith/CPU/test-wide-int-emulation-addi-i16.mlir
	Arith: {
		name: "arith",
		pipeline: Pipeline{
			"--convert-scf-to-cf",
			"--convert-cf-to-llvm",
			"--convert-vector-to-llvm",
			"--convert-func-to-llvm",
			"--convert-arith-to-llvm",
		},
	},
	// mlir/test/Integration/Dialect/Linalg/CPU/test-tensor-matmul.mlir
	Linalg: {
		name: "linalg",
		pipeline: Pipeline{
			"-linalg-bufferize",
			"-arith-bufferize",
			"-tensor-bufferize",
			"-func-bufferize",
			"-finalizing-bufferize",
			"-buffer-deallocation-pipeline",
			"-convert-bufferization-to-memref",
			"-convert-linalg-to-loops",
			"-convert-scf-to-cf",
			"-expand-strided-metadata",
			"-lower-affine",
			"-convert-arith-to-llvm",
			"-convert-scf-to-cf",
			"--finalize-memref-to-llvm",
			"-convert-func-to-llvm",
			"-reconcile-unrealized-casts",
		},
	},
	// mlir/test/Integration/Dialect/Linalg/CPU/test-tensor-e2e.mlir
	Tensor: {
		name: "tensor",
		pipeline: Pipeline{
			"-arith-bufferize",
			"-linalg-bufferize",
			"-tensor-bufferize",
			"-func-bufferize",
			"-finalizing-bufferize",
			"-buffer-deallocation-pipeline",
			"-convert-bufferization-to-memref",
			"-convert-linalg-to-loops",
			"-convert-arith-to-llvm",
			"-convert-scf-to-cf",
			"-convert-cf-to-llvm",
			"--finalize-memref-to-llvm",
			"-convert-func-to-llvm",
			"-reconcile-unrealized-casts",
		},
	},
}

// Pipeline 一次编译调用中按顺序应用的 pass 参数
type Pipeline []string

// String 以空格拼接，作为单个 argv 元素传给编译器
func (p Pipeline) String() string {
	return strings.Join(p, " ")
}

// Experiments 返回全部实验，按枚举顺序
func Experiments() []Experiment {
	out := make([]Experiment, 0, experimentCount)
	for e := Experiment(0); e < experimentCount; e++ {
		out = append(out, e)
	}
	return out
}

func (e Experiment) valid() bool {
	return e >= 0 && e < experimentCount
}

func (e Experiment) String() string {
	if !e.valid() {
		return fmt.Sprintf("Experiment(%d)", int(e))
	}
	return experimentTable[e].name
}

// Folder 实验的生成目录：<root>/<name>
func (e Experiment) Folder(root string) (string, error) {
	if !e.valid() {
		return "", fmt.Errorf("%w: %d", ErrUnknownExperiment, int(e))
	}
	return filepath.Join(root, experimentTable[e].name), nil
}

// Pipeline 实验的编译 pass 列表（返回副本）
func (e Experiment) Pipeline() (Pipeline, error) {
	if !e.valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownExperiment, int(e))
	}
	return append(Pipeline(nil), experimentTable[e].pipeline...), nil
}

// ParseExperiment 按名称查找实验，大小写不敏感
func ParseExperiment(name string) (Experiment, error) {
	for e := Experiment(0); e < experimentCount; e++ {
		if strings.EqualFold(experimentTable[e].name, strings.TrimSpace(name)) {
			return e, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownExperiment, name)
}

func (e Experiment) MarshalText() ([]byte, error) {
	if !e.valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownExperiment, int(e))
	}
	return []byte(e.String()), nil
}

func (e *Experiment) UnmarshalText(text []byte) error {
	parsed, err := ParseExperiment(string(text))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
