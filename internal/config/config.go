// Package config 评测工具配置
//
// 加载顺序：
//  1. 可选的 .env（godotenv，不覆盖已有环境变量；格式错误直接报错）
//  2. YAML 配置文件（文件不存在时使用默认值）
//  3. MLIREVAL_* 环境变量覆盖
//  4. 填充默认值并校验
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Generation GenerationConfig `yaml:"generation"`
	Binaries   BinariesConfig   `yaml:"binaries"`
	Runner     RunnerConfig     `yaml:"runner"`
	Analysis   AnalysisConfig   `yaml:"analysis"`
	Generic    GenericConfig    `yaml:"generic"`
	Database   DatabaseConfig   `yaml:"database"`
	Server     ServerConfig     `yaml:"server"`
}

type GenerationConfig struct {
	// 生成根目录，每个实验一个子目录
	Root       string `yaml:"root" validate:"required"`
	BatchSize  int    `yaml:"batch_size" validate:"gt=0"`
	Experiment string `yaml:"experiment" validate:"required,oneof=mlirsmith arith linalg tensor"`
}

type BinariesConfig struct {
	Generator   string `yaml:"generator" validate:"required"`
	Compiler    string `yaml:"compiler" validate:"required"`
	Interpreter string `yaml:"interpreter"`
}

type RunnerConfig struct {
	// 单次外部进程调用超时，0 表示不限制
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
	Workers int           `yaml:"workers" validate:"gte=1"`
	// 生成器非零退出码视为生成失败（不落盘）
	StrictGeneration bool `yaml:"strict_generation"`
	// 将 pipeline 拆成多个 argv 元素；默认整体作为一个参数传入
	SplitPipelineFlags bool `yaml:"split_pipeline_flags"`
}

type AnalysisConfig struct {
	Marker string `yaml:"marker" validate:"required"`
}

type GenericConfig struct {
	BatchSize  int    `yaml:"batch_size" validate:"gt=0"`
	EntryPoint string `yaml:"entry_point" validate:"required"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	Charset  string `yaml:"charset"`
}

// Enabled 未配置 host 时不启用运行记录
func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

type ServerConfig struct {
	Port int `yaml:"port" validate:"gt=0,lte=65535"`
}

// Default 默认配置，二进制路径假定从构建目录的同级目录运行
func Default() Config {
	return Config{
		Generation: GenerationConfig{
			Root:       "./generated",
			BatchSize:  100,
			Experiment: "mlirsmith",
		},
		Binaries: BinariesConfig{
			Generator: "../build/bin/mlirsmith",
			Compiler:  "../build/bin/mlir-opt",
		},
		Runner: RunnerConfig{
			Timeout: 60 * time.Second,
			Workers: 1,
		},
		Analysis: AnalysisConfig{Marker: "linalg.generic"},
		Generic: GenericConfig{
			BatchSize:  100,
			EntryPoint: "func1",
		},
		Database: DatabaseConfig{
			Port:    3306,
			Charset: "utf8mb4",
		},
		Server: ServerConfig{Port: 8080},
	}
}

var validate = validator.New()

// LoadConfig 读取配置；path 为空或文件不存在时只使用默认值与环境变量
func LoadConfig(path string) (*Config, error) {
	// .env 可以不存在，但存在时必须能解析
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("加载 .env 失败: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("解析配置文件失败: %w", err)
			}
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验配置字段
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Generation.Root, "MLIREVAL_GENERATION_ROOT")
	setString(&cfg.Generation.Experiment, "MLIREVAL_EXPERIMENT")
	setString(&cfg.Binaries.Generator, "MLIREVAL_GENERATOR")
	setString(&cfg.Binaries.Compiler, "MLIREVAL_COMPILER")
	setString(&cfg.Binaries.Interpreter, "MLIREVAL_INTERPRETER")
	setString(&cfg.Analysis.Marker, "MLIREVAL_MARKER")
	setString(&cfg.Database.Host, "MLIREVAL_DB_HOST")
	setString(&cfg.Database.User, "MLIREVAL_DB_USER")
	setString(&cfg.Database.Password, "MLIREVAL_DB_PASSWORD")
	setString(&cfg.Database.DBName, "MLIREVAL_DB_NAME")

	if err := setInt(&cfg.Generation.BatchSize, "MLIREVAL_BATCH_SIZE"); err != nil {
		return err
	}
	if err := setInt(&cfg.Runner.Workers, "MLIREVAL_WORKERS"); err != nil {
		return err
	}
	if err := setInt(&cfg.Server.Port, "MLIREVAL_PORT"); err != nil {
		return err
	}
	if v := os.Getenv("MLIREVAL_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("解析 MLIREVAL_TIMEOUT 失败: %w", err)
		}
		cfg.Runner.Timeout = d
	}
	if v := os.Getenv("MLIREVAL_STRICT_GENERATION"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("解析 MLIREVAL_STRICT_GENERATION 失败: %w", err)
		}
		cfg.Runner.StrictGeneration = b
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("解析 %s 失败: %w", key, err)
	}
	*dst = n
	return nil
}
