package model

import (
	"time"

	"gorm.io/gorm"
)

// ExperimentRun 每次实验执行的元数据（结果本身仍以 _results.json 为准）
type ExperimentRun struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	RunUUID    string `gorm:"type:char(36);uniqueIndex" json:"run_uuid"`
	Experiment string `gorm:"type:varchar(32);not null;index" json:"experiment"`
	BatchSize  int    `json:"batch_size"`
	Generated  int    `json:"generated"`
	Compiled   int    `json:"compiled"`
	TimedOut   int    `json:"timed_out"`
	DurationMS int64  `json:"duration_ms"`
	Workers    int    `json:"workers"`
	Strict     bool   `json:"strict_generation"`
	ResultPath string `gorm:"type:varchar(500)" json:"result_path"`
}
