package db

import (
	"context"
	"fmt"
	"log/slog"

	"mlir-eval/internal/config"
	"mlir-eval/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// Ledger 实验运行记录表（可选）。nil Ledger 上的所有操作都是空操作。
type Ledger struct {
	db *gorm.DB
}

// InitDB 连接数据库并迁移表结构；未配置数据库时返回 nil, nil
func InitDB(cfg *config.Config) (*Ledger, error) {
	if !cfg.Database.Enabled() {
		return nil, nil
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=Local",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.DBName,
		cfg.Database.Charset,
	)

	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	if err := gdb.AutoMigrate(&model.ExperimentRun{}); err != nil {
		return nil, fmt.Errorf("数据库迁移失败: %w", err)
	}

	slog.Info("数据库初始化成功", "host", cfg.Database.Host, "db", cfg.Database.DBName)
	return NewLedger(gdb), nil
}

func NewLedger(gdb *gorm.DB) *Ledger {
	return &Ledger{db: gdb}
}

// Record 写入一次运行
func (l *Ledger) Record(ctx context.Context, run *model.ExperimentRun) error {
	if l == nil {
		return nil
	}
	if err := l.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("写入运行记录失败: %w", err)
	}
	return nil
}

// List 按时间倒序列出运行记录；experiment 为空时不过滤
func (l *Ledger) List(ctx context.Context, experiment string, limit int) ([]model.ExperimentRun, error) {
	if l == nil {
		return []model.ExperimentRun{}, nil
	}

	query := l.db.WithContext(ctx).Order("created_at DESC")
	if experiment != "" {
		query = query.Where("experiment = ?", experiment)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var runs []model.ExperimentRun
	if err := query.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("查询运行记录失败: %w", err)
	}
	return runs, nil
}

// Enabled 是否连接了数据库
func (l *Ledger) Enabled() bool {
	return l != nil
}
