package db

import (
	"context"
	"testing"

	"mlir-eval/internal/config"
	"mlir-eval/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func TestInitDB_DisabledWithoutHost(t *testing.T) {
	cfg := config.Default()
	ledger, err := InitDB(&cfg)
	require.NoError(t, err)
	assert.Nil(t, ledger)
	assert.False(t, ledger.Enabled())
}

func TestNilLedgerIsNoop(t *testing.T) {
	var ledger *Ledger
	ctx := context.Background()

	require.NoError(t, ledger.Record(ctx, &model.ExperimentRun{Experiment: "arith"}))
	runs, err := ledger.List(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

// 不连接真实 MySQL：DryRun 只生成 SQL
func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "user:pass@tcp(127.0.0.1:1)/mlir_eval?parseTime=True",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true})
	require.NoError(t, err)
	return gdb
}

func TestLedgerRecord_BuildsInsert(t *testing.T) {
	gdb := dryRunDB(t)
	run := &model.ExperimentRun{
		RunUUID:    "4f1c2d1e-0000-0000-0000-000000000000",
		Experiment: "linalg",
		BatchSize:  3,
		Generated:  3,
		Compiled:   2,
	}

	stmt := gdb.Session(&gorm.Session{DryRun: true}).Create(run).Statement
	assert.Contains(t, stmt.SQL.String(), "INSERT INTO `experiment_runs`")

	require.NoError(t, NewLedger(gdb).Record(context.Background(), run))
}
