// Package testutil provides repo-test fixtures, adapted from the teacher's
// data/repos/testutil package. Unlike the teacher, which requires a real
// Postgres reachable at TEST_POSTGRES_DSN and skips otherwise, this module
// also wires gorm.io/driver/sqlite for migrations, so repo tests run
// in-memory with no external dependency by default; set TEST_POSTGRES_DSN
// to exercise the Postgres-specific locking clauses instead.
package testutil

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/boardflow/orchestrator/internal/domain"
	"github.com/boardflow/orchestrator/internal/platform/logger"
)

var (
	logOnce sync.Once
	logg    *logger.Logger
	logErr  error

	dbCounter int64
)

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	logOnce.Do(func() {
		logg, logErr = logger.New("test")
	})
	if logErr != nil {
		tb.Fatalf("init logger: %v", logErr)
	}
	return logg
}

// DB opens a fresh database per call: sqlite in-memory by default, or
// Postgres if TEST_POSTGRES_DSN is set (needed to exercise SKIP LOCKED,
// which sqlite does not support).
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()

	var (
		gdb *gorm.DB
		err error
	)
	if dsn := os.Getenv("TEST_POSTGRES_DSN"); dsn != "" {
		gdb, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			DisableForeignKeyConstraintWhenMigrating: true,
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
	} else {
		id := atomic.AddInt64(&dbCounter, 1)
		dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", id)
		gdb, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{
			DisableForeignKeyConstraintWhenMigrating: true,
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
	}
	if err != nil {
		tb.Fatalf("open test db: %v", err)
	}
	if err := autoMigrateAll(gdb); err != nil {
		tb.Fatalf("automigrate: %v", err)
	}
	return gdb
}

// RequiresPostgres skips the calling test unless TEST_POSTGRES_DSN is set.
// SQLite has no FOR UPDATE SKIP LOCKED support, so claim-query tests that
// exercise that clause need a real Postgres instance.
func RequiresPostgres(tb testing.TB) {
	tb.Helper()
	if os.Getenv("TEST_POSTGRES_DSN") == "" {
		tb.Skip("set TEST_POSTGRES_DSN to run SKIP LOCKED claim tests")
	}
}

func autoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Task{},
		&domain.Run{},
		&domain.StageExecution{},
		&domain.QueueEntry{},
		&domain.WebhookEvent{},
		&domain.ValidationRequest{},
		&domain.ValidationResponse{},
	)
}
