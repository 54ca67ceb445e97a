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
	gormLogger "gorm.io/gorm/logger"

	"github.com/stridelab/coach-backend/internal/db"
	"github.com/stridelab/coach-backend/internal/pkg/logger"
)

var (
	pgOnce sync.Once
	pgDB   *gorm.DB
	pgErr  error

	logOnce sync.Once
	logg    *logger.Logger
	logErr  error

	sqliteSeq atomic.Int64
)

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	logOnce.Do(func() {
		logg, logErr = logger.New("test")
	})
	if logErr != nil {
		tb.Fatalf("failed to init logger: %v", logErr)
	}
	return logg
}

// DB returns a migrated database handle. With TEST_POSTGRES_DSN set it is a
// shared Postgres connection (pair with Tx for isolation); otherwise each
// call opens a fresh in-memory SQLite database that lives for the test.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()

	if dsn := os.Getenv("TEST_POSTGRES_DSN"); dsn != "" {
		pgOnce.Do(func() {
			pgDB, pgErr = openPostgres(dsn)
		})
		if pgErr != nil {
			tb.Fatalf("failed to init test postgres: %v", pgErr)
		}
		return pgDB
	}

	name := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", sqliteSeq.Add(1))
	gdb, err := gorm.Open(sqlite.Open(name), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
		Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		tb.Fatalf("failed to open sqlite test db: %v", err)
	}
	if err := gdb.AutoMigrate(db.AllModels()...); err != nil {
		tb.Fatalf("failed to migrate sqlite test db: %v", err)
	}
	return gdb
}

// Tx begins a transaction that rolls back when the test finishes. Only
// meaningful against the shared Postgres handle; SQLite databases are
// per-test already, so tests may pass the DB handle straight through.
func Tx(tb testing.TB, gdb *gorm.DB) *gorm.DB {
	tb.Helper()
	tx := gdb.Begin()
	if tx.Error != nil {
		tb.Fatalf("begin tx: %v", tx.Error)
	}
	tb.Cleanup(func() {
		_ = tx.Rollback().Error
	})
	return tx
}

func openPostgres(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
		Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := gdb.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		return nil, err
	}
	if err := gdb.AutoMigrate(db.AllModels()...); err != nil {
		return nil, err
	}
	return gdb, nil
}
