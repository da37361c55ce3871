// Package db owns the GORM connection and schema migration, grounded on
// the teacher's internal/data/db/postgres.go: a thin service wrapping
// *gorm.DB, constructed from env-sourced DSN parts, with AutoMigrate
// standing in for a migration-file tool.
package db

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/boardflow/orchestrator/internal/config"
	"github.com/boardflow/orchestrator/internal/domain"
	"github.com/boardflow/orchestrator/internal/platform/logger"
)

type Service struct {
	db  *gorm.DB
	log *logger.Logger
}

// New opens either Postgres or sqlite depending on cfg.UseSQLite. sqlite is
// wired for local development and the test suite, where spinning up a real
// Postgres instance is unnecessary ceremony; production deployments use
// Postgres, matching the teacher's driver.
func New(cfg *config.Config, lg *logger.Logger) (*Service, error) {
	svcLog := lg.With("service", "db.Service")

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	gormCfg := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger: gormLog,
	}

	var (
		gdb *gorm.DB
		err error
	)
	if cfg.UseSQLite {
		gdb, err = gorm.Open(sqlite.Open(cfg.SQLiteDSN), gormCfg)
	} else {
		dsn := fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?sslmode=disable",
			cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresName,
		)
		gdb, err = gorm.Open(postgres.Open(dsn), gormCfg)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	svc := &Service{db: gdb, log: svcLog}
	if err := svc.migrate(); err != nil {
		return nil, err
	}
	return svc, nil
}

func (s *Service) migrate() error {
	s.log.Info("running automigrate")
	return s.db.AutoMigrate(
		&domain.Task{},
		&domain.Run{},
		&domain.StageExecution{},
		&domain.QueueEntry{},
		&domain.WebhookEvent{},
		&domain.ValidationRequest{},
		&domain.ValidationResponse{},
	)
}

func (s *Service) DB() *gorm.DB { return s.db }

func (s *Service) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
