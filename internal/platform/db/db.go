package db

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	types "github.com/liftline/liftline-backend/internal/domain"
	"github.com/liftline/liftline-backend/internal/pkg/envutil"
	"github.com/liftline/liftline-backend/internal/pkg/logger"
)

type Service struct {
	db  *gorm.DB
	log *logger.Logger
}

func New(log *logger.Logger) (*Service, error) {
	serviceLog := log.With("service", "DBService")

	driver := strings.ToLower(envutil.String("DATABASE_DRIVER", "postgres"))

	var (
		gdb *gorm.DB
		err error
	)
	switch driver {
	case "sqlite":
		path := envutil.String("SQLITE_PATH", "liftline.db")
		serviceLog.Info("Connecting to sqlite...", "path", path)
		gdb, err = gorm.Open(sqlite.Open(path), &gorm.Config{})
	default:
		host := envutil.String("POSTGRES_HOST", "localhost")
		port := envutil.String("POSTGRES_PORT", "5432")
		user := envutil.String("POSTGRES_USER", "postgres")
		password := envutil.String("POSTGRES_PASSWORD", "")
		name := envutil.String("POSTGRES_NAME", "liftline")
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, name)

		serviceLog.Info("Connecting to Postgres...")
		gdb, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			DisableForeignKeyConstraintWhenMigrating: true,
		})
	}
	if err != nil {
		serviceLog.Error("Failed to connect to database", "driver", driver, "error", err)
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}

	// IDs and timestamps are set in Go, not by database defaults, so the
	// schema works unchanged on both dialects.
	return &Service{db: gdb, log: serviceLog}, nil
}

func (s *Service) AutoMigrateAll() error {
	s.log.Info("Auto migrating tables...")
	err := s.db.AutoMigrate(
		&types.User{},
		&types.Event{},
		&types.BackgroundJob{},
		&types.Projection{},
	)
	if err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	// Partial unique index backing the conditional enqueue guard: at most
	// one pending job per (job_type, dedup_key). Processing rows are
	// excluded so work arriving after a claim still gets a row. The same
	// syntax is valid on postgres and sqlite.
	if err := s.db.Exec(`DROP INDEX IF EXISTS uq_background_job_dedup_inflight`).Error; err != nil {
		s.log.Error("Failed to drop old dedup index", "error", err)
		return fmt.Errorf("drop old dedup index: %w", err)
	}
	if err := s.db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS uq_background_job_dedup_pending
		ON background_job (job_type, dedup_key)
		WHERE status = 'pending' AND dedup_key <> ''
	`).Error; err != nil {
		s.log.Error("Failed to create dedup index", "error", err)
		return fmt.Errorf("create dedup index: %w", err)
	}
	return nil
}

func (s *Service) DB() *gorm.DB {
	return s.db
}
