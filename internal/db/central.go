package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	types "github.com/threadloom/threadloom-backend/internal/domain"
	"github.com/threadloom/threadloom-backend/internal/platform/envutil"
	"github.com/threadloom/threadloom-backend/internal/platform/logger"
)

// CentralService owns the shared database holding accounts, settings and
// tool-server configs. Conversation data never lives here, it belongs to
// the per-user actor stores.
type CentralService struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewCentralService connects using CENTRAL_DB_DRIVER: "postgres" (default)
// or "sqlite" for development and tests.
func NewCentralService(log *logger.Logger) (*CentralService, error) {
	serviceLog := log.With("service", "CentralService")

	driver := envutil.Str("CENTRAL_DB_DRIVER", "postgres")
	var (
		db  *gorm.DB
		err error
	)
	switch driver {
	case "sqlite":
		path := envutil.Str("CENTRAL_DB_PATH", "threadloom.db")
		db, err = gorm.Open(sqlite.Open(path+"?_busy_timeout=5000&_journal_mode=WAL"), &gorm.Config{})
	case "postgres":
		host := envutil.Str("POSTGRES_HOST", "localhost")
		port := envutil.Str("POSTGRES_PORT", "5432")
		user := envutil.Str("POSTGRES_USER", "postgres")
		password := envutil.Str("POSTGRES_PASSWORD", "")
		name := envutil.Str("POSTGRES_NAME", "threadloom")
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, name)
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			DisableForeignKeyConstraintWhenMigrating: true,
		})
	default:
		return nil, fmt.Errorf("unknown CENTRAL_DB_DRIVER %q", driver)
	}
	if err != nil {
		serviceLog.Error("Failed to connect to central database", "driver", driver, "error", err)
		return nil, fmt.Errorf("connect central database: %w", err)
	}

	serviceLog.Info("Connected to central database", "driver", driver)
	return &CentralService{db: db, log: serviceLog}, nil
}

func (s *CentralService) AutoMigrateAll() error {
	s.log.Info("Auto migrating central tables...")
	if err := s.db.AutoMigrate(
		&types.User{},
		&types.UserSettings{},
		&types.ToolServer{},
	); err != nil {
		s.log.Error("Auto migration failed for central tables", "error", err)
		return err
	}
	return nil
}

func (s *CentralService) DB() *gorm.DB {
	return s.db
}

func (s *CentralService) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
