package db

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/fatflowers/entitlement/internal/models"
	cfgpkg "github.com/fatflowers/entitlement/pkg/config"
	gormzap "github.com/fatflowers/entitlement/pkg/gormlog"
)

const slowQueryThreshold = 200 * time.Millisecond

// Open connects to the configured driver. SQLite is limited to one connection so
// in-memory databases stay shared and writes serialize.
func Open(l *zap.SugaredLogger, driver cfgpkg.DBDriver, dsn string, level gormlogger.LogLevel) (*gorm.DB, error) {
	if dsn == "" {
		return nil, gorm.ErrInvalidDB
	}

	var dialector gorm.Dialector
	switch driver {
	case cfgpkg.DBDriverPostgres, "":
		dialector = postgres.Open(dsn)
	case cfgpkg.DBDriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{Logger: gormzap.New(l, level, slowQueryThreshold)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if driver == cfgpkg.DBDriverSQLite {
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return gdb, nil
}

func NewDB(l *zap.SugaredLogger, cfg *cfgpkg.Config) (*gorm.DB, error) {
	level := gormlogger.Warn
	if cfg.Env == cfgpkg.EnvDev {
		level = gormlogger.Info
	}
	gdb, err := Open(l, cfg.Database.Driver, cfg.Database.DSN, level)
	if err != nil {
		l.Errorf("failed to open database: %v", err)
		return nil, err
	}
	l.Infow("connected to database", "driver", cfg.Database.Driver)
	return gdb, nil
}

var Module = fx.Options(
	fx.Provide(NewDB),
	fx.Invoke(AutoMigrate),
	fx.Invoke(registerDBClose),
)

// AutoMigrate runs GORM migrations on startup
func AutoMigrate(l *zap.SugaredLogger, db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Subscription{},
		&models.SubscriptionLog{},
		&models.Transaction{},
		&models.TransactionLog{},
		&models.PaymentNotificationLog{},
	); err != nil {
		l.Errorf("automigrate failed: %v", err)
		return err
	}
	l.Infow("automigrate completed")
	return nil
}

// registerDBClose ensures the underlying *sql.DB is closed on shutdown
func registerDBClose(lc fx.Lifecycle, l *zap.SugaredLogger, gdb *gorm.DB) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sqlDB, err := gdb.DB()
			if err != nil {
				l.Warnw("gorm: get sql.DB failed", "err", err)
				return nil
			}
			l.Infow("closing database connection pool")
			return sqlDB.Close()
		},
	})
}
