package app

import (
	"context"
	"database/sql"
	"strings"

	"github.com/fiffu/eventpush/config"
	"github.com/fiffu/eventpush/lib/models"
	_ "github.com/lib/pq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func NewDatabase(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	db, err := OpenDatabase(cfg, log)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})
	return db, nil
}

// OpenDatabase connects to Postgres when DATABASE_URL is a postgres URL and
// to a local SQLite file otherwise, then migrates the schema.
func OpenDatabase(cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	}

	var db *gorm.DB
	var err error
	if isPostgresURL(cfg.Database.URL) {
		var sqlDB *sql.DB
		if sqlDB, err = sql.Open("postgres", cfg.Database.URL); err != nil {
			return nil, err
		}
		db, err = gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), gormCfg)
	} else {
		db, err = gorm.Open(sqlite.Open(cfg.Database.Path+"?_busy_timeout=5000&_journal_mode=WAL"), gormCfg)
		if err == nil {
			// SQLite takes one writer at a time; queue writers in the pool
			// instead of failing them with SQLITE_BUSY.
			var sqlDB *sql.DB
			if sqlDB, err = db.DB(); err == nil {
				sqlDB.SetMaxOpenConns(1)
			}
		}
	}
	if err != nil {
		log.Sugar().Errorw("failed to connect database", "err", err)
		return nil, err
	}
	log.Info("Database started")

	log.Info("Starting migrations")
	if err := db.AutoMigrate(&models.PushSubscription{}); err != nil {
		return nil, err
	}
	return db, nil
}

func isPostgresURL(url string) bool {
	return strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://")
}
