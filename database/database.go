package database

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"callme-notifier/config"
	"callme-notifier/models"
)

// Open connects to Postgres, checks the connection and runs migrations.
func Open(cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("DB_URL is required. Set DB_URL to a valid Postgres URL")
	}

	db, err := gorm.Open(postgres.Open(cfg.URL), GormConfig(log, cfg.SlowThreshold))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying SQL database: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	log.Info("connected to database")

	if err := Migrate(db, cfg.AutoMigrate, log); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("database migrations completed")
	return db, nil
}

// GormConfig routes gorm's logger through zap and turns driver errors into
// gorm's portable ones (gorm.ErrDuplicatedKey and friends).
func GormConfig(log *zap.Logger, slow time.Duration) *gorm.Config {
	gormLogger := logger.New(
		zap.NewStdLog(log.Named("gorm")),
		logger.Config{
			SlowThreshold:             slow,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	return &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	}
}

// Migrate always creates the claim tables this service owns. The profile,
// friendship, token and window tables belong to the app; they are only
// auto-migrated when appTables is set (local setups and tests).
func Migrate(db *gorm.DB, appTables bool, log *zap.Logger) error {
	if appTables {
		if err := db.AutoMigrate(
			&models.Profile{},
			&models.Friendship{},
			&models.PushToken{},
			&models.AvailabilityWindow{},
		); err != nil {
			return err
		}
	}

	if err := db.AutoMigrate(
		&models.NotificationClaim{},
		&models.ScheduleMatchClaim{},
	); err != nil {
		return err
	}

	return migrateFriendshipsMutedBy(db, log)
}

// migrateFriendshipsMutedBy adds friendships.muted_by to app schemas that
// only had the is_muted flag. Existing mutes keep their meaning: a null
// muted_by reads as muted by the initiator.
func migrateFriendshipsMutedBy(db *gorm.DB, log *zap.Logger) error {
	if !db.Migrator().HasTable(&models.Friendship{}) {
		return nil
	}
	if db.Migrator().HasColumn(&models.Friendship{}, "muted_by") {
		return nil
	}
	if err := db.Migrator().AddColumn(&models.Friendship{}, "MutedBy"); err != nil {
		return err
	}
	log.Info("added friendships.muted_by column")
	return nil
}
