package database

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yashrajoria/marketplace-backend/services/checkout-service/models"
)

// Connect opens the postgres pool, retrying while the database starts up.
func Connect(dsn string, maxRetries int, log *zap.Logger) (*gorm.DB, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var (
		db  *gorm.DB
		err error
	)
	for attempt := 1; attempt <= maxRetries; attempt++ {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			TranslateError: true,
			Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		})
		if err == nil {
			break
		}
		log.Warn("Failed to connect to database, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))
		time.Sleep(time.Duration(attempt) * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	log.Info("Connected to PostgreSQL")
	return db, nil
}

// Migrate creates or updates the tables the pipeline reads and writes.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Store{},
		&models.SubscriptionPayment{},
		&models.Product{},
		&models.MainOrder{},
		&models.SubOrder{},
		&models.AuditLog{},
	)
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
