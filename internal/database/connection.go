// internal/database/connection.go
package database

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/javajoker/checkout-backend/internal/config"
	"github.com/javajoker/checkout-backend/internal/models"
)

func Initialize(cfg config.DatabaseConfig, log *logrus.Logger) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: logger.New(log, logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormLogLevel(cfg.LogLevel),
			IgnoreRecordNotFoundError: true,
		}),
		// unique violations surface as gorm.ErrDuplicatedKey
		TranslateError: true,
	}

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Second)

	// Test connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("Database connection established successfully")
	return db, nil
}

func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

func Close(db *gorm.DB, log logrus.FieldLogger) {
	sqlDB, err := db.DB()
	if err != nil {
		log.WithError(err).Error("Error getting underlying sql.DB")
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.WithError(err).Error("Error closing database connection")
	} else {
		log.Info("Database connection closed successfully")
	}
}

func RunMigrations(db *gorm.DB, log logrus.FieldLogger) error {
	log.Info("Running database migrations...")

	// gen_random_uuid() lives in pgcrypto before Postgres 13
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "pgcrypto"`).Error; err != nil {
		return fmt.Errorf("failed to create pgcrypto extension: %w", err)
	}

	err := db.AutoMigrate(
		&models.Product{},
		&models.Purchase{},
		&models.Coupon{},
		&models.PaymentIntent{},
		&models.ProviderEvent{},
		&models.AuditLog{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := createIndexes(db, log); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	log.Info("Database migrations completed successfully")
	return nil
}

// required indexes fail the migration; the rest only warn
func createIndexes(db *gorm.DB, log logrus.FieldLogger) error {
	required := []string{
		// at most one pending checkout per owner, item set and environment
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_payment_intents_pending_guard ON payment_intents(guard_key) WHERE status = 'pending' AND deleted_at IS NULL",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_products_type_entity ON products(product_type, entity_id) WHERE product_type <> '' AND deleted_at IS NULL",
	}
	for _, index := range required {
		if err := db.Exec(index).Error; err != nil {
			return err
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_purchases_owner_status ON purchases(owner_key, payment_status)",
		"CREATE INDEX IF NOT EXISTS idx_purchases_created_at ON purchases(created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_payment_intents_status_created ON payment_intents(status, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_audit_logs_owner_action ON audit_logs(owner_key, action)",
		"CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs(resource_type, resource_id)",
		"CREATE INDEX IF NOT EXISTS idx_audit_logs_created ON audit_logs(created_at DESC)",
	}
	for _, index := range indexes {
		if err := db.Exec(index).Error; err != nil {
			log.WithError(err).WithField("index", index).Warn("Failed to create index")
		}
	}

	return nil
}
