package database

import (
	"fmt"

	"crm-auth-service/pkg/config"
	"crm-auth-service/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// InitDB opens the PostgreSQL connection and applies pool settings from config
func InitDB(dbConfig *config.DBConfig) (*gorm.DB, error) {
	log := logger.GetLogger()

	// Configure Postgres options
	pgConfig := postgres.Config{
		DSN:                  dbConfig.GetDSN(),
		PreferSimpleProtocol: true, // Disables implicit prepared statement usage
	}

	db, err := gorm.Open(postgres.New(pgConfig), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(dbConfig.LogLevel),
		TranslateError: true,
	})
	if err != nil {
		log.Error("Failed to connect to database", zap.Error(err))
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Error("Failed to get database object", zap.Error(err))
		return nil, err
	}

	// Set connection pool settings from config
	sqlDB.SetMaxIdleConns(dbConfig.MaxIdleConns)
	sqlDB.SetMaxOpenConns(dbConfig.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(dbConfig.ConnMaxLifetime)

	log.Info("Database connected successfully",
		zap.String("host", dbConfig.Host),
		zap.String("database", dbConfig.DBName))

	return db, nil
}

// MigrateModels runs migrations for the provided models
func MigrateModels(db *gorm.DB, models ...interface{}) error {
	if db == nil {
		return fmt.Errorf("database is not initialized")
	}

	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}

	return nil
}

// Close releases the underlying connection pool
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
