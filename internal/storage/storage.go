// Package storage persists candidate records and LLM conversations with gorm.
// Postgres with the pgvector extension is the production backend; sqlite is
// supported for local runs and tests, without vector search.
package storage

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	DefaultEmbeddingDimensions = 768
)

var ErrSearchUnsupported = errors.New("vector search requires the postgres driver")

type Config struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	// DSNFile holds the DSN when it carries credentials.
	DSNFile             string `mapstructure:"dsn-file"`
	EmbeddingDimensions int    `mapstructure:"embedding-dimensions"`
	Debug               bool   `mapstructure:"debug"`
}

// Open connects to the configured database and migrates the schema.
func Open(cfg Config, dsn string, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case DriverPostgres, "":
		if strings.TrimSpace(dsn) == "" {
			return nil, errors.New("postgres dsn is required")
		}
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		if strings.TrimSpace(dsn) == "" {
			dsn = "file:hr-assistant.db"
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}

	level := gormlogger.Warn
	if cfg.Debug {
		level = gormlogger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialector.Name(), err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	logger.Debug("database ready", zap.String("driver", db.Dialector.Name()))
	return db, nil
}

// Migrate creates or updates the tables used by the stores.
func Migrate(db *gorm.DB) error {
	if isPostgres(db) {
		if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("enable pgvector extension: %w", err)
		}
	}

	if err := db.AutoMigrate(&candidateRow{}, &conversationRow{}, &turnRow{}); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func isPostgres(db *gorm.DB) bool {
	return db.Dialector.Name() == DriverPostgres
}
