package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/irjudson/lumina/internal/config"
)

var db *gorm.DB

// Initialize opens the catalog store and migrates the schema
func Initialize(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	var (
		conn *gorm.DB
		err  error
	)

	switch cfg.Type {
	case "postgres":
		conn, err = connectPostgres(cfg)
	case "sqlite":
		conn, err = connectSQLite(cfg)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := Migrate(conn); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	db = conn
	return conn, nil
}

// Migrate applies the schema to an open connection
func Migrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&Catalog{},
		&Image{},
		&Job{},
		&JobBatch{},
		&DuplicateGroup{},
		&DuplicateMember{},
		&Burst{},
		&Tag{},
		&ImageTag{},
	)
}

func connectPostgres(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	dsn := cfg.URL
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
			cfg.Host, cfg.Username, cfg.Password, cfg.Database, cfg.Port)
	}

	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger(cfg),
	})
}

func connectSQLite(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	dbPath := cfg.DatabasePath
	if dbPath == "" {
		dbPath = filepath.Join(cfg.DataDir, "lumina.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// busy_timeout keeps concurrent batch claims from failing fast on
	// sqlite's single writer lock.
	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_journal_mode=WAL", dbPath)

	return gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormLogger(cfg),
	})
}

func gormLogger(cfg *config.DatabaseConfig) gormlogger.Interface {
	level := gormlogger.Warn
	if cfg.LogQueries {
		level = gormlogger.Info
	}
	return gormlogger.Default.LogMode(level)
}

// GetDB returns the initialized database instance
func GetDB() *gorm.DB {
	return db
}

// NowUTC returns the current time in UTC; persisted timestamps are UTC
func NowUTC() time.Time {
	return time.Now().UTC()
}
