// Package repository provides data access layer using GORM for database operations.
package repository

import (
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/devhub-community/reputation-engine/internal/config"
	"github.com/devhub-community/reputation-engine/internal/models"
	"github.com/devhub-community/reputation-engine/pkg/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB holds the database connection.
type DB struct {
	*gorm.DB
	driver string
}

// NewDB creates a new database connection for the configured driver.
func NewDB(cfg *config.DatabaseConfig, log *logger.Logger) (*DB, error) {
	switch cfg.Driver {
	case "sqlite":
		return OpenSQLite(cfg.SQLite.Path, log)
	default:
		return NewPostgres(&cfg.Postgres, log)
	}
}

// NewPostgres opens a PostgreSQL connection pool.
func NewPostgres(cfg *config.PostgresConfig, log *logger.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Database,
		cfg.SSLMode,
	)

	db, err := gorm.Open(postgres.Open(dsn), gormConfig(log))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	// Set connection pool settings
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Msg("Connected to PostgreSQL")

	return &DB{DB: db, driver: "postgres"}, nil
}

// OpenSQLite opens a SQLite database. Used for local development and tests;
// ":memory:" gives a private in-memory database.
func OpenSQLite(path string, log *logger.Logger) (*DB, error) {
	db, err := gorm.Open(sqlite.Open(path), gormConfig(log))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	// SQLite has a single writer; one connection also keeps ":memory:" databases shared.
	sqlDB.SetMaxOpenConns(1)

	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	log.Info().Str("path", path).Msg("Opened SQLite database")

	return &DB{DB: db, driver: "sqlite"}, nil
}

// Wrap adapts an existing GORM handle.
func Wrap(db *gorm.DB) *DB {
	return &DB{DB: db, driver: db.Dialector.Name()}
}

// gormWriter forwards GORM's log lines to the application logger.
type gormWriter struct {
	log *logger.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.log.Warn().Msgf(format, args...)
}

func gormConfig(log *logger.Logger) *gorm.Config {
	gormLogLevel := gormlogger.Warn
	if log.IsDebug() {
		gormLogLevel = gormlogger.Info
	}

	return &gorm.Config{
		Logger: gormlogger.New(gormWriter{log: log.Component("gorm")}, gormlogger.Config{
			SlowThreshold: 200 * time.Millisecond,
			LogLevel:      gormLogLevel,
			// Get reports a missing row as nil, nil; it is not an error.
			IgnoreRecordNotFoundError: true,
		}),
	}
}

// AutoMigrate creates engine tables and the content read tables from the models.
// Production PostgreSQL deployments use RunMigrations instead.
func (db *DB) AutoMigrate() error {
	return db.DB.AutoMigrate(
		&models.UserReputation{},
		&models.Activity{},
		&models.MilestoneGrant{},
		&models.Account{},
		&models.Question{},
		&models.Answer{},
		&models.Post{},
		&models.Comment{},
	)
}

// RunMigrations applies the embedded SQL migrations. SQLite databases are auto-migrated instead.
func (db *DB) RunMigrations(log *logger.Logger) error {
	if db.driver != "postgres" {
		return db.AutoMigrate()
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}

	driver, err := migratepg.WithInstance(sqlDB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return err
	}
	log.Info().Uint("version", version).Bool("dirty", dirty).Msg("Database migrations applied")

	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health checks if the database is healthy.
func (db *DB) Health() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
