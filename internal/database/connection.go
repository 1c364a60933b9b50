package database

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type DatabaseConfig struct {
	// Driver selects the backend: "postgres" for the service
	// deployment, "sqlite" for embedded use and tests.
	Driver string `env:"DB_DRIVER" envDefault:"postgres"`

	Host     string `env:"DB_HOST"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER"`
	DBName   string `env:"DB_NAME"`
	Password string `env:"DB_PASSWORD"`
	SSLMode  string `env:"DB_SSL_MODE" envDefault:"disable"`

	// SQLitePath is the database file for the sqlite driver;
	// ":memory:" keeps everything in process.
	SQLitePath string `env:"DB_SQLITE_PATH" envDefault:"mailbridge.db"`

	MaxConn         int    `env:"DB_MAX_CONN" envDefault:"50"`
	MaxIdleConn     int    `env:"DB_MAX_IDLE_CONN" envDefault:"10"`
	ConnMaxLifetime int    `env:"DB_CONN_MAX_LIFETIME" envDefault:"60"`
	LogLevel        string `env:"DB_LOG_LEVEL" envDefault:"warn"`
}

func NewConnection(dbConfig *DatabaseConfig) (*gorm.DB, error) {
	if dbConfig == nil {
		log.Fatalf("Database config is nil")
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(gormLogLevel(dbConfig.LogLevel)),
	}

	var db *gorm.DB
	var err error

	switch dbConfig.Driver {
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(dbConfig.SQLitePath), gormConfig)
	default:
		validatePostgresConfig(dbConfig)

		portInt, convErr := strconv.Atoi(dbConfig.Port)
		if convErr != nil {
			return nil, fmt.Errorf("invalid port number: %w", convErr)
		}

		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			dbConfig.Host, portInt, dbConfig.User, dbConfig.Password, dbConfig.DBName, dbConfig.SSLMode,
		)
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	}
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(dbConfig.MaxIdleConn)
	sqlDB.SetMaxOpenConns(dbConfig.MaxConn)
	sqlDB.SetConnMaxLifetime(time.Duration(dbConfig.ConnMaxLifetime) * time.Minute)

	return db, nil
}

func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "info":
		return logger.Info
	case "error":
		return logger.Error
	case "silent":
		return logger.Silent
	default:
		return logger.Warn
	}
}

func validatePostgresConfig(config *DatabaseConfig) {
	switch {
	case config.Host == "":
		log.Fatalf("Database host config is empty")
	case config.Port == "":
		log.Fatalf("Database port config is empty")
	case config.User == "":
		log.Fatalf("Database user config is empty")
	case config.Password == "":
		log.Fatalf("Database password config is empty")
	case config.DBName == "":
		log.Fatalf("Database name config is empty")
	case config.SSLMode == "":
		log.Fatalf("Database SSLMode config is empty")
	}
}
