package db

import (
	"fmt"
	"net"
	"strings"

	"github.com/smallbiznis/primerouter/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	TypePostgres = "postgres"
	TypeMySQL    = "mysql"
	TypeSQLite   = "sqlite"
)

// Dialect picks the gorm driver for cfg.DBType. Postgres is the production
// store; mysql and sqlite exist for local runs.
func Dialect(cfg config.Config) (gorm.Dialector, error) {
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}
	switch normalizeType(cfg.DBType) {
	case TypePostgres:
		return postgres.Open(dsn), nil
	case TypeMySQL:
		return mysql.Open(dsn), nil
	default:
		return sqlite.Open(dsn), nil
	}
}

// DSN renders the connection string for the configured database. All
// dialects are pinned to UTC since lineage timestamps are compared across
// services.
func DSN(cfg config.Config) (string, error) {
	switch normalizeType(cfg.DBType) {
	case TypePostgres:
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode,
		), nil
	case TypeMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.DBUser, cfg.DBPassword, net.JoinHostPort(cfg.DBHost, cfg.DBPort), cfg.DBName,
		), nil
	case TypeSQLite:
		if strings.TrimSpace(cfg.DBPath) == "" {
			return "", fmt.Errorf("sqlite requires DATABASE_PATH")
		}
		return cfg.DBPath, nil
	default:
		return "", fmt.Errorf("unsupported database type %q", cfg.DBType)
	}
}

func normalizeType(dbType string) string {
	dbType = strings.ToLower(strings.TrimSpace(dbType))
	if dbType == "postgresql" || dbType == "pg" {
		return TypePostgres
	}
	return dbType
}
