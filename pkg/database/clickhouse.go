package database

import (
	"database/sql"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/DaveCybr/couple-guard/pkg/logging"
)

// ClickHouseConn represents a ClickHouse connection using the database/sql
// interface. The location sample stream is append-only time-series data, so
// it lives in ClickHouse while relational state stays in Postgres.
type ClickHouseConn = *sql.DB

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Addr     []string
	Database string
	Username string
	Password string
	Debug    bool
}

// DefaultClickHouseConfig returns default ClickHouse configuration
func DefaultClickHouseConfig() ClickHouseConfig {
	return ClickHouseConfig{
		Addr:     []string{"127.0.0.1:9000"},
		Database: "default",
		Username: "default",
		Password: "",
		Debug:    false,
	}
}

// ClickHouseConfigFromURL builds a config from a comma-separated address list
func ClickHouseConfigFromURL(addrs, db, user, password string) ClickHouseConfig {
	cfg := DefaultClickHouseConfig()
	if addrs != "" {
		cfg.Addr = strings.Split(addrs, ",")
	}
	if db != "" {
		cfg.Database = db
	}
	if user != "" {
		cfg.Username = user
	}
	cfg.Password = password
	return cfg
}

// ConnectClickHouse establishes a ClickHouse connection
func ConnectClickHouse(cfg ClickHouseConfig, logger logging.Logger) (ClickHouseConn, error) {
	conn := clickhouse.OpenDB(&clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Debug: cfg.Debug,
	})

	if err := conn.Ping(); err != nil {
		logger.WithError(err).Error("Failed to ping ClickHouse")
		return nil, err
	}

	logger.WithFields(logging.Fields{
		"addr":     cfg.Addr,
		"database": cfg.Database,
	}).Info("Connected to ClickHouse")

	return conn, nil
}
