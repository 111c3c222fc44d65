package database

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/blogem/nms-gateway/logging"
)

var db *sql.DB

// connectionParams are applied to every pooled connection; PRAGMAs issued
// through db.Exec would only reach one of them
const connectionParams = "_foreign_keys=on&_busy_timeout=5000"

// OpenDB initializes the SQLite database connection
func OpenDB(dataSourceName string) error {
	dsn := dataSourceName
	if strings.Contains(dsn, "?") {
		dsn += "&" + connectionParams
	} else {
		dsn += "?" + connectionParams
	}

	var err error
	db, err = sql.Open("sqlite3", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err = db.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// WAL lets the admin API read while audit records are appended
	if _, err = db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("failed to enable WAL: %w", err)
	}

	return nil
}

// InitializeDatabase opens the database connection and runs migrations
func InitializeDatabase(dataSourceName string) error {
	if err := OpenDB(dataSourceName); err != nil {
		return err
	}

	if err := RunMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	logging.Info().Str("path", dataSourceName).Msg("database initialized")
	return nil
}

// GetDB returns the database connection
func GetDB() *sql.DB {
	return db
}

// CloseDB closes the database connection
func CloseDB() error {
	if db != nil {
		return db.Close()
	}
	return nil
}
