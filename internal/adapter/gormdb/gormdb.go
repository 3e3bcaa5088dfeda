// Package gormdb opens the gateway's own bookkeeping database (materialized
// results, audit rows). It is never the database being queried.
package gormdb

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open picks the dialector from the DSN: postgres:// and postgresql:// URLs
// use PostgreSQL, anything else is a SQLite path or file: URI.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(dialector(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", Driver(dsn), err)
	}
	return db, nil
}

// Driver names the dialect Open will use for dsn.
func Driver(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	return "sqlite"
}

func dialector(dsn string) gorm.Dialector {
	if Driver(dsn) == "postgres" {
		return postgres.Open(dsn)
	}
	return sqlite.Open(dsn)
}
