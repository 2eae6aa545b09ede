// src/database/database.go
package database

import (
	"database/sql"
	"errors"
	"fmt"
	stdlog "log"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/username/payfolio/src/logger"
	_ "modernc.org/sqlite"
)

var DB *sql.DB

func InitDB(databasePath string) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", databasePath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		stdlog.Fatalf("failed to open database at %s: %v", databasePath, err)
	}

	// A single connection keeps SQLite writers from tripping over each other.
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		stdlog.Fatalf("failed to ping database: %v", err)
	}
	DB = db
	logger.L.Info("SQLite connection ready", "journal", "WAL", "busyTimeoutMs", 5000, "foreignKeys", true)
}

func RunMigrations(databasePath string) {
	if DB == nil {
		logger.L.Error("RunMigrations called before InitDB")
		return
	}

	driver, err := sqlite.WithInstance(DB, &sqlite.Config{})
	if err != nil {
		logger.L.Error("sqlite migration driver setup failed", "error", err)
		stdlog.Fatalf("sqlite migration driver setup failed: %v", err)
	}

	var migrationsSourceURL string

	// Containers ship migrations at a fixed path; local runs resolve them
	// relative to the working directory.
	if os.Getenv("GO_ENV") == "PRO" {
		migrationsSourceURL = "file:///app/db/migrations"
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			stdlog.Fatalf("failed to get current working directory: %v", err)
		}
		migrationsSourceURL = fmt.Sprintf("file://%s", filepath.ToSlash(filepath.Join(cwd, "db", "migrations")))
	}

	m, err := migrate.NewWithDatabaseInstance(
		migrationsSourceURL,
		databasePath,
		driver,
	)
	if err != nil {
		logger.L.Error("could not build migrate instance", "source", migrationsSourceURL, "error", err)
		stdlog.Fatalf("could not build migrate instance: %v", err)
	}

	logger.L.Info("Applying migrations", "source", migrationsSourceURL)
	switch err = m.Up(); {
	case err == nil:
		logger.L.Info("Migrations applied")
	case errors.Is(err, migrate.ErrNoChange):
		logger.L.Info("Schema already up to date")
	default:
		logger.L.Error("migration run failed", "error", err)
		stdlog.Fatalf("migration run failed: %v", err)
	}
}
