package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"utp-reporta/core/utils"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var gooseMigrations embed.FS

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS sites (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		address TEXT NOT NULL DEFAULT ''
	);`,
	`CREATE TABLE IF NOT EXISTS incident_types (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT ''
	);`,
	`CREATE TABLE IF NOT EXISTS zones (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		site_id INTEGER,
		photo BLOB,
		active INTEGER NOT NULL DEFAULT 1,
		level TEXT NOT NULL DEFAULT 'ZONA_SEGURA',
		report_count INTEGER NOT NULL DEFAULT 0,
		window_start TIMESTAMP,
		version INTEGER NOT NULL DEFAULT 1,
		FOREIGN KEY(site_id) REFERENCES sites(id) ON DELETE SET NULL,
		CHECK ((report_count = 0) = (window_start IS NULL))
	);`,
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		full_name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		site_id INTEGER,
		last_report_date TEXT NOT NULL DEFAULT '',
		report_attempts INTEGER NOT NULL DEFAULT 0,
		failed_attempts INTEGER NOT NULL DEFAULT 0,
		locked_until TIMESTAMP,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(site_id) REFERENCES sites(id) ON DELETE SET NULL
	);`,
	`CREATE TABLE IF NOT EXISTS user_roles (
		user_id INTEGER NOT NULL,
		role TEXT NOT NULL,
		PRIMARY KEY (user_id, role),
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS security_zones (
		user_id INTEGER NOT NULL,
		zone_id INTEGER NOT NULL,
		PRIMARY KEY (user_id, zone_id),
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY(zone_id) REFERENCES zones(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS reports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		incident_type_id INTEGER NOT NULL,
		zone_id INTEGER NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		photo BLOB,
		created_at TIMESTAMP NOT NULL,
		anonymous INTEGER NOT NULL DEFAULT 0,
		contact TEXT,
		user_id INTEGER NOT NULL,
		security_user_id INTEGER,
		security_message TEXT,
		admin_message TEXT,
		FOREIGN KEY(incident_type_id) REFERENCES incident_types(id),
		FOREIGN KEY(zone_id) REFERENCES zones(id),
		FOREIGN KEY(user_id) REFERENCES users(id),
		FOREIGN KEY(security_user_id) REFERENCES users(id) ON DELETE SET NULL
	);`,
	`CREATE TABLE IF NOT EXISTS report_management (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		report_id INTEGER NOT NULL UNIQUE,
		state TEXT NOT NULL,
		priority TEXT,
		updated_at TIMESTAMP NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		FOREIGN KEY(report_id) REFERENCES reports(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS notification_deliveries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		channel TEXT NOT NULL,
		recipient TEXT NOT NULL,
		event_type TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		body_preview TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_zones_window ON zones(window_start);`,
	`CREATE INDEX IF NOT EXISTS idx_reports_zone ON reports(zone_id);`,
	`CREATE INDEX IF NOT EXISTS idx_reports_user ON reports(user_id);`,
	`CREATE INDEX IF NOT EXISTS idx_users_site ON users(site_id);`,
	`CREATE INDEX IF NOT EXISTS idx_notification_deliveries_created ON notification_deliveries(created_at);`,
}

func ApplyMigrations(ctx context.Context, db *DB, logger *utils.Logger) error {
	if db == nil {
		return fmt.Errorf("migrations: nil db")
	}
	if db.IsPostgres() {
		return applyGooseMigrations(ctx, db.DB, logger)
	}
	return applySQLiteMigrations(ctx, db.DB, logger)
}

func applyGooseMigrations(ctx context.Context, db *sql.DB, logger *utils.Logger) error {
	goose.SetBaseFS(gooseMigrations)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	if logger != nil {
		version, err := goose.GetDBVersionContext(ctx, db)
		if err == nil {
			logger.Printf("postgres migrations applied, version=%d", version)
		}
	}
	return nil
}

func applySQLiteMigrations(ctx context.Context, db *sql.DB, logger *utils.Logger) error {
	if logger != nil {
		logger.Printf("applying sqlite migrations")
	}
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite migration #%d failed: %w", i+1, err)
		}
	}
	if logger != nil {
		logger.Printf("sqlite migrations applied")
	}
	return nil
}
