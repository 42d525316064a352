package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"utp-reporta/config"
	"utp-reporta/core/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var (
	ErrConflict     = errors.New("conflict")
	ErrNotFound     = errors.New("not found")
	ErrQuotaReached = errors.New("daily quota reached")
)

// DB carries the dialect next to the pool so stores can write `?` placeholders
// for both drivers.
type DB struct {
	*sql.DB
	driver string
}

func NewDB(cfg *config.AppConfig, logger *utils.Logger) (*DB, error) {
	driver := resolveDriver(cfg)
	switch driver {
	case DriverSQLite:
		path := strings.TrimSpace(cfg.DBPath)
		if path == "" {
			return nil, errors.New("sqlite db path is empty")
		}
		dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
		raw, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, err
		}
		// sqlite serializes writers; a single connection keeps zone and quota updates from hitting SQLITE_BUSY.
		raw.SetMaxOpenConns(1)
		if err := raw.Ping(); err != nil {
			raw.Close()
			return nil, fmt.Errorf("sqlite ping: %w", err)
		}
		if logger != nil {
			logger.Printf("database: sqlite %s", path)
		}
		return &DB{DB: raw, driver: DriverSQLite}, nil
	case DriverPostgres:
		raw, err := sql.Open("pgx", strings.TrimSpace(cfg.DBURL))
		if err != nil {
			return nil, err
		}
		raw.SetMaxOpenConns(20)
		raw.SetMaxIdleConns(5)
		raw.SetConnMaxIdleTime(5 * time.Minute)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := raw.PingContext(ctx); err != nil {
			raw.Close()
			return nil, fmt.Errorf("postgres ping: %w", err)
		}
		if logger != nil {
			logger.Printf("database: postgres connected")
		}
		return &DB{DB: raw, driver: DriverPostgres}, nil
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.DBDriver)
	}
}

func resolveDriver(cfg *config.AppConfig) string {
	if cfg == nil {
		return ""
	}
	switch strings.ToLower(strings.TrimSpace(cfg.DBDriver)) {
	case "sqlite", "sqlite3":
		return DriverSQLite
	case "postgres", "pgx", "postgresql":
		return DriverPostgres
	case "":
		if strings.TrimSpace(cfg.DBPath) != "" {
			return DriverSQLite
		}
		return DriverPostgres
	}
	return ""
}

func (db *DB) Driver() string {
	return db.driver
}

func (db *DB) IsPostgres() bool {
	return db.driver == DriverPostgres
}

// Rebind rewrites `?` placeholders to `$n` for postgres.
func (db *DB) Rebind(query string) string {
	if db.driver != DriverPostgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const (
	defaultPageLimit = 100
	maxPageLimit     = 500
)

// pageLimit defaults an unset limit and caps oversized ones.
func pageLimit(limit int) int {
	if limit <= 0 {
		return defaultPageLimit
	}
	return min(limit, maxPageLimit)
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
