package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

type ZonesStore interface {
	CreateZone(ctx context.Context, z *Zone) (int64, error)
	GetZone(ctx context.Context, id int64) (*Zone, error)
	ListZones(ctx context.Context, filter ZoneFilter) ([]Zone, error)
	ListZoneIDsWithOpenWindow(ctx context.Context) ([]int64, error)
	// MutateZone runs fn on the locked row. fn reports whether it changed the
	// zone; unchanged zones are not written back.
	MutateZone(ctx context.Context, id int64, fn func(z *Zone) (bool, error)) (*Zone, error)
}

type zonesStore struct {
	db *DB
}

func NewZonesStore(db *DB) ZonesStore {
	return &zonesStore{db: db}
}

const zoneColumns = `id, name, description, site_id, photo, active, level, report_count, window_start, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *zonesStore) CreateZone(ctx context.Context, z *Zone) (int64, error) {
	if z.Level == "" {
		z.Level = LevelSafe
	}
	if z.ReportCount == 0 {
		z.WindowStart = nil
	}
	var id int64
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`
		INSERT INTO zones(name, description, site_id, photo, active, level, report_count, window_start, version)
		VALUES(?,?,?,?,?,?,?,?,1) RETURNING id`),
		strings.TrimSpace(z.Name), strings.TrimSpace(z.Description), nullableID(z.SiteID), z.Photo, z.Active,
		string(z.Level), z.ReportCount, nullableTime(z.WindowStart)).Scan(&id)
	if err != nil {
		return 0, err
	}
	z.ID = id
	z.Version = 1
	return id, nil
}

func (s *zonesStore) GetZone(ctx context.Context, id int64) (*Zone, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT `+zoneColumns+` FROM zones WHERE id=?`), id)
	z, err := scanZone(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return z, nil
}

func (s *zonesStore) ListZones(ctx context.Context, filter ZoneFilter) ([]Zone, error) {
	clauses := []string{}
	args := []any{}
	if filter.SiteID != nil {
		clauses = append(clauses, "site_id=?")
		args = append(args, *filter.SiteID)
	}
	if filter.Level != "" {
		clauses = append(clauses, "level=?")
		args = append(args, string(filter.Level))
	}
	if filter.OpenWindow {
		clauses = append(clauses, "window_start IS NOT NULL")
	}
	query := `SELECT ` + zoneColumns + ` FROM zones`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id"
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Zone
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *z)
	}
	return res, rows.Err()
}

func (s *zonesStore) ListZoneIDsWithOpenWindow(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM zones WHERE window_start IS NOT NULL ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *zonesStore) MutateZone(ctx context.Context, id int64, fn func(z *Zone) (bool, error)) (*Zone, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	// Bumping the version first takes the row lock (postgres) or the write lock (sqlite)
	// before the row is read.
	res, err := tx.ExecContext(ctx, s.db.Rebind(`UPDATE zones SET version=version+1 WHERE id=?`), id)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		tx.Rollback()
		return nil, ErrNotFound
	}
	z, err := scanZone(tx.QueryRowContext(ctx, s.db.Rebind(`SELECT `+zoneColumns+` FROM zones WHERE id=?`), id))
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	changed, err := fn(z)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if !changed {
		tx.Rollback()
		z.Version--
		return z, nil
	}
	if z.ReportCount == 0 {
		z.WindowStart = nil
	}
	if _, err := tx.ExecContext(ctx, s.db.Rebind(`UPDATE zones SET level=?, report_count=?, window_start=? WHERE id=?`),
		string(z.Level), z.ReportCount, nullableTime(z.WindowStart), id); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return z, nil
}

func scanZone(row rowScanner) (*Zone, error) {
	var z Zone
	var siteID sql.NullInt64
	var windowStart sql.NullTime
	var level string
	if err := row.Scan(&z.ID, &z.Name, &z.Description, &siteID, &z.Photo, &z.Active, &level, &z.ReportCount, &windowStart, &z.Version); err != nil {
		return nil, err
	}
	z.Level = ZoneLevel(level)
	if z.Level == "" {
		z.Level = LevelSafe
	}
	if siteID.Valid {
		z.SiteID = &siteID.Int64
	}
	if windowStart.Valid {
		ws := windowStart.Time.UTC()
		z.WindowStart = &ws
	}
	return &z, nil
}
