package store

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"
)

type UsersStore interface {
	CreateUser(ctx context.Context, u *User) (int64, error)
	GetUser(ctx context.Context, id int64) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	// FindByRoleAndSite lists active users holding role. A nil siteID matches every site.
	FindByRoleAndSite(ctx context.Context, role string, siteID *int64) ([]User, error)
}

type usersStore struct {
	db *DB
}

func NewUsersStore(db *DB) UsersStore {
	return &usersStore{db: db}
}

const userColumns = `u.id, u.username, u.full_name, u.email, u.phone, u.site_id, u.last_report_date, u.report_attempts, u.failed_attempts, u.locked_until, u.active, u.created_at`

func (s *usersStore) CreateUser(ctx context.Context, u *User) (int64, error) {
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	var id int64
	err = tx.QueryRowContext(ctx, s.db.Rebind(`
		INSERT INTO users(username, full_name, email, phone, site_id, last_report_date, report_attempts, failed_attempts, locked_until, active, created_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?) RETURNING id`),
		strings.ToLower(strings.TrimSpace(u.Username)), strings.TrimSpace(u.FullName), strings.TrimSpace(u.Email), strings.TrimSpace(u.Phone),
		nullableID(u.SiteID), u.LastReportDate, u.ReportAttempts, u.FailedAttempts, nullableTime(u.LockedUntil), u.Active, now).Scan(&id)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	for _, role := range normalizeRoles(u.Roles) {
		if _, err := tx.ExecContext(ctx, s.db.Rebind(`INSERT INTO user_roles(user_id, role) VALUES(?,?)`), id, role); err != nil {
			tx.Rollback()
			return 0, err
		}
	}
	for _, zoneID := range u.ZoneIDs {
		if _, err := tx.ExecContext(ctx, s.db.Rebind(`INSERT INTO security_zones(user_id, zone_id) VALUES(?,?)`), id, zoneID); err != nil {
			tx.Rollback()
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	u.ID = id
	u.CreatedAt = now
	u.Roles = normalizeRoles(u.Roles)
	return id, nil
}

func (s *usersStore) GetUser(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT `+userColumns+` FROM users u WHERE u.id=?`), id)
	return s.loadUser(ctx, row)
}

func (s *usersStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT `+userColumns+` FROM users u WHERE u.username=?`), strings.ToLower(strings.TrimSpace(username)))
	return s.loadUser(ctx, row)
}

func (s *usersStore) FindByRoleAndSite(ctx context.Context, role string, siteID *int64) ([]User, error) {
	query := `SELECT ` + userColumns + ` FROM users u JOIN user_roles r ON r.user_id=u.id WHERE r.role=? AND u.active=?`
	args := []any{strings.ToUpper(strings.TrimSpace(role)), true}
	if siteID != nil {
		query += ` AND u.site_id=?`
		args = append(args, *siteID)
	}
	query += ` ORDER BY u.id`
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	var res []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, *u)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	for i := range res {
		if err := s.attachRelations(ctx, &res[i]); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (s *usersStore) loadUser(ctx context.Context, row *sql.Row) (*User, error) {
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := s.attachRelations(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *usersStore) attachRelations(ctx context.Context, u *User) error {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`SELECT role FROM user_roles WHERE user_id=? ORDER BY role`), u.ID)
	if err != nil {
		return err
	}
	u.Roles = nil
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			rows.Close()
			return err
		}
		u.Roles = append(u.Roles, role)
	}
	rows.Close()
	zoneRows, err := s.db.QueryContext(ctx, s.db.Rebind(`SELECT zone_id FROM security_zones WHERE user_id=? ORDER BY zone_id`), u.ID)
	if err != nil {
		return err
	}
	defer zoneRows.Close()
	u.ZoneIDs = nil
	for zoneRows.Next() {
		var zoneID int64
		if err := zoneRows.Scan(&zoneID); err != nil {
			return err
		}
		u.ZoneIDs = append(u.ZoneIDs, zoneID)
	}
	return zoneRows.Err()
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var siteID sql.NullInt64
	var lockedUntil sql.NullTime
	if err := row.Scan(&u.ID, &u.Username, &u.FullName, &u.Email, &u.Phone, &siteID, &u.LastReportDate, &u.ReportAttempts, &u.FailedAttempts, &lockedUntil, &u.Active, &u.CreatedAt); err != nil {
		return nil, err
	}
	if siteID.Valid {
		u.SiteID = &siteID.Int64
	}
	if lockedUntil.Valid {
		u.LockedUntil = &lockedUntil.Time
	}
	return &u, nil
}

func normalizeRoles(roles []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, r := range roles {
		val := strings.ToUpper(strings.TrimSpace(r))
		if val == "" {
			continue
		}
		if _, ok := seen[val]; ok {
			continue
		}
		seen[val] = struct{}{}
		out = append(out, val)
	}
	sort.Strings(out)
	return out
}
