package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// DailyQuota asks CreateReport to consume one slot of the submitter's daily budget
// in the same transaction as the insert.
type DailyQuota struct {
	UserID int64
	Day    string
	Limit  int
}

// TransitionUpdate is applied atomically: the report row is locked, Apply validates and
// mutates the loaded gestion (a fresh PENDIENTE one when none exists), then assignment,
// messages and gestion are written in that order.
type TransitionUpdate struct {
	ReportID         int64
	AssignSecurityID *int64
	SecurityMessage  *string
	AdminMessage     *string
	Apply            func(m *ReportManagement) error
}

type ReportsStore interface {
	CreateReport(ctx context.Context, r *Report, quota *DailyQuota) (int64, error)
	GetReport(ctx context.Context, id int64) (*Report, error)
	ListReports(ctx context.Context, filter ReportFilter) ([]Report, error)
	ApplyTransition(ctx context.Context, upd TransitionUpdate) (*Report, error)
}

type reportsStore struct {
	db *DB
}

func NewReportsStore(db *DB) ReportsStore {
	return &reportsStore{db: db}
}

const reportColumns = `r.id, r.incident_type_id, r.zone_id, r.description, r.photo, r.created_at, r.anonymous, r.contact, r.user_id, r.security_user_id, r.security_message, r.admin_message,
	m.id, m.state, m.priority, m.updated_at, m.version`

func (s *reportsStore) CreateReport(ctx context.Context, r *Report, quota *DailyQuota) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	if quota != nil {
		if err := s.consumeQuotaTx(ctx, tx, *quota); err != nil {
			tx.Rollback()
			return 0, err
		}
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	var id int64
	err = tx.QueryRowContext(ctx, s.db.Rebind(`
		INSERT INTO reports(incident_type_id, zone_id, description, photo, created_at, anonymous, contact, user_id, security_user_id, security_message, admin_message)
		VALUES(?,?,?,?,?,?,?,?,?,?,?) RETURNING id`),
		r.IncidentTypeID, r.ZoneID, strings.TrimSpace(r.Description), r.Photo, r.CreatedAt.UTC(), r.Anonymous, nullableString(r.Contact),
		r.UserID, nullableID(r.SecurityUserID), nullableString(r.SecurityMessage), nullableString(r.AdminMessage)).Scan(&id)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	r.ID = id
	r.HasPhoto = len(r.Photo) > 0
	return id, nil
}

func (s *reportsStore) consumeQuotaTx(ctx context.Context, tx *sql.Tx, q DailyQuota) error {
	res, err := tx.ExecContext(ctx, s.db.Rebind(`UPDATE users SET report_attempts=1, last_report_date=? WHERE id=? AND last_report_date<>?`), q.Day, q.UserID, q.Day)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected > 0 {
		return nil
	}
	res, err = tx.ExecContext(ctx, s.db.Rebind(`UPDATE users SET report_attempts=report_attempts+1 WHERE id=? AND last_report_date=? AND report_attempts<?`), q.UserID, q.Day, q.Limit)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrQuotaReached
	}
	return nil
}

func (s *reportsStore) GetReport(ctx context.Context, id int64) (*Report, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT `+reportColumns+` FROM reports r LEFT JOIN report_management m ON m.report_id=r.id WHERE r.id=?`), id)
	rep, err := scanReport(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rep, nil
}

func (s *reportsStore) ListReports(ctx context.Context, filter ReportFilter) ([]Report, error) {
	clauses := []string{}
	args := []any{}
	if filter.UserID != nil {
		clauses = append(clauses, "r.user_id=?")
		args = append(args, *filter.UserID)
	}
	if filter.SecurityUserID != nil {
		clauses = append(clauses, "r.security_user_id=?")
		args = append(args, *filter.SecurityUserID)
	}
	if filter.ZoneID != nil {
		clauses = append(clauses, "r.zone_id=?")
		args = append(args, *filter.ZoneID)
	}
	if filter.State != "" {
		if filter.State == StatePending {
			clauses = append(clauses, "(m.state=? OR m.state IS NULL)")
		} else {
			clauses = append(clauses, "m.state=?")
		}
		args = append(args, string(filter.State))
	}
	query := `SELECT ` + reportColumns + ` FROM reports r LEFT JOIN report_management m ON m.report_id=r.id`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY r.created_at DESC, r.id DESC"
	limit := pageLimit(filter.Limit)
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *rep)
	}
	return res, rows.Err()
}

func (s *reportsStore) ApplyTransition(ctx context.Context, upd TransitionUpdate) (*Report, error) {
	if upd.Apply == nil {
		return nil, errors.New("transition apply func is nil")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx, s.db.Rebind(`UPDATE reports SET security_user_id=security_user_id WHERE id=?`), upd.ReportID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		tx.Rollback()
		return nil, ErrNotFound
	}
	m, err := s.loadManagementTx(ctx, tx, upd.ReportID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := upd.Apply(m); err != nil {
		tx.Rollback()
		return nil, err
	}
	if upd.AssignSecurityID != nil {
		if _, err := tx.ExecContext(ctx, s.db.Rebind(`UPDATE reports SET security_user_id=? WHERE id=?`), *upd.AssignSecurityID, upd.ReportID); err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if upd.SecurityMessage != nil {
		if _, err := tx.ExecContext(ctx, s.db.Rebind(`UPDATE reports SET security_message=? WHERE id=?`), *upd.SecurityMessage, upd.ReportID); err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if upd.AdminMessage != nil {
		if _, err := tx.ExecContext(ctx, s.db.Rebind(`UPDATE reports SET admin_message=? WHERE id=?`), *upd.AdminMessage, upd.ReportID); err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now().UTC()
	}
	var priority any
	if m.Priority != nil {
		priority = string(*m.Priority)
	}
	if m.ID == 0 {
		err = tx.QueryRowContext(ctx, s.db.Rebind(`INSERT INTO report_management(report_id, state, priority, updated_at, version) VALUES(?,?,?,?,1) RETURNING id`),
			upd.ReportID, string(m.State), priority, m.UpdatedAt.UTC()).Scan(&m.ID)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
	} else {
		if _, err := tx.ExecContext(ctx, s.db.Rebind(`UPDATE report_management SET state=?, priority=?, updated_at=?, version=version+1 WHERE id=?`),
			string(m.State), priority, m.UpdatedAt.UTC(), m.ID); err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	rep, err := s.GetReport(ctx, upd.ReportID)
	if err != nil {
		return nil, err
	}
	if rep == nil {
		return nil, ErrNotFound
	}
	return rep, nil
}

func (s *reportsStore) loadManagementTx(ctx context.Context, tx *sql.Tx, reportID int64) (*ReportManagement, error) {
	var m ReportManagement
	var state string
	var priority sql.NullString
	err := tx.QueryRowContext(ctx, s.db.Rebind(`SELECT id, report_id, state, priority, updated_at, version FROM report_management WHERE report_id=?`), reportID).
		Scan(&m.ID, &m.ReportID, &state, &priority, &m.UpdatedAt, &m.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &ReportManagement{ReportID: reportID, State: StatePending}, nil
		}
		return nil, err
	}
	m.State = ReportState(state)
	if priority.Valid && priority.String != "" {
		p := Priority(priority.String)
		m.Priority = &p
	}
	return &m, nil
}

func scanReport(row rowScanner) (*Report, error) {
	var r Report
	var contact, secMsg, adminMsg sql.NullString
	var secUser sql.NullInt64
	var mID sql.NullInt64
	var mState, mPriority sql.NullString
	var mUpdated sql.NullTime
	var mVersion sql.NullInt64
	if err := row.Scan(&r.ID, &r.IncidentTypeID, &r.ZoneID, &r.Description, &r.Photo, &r.CreatedAt, &r.Anonymous, &contact, &r.UserID, &secUser, &secMsg, &adminMsg,
		&mID, &mState, &mPriority, &mUpdated, &mVersion); err != nil {
		return nil, err
	}
	r.HasPhoto = len(r.Photo) > 0
	if contact.Valid {
		r.Contact = &contact.String
	}
	if secUser.Valid {
		r.SecurityUserID = &secUser.Int64
	}
	if secMsg.Valid {
		r.SecurityMessage = &secMsg.String
	}
	if adminMsg.Valid {
		r.AdminMessage = &adminMsg.String
	}
	if mID.Valid {
		m := &ReportManagement{
			ID:       mID.Int64,
			ReportID: r.ID,
			State:    ReportState(mState.String),
			Version:  int(mVersion.Int64),
		}
		if mUpdated.Valid {
			m.UpdatedAt = mUpdated.Time
		}
		if mPriority.Valid && mPriority.String != "" {
			p := Priority(mPriority.String)
			m.Priority = &p
		}
		r.Management = m
	}
	return &r, nil
}
