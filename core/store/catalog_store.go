package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// CatalogStore holds the read-mostly lookups reports point at: sites and incident types.
type CatalogStore interface {
	CreateSite(ctx context.Context, site *Site) (int64, error)
	GetSite(ctx context.Context, id int64) (*Site, error)
	CreateIncidentType(ctx context.Context, it *IncidentType) (int64, error)
	GetIncidentType(ctx context.Context, id int64) (*IncidentType, error)
	ListIncidentTypes(ctx context.Context) ([]IncidentType, error)
}

type catalogStore struct {
	db *DB
}

func NewCatalogStore(db *DB) CatalogStore {
	return &catalogStore{db: db}
}

func (s *catalogStore) CreateSite(ctx context.Context, site *Site) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`INSERT INTO sites(name, address) VALUES(?,?) RETURNING id`),
		strings.TrimSpace(site.Name), strings.TrimSpace(site.Address)).Scan(&id)
	if err != nil {
		return 0, err
	}
	site.ID = id
	return id, nil
}

func (s *catalogStore) GetSite(ctx context.Context, id int64) (*Site, error) {
	var site Site
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT id, name, address FROM sites WHERE id=?`), id).Scan(&site.ID, &site.Name, &site.Address)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &site, nil
}

func (s *catalogStore) CreateIncidentType(ctx context.Context, it *IncidentType) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`INSERT INTO incident_types(name, description) VALUES(?,?) RETURNING id`),
		strings.TrimSpace(it.Name), strings.TrimSpace(it.Description)).Scan(&id)
	if err != nil {
		return 0, err
	}
	it.ID = id
	return id, nil
}

func (s *catalogStore) GetIncidentType(ctx context.Context, id int64) (*IncidentType, error) {
	var it IncidentType
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT id, name, description FROM incident_types WHERE id=?`), id).Scan(&it.ID, &it.Name, &it.Description)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &it, nil
}

func (s *catalogStore) ListIncidentTypes(ctx context.Context) ([]IncidentType, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, description FROM incident_types ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []IncidentType
	for rows.Next() {
		var it IncidentType
		if err := rows.Scan(&it.ID, &it.Name, &it.Description); err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}
