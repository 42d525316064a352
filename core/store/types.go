package store

import (
	"strings"
	"time"
)

type ReportState string

const (
	StatePending          ReportState = "PENDIENTE"
	StateLocating         ReportState = "UBICANDO"
	StateInvestigating    ReportState = "INVESTIGANDO"
	StateAwaitingApproval ReportState = "PENDIENTE_APROBACION"
	StateResolved         ReportState = "RESUELTO"
	StateCancelled        ReportState = "CANCELADO"
)

var reportStates = []ReportState{StatePending, StateLocating, StateInvestigating, StateAwaitingApproval, StateResolved, StateCancelled}

func ReportStates() []ReportState {
	out := make([]ReportState, len(reportStates))
	copy(out, reportStates)
	return out
}

func ParseReportState(raw string) (ReportState, bool) {
	val := ReportState(strings.ToUpper(strings.TrimSpace(raw)))
	if val == "PENDING" {
		return StatePending, true
	}
	for _, st := range reportStates {
		if st == val {
			return st, true
		}
	}
	return "", false
}

func (s ReportState) Terminal() bool {
	return s == StateResolved || s == StateCancelled
}

type Priority string

const (
	PriorityLow    Priority = "BAJA"
	PriorityMedium Priority = "MEDIA"
	PriorityHigh   Priority = "ALTA"
)

func ParsePriority(raw string) (Priority, bool) {
	switch Priority(strings.ToUpper(strings.TrimSpace(raw))) {
	case PriorityLow:
		return PriorityLow, true
	case PriorityMedium:
		return PriorityMedium, true
	case PriorityHigh:
		return PriorityHigh, true
	}
	return "", false
}

type ZoneLevel string

const (
	LevelSafe      ZoneLevel = "ZONA_SEGURA"
	LevelCaution   ZoneLevel = "ZONA_PRECAUCION"
	LevelDangerous ZoneLevel = "ZONA_PELIGROSA"
)

type Site struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

type IncidentType struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type Zone struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	SiteID      *int64     `json:"site_id,omitempty"`
	Photo       []byte     `json:"-"`
	Active      bool       `json:"active"`
	Level       ZoneLevel  `json:"level"`
	ReportCount int        `json:"report_count"`
	WindowStart *time.Time `json:"window_start,omitempty"`
	Version     int        `json:"version"`
}

type ZoneFilter struct {
	SiteID     *int64
	Level      ZoneLevel
	OpenWindow bool
}

type User struct {
	ID             int64      `json:"id"`
	Username       string     `json:"username"`
	FullName       string     `json:"full_name"`
	Email          string     `json:"email"`
	Phone          string     `json:"phone,omitempty"`
	SiteID         *int64     `json:"site_id,omitempty"`
	Roles          []string   `json:"roles"`
	ZoneIDs        []int64    `json:"zone_ids,omitempty"`
	LastReportDate string     `json:"last_report_date,omitempty"`
	ReportAttempts int        `json:"report_attempts"`
	FailedAttempts int        `json:"-"`
	LockedUntil    *time.Time `json:"-"`
	Active         bool       `json:"active"`
	CreatedAt      time.Time  `json:"created_at"`
}

type Report struct {
	ID              int64             `json:"id"`
	IncidentTypeID  int64             `json:"incident_type_id"`
	ZoneID          int64             `json:"zone_id"`
	Description     string            `json:"description"`
	Photo           []byte            `json:"-"`
	HasPhoto        bool              `json:"has_photo"`
	CreatedAt       time.Time         `json:"created_at"`
	Anonymous       bool              `json:"anonymous"`
	Contact         *string           `json:"contact,omitempty"`
	UserID          int64             `json:"user_id"`
	SecurityUserID  *int64            `json:"security_user_id,omitempty"`
	SecurityMessage *string           `json:"security_message,omitempty"`
	AdminMessage    *string           `json:"admin_message,omitempty"`
	Management      *ReportManagement `json:"management,omitempty"`
}

// ReportManagement is the single gestion row attached to a report.
type ReportManagement struct {
	ID        int64       `json:"id"`
	ReportID  int64       `json:"report_id"`
	State     ReportState `json:"state"`
	Priority  *Priority   `json:"priority,omitempty"`
	UpdatedAt time.Time   `json:"updated_at"`
	Version   int         `json:"version"`
}

type ReportFilter struct {
	UserID         *int64
	SecurityUserID *int64
	ZoneID         *int64
	State          ReportState
	Limit          int
	Offset         int
}

type NotificationDelivery struct {
	ID          int64     `json:"id"`
	Channel     string    `json:"channel"`
	Recipient   string    `json:"recipient"`
	EventType   string    `json:"event_type"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	BodyPreview string    `json:"body_preview"`
	CreatedAt   time.Time `json:"created_at"`
}

type DeliveryFilter struct {
	Channel   string
	Status    string
	Recipient string
	Limit     int
}
