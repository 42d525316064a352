package reports

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"utp-reporta/config"
	"utp-reporta/core/clock"
	"utp-reporta/core/metrics"
	"utp-reporta/core/rbac"
	"utp-reporta/core/store"
	"utp-reporta/core/utils"
	"utp-reporta/core/zones"
)

// RiskTracker is the slice of the zone tracker the lifecycle needs.
type RiskTracker interface {
	RecordResolution(ctx context.Context, zoneID int64) (*zones.Change, error)
}

// Notifier receives committed transitions; it decides what, if anything, to send
// and never reports failures back.
type Notifier interface {
	ReportTransitioned(ctx context.Context, report store.Report)
	ZoneTransitioned(ctx context.Context, change zones.Change)
}

type NewReport struct {
	UserID         int64
	IncidentTypeID int64
	ZoneID         int64
	Description    string
	Photo          []byte
	Anonymous      bool
	Contact        *string
}

type TransitionRequest struct {
	ReportID         int64
	Target           store.ReportState
	Priority         *store.Priority
	AssignSecurityID *int64
	SecurityMessage  *string
	AdminMessage     *string
	// Event pins the edge a named operation must take; empty derives it from the target.
	Event Event
}

type Service struct {
	reports    store.ReportsStore
	users      store.UsersStore
	zones      store.ZonesStore
	catalog    store.CatalogStore
	risk       RiskTracker
	notifier   Notifier
	policy     *rbac.Policy
	clock      clock.Source
	dailyQuota int
	metrics    *metrics.Metrics
	logger     *utils.Logger
}

type Deps struct {
	Reports  store.ReportsStore
	Users    store.UsersStore
	Zones    store.ZonesStore
	Catalog  store.CatalogStore
	Risk     RiskTracker
	Notifier Notifier
	Policy   *rbac.Policy
	Clock    clock.Source
	Metrics  *metrics.Metrics
	Logger   *utils.Logger
}

func NewService(cfg config.ReportsConfig, deps Deps) *Service {
	quota := cfg.DailyQuota
	if quota <= 0 {
		quota = 3
	}
	return &Service{
		reports:    deps.Reports,
		users:      deps.Users,
		zones:      deps.Zones,
		catalog:    deps.Catalog,
		risk:       deps.Risk,
		notifier:   deps.Notifier,
		policy:     deps.Policy,
		clock:      deps.Clock,
		dailyQuota: quota,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
	}
}

func (s *Service) DailyQuota() int {
	return s.dailyQuota
}

func (s *Service) CreateReport(ctx context.Context, in NewReport) (*store.Report, error) {
	it, err := s.catalog.GetIncidentType(ctx, in.IncidentTypeID)
	if err != nil {
		return nil, err
	}
	if it == nil {
		return nil, notFound("incident type", in.IncidentTypeID)
	}
	zone, err := s.zones.GetZone(ctx, in.ZoneID)
	if err != nil {
		return nil, err
	}
	if zone == nil {
		return nil, notFound("zone", in.ZoneID)
	}
	user, err := s.users.GetUser(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, notFound("user", in.UserID)
	}
	now := s.clock.Now()
	var quota *store.DailyQuota
	if s.policy.ActorFor(user).Can(rbac.CapDailyQuota) {
		quota = &store.DailyQuota{UserID: user.ID, Day: now.Format(clock.DateLayout), Limit: s.dailyQuota}
	}
	var contact *string
	if in.Contact != nil {
		if v := strings.TrimSpace(*in.Contact); v != "" {
			contact = &v
		}
	}
	rep := &store.Report{
		IncidentTypeID: it.ID,
		ZoneID:         zone.ID,
		Description:    strings.TrimSpace(in.Description),
		Photo:          in.Photo,
		CreatedAt:      now,
		Anonymous:      in.Anonymous,
		Contact:        contact,
		UserID:         user.ID,
	}
	if _, err := s.reports.CreateReport(ctx, rep, quota); err != nil {
		if errors.Is(err, store.ErrQuotaReached) {
			s.metrics.QuotaRejected()
			return nil, &QuotaError{Limit: s.dailyQuota, ResetIn: clock.UntilNextDay(now)}
		}
		return nil, err
	}
	s.metrics.ReportCreated()
	if s.logger != nil {
		s.logger.Printf("reports: created report %d zone=%d user=%s", rep.ID, rep.ZoneID, user.Username)
	}
	created, err := s.Transition(ctx, rep.ID, store.StatePending, nil, nil)
	if err != nil {
		if s.logger != nil {
			s.logger.Errorf("reports: initial gestion for report %d: %v", rep.ID, err)
		}
		return rep, nil
	}
	return created, nil
}

func (s *Service) GetReport(ctx context.Context, id int64) (*store.Report, error) {
	rep, err := s.reports.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}
	if rep == nil {
		return nil, notFound("report", id)
	}
	return rep, nil
}

func (s *Service) ListReports(ctx context.Context, filter store.ReportFilter) ([]store.Report, error) {
	return s.reports.ListReports(ctx, filter)
}

// Transition moves a report to target, optionally overwriting priority and assignee.
func (s *Service) Transition(ctx context.Context, reportID int64, target store.ReportState, priority *store.Priority, assignSecurityID *int64) (*store.Report, error) {
	return s.Apply(ctx, TransitionRequest{
		ReportID:         reportID,
		Target:           target,
		Priority:         priority,
		AssignSecurityID: assignSecurityID,
	})
}

func (s *Service) EnRoute(ctx context.Context, reportID int64) (*store.Report, error) {
	return s.Apply(ctx, TransitionRequest{ReportID: reportID, Target: store.StateLocating, Event: EventDispatch})
}

func (s *Service) OnSite(ctx context.Context, reportID int64) (*store.Report, error) {
	return s.Apply(ctx, TransitionRequest{ReportID: reportID, Target: store.StateInvestigating, Event: EventArrive})
}

// CompleteBySecurity always stores the message, so an empty one clears the previous security note.
func (s *Service) CompleteBySecurity(ctx context.Context, reportID int64, message string) (*store.Report, error) {
	return s.Apply(ctx, TransitionRequest{ReportID: reportID, Target: store.StateAwaitingApproval, Event: EventComplete, SecurityMessage: &message})
}

// ResolveByAdmin closes the report; an empty message keeps the previous admin note.
func (s *Service) ResolveByAdmin(ctx context.Context, reportID int64, message string) (*store.Report, error) {
	req := TransitionRequest{ReportID: reportID, Target: store.StateResolved, Event: EventApprove}
	if strings.TrimSpace(message) != "" {
		req.AdminMessage = &message
	}
	return s.Apply(ctx, req)
}

// RejectByAdmin sends the report back to investigation; an empty message keeps the previous one.
func (s *Service) RejectByAdmin(ctx context.Context, reportID int64, message string) (*store.Report, error) {
	req := TransitionRequest{ReportID: reportID, Target: store.StateInvestigating, Event: EventReject}
	if strings.TrimSpace(message) != "" {
		req.AdminMessage = &message
	}
	return s.Apply(ctx, req)
}

// Cancel closes the report from any open state; an empty message keeps the previous admin note.
func (s *Service) Cancel(ctx context.Context, reportID int64, message string) (*store.Report, error) {
	req := TransitionRequest{ReportID: reportID, Target: store.StateCancelled, Event: EventCancel}
	if strings.TrimSpace(message) != "" {
		req.AdminMessage = &message
	}
	return s.Apply(ctx, req)
}

func (s *Service) Apply(ctx context.Context, req TransitionRequest) (*store.Report, error) {
	if _, ok := store.ParseReportState(string(req.Target)); !ok {
		return nil, fmt.Errorf("%w: unknown state %q", ErrBadRequest, req.Target)
	}
	if req.AssignSecurityID != nil {
		assignee, err := s.users.GetUser(ctx, *req.AssignSecurityID)
		if err != nil {
			return nil, err
		}
		if assignee == nil {
			return nil, notFound("user", *req.AssignSecurityID)
		}
		if !s.policy.ActorFor(assignee).Can(rbac.CapAssignable) {
			return nil, fmt.Errorf("%w: user %s cannot be assigned to reports", ErrBadRequest, assignee.Username)
		}
	}
	now := s.clock.Now()
	var from store.ReportState
	rep, err := s.reports.ApplyTransition(ctx, store.TransitionUpdate{
		ReportID:         req.ReportID,
		AssignSecurityID: req.AssignSecurityID,
		SecurityMessage:  req.SecurityMessage,
		AdminMessage:     req.AdminMessage,
		Apply: func(m *store.ReportManagement) error {
			from = m.State
			if err := checkTransition(m.State, req.Target, req.Event); err != nil {
				return err
			}
			m.State = req.Target
			if req.Priority != nil {
				p := *req.Priority
				m.Priority = &p
			}
			m.UpdatedAt = now.UTC()
			return nil
		},
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFound("report", req.ReportID)
		}
		return nil, err
	}
	s.metrics.ReportTransitioned(string(req.Target))
	if s.logger != nil && from != req.Target {
		s.logger.Printf("reports: report %d %s -> %s", rep.ID, from, req.Target)
	}
	s.afterCommit(ctx, *rep, from, req.Target)
	return rep, nil
}

// afterCommit notifies on every committed gestion write, same-state updates included; the
// notifier filters by state. Only an actual move into RESUELTO counts against the zone.
func (s *Service) afterCommit(ctx context.Context, rep store.Report, from, to store.ReportState) {
	if s.notifier != nil {
		s.notifier.ReportTransitioned(ctx, rep)
	}
	if from == to || to != store.StateResolved || s.risk == nil {
		return
	}
	change, err := s.risk.RecordResolution(ctx, rep.ZoneID)
	if err != nil {
		if s.logger != nil {
			s.logger.Errorf("reports: record resolution for zone %d (report %d): %v", rep.ZoneID, rep.ID, err)
		}
		return
	}
	if s.notifier != nil {
		s.notifier.ZoneTransitioned(ctx, *change)
	}
}

func checkTransition(from, to store.ReportState, ev Event) error {
	if ev == "" {
		if _, ok := EventFor(from, to); !ok {
			return &TransitionError{From: from, To: to}
		}
		return nil
	}
	next, ok := Next(from, ev)
	if !ok || next != to {
		return &TransitionError{From: from, To: to, Event: ev}
	}
	return nil
}
