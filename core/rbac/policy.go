package rbac

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

type Permission string

const (
	PermReportsCreate      Permission = "reports.create"
	PermReportsView        Permission = "reports.view"
	PermReportsViewAll     Permission = "reports.view_all"
	PermReportsManage      Permission = "reports.manage"
	PermReportsHandle      Permission = "reports.security.handle"
	PermReportsReview      Permission = "reports.admin.review"
	PermZonesView          Permission = "zones.view"
	PermZonesSweep         Permission = "zones.sweep"
	PermNotificationsView  Permission = "notifications.deliveries.view"
	PermNotificationsWatch Permission = "notifications.watch"

	// Capabilities: permissions that change behavior rather than gate a route.
	CapDailyQuota Permission = "reports.daily_quota"
	CapZoneAlerts Permission = "zones.alerts.receive"
	CapAssignable Permission = "reports.assignable"
)

const (
	RoleUser       = "ROLE_USUARIO"
	RoleSecurity   = "ROLE_SEGURIDAD"
	RoleAdmin      = "ROLE_ADMIN"
	RoleSuperAdmin = "ROLE_SUPERADMIN"
)

type Role struct {
	Name        string
	Inherits    []string
	Permissions []Permission
}

func DefaultRoles() []Role {
	return []Role{
		{
			Name: RoleUser,
			Permissions: []Permission{
				PermReportsCreate, PermReportsView, PermZonesView, PermNotificationsWatch,
				CapDailyQuota, CapZoneAlerts,
			},
		},
		{
			Name: RoleSecurity,
			Permissions: []Permission{
				PermReportsView, PermReportsHandle, PermZonesView, PermNotificationsWatch, CapAssignable,
			},
		},
		{
			Name: RoleAdmin,
			Permissions: []Permission{
				PermReportsCreate, PermReportsView, PermReportsViewAll, PermReportsManage, PermReportsReview,
				PermZonesView, PermNotificationsView, PermNotificationsWatch,
			},
		},
		{
			Name:        RoleSuperAdmin,
			Inherits:    []string{RoleAdmin},
			Permissions: []Permission{PermZonesSweep},
		},
	}
}

const modelText = `
[request_definition]
r = sub, perm

[policy_definition]
p = sub, perm

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.perm == p.perm
`

// Policy answers role/permission questions through a casbin enforcer built from
// an in-memory role list.
type Policy struct {
	mu       sync.RWMutex
	enforcer *casbin.SyncedEnforcer
	roles    []string
}

func NewPolicy(roles []Role) *Policy {
	p := &Policy{}
	if err := p.Load(roles); err != nil {
		panic(err)
	}
	return p
}

func (p *Policy) Load(roles []Role) error {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return fmt.Errorf("rbac model: %w", err)
	}
	e, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return fmt.Errorf("rbac enforcer: %w", err)
	}
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		name := normalizeRole(role.Name)
		if name == "" {
			continue
		}
		names = append(names, name)
		for _, perm := range role.Permissions {
			if _, err := e.AddPolicy(name, string(perm)); err != nil {
				return err
			}
		}
		for _, parent := range role.Inherits {
			if _, err := e.AddGroupingPolicy(name, normalizeRole(parent)); err != nil {
				return err
			}
		}
	}
	sort.Strings(names)
	p.mu.Lock()
	p.enforcer = e
	p.roles = names
	p.mu.Unlock()
	return nil
}

func (p *Policy) Allowed(roles []string, perm Permission) bool {
	if p == nil || perm == "" {
		return false
	}
	p.mu.RLock()
	e := p.enforcer
	p.mu.RUnlock()
	if e == nil {
		return false
	}
	for _, role := range roles {
		ok, err := e.Enforce(normalizeRole(role), string(perm))
		if err == nil && ok {
			return true
		}
	}
	return false
}

// RolesWith lists the configured roles granting perm, directly or by inheritance.
func (p *Policy) RolesWith(perm Permission) []string {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	names := append([]string(nil), p.roles...)
	p.mu.RUnlock()
	var out []string
	for _, name := range names {
		if p.Allowed([]string{name}, perm) {
			out = append(out, name)
		}
	}
	return out
}

func normalizeRole(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
