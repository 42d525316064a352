package rbac

import (
	"testing"

	"utp-reporta/core/store"
)

func TestDefaultRolesPermissions(t *testing.T) {
	p := NewPolicy(DefaultRoles())
	cases := []struct {
		roles []string
		perm  Permission
		want  bool
	}{
		{[]string{RoleUser}, PermReportsCreate, true},
		{[]string{RoleUser}, PermReportsReview, false},
		{[]string{RoleSecurity}, PermReportsHandle, true},
		{[]string{RoleSecurity}, PermReportsManage, false},
		{[]string{RoleAdmin}, PermReportsReview, true},
		{[]string{RoleAdmin}, PermZonesSweep, false},
		{[]string{RoleSuperAdmin}, PermZonesSweep, true},
		{[]string{RoleSuperAdmin}, PermReportsReview, true},
		{[]string{"role_usuario"}, CapDailyQuota, true},
		{[]string{RoleAdmin}, CapDailyQuota, false},
		{nil, PermZonesView, false},
	}
	for _, tc := range cases {
		if got := p.Allowed(tc.roles, tc.perm); got != tc.want {
			t.Fatalf("Allowed(%v, %s) = %v, want %v", tc.roles, tc.perm, got, tc.want)
		}
	}
}

func TestRolesWithZoneAlerts(t *testing.T) {
	p := NewPolicy(DefaultRoles())
	roles := p.RolesWith(CapZoneAlerts)
	if len(roles) != 1 || roles[0] != RoleUser {
		t.Fatalf("expected only %s to receive zone alerts, got %v", RoleUser, roles)
	}
}

func TestActorCapabilities(t *testing.T) {
	p := NewPolicy(DefaultRoles())
	user := p.ActorFor(&store.User{ID: 1, Username: "alumno", Roles: []string{RoleUser}})
	if !user.Can(CapDailyQuota) || !user.Can(CapZoneAlerts) {
		t.Fatalf("plain user should be quota limited and receive zone alerts")
	}
	admin := p.ActorFor(&store.User{ID: 2, Username: "admin", Roles: []string{RoleAdmin, RoleUser}})
	if !admin.Can(CapDailyQuota) {
		t.Fatalf("capabilities are the union of roles")
	}
	guard := p.ActorFor(&store.User{ID: 3, Username: "guardia", Roles: []string{RoleSecurity}})
	if guard.Can(CapDailyQuota) || !guard.Can(CapAssignable) {
		t.Fatalf("unexpected security capabilities")
	}
	var nilActor *Actor
	if nilActor.Can(CapDailyQuota) {
		t.Fatalf("nil actor has no capabilities")
	}
}
