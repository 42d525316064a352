package rbac

import "utp-reporta/core/store"

// Actor is a user with capabilities resolved once at the boundary; downstream code
// asks Can instead of comparing role names.
type Actor struct {
	UserID   int64
	Username string
	Roles    []string
	SiteID   *int64
	caps     map[Permission]bool
}

var actorCapabilities = []Permission{CapDailyQuota, CapZoneAlerts, CapAssignable, PermReportsViewAll}

func (p *Policy) ActorFor(u *store.User) *Actor {
	if u == nil {
		return nil
	}
	a := &Actor{
		UserID:   u.ID,
		Username: u.Username,
		Roles:    append([]string(nil), u.Roles...),
		SiteID:   u.SiteID,
		caps:     map[Permission]bool{},
	}
	for _, c := range actorCapabilities {
		a.caps[c] = p.Allowed(u.Roles, c)
	}
	return a
}

func (a *Actor) Can(c Permission) bool {
	if a == nil {
		return false
	}
	return a.caps[c]
}
