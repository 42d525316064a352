package routegroups

import "net/http"

// Guards wraps every routegroup handler: identity first, then the named permission.
type Guards struct {
	WithSession       func(http.HandlerFunc) http.HandlerFunc
	RequirePermission func(string) func(http.HandlerFunc) http.HandlerFunc
	RateLimit         func(http.HandlerFunc) http.HandlerFunc
}

func (g Guards) SessionPerm(perm string, h http.HandlerFunc) http.HandlerFunc {
	return g.WithSession(g.RequirePermission(perm)(h))
}

// SessionPermLimited is SessionPerm with the submission limiter after the permission check.
func (g Guards) SessionPermLimited(perm string, h http.HandlerFunc) http.HandlerFunc {
	if g.RateLimit == nil {
		return g.SessionPerm(perm, h)
	}
	return g.WithSession(g.RequirePermission(perm)(g.RateLimit(h)))
}
