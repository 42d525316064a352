package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"utp-reporta/core/rbac"
	"utp-reporta/core/store"
	"utp-reporta/core/utils"

	"github.com/gofrs/uuid/v5"
	"github.com/patrickmn/go-cache"
)

type contextKey string

const (
	ActorContextKey     contextKey = "actor"
	RequestIDContextKey contextKey = "request_id"
)

var ErrUnknownIdentity = errors.New("auth.unknownIdentity")

func WithActor(ctx context.Context, a *rbac.Actor) context.Context {
	return context.WithValue(ctx, ActorContextKey, a)
}

func ActorFrom(ctx context.Context) *rbac.Actor {
	a, _ := ctx.Value(ActorContextKey).(*rbac.Actor)
	return a
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDContextKey, id)
}

func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDContextKey).(string)
	return id
}

func NewRequestID() string {
	return uuid.Must(uuid.NewV4()).String()
}

// Resolver turns the username forwarded by the gateway into an Actor. Lookups are
// cached briefly so a burst of requests from one user hits the store once.
type Resolver struct {
	users  store.UsersStore
	policy *rbac.Policy
	cache  *cache.Cache
	logger *utils.Logger
}

func NewResolver(users store.UsersStore, policy *rbac.Policy, ttl time.Duration, logger *utils.Logger) *Resolver {
	r := &Resolver{users: users, policy: policy, logger: logger}
	if ttl > 0 {
		r.cache = cache.New(ttl, 2*ttl)
	}
	return r
}

func (r *Resolver) Resolve(ctx context.Context, username string) (*rbac.Actor, error) {
	key := strings.ToLower(strings.TrimSpace(username))
	if key == "" {
		return nil, ErrUnknownIdentity
	}
	if r.cache != nil {
		if v, ok := r.cache.Get(key); ok {
			return v.(*rbac.Actor), nil
		}
	}
	u, err := r.users.FindByUsername(ctx, key)
	if err != nil {
		return nil, err
	}
	if u == nil || !u.Active {
		if r.logger != nil {
			r.logger.Printf("auth: unknown or inactive identity %q", key)
		}
		return nil, ErrUnknownIdentity
	}
	a := r.policy.ActorFor(u)
	if r.cache != nil {
		r.cache.Set(key, a, cache.DefaultExpiration)
	}
	return a, nil
}

// Forget drops a cached identity, e.g. after a role change.
func (r *Resolver) Forget(username string) {
	if r.cache != nil {
		r.cache.Delete(strings.ToLower(strings.TrimSpace(username)))
	}
}
