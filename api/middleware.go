package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"utp-reporta/config"
	"utp-reporta/core/auth"
	"utp-reporta/core/rbac"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL         = 10 * time.Minute
	limiterCleanupInterval = time.Minute
	requestIDHeader        = "X-Request-ID"
)

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if s.logger != nil {
					s.logger.Errorf("PANIC %s %s: %v\n%s", r.Method, r.URL.Path, rec, string(debug.Stack()))
				}
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// submissionLimiter keeps one token bucket per client key. Buckets idle for
// limiterIdleTTL are evicted by the cache janitor.
type submissionLimiter struct {
	mu      sync.Mutex
	buckets *cache.Cache
	every   rate.Limit
	burst   int
}

// newSubmissionLimiter allows burst submissions per key, refilled evenly over refill.
func newSubmissionLimiter(burst int, refill time.Duration) *submissionLimiter {
	return &submissionLimiter{
		buckets: cache.New(limiterIdleTTL, limiterCleanupInterval),
		every:   rate.Every(refill / time.Duration(burst)),
		burst:   burst,
	}
}

func (l *submissionLimiter) allow(key string) bool {
	return l.bucket(key).Allow()
}

func (l *submissionLimiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := l.buckets.Get(key); ok {
		lim := v.(*rate.Limiter)
		l.buckets.SetDefault(key, lim)
		return lim
	}
	lim := rate.NewLimiter(l.every, l.burst)
	l.buckets.SetDefault(key, lim)
	return lim
}

func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		if isHTTPSRequest(r, s.cfg) {
			w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" || len(id) > 64 {
			id = auth.NewRequestID()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(auth.WithRequestID(r.Context(), id)))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if s.logger != nil {
			user := strings.TrimSpace(r.Header.Get(s.identityHeader()))
			if user == "" {
				user = "-"
			}
			s.logger.Printf("RESP %s %s user=%s status=%d dur=%s bytes=%d req=%s", r.Method, r.URL.Path, user, rec.status, time.Since(start), rec.size, auth.RequestIDFrom(r.Context()))
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.size += n
	return n, err
}

// Hijack keeps websocket upgrades working behind the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (s *Server) identityHeader() string {
	if s.cfg != nil && strings.TrimSpace(s.cfg.IdentityHeader) != "" {
		return s.cfg.IdentityHeader
	}
	return "X-Auth-User"
}

// withIdentity resolves the gateway-forwarded username into an Actor.
func (s *Server) withIdentity(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username := strings.TrimSpace(r.Header.Get(s.identityHeader()))
		if username == "" || s.resolver == nil {
			if s.logger != nil {
				s.logger.Printf("AUTH fail (missing identity) %s %s", r.Method, r.URL.Path)
			}
			writeError(w, http.StatusUnauthorized, "auth.unauthorized", "common.error.unauthorized")
			return
		}
		actor, err := s.resolver.Resolve(r.Context(), username)
		if err != nil {
			if errors.Is(err, auth.ErrUnknownIdentity) {
				if s.logger != nil {
					s.logger.Printf("AUTH fail (unknown identity) %s %s user=%s", r.Method, r.URL.Path, username)
				}
				writeError(w, http.StatusUnauthorized, "auth.unauthorized", "common.error.unauthorized")
				return
			}
			if s.logger != nil {
				s.logger.Errorf("AUTH resolve %s: %v", username, err)
			}
			writeError(w, http.StatusInternalServerError, "common.serverError", "common.error.serverError")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithActor(r.Context(), actor)))
	}
}

func (s *Server) requirePermission(perm rbac.Permission) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			actor := auth.ActorFrom(r.Context())
			if actor == nil {
				if s.logger != nil {
					s.logger.Printf("PERM fail (no identity) %s %s need=%s", r.Method, r.URL.Path, perm)
				}
				writeError(w, http.StatusUnauthorized, "auth.unauthorized", "common.error.unauthorized")
				return
			}
			if !s.policy.Allowed(actor.Roles, perm) {
				if s.logger != nil {
					s.logger.Printf("PERM fail %s %s user=%s roles=%v need=%s", r.Method, r.URL.Path, actor.Username, actor.Roles, perm)
				}
				writeError(w, http.StatusForbidden, "auth.forbidden", "common.error.permissionDenied")
				return
			}
			next.ServeHTTP(w, r)
		}
	}
}

// rateLimitMiddleware throttles report submission bursts per user and per client address.
func (s *Server) rateLimitMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.createLimiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		if !s.createLimiter.allow("ip|" + strings.ToLower(s.clientIP(r))) {
			writeError(w, http.StatusTooManyRequests, "common.rateLimited", "common.error.tooManyRequests")
			return
		}
		if actor := auth.ActorFrom(r.Context()); actor != nil && !s.createLimiter.allow("user|"+actor.Username) {
			writeError(w, http.StatusTooManyRequests, "common.rateLimited", "common.error.tooManyRequests")
			return
		}
		next.ServeHTTP(w, r)
	}
}

func (s *Server) clientIP(r *http.Request) string {
	ip, _, _ := net.SplitHostPort(r.RemoteAddr)
	if ip == "" {
		ip = r.RemoteAddr
	}
	ip = strings.TrimSpace(ip)
	if s == nil || s.cfg == nil || !isTrustedProxy(ip, s.cfg.Security.TrustedProxies) {
		return ip
	}
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		if candidate := extractClientIPFromXFF(xff, s.cfg.Security.TrustedProxies); candidate != "" {
			return candidate
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		if parsed := net.ParseIP(realIP); parsed != nil {
			return parsed.String()
		}
	}
	return ip
}

func isHTTPSRequest(r *http.Request, cfg *config.AppConfig) bool {
	if r == nil {
		return false
	}
	if r.TLS != nil {
		return true
	}
	if cfg == nil {
		return false
	}
	if cfg.Security.TLSEnabled {
		return true
	}
	remoteIP, _, _ := net.SplitHostPort(r.RemoteAddr)
	if remoteIP == "" {
		remoteIP = strings.TrimSpace(r.RemoteAddr)
	}
	if !isTrustedProxy(strings.TrimSpace(remoteIP), cfg.Security.TrustedProxies) {
		return false
	}
	proto := strings.ToLower(strings.TrimSpace(strings.SplitN(r.Header.Get("X-Forwarded-Proto"), ",", 2)[0]))
	return proto == "https"
}

func extractClientIPFromXFF(xff string, trusted []string) string {
	parts := strings.Split(xff, ",")
	for i := len(parts) - 1; i >= 0; i-- {
		parsed := net.ParseIP(strings.TrimSpace(parts[i]))
		if parsed == nil {
			continue
		}
		val := parsed.String()
		if !isTrustedProxy(val, trusted) {
			return val
		}
	}
	return ""
}

func isTrustedProxy(ip string, trusted []string) bool {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return false
	}
	for _, raw := range trusted {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		if strings.Contains(val, "/") {
			if _, block, err := net.ParseCIDR(val); err == nil && block.Contains(parsed) {
				return true
			}
			continue
		}
		if parsed.Equal(net.ParseIP(val)) {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, key string) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":     code,
			"i18n_key": key,
		},
	})
}
