package clock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"utp-reporta/config"
	"utp-reporta/core/utils"

	cache "github.com/patrickmn/go-cache"
)

const (
	DefaultTimezone = "America/Lima"
	DateLayout      = "2006-01-02"
	remoteLayout    = "2006-01-02T15:04:05.999999999"
	offsetCacheKey  = "remote_offset"
)

// Source is the only place domain code reads wall-clock time from.
type Source interface {
	Now() time.Time
}

// Today returns the site calendar date of src.Now().
func Today(src Source) string {
	return src.Now().Format(DateLayout)
}

// UntilNextDay is the time left before the site calendar date rolls over.
func UntilNextDay(now time.Time) time.Duration {
	y, m, d := now.Date()
	next := time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
	return next.Sub(now)
}

// LoadLocation resolves the site zone, falling back to TZ and then UTC.
func LoadLocation(name string) *time.Location {
	for _, candidate := range []string{strings.TrimSpace(name), strings.TrimSpace(os.Getenv("TZ")), DefaultTimezone} {
		if candidate == "" {
			continue
		}
		if loc, err := time.LoadLocation(candidate); err == nil {
			return loc
		}
	}
	return time.UTC
}

// SiteClock reports site-local time. When a remote time service is configured its
// offset from the local clock is cached; any remote failure degrades to local time.
type SiteClock struct {
	loc     *time.Location
	url     string
	client  *http.Client
	offsets *cache.Cache
	logger  *utils.Logger
	local   func() time.Time

	mu   sync.Mutex
	last time.Time
}

func NewSiteClock(cfg config.SiteConfig, logger *utils.Logger) *SiteClock {
	ttl := cfg.TimeCacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	timeout := cfg.TimeAPITimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	c := &SiteClock{
		loc:     LoadLocation(cfg.Timezone),
		client:  &http.Client{Timeout: timeout},
		offsets: cache.New(ttl, ttl*2),
		logger:  logger,
		local:   time.Now,
	}
	if cfg.RemoteTimeEnabled {
		c.url = strings.TrimSpace(cfg.TimeAPIURL)
	}
	return c
}

func (c *SiteClock) Location() *time.Location {
	return c.loc
}

func (c *SiteClock) Now() time.Time {
	local := c.local()
	now := local.Add(c.offset(local)).In(c.loc)
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Before(c.last) {
		return c.last
	}
	c.last = now
	return now
}

func (c *SiteClock) offset(local time.Time) time.Duration {
	if c.url == "" {
		return 0
	}
	if v, ok := c.offsets.Get(offsetCacheKey); ok {
		return v.(time.Duration)
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.client.Timeout)
	defer cancel()
	remote, err := c.fetchRemote(ctx)
	if err != nil {
		if c.logger != nil {
			c.logger.Errorf("clock: remote time unavailable, using local time: %v", err)
		}
		// Cache the fallback too so a dead endpoint is not hit on every call.
		c.offsets.Set(offsetCacheKey, time.Duration(0), cache.DefaultExpiration)
		return 0
	}
	off := remote.Sub(local)
	c.offsets.Set(offsetCacheKey, off, cache.DefaultExpiration)
	return off
}

type remoteTime struct {
	DateTime string `json:"dateTime"`
}

func (c *SiteClock) fetchRemote(ctx context.Context) (time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return time.Time{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return time.Time{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return time.Time{}, fmt.Errorf("time api status %d", resp.StatusCode)
	}
	var payload remoteTime
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return time.Time{}, err
	}
	raw := strings.TrimSpace(payload.DateTime)
	if raw == "" {
		return time.Time{}, errors.New("time api: empty dateTime")
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	return time.ParseInLocation(remoteLayout, raw, c.loc)
}

// Fixed is a settable clock for tests.
type Fixed struct {
	mu  sync.Mutex
	now time.Time
}

func NewFixed(now time.Time) *Fixed {
	return &Fixed{now: now}
}

func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fixed) Set(now time.Time) {
	f.mu.Lock()
	f.now = now
	f.mu.Unlock()
}

func (f *Fixed) Advance(d time.Duration) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	return f.now
}
