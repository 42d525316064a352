package zones

import (
	"context"
	"errors"
	"fmt"
	"time"

	"utp-reporta/config"
	"utp-reporta/core/clock"
	"utp-reporta/core/metrics"
	"utp-reporta/core/store"
	"utp-reporta/core/utils"
)

var ErrZoneNotFound = errors.New("zones.notFound")

type Thresholds struct {
	CautionFrom   int
	DangerousFrom int
}

func DefaultThresholds() Thresholds {
	return Thresholds{CautionFrom: 6, DangerousFrom: 11}
}

func ThresholdsFrom(cfg config.ZonesConfig) Thresholds {
	t := DefaultThresholds()
	if cfg.CautionFrom > 0 && cfg.DangerousFrom > cfg.CautionFrom {
		t.CautionFrom = cfg.CautionFrom
		t.DangerousFrom = cfg.DangerousFrom
	}
	return t
}

func (t Thresholds) Classify(count int) store.ZoneLevel {
	switch {
	case count >= t.DangerousFrom:
		return store.LevelDangerous
	case count >= t.CautionFrom:
		return store.LevelCaution
	default:
		return store.LevelSafe
	}
}

// Change is the outcome of one tracker mutation.
type Change struct {
	Zone     store.Zone
	Previous store.ZoneLevel
	Current  store.ZoneLevel
}

func (c Change) Changed() bool {
	return c.Previous != c.Current
}

// Escalated is true only for a change into CAUTION or DANGEROUS.
func (c Change) Escalated() bool {
	return c.Changed() && (c.Current == store.LevelCaution || c.Current == store.LevelDangerous)
}

// State is the read-only projection returned by getZoneState.
type State struct {
	ZoneID      int64           `json:"zone_id"`
	Name        string          `json:"name"`
	Level       store.ZoneLevel `json:"level"`
	Counter     int             `json:"counter"`
	WindowStart *time.Time      `json:"window_start,omitempty"`
}

// Tracker owns every write to a zone's risk fields. Resolutions and the expiry sweep
// both go through ZonesStore.MutateZone, so they serialize on the same row lock.
type Tracker struct {
	zones      store.ZonesStore
	clock      clock.Source
	window     time.Duration
	thresholds Thresholds
	metrics    *metrics.Metrics
	logger     *utils.Logger
}

func NewTracker(zones store.ZonesStore, src clock.Source, cfg config.ZonesConfig, m *metrics.Metrics, logger *utils.Logger) *Tracker {
	return &Tracker{
		zones:      zones,
		clock:      src,
		window:     cfg.Window(),
		thresholds: ThresholdsFrom(cfg),
		metrics:    m,
		logger:     logger,
	}
}

func (t *Tracker) Window() time.Duration {
	return t.window
}

func (t *Tracker) RecordResolution(ctx context.Context, zoneID int64) (*Change, error) {
	return t.RecordResolutionAt(ctx, zoneID, t.clock.Now())
}

func (t *Tracker) RecordResolutionAt(ctx context.Context, zoneID int64, now time.Time) (*Change, error) {
	var change Change
	z, err := t.zones.MutateZone(ctx, zoneID, func(z *store.Zone) (bool, error) {
		change.Previous = z.Level
		applyResolution(z, now, t.window, t.thresholds)
		return true, nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: zone %d", ErrZoneNotFound, zoneID)
		}
		return nil, err
	}
	change.Zone = *z
	change.Current = z.Level
	t.metrics.ZoneResolved(string(change.Previous), string(change.Current))
	if change.Changed() && t.logger != nil {
		t.logger.Printf("zones: zone %d %s -> %s (count=%d)", zoneID, change.Previous, change.Current, z.ReportCount)
	}
	return &change, nil
}

// ExpireWindows resets every zone whose window lapsed before now. Re-running it
// for the same instant is a no-op.
func (t *Tracker) ExpireWindows(ctx context.Context) ([]Change, error) {
	return t.ExpireWindowsAt(ctx, t.clock.Now())
}

func (t *Tracker) ExpireWindowsAt(ctx context.Context, now time.Time) ([]Change, error) {
	ids, err := t.zones.ListZoneIDsWithOpenWindow(ctx)
	if err != nil {
		return nil, err
	}
	var changes []Change
	var firstErr error
	for _, id := range ids {
		var prev store.ZoneLevel
		reset := false
		z, err := t.zones.MutateZone(ctx, id, func(z *store.Zone) (bool, error) {
			if !windowExpired(z, now, t.window) {
				return false, nil
			}
			prev = z.Level
			resetWindow(z)
			reset = true
			return true, nil
		})
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if t.logger != nil {
				t.logger.Errorf("zones: reset zone %d: %v", id, err)
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !reset {
			continue
		}
		t.metrics.ZoneReset(string(prev))
		changes = append(changes, Change{Zone: *z, Previous: prev, Current: z.Level})
	}
	return changes, firstErr
}

func (t *Tracker) State(ctx context.Context, zoneID int64) (*State, error) {
	z, err := t.zones.GetZone(ctx, zoneID)
	if err != nil {
		return nil, err
	}
	if z == nil {
		return nil, fmt.Errorf("%w: zone %d", ErrZoneNotFound, zoneID)
	}
	st := StateOf(*z)
	return &st, nil
}

func StateOf(z store.Zone) State {
	return State{ZoneID: z.ID, Name: z.Name, Level: z.Level, Counter: z.ReportCount, WindowStart: z.WindowStart}
}

func applyResolution(z *store.Zone, now time.Time, window time.Duration, th Thresholds) {
	if z.WindowStart == nil || windowExpired(z, now, window) {
		start := now.UTC()
		z.WindowStart = &start
		z.ReportCount = 1
	} else {
		z.ReportCount++
	}
	z.Level = th.Classify(z.ReportCount)
}

// windowExpired is strict: a resolution exactly at start+window still counts.
func windowExpired(z *store.Zone, now time.Time, window time.Duration) bool {
	if z.WindowStart == nil {
		return false
	}
	return now.After(z.WindowStart.Add(window))
}

func resetWindow(z *store.Zone) {
	z.ReportCount = 0
	z.WindowStart = nil
	z.Level = store.LevelSafe
}
