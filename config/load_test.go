package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsFromEnv(t *testing.T) {
	t.Setenv("REPORTA_DB_DRIVER", "sqlite")
	t.Setenv("REPORTA_DB_PATH", filepath.Join(t.TempDir(), "reporta.db"))
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Site.Timezone != "America/Lima" {
		t.Fatalf("unexpected timezone %q", cfg.Site.Timezone)
	}
	if cfg.Reports.DailyQuota != 3 {
		t.Fatalf("expected daily quota 3, got %d", cfg.Reports.DailyQuota)
	}
	if cfg.Scheduler.ZoneResetSpec != "0 0 * * *" {
		t.Fatalf("unexpected reset spec %q", cfg.Scheduler.ZoneResetSpec)
	}
	if cfg.Zones.Window() != 7*24*time.Hour {
		t.Fatalf("unexpected window %s", cfg.Zones.Window())
	}
	if !cfg.Notifications.ZoneAlertsSiteScoped {
		t.Fatalf("zone alerts should be site scoped by default")
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	raw := "db_driver: sqlite\n" +
		"db_path: " + filepath.Join(dir, "x.db") + "\n" +
		"reports:\n  daily_quota: 5\n" +
		"zones:\n  caution_from: 4\n  dangerous_from: 9\n"
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Reports.DailyQuota != 5 || cfg.Zones.CautionFrom != 4 || cfg.Zones.DangerousFrom != 9 {
		t.Fatalf("yaml values not applied: %+v", cfg)
	}
}

func TestValidateRejectsInvertedThresholds(t *testing.T) {
	cfg := &AppConfig{
		DBDriver: "sqlite",
		DBPath:   "x.db",
		Reports:  ReportsConfig{DailyQuota: 3},
		Zones:    ZonesConfig{CautionFrom: 10, DangerousFrom: 6},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidateRequiresSMTPURLWhenEmailEnabled(t *testing.T) {
	cfg := &AppConfig{
		DBDriver:      "sqlite",
		DBPath:        "x.db",
		Reports:       ReportsConfig{DailyQuota: 3},
		Zones:         ZonesConfig{CautionFrom: 6, DangerousFrom: 11},
		Notifications: NotificationsConfig{EmailEnabled: true},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected smtp url error")
	}
}
