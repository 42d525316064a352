package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// Load reads the yaml file at path when it exists and overlays REPORTA_* env vars.
// An empty path reads the environment only.
func Load(path string) (*AppConfig, error) {
	var cfg AppConfig
	path = strings.TrimSpace(path)
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, &cfg); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
			return &cfg, cfg.Validate()
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	return &cfg, cfg.Validate()
}

func (c *AppConfig) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.DBDriver)) {
	case "postgres", "pgx":
		if strings.TrimSpace(c.DBURL) == "" {
			return errors.New("config: db_url is required for postgres")
		}
	case "sqlite":
		if strings.TrimSpace(c.DBPath) == "" {
			return errors.New("config: db_path is required for sqlite")
		}
	default:
		return fmt.Errorf("config: unsupported db_driver %q", c.DBDriver)
	}
	if c.Reports.DailyQuota <= 0 {
		return errors.New("config: reports.daily_quota must be positive")
	}
	if c.Zones.CautionFrom <= 0 || c.Zones.DangerousFrom <= c.Zones.CautionFrom {
		return errors.New("config: zones thresholds must satisfy 0 < caution_from < dangerous_from")
	}
	if c.Notifications.EmailEnabled && strings.TrimSpace(c.Notifications.SMTPURL) == "" {
		return errors.New("config: notifications.smtp_url is required when email is enabled")
	}
	return nil
}
