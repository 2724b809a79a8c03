package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validate rejects configs that would fail at startup or on hot reload.
// Schedule expressions are checked by the caller, which owns the parser.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	durations := []struct{ path, raw string }{
		{"http.read_timeout", cfg.HTTP.ReadTimeout},
		{"http.write_timeout", cfg.HTTP.WriteTimeout},
		{"http.idle_timeout", cfg.HTTP.IdleTimeout},
		{"telegram.timeout", cfg.Telegram.Timeout},
		{"dispatcher.send_timeout", cfg.Dispatcher.SendTimeout},
		{"dispatcher.run_timeout", cfg.Dispatcher.RunTimeout},
		{"dispatcher.retry_initial", cfg.Dispatcher.RetryInitial},
		{"dispatcher.retry_max_interval", cfg.Dispatcher.RetryMaxInterval},
		{"email.timeout", cfg.Email.Timeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	if strings.TrimSpace(cfg.HTTP.Addr) == "" {
		return errors.New("http.addr is required")
	}

	d := cfg.Dispatcher
	if d.Workers < 0 {
		return errors.New("dispatcher.workers must be >= 0")
	}
	if d.RatePerSec < 0 {
		return errors.New("dispatcher.rate_per_sec must be >= 0")
	}
	if d.Burst < 0 {
		return errors.New("dispatcher.burst must be >= 0")
	}
	if d.ChannelConcurrency < 0 {
		return errors.New("dispatcher.channel_concurrency must be >= 0")
	}
	if d.RetryMax < 0 {
		return errors.New("dispatcher.retry_max must be >= 0")
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}

	if lt := cfg.Logging.Telegram; lt.Enabled {
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			return errors.New("logging.telegram.enabled requires telegram.token")
		}
		if lt.ChatID == 0 {
			return errors.New("logging.telegram.chat_id is required when logging.telegram.enabled")
		}
		if lt.RatePerSec < 0 {
			return errors.New("logging.telegram.rate_per_sec must be >= 0")
		}
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		return errors.New("logging.file.path is required when logging.file.enabled")
	}

	if ep := strings.TrimSpace(cfg.Email.Endpoint); ep != "" {
		u, err := url.Parse(ep)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("email.endpoint: invalid url %q", ep)
		}
		if strings.TrimSpace(cfg.Email.From) == "" {
			return errors.New("email.from is required when email.endpoint is set")
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "memory":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			return errors.New("storage.path is required when storage.driver=sqlite")
		}
	case "", "none":
		return errors.New("storage.driver is required")
	default:
		return fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver)
	}
	return nil
}
