package app

import (
	"context"
	"strings"
	"time"

	"locatealert/internal/batch"
	"locatealert/internal/config"
	"locatealert/internal/dispatch"
	"locatealert/internal/httpapi"
	"locatealert/internal/sender"
	"locatealert/internal/task/scheduler"
	"locatealert/internal/transport/telegram"
	logx "locatealert/pkg/logx"
)

const (
	defaultEvery       = "15m"
	defaultTGTimeout   = 10 * time.Second
	defaultEmailTimout = 10 * time.Second
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
		OpsChat: logx.OpsChatConfig{
			Enabled:    l.Telegram.Enabled,
			ChatID:     l.Telegram.ChatID,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

// mapTelegramConfig reports enabled=false when no token is configured.
func mapTelegramConfig(cfg *config.Config) (telegram.Config, bool, error) {
	token := strings.TrimSpace(cfg.Telegram.Token)
	if token == "" {
		return telegram.Config{}, false, nil
	}
	timeout, err := config.ParseDurationOrDefault("telegram.timeout", cfg.Telegram.Timeout, defaultTGTimeout)
	if err != nil {
		return telegram.Config{}, false, err
	}
	return telegram.Config{Token: token, Timeout: timeout}, true, nil
}

// mapDispatcherConfig returns the dispatcher limits and the batch run timeout.
// A dedup claim outlives its pass only if the pass never finished, so claims
// go stale after one run timeout.
func mapDispatcherConfig(cfg *config.Config) (dispatch.Config, time.Duration, error) {
	d := cfg.Dispatcher
	sendTimeout, err := config.ParseDurationOrDefault("dispatcher.send_timeout", d.SendTimeout, dispatch.DefaultSendTimeout)
	if err != nil {
		return dispatch.Config{}, 0, err
	}
	runTimeout, err := config.ParseDurationOrDefault("dispatcher.run_timeout", d.RunTimeout, batch.DefaultRunTimeout)
	if err != nil {
		return dispatch.Config{}, 0, err
	}
	retryInitial, err := config.ParseDurationOrDefault("dispatcher.retry_initial", d.RetryInitial, dispatch.DefaultRetryInitial)
	if err != nil {
		return dispatch.Config{}, 0, err
	}
	retryMaxInterval, err := config.ParseDurationOrDefault("dispatcher.retry_max_interval", d.RetryMaxInterval, dispatch.DefaultRetryMaxInterval)
	if err != nil {
		return dispatch.Config{}, 0, err
	}
	return dispatch.Config{
		Workers:            d.Workers,
		SendTimeout:        sendTimeout,
		RatePerSec:         d.RatePerSec,
		Burst:              d.Burst,
		ChannelConcurrency: d.ChannelConcurrency,
		ClaimTTL:           runTimeout,
		RetryMax:           d.RetryMax,
		RetryInitial:       retryInitial,
		RetryMaxInterval:   retryMaxInterval,
	}, runTimeout, nil
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	h := cfg.HTTP
	read, err := config.ParseDurationField("http.read_timeout", h.ReadTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := config.ParseDurationField("http.write_timeout", h.WriteTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	idle, err := config.ParseDurationField("http.idle_timeout", h.IdleTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Addr:         strings.TrimSpace(h.Addr),
		Token:        strings.TrimSpace(h.Token),
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
		Pprof:        h.Pprof,
	}, nil
}

// mapEmailConfig reports enabled=false when no provider endpoint is set.
func mapEmailConfig(cfg *config.Config) (sender.HTTPEmailConfig, bool, error) {
	e := cfg.Email
	if strings.TrimSpace(e.Endpoint) == "" {
		return sender.HTTPEmailConfig{}, false, nil
	}
	timeout, err := config.ParseDurationOrDefault("email.timeout", e.Timeout, defaultEmailTimout)
	if err != nil {
		return sender.HTTPEmailConfig{}, false, err
	}
	return sender.HTTPEmailConfig{
		Endpoint: strings.TrimSpace(e.Endpoint),
		APIKey:   strings.TrimSpace(e.APIKey),
		From:     strings.TrimSpace(e.From),
		Timeout:  timeout,
	}, true, nil
}

// mapSchedulerConfig returns the scheduler settings and the batch schedule.
func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, string, error) {
	s := cfg.Scheduler
	every := strings.TrimSpace(s.Every)
	if every == "" {
		every = defaultEvery
	}
	if _, err := scheduler.ParseSchedule(every); err != nil {
		return scheduler.Config{}, "", err
	}
	return scheduler.Config{Timezone: strings.TrimSpace(s.Timezone), Spread: s.Spread}, every, nil
}

// validateConfig runs every mapper so a reload is rejected before any
// component sees it.
func validateConfig(_ context.Context, cfg *config.Config) error {
	if _, _, err := mapTelegramConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapDispatcherConfig(cfg); err != nil {
		return err
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapEmailConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	_, err := mapStorageConfig(cfg)
	return err
}
