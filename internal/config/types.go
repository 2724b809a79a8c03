package config

// Config is the on-disk configuration. All durations are Go duration strings
// (e.g. "500ms", "10s", "15m"); empty means the component default.
type Config struct {
	HTTP       HTTPConfig       `json:"http"`
	Logging    LoggingConfig    `json:"logging"`
	Telegram   TelegramConfig   `json:"telegram,omitempty"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Dispatcher DispatcherConfig `json:"dispatcher"`
	Email      EmailConfig      `json:"email,omitempty"`
	Storage    StorageConfig    `json:"storage"`
}

// HTTPConfig controls the trigger/ack API. Changing addr requires a restart.
type HTTPConfig struct {
	Addr string `json:"addr"`
	// Token, when set, must be sent as "Authorization: Bearer <token>" on POST routes.
	Token        string `json:"token,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
	// Pprof exposes runtime profiles under /debug/pprof.
	Pprof bool `json:"pprof,omitempty"`
}

type LoggingConfig struct {
	Level    string              `json:"level"`
	Console  bool                `json:"console"`
	File     LoggingFileConfig   `json:"file"`
	Telegram LoggingTelegramConf `json:"telegram"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegramConf forwards warnings and errors to an operator chat.
// It needs telegram.token to be set.
type LoggingTelegramConf struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// TelegramConfig holds the bot credentials used for ops log delivery only.
type TelegramConfig struct {
	Token   string `json:"token"`
	Timeout string `json:"timeout,omitempty"`
}

// SchedulerConfig controls when the batch runs.
//
// Every accepts a cron expression, "every:<duration>", a bare duration or
// HH:MM (daily). Defaults to "15m".
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Every    string `json:"every,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	Spread   bool   `json:"spread,omitempty"`
}

// DispatcherConfig tunes alert fan-out. Zero values fall back to defaults.
type DispatcherConfig struct {
	Workers            int     `json:"workers,omitempty"`
	SendTimeout        string  `json:"send_timeout,omitempty"`
	RunTimeout         string  `json:"run_timeout,omitempty"`
	RatePerSec         float64 `json:"rate_per_sec,omitempty"`
	Burst              int     `json:"burst,omitempty"`
	ChannelConcurrency int     `json:"channel_concurrency,omitempty"`
	RetryMax           int     `json:"retry_max,omitempty"`
	RetryInitial       string  `json:"retry_initial,omitempty"`
	RetryMaxInterval   string  `json:"retry_max_interval,omitempty"`
}

// EmailConfig selects the email provider. With an empty endpoint, emails are
// logged instead of sent.
type EmailConfig struct {
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"api_key"`
	From     string `json:"from"`
	Timeout  string `json:"timeout,omitempty"`
}

// StorageConfig selects the store. Changing it requires a restart.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}
