package config

import (
	"hash/fnv"
	"sort"
	"strings"

	logx "locatealert/pkg/logx"
)

// Change summarizes a reload. Attrs never include secrets (tokens, api keys).
type Change struct {
	Sections []string
	Attrs    []logx.Field
	// Restart lists sections whose changes only apply after a restart.
	Restart []string
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// SummarizeConfigChange compares two configs section by section.
func SummarizeConfigChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var ch Change
	mark := func(section string, restart bool, attrs ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		ch.Attrs = append(ch.Attrs, attrs...)
		if restart {
			ch.Restart = append(ch.Restart, section)
		}
	}

	// addr needs a new listener; the token and timeouts are read per server start too.
	if oldCfg.HTTP != newCfg.HTTP {
		mark("http", true,
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Bool("http.token_set", strings.TrimSpace(newCfg.HTTP.Token) != ""),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		mark("logging", false,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	// the bot client is built once at startup
	if oldCfg.Telegram != newCfg.Telegram {
		mark("telegram", true,
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		mark("scheduler", false,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.every", strings.TrimSpace(newCfg.Scheduler.Every)),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	if oldCfg.Dispatcher != newCfg.Dispatcher {
		d := newCfg.Dispatcher
		mark("dispatcher", false,
			logx.Int("dispatcher.workers", d.Workers),
			logx.String("dispatcher.send_timeout", d.SendTimeout),
			logx.String("dispatcher.run_timeout", d.RunTimeout),
			logx.Int("dispatcher.retry_max", d.RetryMax),
		)
	}

	if oldCfg.Email != newCfg.Email {
		mark("email", true,
			logx.Bool("email.endpoint_set", strings.TrimSpace(newCfg.Email.Endpoint) != ""),
			logx.Bool("email.api_key_set", strings.TrimSpace(newCfg.Email.APIKey) != ""),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		mark("storage", true, logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)))
	}

	sort.Strings(ch.Sections)
	sort.Strings(ch.Restart)
	return ch
}

// hashBytes returns a stable 64-bit hash of bytes. Empty input returns 0.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
