package dispatch

import "time"

const (
	DefaultWorkers            = 4
	DefaultSendTimeout        = 10 * time.Second
	DefaultRatePerSec         = 10.0
	DefaultChannelConcurrency = 4
	DefaultRetryInitial       = 500 * time.Millisecond
	DefaultRetryMaxInterval   = 10 * time.Second
	DefaultClaimTTL           = 10 * time.Minute
)

// Config tunes the dispatcher. Zero values take the defaults above.
type Config struct {
	Workers            int
	SendTimeout        time.Duration
	RatePerSec         float64 // per channel
	Burst              int     // per channel; 0 means ceil(RatePerSec)
	ChannelConcurrency int     // in-flight sends per channel

	// ClaimTTL is how long a dedup claim holds without any record behind it.
	// An older claim belonged to a pass that died and is taken over.
	ClaimTTL time.Duration

	// RetryMax > 0 enables BackoffRetry for failed sends.
	RetryMax         int
	RetryInitial     time.Duration
	RetryMaxInterval time.Duration
}

func (c Config) normalize() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = DefaultRatePerSec
	}
	if c.Burst <= 0 {
		c.Burst = int(c.RatePerSec)
		if float64(c.Burst) < c.RatePerSec {
			c.Burst++
		}
	}
	if c.ChannelConcurrency <= 0 {
		c.ChannelConcurrency = DefaultChannelConcurrency
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = DefaultClaimTTL
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = DefaultRetryInitial
	}
	if c.RetryMaxInterval <= 0 {
		c.RetryMaxInterval = DefaultRetryMaxInterval
	}
	return c
}

func (c Config) retryPolicy() RetryPolicy {
	if c.RetryMax <= 0 {
		return NoRetry{}
	}
	return BackoffRetry{Max: c.RetryMax, Initial: c.RetryInitial, MaxInterval: c.RetryMaxInterval}
}
