package dispatch

import (
	"context"

	"golang.org/x/time/rate"

	"locatealert/internal/alert"
)

// channelGate bounds sends on one channel: at most cap(sem) in flight, and
// no faster than the limiter allows.
type channelGate struct {
	sem chan struct{}
	lim *rate.Limiter
}

func newChannelGate(cfg Config) *channelGate {
	return &channelGate{
		sem: make(chan struct{}, cfg.ChannelConcurrency),
		lim: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
	}
}

func (g *channelGate) acquire(ctx context.Context) (func(), error) {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := g.lim.Wait(ctx); err != nil {
		<-g.sem
		return nil, err
	}
	return func() { <-g.sem }, nil
}

func newGates(cfg Config) map[alert.Channel]*channelGate {
	out := make(map[alert.Channel]*channelGate, len(alert.AllChannels))
	for _, ch := range alert.AllChannels {
		out[ch] = newChannelGate(cfg)
	}
	return out
}
