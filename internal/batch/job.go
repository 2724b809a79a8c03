// Package batch runs one alert invocation: connectivity check, dispatch of
// the trigger feed, then the escalation sweep.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"locatealert/internal/dispatch"
	"locatealert/internal/eventbus"
	logx "locatealert/pkg/logx"
)

const DefaultRunTimeout = 5 * time.Minute

// ErrRunning is returned by Run while another batch is in flight.
var ErrRunning = errors.New("alert batch already running")

var batchDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "locatealert_batch_duration_seconds",
		Help:    "Wall time of one alert batch.",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	},
	[]string{"outcome"},
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Dispatcher interface {
	Run(ctx context.Context) (dispatch.Summary, error)
}

type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type Job struct {
	store      Pinger
	dispatcher Dispatcher
	sweeper    Sweeper
	bus        eventbus.Bus
	log        logx.Logger
	runTimeout atomic.Int64
	running    atomic.Bool
}

func New(store Pinger, d Dispatcher, s Sweeper, bus eventbus.Bus, log logx.Logger) (*Job, error) {
	if store == nil || d == nil || s == nil {
		return nil, errors.New("batch: store, dispatcher and sweeper are required")
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	j := &Job{store: store, dispatcher: d, sweeper: s, bus: bus, log: log.With(logx.String("comp", "batch"))}
	j.SetRunTimeout(DefaultRunTimeout)
	return j, nil
}

// SetRunTimeout bounds future runs. Non-positive values restore the default.
func (j *Job) SetRunTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultRunTimeout
	}
	j.runTimeout.Store(int64(d))
}

// Run executes one batch. The returned error is fatal for the invocation;
// everything else is reported inside the Summary. Scheduled and manual runs
// share one guard: a call made while a batch is in flight returns ErrRunning.
func (j *Job) Run(ctx context.Context) (dispatch.Summary, error) {
	if !j.running.CompareAndSwap(false, true) {
		return dispatch.Summary{}, ErrRunning
	}
	defer j.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, time.Duration(j.runTimeout.Load()))
	defer cancel()

	start := time.Now()
	sum, err := j.run(ctx)
	took := time.Since(start)
	if err != nil {
		batchDuration.WithLabelValues("fatal").Observe(took.Seconds())
		j.log.Error("alert batch failed", logx.Duration("took", took), logx.Err(err))
		return sum, err
	}
	batchDuration.WithLabelValues("ok").Observe(took.Seconds())

	fields := []logx.Field{
		logx.Int("tickets", sum.TicketsChecked),
		logx.Int("sent", sum.AlertsSent),
		logx.Int("failed", sum.AlertsFailed),
		logx.Int("skipped", sum.Skipped),
		logx.Int("expired", sum.ExpiredTickets),
		logx.Int("escalated", sum.Escalated),
		logx.Int("errors", len(sum.Errors)),
		logx.Duration("took", took),
	}
	if len(sum.Errors) > 0 {
		j.log.Warn("alert batch finished with errors", append(fields, logx.Strings("first_errors", head(sum.Errors, 3)))...)
	} else {
		j.log.Info("alert batch finished", fields...)
	}
	j.bus.Publish(eventbus.Event{Type: eventbus.TypeBatchCompleted, Data: eventbus.BatchCompleted{
		TicketsChecked: sum.TicketsChecked,
		AlertsSent:     sum.AlertsSent,
		AlertsFailed:   sum.AlertsFailed,
		Errors:         len(sum.Errors),
		Escalated:      sum.Escalated,
		Duration:       took,
	}})
	return sum, nil
}

func (j *Job) run(ctx context.Context) (dispatch.Summary, error) {
	if err := j.store.Ping(ctx); err != nil {
		return dispatch.Summary{}, fmt.Errorf("store unavailable: %w", err)
	}
	sum, err := j.dispatcher.Run(ctx)
	if err != nil {
		return dispatch.Summary{}, err
	}
	// The sweep is independent of the dispatch outcome.
	n, err := j.sweeper.Sweep(ctx)
	if err != nil {
		sum.Errors = append(sum.Errors, err.Error())
	}
	sum.Escalated = n
	return sum, nil
}

// Scheduled adapts Run to the scheduler's job signature. A tick that lands
// on a manual run is dropped.
func (j *Job) Scheduled(ctx context.Context) error {
	_, err := j.Run(ctx)
	if errors.Is(err, ErrRunning) {
		j.log.Warn("alert batch still running, tick skipped")
		return nil
	}
	return err
}

func head(v []string, n int) []string {
	if len(v) <= n {
		return v
	}
	return v[:n]
}
