package batch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"locatealert/internal/dispatch"
	"locatealert/internal/eventbus"
	logx "locatealert/pkg/logx"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeDispatcher struct {
	sum   dispatch.Summary
	err   error
	calls int
}

func (d *fakeDispatcher) Run(ctx context.Context) (dispatch.Summary, error) {
	d.calls++
	if _, ok := ctx.Deadline(); !ok {
		return dispatch.Summary{}, errors.New("run context has no deadline")
	}
	return d.sum, d.err
}

type fakeSweeper struct {
	n   int
	err error
}

func (s fakeSweeper) Sweep(context.Context) (int, error) { return s.n, s.err }

func TestRunCombinesDispatchAndSweep(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{sum: dispatch.Summary{TicketsChecked: 3, AlertsSent: 4, Errors: []string{}}}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(2)
	defer unsub()

	j, err := New(fakePinger{}, d, fakeSweeper{n: 2}, bus, logx.Nop())
	require.NoError(t, err)
	sum, err := j.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sum.TicketsChecked)
	assert.Equal(t, 4, sum.AlertsSent)
	assert.Equal(t, 2, sum.Escalated)

	require.Len(t, events, 1)
	e := <-events
	assert.Equal(t, eventbus.TypeBatchCompleted, e.Type)
	assert.Equal(t, 2, e.Data.(eventbus.BatchCompleted).Escalated)
}

func TestStoreOutageIsFatal(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{}
	j, err := New(fakePinger{err: errors.New("database is locked")}, d, fakeSweeper{}, nil, logx.Nop())
	require.NoError(t, err)

	_, err = j.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store unavailable")
	assert.Zero(t, d.calls)
}

func TestFeedFailureIsFatal(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{err: errors.New("trigger feed: timeout")}
	j, err := New(fakePinger{}, d, fakeSweeper{n: 1}, nil, logx.Nop())
	require.NoError(t, err)
	_, err = j.Run(context.Background())
	assert.Error(t, err)
	assert.Error(t, j.Scheduled(context.Background()))
}

func TestSweepFailureIsReportedNotFatal(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{sum: dispatch.Summary{Errors: []string{"ticket 1: boom"}}}
	j, err := New(fakePinger{}, d, fakeSweeper{err: errors.New("escalate overdue acknowledgements: disk full")}, nil, logx.Nop())
	require.NoError(t, err)
	j.SetRunTimeout(time.Second)

	sum, err := j.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ticket 1: boom", "escalate overdue acknowledgements: disk full"}, sum.Errors)
}

type blockingDispatcher struct {
	started chan struct{}
	release chan struct{}
}

func (d *blockingDispatcher) Run(context.Context) (dispatch.Summary, error) {
	close(d.started)
	<-d.release
	return dispatch.Summary{TicketsChecked: 1}, nil
}

func TestOverlappingRunsAreRejected(t *testing.T) {
	t.Parallel()
	d := &blockingDispatcher{started: make(chan struct{}), release: make(chan struct{})}
	j, err := New(fakePinger{}, d, fakeSweeper{}, nil, logx.Nop())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := j.Run(context.Background())
		done <- err
	}()
	<-d.started

	_, err = j.Run(context.Background())
	require.ErrorIs(t, err, ErrRunning)
	assert.NoError(t, j.Scheduled(context.Background()), "a tick during a manual run is dropped quietly")

	close(d.release)
	require.NoError(t, <-done)

	// The guard is released once the first run returns.
	d.started, d.release = make(chan struct{}), make(chan struct{})
	close(d.release)
	sum, err := j.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.TicketsChecked)
}
