// Package supervisor runs the process's long-lived goroutines under one
// context with panic recovery and restart-on-failure.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	logx "locatealert/pkg/logx"
)

// Supervisor owns a cancelable context shared by every goroutine it starts.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	firstErr atomic.Value // error
	errOnce  sync.Once
	wg       sync.WaitGroup
	waitOnce sync.Once
	doneCh   chan struct{}

	mu    sync.Mutex
	stats map[string]*TaskStats
}

// TaskStats is a best-effort view of one named goroutine.
type TaskStats struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	Starts    uint64    `json:"starts"`
	Panics    uint64    `json:"panics"`
	LastErr   string    `json:"lastError,omitempty"`
	LastErrAt time.Time `json:"lastErrorAt,omitempty"`
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option { return func(s *Supervisor) { s.log = log } }

// WithCancelOnError cancels every goroutine once any of them fails.
func WithCancelOnError(enabled bool) Option { return func(s *Supervisor) { s.cancelOnErr = enabled } }

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, doneCh: make(chan struct{}), stats: map[string]*TaskStats{}}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }
func (s *Supervisor) Cancel()                  { s.cancel() }

// Err returns the first failure recorded by any goroutine.
func (s *Supervisor) Err() error {
	if err, ok := s.firstErr.Load().(error); ok {
		return err
	}
	return nil
}

// Go runs fn once. A panic or a non-cancel error is recorded and, with
// WithCancelOnError, stops the siblings.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.runOnce(name, fn)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.fail(fmt.Errorf("%s: %w", name, err))
		}
	}()
}

// GoRestart runs fn until ctx is canceled, restarting it with exponential
// backoff after errors or panics. A nil return ends the loop.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, minWait, maxWait time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = minWait
		b.MaxInterval = maxWait
		b.MaxElapsedTime = 0
		for {
			start := time.Now()
			err := s.runOnce(name, fn)
			if s.ctx.Err() != nil || err == nil || errors.Is(err, context.Canceled) {
				return
			}
			if time.Since(start) > 30*time.Second {
				b.Reset()
			}
			wait := b.NextBackOff()
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}()
}

func (s *Supervisor) runOnce(name string, fn func(ctx context.Context) error) (err error) {
	st := s.noteStart(name)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			s.mu.Lock()
			st.Panics++
			s.mu.Unlock()
			err = fmt.Errorf("panic: %v", r)
		}
		s.noteStop(st, err)
	}()
	s.log.Debug("goroutine started", logx.String("name", name))
	return fn(s.ctx)
}

func (s *Supervisor) noteStart(name string) *TaskStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats[name]
	if st == nil {
		st = &TaskStats{Name: name}
		s.stats[name] = st
	}
	st.Starts++
	st.Running = true
	return st
}

func (s *Supervisor) noteStop(st *TaskStats, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.Running = false
	if err != nil && !errors.Is(err, context.Canceled) {
		st.LastErr = err.Error()
		st.LastErrAt = time.Now()
	}
}

func (s *Supervisor) fail(err error) {
	s.errOnce.Do(func() { s.firstErr.Store(err) })
	s.log.Error("goroutine failed", logx.Err(err))
	if s.cancelOnErr {
		s.cancel()
	}
}

// Snapshot lists goroutine stats sorted by name.
func (s *Supervisor) Snapshot() []TaskStats {
	s.mu.Lock()
	out := make([]TaskStats, 0, len(s.stats))
	for _, st := range s.stats {
		out = append(out, *st)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stop cancels the context and waits for every goroutine, or for ctx.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.doneCh)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
		return s.Err()
	}
}

// Done is closed when the supervisor context is canceled.
func (s *Supervisor) Done() <-chan struct{} { return s.ctx.Done() }
