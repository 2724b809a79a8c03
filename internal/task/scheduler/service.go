package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "locatealert/pkg/logx"
)

type Config struct {
	Timezone string // IANA name; empty means UTC
	// Spread delays the first tick of interval schedules by up to 30s.
	Spread bool
}

// Job is a unit of scheduled work. It must honor ctx.
type Job func(ctx context.Context) error

type entry struct {
	name    string
	spec    ParsedSpec
	timeout time.Duration
	job     Job
	id      cron.EntryID
	stats   *runStats
}

type runStats struct {
	running  atomic.Bool
	mu       sync.Mutex
	lastRun  time.Time
	lastTook time.Duration
	lastErr  string
	runs     uint64
	skipped  uint64
}

// Info describes one registered schedule.
type Info struct {
	Name     string        `json:"name"`
	Spec     string        `json:"spec"`
	Next     time.Time     `json:"next"`
	LastRun  time.Time     `json:"lastRun"`
	LastTook time.Duration `json:"lastTook"`
	LastErr  string        `json:"lastError,omitempty"`
	Running  bool          `json:"running"`
	Runs     uint64        `json:"runs"`
	Skipped  uint64        `json:"skipped"`
}

type Service struct {
	mu      sync.Mutex
	log     logx.Logger
	cfg     Config
	c       *cron.Cron
	entries map[string]*entry
	baseCtx context.Context
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "scheduler")),
		entries: map[string]*entry{},
		baseCtx: context.Background(),
	}
}

func (s *Service) location() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, using UTC", logx.String("tz", tz), logx.Err(err))
		return time.UTC
	}
	return loc
}

// Add registers (or replaces) the schedule called name.
func (s *Service) Add(name, schedule string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("schedule name required")
	}
	if job == nil {
		return errors.New("schedule job required")
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[name]; ok && s.c != nil {
		s.c.Remove(old.id)
	}
	e := &entry{name: name, spec: ps, timeout: timeout, job: job, stats: &runStats{}}
	s.entries[name] = e
	if s.c != nil {
		if err := s.registerLocked(e); err != nil {
			delete(s.entries, name)
			return err
		}
	}
	return nil
}

// Remove unregisters name. It reports whether the schedule existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return false
	}
	if s.c != nil {
		s.c.Remove(e.id)
	}
	delete(s.entries, name)
	return true
}

func (s *Service) registerLocked(e *entry) error {
	run := cron.FuncJob(func() { s.runEntry(e) })
	if e.spec.Kind == SpecInterval && s.cfg.Spread {
		sched, jitter := withStartupSpread(e.spec.Every, time.Now())
		e.id = s.c.Schedule(sched, run)
		s.log.Debug("schedule registered", logx.String("name", e.name), logx.String("spec", e.spec.CronSpec()), logx.Duration("spread", jitter))
		return nil
	}
	id, err := s.c.AddJob(e.spec.CronSpec(), run)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", e.name, err)
	}
	e.id = id
	s.log.Debug("schedule registered", logx.String("name", e.name), logx.String("spec", e.spec.CronSpec()))
	return nil
}

// runEntry executes one run. A run that finds the previous one still in
// flight is dropped rather than queued; cron ticks are already serialized by
// SkipIfStillRunning, so this mainly guards RunNow.
func (s *Service) runEntry(e *entry) {
	if !e.stats.running.CompareAndSwap(false, true) {
		e.stats.mu.Lock()
		e.stats.skipped++
		e.stats.mu.Unlock()
		s.log.Warn("previous run still in flight, tick skipped", logx.String("name", e.name))
		return
	}
	defer e.stats.running.Store(false)

	ctx := s.baseCtx
	cancel := context.CancelFunc(func() {})
	if e.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
	}
	defer cancel()

	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return e.job(ctx)
	}()
	took := time.Since(start)

	e.stats.mu.Lock()
	e.stats.lastRun = start
	e.stats.lastTook = took
	e.stats.runs++
	e.stats.lastErr = ""
	if err != nil {
		e.stats.lastErr = err.Error()
	}
	e.stats.mu.Unlock()

	if err != nil {
		s.log.Error("scheduled run failed", logx.String("name", e.name), logx.Duration("took", took), logx.Err(err))
		return
	}
	s.log.Debug("scheduled run finished", logx.String("name", e.name), logx.Duration("took", took))
}

// Start begins triggering. Runs inherit values (not cancellation) from ctx;
// Stop ends them.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.baseCtx = context.WithoutCancel(ctx)
	loc := s.location()
	s.c = cron.New(
		cron.WithLocation(loc),
		cron.WithParser(cron.NewParser(cron.SecondOptional|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
		cron.WithChain(cron.Recover(cronLogger{s.log}), cron.SkipIfStillRunning(cronLogger{s.log})),
	)
	for _, e := range s.entries {
		if err := s.registerLocked(e); err != nil {
			s.log.Error("schedule register failed", logx.String("name", e.name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", loc.String()), logx.Int("schedules", len(s.entries)))
}

// Stop stops triggering and waits for in-flight runs until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// Apply replaces the config. A running scheduler is restarted so timezone
// and spread changes take effect.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	running := s.c != nil
	changed := s.cfg != cfg
	s.cfg = cfg
	base := s.baseCtx
	s.mu.Unlock()
	if !running || !changed {
		return
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(stopCtx)
	s.Start(base)
}

// RunNow executes name immediately, outside its schedule. It shares the
// overlap guard with scheduled ticks.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("schedule %s not found", name)
	}
	go s.runEntry(e)
	return nil
}

// Snapshot lists registered schedules sorted by name.
func (s *Service) Snapshot() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, 0, len(s.entries))
	for _, e := range s.entries {
		info := Info{Name: e.name, Spec: e.spec.CronSpec(), Running: e.stats.running.Load()}
		if s.c != nil {
			info.Next = s.c.Entry(e.id).Next
		}
		e.stats.mu.Lock()
		info.LastRun, info.LastTook, info.LastErr = e.stats.lastRun, e.stats.lastTook, e.stats.lastErr
		info.Runs, info.Skipped = e.stats.runs, e.stats.skipped
		e.stats.mu.Unlock()
		out = append(out, info)
	}
	sortInfos(out)
	return out
}

func sortInfos(v []Info) {
	sort.Slice(v, func(i, j int) bool { return v[i].Name < v[j].Name })
}

// cronLogger routes robfig/cron's internal logging through logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug(msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error(msg, logx.Err(err), logx.Any("kv", kv))
}
