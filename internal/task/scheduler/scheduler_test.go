package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	logx "locatealert/pkg/logx"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		duration time.Duration
		cron     string
	}{
		{name: "cron", raw: "*/15 * * * *", kind: SpecCron, source: "cron", cron: "*/15 * * * *"},
		{name: "descriptor", raw: "@every 15m", kind: SpecCron, source: "cron", cron: "@every 15m"},
		{name: "prefixed cron", raw: "cron:0 6 * * *", kind: SpecCron, source: "cron", cron: "0 6 * * *"},
		{name: "duration", raw: "15m", kind: SpecInterval, source: "duration", duration: 15 * time.Minute, cron: "@every 15m0s"},
		{name: "prefixed interval", raw: "every:45s", kind: SpecInterval, source: "duration", duration: 45 * time.Second},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, source: "hhmm", duration: 90 * time.Minute},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == SpecInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
			if tt.cron != "" && got.CronSpec() != tt.cron {
				t.Fatalf("CronSpec = %q, want %q", got.CronSpec(), tt.cron)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "0m", "every:", "cron:", "00:00", "12:75"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestSpreadDelaysOnlyFirstTick(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	sched, jitter := withStartupSpread(15*time.Minute, now)
	if jitter < 0 || jitter >= maxStartupSpread {
		t.Fatalf("jitter out of range: %v", jitter)
	}
	first := sched.Next(now)
	if want := now.Add(15*time.Minute + jitter); !first.Equal(want) {
		t.Fatalf("first = %v, want %v", first, want)
	}
	if second := sched.Next(first); second.Sub(first) != 15*time.Minute {
		t.Fatalf("second tick gap = %v", second.Sub(first))
	}
}

func TestRunNowSkipsWhileRunning(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())

	release := make(chan struct{})
	var runs atomic.Int32
	err := s.Add("batch", "15m", time.Second, func(ctx context.Context) error {
		runs.Add(1)
		<-release
		return nil
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.RunNow("batch"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	waitFor(t, func() bool { return s.Snapshot()[0].Running })

	e := s.entries["batch"]
	s.runEntry(e) // overlaps the in-flight run
	close(release)
	waitFor(t, func() bool { return !s.Snapshot()[0].Running })

	info := s.Snapshot()[0]
	if runs.Load() != 1 || info.Runs != 1 || info.Skipped != 1 {
		t.Fatalf("runs=%d info=%+v", runs.Load(), info)
	}
}

func TestRunRecordsErrorsAndTimeout(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	_ = s.Add("slow", "1h", 20*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	_ = s.Add("panics", "1h", 0, func(context.Context) error { panic("boom") })

	s.runEntry(s.entries["slow"])
	s.runEntry(s.entries["panics"])

	snap := s.Snapshot()
	if len(snap) != 2 || snap[0].Name != "panics" || snap[1].Name != "slow" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap[0].LastErr != "panic: boom" {
		t.Fatalf("panics LastErr = %q", snap[0].LastErr)
	}
	if snap[1].LastErr != context.DeadlineExceeded.Error() {
		t.Fatalf("slow LastErr = %q", snap[1].LastErr)
	}
}

func TestStartStopRegistersEntries(t *testing.T) {
	t.Parallel()
	s := New(Config{Timezone: "America/New_York"}, logx.Nop())
	if err := s.Add("batch", "*/15 * * * *", time.Minute, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Add: %v", err)
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())

	info := s.Snapshot()[0]
	if info.Next.IsZero() {
		t.Fatalf("expected next run to be scheduled")
	}
	if !s.Remove("batch") || s.Remove("batch") {
		t.Fatalf("Remove should succeed exactly once")
	}
	if err := s.Add("bad", "* * *", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatalf("expected invalid cron to fail while running")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
