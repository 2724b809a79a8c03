// Package scheduler triggers named jobs on cron or interval schedules.
//
// Jobs never overlap themselves: a tick that arrives while the previous run
// is still in flight is skipped. Each run gets its own timeout.
package scheduler
