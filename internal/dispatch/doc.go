// Package dispatch turns trigger-feed rows into alert records, channel sends
// and acknowledgements.
//
// Each trigger passes a per-day dedup gate, fans out to eligible subscribers
// and their channels, and leaves an append-only record per channel. Tickets
// are processed on a bounded worker pool; channel sends are bounded per
// channel by a semaphore, a token-bucket limiter and a per-call timeout.
package dispatch
