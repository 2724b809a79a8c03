// Package sender delivers rendered alerts over concrete channels.
//
// EMAIL goes to an HTTP JSON email provider (or a log-only fallback when no
// provider is configured). SMS is a log-only stub. PUSH and IN_APP are
// served by the polling client from the stored alert records, so their
// sender only logs the hand-off.
package sender
