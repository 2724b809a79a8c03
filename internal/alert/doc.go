// Package alert holds the domain model of the locate-ticket alert engine and
// its pure policies: priority classification, channel routing, per-user
// preference evaluation and message templates.
//
// Nothing in this package performs I/O. Persistence is described by the
// ports in ports.go and implemented by internal/storage.
package alert
