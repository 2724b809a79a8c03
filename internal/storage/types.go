package storage

import (
	"context"
	"errors"
	"time"

	"locatealert/internal/alert"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the full persistence API. Each alert port is a subset of it.
type Store interface {
	alert.TriggerFeed
	alert.AlertRecords
	alert.Subscriptions
	alert.Preferences
	alert.Acknowledgements
	alert.Tickets
	Seeder

	Ping(ctx context.Context) error
	Close() error
}

// Ticket is the subset of a locate ticket the engine needs.
type Ticket struct {
	ID              string
	TicketNumber    string
	OrganizationID  string
	DigSiteAddress  string
	DigSiteCity     string
	LegalDigDate    time.Time
	ExpiresAt       time.Time
	LastAlertSentAt *time.Time
	AlertCount      int
}

// PendingTrigger is an upstream-evaluated "ticket needs alert_type now" row.
type PendingTrigger struct {
	TicketID         string
	AlertType        alert.Type
	HoursUntilDig    float64
	HoursUntilExpire *float64
}

// Seeder writes the rows owned by upstream components (ticket intake, the
// time-window evaluator, the settings pages). The engine itself only reads
// them; seeding exists for imports, fixtures and tests.
type Seeder interface {
	UpsertTicket(ctx context.Context, t Ticket) error
	GetTicket(ctx context.Context, id string) (Ticket, error)
	PutTrigger(ctx context.Context, p PendingTrigger) error
	ClearTriggers(ctx context.Context) error
	UpsertSubscription(ctx context.Context, s alert.Subscription) error
	UpsertPreference(ctx context.Context, p alert.Preference) error
	ListRecords(ctx context.Context, ticketID string) ([]alert.Record, error)
	ListAcks(ctx context.Context) ([]alert.Acknowledgement, error)
}
