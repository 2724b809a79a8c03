package alert

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a state transition that the current row does not allow.
	ErrConflict = errors.New("conflict")
)

// TriggerFeed yields the tickets that crossed an alert threshold. The engine
// treats it as authoritative and never recomputes time windows.
type TriggerFeed interface {
	TicketsNeedingAlerts(ctx context.Context) ([]Trigger, error)
}

// AlertRecords is the append-only dispatch log and the dedup source of truth.
type AlertRecords interface {
	FindByTicketAndTypeOnDay(ctx context.Context, ticketID string, t Type, day time.Time) ([]Record, error)
	// ClaimDispatch atomically reserves (ticketID, t, Day(at)) and stamps the
	// claim with at. It returns false when the key is already claimed, unless
	// that claim was stamped before staleBefore; a zero staleBefore never
	// takes over an existing claim.
	ClaimDispatch(ctx context.Context, ticketID string, t Type, at, staleBefore time.Time) (bool, error)
	ReleaseDispatch(ctx context.Context, ticketID string, t Type, day time.Time) error
	InsertRecord(ctx context.Context, r Record) (string, error)
}

type Subscriptions interface {
	ListActiveByOrg(ctx context.Context, organizationID string) ([]Subscription, error)
}

// Preferences returns DefaultPreference(userID) when the user has none stored.
type Preferences interface {
	GetByUser(ctx context.Context, userID string) (Preference, error)
}

type Acknowledgements interface {
	InsertAck(ctx context.Context, a Acknowledgement) error
	GetAck(ctx context.Context, id string) (Acknowledgement, error)
	// EscalateOverdue moves every SENT acknowledgement that requires an
	// explicit ack and whose deadline is before now to ESCALATED.
	EscalateOverdue(ctx context.Context, now time.Time, reason string) (int, error)
	// Acknowledge moves a SENT acknowledgement owned by userID to ACKNOWLEDGED.
	// It returns ErrNotFound or ErrConflict when the transition is not allowed.
	Acknowledge(ctx context.Context, id, userID string, now time.Time) (Acknowledgement, error)
}

// Tickets receives best-effort bookkeeping after a ticket was alerted.
type Tickets interface {
	RecordAlertSent(ctx context.Context, ticketID string, at time.Time, alerts int) error
}
