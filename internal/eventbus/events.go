package eventbus

import "time"

const (
	TypeAlertSent       = "alert.sent"
	TypeAlertFailed     = "alert.failed"
	TypeTicketSkipped   = "ticket.skipped"
	TypeBatchCompleted  = "batch.completed"
	TypeAcksEscalated   = "ack.escalated"
	TypeAckAcknowledged = "ack.acknowledged"
	TypeConfigReloaded  = "config.reloaded"
)

type AlertSent struct {
	RecordID string
	TicketID string
	UserID   string
	Type     string
	Channel  string
	Priority string
}

type AlertFailed struct {
	RecordID string
	TicketID string
	Channel  string
	Err      string
}

type TicketSkipped struct {
	TicketID     string
	TicketNumber string
	Type         string
	Reason       string
}

type BatchCompleted struct {
	TicketsChecked int
	AlertsSent     int
	AlertsFailed   int
	Errors         int
	Escalated      int
	Duration       time.Duration
}

type AcksEscalated struct {
	Count int
	At    time.Time
}

type AckAcknowledged struct {
	AckID  string
	UserID string
}

type ConfigReloaded struct {
	Path     string
	Sections []string
	Restart  []string // changed sections that need a restart
}
