package alert

import (
	"strings"
	"time"
)

// Type names the condition that makes a ticket need attention now.
type Type string

const (
	Type48Hour           Type = "48_HOUR"
	Type24Hour           Type = "24_HOUR"
	Type4Hour            Type = "4_HOUR"
	Type2Hour            Type = "2_HOUR"
	TypeSameDay          Type = "SAME_DAY"
	TypeOverdue          Type = "OVERDUE"
	Type2HourExpiration  Type = "2_HOUR_EXPIRATION"
	Type4HourExpiration  Type = "4_HOUR_EXPIRATION"
	Type2HourUpdateBy    Type = "2_HOUR_UPDATE_BY"
	Type4HourUpdateBy    Type = "4_HOUR_UPDATE_BY"
	TypeAtUpdateBy       Type = "AT_UPDATE_BY"
	TypeConflict         Type = "CONFLICT"
	TypeEmergency        Type = "EMERGENCY"
	TypeDigUp            Type = "DIG_UP"
	TypeHighRisk         Type = "HIGH_RISK"
	TypeResponseReceived Type = "RESPONSE_RECEIVED"
	TypeExpiringSoon     Type = "EXPIRING_SOON"
)

// OptInKey is the persisted name of the subscription flag for t, e.g. "alert_48_hour".
func (t Type) OptInKey() string {
	return "alert_" + strings.ToLower(string(t))
}

// Priority is the urgency tier derived from an alert type.
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityWarning  Priority = "WARNING"
	PriorityInfo     Priority = "INFO"
)

type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
	ChannelPush  Channel = "PUSH"
	ChannelInApp Channel = "IN_APP"
)

// AllChannels lists every channel in routing order.
var AllChannels = []Channel{ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp}

// Trigger is one "ticket needs an alert" row produced by the upstream feed.
type Trigger struct {
	TicketID         string
	TicketNumber     string
	AlertType        Type
	OrganizationID   string
	LegalDigDate     time.Time
	TicketExpiresAt  time.Time
	HoursUntilDig    float64
	HoursUntilExpire *float64
	DigSiteAddress   string
	DigSiteCity      string
}

// OptIn is a tri-state subscription flag. The zero value is OptInUnset.
type OptIn int

const (
	OptInUnset OptIn = iota
	OptInEnabled
	OptInDisabled
)

// OptInFromBool converts a stored boolean to an explicit OptIn.
func OptInFromBool(v bool) OptIn {
	if v {
		return OptInEnabled
	}
	return OptInDisabled
}

// Enabled resolves the flag: anything not explicitly disabled is enabled.
func (o OptIn) Enabled() bool { return o != OptInDisabled }

// Subscription is a user's alert settings within one organization.
type Subscription struct {
	ID             string
	UserID         string
	OrganizationID string

	ChannelEmail bool
	ChannelSMS   bool
	ChannelPush  bool
	ChannelInApp bool

	// OptIns holds per-alert-type flags. Missing keys are OptInUnset.
	OptIns map[Type]OptIn

	EmailAddress string
	PhoneNumber  string
	IsActive     bool
}

// WantsAlert reports whether the subscription has not opted out of t.
func (s Subscription) WantsAlert(t Type) bool {
	return s.OptIns[t].Enabled()
}

// ChannelEnabled reports the subscriber's own switch for c.
func (s Subscription) ChannelEnabled(c Channel) bool {
	switch c {
	case ChannelEmail:
		return s.ChannelEmail
	case ChannelSMS:
		return s.ChannelSMS
	case ChannelPush:
		return s.ChannelPush
	case ChannelInApp:
		return s.ChannelInApp
	default:
		return false
	}
}

// HasContactFor reports whether the subscription carries the datum c needs.
// PUSH and IN_APP need none.
func (s Subscription) HasContactFor(c Channel) bool {
	switch c {
	case ChannelEmail:
		return strings.TrimSpace(s.EmailAddress) != ""
	case ChannelSMS:
		return strings.TrimSpace(s.PhoneNumber) != ""
	default:
		return true
	}
}

type Role string

const (
	RoleOffice Role = "OFFICE"
	RoleField  Role = "FIELD"
)

// Preference is a user's delivery policy. Use DefaultPreference when none is stored.
type Preference struct {
	UserID string
	Role   Role

	QuietModeEnabled bool
	QuietModeUntil   *time.Time

	AlwaysAlertOnExpired   bool
	AlwaysAlertOnConflict  bool
	AlwaysAlertOnEmergency bool

	OverrideEnabledBy *string
	OverrideExpiresAt *time.Time
}

// DefaultPreference is the policy of a user with no stored preference: always deliver.
func DefaultPreference(userID string) Preference {
	return Preference{
		UserID:                 userID,
		Role:                   RoleOffice,
		AlwaysAlertOnExpired:   true,
		AlwaysAlertOnConflict:  true,
		AlwaysAlertOnEmergency: true,
	}
}

// Record is one dispatched alert on one channel. Records are never updated.
type Record struct {
	ID             string
	TicketID       string
	SubscriptionID string
	UserID         string
	AlertType      Type
	Channel        Channel
	Priority       Priority
	Subject        string
	Body           string
	SentAt         time.Time
}

type AckStatus string

const (
	AckSent         AckStatus = "SENT"
	AckAcknowledged AckStatus = "ACKNOWLEDGED"
	AckEscalated    AckStatus = "ESCALATED"
)

// AckWindow is how long a recipient has to acknowledge a critical alert.
const AckWindow = 15 * time.Minute

// EscalationReason is stored on acknowledgements the sweeper escalates.
const EscalationReason = "No acknowledgement received within deadline"

// Acknowledgement tracks whether a human confirmed a critical alert in time.
//
// SENT -> ACKNOWLEDGED (user action) or SENT -> ESCALATED (sweeper).
// Both targets are terminal.
type Acknowledgement struct {
	ID                  string
	AlertID             string
	UserID              string
	Status              AckStatus
	SentAt              time.Time
	SentVia             []Channel
	RequiresExplicitAck bool
	AckDeadline         time.Time
	AcknowledgedAt      *time.Time
	EscalatedAt         *time.Time
	EscalationReason    string
}

// NewAcknowledgement builds the SENT acknowledgement for a critical record.
func NewAcknowledgement(id string, rec Record) Acknowledgement {
	return Acknowledgement{
		ID:                  id,
		AlertID:             rec.ID,
		UserID:              rec.UserID,
		Status:              AckSent,
		SentAt:              rec.SentAt,
		SentVia:             []Channel{rec.Channel},
		RequiresExplicitAck: true,
		AckDeadline:         rec.SentAt.Add(AckWindow),
	}
}

// Day truncates t to its UTC calendar day, the dedup granularity.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
