package alert

import "time"

// Decision is the outcome of evaluating a user's preference for one alert.
type Decision struct {
	Deliver bool
	Reason  string
}

const (
	ReasonOverride      = "override_active"
	ReasonAlwaysAlert   = "always_alert"
	ReasonQuietMode     = "quiet_mode"
	ReasonQuietCritical = "quiet_mode_critical"
	ReasonFieldRole     = "field_role"
	ReasonOfficeRole    = "office_role"
)

// Evaluate decides whether an alert of type t and priority p reaches the user
// described by pref. Rules are checked in order and the first match wins:
// active override, always-alert exception, quiet mode, FIELD role, default.
func Evaluate(pref Preference, t Type, p Priority, now time.Time) Decision {
	if pref.overrideActive(now) {
		return Decision{Deliver: true, Reason: ReasonOverride}
	}
	if pref.alwaysAlert(t) {
		return Decision{Deliver: true, Reason: ReasonAlwaysAlert}
	}
	if pref.quietActive(now) {
		if p == PriorityCritical {
			return Decision{Deliver: true, Reason: ReasonQuietCritical}
		}
		return Decision{Deliver: false, Reason: ReasonQuietMode}
	}
	if pref.Role == RoleField {
		return Decision{Deliver: p == PriorityCritical || p == PriorityWarning, Reason: ReasonFieldRole}
	}
	return Decision{Deliver: true, Reason: ReasonOfficeRole}
}

func (p Preference) overrideActive(now time.Time) bool {
	return p.OverrideEnabledBy != nil && p.OverrideExpiresAt != nil && p.OverrideExpiresAt.After(now)
}

func (p Preference) alwaysAlert(t Type) bool {
	switch {
	case IsExpiredFamily(t):
		return p.AlwaysAlertOnExpired
	case t == TypeConflict:
		return p.AlwaysAlertOnConflict
	case t == TypeEmergency || t == TypeDigUp:
		return p.AlwaysAlertOnEmergency
	default:
		return false
	}
}

func (p Preference) quietActive(now time.Time) bool {
	if !p.QuietModeEnabled {
		return false
	}
	return p.QuietModeUntil == nil || p.QuietModeUntil.After(now)
}
