package alert

import "strings"

var priorityTable = map[Type]Priority{
	TypeOverdue:         PriorityCritical,
	Type2Hour:           PriorityCritical,
	Type2HourExpiration: PriorityCritical,
	Type2HourUpdateBy:   PriorityCritical,
	TypeAtUpdateBy:      PriorityCritical,
	TypeConflict:        PriorityCritical,
	TypeEmergency:       PriorityCritical,
	TypeDigUp:           PriorityCritical,

	Type4Hour:           PriorityWarning,
	Type4HourExpiration: PriorityWarning,
	Type4HourUpdateBy:   PriorityWarning,
	TypeSameDay:         PriorityWarning,
	TypeHighRisk:        PriorityWarning,
}

// Classify maps an alert type to its priority tier. Unknown types are INFO.
func Classify(t Type) Priority {
	if p, ok := priorityTable[t]; ok {
		return p
	}
	return PriorityInfo
}

// IsExpiredFamily reports whether t describes an expired or expiring ticket:
// OVERDUE or any type whose name contains "EXPIRATION".
func IsExpiredFamily(t Type) bool {
	return t == TypeOverdue || strings.Contains(string(t), "EXPIRATION")
}
