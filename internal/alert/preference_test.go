package alert

import (
	"testing"
	"time"
)

func ptrTime(t time.Time) *time.Time { return &t }
func ptrStr(s string) *string        { return &s }

func TestEvaluate(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	field := DefaultPreference("u1")
	field.Role = RoleField
	field.AlwaysAlertOnExpired = false
	field.AlwaysAlertOnConflict = false
	field.AlwaysAlertOnEmergency = false

	quiet := DefaultPreference("u2")
	quiet.QuietModeEnabled = true
	quiet.AlwaysAlertOnExpired = false
	quiet.AlwaysAlertOnConflict = false
	quiet.AlwaysAlertOnEmergency = false

	quietExpired := quiet
	quietExpired.QuietModeUntil = ptrTime(now.Add(-time.Minute))

	quietFuture := quiet
	quietFuture.QuietModeUntil = ptrTime(now.Add(time.Hour))

	overridden := quiet
	overridden.OverrideEnabledBy = ptrStr("admin")
	overridden.OverrideExpiresAt = ptrTime(now.Add(time.Hour))

	staleOverride := quiet
	staleOverride.OverrideEnabledBy = ptrStr("admin")
	staleOverride.OverrideExpiresAt = ptrTime(now.Add(-time.Hour))

	overrideNoExpiry := quiet
	overrideNoExpiry.OverrideEnabledBy = ptrStr("admin")

	quietAlwaysConflict := quiet
	quietAlwaysConflict.AlwaysAlertOnConflict = true

	fieldAlwaysExpired := field
	fieldAlwaysExpired.AlwaysAlertOnExpired = true

	tests := []struct {
		name    string
		pref    Preference
		typ     Type
		deliver bool
		reason  string
	}{
		{"default delivers info", DefaultPreference("u0"), TypeResponseReceived, true, ReasonOfficeRole},
		{"default delivers overdue via always-alert", DefaultPreference("u0"), TypeOverdue, true, ReasonAlwaysAlert},
		{"field suppresses info", field, TypeResponseReceived, false, ReasonFieldRole},
		{"field delivers warning", field, TypeSameDay, true, ReasonFieldRole},
		{"field delivers critical", field, Type2Hour, true, ReasonFieldRole},
		{"quiet indefinite delivers critical", quiet, TypeOverdue, true, ReasonQuietCritical},
		{"quiet indefinite suppresses warning", quiet, Type4Hour, false, ReasonQuietMode},
		{"quiet indefinite suppresses info", quiet, Type48Hour, false, ReasonQuietMode},
		{"quiet in future suppresses warning", quietFuture, TypeSameDay, false, ReasonQuietMode},
		{"quiet elapsed falls through to role", quietExpired, TypeSameDay, true, ReasonOfficeRole},
		{"override beats quiet", overridden, Type48Hour, true, ReasonOverride},
		{"expired override ignored", staleOverride, Type48Hour, false, ReasonQuietMode},
		{"override without expiry ignored", overrideNoExpiry, Type48Hour, false, ReasonQuietMode},
		{"always conflict beats quiet", quietAlwaysConflict, TypeConflict, true, ReasonAlwaysAlert},
		{"always expired covers expiration names", fieldAlwaysExpired, Type4HourExpiration, true, ReasonAlwaysAlert},
		{"always expired does not cover expiring soon", fieldAlwaysExpired, TypeExpiringSoon, false, ReasonFieldRole},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Evaluate(tt.pref, tt.typ, Classify(tt.typ), now)
			if got.Deliver != tt.deliver {
				t.Fatalf("Deliver = %v, want %v (reason %s)", got.Deliver, tt.deliver, got.Reason)
			}
			if got.Reason != tt.reason {
				t.Fatalf("Reason = %s, want %s", got.Reason, tt.reason)
			}
		})
	}
}

func TestEvaluateEmergencyFamily(t *testing.T) {
	t.Parallel()
	now := time.Now()
	pref := DefaultPreference("u")
	pref.QuietModeEnabled = true
	for _, typ := range []Type{TypeEmergency, TypeDigUp} {
		if d := Evaluate(pref, typ, Classify(typ), now); d.Reason != ReasonAlwaysAlert {
			t.Fatalf("%s: reason %s, want %s", typ, d.Reason, ReasonAlwaysAlert)
		}
	}
}
