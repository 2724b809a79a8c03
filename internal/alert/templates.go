package alert

import (
	"fmt"
	"html"
	"strings"
)

// Message is a rendered alert ready for a channel.
type Message struct {
	Subject string
	Text    string
	HTML    string
}

type template struct {
	subject string // one %s: ticket number
	lead    string
	action  string
}

var templates = map[Type]template{
	Type48Hour: {
		subject: "WV811 Reminder: Ticket #%s - Legal dig date in 48 hours",
		lead:    "The legal dig date for this ticket is about 48 hours away.",
		action:  "Confirm all utility responses are in before crews are scheduled.",
	},
	Type24Hour: {
		subject: "WV811 Reminder: Ticket #%s - Legal dig date in 24 hours",
		lead:    "The legal dig date for this ticket is about 24 hours away.",
		action:  "Review outstanding utility responses and crew assignments.",
	},
	Type4Hour: {
		subject: "WV811 Warning: Ticket #%s - Legal dig date in 4 hours",
		lead:    "The legal dig date for this ticket is about 4 hours away.",
		action:  "Verify all marks are in place before excavation begins.",
	},
	Type2Hour: {
		subject: "WV811 URGENT: Ticket #%s - Legal dig date in 2 hours",
		lead:    "The legal dig date for this ticket is about 2 hours away.",
		action:  "Do not excavate until every utility has responded.",
	},
	TypeSameDay: {
		subject: "WV811 Today: Ticket #%s - Legal dig date is today",
		lead:    "The legal dig date for this ticket is today.",
		action:  "Confirm the site is clear to dig before work starts.",
	},
	TypeOverdue: {
		subject: "WV811 EXPIRED: Ticket #%s has expired",
		lead:    "This ticket has expired.",
		action:  "Stop work at this site and file a new locate request.",
	},
	Type2HourExpiration: {
		subject: "WV811 URGENT: Ticket #%s expires in 2 hours",
		lead:    "This ticket expires in about 2 hours.",
		action:  "Update or renew the ticket now to keep working legally.",
	},
	Type4HourExpiration: {
		subject: "WV811 Warning: Ticket #%s expires in 4 hours",
		lead:    "This ticket expires in about 4 hours.",
		action:  "Plan an update or renewal before the ticket lapses.",
	},
	Type2HourUpdateBy: {
		subject: "WV811 URGENT: Ticket #%s - Update required within 2 hours",
		lead:    "The update-by deadline for this ticket is about 2 hours away.",
		action:  "Submit the ticket update now.",
	},
	Type4HourUpdateBy: {
		subject: "WV811 Warning: Ticket #%s - Update required within 4 hours",
		lead:    "The update-by deadline for this ticket is about 4 hours away.",
		action:  "Schedule the ticket update before the deadline.",
	},
	TypeAtUpdateBy: {
		subject: "WV811 URGENT: Ticket #%s - Update deadline reached",
		lead:    "The update-by deadline for this ticket has been reached.",
		action:  "Submit the ticket update immediately.",
	},
	TypeConflict: {
		subject: "WV811 CONFLICT: Ticket #%s - Utility conflict reported",
		lead:    "A utility has reported a conflict on this ticket.",
		action:  "Contact the utility and resolve the conflict before digging.",
	},
	TypeEmergency: {
		subject: "WV811 EMERGENCY: Ticket #%s - Emergency locate",
		lead:    "This is an emergency locate ticket.",
		action:  "Respond immediately and follow emergency excavation procedures.",
	},
	TypeDigUp: {
		subject: "WV811 DIG-UP: Ticket #%s - Utility damage reported",
		lead:    "A dig-up (utility damage) has been reported on this ticket.",
		action:  "Secure the site and notify the facility owner now.",
	},
	TypeHighRisk: {
		subject: "WV811 HIGH RISK: Ticket #%s - High-risk facilities nearby",
		lead:    "High-risk facilities are present near this dig site.",
		action:  "Review the facility responses and confirm standby requirements.",
	},
	TypeResponseReceived: {
		subject: "WV811 Update: Ticket #%s - Utility response received",
		lead:    "A utility has responded to this ticket.",
		action:  "Review the response in the ticket details.",
	},
	TypeExpiringSoon: {
		subject: "WV811 Reminder: Ticket #%s expires soon",
		lead:    "This ticket is approaching its expiration date.",
		action:  "Plan an update or renewal if work will continue.",
	},
}

var fallbackTemplate = template{
	subject: "WV811 Alert: Ticket #%s needs attention",
	lead:    "This ticket needs attention.",
	action:  "Review the ticket details.",
}

// HasTemplate reports whether t has a dedicated template.
func HasTemplate(t Type) bool {
	_, ok := templates[t]
	return ok
}

// Render produces the subject and bodies for tr.
func Render(tr Trigger) Message {
	tpl, ok := templates[tr.AlertType]
	if !ok {
		tpl = fallbackTemplate
	}

	lines := []string{
		tpl.lead,
		"Ticket: #" + tr.TicketNumber,
		"Location: " + location(tr),
	}
	if !tr.LegalDigDate.IsZero() {
		lines = append(lines, "Legal dig date: "+tr.LegalDigDate.Format("Mon, Jan 2, 2006"))
	}
	lines = append(lines, tpl.action)

	var hb strings.Builder
	for _, l := range lines {
		hb.WriteString("<p>")
		hb.WriteString(html.EscapeString(l))
		hb.WriteString("</p>")
	}

	return Message{
		Subject: fmt.Sprintf(tpl.subject, tr.TicketNumber),
		Text:    strings.Join(lines, "\n"),
		HTML:    hb.String(),
	}
}

func location(tr Trigger) string {
	addr := strings.TrimSpace(tr.DigSiteAddress)
	city := strings.TrimSpace(tr.DigSiteCity)
	switch {
	case addr != "" && city != "":
		return addr + ", " + city
	case addr != "":
		return addr
	case city != "":
		return city
	default:
		return "unknown address"
	}
}
