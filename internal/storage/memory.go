package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"locatealert/internal/alert"
)

type claimKey struct {
	ticketID  string
	alertType alert.Type
	day       string
}

// memoryStore keeps all tables in maps guarded by one mutex, so every method
// is atomic with respect to the others.
type memoryStore struct {
	mu sync.Mutex

	tickets  map[string]Ticket
	triggers map[string]PendingTrigger // ticketID|alertType
	subs     map[string]alert.Subscription
	prefs    map[string]alert.Preference
	records  []alert.Record
	claims   map[claimKey]time.Time
	acks     map[string]alert.Acknowledgement
	ackOrder []string
}

// NewMemory returns an empty in-memory Store.
func NewMemory() Store {
	return &memoryStore{
		tickets:  map[string]Ticket{},
		triggers: map[string]PendingTrigger{},
		subs:     map[string]alert.Subscription{},
		prefs:    map[string]alert.Preference{},
		claims:   map[claimKey]time.Time{},
		acks:     map[string]alert.Acknowledgement{},
	}
}

func (s *memoryStore) Ping(ctx context.Context) error { return ctx.Err() }
func (s *memoryStore) Close() error                   { return nil }

func (s *memoryStore) TicketsNeedingAlerts(ctx context.Context) ([]alert.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]alert.Trigger, 0, len(s.triggers))
	for _, p := range s.triggers {
		t, ok := s.tickets[p.TicketID]
		if !ok {
			continue
		}
		out = append(out, triggerFrom(t, p))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].HoursUntilDig != out[j].HoursUntilDig {
			return out[i].HoursUntilDig < out[j].HoursUntilDig
		}
		if out[i].TicketNumber != out[j].TicketNumber {
			return out[i].TicketNumber < out[j].TicketNumber
		}
		return out[i].AlertType < out[j].AlertType
	})
	return out, nil
}

func triggerFrom(t Ticket, p PendingTrigger) alert.Trigger {
	return alert.Trigger{
		TicketID:         t.ID,
		TicketNumber:     t.TicketNumber,
		AlertType:        p.AlertType,
		OrganizationID:   t.OrganizationID,
		LegalDigDate:     t.LegalDigDate,
		TicketExpiresAt:  t.ExpiresAt,
		HoursUntilDig:    p.HoursUntilDig,
		HoursUntilExpire: p.HoursUntilExpire,
		DigSiteAddress:   t.DigSiteAddress,
		DigSiteCity:      t.DigSiteCity,
	}
}

func (s *memoryStore) FindByTicketAndTypeOnDay(ctx context.Context, ticketID string, t alert.Type, day time.Time) ([]alert.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := alert.Day(day)
	var out []alert.Record
	for _, r := range s.records {
		if r.TicketID == ticketID && r.AlertType == t && alert.Day(r.SentAt).Equal(d) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memoryStore) ClaimDispatch(ctx context.Context, ticketID string, t alert.Type, at, staleBefore time.Time) (bool, error) {
	k := claimKey{ticketID: ticketID, alertType: t, day: dayKey(at)}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.claims[k]; ok && (staleBefore.IsZero() || !prev.Before(staleBefore)) {
		return false, nil
	}
	s.claims[k] = at
	return true, nil
}

func (s *memoryStore) ReleaseDispatch(ctx context.Context, ticketID string, t alert.Type, day time.Time) error {
	s.mu.Lock()
	delete(s.claims, claimKey{ticketID: ticketID, alertType: t, day: dayKey(day)})
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) InsertRecord(ctx context.Context, r alert.Record) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	s.mu.Lock()
	s.records = append(s.records, r)
	s.mu.Unlock()
	return r.ID, nil
}

func (s *memoryStore) ListRecords(ctx context.Context, ticketID string) ([]alert.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []alert.Record
	for _, r := range s.records {
		if ticketID == "" || r.TicketID == ticketID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memoryStore) ListActiveByOrg(ctx context.Context, organizationID string) ([]alert.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []alert.Subscription
	for _, sub := range s.subs {
		if sub.OrganizationID == organizationID && sub.IsActive {
			out = append(out, cloneSubscription(sub))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) UpsertSubscription(ctx context.Context, sub alert.Subscription) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	s.mu.Lock()
	s.subs[sub.ID] = cloneSubscription(sub)
	s.mu.Unlock()
	return nil
}

func cloneSubscription(sub alert.Subscription) alert.Subscription {
	if sub.OptIns != nil {
		m := make(map[alert.Type]alert.OptIn, len(sub.OptIns))
		for k, v := range sub.OptIns {
			m[k] = v
		}
		sub.OptIns = m
	}
	return sub
}

func (s *memoryStore) GetByUser(ctx context.Context, userID string) (alert.Preference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.prefs[userID]; ok {
		return p, nil
	}
	return alert.DefaultPreference(userID), nil
}

func (s *memoryStore) UpsertPreference(ctx context.Context, p alert.Preference) error {
	if p.UserID == "" {
		return fmt.Errorf("preference: user id required")
	}
	s.mu.Lock()
	s.prefs[p.UserID] = p
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) InsertAck(ctx context.Context, a alert.Acknowledgement) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.acks[a.ID]; ok {
		return fmt.Errorf("acknowledgement %s: %w", a.ID, alert.ErrConflict)
	}
	s.acks[a.ID] = a
	s.ackOrder = append(s.ackOrder, a.ID)
	return nil
}

func (s *memoryStore) GetAck(ctx context.Context, id string) (alert.Acknowledgement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.acks[id]
	if !ok {
		return alert.Acknowledgement{}, alert.ErrNotFound
	}
	return a, nil
}

func (s *memoryStore) ListAcks(ctx context.Context) ([]alert.Acknowledgement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]alert.Acknowledgement, 0, len(s.ackOrder))
	for _, id := range s.ackOrder {
		out = append(out, s.acks[id])
	}
	return out, nil
}

func (s *memoryStore) EscalateOverdue(ctx context.Context, now time.Time, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range s.ackOrder {
		a := s.acks[id]
		if !a.RequiresExplicitAck || a.Status != alert.AckSent || !a.AckDeadline.Before(now) {
			continue
		}
		at := now
		a.Status = alert.AckEscalated
		a.EscalatedAt = &at
		a.EscalationReason = reason
		s.acks[id] = a
		n++
	}
	return n, nil
}

func (s *memoryStore) Acknowledge(ctx context.Context, id, userID string, now time.Time) (alert.Acknowledgement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.acks[id]
	if !ok || a.UserID != userID {
		return alert.Acknowledgement{}, alert.ErrNotFound
	}
	if a.Status != alert.AckSent {
		return a, alert.ErrConflict
	}
	at := now
	a.Status = alert.AckAcknowledged
	a.AcknowledgedAt = &at
	s.acks[id] = a
	return a, nil
}

func (s *memoryStore) RecordAlertSent(ctx context.Context, ticketID string, at time.Time, alerts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[ticketID]
	if !ok {
		return fmt.Errorf("ticket %s: %w", ticketID, alert.ErrNotFound)
	}
	ts := at
	t.LastAlertSentAt = &ts
	t.AlertCount += alerts
	s.tickets[ticketID] = t
	return nil
}

func (s *memoryStore) UpsertTicket(ctx context.Context, t Ticket) error {
	if t.ID == "" {
		return fmt.Errorf("ticket: id required")
	}
	s.mu.Lock()
	s.tickets[t.ID] = t
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) GetTicket(ctx context.Context, id string) (Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return Ticket{}, alert.ErrNotFound
	}
	return t, nil
}

func (s *memoryStore) PutTrigger(ctx context.Context, p PendingTrigger) error {
	s.mu.Lock()
	s.triggers[p.TicketID+"|"+string(p.AlertType)] = p
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) ClearTriggers(ctx context.Context) error {
	s.mu.Lock()
	s.triggers = map[string]PendingTrigger{}
	s.mu.Unlock()
	return nil
}

func dayKey(t time.Time) string {
	return alert.Day(t).Format("2006-01-02")
}
