// Package escalation moves critical alerts nobody acknowledged in time to
// ESCALATED.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"locatealert/internal/alert"
	"locatealert/internal/eventbus"
	logx "locatealert/pkg/logx"
)

var acksEscalatedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "locatealert_acks_escalated_total",
	Help: "Acknowledgements moved to ESCALATED after their deadline passed.",
})

type Sweeper struct {
	acks alert.Acknowledgements
	bus  eventbus.Bus
	log  logx.Logger
	now  func() time.Time
}

func New(acks alert.Acknowledgements, bus eventbus.Bus, log logx.Logger, now func() time.Time) (*Sweeper, error) {
	if acks == nil {
		return nil, errors.New("escalation: acknowledgement store is required")
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	if now == nil {
		now = time.Now
	}
	return &Sweeper{acks: acks, bus: bus, log: log.With(logx.String("comp", "escalation")), now: now}, nil
}

// Sweep escalates every overdue SENT acknowledgement and returns how many
// rows changed. Running it again with the same clock is a no-op.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now().UTC()
	n, err := s.acks.EscalateOverdue(ctx, now, alert.EscalationReason)
	if err != nil {
		return 0, fmt.Errorf("escalate overdue acknowledgements: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	acksEscalatedTotal.Add(float64(n))
	// TODO: notify the organization's supervisors once an on-call roster
	// store exists; escalated rows are only marked for now.
	s.log.Warn("acknowledgements escalated", logx.Int("count", n))
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeAcksEscalated, Data: eventbus.AcksEscalated{Count: n, At: now}})
	return n, nil
}

// Acknowledge records a user's confirmation of a critical alert.
func (s *Sweeper) Acknowledge(ctx context.Context, ackID, userID string) (alert.Acknowledgement, error) {
	a, err := s.acks.Acknowledge(ctx, ackID, userID, s.now().UTC())
	if err != nil {
		return a, err
	}
	s.log.Info("alert acknowledged", logx.String("ack", ackID), logx.String("user", userID))
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeAckAcknowledged, Data: eventbus.AckAcknowledged{AckID: ackID, UserID: userID}})
	return a, nil
}
