package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"locatealert/internal/alert"
	"locatealert/internal/eventbus"
	"locatealert/internal/sender"
	logx "locatealert/pkg/logx"
)

// Summary is the outcome of one batch. Skipped counts triggers that wrote
// nothing because of the dedup gate or a failed store read.
type Summary struct {
	TicketsChecked int      `json:"ticketsChecked"`
	AlertsSent     int      `json:"alertsSent"`
	AlertsFailed   int      `json:"alertsFailed"`
	Errors         []string `json:"errors"`
	ExpiredTickets int      `json:"expiredTickets"`
	Skipped        int      `json:"skipped"`
	Escalated      int      `json:"escalated"`
}

// Deps are the ports the dispatcher reads and writes. Tickets, Bus and Now
// are optional.
type Deps struct {
	Feed          alert.TriggerFeed
	Records       alert.AlertRecords
	Subscriptions alert.Subscriptions
	Preferences   alert.Preferences
	Acks          alert.Acknowledgements
	Tickets       alert.Tickets
	Sender        sender.Sender

	Bus eventbus.Bus
	Log logx.Logger
	Now func() time.Time
}

type Dispatcher struct {
	deps Deps
	log  logx.Logger

	mu    sync.RWMutex
	cfg   Config
	retry RetryPolicy
	gates map[alert.Channel]*channelGate
}

func New(deps Deps, cfg Config) (*Dispatcher, error) {
	switch {
	case deps.Feed == nil:
		return nil, errors.New("dispatch: trigger feed is required")
	case deps.Records == nil:
		return nil, errors.New("dispatch: alert records store is required")
	case deps.Subscriptions == nil:
		return nil, errors.New("dispatch: subscription store is required")
	case deps.Preferences == nil:
		return nil, errors.New("dispatch: preference store is required")
	case deps.Acks == nil:
		return nil, errors.New("dispatch: acknowledgement store is required")
	case deps.Sender == nil:
		return nil, errors.New("dispatch: sender is required")
	}
	if deps.Bus == nil {
		deps.Bus = eventbus.Nop{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	d := &Dispatcher{deps: deps, log: deps.Log.With(logx.String("comp", "dispatch"))}
	d.Apply(cfg)
	return d, nil
}

// Apply swaps limits and timeouts. Sends already holding a gate finish
// under the old limits.
func (d *Dispatcher) Apply(cfg Config) {
	cfg = cfg.normalize()
	d.mu.Lock()
	d.cfg = cfg
	d.retry = cfg.retryPolicy()
	d.gates = newGates(cfg)
	d.mu.Unlock()
}

// SetRetryPolicy overrides the policy derived from Config until the next Apply.
func (d *Dispatcher) SetRetryPolicy(p RetryPolicy) {
	if p == nil {
		p = NoRetry{}
	}
	d.mu.Lock()
	d.retry = p
	d.mu.Unlock()
}

func (d *Dispatcher) snapshot() (Config, RetryPolicy, map[alert.Channel]*channelGate) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg, d.retry, d.gates
}

// Run reads the trigger feed and dispatches every row. Only a feed failure
// is returned as an error; per-ticket failures land in Summary.Errors.
func (d *Dispatcher) Run(ctx context.Context) (Summary, error) {
	triggers, err := d.deps.Feed.TicketsNeedingAlerts(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("trigger feed: %w", err)
	}
	return d.Dispatch(ctx, triggers), nil
}

// Dispatch processes triggers on the worker pool and folds the results in
// feed order.
func (d *Dispatcher) Dispatch(ctx context.Context, triggers []alert.Trigger) Summary {
	cfg, _, _ := d.snapshot()
	results := make([]ticketResult, len(triggers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i := range triggers {
		i := i
		g.Go(func() error {
			results[i] = d.processTrigger(gctx, triggers[i])
			return nil
		})
	}
	_ = g.Wait()

	sum := Summary{Errors: []string{}}
	for i, r := range results {
		sum.TicketsChecked++
		if alert.IsExpiredFamily(triggers[i].AlertType) {
			sum.ExpiredTickets++
		}
		sum.AlertsSent += r.sent
		sum.AlertsFailed += r.failed
		if r.skipped {
			sum.Skipped++
		}
		for _, e := range r.errs {
			sum.Errors = append(sum.Errors, fmt.Sprintf("ticket %s: %s", triggers[i].TicketNumber, e))
		}
	}
	ticketsCheckedTotal.Add(float64(len(triggers)))
	return sum
}

type ticketResult struct {
	sent    int
	failed  int
	written int
	skipped bool
	errs    []string
}

func (r *ticketResult) fail(err error) { r.errs = append(r.errs, err.Error()) }

type recipient struct {
	sub      alert.Subscription
	channels []alert.Channel
}

func (d *Dispatcher) processTrigger(ctx context.Context, tr alert.Trigger) (res ticketResult) {
	log := d.log.With(
		logx.String("ticket", tr.TicketNumber),
		logx.String("type", string(tr.AlertType)),
	)
	if err := ctx.Err(); err != nil {
		res.fail(err)
		return res
	}

	now := d.deps.Now().UTC()
	day := alert.Day(now)

	existing, err := d.deps.Records.FindByTicketAndTypeOnDay(ctx, tr.TicketID, tr.AlertType, day)
	if err != nil {
		res.fail(fmt.Errorf("dedup lookup: %w", err))
		res.skipped = true
		return res
	}
	if len(existing) > 0 {
		d.skip(log, tr, "already dispatched today")
		res.skipped = true
		return res
	}
	cfg, _, _ := d.snapshot()
	claimed, err := d.deps.Records.ClaimDispatch(ctx, tr.TicketID, tr.AlertType, now, now.Add(-cfg.ClaimTTL))
	if err != nil {
		res.fail(fmt.Errorf("dedup claim: %w", err))
		res.skipped = true
		return res
	}
	if !claimed {
		d.skip(log, tr, "claimed by another dispatcher")
		res.skipped = true
		return res
	}
	defer func() {
		if res.written > 0 {
			return
		}
		// Nothing was recorded, so a later run may try again today.
		if err := d.deps.Records.ReleaseDispatch(context.WithoutCancel(ctx), tr.TicketID, tr.AlertType, day); err != nil {
			log.Warn("release dispatch claim failed", logx.Err(err))
			res.fail(fmt.Errorf("release dedup claim: %w", err))
		}
	}()

	priority := alert.Classify(tr.AlertType)
	recipients, err := d.resolveRecipients(ctx, log, tr, priority, now)
	if err != nil {
		log.Warn("ticket skipped", logx.Err(err))
		res.fail(err)
		res.skipped = true
		return res
	}
	if len(recipients) == 0 {
		log.Debug("no eligible recipients")
		return res
	}

	msg := alert.Render(tr)
	for _, rcp := range recipients {
		for _, ch := range rcp.channels {
			d.deliver(ctx, log, tr, rcp.sub, ch, priority, msg, now, &res)
		}
	}

	if res.written > 0 && d.deps.Tickets != nil {
		if err := d.deps.Tickets.RecordAlertSent(ctx, tr.TicketID, now, res.written); err != nil {
			log.Warn("ticket bookkeeping failed", logx.Err(err))
		}
	}
	log.Debug("ticket dispatched",
		logx.Int("records", res.written),
		logx.Int("sent", res.sent),
		logx.Int("failed", res.failed),
	)
	return res
}

// resolveRecipients reads every store the ticket needs before anything is
// written, so a read failure leaves no partial dispatch behind.
func (d *Dispatcher) resolveRecipients(ctx context.Context, log logx.Logger, tr alert.Trigger, p alert.Priority, now time.Time) ([]recipient, error) {
	subs, err := d.deps.Subscriptions.ListActiveByOrg(ctx, tr.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}

	var out []recipient
	for _, sub := range subs {
		if !sub.IsActive || !sub.WantsAlert(tr.AlertType) {
			continue
		}
		pref, err := d.deps.Preferences.GetByUser(ctx, sub.UserID)
		if err != nil {
			return nil, fmt.Errorf("preferences for user %s: %w", sub.UserID, err)
		}
		dec := alert.Evaluate(pref, tr.AlertType, p, now)
		if !dec.Deliver {
			log.Debug("suppressed by preference", logx.String("user", sub.UserID), logx.String("reason", dec.Reason))
			continue
		}
		chans := alert.DeliveredChannels(tr.AlertType, sub)
		if len(chans) == 0 {
			continue
		}
		out = append(out, recipient{sub: sub, channels: chans})
	}
	return out, nil
}

func (d *Dispatcher) deliver(ctx context.Context, log logx.Logger, tr alert.Trigger, sub alert.Subscription,
	ch alert.Channel, p alert.Priority, msg alert.Message, now time.Time, res *ticketResult) {
	rec := alert.Record{
		ID:             uuid.NewString(),
		TicketID:       tr.TicketID,
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		AlertType:      tr.AlertType,
		Channel:        ch,
		Priority:       p,
		Subject:        msg.Subject,
		Body:           msg.Text,
		SentAt:         now,
	}
	id, err := d.deps.Records.InsertRecord(ctx, rec)
	if err != nil {
		res.failed++
		res.fail(fmt.Errorf("write %s record for user %s: %w", ch, sub.UserID, err))
		alertsFailedTotal.WithLabelValues(string(ch)).Inc()
		return
	}
	rec.ID = id
	res.written++

	err = d.send(ctx, sender.Delivery{Record: rec, To: contactFor(sub, ch), Message: msg})
	if err != nil {
		res.failed++
		alertsFailedTotal.WithLabelValues(string(ch)).Inc()
		log.Warn("channel send failed",
			logx.String("channel", string(ch)),
			logx.String("user", sub.UserID),
			logx.Err(err),
		)
		d.deps.Bus.Publish(eventbus.Event{Type: eventbus.TypeAlertFailed, Data: eventbus.AlertFailed{
			RecordID: rec.ID, TicketID: rec.TicketID, Channel: string(ch), Err: err.Error(),
		}})
	} else {
		res.sent++
		alertsSentTotal.WithLabelValues(string(ch)).Inc()
		d.deps.Bus.Publish(eventbus.Event{Type: eventbus.TypeAlertSent, Data: eventbus.AlertSent{
			RecordID: rec.ID, TicketID: rec.TicketID, UserID: rec.UserID,
			Type: string(rec.AlertType), Channel: string(ch), Priority: string(p),
		}})
	}

	// Critical alerts escalate even when the send failed.
	if p == alert.PriorityCritical {
		if err := d.deps.Acks.InsertAck(ctx, alert.NewAcknowledgement(uuid.NewString(), rec)); err != nil {
			res.fail(fmt.Errorf("create acknowledgement for record %s: %w", rec.ID, err))
		}
	}
}

func (d *Dispatcher) send(ctx context.Context, del sender.Delivery) error {
	cfg, policy, gates := d.snapshot()
	gate := gates[del.Record.Channel]
	for attempt := 0; ; attempt++ {
		err := d.sendOnce(ctx, gate, cfg.SendTimeout, del)
		if err == nil {
			return nil
		}
		wait, again := policy.Next(attempt, err)
		if !again {
			return err
		}
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return err
		}
	}
}

func (d *Dispatcher) sendOnce(ctx context.Context, gate *channelGate, timeout time.Duration, del sender.Delivery) error {
	if gate != nil {
		release, err := gate.acquire(ctx)
		if err != nil {
			return err
		}
		defer release()
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.deps.Sender.Send(cctx, del)
}

func (d *Dispatcher) skip(log logx.Logger, tr alert.Trigger, reason string) {
	log.Debug("ticket skipped", logx.String("reason", reason))
	d.deps.Bus.Publish(eventbus.Event{Type: eventbus.TypeTicketSkipped, Data: eventbus.TicketSkipped{
		TicketID: tr.TicketID, TicketNumber: tr.TicketNumber, Type: string(tr.AlertType), Reason: reason,
	}})
}

func contactFor(sub alert.Subscription, ch alert.Channel) string {
	switch ch {
	case alert.ChannelEmail:
		return sub.EmailAddress
	case alert.ChannelSMS:
		return sub.PhoneNumber
	default:
		return ""
	}
}
