package sender

import (
	"context"
	"errors"
	"fmt"

	"locatealert/internal/alert"
	logx "locatealert/pkg/logx"
)

// ErrNoSender is returned by Registry.Send for a channel without a sender.
var ErrNoSender = errors.New("no sender for channel")

// Delivery is one rendered alert bound for one recipient on one channel.
type Delivery struct {
	Record  alert.Record
	To      string // email address or phone number; empty for PUSH and IN_APP
	Message alert.Message
}

// Sender delivers a Delivery on a single channel.
type Sender interface {
	Send(ctx context.Context, d Delivery) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, d Delivery) error

func (f SenderFunc) Send(ctx context.Context, d Delivery) error { return f(ctx, d) }

// EmailMessage is the provider-neutral email payload.
type EmailMessage struct {
	To       string
	Subject  string
	HTML     string
	Text     string
	Metadata map[string]string
}

// EmailSender sends an email and returns the provider's message id.
type EmailSender interface {
	SendEmail(ctx context.Context, m EmailMessage) (string, error)
}

// SMSSender sends a plain-text message to a phone number.
type SMSSender interface {
	SendSMS(ctx context.Context, to, text string) error
}

// Registry maps channels to senders.
type Registry map[alert.Channel]Sender

// NewRegistry wires the standard channel senders.
func NewRegistry(email EmailSender, sms SMSSender, log logx.Logger) Registry {
	deferred := Deferred{log: log.With(logx.String("comp", "sender.deferred"))}
	return Registry{
		alert.ChannelEmail: EmailChannel{Email: email},
		alert.ChannelSMS:   SMSChannel{SMS: sms},
		alert.ChannelPush:  deferred,
		alert.ChannelInApp: deferred,
	}
}

// Send routes d to the sender registered for its record's channel.
func (r Registry) Send(ctx context.Context, d Delivery) error {
	s, ok := r[d.Record.Channel]
	if !ok || s == nil {
		return fmt.Errorf("%s: %w", d.Record.Channel, ErrNoSender)
	}
	return s.Send(ctx, d)
}

// EmailChannel adapts an EmailSender to the EMAIL channel.
type EmailChannel struct {
	Email EmailSender
}

func (c EmailChannel) Send(ctx context.Context, d Delivery) error {
	if c.Email == nil {
		return fmt.Errorf("email: %w", ErrNoSender)
	}
	_, err := c.Email.SendEmail(ctx, EmailMessage{
		To:      d.To,
		Subject: d.Message.Subject,
		HTML:    d.Message.HTML,
		Text:    d.Message.Text,

		Metadata: map[string]string{
			"alert_id":   d.Record.ID,
			"ticket_id":  d.Record.TicketID,
			"alert_type": string(d.Record.AlertType),
		},
	})
	return err
}

// SMSChannel adapts an SMSSender to the SMS channel. SMS carries the subject
// line only.
type SMSChannel struct {
	SMS SMSSender
}

func (c SMSChannel) Send(ctx context.Context, d Delivery) error {
	if c.SMS == nil {
		return fmt.Errorf("sms: %w", ErrNoSender)
	}
	return c.SMS.SendSMS(ctx, d.To, d.Message.Subject)
}
