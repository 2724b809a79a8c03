package sender

import (
	"context"

	"github.com/google/uuid"

	logx "locatealert/pkg/logx"
)

// LogSMS is the SMS sender used until a gateway is contracted. It only logs.
type LogSMS struct {
	log logx.Logger
}

func NewLogSMS(log logx.Logger) LogSMS {
	return LogSMS{log: log.With(logx.String("comp", "sender.sms"))}
}

func (s LogSMS) SendSMS(ctx context.Context, to, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.log.Info("sms (stub)", logx.String("to", maskPhone(to)), logx.Int("len", len(text)))
	return nil
}

// LogEmail stands in for the provider when email.endpoint is empty.
type LogEmail struct {
	log logx.Logger
}

func NewLogEmail(log logx.Logger) LogEmail {
	return LogEmail{log: log.With(logx.String("comp", "sender.email"))}
}

func (s LogEmail) SendEmail(ctx context.Context, m EmailMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := "log-" + uuid.NewString()
	s.log.Info("email (log only)", logx.String("to", m.To), logx.String("subject", m.Subject), logx.String("id", id))
	return id, nil
}

// Deferred serves PUSH and IN_APP. Clients poll alert records, so delivery
// is complete once the record is written.
type Deferred struct {
	log logx.Logger
}

func (d Deferred) Send(ctx context.Context, del Delivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.log.Debug("handed off to polling client",
		logx.String("channel", string(del.Record.Channel)),
		logx.String("record", del.Record.ID),
		logx.String("user", del.Record.UserID),
	)
	return nil
}

func maskPhone(p string) string {
	if len(p) <= 4 {
		return p
	}
	return "***" + p[len(p)-4:]
}
