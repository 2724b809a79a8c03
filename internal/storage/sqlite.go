package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"locatealert/internal/alert"
	logx "locatealert/pkg/logx"
)

//go:embed schema.sql
var schemaSQL string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; one connection also keeps ":memory:" coherent.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- trigger feed + tickets ----

func (s *sqliteStore) TicketsNeedingAlerts(ctx context.Context) ([]alert.Trigger, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.ticket_number, a.alert_type, t.organization_id, t.legal_dig_date, t.expires_at,
		       a.hours_until_dig, a.hours_until_expire, t.dig_site_address, t.dig_site_city
		FROM alert_triggers a
		JOIN tickets t ON t.id = a.ticket_id
		ORDER BY a.hours_until_dig, t.ticket_number, a.alert_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alert.Trigger
	for rows.Next() {
		var (
			tr            alert.Trigger
			alertType     string
			dig, expires  sql.NullInt64
			hoursExpire   sql.NullFloat64
			address, city sql.NullString
		)
		if err := rows.Scan(&tr.TicketID, &tr.TicketNumber, &alertType, &tr.OrganizationID, &dig, &expires,
			&tr.HoursUntilDig, &hoursExpire, &address, &city); err != nil {
			return nil, err
		}
		tr.AlertType = alert.Type(alertType)
		tr.LegalDigDate = fromMillis(dig)
		tr.TicketExpiresAt = fromMillis(expires)
		if hoursExpire.Valid {
			v := hoursExpire.Float64
			tr.HoursUntilExpire = &v
		}
		tr.DigSiteAddress = address.String
		tr.DigSiteCity = city.String
		out = append(out, tr)
	}
	return out, rows.Err()
}

func (s *sqliteStore) RecordAlertSent(ctx context.Context, ticketID string, at time.Time, alerts int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tickets SET last_alert_sent_at = ?, alert_count = alert_count + ? WHERE id = ?`,
		at.UnixMilli(), alerts, ticketID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ticket %s: %w", ticketID, alert.ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) UpsertTicket(ctx context.Context, t Ticket) error {
	if t.ID == "" {
		return errors.New("ticket: id required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tickets(id, ticket_number, organization_id, dig_site_address, dig_site_city,
		                    legal_dig_date, expires_at, last_alert_sent_at, alert_count)
		VALUES(?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			ticket_number=excluded.ticket_number, organization_id=excluded.organization_id,
			dig_site_address=excluded.dig_site_address, dig_site_city=excluded.dig_site_city,
			legal_dig_date=excluded.legal_dig_date, expires_at=excluded.expires_at`,
		t.ID, t.TicketNumber, t.OrganizationID, nullStr(t.DigSiteAddress), nullStr(t.DigSiteCity),
		toMillis(t.LegalDigDate), toMillis(t.ExpiresAt), toMillisPtr(t.LastAlertSentAt), t.AlertCount)
	return err
}

func (s *sqliteStore) GetTicket(ctx context.Context, id string) (Ticket, error) {
	var (
		t                  Ticket
		address, city      sql.NullString
		dig, expires, last sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, ticket_number, organization_id, dig_site_address, dig_site_city,
		       legal_dig_date, expires_at, last_alert_sent_at, alert_count
		FROM tickets WHERE id = ?`, id).
		Scan(&t.ID, &t.TicketNumber, &t.OrganizationID, &address, &city, &dig, &expires, &last, &t.AlertCount)
	if errors.Is(err, sql.ErrNoRows) {
		return Ticket{}, alert.ErrNotFound
	}
	if err != nil {
		return Ticket{}, err
	}
	t.DigSiteAddress = address.String
	t.DigSiteCity = city.String
	t.LegalDigDate = fromMillis(dig)
	t.ExpiresAt = fromMillis(expires)
	t.LastAlertSentAt = fromMillisPtr(last)
	return t, nil
}

func (s *sqliteStore) PutTrigger(ctx context.Context, p PendingTrigger) error {
	var hoursExpire any
	if p.HoursUntilExpire != nil {
		hoursExpire = *p.HoursUntilExpire
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_triggers(ticket_id, alert_type, hours_until_dig, hours_until_expire)
		VALUES(?,?,?,?)
		ON CONFLICT(ticket_id, alert_type) DO UPDATE SET
			hours_until_dig=excluded.hours_until_dig, hours_until_expire=excluded.hours_until_expire`,
		p.TicketID, string(p.AlertType), p.HoursUntilDig, hoursExpire)
	return err
}

func (s *sqliteStore) ClearTriggers(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM alert_triggers`)
	return err
}

// ---- alert records + dispatch claims ----

func (s *sqliteStore) FindByTicketAndTypeOnDay(ctx context.Context, ticketID string, t alert.Type, day time.Time) ([]alert.Record, error) {
	return s.queryRecords(ctx, `WHERE ticket_id = ? AND alert_type = ? AND sent_day = ?`,
		ticketID, string(t), dayKey(day))
}

func (s *sqliteStore) ListRecords(ctx context.Context, ticketID string) ([]alert.Record, error) {
	if ticketID == "" {
		return s.queryRecords(ctx, "")
	}
	return s.queryRecords(ctx, `WHERE ticket_id = ?`, ticketID)
}

func (s *sqliteStore) queryRecords(ctx context.Context, where string, args ...any) ([]alert.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ticket_id, subscription_id, user_id, alert_type, channel, priority, subject, body, sent_at
		FROM alert_records `+where+` ORDER BY sent_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alert.Record
	for rows.Next() {
		var (
			r                            alert.Record
			alertType, channel, priority string
			sentAt                       int64
		)
		if err := rows.Scan(&r.ID, &r.TicketID, &r.SubscriptionID, &r.UserID, &alertType, &channel, &priority,
			&r.Subject, &r.Body, &sentAt); err != nil {
			return nil, err
		}
		r.AlertType = alert.Type(alertType)
		r.Channel = alert.Channel(channel)
		r.Priority = alert.Priority(priority)
		r.SentAt = time.UnixMilli(sentAt).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ClaimDispatch(ctx context.Context, ticketID string, t alert.Type, at, staleBefore time.Time) (bool, error) {
	cutoff := int64(0)
	if !staleBefore.IsZero() {
		cutoff = staleBefore.UnixMilli()
	}
	// A row claimed before the cutoff was left by a pass that never finished.
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_dispatches(ticket_id, alert_type, day, claimed_at) VALUES(?,?,?,?)
		ON CONFLICT(ticket_id, alert_type, day) DO UPDATE SET claimed_at = excluded.claimed_at
		WHERE alert_dispatches.claimed_at < ?`,
		ticketID, string(t), dayKey(at), at.UnixMilli(), cutoff)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sqliteStore) ReleaseDispatch(ctx context.Context, ticketID string, t alert.Type, day time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM alert_dispatches WHERE ticket_id = ? AND alert_type = ? AND day = ?`,
		ticketID, string(t), dayKey(day))
	return err
}

func (s *sqliteStore) InsertRecord(ctx context.Context, r alert.Record) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_records(id, ticket_id, subscription_id, user_id, alert_type, channel, priority,
		                          subject, body, sent_at, sent_day)
		VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.TicketID, r.SubscriptionID, r.UserID, string(r.AlertType), string(r.Channel), string(r.Priority),
		r.Subject, r.Body, r.SentAt.UnixMilli(), dayKey(r.SentAt))
	if err != nil {
		return "", err
	}
	return r.ID, nil
}

// ---- subscriptions + preferences ----

func (s *sqliteStore) ListActiveByOrg(ctx context.Context, organizationID string) ([]alert.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, organization_id, channel_email, channel_sms, channel_push, channel_in_app,
		       opt_ins, email_address, phone_number, is_active
		FROM alert_subscriptions
		WHERE organization_id = ? AND is_active = 1
		ORDER BY id`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alert.Subscription
	for rows.Next() {
		var (
			sub          alert.Subscription
			optIns       string
			email, phone sql.NullString
		)
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.OrganizationID, &sub.ChannelEmail, &sub.ChannelSMS,
			&sub.ChannelPush, &sub.ChannelInApp, &optIns, &email, &phone, &sub.IsActive); err != nil {
			return nil, err
		}
		sub.EmailAddress = email.String
		sub.PhoneNumber = phone.String
		sub.OptIns, err = decodeOptIns(optIns)
		if err != nil {
			return nil, fmt.Errorf("subscription %s: %w", sub.ID, err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpsertSubscription(ctx context.Context, sub alert.Subscription) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	optIns, err := encodeOptIns(sub.OptIns)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alert_subscriptions(id, user_id, organization_id, channel_email, channel_sms, channel_push,
		                                channel_in_app, opt_ins, email_address, phone_number, is_active)
		VALUES(?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			user_id=excluded.user_id, organization_id=excluded.organization_id,
			channel_email=excluded.channel_email, channel_sms=excluded.channel_sms,
			channel_push=excluded.channel_push, channel_in_app=excluded.channel_in_app,
			opt_ins=excluded.opt_ins, email_address=excluded.email_address,
			phone_number=excluded.phone_number, is_active=excluded.is_active`,
		sub.ID, sub.UserID, sub.OrganizationID, sub.ChannelEmail, sub.ChannelSMS, sub.ChannelPush,
		sub.ChannelInApp, optIns, nullStr(sub.EmailAddress), nullStr(sub.PhoneNumber), sub.IsActive)
	return err
}

// encodeOptIns stores only explicit flags; OptInUnset keys are omitted.
func encodeOptIns(m map[alert.Type]alert.OptIn) (string, error) {
	flat := map[string]bool{}
	for t, v := range m {
		switch v {
		case alert.OptInEnabled:
			flat[t.OptInKey()] = true
		case alert.OptInDisabled:
			flat[t.OptInKey()] = false
		}
	}
	b, err := json.Marshal(flat)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeOptIns(raw string) (map[alert.Type]alert.OptIn, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var flat map[string]bool
	if err := json.Unmarshal([]byte(raw), &flat); err != nil {
		return nil, fmt.Errorf("decode opt_ins: %w", err)
	}
	out := make(map[alert.Type]alert.OptIn, len(flat))
	for k, v := range flat {
		name := strings.TrimPrefix(k, "alert_")
		out[alert.Type(strings.ToUpper(name))] = alert.OptInFromBool(v)
	}
	return out, nil
}

func (s *sqliteStore) GetByUser(ctx context.Context, userID string) (alert.Preference, error) {
	var (
		p                         alert.Preference
		role                      string
		quietUntil, overrideUntil sql.NullInt64
		overrideBy                sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, alert_role, quiet_mode_enabled, quiet_mode_until, always_alert_on_expired,
		       always_alert_on_conflict, always_alert_on_emergency, override_enabled_by, override_expires_at
		FROM user_alert_preferences WHERE user_id = ?`, userID).
		Scan(&p.UserID, &role, &p.QuietModeEnabled, &quietUntil, &p.AlwaysAlertOnExpired,
			&p.AlwaysAlertOnConflict, &p.AlwaysAlertOnEmergency, &overrideBy, &overrideUntil)
	if errors.Is(err, sql.ErrNoRows) {
		return alert.DefaultPreference(userID), nil
	}
	if err != nil {
		return alert.Preference{}, err
	}
	p.Role = alert.Role(strings.ToUpper(role))
	p.QuietModeUntil = fromMillisPtr(quietUntil)
	p.OverrideExpiresAt = fromMillisPtr(overrideUntil)
	if overrideBy.Valid && overrideBy.String != "" {
		v := overrideBy.String
		p.OverrideEnabledBy = &v
	}
	return p, nil
}

func (s *sqliteStore) UpsertPreference(ctx context.Context, p alert.Preference) error {
	if p.UserID == "" {
		return errors.New("preference: user id required")
	}
	role := p.Role
	if role == "" {
		role = alert.RoleOffice
	}
	var overrideBy any
	if p.OverrideEnabledBy != nil {
		overrideBy = *p.OverrideEnabledBy
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_alert_preferences(user_id, alert_role, quiet_mode_enabled, quiet_mode_until,
		       always_alert_on_expired, always_alert_on_conflict, always_alert_on_emergency,
		       override_enabled_by, override_expires_at)
		VALUES(?,?,?,?,?,?,?,?,?)
		ON CONFLICT(user_id) DO UPDATE SET
			alert_role=excluded.alert_role, quiet_mode_enabled=excluded.quiet_mode_enabled,
			quiet_mode_until=excluded.quiet_mode_until, always_alert_on_expired=excluded.always_alert_on_expired,
			always_alert_on_conflict=excluded.always_alert_on_conflict,
			always_alert_on_emergency=excluded.always_alert_on_emergency,
			override_enabled_by=excluded.override_enabled_by, override_expires_at=excluded.override_expires_at`,
		p.UserID, string(role), p.QuietModeEnabled, toMillisPtr(p.QuietModeUntil), p.AlwaysAlertOnExpired,
		p.AlwaysAlertOnConflict, p.AlwaysAlertOnEmergency, overrideBy, toMillisPtr(p.OverrideExpiresAt))
	return err
}

// ---- acknowledgements ----

const ackColumns = `id, alert_id, user_id, status, sent_at, sent_via, requires_explicit_ack, ack_deadline,
	acknowledged_at, escalated_at, escalation_reason`

func (s *sqliteStore) InsertAck(ctx context.Context, a alert.Acknowledgement) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	via, err := json.Marshal(a.SentVia)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO alert_acknowledgements(`+ackColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.AlertID, a.UserID, string(a.Status), a.SentAt.UnixMilli(), string(via), a.RequiresExplicitAck,
		a.AckDeadline.UnixMilli(), toMillisPtr(a.AcknowledgedAt), toMillisPtr(a.EscalatedAt), nullStr(a.EscalationReason))
	return err
}

func (s *sqliteStore) GetAck(ctx context.Context, id string) (alert.Acknowledgement, error) {
	acks, err := s.queryAcks(ctx, `WHERE id = ?`, id)
	if err != nil {
		return alert.Acknowledgement{}, err
	}
	if len(acks) == 0 {
		return alert.Acknowledgement{}, alert.ErrNotFound
	}
	return acks[0], nil
}

func (s *sqliteStore) ListAcks(ctx context.Context) ([]alert.Acknowledgement, error) {
	return s.queryAcks(ctx, "")
}

func (s *sqliteStore) queryAcks(ctx context.Context, where string, args ...any) ([]alert.Acknowledgement, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+ackColumns+` FROM alert_acknowledgements `+where+` ORDER BY sent_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alert.Acknowledgement
	for rows.Next() {
		var (
			a                    alert.Acknowledgement
			status, via          string
			sentAt, deadline     int64
			ackedAt, escalatedAt sql.NullInt64
			reason               sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.AlertID, &a.UserID, &status, &sentAt, &via, &a.RequiresExplicitAck,
			&deadline, &ackedAt, &escalatedAt, &reason); err != nil {
			return nil, err
		}
		a.Status = alert.AckStatus(status)
		a.SentAt = time.UnixMilli(sentAt).UTC()
		a.AckDeadline = time.UnixMilli(deadline).UTC()
		a.AcknowledgedAt = fromMillisPtr(ackedAt)
		a.EscalatedAt = fromMillisPtr(escalatedAt)
		a.EscalationReason = reason.String
		if err := json.Unmarshal([]byte(via), &a.SentVia); err != nil {
			return nil, fmt.Errorf("acknowledgement %s: decode sent_via: %w", a.ID, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) EscalateOverdue(ctx context.Context, now time.Time, reason string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alert_acknowledgements
		SET status = ?, escalated_at = ?, escalation_reason = ?
		WHERE requires_explicit_ack = 1 AND status = ? AND ack_deadline < ?`,
		string(alert.AckEscalated), now.UnixMilli(), reason, string(alert.AckSent), now.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) Acknowledge(ctx context.Context, id, userID string, now time.Time) (alert.Acknowledgement, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alert_acknowledgements SET status = ?, acknowledged_at = ?
		WHERE id = ? AND user_id = ? AND status = ?`,
		string(alert.AckAcknowledged), now.UnixMilli(), id, userID, string(alert.AckSent))
	if err != nil {
		return alert.Acknowledgement{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return alert.Acknowledgement{}, err
	}
	a, err := s.GetAck(ctx, id)
	if err != nil {
		return alert.Acknowledgement{}, err
	}
	if a.UserID != userID {
		return alert.Acknowledgement{}, alert.ErrNotFound
	}
	if n == 0 {
		return a, alert.ErrConflict
	}
	return a, nil
}

// ---- helpers ----

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func toMillis(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func toMillisPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toMillis(*t)
}

func fromMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64).UTC()
}

func fromMillisPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
