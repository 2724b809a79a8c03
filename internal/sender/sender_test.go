package sender

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"locatealert/internal/alert"
	logx "locatealert/pkg/logx"
)

func TestHTTPEmailPostsJSON(t *testing.T) {
	t.Parallel()

	var got emailRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer k3y", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id":"msg_123"}`))
	}))
	defer srv.Close()

	es, err := NewHTTPEmail(HTTPEmailConfig{Endpoint: srv.URL, APIKey: "k3y", From: "alerts@example.com"}, logx.Nop())
	require.NoError(t, err)

	id, err := es.SendEmail(context.Background(), EmailMessage{
		To: "crew@example.com", Subject: "s", HTML: "<p>h</p>", Text: "h",
		Metadata: map[string]string{"ticket_id": "t1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "msg_123", id)
	assert.Equal(t, "alerts@example.com", got.From)
	assert.Equal(t, []string{"crew@example.com"}, got.To)
	assert.Equal(t, "s", got.Subject)
	assert.Equal(t, "<p>h</p>", got.HTML)
	assert.Equal(t, "t1", got.Metadata["ticket_id"])
}

func TestHTTPEmailProviderError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		temporary bool
	}{
		{"bad request", http.StatusBadRequest, false},
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusBadGateway, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			es, err := NewHTTPEmail(HTTPEmailConfig{Endpoint: srv.URL, From: "a@example.com"}, logx.Nop())
			require.NoError(t, err)
			_, err = es.SendEmail(context.Background(), EmailMessage{To: "b@example.com", Subject: "s"})

			var pe *ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.status, pe.Status)
			assert.Equal(t, "nope", pe.Body)
			assert.Equal(t, tt.temporary, pe.Temporary())
		})
	}
}

func TestHTTPEmailHonorsTimeout(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	es, err := NewHTTPEmail(HTTPEmailConfig{Endpoint: srv.URL, From: "a@example.com", Timeout: 50 * time.Millisecond}, logx.Nop())
	require.NoError(t, err)
	_, err = es.SendEmail(context.Background(), EmailMessage{To: "b@example.com"})
	require.Error(t, err)
}

func TestNewHTTPEmailValidates(t *testing.T) {
	t.Parallel()
	cases := []HTTPEmailConfig{
		{},
		{Endpoint: "ftp://mail.example.com", From: "a@example.com"},
		{Endpoint: "https://", From: "a@example.com"},
		{Endpoint: "https://mail.example.com"},
	}
	for _, c := range cases {
		if _, err := NewHTTPEmail(c, logx.Nop()); err == nil {
			t.Fatalf("expected error for %+v", c)
		}
	}
}

type recordingSMS struct {
	to, text string
}

func (r *recordingSMS) SendSMS(_ context.Context, to, text string) error {
	r.to, r.text = to, text
	return nil
}

type recordingEmail struct {
	got EmailMessage
	err error
}

func (r *recordingEmail) SendEmail(_ context.Context, m EmailMessage) (string, error) {
	r.got = m
	return "id", r.err
}

func TestRegistryRoutesByChannel(t *testing.T) {
	t.Parallel()
	email := &recordingEmail{}
	sms := &recordingSMS{}
	reg := NewRegistry(email, sms, logx.Nop())
	msg := alert.Message{Subject: "subj", Text: "text", HTML: "<p>text</p>"}

	require.NoError(t, reg.Send(context.Background(), Delivery{Record: alert.Record{Channel: alert.ChannelEmail}, To: "x@example.com", Message: msg}))
	assert.Equal(t, "x@example.com", email.got.To)
	assert.Equal(t, "subj", email.got.Subject)
	assert.Equal(t, "<p>text</p>", email.got.HTML)
	assert.Equal(t, "text", email.got.Text)

	require.NoError(t, reg.Send(context.Background(), Delivery{Record: alert.Record{Channel: alert.ChannelSMS}, To: "+13045550100", Message: msg}))
	assert.Equal(t, "+13045550100", sms.to)
	assert.Equal(t, "subj", sms.text)

	for _, ch := range []alert.Channel{alert.ChannelPush, alert.ChannelInApp} {
		assert.NoError(t, reg.Send(context.Background(), Delivery{Record: alert.Record{Channel: ch}, Message: msg}))
	}

	err := reg.Send(context.Background(), Delivery{Record: alert.Record{Channel: "FAX"}})
	assert.ErrorIs(t, err, ErrNoSender)
}

func TestEmailChannelPropagatesError(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	c := EmailChannel{Email: &recordingEmail{err: boom}}
	err := c.Send(context.Background(), Delivery{To: "x@example.com"})
	assert.ErrorIs(t, err, boom)
}

func TestStubsRespectCanceledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, NewLogSMS(logx.Nop()).SendSMS(ctx, "+13045550100", "x"))
	_, err := NewLogEmail(logx.Nop()).SendEmail(ctx, EmailMessage{To: "a@example.com"})
	assert.Error(t, err)

	id, err := NewLogEmail(logx.Nop()).SendEmail(context.Background(), EmailMessage{To: "a@example.com"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestMaskPhone(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "***0100", maskPhone("+13045550100"))
	assert.Equal(t, "12", maskPhone("12"))
}
