package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"locatealert/internal/alert"
	"locatealert/internal/batch"
	"locatealert/internal/dispatch"
	logx "locatealert/pkg/logx"
)

type fakeRunner struct {
	sum dispatch.Summary
	err error
}

func (f fakeRunner) Run(context.Context) (dispatch.Summary, error) { return f.sum, f.err }

type fakeAcks struct {
	ack alert.Acknowledgement
	err error
	got [2]string
}

func (f *fakeAcks) Acknowledge(_ context.Context, id, user string) (alert.Acknowledgement, error) {
	f.got = [2]string{id, user}
	return f.ack, f.err
}

func do(t *testing.T, h http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m
}

func TestRunResponseShape(t *testing.T) {
	t.Parallel()
	srv := New(Config{}, fakeRunner{sum: dispatch.Summary{
		TicketsChecked: 5, AlertsSent: 7, AlertsFailed: 1, ExpiredTickets: 2, Skipped: 3, Escalated: 1,
	}}, &fakeAcks{}, nil, logx.Nop())

	for _, path := range []string{"/", "/run"} {
		rec := do(t, srv.Handler(), http.MethodPost, path, "", nil)
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.JSONEq(t, `{"success":true,"ticketsChecked":5,"alertsSent":7,"alertsFailed":1,"errors":[],"expiredTickets":2}`, rec.Body.String())
	}
}

func TestRunFatalIs500(t *testing.T) {
	t.Parallel()
	srv := New(Config{}, fakeRunner{err: errors.New("trigger feed: unavailable")}, &fakeAcks{}, nil, logx.Nop())
	rec := do(t, srv.Handler(), http.MethodPost, "/", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"trigger feed: unavailable"}`, rec.Body.String())
}

func TestRunWhileBatchInFlightIs409(t *testing.T) {
	t.Parallel()
	srv := New(Config{}, fakeRunner{err: batch.ErrRunning}, &fakeAcks{}, nil, logx.Nop())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/run", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already running")
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()
	srv := New(Config{Token: "secret"}, fakeRunner{}, &fakeAcks{}, nil, logx.Nop())
	for _, path := range []string{"/", "/run", "/acknowledgements/a1/ack"} {
		rec := do(t, srv.Handler(), http.MethodOptions, path, "", nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Empty(t, rec.Body.String())
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "content-type")
	}
}

func TestTokenRequiredWhenConfigured(t *testing.T) {
	t.Parallel()
	srv := New(Config{Token: "secret"}, fakeRunner{}, &fakeAcks{}, nil, logx.Nop())

	rec := do(t, srv.Handler(), http.MethodPost, "/run", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, srv.Handler(), http.MethodPost, "/run", "", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, srv.Handler(), http.MethodPost, "/run", "", map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv.Handler(), http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "health stays open")
}

func TestAcknowledgeEndpoint(t *testing.T) {
	t.Parallel()
	acked := time.Date(2026, 3, 5, 10, 5, 0, 0, time.UTC)

	tests := []struct {
		name   string
		body   string
		ack    alert.Acknowledgement
		err    error
		status int
	}{
		{
			name:   "ok",
			body:   `{"userId":"u1"}`,
			ack:    alert.Acknowledgement{ID: "a1", AlertID: "r1", UserID: "u1", Status: alert.AckAcknowledged, AcknowledgedAt: &acked},
			status: http.StatusOK,
		},
		{name: "missing user", body: `{}`, status: http.StatusBadRequest},
		{name: "bad json", body: `{"userId":`, status: http.StatusBadRequest},
		{name: "unknown field", body: `{"userId":"u1","x":1}`, status: http.StatusBadRequest},
		{name: "not found", body: `{"userId":"u1"}`, err: alert.ErrNotFound, status: http.StatusNotFound},
		{
			name: "already escalated", body: `{"userId":"u1"}`,
			ack: alert.Acknowledgement{Status: alert.AckEscalated}, err: alert.ErrConflict, status: http.StatusConflict,
		},
		{name: "store error", body: `{"userId":"u1"}`, err: errors.New("disk I/O error"), status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			acks := &fakeAcks{ack: tt.ack, err: tt.err}
			srv := New(Config{}, fakeRunner{}, acks, nil, logx.Nop())
			rec := do(t, srv.Handler(), http.MethodPost, "/acknowledgements/a1/ack", tt.body, nil)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			switch tt.status {
			case http.StatusOK:
				assert.Equal(t, [2]string{"a1", "u1"}, acks.got)
				m := decode(t, rec)
				assert.Equal(t, "ACKNOWLEDGED", m["status"])
				assert.Equal(t, "r1", m["alertId"])
			case http.StatusConflict:
				assert.Contains(t, decode(t, rec)["error"], "escalated")
			}
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	srv := New(Config{}, fakeRunner{}, &fakeAcks{}, func() any { return map[string]int{"schedules": 1} }, logx.Nop())

	rec := do(t, srv.Handler(), http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	m := decode(t, rec)
	assert.Equal(t, "ok", m["status"])
	assert.NotNil(t, m["details"])

	rec = do(t, srv.Handler(), http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServeShutsDownOnCancel(t *testing.T) {
	t.Parallel()
	srv := New(Config{Addr: "127.0.0.1:0"}, fakeRunner{}, &fakeAcks{}, nil, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestPprofMountedOnlyWhenEnabled(t *testing.T) {
	t.Parallel()
	off := New(Config{}, fakeRunner{}, &fakeAcks{}, nil, logx.Nop())
	rec := do(t, off.Handler(), http.MethodGet, "/debug/pprof/", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	on := New(Config{Token: "secret", Pprof: true}, fakeRunner{}, &fakeAcks{}, nil, logx.Nop())
	rec = do(t, on.Handler(), http.MethodGet, "/debug/pprof/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, on.Handler(), http.MethodGet, "/debug/pprof/", "", map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "goroutine")
}
