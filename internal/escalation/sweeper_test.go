package escalation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"locatealert/internal/alert"
	"locatealert/internal/eventbus"
	"locatealert/internal/storage"
	logx "locatealert/pkg/logx"
)

func seedAck(t *testing.T, st storage.Store, id string, sentAt time.Time) {
	t.Helper()
	rec := alert.Record{ID: "rec-" + id, UserID: "u1", Channel: alert.ChannelEmail, SentAt: sentAt}
	require.NoError(t, st.InsertAck(context.Background(), alert.NewAcknowledgement(id, rec)))
}

func TestSweepEscalatesAfterDeadline(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	sent := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	seedAck(t, st, "a1", sent)

	now := sent.Add(14 * time.Minute)
	s, err := New(st, nil, logx.Nop(), func() time.Time { return now })
	require.NoError(t, err)

	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "deadline not reached")

	now = sent.Add(15 * time.Minute)
	n, err = s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "deadline is exclusive")

	now = sent.Add(16 * time.Minute)
	n, err = s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	a, err := st.GetAck(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, alert.AckEscalated, a.Status)
	assert.Equal(t, "No acknowledgement received within deadline", a.EscalationReason)
	require.NotNil(t, a.EscalatedAt)
	assert.True(t, a.EscalatedAt.Equal(now))

	n, err = s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAcknowledgedRowsAreNeverEscalated(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	sent := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	seedAck(t, st, "a1", sent)

	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	now := sent.Add(5 * time.Minute)
	s, err := New(st, bus, logx.Nop(), func() time.Time { return now })
	require.NoError(t, err)

	_, err = s.Acknowledge(context.Background(), "a1", "u1")
	require.NoError(t, err)

	now = sent.Add(time.Hour)
	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	a, err := st.GetAck(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, alert.AckAcknowledged, a.Status)
	assert.Nil(t, a.EscalatedAt)

	require.Len(t, events, 1)
	assert.Equal(t, eventbus.TypeAckAcknowledged, (<-events).Type)

	_, err = s.Acknowledge(context.Background(), "a1", "u1")
	assert.ErrorIs(t, err, alert.ErrConflict)
}

func TestNewRequiresStore(t *testing.T) {
	t.Parallel()
	_, err := New(nil, nil, logx.Nop(), nil)
	assert.Error(t, err)
}
