package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/technosupport/ts-guardian/internal/data"
)

type MockAppender struct {
	mock.Mock
}

func (m *MockAppender) Append(ctx context.Context, ev *data.AlertEvent) error {
	args := m.Called(ctx, ev)
	if args.Error(0) == nil {
		// The store assigns identity on a real append.
		ev.EventID = uuid.New()
		ev.Seq = 1
		ev.CreatedAt = time.Now()
	}
	return args.Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ev *data.AlertEvent) error {
	args := m.Called(ev)
	return args.Error(0)
}

func TestDispatch_DurableFirstThenTransient(t *testing.T) {
	appender := new(MockAppender)
	pub := new(MockPublisher)
	d := NewDispatcher(appender, pub)
	alertID := uuid.New()

	appender.On("Append", mock.Anything, mock.MatchedBy(func(ev *data.AlertEvent) bool {
		return ev.AlertID == alertID && ev.Kind == data.EventAcknowledged
	})).Return(nil)
	pub.On("Publish", mock.Anything).Return(nil)

	ev, err := d.Dispatch(context.Background(), alertID, data.EventAcknowledged, map[string]string{"identity": "x"})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, ev.EventID)

	appender.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestDispatch_TransientFailureSwallowed(t *testing.T) {
	appender := new(MockAppender)
	pub := new(MockPublisher)
	d := NewDispatcher(appender, pub)

	appender.On("Append", mock.Anything, mock.Anything).Return(nil)
	pub.On("Publish", mock.Anything).Return(errors.New("nats down"))

	// The transient channel failing must not fail the operation.
	_, err := d.Dispatch(context.Background(), uuid.New(), data.EventChatMessage, nil)
	assert.NoError(t, err)
}

func TestDispatch_DurableFailureFatal(t *testing.T) {
	appender := new(MockAppender)
	pub := new(MockPublisher)
	d := NewDispatcher(appender, pub)

	appender.On("Append", mock.Anything, mock.Anything).Return(errors.New("pg down"))

	_, err := d.Dispatch(context.Background(), uuid.New(), data.EventAlertCreated, nil)
	assert.Error(t, err)
	// No publish when the source of truth was never written.
	pub.AssertNotCalled(t, "Publish", mock.Anything)
}

func TestDispatch_NoTransientChannel(t *testing.T) {
	appender := new(MockAppender)
	d := NewDispatcher(appender, nil)

	appender.On("Append", mock.Anything, mock.Anything).Return(nil)

	_, err := d.Dispatch(context.Background(), uuid.New(), data.EventAlertCreated, nil)
	assert.NoError(t, err)
}

func TestEventDedup(t *testing.T) {
	d := NewEventDedup(16, time.Minute)
	alertID := uuid.New()
	eventID := uuid.New()

	assert.False(t, d.IsDuplicate(alertID, eventID))
	assert.True(t, d.IsDuplicate(alertID, eventID))

	// Same event id under a different alert is a different key.
	assert.False(t, d.IsDuplicate(uuid.New(), eventID))
}

type fakeLister struct {
	events []data.AlertEvent
}

func (f *fakeLister) ListAfter(ctx context.Context, alertID uuid.UUID, afterSeq int64, limit int) ([]data.AlertEvent, error) {
	var out []data.AlertEvent
	for _, ev := range f.events {
		if ev.Seq > afterSeq && len(out) < limit {
			out = append(out, ev)
		}
	}
	return out, nil
}

func TestFeed_TailDeliversInOrderAndIsRestartable(t *testing.T) {
	alertID := uuid.New()
	lister := &fakeLister{events: []data.AlertEvent{
		{Seq: 1, EventID: uuid.New(), AlertID: alertID, Kind: data.EventAlertCreated},
		{Seq: 2, EventID: uuid.New(), AlertID: alertID, Kind: data.EventAcknowledged},
		{Seq: 3, EventID: uuid.New(), AlertID: alertID, Kind: data.EventAlertResolved},
	}}
	feed := NewFeed(lister, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan *data.AlertEvent, 8)
	go feed.Tail(ctx, alertID, 0, out)

	var got []int64
	for i := 0; i < 3; i++ {
		select {
		case ev := <-out:
			got = append(got, ev.Seq)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for feed")
		}
	}
	assert.Equal(t, []int64{1, 2, 3}, got)

	// Restart from the middle: replay is at-least-once from any cursor.
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	out2 := make(chan *data.AlertEvent, 8)
	go feed.Tail(ctx2, alertID, 1, out2)

	select {
	case ev := <-out2:
		assert.Equal(t, int64(2), ev.Seq)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for restarted feed")
	}
}
