package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signoff-backend/internal/domain/event"
	"signoff-backend/internal/domain/role"
	"signoff-backend/internal/domain/submission"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func recv(t *testing.T, sub event.Stream) event.ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed unexpectedly: %v", sub.Err())
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return event.ChangeEvent{}
}

func assertClosed(t *testing.T, sub event.Stream) {
	t.Helper()
	select {
	case _, ok := <-sub.Events():
		require.False(t, ok, "expected closed channel")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for close")
	}
}

func assertNothing(t *testing.T, sub event.Stream) {
	t.Helper()
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestHub_ScopeFiltering(t *testing.T) {
	h := NewHub(8, nil)
	ctx := context.Background()

	all, err := h.Subscribe(ctx, event.AllSubmissions())
	require.NoError(t, err)
	onlyA, err := h.Subscribe(ctx, event.ForSubmission("A"))
	require.NoError(t, err)

	require.NoError(t, h.Publish(ctx, event.ApprovalRecorded("B", role.Tech, "t1", t0)))
	require.NoError(t, h.Publish(ctx, event.ApprovalRecorded("A", role.Product, "p1", t0)))

	assert.Equal(t, "B", recv(t, all).SubmissionID)
	assert.Equal(t, "A", recv(t, all).SubmissionID)
	assert.Equal(t, "A", recv(t, onlyA).SubmissionID)
	assertNothing(t, onlyA)
}

func TestHub_FIFOWithinBatchAndAcrossBatches(t *testing.T) {
	h := NewHub(16, nil)
	ctx := context.Background()
	sub, err := h.Subscribe(ctx, event.ForSubmission("S"))
	require.NoError(t, err)

	require.NoError(t, h.Publish(ctx,
		event.ApprovalRecorded("S", role.Tech, "t1", t0),
		event.StatusChanged("S", submission.StatusPending, submission.StatusInReview, t0),
	))
	require.NoError(t, h.Publish(ctx,
		event.ApprovalRecorded("S", role.Business, "b1", t0),
		event.StatusChanged("S", submission.StatusInReview, submission.StatusApproved, t0),
	))

	kinds := []event.Kind{}
	for i := 0; i < 4; i++ {
		kinds = append(kinds, recv(t, sub).Kind)
	}
	assert.Equal(t, []event.Kind{
		event.KindApprovalRecorded, event.KindStatusChanged,
		event.KindApprovalRecorded, event.KindStatusChanged,
	}, kinds)
}

func TestHub_CancelStopsDelivery(t *testing.T) {
	h := NewHub(4, nil)
	ctx := context.Background()
	sub, err := h.Subscribe(ctx, event.AllSubmissions())
	require.NoError(t, err)

	sub.Cancel()
	sub.Cancel() // idempotent
	assertClosed(t, sub)
	assert.NoError(t, sub.Err())
	assert.Equal(t, 0, h.Len())

	require.NoError(t, h.Publish(ctx, event.SubmissionCreated("X", t0)))
}

func TestHub_ContextCancelReleasesSubscription(t *testing.T) {
	h := NewHub(4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := h.Subscribe(ctx, event.AllSubmissions())
	require.NoError(t, err)
	require.Equal(t, 1, h.Len())

	cancel()
	assertClosed(t, sub)
	assert.Eventually(t, func() bool { return h.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_LaggingSubscriberIsDisconnected(t *testing.T) {
	h := NewHub(2, nil)
	ctx := context.Background()
	slow, err := h.Subscribe(ctx, event.AllSubmissions())
	require.NoError(t, err)
	fast, err := h.Subscribe(ctx, event.AllSubmissions())
	require.NoError(t, err)

	done := make(chan struct{})
	var got []event.ChangeEvent
	go func() {
		defer close(done)
		for ev := range fast.Events() {
			got = append(got, ev)
			if len(got) == 3 {
				return
			}
		}
	}()

	for i := 0; i < 3; i++ {
		require.NoError(t, h.Publish(ctx, event.SubmissionCreated("S", t0)))
		// let the reader drain so only the slow one overflows
		time.Sleep(10 * time.Millisecond)
	}
	<-done

	// two buffered events are still readable, then the channel is closed
	recv(t, slow)
	recv(t, slow)
	assertClosed(t, slow)
	assert.ErrorIs(t, slow.Err(), ErrSubscriberLagging)
	assert.Len(t, got, 3)
	assert.Equal(t, 1, h.Len())
}

func TestHub_Close(t *testing.T) {
	h := NewHub(4, nil)
	ctx := context.Background()
	sub, err := h.Subscribe(ctx, event.AllSubmissions())
	require.NoError(t, err)

	h.Close()
	h.Close()
	assertClosed(t, sub)
	assert.ErrorIs(t, sub.Err(), ErrHubClosed)

	_, err = h.Subscribe(ctx, event.AllSubmissions())
	assert.ErrorIs(t, err, ErrHubClosed)
	assert.ErrorIs(t, h.Publish(ctx, event.SubmissionCreated("S", t0)), ErrHubClosed)
}

func TestFanout_JoinsErrors(t *testing.T) {
	h := NewHub(4, nil)
	ctx := context.Background()
	sub, err := h.Subscribe(ctx, event.AllSubmissions())
	require.NoError(t, err)

	failing := event.PublisherFunc(func(context.Context, ...event.ChangeEvent) error {
		return assert.AnError
	})
	err = Fanout(failing, h).Publish(ctx, event.SubmissionCreated("S", t0))
	assert.ErrorIs(t, err, assert.AnError)
	// later publishers still run
	assert.Equal(t, "S", recv(t, sub).SubmissionID)
}
