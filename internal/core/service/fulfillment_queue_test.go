package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/canteen/internal/core/domain"
)

func ticketFor(orderID, station string) domain.FulfillmentTicket {
	return domain.FulfillmentTicket{OrderID: orderID, StationID: station, Token: "T" + orderID, EnqueuedAt: time.Now()}
}

func TestFulfillmentQueue_FIFOPerStation(t *testing.T) {
	q := NewFulfillmentQueue(QueueConfig{})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, ticketFor("1", "grill")))
	require.NoError(t, q.Enqueue(ctx, ticketFor("2", "tiffin")))
	require.NoError(t, q.Enqueue(ctx, ticketFor("3", "grill")))

	assert.Equal(t, 2, q.Depth("grill"))
	assert.Equal(t, 1, q.Depth("tiffin"))

	for _, want := range []string{"1", "3"} {
		got, ok, err := q.DequeueNext(ctx, "grill", 0)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, got.OrderID)
	}

	_, ok, err := q.DequeueNext(ctx, "grill", 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, q.Depth("tiffin"))
}

func TestFulfillmentQueue_NoDuplicates(t *testing.T) {
	q := NewFulfillmentQueue(QueueConfig{})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, ticketFor("1", "grill")))
	require.NoError(t, q.Enqueue(ctx, ticketFor("1", "grill")))
	assert.Equal(t, 1, q.Depth("grill"))

	_, ok, err := q.DequeueNext(ctx, "grill", 0)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, q.Enqueue(ctx, ticketFor("1", "grill")))
	assert.Equal(t, 0, q.Depth("grill"))
	assert.True(t, q.Contains("1"))
}

func TestFulfillmentQueue_RejectWhenFull(t *testing.T) {
	q := NewFulfillmentQueue(QueueConfig{Capacity: 2})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, ticketFor("1", "grill")))
	require.NoError(t, q.Enqueue(ctx, ticketFor("2", "grill")))

	err := q.Enqueue(ctx, ticketFor("3", "grill"))
	assert.ErrorIs(t, err, domain.ErrBackpressure)
	assert.Equal(t, 2, q.Depth("grill"))

	require.NoError(t, q.Enqueue(ctx, ticketFor("4", "tiffin")))
}

func TestFulfillmentQueue_BlockUntilFreed(t *testing.T) {
	q := NewFulfillmentQueue(QueueConfig{Capacity: 1, BlockOnFull: true, BlockTimeout: 2 * time.Second})
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, ticketFor("1", "grill")))

	done := make(chan error, 1)
	go func() { done <- q.Enqueue(ctx, ticketFor("2", "grill")) }()

	time.Sleep(20 * time.Millisecond)
	_, ok, err := q.DequeueNext(ctx, "grill", 0)
	require.NoError(t, err)
	require.True(t, ok)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked enqueue was not released")
	}
	assert.Equal(t, 1, q.Depth("grill"))
}

func TestFulfillmentQueue_BlockTimesOut(t *testing.T) {
	q := NewFulfillmentQueue(QueueConfig{Capacity: 1, BlockOnFull: true, BlockTimeout: 30 * time.Millisecond})
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, ticketFor("1", "grill")))

	start := time.Now()
	err := q.Enqueue(ctx, ticketFor("2", "grill"))
	assert.ErrorIs(t, err, domain.ErrBackpressure)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestFulfillmentQueue_DequeueWaits(t *testing.T) {
	q := NewFulfillmentQueue(QueueConfig{})
	ctx := context.Background()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Enqueue(ctx, ticketFor("1", "grill"))
	}()

	got, ok, err := q.DequeueNext(ctx, "grill", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", got.OrderID)

	_, ok, err = q.DequeueNext(ctx, "grill", 20*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFulfillmentQueue_DequeueHonoursContext(t *testing.T) {
	q := NewFulfillmentQueue(QueueConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok, err := q.DequeueNext(ctx, "grill", time.Second)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFulfillmentQueue_Remove(t *testing.T) {
	q := NewFulfillmentQueue(QueueConfig{Capacity: 2})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, ticketFor("1", "grill")))
	require.NoError(t, q.Enqueue(ctx, ticketFor("2", "grill")))
	require.NoError(t, q.Enqueue(ctx, ticketFor("3", "tiffin")))

	assert.True(t, q.Remove("1"))
	assert.False(t, q.Remove("1"))
	assert.Equal(t, 1, q.Depth("grill"))

	_, ok, err := q.DequeueNext(ctx, "tiffin", 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, q.Remove("3"))
	assert.False(t, q.Contains("3"))

	got, ok, err := q.DequeueNext(ctx, "grill", 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2", got.OrderID)
}

func TestFulfillmentQueue_RestoreKeepsOrder(t *testing.T) {
	q := NewFulfillmentQueue(QueueConfig{Capacity: 1})
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

	q.Restore([]domain.FulfillmentTicket{
		{OrderID: "b", StationID: "grill", EnqueuedAt: base.Add(time.Minute)},
		{OrderID: "a", StationID: "grill", EnqueuedAt: base},
	})
	assert.Equal(t, 2, q.Depth("grill"))

	got, ok, err := q.DequeueNext(context.Background(), "grill", 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", got.OrderID)
}

func TestFulfillmentQueue_StagedTicketHiddenUntilCommit(t *testing.T) {
	q := NewFulfillmentQueue(QueueConfig{Capacity: 2})
	ctx := context.Background()

	require.NoError(t, q.Stage(ctx, ticketFor("1", "grill")))
	require.NoError(t, q.Enqueue(ctx, ticketFor("2", "grill")))
	assert.Equal(t, 2, q.Depth("grill"))
	assert.ErrorIs(t, q.Enqueue(ctx, ticketFor("3", "grill")), domain.ErrBackpressure)

	got, ok, err := q.DequeueNext(ctx, "grill", 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2", got.OrderID)

	_, ok, err = q.DequeueNext(ctx, "grill", 0)
	require.NoError(t, err)
	assert.False(t, ok)

	q.Commit("1")
	got, ok, err = q.DequeueNext(ctx, "grill", 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", got.OrderID)
}

func TestFulfillmentQueue_CommitWakesWaiter(t *testing.T) {
	q := NewFulfillmentQueue(QueueConfig{})
	ctx := context.Background()
	require.NoError(t, q.Stage(ctx, ticketFor("1", "grill")))

	done := make(chan domain.FulfillmentTicket, 1)
	go func() {
		ticket, ok, err := q.DequeueNext(ctx, "grill", 2*time.Second)
		if err == nil && ok {
			done <- ticket
		}
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	q.Commit("1")

	select {
	case ticket := <-done:
		assert.Equal(t, "1", ticket.OrderID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not wake on commit")
	}
}

func TestFulfillmentQueue_RemoveStaged(t *testing.T) {
	q := NewFulfillmentQueue(QueueConfig{})
	ctx := context.Background()

	require.NoError(t, q.Stage(ctx, ticketFor("1", "grill")))
	assert.True(t, q.Remove("1"))
	assert.False(t, q.Contains("1"))
	assert.Equal(t, 0, q.Depth("grill"))

	q.Commit("1")
	_, ok, err := q.DequeueNext(ctx, "grill", 0)
	require.NoError(t, err)
	assert.False(t, ok)
}
