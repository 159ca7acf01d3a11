package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentcoord/core"
)

func mustSubscribe(t *testing.T, b *Bus, id string, role core.Role) *Subscription {
	t.Helper()
	s, err := b.Subscribe(id, role)
	require.NoError(t, err)
	return s
}

func TestBus_DirectRoleAndBroadcastAddressing(t *testing.T) {
	b := New()
	ctx := context.Background()

	solver := mustSubscribe(t, b, "s1", core.RoleProblemSolver)
	monitor := mustSubscribe(t, b, "m1", core.RoleMonitor)

	require.NoError(t, b.Publish(ctx, core.NewMessage(core.MessageTaskRequest, "hub", core.ToAgent("s1"), "direct")))
	require.NoError(t, b.Publish(ctx, core.NewMessage(core.MessageMonitorAlert, "hub", core.ToRole(core.RoleMonitor), "alert")))
	require.NoError(t, b.Publish(ctx, core.NewMessage(core.MessageStatusUpdate, "hub", core.Broadcast(), "all")))

	assert.Equal(t, 2, solver.Len())
	assert.Equal(t, 2, monitor.Len())

	msg, err := solver.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "direct", msg.Payload)

	msg, err = monitor.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alert", msg.Payload)
}

func TestBus_SenderDoesNotReceiveOwnBroadcast(t *testing.T) {
	b := New()
	self := mustSubscribe(t, b, "h1", core.RoleHealer)
	other := mustSubscribe(t, b, "h2", core.RoleHealer)

	require.NoError(t, b.Publish(context.Background(), core.NewMessage(core.MessageSelfHeal, "h1", core.ToRole(core.RoleHealer), nil)))

	assert.Zero(t, self.Len())
	assert.Equal(t, 1, other.Len())
}

func TestBus_FilterAppliesToRoleMessagesOnly(t *testing.T) {
	b := New(func(o *Options) {
		o.Filter = func(_ core.Message, agentID string, _ core.Role) bool { return agentID != "busy" }
	})
	busy := mustSubscribe(t, b, "busy", core.RoleProblemSolver)
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, core.NewMessage(core.MessageVoteRequest, "hub", core.ToRole(core.RoleProblemSolver), nil)))
	assert.Zero(t, busy.Len())

	require.NoError(t, b.Publish(ctx, core.NewMessage(core.MessageTaskRequest, "hub", core.ToAgent("busy"), nil)))
	assert.Equal(t, 1, busy.Len())
}

func TestBus_FullQueueDropsAfterTimeout(t *testing.T) {
	b := New(func(o *Options) {
		o.QueueCapacity = 1
		o.DeliveryTimeout = 10 * time.Millisecond
	})
	s := mustSubscribe(t, b, "a", core.RoleProblemSolver)
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, core.NewMessage(core.MessageStatusUpdate, "hub", core.ToAgent("a"), 1)))
	start := time.Now()
	require.NoError(t, b.Publish(ctx, core.NewMessage(core.MessageStatusUpdate, "hub", core.ToAgent("a"), 2)))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)

	stats := b.Stats()
	assert.Equal(t, uint64(2), stats.Published)
	assert.Equal(t, uint64(1), stats.Delivered)
	assert.Equal(t, uint64(1), stats.Dropped)
	assert.Equal(t, 1, s.Len())

	// Both messages are still in the history.
	assert.Equal(t, 2, b.MessageCount(ctx))
}

func TestBus_BlockedDeliveryCompletesWhenDrained(t *testing.T) {
	b := New(func(o *Options) {
		o.QueueCapacity = 1
		o.DeliveryTimeout = time.Second
	})
	s := mustSubscribe(t, b, "a", core.RoleProblemSolver)
	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, core.NewMessage(core.MessageStatusUpdate, "hub", core.ToAgent("a"), 1)))

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = s.TryReceive()
	}()
	require.NoError(t, b.Publish(ctx, core.NewMessage(core.MessageStatusUpdate, "hub", core.ToAgent("a"), 2)))

	msg, ok := s.TryReceive()
	require.True(t, ok)
	assert.Equal(t, 2, msg.Payload)
	assert.Zero(t, b.Stats().Dropped)
}

func TestBus_HistoryIsOrderedAndRestartable(t *testing.T) {
	b := New()
	ctx := context.Background()
	for i := range 5 {
		require.NoError(t, b.Publish(ctx, core.NewMessage(core.MessageNoteTaking, "n1", core.Broadcast(), i)))
	}

	first, err := b.History(ctx, 3)
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, 2, first[0].Payload)
	assert.Equal(t, 4, first[2].Payload)

	second, err := b.History(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	all, err := b.History(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestBus_CloseEndsSubscriptionsAndRejectsPublish(t *testing.T) {
	b := New()
	s := mustSubscribe(t, b, "a", core.RoleProblemSolver)
	b.Close()
	b.Close()

	_, err := s.Receive(context.Background())
	assert.True(t, errors.Is(err, core.ErrCommunication))

	err = b.Publish(context.Background(), core.NewMessage(core.MessageStatusUpdate, "hub", core.Broadcast(), nil))
	assert.ErrorIs(t, err, core.ErrCommunication)

	_, err = b.Subscribe("b", core.RoleMonitor)
	assert.ErrorIs(t, err, core.ErrCommunication)
	assert.True(t, b.Closed())
}

func TestBus_SubscribeRejectsDuplicates(t *testing.T) {
	b := New()
	s := mustSubscribe(t, b, "a", core.RoleProblemSolver)

	_, err := b.Subscribe("a", core.RoleProblemSolver)
	assert.ErrorIs(t, err, core.ErrDuplicateID)

	s.Close()
	s.Close()
	_ = mustSubscribe(t, b, "a", core.RoleProblemSolver)
}

func TestBus_ReceiveHonoursContext(t *testing.T) {
	b := New()
	s := mustSubscribe(t, b, "a", core.RoleProblemSolver)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := s.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBus_ConcurrentPublishers(t *testing.T) {
	b := New(func(o *Options) { o.QueueCapacity = 1000 })
	s := mustSubscribe(t, b, "sink", core.RoleNoteTaker)
	ctx := context.Background()

	var wg sync.WaitGroup
	for p := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				msg := core.NewMessage(core.MessageNoteTaking, fmt.Sprintf("p%d", p), core.ToRole(core.RoleNoteTaker), i)
				assert.NoError(t, b.Publish(ctx, msg))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 200, s.Len())

	// Per-sender order is preserved in the history.
	hist, err := b.History(ctx, 0)
	require.NoError(t, err)
	last := map[string]int{}
	for _, m := range hist {
		i := m.Payload.(int)
		if prev, ok := last[m.Sender]; ok {
			assert.Greater(t, i, prev)
		}
		last[m.Sender] = i
	}
}

func TestMemoryHistory_Retention(t *testing.T) {
	h := NewMemoryHistory(3)
	ctx := context.Background()
	for i := range 5 {
		require.NoError(t, h.Append(ctx, core.Message{ID: fmt.Sprint(i)}))
	}
	n, err := h.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	msgs, err := h.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, "2", msgs[0].ID)
	assert.Equal(t, "4", msgs[2].ID)
}
