package reload

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	uerrors "github.com/conneroisu/unifee/internal/errors"
)

func receive(t *testing.T, ch <-chan Signal) Signal {
	t.Helper()
	select {
	case sig, ok := <-ch:
		require.True(t, ok, "channel closed")
		return sig
	case <-time.After(250 * time.Millisecond):
		t.Fatal("timed out waiting for signal")
	}
	return Signal{}
}

func TestBus_PublishSubscribe(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, unsubscribe := b.Subscribe(GlobalTopic, 1)
	defer unsubscribe()

	require.NoError(t, b.Publish(context.Background(), GlobalTopic))
	assert.Equal(t, GlobalTopic, receive(t, ch).Topic)
}

func TestBus_TopicsAreIsolated(t *testing.T) {
	b := NewBus()
	defer b.Close()

	pageCh, unsubPage := b.Subscribe(AssetsTopic("a"), 1)
	defer unsubPage()
	otherCh, unsubOther := b.Subscribe(AssetsTopic("b"), 1)
	defer unsubOther()

	require.NoError(t, b.Publish(context.Background(), AssetsTopic("a")))
	assert.Equal(t, "assets:a", receive(t, pageCh).Topic)

	select {
	case <-otherCh:
		t.Fatal("signal leaked across topics")
	default:
	}
}

func TestBus_FanOutToAllSubscribers(t *testing.T) {
	b := NewBus()
	defer b.Close()

	chans := make([]<-chan Signal, 3)
	for i := range chans {
		ch, unsubscribe := b.Subscribe(GlobalTopic, 1)
		defer unsubscribe()
		chans[i] = ch
	}
	assert.Equal(t, 3, b.SubscriberCount(GlobalTopic))

	require.NoError(t, b.Publish(context.Background(), GlobalTopic))
	for _, ch := range chans {
		receive(t, ch)
	}
}

func TestBus_NoReplayForLateSubscribers(t *testing.T) {
	b := NewBus()
	defer b.Close()

	require.NoError(t, b.Publish(context.Background(), GlobalTopic))

	ch, unsubscribe := b.Subscribe(GlobalTopic, 1)
	defer unsubscribe()

	select {
	case <-ch:
		t.Fatal("late subscriber received an earlier signal")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBus_PublishBackpressure(t *testing.T) {
	b := NewBus()
	defer b.Close()

	_, unsubscribe := b.Subscribe(GlobalTopic, 0)
	defer unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := b.Publish(ctx, GlobalTopic)
	require.Error(t, err)
	assert.True(t, uerrors.IsKind(err, uerrors.KindInternal))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBus_OrderPreservedPerSubscriber(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, unsubscribe := b.Subscribe(GlobalTopic, 0)
	defer unsubscribe()

	const n = 20
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			assert.NoError(t, b.Publish(context.Background(), GlobalTopic))
		}
	}()

	for i := 0; i < n; i++ {
		receive(t, ch)
	}
	wg.Wait()
}

func TestBus_Unsubscribe(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, unsubscribe := b.Subscribe(GlobalTopic, 1)
	unsubscribe()
	unsubscribe()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, b.SubscriberCount(GlobalTopic))
	require.NoError(t, b.Publish(context.Background(), GlobalTopic))
}

func TestBus_Close(t *testing.T) {
	b := NewBus()

	ch, _ := b.Subscribe(GlobalTopic, 1)
	b.Close()
	b.Close()

	_, ok := <-ch
	assert.False(t, ok)
	assert.ErrorIs(t, b.Publish(context.Background(), GlobalTopic), ErrClosed)

	late, unsubscribe := b.Subscribe(GlobalTopic, 1)
	unsubscribe()
	_, ok = <-late
	assert.False(t, ok)
}

func TestBus_CloseUnblocksPendingPublish(t *testing.T) {
	b := NewBus()

	_, _ = b.Subscribe(GlobalTopic, 0)

	done := make(chan error, 1)
	go func() {
		done <- b.Publish(context.Background(), GlobalTopic)
	}()

	time.Sleep(10 * time.Millisecond)
	b.Close()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publish did not return after Close")
	}
}
