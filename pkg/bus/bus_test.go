package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func receive[K key, M message](t *testing.T, ch <-chan Message[K, M]) Message[K, M] {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return Message[K, M]{}
}

func TestBusDeliversByKey(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewBus[string, int](zap.NewNop())
	require.NoError(t, b.Start(ctx))
	<-b.Ready()

	all := b.Subscribe(ctx)
	onlyA := b.Subscribe(ctx, "a")

	b.Publish(ctx, "b", 1)
	b.CreatePublisher("a")(ctx, 2)

	assert.Equal(t, Message[string, int]{"b", 1}, receive(t, all))
	assert.Equal(t, Message[string, int]{"a", 2}, receive(t, all))
	assert.Equal(t, Message[string, int]{"a", 2}, receive(t, onlyA))

	select {
	case msg := <-onlyA:
		t.Fatalf("unexpected message %v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusClosesSubscriptionOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewBus[string, int](zap.NewNop())
	require.NoError(t, b.Start(ctx))

	subCtx, subCancel := context.WithCancel(ctx)
	ch := b.Subscribe(subCtx, "a", "b")
	subCancel()

	for range ch {
	}
	b.Publish(ctx, "a", 1)
}

func TestBusRejectsZeroConcurrency(t *testing.T) {
	b := NewBus[string, int](zap.NewNop(), WithConcurrency(0))
	assert.Error(t, b.Start(context.Background()))
}
