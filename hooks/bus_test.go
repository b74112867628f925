package hooks_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/covalt-run/flowruntime/events"
	"github.com/covalt-run/flowruntime/hooks"
)

func TestBusPublishFanOut(t *testing.T) {
	bus := hooks.NewBus()
	ctx := context.Background()

	count := 0
	sub := hooks.SubscriberFunc(func(ctx context.Context, event hooks.Event) error {
		count++
		return nil
	})
	_, err := bus.Register(sub)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, hooks.NewRunStartedEvent("run1", "chat1", "msg1")))
	require.NoError(t, bus.Publish(ctx, hooks.NewRunCompletedEvent("run1", "chat1", nil)))
	require.Equal(t, 2, count)
}

func TestBusRegisterNil(t *testing.T) {
	bus := hooks.NewBus()
	_, err := bus.Register(nil)
	require.Error(t, err)
}

func TestSubscriptionCloseStopsDelivery(t *testing.T) {
	bus := hooks.NewBus()
	ctx := context.Background()
	count := 0
	sub := hooks.SubscriberFunc(func(ctx context.Context, event hooks.Event) error {
		count++
		return nil
	})
	subscription, err := bus.Register(sub)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, hooks.NewRunStartedEvent("run1", "chat1", "msg1")))
	require.NoError(t, subscription.Close())
	require.NoError(t, bus.Publish(ctx, hooks.NewRunCompletedEvent("run1", "chat1", nil)))
	require.Equal(t, 1, count)

	// Close is idempotent.
	require.NoError(t, subscription.Close())
}

func TestPublishStopsAtFirstSubscriberError(t *testing.T) {
	bus := hooks.NewBus()
	ctx := context.Background()
	var calls []int

	wantErr := errors.New("persistence unavailable")
	_, err := bus.Register(hooks.SubscriberFunc(func(context.Context, hooks.Event) error {
		calls = append(calls, 1)
		return wantErr
	}))
	require.NoError(t, err)
	_, err = bus.Register(hooks.SubscriberFunc(func(context.Context, hooks.Event) error {
		calls = append(calls, 2)
		return nil
	}))
	require.NoError(t, err)

	err = bus.Publish(ctx, hooks.NewRunStartedEvent("run1", "chat1", "msg1"))
	require.ErrorIs(t, err, wantErr)
}

func TestEventKeyResolvesToKnownWireName(t *testing.T) {
	evt := hooks.NewFlowNodeStartedEvent("run1", "chat1", "n1", "prompt-template")
	name, err := events.Name(evt.Key())
	require.NoError(t, err)
	require.Equal(t, "FlowNodeStarted", name)
	require.Equal(t, "run1", evt.RunID())
	require.Equal(t, "chat1", evt.ChatID())
}
