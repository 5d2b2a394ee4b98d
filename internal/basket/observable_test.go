package basket

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservable_UnsubscribeWhilePublishing(t *testing.T) {
	o := newObservable()
	t.Cleanup(func() { _ = o.Close() })

	_, unsubscribe := o.Subscribe(1)
	b := &Basket{ID: "b", Items: []Item{{ID: 1, Price: decimal.NewFromInt(1), Quantity: 1}}}

	published := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			o.publish(b)
		}
		close(published)
	}()

	unsubscribe()
	unsubscribe()

	select {
	case <-published:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on an unsubscribed listener")
	}
	current, ok := o.Current()
	require.True(t, ok)
	assert.Equal(t, "b", current.ID)
}

func TestObservable_StalledSubscriberKeepsLatest(t *testing.T) {
	o := newObservable()
	t.Cleanup(func() { _ = o.Close() })

	stalled, unsubscribe := o.Subscribe(1)
	defer unsubscribe()
	live, unsubscribeLive := o.Subscribe(64)
	defer unsubscribeLive()

	const n = 50
	published := make(chan struct{})
	go func() {
		for i := 1; i <= n; i++ {
			o.publish(&Basket{ID: fmt.Sprintf("b-%d", i), Items: []Item{{ID: 1, Quantity: i}}})
		}
		close(published)
	}()
	select {
	case <-published:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a stalled listener")
	}

	want := fmt.Sprintf("b-%d", n)
	require.Eventually(t, func() bool {
		for {
			select {
			case b := <-live:
				if b.ID == want {
					return true
				}
			default:
				return false
			}
		}
	}, 2*time.Second, 10*time.Millisecond, "live listener missed the latest snapshot")

	// The stalled buffer converges on the newest snapshot.
	assert.Eventually(t, func() bool {
		select {
		case b := <-stalled:
			return b.ID == want
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestObservable_CloseIsIdempotent(t *testing.T) {
	o := newObservable()
	_, unsubscribe := o.Subscribe(1)

	require.NoError(t, o.Close())
	require.NoError(t, o.Close())

	done := make(chan struct{})
	go func() {
		unsubscribe()
		o.publish(&Basket{ID: "late", Items: []Item{{ID: 1, Quantity: 1}}})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("calls after close must not block")
	}

	ch, unsubscribeLate := o.Subscribe(1)
	defer unsubscribeLate()
	_, open := <-ch
	assert.False(t, open)

	current, ok := o.Current()
	require.True(t, ok)
	assert.Equal(t, "late", current.ID)
}
