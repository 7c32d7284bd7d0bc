package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishThenSubscribe_GetsLatestImmediately(t *testing.T) {
	b := New()
	b.Publish("u1", Record{State: "rendering", CurrentPage: 2, TotalPages: 10})

	ch, unsub := b.Subscribe("u1")
	defer unsub()

	select {
	case rec := <-ch:
		assert.Equal(t, "rendering", rec.State)
		assert.Equal(t, 2, rec.CurrentPage)
	case <-time.After(time.Second):
		t.Fatal("expected immediate delivery of latest record")
	}
}

func TestSubscribeThenPublish_Delivers(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("u1")
	defer unsub()

	b.Publish("u1", Record{State: "parsing", CurrentPage: 1, TotalPages: 5})

	select {
	case rec := <-ch:
		assert.Equal(t, "parsing", rec.State)
	case <-time.After(time.Second):
		t.Fatal("expected delivery")
	}
}

func TestClose_DeliversTerminalToConnectedSubscribers(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("u1")
	defer unsub()

	b.Close("u1", Record{State: "done", CurrentPage: 5, TotalPages: 5})

	var got Record
	var ok bool
	select {
	case got, ok = <-ch:
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("expected terminal record")
	}
	assert.Equal(t, "done", got.State)
	assert.True(t, got.Terminal)

	_, ok = <-ch
	assert.False(t, ok, "channel should be closed after terminal delivery")
}

func TestSubscribeAfterClose_GetsTerminalThenCloses(t *testing.T) {
	b := New()
	b.Close("u1", Record{State: "error", Message: "boom"})

	ch, unsub := b.Subscribe("u1")
	defer unsub()

	rec, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, "error", rec.State)

	_, ok = <-ch
	assert.False(t, ok)
}

func TestSlowSubscriberIsDisconnectedNotBlocked(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("u1")
	defer unsub()

	b.Publish("u1", Record{State: "parsing", CurrentPage: 1})
	done := make(chan struct{})
	go func() {
		b.Publish("u1", Record{State: "parsing", CurrentPage: 2})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	_, ok := <-ch
	assert.True(t, ok)
	_, ok = <-ch
	assert.False(t, ok, "slow subscriber should have been disconnected")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("u1")
	unsub()

	b.Publish("u1", Record{State: "parsing"})
	_, ok := <-ch
	assert.False(t, ok)
}
