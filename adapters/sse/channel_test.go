package sse_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"gavel/adapters/sse"
)

func TestChannel(t *testing.T) {
	ch := sse.NewChannel[event]()

	sub := ch.Subscribe()
	assert.NotNil(t, sub)
	assert.Equal(t, 1, ch.Len())

	msg := event{Data: "going once"}
	ch.Broadcast(msg)

	select {
	case received := <-sub:
		assert.Equal(t, msg, received)
	case <-time.After(time.Second):
		t.Fatal("did not receive message in time")
	}

	ch.Unsubscribe(sub)
	_, ok := <-sub
	assert.False(t, ok, "channel should be closed")
	assert.True(t, ch.IsIdle(), "channel should be idle")
}

func TestChannelSkipsStalledSubscriber(t *testing.T) {
	ch := sse.NewChannel[event]()

	stalled := ch.Subscribe()
	live := ch.Subscribe()

	// Overflow the stalled subscriber's buffer; Broadcast must not block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 64; i++ {
			ch.Broadcast(event{Data: "tick"})
			// Keep the live subscriber drained.
			select {
			case <-live:
			default:
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a stalled subscriber")
	}
	ch.Unsubscribe(stalled)
	ch.Unsubscribe(live)
}
