package sse

import (
	"sync"
)

// subscriberBuffer bounds how far one subscriber may lag before it
// starts missing messages.
const subscriberBuffer = 16

// Channel holds the subscribers of a single topic and broadcasts
// received messages to all of them.
type Channel[T any] struct {
	subscribers map[<-chan T]chan T
	mu          sync.RWMutex
}

func NewChannel[T any]() IChannel[T] {
	return &Channel[T]{
		subscribers: make(map[<-chan T]chan T),
	}
}

// Subscribe creates a new buffered channel, adds it to the subscriber
// set and returns its read side.
func (c *Channel[T]) Subscribe() <-chan T {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan T, subscriberBuffer)
	c.subscribers[ch] = ch
	return ch
}

// Unsubscribe removes the given channel from the subscriber set and
// closes it.
func (c *Channel[T]) Unsubscribe(ch <-chan T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if writeCh, exists := c.subscribers[ch]; exists {
		delete(c.subscribers, ch)
		close(writeCh)
	}
}

// UnsubscribeAll closes every subscriber channel and clears the set.
func (c *Channel[T]) UnsubscribeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, writeCh := range c.subscribers {
		close(writeCh)
	}
	clear(c.subscribers)
}

// Broadcast delivers the message to every subscriber still in the set.
// A subscriber whose buffer is full is skipped rather than awaited, so
// one stalled connection never delays the rest of the room.
func (c *Channel[T]) Broadcast(message T) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, writeCh := range c.subscribers {
		select {
		case writeCh <- message:
		default:
		}
	}
}

// Len reports the subscriber count.
func (c *Channel[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscribers)
}

// IsIdle reports whether no subscribers remain.
func (c *Channel[T]) IsIdle() bool {
	return c.Len() == 0
}
