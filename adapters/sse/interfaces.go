package sse

// PublishRequest pairs a topic name with the message to fan out.
type PublishRequest[T any] struct {
	Topic   string `json:"topic" msgpack:"topic"`
	Message T      `json:"message" msgpack:"message"`
}

// IChannel is one topic's subscriber set.
type IChannel[T any] interface {
	// Subscribe registers a new subscriber and returns its receive channel.
	Subscribe() <-chan T
	// Unsubscribe removes a subscriber and closes its channel.
	Unsubscribe(ch <-chan T)
	// UnsubscribeAll removes every subscriber.
	UnsubscribeAll()
	// Broadcast delivers a message to every current subscriber. Delivery
	// is at-most-once: subscribers that cannot keep up are skipped.
	Broadcast(message T)
	// Len reports the current subscriber count.
	Len() int
	// IsIdle reports whether the channel has no subscribers.
	IsIdle() bool
}

// IConnectionManager tracks which connections listen to which topics and
// fans published messages out to them.
type IConnectionManager[T any] interface {
	// Start launches the dispatch goroutine. Call before anything else.
	Start()
	// Done stops the manager and closes every subscriber channel.
	Done()
	// Subscribe joins a topic, creating it on first use.
	Subscribe(topic string) (<-chan T, error)
	// Unsubscribe leaves a topic; empty topics are pruned.
	Unsubscribe(topic string, ch <-chan T)
	// Publish queues a message for fan-out. Never blocks the caller.
	Publish(topic string, message T) error
	// Subscribers reports the current membership size of a topic.
	Subscribers(topic string) int
}
