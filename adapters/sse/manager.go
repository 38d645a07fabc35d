package sse

import (
	"context"
	"log/slog"
	"sync"

	"github.com/smallnest/chanx"
)

type managerOptions[T any] struct {
	logger *slog.Logger
	source <-chan PublishRequest[T]
}

type ManagerOption[T any] func(*managerOptions[T])

func WithLogger[T any](logger *slog.Logger) ManagerOption[T] {
	return func(o *managerOptions[T]) { o.logger = logger }
}

// WithSource attaches an external feed (e.g. a cross-instance stream
// relay) whose messages are dispatched alongside locally published ones.
func WithSource[T any](source <-chan PublishRequest[T]) ManagerOption[T] {
	return func(o *managerOptions[T]) { o.source = source }
}

// connectionManager tracks topic membership and fans published messages
// out to the current subscribers of each topic. Publishing goes through
// an unbounded queue drained by a single dispatch goroutine, so callers
// (the admission engine in particular) never block on slow consumers,
// and messages for one topic are dispatched in publish order.
type connectionManager[T any] struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu     sync.RWMutex
	wg     sync.WaitGroup
	active bool

	queue    *chanx.UnboundedChan[PublishRequest[T]]
	source   <-chan PublishRequest[T]
	channels map[string]*Channel[T]
}

func NewConnectionManager[T any](opts ...ManagerOption[T]) (IConnectionManager[T], error) {
	options := managerOptions[T]{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &connectionManager[T]{
		ctx:      ctx,
		cancel:   cancel,
		logger:   options.logger.With(slog.String("caller", "ConnectionManager")),
		queue:    chanx.NewUnboundedChan[PublishRequest[T]](ctx, 64),
		source:   options.source,
		channels: make(map[string]*Channel[T]),
		active:   true,
	}, nil
}

// Start launches the dispatch goroutine.
func (cm *connectionManager[T]) Start() {
	cm.wg.Add(1)
	go func() {
		defer cm.wg.Done()
		for {
			select {
			case <-cm.ctx.Done():
				return
			case req, ok := <-cm.queue.Out:
				if !ok {
					return
				}
				cm.dispatch(req)
			case req, ok := <-cm.source:
				if !ok {
					cm.source = nil
					continue
				}
				cm.dispatch(req)
			}
		}
	}()
}

func (cm *connectionManager[T]) dispatch(req PublishRequest[T]) {
	cm.mu.RLock()
	channel, ok := cm.channels[req.Topic]
	cm.mu.RUnlock()
	if ok {
		channel.Broadcast(req.Message)
	}
}

// Done stops the manager and closes every subscriber channel. The
// dispatch goroutine is awaited outside the lock; it may still be
// grabbing the read lock for a final broadcast.
func (cm *connectionManager[T]) Done() {
	cm.mu.Lock()
	if !cm.active {
		cm.mu.Unlock()
		return
	}
	cm.active = false
	cm.mu.Unlock()

	cm.cancel()
	cm.wg.Wait()

	cm.mu.Lock()
	defer cm.mu.Unlock()
	for _, channel := range cm.channels {
		channel.UnsubscribeAll()
	}
	clear(cm.channels)
}

// Subscribe joins a topic. A topic with no members is created
// transparently on first join.
func (cm *connectionManager[T]) Subscribe(topic string) (<-chan T, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.active {
		return nil, context.Canceled
	}
	c, ok := cm.channels[topic]
	if !ok {
		c = &Channel[T]{subscribers: make(map[<-chan T]chan T)}
		cm.channels[topic] = c
	}
	return c.Subscribe(), nil
}

// Unsubscribe leaves a topic; a topic left with zero members is pruned
// to bound memory.
func (cm *connectionManager[T]) Unsubscribe(topic string, ch <-chan T) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	c, ok := cm.channels[topic]
	if !ok {
		return
	}
	c.Unsubscribe(ch)
	if c.IsIdle() {
		delete(cm.channels, topic)
	}
}

// Publish queues a message for fan-out and returns immediately.
func (cm *connectionManager[T]) Publish(topic string, message T) error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if !cm.active {
		return context.Canceled
	}
	cm.queue.In <- PublishRequest[T]{Topic: topic, Message: message}
	return nil
}

// Subscribers reports the current membership size of a topic.
func (cm *connectionManager[T]) Subscribers(topic string) int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	c, ok := cm.channels[topic]
	if !ok {
		return 0
	}
	return c.Len()
}
