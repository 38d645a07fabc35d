package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smallnest/chanx"

	"gavel/adapters/sse"
)

// ErrRelayClosed is returned by Publish after Close.
var ErrRelayClosed = errors.New("relay is closed")

type relayOptions struct {
	logger       *slog.Logger
	bufferSize   int
	blockTimeout time.Duration
}

type RelayOption func(*relayOptions)

func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(o *relayOptions) { o.logger = logger }
}

// WithRelayBufferSize sets the downstream channel buffer.
func WithRelayBufferSize(size int) RelayOption {
	return func(o *relayOptions) { o.bufferSize = size }
}

// WithRelayBlockTimeout sets how long one XRead may block.
func WithRelayBlockTimeout(d time.Duration) RelayOption {
	return func(o *relayOptions) { o.blockTimeout = d }
}

// Relay moves publish requests through a Redis stream. Publish hands the
// request to an unbounded upstream queue and returns immediately; a
// writer goroutine appends queued requests to the stream, and a reader
// goroutine tails the stream (own entries included) into the channel
// returned by Subscribe. Feed that channel to the connection manager via
// sse.WithSource and every instance sees every accepted change.
type Relay[T any] struct {
	client     *redis.Client
	stream     string
	lastID     string
	downstream chan sse.PublishRequest[T]
	upstream   *chanx.UnboundedChan[sse.PublishRequest[T]]
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	started    bool
	closed     bool
	logger     *slog.Logger
	options    relayOptions
}

func NewRelay[T any](client *redis.Client, stream string, opts ...RelayOption) (*Relay[T], error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" {
		return nil, errors.New("stream cannot be empty")
	}

	options := relayOptions{
		logger:       slog.Default(),
		bufferSize:   100,
		blockTimeout: time.Second,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Relay[T]{
		client:     client,
		stream:     stream,
		lastID:     "$",
		downstream: make(chan sse.PublishRequest[T], options.bufferSize),
		closed:     true,
		logger:     options.logger.With(slog.String("caller", "Relay"), slog.String("stream", stream)),
		options:    options,
	}, nil
}

func (r *Relay[T]) Start() {
	if r.started {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.upstream = chanx.NewUnboundedChan[sse.PublishRequest[T]](ctx, r.options.bufferSize)
	r.cancelFunc = cancel
	r.started = true
	r.closed = false
	r.logger.Info("starting stream relay")

	// Reader: tail the stream into downstream.
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.logger.Info("relay reader stopped")
		defer close(r.downstream)

		for {
			select {
			case <-ctx.Done():
				return
			default:
				message, err := r.fetchNextMessage(ctx)
				if err != nil {
					if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
						continue
					}
					r.logger.Error("fetch message error", slog.Any("error", err))
					continue
				}

				req, err := decodeMessage[T](message.Values)
				if err != nil {
					r.logger.Error("failed to decode message",
						slog.String("messageId", message.ID),
						slog.Any("error", err))
					continue
				}

				select {
				case <-ctx.Done():
					return
				case r.downstream <- req:
					r.logger.Debug("message relayed downstream", slog.String("messageId", message.ID))
				}
			}
		}
	}()

	// Writer: drain the upstream queue into the stream.
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.logger.Info("relay writer stopped")

		for {
			select {
			case <-ctx.Done():
				return
			case req, ok := <-r.upstream.Out:
				if !ok {
					return
				}
				values, err := encodeMessage(req)
				if err != nil {
					r.logger.Error("failed to encode message", slog.Any("error", err))
					continue
				}
				id, err := r.client.XAdd(ctx, &redis.XAddArgs{
					Stream: r.stream,
					Values: values,
				}).Result()
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return
					}
					r.logger.Error("publish message error", slog.Any("error", err))
					continue
				}
				r.logger.Debug("message published", slog.String("messageId", id))
			}
		}
	}()
}

func (r *Relay[T]) fetchNextMessage(ctx context.Context) (redis.XMessage, error) {
	streams, err := r.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{r.stream, r.lastID},
		Count:   1,
		Block:   r.options.blockTimeout,
	}).Result()
	if err != nil {
		return redis.XMessage{}, err
	}

	if len(streams) > 0 && len(streams[0].Messages) > 0 {
		message := streams[0].Messages[0]
		r.lastID = message.ID
		return message, nil
	}
	return redis.XMessage{}, redis.Nil
}

// Publish queues a request for the stream. Never blocks.
func (r *Relay[T]) Publish(topic string, message T) error {
	if r.closed {
		return ErrRelayClosed
	}
	r.upstream.In <- sse.PublishRequest[T]{Topic: topic, Message: message}
	return nil
}

// Subscribe returns the channel of requests read back from the stream.
// Valid after Start.
func (r *Relay[T]) Subscribe() <-chan sse.PublishRequest[T] {
	return r.downstream
}

func (r *Relay[T]) Close() {
	if r.closed {
		return
	}
	r.logger.Info("closing stream relay")
	r.closed = true
	r.cancelFunc()
	r.wg.Wait()
	r.logger.Info("stream relay closed")
}
