// Package stream relays fan-out events through a Redis stream so that
// several service instances share one broadcast plane: every instance
// publishes its accepted changes to the stream and dispatches what it
// reads back to its own local subscribers.
package stream

import (
	"encoding/base64"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"gavel/adapters/sse"
)

// encodeMessage packs a publish request into the stream entry format:
// msgpack, base64-wrapped under a single "data" field.
func encodeMessage[T any](req sse.PublishRequest[T]) (map[string]any, error) {
	bytes, err := msgpack.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("msgpack marshal error: %w", err)
	}
	return map[string]any{
		"data": base64.StdEncoding.EncodeToString(bytes),
	}, nil
}

// decodeMessage reverses encodeMessage.
func decodeMessage[T any](values map[string]any) (sse.PublishRequest[T], error) {
	var req sse.PublishRequest[T]

	dataStr, ok := values["data"].(string)
	if !ok {
		return req, fmt.Errorf("data field not found or invalid type")
	}
	bytes, err := base64.StdEncoding.DecodeString(dataStr)
	if err != nil {
		return req, fmt.Errorf("base64 decode error: %w", err)
	}
	if err := msgpack.Unmarshal(bytes, &req); err != nil {
		return req, fmt.Errorf("msgpack unmarshal error: %w", err)
	}
	return req, nil
}
