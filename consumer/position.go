// Package consumer implements a polling reader over a message category: it
// dispatches messages to handlers by type and checkpoints its progress back
// into the store as an ordinary stream.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"messagestore/store"
)

// defaultCategoryPosition is where a consumer starts when its position
// stream has never been written to; category positions are 1-based.
const defaultCategoryPosition = int64(1)

// PositionUpdatedType is the message type written to a position stream.
const PositionUpdatedType = "PositionUpdated"

type positionData struct {
	Position int64 `json:"position"`
}

// PositionTracker turns a stream of processed messages into a durable,
// periodically-flushed checkpoint. It is not safe for concurrent use by
// more than one consumer; its methods are only called by the consumer that
// owns it (or directly by a caller forcing a flush before shutdown).
type PositionTracker struct {
	client             *store.Client
	streamName         string
	updateInterval     int64
	mu                 sync.Mutex
	currentPosition    int64
	messagesSinceWrite int64
	flushGroup         singleflight.Group
}

// NewPositionTracker builds a tracker for category/consumerID. updateInterval
// must be >= 1; an interval of 0 is a configuration error (a position write
// after every message is expressed as updateInterval=1).
func NewPositionTracker(client *store.Client, category, consumerID string, updateInterval int64) (*PositionTracker, error) {
	if updateInterval < 1 {
		return nil, store.ValidationError{Msg: "position_update_interval must be >= 1"}
	}
	return &PositionTracker{
		client:         client,
		streamName:     fmt.Sprintf("%s:position-%s", category, consumerID),
		updateInterval: updateInterval,
	}, nil
}

// StreamName returns the underlying position stream's name.
func (t *PositionTracker) StreamName() string { return t.streamName }

// ReadPosition fetches the last PositionUpdated message from the position
// stream and sets CurrentPosition to its recorded value, or to 1 if the
// stream has never been written to. It also resets the pending-write
// counter. Call this once, at consumer construction.
func (t *PositionTracker) ReadPosition(ctx context.Context) (int64, error) {
	msg, err := t.client.GetLastStreamMessage(ctx, t.streamName, PositionUpdatedType)
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if msg == nil {
		t.currentPosition = defaultCategoryPosition
		t.messagesSinceWrite = 0
		return t.currentPosition, nil
	}

	var data positionData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		return 0, store.DatabaseError{Msg: "position stream: decode PositionUpdated data", Err: err}
	}
	t.currentPosition = data.Position
	t.messagesSinceWrite = 0
	return t.currentPosition, nil
}

// CurrentPosition returns the tracker's in-memory position without a
// roundtrip.
func (t *PositionTracker) CurrentPosition() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentPosition
}

// UpdatePosition advances the in-memory position and, once updateInterval
// messages have accumulated since the last write, persists a checkpoint.
func (t *PositionTracker) UpdatePosition(ctx context.Context, globalPosition int64) error {
	t.mu.Lock()
	t.currentPosition = globalPosition
	t.messagesSinceWrite++
	due := t.messagesSinceWrite >= t.updateInterval
	t.mu.Unlock()

	if !due {
		return nil
	}
	return t.flush(ctx)
}

// FlushPosition forces an immediate checkpoint write regardless of the
// pending-message count, resetting the counter. Callers should invoke this
// on idle polls and before dropping a consumer.
func (t *PositionTracker) FlushPosition(ctx context.Context) error {
	return t.flush(ctx)
}

// flush coalesces overlapping callers (an interval-triggered write racing
// with an explicit FlushPosition during shutdown) onto a single
// write_position call via singleflight, so a slow write isn't issued twice
// for the same checkpoint.
func (t *PositionTracker) flush(ctx context.Context) error {
	_, err, _ := t.flushGroup.Do(t.streamName, func() (any, error) {
		t.mu.Lock()
		position := t.currentPosition
		t.mu.Unlock()

		if err := t.writePosition(ctx, position); err != nil {
			return nil, err
		}

		t.mu.Lock()
		t.messagesSinceWrite = 0
		t.mu.Unlock()
		return nil, nil
	})
	return err
}

// writePosition appends a PositionUpdated message. It always mints a fresh
// id and never sets an expected_version: position writes are intentionally
// last-writer-wins.
func (t *PositionTracker) writePosition(ctx context.Context, position int64) error {
	data, err := json.Marshal(positionData{Position: position})
	if err != nil {
		return store.ValidationError{Msg: "position stream: encode PositionUpdated data"}
	}
	_, err = t.client.WriteMessage(ctx, store.WriteMessage{
		ID:         uuid.New(),
		StreamName: t.streamName,
		Type:       PositionUpdatedType,
		Data:       data,
	})
	return err
}
