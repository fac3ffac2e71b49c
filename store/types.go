package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message is an immutable record of one stored event. The store creates it
// on write; nothing in this client ever mutates or deletes one.
type Message struct {
	ID             uuid.UUID
	StreamName     string
	Type           string
	Data           json.RawMessage
	Metadata       json.RawMessage
	Position       int64
	GlobalPosition int64
	Time           time.Time
}

// WriteMessage is the input to the write operation. ID and StreamName and
// Type are required; Data defaults to an empty JSON object when nil;
// Metadata may be left nil; ExpectedVersion is optional and, when non-nil,
// enforces optimistic concurrency (-1 means "stream must be empty").
type WriteMessage struct {
	ID              uuid.UUID
	StreamName      string
	Type            string
	Data            json.RawMessage
	Metadata        json.RawMessage
	ExpectedVersion *int64
}

// StreamReadOptions configures GetStreamMessages. The zero value reads from
// position 0 with the library default batch size.
type StreamReadOptions struct {
	Position  int64
	BatchSize int64
	Condition string
}

// DefaultStreamBatchSize is used by GetStreamMessages when BatchSize is 0.
const DefaultStreamBatchSize = 1000

// CategoryReadOptions configures GetCategoryMessages. Position is 1-based,
// matching global_position's numbering; the zero value is adjusted to 1 by
// GetCategoryMessages.
type CategoryReadOptions struct {
	Position            int64
	BatchSize           int64
	Correlation         string
	ConsumerGroupMember *int64
	ConsumerGroupSize   *int64
	Condition           string
}

// DefaultCategoryBatchSize is used by GetCategoryMessages when BatchSize is 0.
const DefaultCategoryBatchSize = 1000

// DefaultCategoryPosition is the first global position a category read
// considers, per the store's 1-based numbering.
const DefaultCategoryPosition = 1
