package consumer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"messagestore/store"
)

// Handler processes one message. Returning an error halts the current
// batch: no later message in the batch is dispatched and position is not
// advanced past the failing message.
type Handler func(ctx context.Context, msg store.Message) error

// Config enumerates a Consumer's tunables. Category and ConsumerID are
// required; everything else has a documented default applied by New.
//
// ConsumerID identifies a position stream, not a process: two consumers
// sharing a ConsumerID but different (GroupMember, GroupSize) will clobber
// each other's checkpoint. Give each distinct partitioning scheme its own
// ConsumerID.
type Config struct {
	Category   string
	ConsumerID string

	BatchSize              int64
	PollingInterval        time.Duration
	PositionUpdateInterval int64
	Correlation            string
	ConsumerGroupMember    *int64
	ConsumerGroupSize      *int64
	Condition              string
}

const (
	defaultBatchSize              = 10
	defaultPollingInterval        = 100 * time.Millisecond
	defaultPositionUpdateInterval = 100
)

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.PollingInterval <= 0 {
		c.PollingInterval = defaultPollingInterval
	}
	if c.PositionUpdateInterval <= 0 {
		c.PositionUpdateInterval = defaultPositionUpdateInterval
	}
	return c
}

// PollResult reports what happened during one PollOnce call.
type PollResult int

const (
	// NoMessages means the read returned an empty batch; an idle
	// checkpoint may have been forced.
	NoMessages PollResult = iota
	// HadMessages means at least one message was dispatched and position
	// advanced.
	HadMessages
)

// Consumer polls a category, dispatches messages to handlers registered by
// type, and checkpoints progress via a PositionTracker. A Consumer is
// single-owner: concurrent PollOnce/Start calls on the same instance are
// not supported. The running flag below makes a second concurrent Start
// return an error; concurrent PollOnce calls are neither detected nor
// serialized.
type Consumer struct {
	client  *store.Client
	cfg     Config
	tracker *PositionTracker
	log     *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler

	running atomic.Bool
}

// Option configures optional Consumer behavior not tied to polling.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger attaches a structured logger to a Consumer. Each PollOnce then
// logs at Debug on a clean cycle and Error when the read or a handler
// failed, tagged with category/consumer_id/position/duration_ms. The
// default (no option) performs no logging at all.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New constructs a Consumer, creates its PositionTracker, and calls
// ReadPosition so the first PollOnce resumes from the last checkpoint (or
// position 1 if none exists). Register handlers with On before calling
// Start; On may also be called while polling (the handler table is guarded
// by a mutex), and a handler registered then applies only to messages
// dispatched after it is registered.
func New(ctx context.Context, client *store.Client, cfg Config, opts ...Option) (*Consumer, error) {
	cfg = cfg.withDefaults()
	if cfg.Category == "" {
		return nil, store.ValidationError{Msg: "consumer: category is required"}
	}
	if cfg.ConsumerID == "" {
		return nil, store.ValidationError{Msg: "consumer: consumer_id is required"}
	}

	tracker, err := NewPositionTracker(client, cfg.Category, cfg.ConsumerID, cfg.PositionUpdateInterval)
	if err != nil {
		return nil, err
	}
	if _, err := tracker.ReadPosition(ctx); err != nil {
		return nil, err
	}

	var co options
	for _, opt := range opts {
		opt(&co)
	}

	return &Consumer{
		client:   client,
		cfg:      cfg,
		tracker:  tracker,
		log:      co.logger,
		handlers: make(map[string]Handler),
	}, nil
}

// On registers handler for messageType, replacing any handler previously
// registered for that type.
func (c *Consumer) On(messageType string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[messageType] = handler
}

// CurrentPosition returns the tracker's in-memory global position.
func (c *Consumer) CurrentPosition() int64 { return c.tracker.CurrentPosition() }

// FlushPosition forces an immediate checkpoint write. Call this before
// dropping a Consumer so no processed-but-uncheckpointed progress is lost
// longer than necessary.
func (c *Consumer) FlushPosition(ctx context.Context) error {
	return c.tracker.FlushPosition(ctx)
}

// PollOnce runs a single read-dispatch-checkpoint cycle. Ordering: within
// one call, messages are processed in ascending global_position and a
// handler failure stops the batch immediately, before advancing position
// past the failing message.
func (c *Consumer) PollOnce(ctx context.Context) (PollResult, error) {
	start := time.Now()
	result, err := c.pollOnce(ctx)
	c.logPoll(start, result, err)
	return result, err
}

func (c *Consumer) logPoll(start time.Time, result PollResult, err error) {
	if c.log == nil {
		return
	}
	attrs := []any{
		"op", "poll",
		"category", c.cfg.Category,
		"consumer_id", c.cfg.ConsumerID,
		"position", c.tracker.CurrentPosition(),
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if err == nil {
		attrs = append(attrs, "outcome", "ok")
		c.log.Debug("poll", attrs...)
		return
	}
	attrs = append(attrs, "err", err)
	c.log.Error("poll", attrs...)
}

func (c *Consumer) pollOnce(ctx context.Context) (PollResult, error) {
	opts := store.CategoryReadOptions{
		Position:            c.tracker.CurrentPosition(),
		BatchSize:           c.cfg.BatchSize,
		Correlation:         c.cfg.Correlation,
		ConsumerGroupMember: c.cfg.ConsumerGroupMember,
		ConsumerGroupSize:   c.cfg.ConsumerGroupSize,
		Condition:           c.cfg.Condition,
	}

	msgs, err := c.client.GetCategoryMessages(ctx, c.cfg.Category, opts)
	if err != nil {
		return NoMessages, err
	}

	if len(msgs) == 0 {
		if c.tracker.messagesPending() {
			if err := c.tracker.FlushPosition(ctx); err != nil {
				return NoMessages, err
			}
		}
		return NoMessages, nil
	}

	for _, msg := range msgs {
		c.mu.RLock()
		handler, ok := c.handlers[msg.Type]
		c.mu.RUnlock()

		if ok {
			if err := handler(ctx, msg); err != nil {
				return HadMessages, err
			}
		}

		if err := c.tracker.UpdatePosition(ctx, msg.GlobalPosition+1); err != nil {
			return HadMessages, err
		}
	}

	return HadMessages, nil
}

// Start loops PollOnce until ctx is cancelled or PollOnce returns an error.
// Between poll iterations and during the idle sleep are the loop's only
// suspension points, so cancellation is observed promptly without
// interrupting a handler mid-flight.
func (c *Consumer) Start(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return store.ValidationError{Msg: "consumer: Start called on an already-running consumer"}
	}
	defer c.running.Store(false)

	timer := time.NewTimer(c.cfg.PollingInterval)
	defer timer.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		result, err := c.PollOnce(ctx)
		if err != nil {
			return err
		}

		if result == HadMessages {
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(c.cfg.PollingInterval)

		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
	}
}

func (t *PositionTracker) messagesPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.messagesSinceWrite > 0
}
