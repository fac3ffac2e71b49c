package store

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Client is the public entry point: it owns the connection pool and schema
// name, and creates Transactions on demand. It clones cheaply by reference
// to the pool, so a Consumer, a PositionTracker, and the application can
// each hold one without any of them owning the pool's lifecycle outright.
type Client struct {
	pool   *pgxpool.Pool
	schema string
	ops    operations
	m      *Metrics
	log    *slog.Logger
}

// ClientOption configures optional Client behavior not tied to connecting.
type ClientOption func(*clientOptions)

type clientOptions struct {
	logger *slog.Logger
}

// WithLogger attaches a structured logger to a Client. Every operation then
// logs at Debug on success and Warn/Error on a classified failure, tagged
// with op/stream/duration_ms and a per-call correlation id. The default (no
// option) performs no logging at all.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(o *clientOptions) { o.logger = logger }
}

// NewClient builds a Client from a Config, dialing and pool-validating via
// NewPool.
func NewClient(ctx context.Context, cfg Config, opts ...ClientOption) (*Client, error) {
	return NewClientWithMetrics(ctx, cfg, nil, opts...)
}

// NewClientWithMetrics is like NewClient but records operation counts and
// latencies on m. Pass nil for m to disable metrics entirely.
func NewClientWithMetrics(ctx context.Context, cfg Config, m *Metrics, opts ...ClientOption) (*Client, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newClientFromPool(pool, cfg.SchemaName, m, opts...), nil
}

// NewClientFromPool wraps an already-constructed pool. The caller retains
// ownership of the pool's lifecycle; Client.Close closes the pool whichever
// constructor built the Client (see Close). Useful for sharing one pool
// across the message store and other application persistence.
func NewClientFromPool(pool *pgxpool.Pool, schema string, opts ...ClientOption) *Client {
	return newClientFromPool(pool, schema, nil, opts...)
}

func newClientFromPool(pool *pgxpool.Pool, schema string, m *Metrics, opts ...ClientOption) *Client {
	var co clientOptions
	for _, opt := range opts {
		opt(&co)
	}
	return &Client{
		pool:   pool,
		schema: schema,
		ops:    operations{q: pool, schema: schema, m: m, log: co.logger},
		m:      m,
		log:    co.logger,
	}
}

// Clone returns a Client sharing this one's pool, metrics, and logger. Both
// values may be used concurrently; because the pool is shared, Close on
// either one closes it for both (see Close).
func (c *Client) Clone() *Client {
	return &Client{pool: c.pool, schema: c.schema, ops: c.ops, m: c.m, log: c.log}
}

// WriteMessage appends a message, returning its new stream position.
func (c *Client) WriteMessage(ctx context.Context, msg WriteMessage) (int64, error) {
	return c.ops.writeMessage(ctx, msg)
}

// GetStreamMessages reads a batch of messages from one stream in ascending
// position order.
func (c *Client) GetStreamMessages(ctx context.Context, stream string, opts StreamReadOptions) ([]Message, error) {
	return c.ops.getStreamMessages(ctx, stream, opts)
}

// GetCategoryMessages reads a batch of messages from a category in
// ascending global-position order. Correlation and consumer-group
// filtering, when set, are applied entirely by the server.
func (c *Client) GetCategoryMessages(ctx context.Context, category string, opts CategoryReadOptions) ([]Message, error) {
	return c.ops.getCategoryMessages(ctx, category, opts)
}

// GetLastStreamMessage returns the highest-position message in a stream,
// optionally restricted to messageType. Returns (nil, nil) if no such
// message exists.
func (c *Client) GetLastStreamMessage(ctx context.Context, stream string, messageType string) (*Message, error) {
	return c.ops.getLastStreamMessage(ctx, stream, messageType)
}

// StreamVersion returns the position of a stream's last message, or nil if
// the stream has never been written to.
func (c *Client) StreamVersion(ctx context.Context, stream string) (*int64, error) {
	return c.ops.streamVersion(ctx, stream)
}

// BeginTransaction acquires one connection and issues BEGIN. The returned
// Transaction must be committed or rolled back; dropping it without either
// leaks the held connection until the pool reclaims it.
func (c *Client) BeginTransaction(ctx context.Context) (*Transaction, error) {
	return beginTransaction(ctx, c.pool, c.schema, c.m, c.log)
}

// Pool returns the underlying pool, for callers that want to share it with
// other persistence concerns or inspect its stats.
func (c *Client) Pool() *pgxpool.Pool { return c.pool }

// Close closes the underlying pool. Only call this on a Client returned by
// NewClient/NewClientWithMetrics. A Client built from NewClientFromPool does
// not own the pool; close the original pool instead.
func (c *Client) Close() {
	if c.pool != nil {
		c.pool.Close()
	}
}
