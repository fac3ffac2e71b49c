package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx. The operations
// layer is written once against this interface so a Transaction's calls
// take the exact same SQL-construction path as the pool-backed client.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// operations bundles a Querier with the schema its procedures live in.
// Both Client and Transaction embed one; neither exposes it publicly.
type operations struct {
	q      Querier
	schema string
	tx     bool // true when q is a transaction connection (see writeMessage)
	m      *Metrics
	log    *slog.Logger
}

func (o operations) proc(name string) string {
	if o.schema == "" {
		return name
	}
	return pgx.Identifier{o.schema, name}.Sanitize()
}

// logOutcome logs one operation call: Debug on success, Warn on a
// classified client error (validation/concurrency), Error on anything else.
// Every call gets a fresh ulid so overlapping operations can be told apart
// in a log stream even though none of it crosses the public API.
func (o operations) logOutcome(op string, start time.Time, target string, err error) {
	if o.log == nil {
		return
	}
	attrs := []any{
		"op", op,
		"op_id", ulid.Make().String(),
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if target != "" {
		attrs = append(attrs, "stream", target)
	}
	if err == nil {
		o.log.Debug(op, attrs...)
		return
	}
	attrs = append(attrs, "err", err)
	if IsValidation(err) || IsConcurrency(err) {
		o.log.Warn(op, attrs...)
	} else {
		o.log.Error(op, attrs...)
	}
}

// writeMessage invokes write_message(id, stream, type, data, metadata,
// expected_version) and returns the new stream position.
func (o operations) writeMessage(ctx context.Context, msg WriteMessage) (int64, error) {
	start := time.Now()
	pos, err := o.writeMessageOnce(ctx, msg)
	o.m.observe("write_message", time.Since(start), err)
	o.logOutcome("write_message", start, msg.StreamName, err)
	return pos, err
}

func (o operations) writeMessageOnce(ctx context.Context, msg WriteMessage) (int64, error) {
	if msg.StreamName == "" {
		return 0, ValidationError{Msg: "write_message: empty stream_name"}
	}
	if msg.Type == "" {
		return 0, ValidationError{Msg: "write_message: empty type"}
	}
	if msg.ID == uuid.Nil {
		return 0, ValidationError{Msg: "write_message: empty id"}
	}

	data := msg.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	var metadata any
	if len(msg.Metadata) > 0 {
		metadata = string(msg.Metadata)
	}

	var expected any
	if msg.ExpectedVersion != nil {
		expected = *msg.ExpectedVersion
	}

	row := o.q.QueryRow(ctx,
		fmt.Sprintf(`select %s($1, $2, $3, $4, $5, $6)`, o.proc("write_message")),
		msg.ID.String(), msg.StreamName, msg.Type, string(data), metadata, expected,
	)

	var position int64
	if err := row.Scan(&position); err != nil {
		return o.classifyWriteError(ctx, msg, err)
	}
	return position, nil
}

func (o operations) classifyWriteError(ctx context.Context, msg WriteMessage, err error) (int64, error) {
	text := err.Error()
	lower := strings.ToLower(text)

	if isConcurrencyViolation(lower) {
		var expected int64
		if msg.ExpectedVersion != nil {
			expected = *msg.ExpectedVersion
		}
		return 0, ConcurrencyError{Stream: msg.StreamName, Expected: expected}
	}

	if isDuplicateMessageID(lower) {
		if o.tx {
			return 0, DatabaseError{Msg: duplicateIDAbortMsg, Err: err}
		}
		// Outside a transaction the duplicate is not an error: the
		// caller's write already happened; recover the existing position.
		pos, lookupErr := o.lookupExistingPosition(ctx, msg.ID, msg.StreamName)
		if lookupErr != nil {
			return 0, DatabaseError{Msg: "write_message: duplicate id, lookup of existing position failed", Err: lookupErr}
		}
		return pos, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return 0, DatabaseError{Msg: fmt.Sprintf("write_message: %s", pgErr.Message), Err: err}
	}
	return 0, DatabaseError{Msg: "write_message", Err: err}
}

func isConcurrencyViolation(lowerMsg string) bool {
	// The server's exact wording is version-dependent; keep this matcher
	// easy to extend as new phrasings show up.
	for _, s := range []string{"wrong expected version", "stream version", "expected"} {
		if strings.Contains(lowerMsg, s) {
			return true
		}
	}
	return false
}

func isDuplicateMessageID(lowerMsg string) bool {
	return strings.Contains(lowerMsg, "duplicate key") && strings.Contains(lowerMsg, "messages_id")
}

func (o operations) lookupExistingPosition(ctx context.Context, id uuid.UUID, stream string) (int64, error) {
	var position int64
	err := o.q.QueryRow(ctx,
		fmt.Sprintf(`select position from %s where id = $1 and stream_name = $2`, o.messagesTable()),
		id.String(), stream,
	).Scan(&position)
	if err != nil {
		return 0, err
	}
	return position, nil
}

func (o operations) messagesTable() string {
	return o.proc("messages")
}

// getStreamMessages invokes the stream-read procedure and decodes its rows.
func (o operations) getStreamMessages(ctx context.Context, stream string, opts StreamReadOptions) ([]Message, error) {
	start := time.Now()
	msgs, err := o.getStreamMessagesOnce(ctx, stream, opts)
	o.m.observe("get_stream_messages", time.Since(start), err)
	o.logOutcome("get_stream_messages", start, stream, err)
	return msgs, err
}

func (o operations) getStreamMessagesOnce(ctx context.Context, stream string, opts StreamReadOptions) ([]Message, error) {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultStreamBatchSize
	}

	var condition any
	if opts.Condition != "" {
		condition = opts.Condition
	}

	rows, err := o.q.Query(ctx,
		fmt.Sprintf(`select * from %s($1, $2, $3, $4)`, o.proc("get_stream_messages")),
		stream, opts.Position, batchSize, condition,
	)
	if err != nil {
		return nil, DatabaseError{Msg: "get_stream_messages", Err: err}
	}
	defer rows.Close()
	return decodeMessages(rows)
}

// getCategoryMessages invokes the category-read procedure. member/size and
// correlation filtering happen entirely server-side; this layer never
// re-filters the result.
func (o operations) getCategoryMessages(ctx context.Context, category string, opts CategoryReadOptions) ([]Message, error) {
	start := time.Now()
	msgs, err := o.getCategoryMessagesOnce(ctx, category, opts)
	o.m.observe("get_category_messages", time.Since(start), err)
	o.logOutcome("get_category_messages", start, category, err)
	return msgs, err
}

func (o operations) getCategoryMessagesOnce(ctx context.Context, category string, opts CategoryReadOptions) ([]Message, error) {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultCategoryBatchSize
	}
	position := opts.Position
	if position <= 0 {
		position = DefaultCategoryPosition
	}

	var correlation, condition, member, size any
	if opts.Correlation != "" {
		correlation = opts.Correlation
	}
	if opts.Condition != "" {
		condition = opts.Condition
	}
	if opts.ConsumerGroupMember != nil {
		member = *opts.ConsumerGroupMember
	}
	if opts.ConsumerGroupSize != nil {
		size = *opts.ConsumerGroupSize
	}

	rows, err := o.q.Query(ctx,
		fmt.Sprintf(`select * from %s($1, $2, $3, $4, $5, $6, $7)`, o.proc("get_category_messages")),
		category, position, batchSize, correlation, member, size, condition,
	)
	if err != nil {
		return nil, DatabaseError{Msg: "get_category_messages", Err: err}
	}
	defer rows.Close()
	return decodeMessages(rows)
}

// getLastStreamMessage invokes the last-message procedure, optionally
// restricted to a type. A nil, nil result means the stream is empty (or has
// no message of the requested type) — this is not an error.
func (o operations) getLastStreamMessage(ctx context.Context, stream string, messageType string) (*Message, error) {
	start := time.Now()
	msg, err := o.getLastStreamMessageOnce(ctx, stream, messageType)
	o.m.observe("get_last_stream_message", time.Since(start), err)
	o.logOutcome("get_last_stream_message", start, stream, err)
	return msg, err
}

func (o operations) getLastStreamMessageOnce(ctx context.Context, stream string, messageType string) (*Message, error) {
	var typ any
	if messageType != "" {
		typ = messageType
	}

	rows, err := o.q.Query(ctx,
		fmt.Sprintf(`select * from %s($1, $2)`, o.proc("get_last_stream_message")),
		stream, typ,
	)
	if err != nil {
		return nil, DatabaseError{Msg: "get_last_stream_message", Err: err}
	}
	defer rows.Close()

	msgs, err := decodeMessages(rows)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}

// streamVersion invokes stream_version, returning nil if the stream has
// never been written to.
func (o operations) streamVersion(ctx context.Context, stream string) (*int64, error) {
	start := time.Now()
	version, err := o.streamVersionOnce(ctx, stream)
	o.m.observe("stream_version", time.Since(start), err)
	o.logOutcome("stream_version", start, stream, err)
	return version, err
}

func (o operations) streamVersionOnce(ctx context.Context, stream string) (*int64, error) {
	var version *int64
	err := o.q.QueryRow(ctx,
		fmt.Sprintf(`select %s($1)`, o.proc("stream_version")),
		stream,
	).Scan(&version)
	if err != nil {
		return nil, DatabaseError{Msg: "stream_version", Err: err}
	}
	return version, nil
}

// decodeMessages scans every row of a message result set. The server
// returns id/data/metadata as text and time as a timestamp without zone;
// this is the one place that parses them into their Go representations.
func decodeMessages(rows pgx.Rows) ([]Message, error) {
	var out []Message
	for rows.Next() {
		var (
			idText   string
			data     string
			metadata *string
			msg      Message
		)
		if err := rows.Scan(
			&idText,
			&msg.StreamName,
			&msg.Type,
			&msg.Position,
			&msg.GlobalPosition,
			&data,
			&metadata,
			&msg.Time,
		); err != nil {
			return nil, DatabaseError{Msg: "decode message row", Err: err}
		}

		id, err := uuid.Parse(idText)
		if err != nil {
			return nil, DatabaseError{Msg: fmt.Sprintf("decode message row: invalid id %q", idText), Err: err}
		}
		msg.ID = id

		if !json.Valid([]byte(data)) {
			return nil, DatabaseError{Msg: "decode message row: invalid data JSON"}
		}
		msg.Data = json.RawMessage(data)

		if metadata != nil {
			if !json.Valid([]byte(*metadata)) {
				return nil, DatabaseError{Msg: "decode message row: invalid metadata JSON"}
			}
			msg.Metadata = json.RawMessage(*metadata)
		}

		msg.Time = msg.Time.UTC()
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, DatabaseError{Msg: "read message rows", Err: err}
	}
	return out, nil
}
