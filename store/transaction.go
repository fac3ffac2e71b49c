package store

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
)

type txState int32

const (
	txActive txState = iota
	txCommitted
	txRolledBack
)

// Transaction scopes one connection's worth of procedure calls under a
// single BEGIN/COMMIT/ROLLBACK. It exposes the same read/write surface as
// Client, routed through the held connection so every call participates in
// the transaction.
//
// A duplicate-id write inside a Transaction is NOT translated to idempotent
// success: the server has already aborted the underlying database
// transaction, so the call returns a DatabaseError and the caller must call
// Rollback.
type Transaction struct {
	tx    pgx.Tx
	ops   operations
	state atomic.Int32
}

func beginTransaction(ctx context.Context, pool querierBeginner, schema string, m *Metrics, log *slog.Logger) (*Transaction, error) {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return nil, TransactionError{Msg: "begin: " + err.Error()}
	}
	t := &Transaction{
		tx: tx,
		ops: operations{
			q:      tx,
			schema: schema,
			tx:     true,
			m:      m,
			log:    log,
		},
	}
	t.state.Store(int32(txActive))
	return t, nil
}

// querierBeginner is satisfied by *pgxpool.Pool.
type querierBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

func (t *Transaction) checkActive() error {
	if txState(t.state.Load()) != txActive {
		return DatabaseError{Msg: "transaction already completed"}
	}
	return nil
}

// WriteMessage appends a message within this transaction. Unlike Client's
// WriteMessage, a duplicate id here returns an error: the database
// transaction is already poisoned and must be rolled back.
func (t *Transaction) WriteMessage(ctx context.Context, msg WriteMessage) (int64, error) {
	if err := t.checkActive(); err != nil {
		return 0, err
	}
	return t.ops.writeMessage(ctx, msg)
}

// GetStreamMessages reads a stream within this transaction.
func (t *Transaction) GetStreamMessages(ctx context.Context, stream string, opts StreamReadOptions) ([]Message, error) {
	if err := t.checkActive(); err != nil {
		return nil, err
	}
	return t.ops.getStreamMessages(ctx, stream, opts)
}

// GetCategoryMessages reads a category within this transaction.
func (t *Transaction) GetCategoryMessages(ctx context.Context, category string, opts CategoryReadOptions) ([]Message, error) {
	if err := t.checkActive(); err != nil {
		return nil, err
	}
	return t.ops.getCategoryMessages(ctx, category, opts)
}

// GetLastStreamMessage reads the last message of a stream within this transaction.
func (t *Transaction) GetLastStreamMessage(ctx context.Context, stream string, messageType string) (*Message, error) {
	if err := t.checkActive(); err != nil {
		return nil, err
	}
	return t.ops.getLastStreamMessage(ctx, stream, messageType)
}

// StreamVersion reads a stream's current version within this transaction.
func (t *Transaction) StreamVersion(ctx context.Context, stream string) (*int64, error) {
	if err := t.checkActive(); err != nil {
		return nil, err
	}
	return t.ops.streamVersion(ctx, stream)
}

// Commit issues COMMIT. It is an error to call Commit more than once or
// after Rollback.
func (t *Transaction) Commit(ctx context.Context) error {
	if err := t.checkActive(); err != nil {
		return err
	}
	if err := t.tx.Commit(ctx); err != nil {
		return TransactionError{Msg: "commit: " + err.Error()}
	}
	t.state.Store(int32(txCommitted))
	return nil
}

// Rollback issues ROLLBACK. It is always safe to call after a failed
// operation, including one that aborted the underlying database
// transaction; it is a no-op if the transaction already completed.
func (t *Transaction) Rollback(ctx context.Context) error {
	if txState(t.state.Load()) != txActive {
		return nil
	}
	if err := t.tx.Rollback(ctx); err != nil {
		return TransactionError{Msg: "rollback: " + err.Error()}
	}
	t.state.Store(int32(txRolledBack))
	return nil
}
