package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

// Integration tests run against a real message-db-compatible schema
// (write_message/get_stream_messages/get_category_messages/
// get_last_stream_message/stream_version already installed) reachable via
// MESSAGESTORE_TEST_DATABASE_URL. They're skipped otherwise, mirroring how
// the rest of this codebase gates its Postgres-backed tests.

func mustTestClient(t *testing.T) *Client {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("MESSAGESTORE_TEST_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: MESSAGESTORE_TEST_DATABASE_URL is not set")
	}

	cfg, err := ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse MESSAGESTORE_TEST_DATABASE_URL: %v", err)
	}
	if schema := os.Getenv("MESSAGESTORE_TEST_SCHEMA"); schema != "" {
		cfg.SchemaName = schema
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := NewClient(ctx, cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func jsonObj(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestIntegration_IdempotentWrite(t *testing.T) {
	t.Parallel()
	client := mustTestClient(t)
	ctx := context.Background()

	stream := "account-" + uuid.NewString()
	id := uuid.New()

	msg := WriteMessage{
		ID:         id,
		StreamName: stream,
		Type:       "Opened",
		Data:       jsonObj(t, map[string]any{"bal": 0}),
	}

	pos1, err := client.WriteMessage(ctx, msg)
	if err != nil {
		t.Fatalf("first write: %v", err)
	}
	if pos1 != 0 {
		t.Fatalf("first write position = %d, want 0", pos1)
	}

	pos2, err := client.WriteMessage(ctx, msg)
	if err != nil {
		t.Fatalf("duplicate write: %v", err)
	}
	if pos2 != 0 {
		t.Fatalf("duplicate write position = %d, want 0", pos2)
	}

	msgs, err := client.GetStreamMessages(ctx, stream, StreamReadOptions{})
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("stream length = %d, want 1", len(msgs))
	}
}

func TestIntegration_OptimisticConcurrencyRejection(t *testing.T) {
	t.Parallel()
	client := mustTestClient(t)
	ctx := context.Background()

	stream := "account-" + uuid.NewString()

	if _, err := client.WriteMessage(ctx, WriteMessage{
		ID:         uuid.New(),
		StreamName: stream,
		Type:       "Opened",
		Data:       jsonObj(t, map[string]any{"bal": 0}),
	}); err != nil {
		t.Fatalf("seed write: %v", err)
	}

	expected := int64(5)
	_, err := client.WriteMessage(ctx, WriteMessage{
		ID:              uuid.New(),
		StreamName:      stream,
		Type:            "Dep",
		Data:            jsonObj(t, map[string]any{"amt": 100}),
		ExpectedVersion: &expected,
	})
	if err == nil {
		t.Fatalf("expected ConcurrencyError, got nil")
	}
	var cerr ConcurrencyError
	if !asConcurrencyError(err, &cerr) {
		t.Fatalf("error = %v, want ConcurrencyError", err)
	}
	if cerr.Stream != stream || cerr.Expected != 5 {
		t.Fatalf("ConcurrencyError = %+v, want stream=%s expected=5", cerr, stream)
	}
}

func TestIntegration_ReadProcessWriteWithinTransaction(t *testing.T) {
	t.Parallel()
	client := mustTestClient(t)
	ctx := context.Background()

	stream := "account-" + uuid.NewString()

	for _, w := range []WriteMessage{
		{ID: uuid.New(), StreamName: stream, Type: "Opened", Data: jsonObj(t, map[string]any{"bal": 1000})},
		{ID: uuid.New(), StreamName: stream, Type: "Dep", Data: jsonObj(t, map[string]any{"amt": 500})},
		{ID: uuid.New(), StreamName: stream, Type: "Wd", Data: jsonObj(t, map[string]any{"amt": 200})},
	} {
		if _, err := client.WriteMessage(ctx, w); err != nil {
			t.Fatalf("seed write %s: %v", w.Type, err)
		}
	}

	tx, err := client.BeginTransaction(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	msgs, err := tx.GetStreamMessages(ctx, stream, StreamReadOptions{})
	if err != nil {
		t.Fatalf("tx read: %v", err)
	}
	balance := 0
	for _, m := range msgs {
		var d struct {
			Bal int `json:"bal"`
			Amt int `json:"amt"`
		}
		if err := json.Unmarshal(m.Data, &d); err != nil {
			t.Fatalf("decode data: %v", err)
		}
		switch m.Type {
		case "Opened":
			balance = d.Bal
		case "Dep":
			balance += d.Amt
		case "Wd":
			balance -= d.Amt
		}
	}
	if balance != 1300 {
		t.Fatalf("computed balance = %d, want 1300", balance)
	}

	version, err := tx.StreamVersion(ctx, stream)
	if err != nil {
		t.Fatalf("tx stream_version: %v", err)
	}
	if version == nil || *version != 2 {
		t.Fatalf("stream_version = %v, want 2", version)
	}

	expected := int64(2)
	if _, err := tx.WriteMessage(ctx, WriteMessage{
		ID:              uuid.New(),
		StreamName:      stream,
		Type:            "Wd",
		Data:            jsonObj(t, map[string]any{"amt": 300}),
		ExpectedVersion: &expected,
	}); err != nil {
		t.Fatalf("tx write: %v", err)
	}

	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	finalMsgs, err := client.GetStreamMessages(ctx, stream, StreamReadOptions{})
	if err != nil {
		t.Fatalf("final read: %v", err)
	}
	if len(finalMsgs) != 4 {
		t.Fatalf("final stream length = %d, want 4", len(finalMsgs))
	}

	finalVersion, err := client.StreamVersion(ctx, stream)
	if err != nil {
		t.Fatalf("final stream_version: %v", err)
	}
	if finalVersion == nil || *finalVersion != 3 {
		t.Fatalf("final stream_version = %v, want 3", finalVersion)
	}
}

func TestIntegration_TransactionDuplicateIDAbort(t *testing.T) {
	t.Parallel()
	client := mustTestClient(t)
	ctx := context.Background()

	stream := "account-" + uuid.NewString()
	id := uuid.New()

	if _, err := client.WriteMessage(ctx, WriteMessage{
		ID:         id,
		StreamName: stream,
		Type:       "Opened",
		Data:       jsonObj(t, map[string]any{"bal": 0}),
	}); err != nil {
		t.Fatalf("seed write: %v", err)
	}

	tx, err := client.BeginTransaction(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	_, err = tx.WriteMessage(ctx, WriteMessage{
		ID:         id,
		StreamName: stream,
		Type:       "Opened",
		Data:       jsonObj(t, map[string]any{"bal": 0}),
	})
	if err == nil {
		t.Fatalf("expected DatabaseError for duplicate id inside transaction")
	}
	if !IsDatabase(err) {
		t.Fatalf("error = %v, want DatabaseError", err)
	}
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "duplicate") && !strings.Contains(msg, "rollback") {
		t.Fatalf("error message = %q, want mention of duplicate/rollback", err.Error())
	}

	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	msgs, err := client.GetStreamMessages(ctx, stream, StreamReadOptions{})
	if err != nil {
		t.Fatalf("read after rollback: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("stream length after rollback = %d, want 1", len(msgs))
	}
}

func asConcurrencyError(err error, target *ConcurrencyError) bool {
	if ce, ok := err.(ConcurrencyError); ok {
		*target = ce
		return true
	}
	return false
}

func TestIntegration_StreamVersionOfUnwrittenStreamIsNil(t *testing.T) {
	t.Parallel()
	client := mustTestClient(t)
	ctx := context.Background()

	version, err := client.StreamVersion(ctx, "account-"+uuid.NewString())
	if err != nil {
		t.Fatalf("stream_version: %v", err)
	}
	if version != nil {
		t.Fatalf("stream_version of unwritten stream = %v, want nil", *version)
	}
}

func TestIntegration_ExpectedVersionMinusOneRequiresEmptyStream(t *testing.T) {
	t.Parallel()
	client := mustTestClient(t)
	ctx := context.Background()

	stream := "account-" + uuid.NewString()
	neg1 := int64(-1)

	if _, err := client.WriteMessage(ctx, WriteMessage{
		ID:              uuid.New(),
		StreamName:      stream,
		Type:            "Opened",
		Data:            jsonObj(t, map[string]any{"bal": 0}),
		ExpectedVersion: &neg1,
	}); err != nil {
		t.Fatalf("first write with expected_version=-1: %v", err)
	}

	_, err := client.WriteMessage(ctx, WriteMessage{
		ID:              uuid.New(),
		StreamName:      stream,
		Type:            "Opened",
		Data:            jsonObj(t, map[string]any{"bal": 0}),
		ExpectedVersion: &neg1,
	})
	if err == nil {
		t.Fatalf("expected ConcurrencyError on second write with expected_version=-1")
	}
	if !IsConcurrency(err) {
		t.Fatalf("error = %v, want ConcurrencyError", err)
	}
}

func TestIntegration_GetStreamMessagesPastEndIsEmpty(t *testing.T) {
	t.Parallel()
	client := mustTestClient(t)
	ctx := context.Background()

	stream := "account-" + uuid.NewString()
	if _, err := client.WriteMessage(ctx, WriteMessage{
		ID:         uuid.New(),
		StreamName: stream,
		Type:       "Opened",
		Data:       jsonObj(t, map[string]any{"bal": 0}),
	}); err != nil {
		t.Fatalf("seed write: %v", err)
	}

	msgs, err := client.GetStreamMessages(ctx, stream, StreamReadOptions{Position: 1000})
	if err != nil {
		t.Fatalf("read past end: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("read past end = %d messages, want 0", len(msgs))
	}
}

func TestIntegration_OperationOnCompletedTransactionFails(t *testing.T) {
	t.Parallel()
	client := mustTestClient(t)
	ctx := context.Background()

	stream := "account-" + uuid.NewString()

	tx, err := client.BeginTransaction(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tx.WriteMessage(ctx, WriteMessage{
		ID:         uuid.New(),
		StreamName: stream,
		Type:       "Opened",
		Data:       jsonObj(t, map[string]any{"bal": 0}),
	}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	_, err = tx.WriteMessage(ctx, WriteMessage{
		ID:         uuid.New(),
		StreamName: stream,
		Type:       "Dep",
		Data:       jsonObj(t, map[string]any{"amt": 100}),
	})
	if err == nil {
		t.Fatalf("WriteMessage after Commit = nil error, want DatabaseError")
	}
	if !IsDatabase(err) {
		t.Fatalf("error = %v, want DatabaseError", err)
	}
	if !strings.Contains(err.Error(), "transaction already completed") {
		t.Fatalf("error = %q, want mention of \"transaction already completed\"", err.Error())
	}

	if _, err := tx.GetStreamMessages(ctx, stream, StreamReadOptions{}); err == nil || !IsDatabase(err) {
		t.Fatalf("GetStreamMessages after Commit = %v, want DatabaseError", err)
	}

	rollbackTx, err := client.BeginTransaction(ctx)
	if err != nil {
		t.Fatalf("begin second tx: %v", err)
	}
	if err := rollbackTx.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if _, err := rollbackTx.StreamVersion(ctx, stream); err == nil || !IsDatabase(err) {
		t.Fatalf("StreamVersion after Rollback = %v, want DatabaseError", err)
	}
}

func TestIntegration_CategoryMessagesOrderedByGlobalPosition(t *testing.T) {
	t.Parallel()
	client := mustTestClient(t)
	ctx := context.Background()

	category := fmt.Sprintf("cat%s", strings.ReplaceAll(uuid.NewString(), "-", ""))
	for i := 0; i < 3; i++ {
		stream := fmt.Sprintf("%s-%d", category, i)
		if _, err := client.WriteMessage(ctx, WriteMessage{
			ID:         uuid.New(),
			StreamName: stream,
			Type:       "E",
			Data:       jsonObj(t, map[string]any{"i": i}),
		}); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	msgs, err := client.GetCategoryMessages(ctx, category, CategoryReadOptions{})
	if err != nil {
		t.Fatalf("read category: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("category length = %d, want 3", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].GlobalPosition <= msgs[i-1].GlobalPosition {
			t.Fatalf("messages not in ascending global_position order at index %d", i)
		}
	}
}
