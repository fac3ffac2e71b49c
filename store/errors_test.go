package store

import (
	"errors"
	"testing"
)

func TestConcurrencyErrorUnwraps(t *testing.T) {
	actual := int64(3)
	err := ConcurrencyError{Stream: "account-A", Expected: 5, Actual: &actual}
	if !errors.Is(err, ErrConcurrency) {
		t.Fatalf("ConcurrencyError does not unwrap to ErrConcurrency")
	}
	if !IsConcurrency(err) {
		t.Fatalf("IsConcurrency(ConcurrencyError) = false")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("Error() returned empty string")
	}
}

func TestIsHelpersDistinguishKinds(t *testing.T) {
	cases := []struct {
		err  error
		want func(error) bool
	}{
		{ValidationError{Msg: "bad uri"}, IsValidation},
		{ConnectionError{Msg: "dial failed"}, nil},
		{NotFoundError{Msg: "no such stream"}, IsNotFound},
		{DatabaseError{Msg: "boom"}, IsDatabase},
		{PoolError{Msg: "exhausted"}, IsPool},
		{TransactionError{Msg: "already completed"}, IsTransaction},
	}

	for _, c := range cases {
		if c.want != nil && !c.want(c.err) {
			t.Fatalf("predicate false for %#v", c.err)
		}
		// ConnectionError has no Is* predicate; check its sentinel directly.
		if c.want != nil {
			continue
		}
		if !errors.Is(c.err, ErrConnection) {
			t.Fatalf("ConnectionError does not unwrap to ErrConnection")
		}
	}
}

func TestKindsAreMutuallyExclusive(t *testing.T) {
	if IsConcurrency(ValidationError{Msg: "x"}) {
		t.Fatalf("ValidationError misclassified as concurrency")
	}
	if IsDatabase(NotFoundError{Msg: "x"}) {
		t.Fatalf("NotFoundError misclassified as database")
	}
}
