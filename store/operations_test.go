package store

import (
	"strings"
	"testing"
)

func TestIsConcurrencyViolation(t *testing.T) {
	cases := map[string]bool{
		"Wrong expected version: 5 (Stream: account-A)": true,
		"wrong expected version":                        true,
		"stream version mismatch":                       true,
		"expected 5 but got 7":                           true,
		"duplicate key value violates unique constraint": false,
		"connection refused":                             false,
	}
	for msg, want := range cases {
		if got := isConcurrencyViolation(strings.ToLower(msg)); got != want {
			t.Errorf("isConcurrencyViolation(%q) = %v, want %v", msg, got, want)
		}
	}
}

func TestIsDuplicateMessageID(t *testing.T) {
	cases := map[string]bool{
		`duplicate key value violates unique constraint "messages_id"`: true,
		"duplicate key value violates unique constraint \"messages_pkey\"": false,
		"wrong expected version":                                          false,
	}
	for msg, want := range cases {
		if got := isDuplicateMessageID(strings.ToLower(msg)); got != want {
			t.Errorf("isDuplicateMessageID(%q) = %v, want %v", msg, got, want)
		}
	}
}
