package ledgerbus

import (
	"testing"
	"time"
)

func TestDecodeBalanceEvent(t *testing.T) {
	t.Parallel()

	t.Run("transfer", func(t *testing.T) {
		evt, err := DecodeBalanceEvent([]byte(`{"from":" alice ","to":"bob","amount":100,"at":"2026-01-02T03:04:05Z"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if evt.From != "alice" || evt.To != "bob" || evt.Amount != 100 {
			t.Fatalf("unexpected event: %+v", evt)
		}
		want := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		if !evt.At.Equal(want) {
			t.Fatalf("expected at=%v, got %v", want, evt.At)
		}
	})

	t.Run("issuance", func(t *testing.T) {
		evt, err := DecodeBalanceEvent([]byte(`{"to":"bob","amount":1}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if evt.From != "" || evt.To != "bob" {
			t.Fatalf("unexpected event: %+v", evt)
		}
		if evt.At.IsZero() {
			t.Fatal("expected missing timestamp to be filled")
		}
	})

	t.Run("no_principals", func(t *testing.T) {
		if _, err := DecodeBalanceEvent([]byte(`{"amount":5}`)); err == nil {
			t.Fatal("expected error for event without principals")
		}
	})

	t.Run("zero_amount", func(t *testing.T) {
		if _, err := DecodeBalanceEvent([]byte(`{"from":"a","to":"b","amount":0}`)); err == nil {
			t.Fatal("expected error for zero amount")
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if _, err := DecodeBalanceEvent([]byte(`{`)); err == nil {
			t.Fatal("expected decode error")
		}
	})
}
