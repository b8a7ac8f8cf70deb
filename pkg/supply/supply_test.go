package supply

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestWindowBounds(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(30 * 24 * time.Hour)
	w, err := NewWindow(start, end)
	if err != nil {
		t.Fatalf("new window: %v", err)
	}

	if err := w.Check(start.Add(-time.Second)); !errors.Is(err, ErrMintingNotStarted) {
		t.Fatalf("expected ErrMintingNotStarted, got %v", err)
	}
	if err := w.Check(start); err != nil {
		t.Fatalf("start boundary: %v", err)
	}
	if err := w.Check(end); err != nil {
		t.Fatalf("end boundary: %v", err)
	}
	if err := w.Check(end.Add(time.Second)); !errors.Is(err, ErrMintingEnded) {
		t.Fatalf("expected ErrMintingEnded, got %v", err)
	}
}

func TestNewWindowRejectsInverted(t *testing.T) {
	at := time.Now().UTC()
	if _, err := NewWindow(at, at); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("expected ErrInvalidWindow for zero span, got %v", err)
	}
	if _, err := NewWindow(at, at.Add(-time.Hour)); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("expected ErrInvalidWindow for inverted span, got %v", err)
	}
}

func TestLedgerCap(t *testing.T) {
	l := NewLedger(1_000)
	if err := l.CheckMint(1_000); err != nil {
		t.Fatalf("full cap mint should pass: %v", err)
	}
	l.Record(600)
	if got := l.Issued(); got != 600 {
		t.Fatalf("expected issued 600, got %d", got)
	}
	if err := l.CheckMint(401); !errors.Is(err, ErrSupplyCapExceeded) {
		t.Fatalf("expected ErrSupplyCapExceeded, got %v", err)
	}
	if got := l.Issued(); got != 600 {
		t.Fatalf("failed check must not mutate issued: got %d", got)
	}
	if err := l.CheckMint(400); err != nil {
		t.Fatalf("exact remainder should pass: %v", err)
	}
}

func TestLedgerCapOverflowSafe(t *testing.T) {
	l := NewLedger(math.MaxUint64)
	l.Record(math.MaxUint64 - 1)
	if err := l.CheckMint(2); !errors.Is(err, ErrSupplyCapExceeded) {
		t.Fatalf("expected ErrSupplyCapExceeded near uint64 max, got %v", err)
	}
	if err := l.CheckMint(1); err != nil {
		t.Fatalf("remaining unit should pass: %v", err)
	}
}
