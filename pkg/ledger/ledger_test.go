package ledger

import (
	"context"
	"errors"
	"testing"
)

func TestInMemoryCreditDebitMove(t *testing.T) {
	ctx := context.Background()
	l := NewInMemory()

	if err := l.Credit(ctx, "alice", 100); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := l.Move(ctx, "alice", "bob", 40); err != nil {
		t.Fatalf("move: %v", err)
	}
	if err := l.Debit(ctx, "bob", 10); err != nil {
		t.Fatalf("debit: %v", err)
	}

	got, _ := l.BalanceOf(ctx, "alice")
	if got != 60 {
		t.Fatalf("alice: expected 60, got %d", got)
	}
	got, _ = l.BalanceOf(ctx, "bob")
	if got != 30 {
		t.Fatalf("bob: expected 30, got %d", got)
	}
}

func TestInMemoryInsufficient(t *testing.T) {
	ctx := context.Background()
	l := NewInMemory()
	if err := l.Debit(ctx, "alice", 1); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if err := l.Move(ctx, "alice", "bob", 1); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestHookVetoesChange(t *testing.T) {
	ctx := context.Background()
	l := NewInMemory()
	if err := l.Credit(ctx, "alice", 100); err != nil {
		t.Fatalf("credit: %v", err)
	}

	veto := errors.New("blocked")
	var seen [][3]interface{}
	l.SetHook(func(from, to string, amount uint64) error {
		seen = append(seen, [3]interface{}{from, to, amount})
		return veto
	})

	if err := l.Move(ctx, "alice", "bob", 10); !errors.Is(err, veto) {
		t.Fatalf("expected hook veto, got %v", err)
	}
	got, _ := l.BalanceOf(ctx, "alice")
	if got != 100 {
		t.Fatalf("vetoed move must not mutate balances, got %d", got)
	}
	if len(seen) != 1 || seen[0][0] != "alice" || seen[0][1] != "bob" {
		t.Fatalf("expected hook notified once with parties, got %+v", seen)
	}

	if err := l.Credit(ctx, "carol", 5); !errors.Is(err, veto) {
		t.Fatalf("expected hook veto on credit, got %v", err)
	}
	got, _ = l.BalanceOf(ctx, "carol")
	if got != 0 {
		t.Fatalf("vetoed credit must not mutate balances, got %d", got)
	}
}

func TestHookRunsBeforeBalanceCheck(t *testing.T) {
	ctx := context.Background()
	l := NewInMemory()

	veto := errors.New("blocked")
	l.SetHook(func(from, to string, amount uint64) error { return veto })

	// The hook decides first even when the account could never cover the
	// amount; the policy veto must not be masked by ErrInsufficientFunds.
	if err := l.Move(ctx, "alice", "bob", 2_000_000); !errors.Is(err, veto) {
		t.Fatalf("expected hook veto, got %v", err)
	}
	if err := l.Debit(ctx, "alice", 2_000_000); !errors.Is(err, veto) {
		t.Fatalf("expected hook veto on debit, got %v", err)
	}

	l.SetHook(nil)
	if err := l.Move(ctx, "alice", "bob", 2_000_000); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds without hook, got %v", err)
	}
}

func TestHookSeesIssuanceAsEmptyFrom(t *testing.T) {
	ctx := context.Background()
	l := NewInMemory()
	var from, to string
	l.SetHook(func(f, tt string, amount uint64) error {
		from, to = f, tt
		return nil
	})
	if err := l.Credit(ctx, "alice", 1); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if from != "" || to != "alice" {
		t.Fatalf("expected issuance notification, got from=%q to=%q", from, to)
	}
}

func TestCustody(t *testing.T) {
	c := NewInMemoryCustody()
	c.Deposit("USDX", 500)
	if got := c.BalanceOf("USDX"); got != 500 {
		t.Fatalf("expected 500, got %d", got)
	}
	if err := c.Transfer("USDX", "rescuer", 600); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if err := c.Transfer("USDX", "rescuer", 200); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := c.BalanceOf("USDX"); got != 300 {
		t.Fatalf("expected 300 left, got %d", got)
	}
}

func TestCustodyCallbackFailureKeepsHolding(t *testing.T) {
	c := NewInMemoryCustody()
	c.Deposit("USDX", 100)
	boom := errors.New("callback failed")
	c.OnTransfer = func(token, to string, amount uint64) error { return boom }
	if err := c.Transfer("USDX", "rescuer", 50); !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if got := c.BalanceOf("USDX"); got != 100 {
		t.Fatalf("failed transfer must not debit custody, got %d", got)
	}
}
