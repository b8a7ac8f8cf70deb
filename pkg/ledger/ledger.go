// Package ledger defines the external fungible-token bookkeeping primitive
// the policy core delegates balance mutation to, plus an in-memory reference
// implementation used in development and tests.
package ledger

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrInsufficientFunds = errors.New("insufficient balance")
	ErrHookRejected      = errors.New("movement rejected by hook")
)

// Hook is notified before every balance change. An empty from marks an
// issuance credit, an empty to marks a burn-style debit. A non-nil error
// vetoes the change; this is how the policy core enforces its guards even
// against direct calls into the ledger.
type Hook func(from, to string, amount uint64) error

type Ledger interface {
	Credit(ctx context.Context, principal string, amount uint64) error
	Debit(ctx context.Context, principal string, amount uint64) error
	Move(ctx context.Context, from, to string, amount uint64) error
	BalanceOf(ctx context.Context, principal string) (uint64, error)
}

type InMemory struct {
	mu       sync.Mutex
	balances map[string]uint64
	hook     Hook
}

func NewInMemory() *InMemory {
	return &InMemory{balances: map[string]uint64{}}
}

// SetHook installs the transfer-hook notification. One hook only; the policy
// core owns it.
func (l *InMemory) SetHook(h Hook) {
	l.mu.Lock()
	l.hook = h
	l.mu.Unlock()
}

func (l *InMemory) Credit(ctx context.Context, principal string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.notify("", principal, amount); err != nil {
		return err
	}
	l.balances[principal] += amount
	return nil
}

func (l *InMemory) Debit(ctx context.Context, principal string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.notify(principal, "", amount); err != nil {
		return err
	}
	if l.balances[principal] < amount {
		return ErrInsufficientFunds
	}
	l.balances[principal] -= amount
	return nil
}

func (l *InMemory) Move(ctx context.Context, from, to string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.notify(from, to, amount); err != nil {
		return err
	}
	if l.balances[from] < amount {
		return ErrInsufficientFunds
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	return nil
}

func (l *InMemory) BalanceOf(ctx context.Context, principal string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[principal], nil
}

func (l *InMemory) notify(from, to string, amount uint64) error {
	if l.hook == nil {
		return nil
	}
	if err := l.hook(from, to, amount); err != nil {
		return err
	}
	return nil
}
