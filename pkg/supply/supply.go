// Package supply tracks cumulative issuance against a hard cap and gates
// minting to a fixed time window.
package supply

import (
	"errors"
	"time"
)

var (
	ErrMintingNotStarted = errors.New("minting window not started")
	ErrMintingEnded      = errors.New("minting window ended")
	ErrSupplyCapExceeded = errors.New("mint exceeds maximum supply")
	ErrInvalidWindow     = errors.New("window end must be after start")
)

// Window is the immutable minting time gate. Both bounds are inclusive.
type Window struct {
	start time.Time
	end   time.Time
}

func NewWindow(start, end time.Time) (Window, error) {
	if !end.After(start) {
		return Window{}, ErrInvalidWindow
	}
	return Window{start: start, end: end}, nil
}

func (w Window) Start() time.Time { return w.start }

func (w Window) End() time.Time { return w.end }

// Check is a pure predicate; it never mutates anything.
func (w Window) Check(now time.Time) error {
	if now.Before(w.start) {
		return ErrMintingNotStarted
	}
	if now.After(w.end) {
		return ErrMintingEnded
	}
	return nil
}

// Ledger is the monotone issued counter bounded by the maximum supply.
// Check and Record are split so the orchestrator can run every guard before
// any state mutates.
type Ledger struct {
	issued uint64
	max    uint64
}

func NewLedger(maxSupply uint64) *Ledger {
	return &Ledger{max: maxSupply}
}

func (l *Ledger) Issued() uint64 { return l.issued }

func (l *Ledger) Max() uint64 { return l.max }

func (l *Ledger) CheckMint(amount uint64) error {
	if amount > l.max-l.issued {
		return ErrSupplyCapExceeded
	}
	return nil
}

// Record applies an already-checked mint. It is the only mutation path.
func (l *Ledger) Record(amount uint64) {
	l.issued += amount
}
