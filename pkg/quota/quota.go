// Package quota enforces per-transaction and per-day mint allowances. Day
// rollover is lazy: the consumed counter resets the first time a later day is
// observed for a principal, with no background timer.
package quota

import (
	"errors"
	"time"
)

const DaySeconds = 86400

// DefaultDailyFactor scales the per-transaction limit into the default daily
// cap when governance has not set a per-principal override.
const DefaultDailyFactor = 10

var (
	ErrTxLimitExceeded    = errors.New("mint exceeds per-transaction limit")
	ErrDailyLimitExceeded = errors.New("mint exceeds daily limit")
)

type record struct {
	windowDay int64
	consumed  uint64
}

type Limiter struct {
	perTx     uint64
	overrides map[string]uint64
	records   map[string]*record
}

func NewLimiter(perTx uint64) *Limiter {
	return &Limiter{
		perTx:     perTx,
		overrides: map[string]uint64{},
		records:   map[string]*record{},
	}
}

func (l *Limiter) PerTx() uint64 { return l.perTx }

// DailyCap returns the governance override for the principal, or the default
// of DefaultDailyFactor times the per-transaction limit.
func (l *Limiter) DailyCap(principal string) uint64 {
	if cap, ok := l.overrides[principal]; ok {
		return cap
	}
	return l.perTx * DefaultDailyFactor
}

func (l *Limiter) SetDailyCap(principal string, limit uint64) {
	l.overrides[principal] = limit
}

// Check validates amount against the per-transaction limit and the
// principal's remaining daily allowance. It performs the lazy day rollover
// but never consumes quota; Consume applies the spend after every downstream
// guard has passed.
func (l *Limiter) Check(principal string, amount uint64, now time.Time) error {
	rec := l.roll(principal, now)
	if amount > l.perTx {
		return ErrTxLimitExceeded
	}
	cap := l.DailyCap(principal)
	if amount > cap || rec.consumed > cap-amount {
		return ErrDailyLimitExceeded
	}
	return nil
}

func (l *Limiter) Consume(principal string, amount uint64, now time.Time) {
	rec := l.roll(principal, now)
	rec.consumed += amount
}

// ConsumedToday reports the quota spent in the day containing now.
func (l *Limiter) ConsumedToday(principal string, now time.Time) uint64 {
	rec, ok := l.records[principal]
	if !ok || rec.windowDay != windowDay(now) {
		return 0
	}
	return rec.consumed
}

func (l *Limiter) roll(principal string, now time.Time) *record {
	today := windowDay(now)
	rec, ok := l.records[principal]
	if !ok {
		rec = &record{windowDay: today}
		l.records[principal] = rec
		return rec
	}
	if today > rec.windowDay {
		rec.windowDay = today
		rec.consumed = 0
	}
	return rec
}

func windowDay(now time.Time) int64 {
	return now.Unix() / DaySeconds
}
