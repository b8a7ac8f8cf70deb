// Package guard wraps the transfer-path checks: deny-list screening, the
// per-transaction transfer ceiling, and the self-transfer rejection. The same
// check covers both the two-party and the delegated transfer paths.
package guard

import (
	"errors"

	"github.com/maxzysparks/SightCoin/pkg/denylist"
)

var (
	ErrSenderBlacklisted      = errors.New("sender is blacklisted")
	ErrRecipientBlacklisted   = errors.New("recipient is blacklisted")
	ErrTransferLimitExceeded  = errors.New("transfer exceeds per-transaction limit")
	ErrSelfTransferToContract = errors.New("transfer to the system holding account")
)

type Transfer struct {
	Deny *denylist.List
	// PerTx is the transfer ceiling per transaction.
	PerTx uint64
	// Holding is the system's own holding account.
	Holding string
}

func (g Transfer) Check(from, to string, amount uint64) error {
	if g.Deny != nil {
		if g.Deny.Blacklisted(from) {
			return ErrSenderBlacklisted
		}
		if g.Deny.Blacklisted(to) {
			return ErrRecipientBlacklisted
		}
	}
	if amount > g.PerTx {
		return ErrTransferLimitExceeded
	}
	if g.Holding != "" && to == g.Holding {
		return ErrSelfTransferToContract
	}
	return nil
}
